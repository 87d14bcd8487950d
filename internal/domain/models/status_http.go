package models

// Requests for the status/observability HTTP endpoints. Defined in domain for
// consistency and reuse.

type LatencyRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Stage  string `query:"stage" json:"stage" default:"pipeline_total"`
}

type HealthRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type TransitionsRequest struct {
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
	Since string `query:"since" json:"since"` // RFC3339 or unix seconds
}

type PredictionRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}
