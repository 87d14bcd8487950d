package repository

import (
	"context"

	"BarPulse/internal/domain/models"
)

// BarStream is the upstream bar collector (WebSocket or similar).
type BarStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Bar, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Inferencer is the opaque model-inference collaborator. The core only
// decides when to call it and with what inputs.
type Inferencer interface {
	Infer(ctx context.Context, fv *models.FeatureVector) (*models.Prediction, error)
}

// PredictionPublisher pushes finished predictions downstream.
type PredictionPublisher interface {
	Publish(ctx context.Context, p *models.Prediction) error
	Close() error
}

// PredictionCache keeps the last good prediction per symbol so the
// emergency path can serve something when inference is unavailable.
type PredictionCache interface {
	Put(ctx context.Context, p *models.Prediction) error
	Latest(ctx context.Context, symbol string) (*models.Prediction, error)
}

// SnapshotStore persists ring cursors and latency/transition logs,
// fire-and-forget from the pipeline's perspective.
type SnapshotStore interface {
	Init(ctx context.Context) error
	StoreRingSnapshots(ctx context.Context, rows []models.RingSnapshotRow) error
	StoreLatencies(ctx context.Context, rows []models.LatencyRow) error
	StoreTransitions(ctx context.Context, rows []models.TransitionRow) error
	Health(ctx context.Context) error
	Close() error
}

// Metrics records pipeline observability counters and timings.
type Metrics interface {
	RecordPath(symbol, path string)
	RecordError(kind string)
	RecordWrap(timeframe string)
	RecordStageLatency(stage string, seconds float64)
	RecordPrediction(symbol string, value float64)
	RecordSLOBreach(stage string)
}
