// Package inference is the HTTP client for the external model service. The
// pipeline treats the model as opaque: it decides when to call and with what
// vector, the service decides what the number means.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	xhttp "BarPulse/pkg/http"
)

// Client posts feature vectors to the model service.
type Client struct {
	baseURL      string
	client       *xhttp.Client
	contractHash uint64
}

var _ domrepo.Inferencer = (*Client)(nil)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout bounds each request. The per-call context deadline set by the
// pipeline still applies; whichever fires first wins.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.client = xhttp.NewClient(xhttp.WithTimeout(d))
		}
	}
}

// WithContractHash pins the expected feature contract. Zero disables the
// pre-flight check.
func WithContractHash(h uint64) ClientOption {
	return func(c *Client) { c.contractHash = h }
}

// NewClient creates a model-service client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(3 * time.Second)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type inferResponse struct {
	Value      float32 `json:"value"`
	Confidence float32 `json:"confidence"`
	Model      string  `json:"model"`
}

// Infer posts one vector to /v1/infer. A vector whose contract hash does not
// match the pinned contract is refused locally; the model service never sees
// mismatched column orders.
func (c *Client) Infer(ctx context.Context, fv *models.FeatureVector) (*models.Prediction, error) {
	if c.contractHash != 0 && fv.ContractHash != c.contractHash {
		return nil, fmt.Errorf("vector hash %x, pinned %x: %w",
			fv.ContractHash, c.contractHash, models.ErrContractMismatch)
	}

	var resp inferResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.baseURL + "/v1/infer",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: fv,
	}, &resp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("infer %s: %w", fv.Symbol, models.ErrInferenceTimeout)
		}
		return nil, fmt.Errorf("infer %s: %w", fv.Symbol, err)
	}

	return &models.Prediction{
		Symbol:       fv.Symbol,
		Timestamp:    fv.Timestamp,
		Value:        resp.Value,
		Confidence:   resp.Confidence,
		Model:        resp.Model,
		ContractHash: fv.ContractHash,
	}, nil
}
