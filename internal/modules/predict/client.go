// README: HTTP client for the external demand predictor, with per-call
// timeout and a circuit breaker.
package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/cheez95/luckygas/internal/types"
)

var ErrPredictorUnavailable = errors.New("predictor unavailable")

// Client is the slice of the external predictor the core consumes.
type Client interface {
	Predict(ctx context.Context, customers []types.ID, date string) ([]Prediction, error)
}

type HTTPClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "predictor",
			Interval: 30 * time.Second,
			Timeout:  60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type predictRequest struct {
	Customers []string `json:"customers"`
	Date      string   `json:"target_date"`
}

type predictResponse struct {
	Predictions []Prediction `json:"predictions"`
}

func (c *HTTPClient) Predict(ctx context.Context, customers []types.ID, date string) ([]Prediction, error) {
	ids := make([]string, len(customers))
	for i, id := range customers {
		ids[i] = string(id)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		var body predictResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(predictRequest{Customers: ids, Date: date}).
			SetResult(&body).
			Post("/predict")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("predictor status %d", resp.StatusCode())
		}
		return body.Predictions, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPredictorUnavailable, err)
	}
	return out.([]Prediction), nil
}
