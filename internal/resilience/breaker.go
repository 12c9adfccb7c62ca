package resilience

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// BreakerConfig configures an HTTP circuit breaker.
type BreakerConfig struct {
	Name string
	// The breaker opens once FailureThreshold of the last MinRequests calls failed.
	FailureThreshold uint
	MinRequests      uint
	// Delay is how long the breaker stays open before allowing a probe.
	Delay time.Duration
}

// DefaultBreakerConfig opens after 5 failures in 10 calls and probes after 30s.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		MinRequests:      10,
		Delay:            30 * time.Second,
	}
}

// HTTPBreaker guards outbound HTTP calls to one dependency. Transport errors
// and 5xx/429 responses count as failures.
type HTTPBreaker struct {
	name string
	cb   circuitbreaker.CircuitBreaker[*http.Response]
}

func NewHTTPBreaker(cfg BreakerConfig, logger *slog.Logger) *HTTPBreaker {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.FailureThreshold == 0 || cfg.FailureThreshold > cfg.MinRequests {
		cfg.FailureThreshold = cfg.MinRequests / 2
	}
	if cfg.Delay == 0 {
		cfg.Delay = 30 * time.Second
	}

	builder := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
		}).
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.MinRequests).
		WithDelay(cfg.Delay).
		WithSuccessThreshold(1)

	if logger != nil {
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("circuit breaker state change",
				"circuit_breaker", cfg.Name,
				"from_state", stateName(event.OldState),
				"to_state", stateName(event.NewState),
			)
		})
	}

	return &HTTPBreaker{name: cfg.Name, cb: builder.Build()}
}

// Do sends req through the breaker. When the breaker is open the request is
// not sent and circuitbreaker.ErrOpen is returned. A response is only returned
// together with a nil error.
func (b *HTTPBreaker) Do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := failsafe.With[*http.Response](b.cb).WithContext(ctx).Get(func() (*http.Response, error) {
		return client.Do(req.WithContext(ctx))
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

// IsOpen reports whether calls are currently being rejected.
func (b *HTTPBreaker) IsOpen() bool {
	return b.cb.IsOpen()
}

func (b *HTTPBreaker) Name() string {
	return b.name
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}
