package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/felixgeelhaar/gatekeeper/internal/log"
)

// BreakerSettings tunes the circuit breaker around the network primitive.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns conservative defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

var errServerFailure = errors.New("server error")

// BreakerDoer wraps a Doer in a circuit breaker. Transport failures and 5xx
// responses count as failures; an open breaker fails fast with an error the
// client reports as a NetworkError. It never retries.
type BreakerDoer struct {
	next Doer
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerDoer wraps next.
func NewBreakerDoer(next Doer, settings BreakerSettings, logger *log.Logger) *BreakerDoer {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	threshold := settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-api",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerDoer{next: next, cb: cb}
}

// State exposes the breaker state.
func (b *BreakerDoer) State() gobreaker.State {
	return b.cb.State()
}

// Do implements Doer.
func (b *BreakerDoer) Do(req *http.Request) (*http.Response, error) {
	var passed *http.Response
	_, err := b.cb.Execute(func() (interface{}, error) {
		resp, err := b.next.Do(req)
		if err != nil {
			return nil, err
		}
		passed = resp
		if resp.StatusCode >= 500 {
			return resp, errServerFailure
		}
		return resp, nil
	})
	if passed != nil {
		// 5xx responses still reach the caller for classification.
		return passed, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("circuit breaker %s: %w", b.cb.Name(), err)
	}
	return nil, err
}
