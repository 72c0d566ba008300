package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while the breaker rejects requests to let a
// failing embedding backend recover.
var ErrCircuitOpen = errors.New("embedding circuit breaker is open")

// ResilientConfig tunes the breaker and rate limiter around an embedder.
type ResilientConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 3.
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before allowing test
	// requests. Default: 30 seconds.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes in
	// half-open state required to close the circuit. Default: 2.
	HalfOpenMaxSuccesses uint32

	// RequestsPerSecond caps the embedding call rate. Zero disables
	// limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 1 when limiting is on.
	Burst int

	// CallTimeout bounds a single Embed call. Zero means the caller's
	// context deadline is the only bound.
	CallTimeout time.Duration
}

func (c *ResilientConfig) applyDefaults() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxSuccesses == 0 {
		c.HalfOpenMaxSuccesses = 2
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		c.Burst = 1
	}
}

// Resilient decorates an Embedder with a circuit breaker and a rate
// limiter. The breaker protects the dialogue path from a failing embedding
// backend; the limiter keeps background consolidation from saturating it.
type Resilient struct {
	inner   Embedder
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// NewResilient wraps the embedder with the given resilience settings.
func NewResilient(inner Embedder, cfg ResilientConfig) *Resilient {
	cfg.applyDefaults()

	r := &Resilient{inner: inner, timeout: cfg.CallTimeout}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbedderCircuitBreaker",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	})

	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return r
}

// Embed runs the wrapped embedder through the limiter and breaker.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrEmbedding, err)
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	return result.([]float32), nil
}

// Dimensions returns the wrapped embedder's dimensionality.
func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }
