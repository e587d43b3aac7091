package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/metrics"
)

// BreakerState is the circuit state of one outbound service.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen is returned without calling the service while its circuit is open.
var ErrBreakerOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a service's circuit opens and recovers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures that
	// open the circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit rejects calls before letting
	// a probe through.
	ResetTimeout time.Duration
	// ProbeSuccesses is the number of successful probes that close a
	// half-open circuit.
	ProbeSuccesses int
	// ShouldTrip decides which errors count as failures. Defaults to
	// IsTransient, so a 404 website or an unknown handle never opens the
	// circuit for every other lead.
	ShouldTrip func(err error) bool
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultBreakerConfig opens after 5 transient failures and probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		ProbeSuccesses:   1,
	}
}

// BreakerFromSettings builds a BreakerConfig from config values, keeping the
// defaults for zero values.
func BreakerFromSettings(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.ProbeSuccesses <= 0 {
		c.ProbeSuccesses = d.ProbeSuccesses
	}
	if c.ShouldTrip == nil {
		c.ShouldTrip = IsTransient
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker guards calls to a single outbound service.
type Breaker struct {
	service string
	cfg     BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
}

// NewBreaker creates a closed breaker for service.
func NewBreaker(service string, cfg BreakerConfig) *Breaker {
	b := &Breaker{service: service, cfg: cfg.withDefaults()}
	metrics.BreakerState.WithLabelValues(service).Set(float64(BreakerClosed))
	return b
}

// State returns the current state. An open circuit whose reset timeout has
// passed reports half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Failures returns the current run of consecutive tripping failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Call runs fn unless the breaker is open, and records its outcome.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return nil
	}
	if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
		return eris.Wrapf(ErrBreakerOpen, "resilience: %s", b.service)
	}
	b.moveTo(BreakerHalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.ShouldTrip(err) {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.probes++
			if b.probes >= b.cfg.ProbeSuccesses {
				b.moveTo(BreakerClosed)
			}
		}
		return
	}

	b.failures++
	switch {
	case b.state == BreakerHalfOpen:
		b.open()
	case b.state == BreakerClosed && b.failures >= b.cfg.FailureThreshold:
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.cfg.Now()
	b.moveTo(BreakerOpen)
}

func (b *Breaker) moveTo(to BreakerState) {
	from := b.state
	b.state = to
	b.probes = 0
	if from == to {
		return
	}
	metrics.BreakerState.WithLabelValues(b.service).Set(float64(to))
	zap.L().Info("resilience: circuit state changed",
		zap.String("service", b.service),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("consecutive_failures", b.failures),
	)
}

// Breakers holds one breaker per outbound service, created on first use.
type Breakers struct {
	cfg BreakerConfig

	mu    sync.Mutex
	byKey map[string]*Breaker
}

// NewBreakers creates an empty registry whose breakers share cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, byKey: make(map[string]*Breaker)}
}

// For returns the breaker for service.
func (r *Breakers) For(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byKey[service]
	if !ok {
		b = NewBreaker(service, r.cfg)
		r.byKey[service] = b
	}
	return b
}

// States returns a snapshot of every known service's state.
func (r *Breakers) States() map[string]BreakerState {
	r.mu.Lock()
	services := make(map[string]*Breaker, len(r.byKey))
	for k, b := range r.byKey {
		services[k] = b
	}
	r.mu.Unlock()

	out := make(map[string]BreakerState, len(services))
	for k, b := range services {
		out[k] = b.State()
	}
	return out
}
