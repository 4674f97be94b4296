package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/go-recommend/clock"
	"github.com/cockroachdb/errors"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive retryable failures that opens the circuit
	MaxFailures int

	// Timeout is how long to wait before transitioning from Open to Half-Open
	Timeout time.Duration

	// MaxConcurrentRequests is the max requests allowed in Half-Open state
	MaxConcurrentRequests int

	// SuccessThreshold is the number of consecutive successes needed in Half-Open to go to Closed
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      2,
	}
}

// CircuitBreaker stops calling an upstream that keeps failing. Only
// retryable failures count; a permanent failure means the request was bad,
// not that the upstream is unhealthy.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	clock  clock.Clock

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	successes   int
	inFlight    int
	generation  uint64
	openedAt    time.Time
	rejected    uint64
	transitions uint64
}

// NewCircuitBreaker creates a new circuit breaker. A nil clock uses the wall clock.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.Real
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{name: name, config: config, clock: clk}
}

// admission records the state a call was let through in. generation changes
// on every state transition, so a call that outlives its state is ignored.
type admission struct {
	generation uint64
	halfOpen   bool
}

// Execute runs fn unless the circuit is open. A rejected call returns a
// KindTransient failure wrapping ErrCircuitBreakerOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	adm, err := cb.beforeRequest()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.afterRequest(adm, err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() (admission, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.clock.Now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.setState(StateHalfOpen)
	}
	switch cb.state {
	case StateClosed:
		return admission{generation: cb.generation}, nil
	case StateHalfOpen:
		if cb.inFlight >= cb.config.MaxConcurrentRequests {
			break
		}
		cb.inFlight++
		return admission{generation: cb.generation, halfOpen: true}, nil
	}
	cb.rejected++
	return admission{}, Transient(errors.Wrapf(ErrCircuitBreakerOpen, "%s", cb.name))
}

func (cb *CircuitBreaker) afterRequest(adm admission, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if adm.generation != cb.generation {
		return
	}
	if adm.halfOpen {
		cb.inFlight--
	}
	if err != nil && Classify(err).Retryable() {
		cb.failures++
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.MaxFailures {
				cb.setState(StateOpen)
			}
		case StateHalfOpen:
			cb.setState(StateOpen)
		}
		return
	}
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// setState moves to s and resets the counters. Caller holds mu.
func (cb *CircuitBreaker) setState(s CircuitBreakerState) {
	if cb.state != s {
		cb.transitions++
		cb.generation++
	}
	cb.state = s
	cb.successes = 0
	switch s {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
	case StateClosed:
		cb.failures = 0
		cb.inFlight = 0
	case StateHalfOpen:
		cb.inFlight = 0
	}
}

// State returns the current state, moving Open to Half-Open if the timeout has passed.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.clock.Now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.setState(StateHalfOpen)
	}
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
}

// CircuitBreakerStats is a snapshot of a breaker.
type CircuitBreakerStats struct {
	Name        string `json:"name" yaml:"name"`
	State       string `json:"state" yaml:"state"`
	Failures    int    `json:"failures" yaml:"failures"`
	Successes   int    `json:"successes" yaml:"successes"`
	Rejected    uint64 `json:"rejected" yaml:"rejected"`
	Transitions uint64 `json:"transitions" yaml:"transitions"`
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		Name:        cb.name,
		State:       state.String(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		Rejected:    cb.rejected,
		Transitions: cb.transitions,
	}
}
