package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a CircuitBreaker.
type Config struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration // how long the breaker stays open
	// HalfOpenMaxCalls successes close the circuit again.
	HalfOpenMaxCalls uint32
	// IsFailure decides which errors count toward tripping. Nil counts all.
	IsFailure func(error) bool
	// OnStateChange is called with the lock released.
	OnStateChange func(name string, from, to State)
	Logger        *logrus.Logger
}

// CircuitBreaker guards calls to the chat daemon so a dead daemon fails fast.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      uint32
	openedAt      time.Time
	halfOpenCalls uint32
	successes     uint32
	requests      uint64
}

func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	from := cb.state
	cb.requests++

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
			cb.mu.Unlock()
			return &CircuitBreakerError{Name: cb.cfg.Name, State: StateOpen}
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 1
		cb.successes = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			cb.mu.Unlock()
			return &CircuitBreakerError{Name: cb.cfg.Name, State: StateHalfOpen}
		}
		cb.halfOpenCalls++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))

	cb.mu.Lock()
	from := cb.state
	switch {
	case failed && cb.state == StateHalfOpen:
		cb.trip()
	case failed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case cb.state == StateHalfOpen:
		cb.successes++
		cb.halfOpenCalls--
		if cb.successes >= cb.cfg.HalfOpenMaxCalls {
			cb.reset()
		}
	default:
		cb.failures = 0
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from == to {
		return
	}
	entry := cb.cfg.Logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"state":           to.String(),
	})
	if to == StateOpen {
		entry.WithField("failures", failures).Warn("Circuit breaker opened due to failures")
	} else if to == StateClosed {
		entry.Info("Circuit breaker closed after successful recovery")
	}
	cb.notify(from, to)
}

// trip and reset expect cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenCalls = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCalls = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:     cb.cfg.Name,
		State:    cb.state,
		Failures: cb.failures,
		Requests: cb.requests,
		OpenedAt: cb.openedAt,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name     string
	State    State
	Failures uint32
	Requests uint64
	OpenedAt time.Time
}

// CircuitBreakerError is returned when a call is refused.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
