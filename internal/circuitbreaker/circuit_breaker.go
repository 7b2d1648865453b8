// Package circuitbreaker guards calls to the remote back-office API.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

// Timeout is how long the breaker stays open before letting a probe through.
// IsFailure decides whether an error returned by a guarded call counts
// against the breaker; nil counts every non-nil error.
type Config struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	MaxRequests   int
	IsFailure     func(error) bool
	OnStateChange func(name string, from State, to State)
	Now           func() time.Time
}

// Metrics is a point-in-time snapshot of a breaker.
type Metrics struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	Rejected        int64     `json:"rejected"`
	StateChanges    int64     `json:"state_changes"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
}

type CircuitBreaker struct {
	name          string
	maxFailures   int
	timeout       time.Duration
	maxRequests   int
	isFailure     func(error) bool
	onStateChange func(name string, from State, to State)
	now           func() time.Time

	mutex        sync.RWMutex
	state        State
	failures     int
	inFlight     int
	lastFailTime time.Time
	metrics      Metrics

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "unnamed"
		logger.Warn("Circuit breaker created without name, using 'unnamed'")
	}
	config.MaxFailures = clamp(logger, config.Name, "MaxFailures", config.MaxFailures, 5, 1000)
	config.MaxRequests = clamp(logger, config.Name, "MaxRequests", config.MaxRequests, 1, 100)
	if config.Timeout <= 0 || config.Timeout > 10*time.Minute {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": config.Name,
			"invalid_value":   config.Timeout,
			"default_value":   "30s",
		}).Warn("Invalid Timeout value, using default")
		config.Timeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		name:          config.Name,
		maxFailures:   config.MaxFailures,
		timeout:       config.Timeout,
		maxRequests:   config.MaxRequests,
		isFailure:     config.IsFailure,
		onStateChange: config.OnStateChange,
		now:           config.Now,
		state:         StateClosed,
		metrics:       Metrics{Name: config.Name},
		logger:        logger,
	}
}

func clamp(logger *logrus.Logger, name, field string, value, def, max int) int {
	switch {
	case value <= 0:
		logger.WithFields(logrus.Fields{
			"circuit_breaker": name,
			"invalid_value":   value,
			"default_value":   def,
		}).Warnf("Invalid %s value, using default", field)
		return def
	case value > max:
		logger.WithFields(logrus.Fields{
			"circuit_breaker": name,
			"invalid_value":   value,
			"max_allowed":     max,
		}).Warnf("%s too high, capping at maximum", field)
		return max
	}
	return value
}

// Execute runs fn unless the breaker is open. Errors that the configured
// classifier does not treat as failures are returned to the caller without
// affecting the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}
	if err != nil && cb.isFailure(err) {
		cb.onFailure()
		cb.metrics.TotalFailures++
		return err
	}
	cb.onSuccess()
	cb.metrics.TotalSuccesses++
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailTime) <= cb.timeout {
			cb.metrics.Rejected++
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"state":           cb.state.String(),
			}).Debug("Circuit breaker is open, rejecting request")
			return ErrOpen
		}
		cb.setState(StateHalfOpen)
		cb.inFlight = 0
	}

	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.maxRequests {
			cb.metrics.Rejected++
			return ErrOpen
		}
		cb.inFlight++
	}

	cb.metrics.TotalRequests++
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.inFlight = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailTime = cb.now()

	if (cb.state == StateClosed && cb.failures >= cb.maxFailures) || cb.state == StateHalfOpen {
		cb.setState(StateOpen)
		cb.inFlight = 0
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.metrics.StateChanges++
	cb.metrics.LastStateChange = cb.now()

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from_state":      oldState.String(),
		"to_state":        newState.String(),
	}).Info("Circuit breaker state changed")

	if cb.onStateChange != nil {
		go cb.notify(oldState, newState)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"from_state":      from.String(),
				"to_state":        to.String(),
				"panic":           r,
			}).Error("Circuit breaker state change callback panicked")
		}
	}()
	cb.onStateChange(cb.name, from, to)
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	m := cb.metrics
	m.State = cb.state.String()
	m.Failures = cb.failures
	m.LastFailure = cb.lastFailTime
	return m
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.inFlight = 0
	cb.lastFailTime = time.Time{}
}

func (cb *CircuitBreaker) String() string {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		cb.name, cb.state.String(), cb.failures, cb.maxFailures)
}
