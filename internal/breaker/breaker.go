package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/subramanya1997/agentic-trust-platform/internal/common"
	"github.com/subramanya1997/agentic-trust-platform/internal/metrics"
)

// State is the externally visible state of a single circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Default thresholds. Five consecutive transient failures open the circuit;
// after thirty seconds a single probe call is allowed through.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// Options configures breakers created by a Registry. Zero values fall back
// to the defaults above.
type Options struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// Registry owns one circuit breaker per named external dependency. Breakers
// are created lazily on first use and live for the process lifetime. All
// methods are safe for concurrent use.
//
// Only transient errors (common.IsTransient: network, timeout, 5xx-equivalent)
// count toward the failure threshold. Permanent errors (not-found, validation,
// forbidden) pass through to the caller without affecting breaker state.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	opts     Options
	logger   *zap.Logger
}

// NewRegistry constructs a Registry with the given options.
func NewRegistry(opts Options, logger *zap.Logger) *Registry {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		opts:     opts,
		logger:   logger,
	}
}

// breakerFor 懒加载指定依赖的熔断器。
func (r *Registry) breakerFor(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.opts.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // HALF_OPEN 状态只放行一个探测请求
		Timeout:     r.opts.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// 永久性错误（4xx 等）不计入失败阈值
			return err == nil || !common.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateGaugeValue(to))
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}
			r.logger.Warn("circuit breaker state change",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	r.breakers[name] = cb
	return cb
}

// Wrap executes fn under the breaker for the named dependency. While the
// circuit is OPEN the call fails immediately with a circuit_open error
// without invoking fn.
func (r *Registry) Wrap(name string, fn func() error) error {
	_, err := r.breakerFor(name).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return r.translate(name, err)
}

// Do is the result-carrying variant of Wrap.
func Do[T any](r *Registry, name string, fn func() (T, error)) (T, error) {
	result, err := r.breakerFor(name).Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, r.translate(name, err)
	}
	return result.(T), nil
}

// translate 将 gobreaker 的拒绝错误转换为统一的 circuit_open 错误，
// 业务错误原样返回。
func (r *Registry) translate(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return common.WrapError(common.KindCircuitOpen, "dependency "+name+" temporarily unavailable", err).
			WithDetail("dependency", name).
			WithDetail("retry_after_seconds", int(r.opts.RecoveryTimeout.Seconds()))
	}
	return err
}

// State reports the current state of the named dependency's breaker. A
// dependency that has never been called reports CLOSED.
func (r *Registry) State(name string) State {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}
	switch cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Dependencies returns the names of all breakers created so far.
func (r *Registry) Dependencies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

func stateGaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
