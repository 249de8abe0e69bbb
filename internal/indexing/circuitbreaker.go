package indexing

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and
// rejecting calls without attempting them.
var ErrCircuitOpen = errors.New("indexing: circuit open")

// CircuitState is one state in the breaker's three-state machine.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a CircuitBreaker's rolling window and
// recovery probing.
type BreakerConfig struct {
	WindowSize       int           // rolling window size
	FailureThreshold float64       // fraction of the window that trips OPEN
	ResetTimeout     time.Duration // OPEN -> HALF-OPEN after this elapses
	ProbeCount       int           // consecutive successful probes to close again
}

// DefaultBreakerConfig guards the embedding backend: five or more
// failures among the last ten calls trips the circuit, and it waits
// thirty seconds before probing again.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:       10,
		FailureThreshold: 0.5,
		ResetTimeout:     30 * time.Second,
		ProbeCount:       3,
	}
}

// BreakerStats is a point-in-time snapshot of breaker metrics.
type BreakerStats struct {
	State            CircuitState
	TotalRequests    int64
	Failures         int64
	Successes        int64
	ConsecutiveFails int64
	FailureRate      float64
}

// CircuitBreaker guards a flaky downstream call (here, an embedding
// backend) so that a stuck or failing dependency cannot block the
// caller indefinitely: once it trips OPEN, calls fail fast until a
// reset timeout elapses, at which point a small number of probe calls
// decide whether to close again or re-open.
type CircuitBreaker struct {
	config BreakerConfig
	state  atomic.Int32

	mu          sync.Mutex
	window      []bool // circular buffer: true = failure
	head        int
	windowCount int
	openedAt    time.Time
	probesSent  int
	probesOK    int

	totalRequests int64
	failures      int64
	successes     int64
	consecutive   int64
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: cfg,
		window: make([]bool, cfg.WindowSize),
	}
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen
// without calling fn when the circuit is OPEN and the reset timeout
// has not yet elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch CircuitState(cb.state.Load()) {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.ResetTimeout {
			return false
		}
		cb.state.Store(int32(StateHalfOpen))
		cb.probesSent = 0
		cb.probesOK = 0
		return true
	case StateHalfOpen:
		return cb.probesSent < cb.config.ProbeCount
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	if success {
		cb.successes++
		cb.consecutive = 0
	} else {
		cb.failures++
		cb.consecutive++
	}

	switch CircuitState(cb.state.Load()) {
	case StateHalfOpen:
		cb.probesSent++
		if success {
			cb.probesOK++
		}
		if !success {
			cb.trip()
			return
		}
		if cb.probesOK >= cb.config.ProbeCount {
			cb.close()
		}
		return
	default:
		cb.pushWindow(!success)
		if cb.windowFailureRate() >= cb.config.FailureThreshold && cb.windowCount >= cb.config.WindowSize {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) pushWindow(failed bool) {
	cb.window[cb.head] = failed
	cb.head = (cb.head + 1) % len(cb.window)
	if cb.windowCount < len(cb.window) {
		cb.windowCount++
	}
}

func (cb *CircuitBreaker) windowFailureRate() float64 {
	if cb.windowCount == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < cb.windowCount; i++ {
		if cb.window[i] {
			failed++
		}
	}
	return float64(failed) / float64(cb.windowCount)
}

func (cb *CircuitBreaker) trip() {
	cb.state.Store(int32(StateOpen))
	cb.openedAt = time.Now()
	cb.windowCount = 0
	cb.head = 0
}

func (cb *CircuitBreaker) close() {
	cb.state.Store(int32(StateClosed))
	cb.windowCount = 0
	cb.head = 0
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Stats returns a snapshot of breaker metrics.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		State:            cb.State(),
		TotalRequests:    cb.totalRequests,
		Failures:         cb.failures,
		Successes:        cb.successes,
		ConsecutiveFails: cb.consecutive,
		FailureRate:      cb.windowFailureRate(),
	}
}
