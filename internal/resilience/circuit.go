package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpenCircuit is returned when the breaker refuses an outbound call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes when a breaker trips and how long it stays open.
type BreakerConfig struct {
	// Target labels metrics and logs, e.g. "razorpay" or "edge_forward".
	Target       string
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Breaker trips open once the failure ratio over the last 2*MinRequests
// outcomes reaches FailureRatio. After OpenFor a single probe is let through; its outcome
// closes or re-opens the circuit. A nil *Breaker allows everything.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	window   []bool // true marks a failure
	next     int
	filled   int
	failures int
	openedAt time.Time
}

// NewBreaker applies defaults and publishes the initial closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.FailureRatio > 1 {
		cfg.FailureRatio = 1
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &Breaker{cfg: cfg, state: Closed, window: make([]bool, cfg.MinRequests*2)}
	BreakerState.WithLabelValues(cfg.Target).Set(0)
	return b
}

// State reports the current position.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		return true
	case HalfOpen:
		// one probe in flight at a time
		return false
	default:
		return true
	}
}

// Report feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.recordLocked(!success)
	if b.filled < b.cfg.MinRequests {
		return
	}
	if float64(b.failures)/float64(b.filled) >= b.cfg.FailureRatio {
		b.moveLocked(ctx, Open)
	}
}

// recordLocked pushes one outcome into the ring, evicting the oldest once full.
func (b *Breaker) recordLocked(failed bool) {
	if b.filled == len(b.window) {
		if b.window[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.window[b.next] = failed
	if failed {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.window)
}

func (b *Breaker) resetLocked() {
	clear(b.window)
	b.next, b.filled, b.failures = 0, 0, 0
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.resetLocked()
	if next == Open {
		b.openedAt = b.cfg.Now()
	}

	BreakerState.WithLabelValues(b.cfg.Target).Set(float64(next))
	BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()

	logger := b.cfg.Logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	logger.Info().
		Str("target", b.cfg.Target).
		Str("from_state", prev.String()).
		Str("to_state", next.String()).
		Msg("breaker_transition")
}
