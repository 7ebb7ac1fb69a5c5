package breaker

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// State represents the breaker's position in the retry cycle.
type State string

const (
	Idle        State = "IDLE"
	InFlight    State = "IN_FLIGHT"
	CoolingDown State = "COOLING_DOWN"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:        {InFlight},
	InFlight:    {Idle, CoolingDown},
	CoolingDown: {Idle},
}

var (
	// ErrInFlight is returned when an attempt is already outstanding.
	ErrInFlight = errors.New("operation already in flight")
	// ErrCoolingDown is returned after repeated failures until the cooldown
	// deadline passes or Reset is called.
	ErrCoolingDown = errors.New("too many failures, cooling down")
)

// Breaker bounds rapid retries of an interactive operation. One attempt may
// be outstanding at a time; after maxFailures consecutive failures the
// breaker cools down and refuses attempts until the deadline or an explicit
// Reset.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	until       time.Time
	now         func() time.Time
}

// New creates a breaker allowing maxFailures consecutive failures before
// cooling down for the given duration.
func New(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Breaker{
		state:       Idle,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Attempt gates the start of an operation. It returns nil and moves to
// InFlight when allowed, ErrInFlight when one is outstanding, and
// ErrCoolingDown while the breaker is open.
func (b *Breaker) Attempt() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CoolingDown {
		if b.now().Before(b.until) {
			return ErrCoolingDown
		}
		b.mustTransition(Idle)
		b.failures = 0
	}
	if b.state == InFlight {
		return ErrInFlight
	}
	b.mustTransition(InFlight)
	return nil
}

// Succeed records a successful completion and closes the cycle.
func (b *Breaker) Succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == InFlight {
		b.mustTransition(Idle)
	}
	b.failures = 0
}

// Fail records a failed completion. After maxFailures consecutive failures
// the breaker cools down.
func (b *Breaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != InFlight {
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.until = b.now().Add(b.cooldown)
		b.mustTransition(CoolingDown)
		return
	}
	b.mustTransition(Idle)
}

// Reset clears failure history and reopens the breaker. Meant for explicit
// user action after exhaustion.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Idle
	b.failures = 0
	b.until = time.Time{}
}

// State returns the current state, resolving an expired cooldown to Idle.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CoolingDown && !b.now().Before(b.until) {
		return Idle
	}
	return b.state
}

func (b *Breaker) mustTransition(to State) {
	if !slices.Contains(validTransitions[b.state], to) {
		panic(fmt.Sprintf("invalid breaker transition from %s to %s", b.state, to))
	}
	b.state = to
}
