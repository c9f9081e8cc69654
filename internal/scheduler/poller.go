// Package scheduler drives periodic polling cycles.
//
// A Poller runs one action at a fixed interval with single-flight semantics:
// the next tick is armed only after the current invocation returns, so two
// invocations never overlap and drift accumulates instead. Starting is
// idempotent; a second Start replaces the first. Stop cancels the pending
// tick and the context of an in-flight invocation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/filecoin-project/go-clock"

	"github.com/signalsfoundry/skywatch/internal/logging"
)

// ErrInvalidInterval is returned by Start for a non-positive interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Action is one polling cycle. Its context is cancelled by Stop.
type Action func(ctx context.Context) error

// Task is a stoppable periodic job.
type Task interface {
	Start(action Action, interval time.Duration) error
	Stop()
	Running() bool
}

// CycleResult describes one finished invocation.
type CycleResult struct {
	Task     string
	Seq      uint64
	Duration time.Duration
	Err      error
	// Rearmed is false when Stop or Start ran during the invocation.
	Rearmed bool
}

// CycleRecorder observes finished invocations.
type CycleRecorder interface {
	ObserveCycle(task string, d time.Duration, err error)
}

// Poller implements Task on top of a clock.Clock.
type Poller struct {
	name    string
	clock   clock.Clock
	logger  logging.Logger
	metrics CycleRecorder
	onCycle func(CycleResult)

	mu      sync.Mutex
	gen     uint64
	seq     uint64
	timer   *clock.Timer
	cancel  context.CancelFunc
	running bool
}

// Option customises a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger for cycle failures.
func WithLogger(l logging.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithMetrics reports every invocation to rec.
func WithMetrics(rec CycleRecorder) Option {
	return func(p *Poller) { p.metrics = rec }
}

// WithCycleHook calls fn after every invocation, once the next tick (if
// any) has been armed.
func WithCycleHook(fn func(CycleResult)) Option {
	return func(p *Poller) { p.onCycle = fn }
}

// New constructs a stopped Poller named name.
func New(name string, opts ...Option) *Poller {
	p := &Poller{
		name:   name,
		clock:  clock.New(),
		logger: logging.Noop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the task name used in logs and metrics.
func (p *Poller) Name() string { return p.name }

// Start schedules action every interval, replacing any previous schedule.
// The first invocation happens one interval from now; callers wanting an
// immediate cycle run it themselves before calling Start.
func (p *Poller) Start(action Action, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	if action == nil {
		return errors.New("scheduler: nil action")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.running = true
	p.armLocked(p.gen, action, interval)
	return nil
}

// Stop cancels the pending tick and any in-flight invocation's context. It
// is safe to call repeatedly and on a stopped Poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether a schedule is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) stopLocked() {
	p.gen++
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) armLocked(gen uint64, action Action, interval time.Duration) {
	p.timer = p.clock.AfterFunc(interval, func() {
		p.fire(gen, action, interval)
	})
}

func (p *Poller) fire(gen uint64, action Action, interval time.Duration) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.seq++
	seq := p.seq
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	ctx, log := logging.WithCycleLogger(ctx, p.logger.With(logging.String("task", p.name)))
	start := p.clock.Now()
	err := p.invoke(ctx, action)
	elapsed := p.clock.Since(start)
	cancel()

	if err != nil {
		log.Warn(ctx, "polling cycle failed", logging.Err(err), logging.Duration("duration", elapsed))
	} else {
		log.Debug(ctx, "polling cycle finished", logging.Duration("duration", elapsed))
	}
	if p.metrics != nil {
		p.metrics.ObserveCycle(p.name, elapsed, err)
	}

	p.mu.Lock()
	rearmed := gen == p.gen
	if rearmed {
		p.cancel = nil
		p.armLocked(gen, action, interval)
	}
	p.mu.Unlock()

	if p.onCycle != nil {
		p.onCycle(CycleResult{Task: p.name, Seq: seq, Duration: elapsed, Err: err, Rearmed: rearmed})
	}
}

// invoke runs action, converting a panic into an error so the schedule
// survives.
func (p *Poller) invoke(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: %s action panicked: %v", p.name, r)
		}
	}()
	return action(ctx)
}
