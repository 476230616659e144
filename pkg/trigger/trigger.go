package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"seat_reservation/pkg/circuitbreaker"
	"seat_reservation/pkg/reconciler"

	"go.uber.org/zap"
)

// DefaultInterval is the reconciliation cadence.
const DefaultInterval = 5 * time.Minute

var (
	ErrTickInProgress = errors.New("reconciliation tick already in progress")
	ErrAlreadyStarted = errors.New("trigger already started")
	ErrLocked         = errors.New("reconciliation lock is held by another instance")
)

type Runner interface {
	Run(ctx context.Context, now time.Time) (reconciler.Result, error)
}

// Locker serialises ticks across processes.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func newStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }

type Option func(*Trigger)

func WithClock(now func() time.Time) Option {
	return func(t *Trigger) { t.now = now }
}

func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(t *Trigger) { t.newTicker = newTicker }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(t *Trigger) { t.breaker = cb }
}

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(t *Trigger) {
		t.locker = l
		t.lockTTL = ttl
	}
}

// WithImmediateRun makes Start run one tick right away instead of waiting a full interval.
func WithImmediateRun() Option {
	return func(t *Trigger) { t.runOnStart = true }
}

// Trigger invokes the reconciler on a fixed cadence. At most one tick runs at a time;
// a tick that finds another in flight is skipped.
type Trigger struct {
	runner     Runner
	interval   time.Duration
	log        *zap.Logger
	now        func() time.Time
	newTicker  func(time.Duration) Ticker
	breaker    *circuitbreaker.CircuitBreaker
	locker     Locker
	lockTTL    time.Duration
	runOnStart bool

	running atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func New(runner Runner, interval time.Duration, log *zap.Logger, opts ...Option) *Trigger {
	t := &Trigger{
		runner:    runner,
		interval:  interval,
		log:       log,
		now:       time.Now,
		newTicker: newStdTicker,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start запускает цикл в отдельной горутине. Контекст передаётся в каждый тик.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopCh != nil {
		return ErrAlreadyStarted
	}
	if t.interval <= 0 {
		t.log.Error("reconciliation trigger not started", zap.Duration("interval", t.interval))
		return fmt.Errorf("invalid reconciliation interval %s", t.interval)
	}

	t.stopCh = make(chan struct{})
	t.done = make(chan struct{})

	t.log.Info("starting reconciliation trigger", zap.Duration("interval", t.interval))
	go t.loop(ctx, t.newTicker(t.interval), t.stopCh, t.done)
	return nil
}

// Stop stops the loop and waits for an in-flight tick to finish. Safe to call twice.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if t.stopCh == nil {
		t.mu.Unlock()
		return
	}
	close(t.stopCh)
	done := t.done
	t.stopCh, t.done = nil, nil
	t.mu.Unlock()

	<-done
	t.log.Info("reconciliation trigger stopped")
}

// clear resets the lifecycle state when the loop leaves on its own (ctx cancelled).
// After Stop the fields already belong to nobody or to a newer loop.
func (t *Trigger) clear(done chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == done {
		t.stopCh, t.done = nil, nil
	}
}

func (t *Trigger) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCh != nil
}

// Busy reports whether a tick is running right now.
func (t *Trigger) Busy() bool { return t.running.Load() }

func (t *Trigger) loop(ctx context.Context, ticker Ticker, stopCh, done chan struct{}) {
	defer close(done)
	defer t.clear(done)
	defer ticker.Stop()

	if t.runOnStart {
		_, _ = t.RunOnce(ctx)
	}

	for {
		select {
		case <-ticker.C():
			_, _ = t.RunOnce(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			t.log.Info("reconciliation trigger cancelled")
			return
		}
	}
}

// RunOnce runs a single tick now under the same no-overlap guard as scheduled ticks.
// Errors are logged here; callers may ignore them.
func (t *Trigger) RunOnce(ctx context.Context) (reconciler.Result, error) {
	if !t.running.CompareAndSwap(false, true) {
		t.log.Warn("previous reconciliation tick still running, skipping")
		return reconciler.Result{}, ErrTickInProgress
	}
	defer t.running.Store(false)

	return t.tick(ctx)
}

func (t *Trigger) tick(ctx context.Context) (reconciler.Result, error) {
	var res reconciler.Result
	started := time.Now()
	now := t.now()

	if t.locker != nil {
		release, ok, err := t.locker.Acquire(ctx, t.lockTTL)
		if err != nil {
			t.log.Error("failed to acquire reconciliation lock", zap.Error(err))
			return res, err
		}
		if !ok {
			t.log.Info("reconciliation lock held elsewhere, skipping tick")
			return res, ErrLocked
		}
		defer release()
	}

	run := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("reconciliation panic: %v", p)
				t.log.Error("reconciliation tick panicked", zap.Any("panic", p), zap.Stack("stack"))
			}
		}()
		res, err = t.runner.Run(ctx, now)
		return err
	}

	var err error
	if t.breaker == nil {
		err = run()
	} else {
		err = t.breaker.Execute(run, func() error {
			t.log.Warn("circuit breaker open, skipping reconciliation tick")
			return circuitbreaker.ErrOpen
		})
	}

	if err != nil {
		if !errors.Is(err, circuitbreaker.ErrOpen) {
			t.log.Error("reconciliation tick failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		}
		return res, err
	}

	t.log.Debug("reconciliation tick finished",
		zap.Time("now", now),
		zap.Int("expired", res.Expired()),
		zap.Int("claimed", res.Claimed),
		zap.Duration("took", time.Since(started)))
	return res, nil
}
