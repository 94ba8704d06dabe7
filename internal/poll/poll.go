// Package poll runs a refresh task immediately and then on a fixed interval until stopped.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"leadboard/internal/log"
)

var ErrStopped = errors.New("poller stopped")

// Task is one refresh. Errors are logged and the next tick retries.
type Task func(ctx context.Context) error

type Poller struct {
	Name     string
	Interval time.Duration
	Task     Task
	Logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	runMu   sync.Mutex
	runs    int
	failed  int
	lastErr error
	lastRun time.Time
}

func New(name string, interval time.Duration, task Task, logger *slog.Logger) *Poller {
	return &Poller{Name: name, Interval: interval, Task: task, Logger: logger}
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.WithModule("poll").With("poller", p.Name)
}

// Start runs the task once before returning and then schedules it every Interval.
func (p *Poller) Start(ctx context.Context) error {
	if p.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if p.Task == nil {
		return errors.New("poll task is required")
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cl := cronLogger{p.logger()}
	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cl),
		cron.Recover(cl),
	), cron.WithLogger(cl))
	p.cron.Schedule(every(p.Interval), cron.FuncJob(p.tick))
	runCtx := p.ctx
	p.mu.Unlock()

	p.run(runCtx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.cron.Start()
	}
	p.logger().Debug("poller started", "interval", p.Interval)
	return nil
}

func (p *Poller) tick() {
	p.mu.Lock()
	ctx := p.ctx
	stopped := p.stopped
	p.mu.Unlock()
	if stopped || ctx == nil {
		return
	}
	p.run(ctx)
}

// Refresh runs the task now, outside the schedule. It is ignored once the poller is stopped.
func (p *Poller) Refresh(ctx context.Context) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}
	p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	err := p.Task(ctx)
	p.runs++
	p.lastRun = time.Now()
	p.lastErr = err
	if err != nil {
		p.failed++
		p.logger().Warn("refresh failed", "error", err)
	}
}

// Stop cancels the schedule and the context of a running task, then waits for it to return.
// It is safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	c := p.cron
	cancel := p.cancel
	p.mu.Unlock()

	// cancel first so a task blocked on ctx returns instead of running out its timeout
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
	// a Refresh may still be in run
	p.runMu.Lock()
	p.runMu.Unlock()
	p.logger().Debug("poller stopped")
}

type Status struct {
	Runs    int
	Failed  int
	LastErr error
	LastRun time.Time
	Stopped bool
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return Status{Runs: p.runs, Failed: p.failed, LastErr: p.lastErr, LastRun: p.lastRun, Stopped: stopped}
}

// interval fires every d from the previous activation. cron.Every rounds to whole seconds.
type interval time.Duration

func every(d time.Duration) cron.Schedule { return interval(d) }

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
