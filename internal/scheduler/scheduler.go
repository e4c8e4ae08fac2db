// Package scheduler implements the backup daemon (C14): a single-instance
// process, guarded by internal/lock, that wakes on a fixed tick and fires
// a run when the wall clock lands within tolerance of a configured
// HH:MM, per spec.md §4.14. It is deliberately not a cron-expression
// parser — the schedule surface is a flat list of times of day. It does
// not attempt to prevent a re-fire across adjacent ticks within the same
// tolerance window: every tick that lands within Tolerance of a slot fires
// it, so with TickInterval <= 2*Tolerance a slot fires at least once per
// day, and more than once whenever two ticks land in the window, as they
// usually do with the 30s defaults (see spec.md §9's open question on
// this, left deliberately unresolved).
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/lock"
)

const (
	defaultTickInterval = 30 * time.Second
	defaultTolerance    = 30 * time.Second
)

// RunFunc is invoked once per fired schedule slot.
type RunFunc func(ctx context.Context) error

// Options configures the daemon.
type Options struct {
	LockPath      string
	ScheduleTimes []string // "HH:MM", 24-hour
	TickInterval  time.Duration
	Tolerance     time.Duration
	Run           RunFunc
}

// clockTime is a parsed HH:MM, compared against the wall clock each tick.
type clockTime struct {
	hour, minute int
}

// Daemon owns the PID lock across its lifetime.
type Daemon struct {
	opts   Options
	logger *zap.Logger
	times  []clockTime
}

// New parses opts.ScheduleTimes and returns a ready-to-run Daemon.
func New(opts Options, logger *zap.Logger) (*Daemon, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = defaultTolerance
	}

	times := make([]clockTime, 0, len(opts.ScheduleTimes))
	for _, t := range opts.ScheduleTimes {
		parsed, err := parseClockTime(t)
		if err != nil {
			return nil, err
		}
		times = append(times, parsed)
	}

	return &Daemon{
		opts:   opts,
		logger: logger.Named("scheduler"),
		times:  times,
	}, nil
}

func parseClockTime(s string) (clockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return clockTime{}, fmt.Errorf("scheduler: invalid schedule time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return clockTime{}, fmt.Errorf("scheduler: invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return clockTime{}, fmt.Errorf("scheduler: invalid minute in %q", s)
	}
	return clockTime{hour: hour, minute: minute}, nil
}

// Serve acquires the PID lock, then ticks until ctx is cancelled or a
// SIGINT/SIGTERM arrives. It releases the lock before returning.
func (d *Daemon) Serve(ctx context.Context) error {
	lf, err := lock.Acquire(d.opts.LockPath)
	if err != nil {
		return fmt.Errorf("scheduler: acquire lock: %w", err)
	}
	defer func() {
		if err := lf.Release(); err != nil {
			d.logger.Warn("failed to release lock", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	d.logger.Info("scheduler started", zap.Strings("schedule", d.opts.ScheduleTimes))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("scheduler shutting down")
			return nil
		case now := <-ticker.C:
			d.tick(ctx, now)
		}
	}
}

func (d *Daemon) tick(ctx context.Context, now time.Time) {
	for _, t := range d.times {
		scheduled := time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, now.Location())
		delta := now.Sub(scheduled)
		if delta < 0 {
			delta = -delta
		}
		if delta > d.opts.Tolerance {
			continue
		}

		key := fmt.Sprintf("%02d:%02d", t.hour, t.minute)
		d.logger.Info("schedule slot fired", zap.String("time", key))
		if err := d.opts.Run(ctx); err != nil {
			d.logger.Warn("scheduled run failed", zap.String("time", key), zap.Error(err))
		}
	}
}
