package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseClockTime_Valid(t *testing.T) {
	ct, err := parseClockTime(" 09:05 ")
	require.NoError(t, err)
	require.Equal(t, clockTime{hour: 9, minute: 5}, ct)
}

func TestParseClockTime_Invalid(t *testing.T) {
	_, err := parseClockTime("25:00")
	require.Error(t, err)

	_, err = parseClockTime("not-a-time")
	require.Error(t, err)
}

func TestTick_FiresWithinTolerance(t *testing.T) {
	var fires int32
	d := &Daemon{
		opts: Options{
			ScheduleTimes: []string{"10:00"},
			Tolerance:     30 * time.Second,
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&fires, 1)
				return nil
			},
		},
		logger: zaptest.NewLogger(t),
		times:  []clockTime{{hour: 10, minute: 0}},
	}

	base := time.Date(2026, 3, 5, 10, 0, 10, 0, time.UTC)
	d.tick(context.Background(), base)
	require.EqualValues(t, 1, atomic.LoadInt32(&fires))
}

func TestTick_EachTickWithinToleranceFiresAgain(t *testing.T) {
	// The daemon does not debounce across ticks: per spec.md §9, whether a
	// slot fires more than once within one tolerance window is left to the
	// tick interval naturally bounding it, not to an active suppression.
	var fires int32
	d := &Daemon{
		opts: Options{
			ScheduleTimes: []string{"10:00"},
			Tolerance:     30 * time.Second,
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&fires, 1)
				return nil
			},
		},
		logger: zaptest.NewLogger(t),
		times:  []clockTime{{hour: 10, minute: 0}},
	}

	base := time.Date(2026, 3, 5, 10, 0, 10, 0, time.UTC)
	d.tick(context.Background(), base)
	d.tick(context.Background(), base.Add(15*time.Second))
	require.EqualValues(t, 2, atomic.LoadInt32(&fires))
}

func TestTick_OutsideToleranceDoesNotFire(t *testing.T) {
	var fires int32
	d := &Daemon{
		opts: Options{
			Tolerance: 30 * time.Second,
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&fires, 1)
				return nil
			},
		},
		logger: zaptest.NewLogger(t),
		times:  []clockTime{{hour: 10, minute: 0}},
	}

	farFromSlot := time.Date(2026, 3, 5, 10, 5, 0, 0, time.UTC)
	d.tick(context.Background(), farFromSlot)
	require.EqualValues(t, 0, atomic.LoadInt32(&fires))
}

func TestTick_FiresAgainOnANewDay(t *testing.T) {
	var fires int32
	d := &Daemon{
		opts: Options{
			Tolerance: 30 * time.Second,
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&fires, 1)
				return nil
			},
		},
		logger: zaptest.NewLogger(t),
		times:  []clockTime{{hour: 10, minute: 0}},
	}

	day1 := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	d.tick(context.Background(), day1)
	d.tick(context.Background(), day2)
	require.EqualValues(t, 2, atomic.LoadInt32(&fires))
}

func TestServe_ShutsDownOnContextCancel(t *testing.T) {
	opts := Options{
		LockPath:      filepath.Join(t.TempDir(), "backupd.lock"),
		ScheduleTimes: nil,
		TickInterval:  10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			return nil
		},
	}
	d, err := New(opts, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
