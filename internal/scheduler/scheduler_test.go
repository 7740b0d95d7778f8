// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carscout/carscout/internal/config"
)

func TestNextFireDaily(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		cfg  config.ScheduleConfig
		want time.Time
	}{
		{
			name: "later today",
			cfg:  config.ScheduleConfig{Hour: 14, Minute: 15},
			want: time.Date(2026, 8, 25, 14, 15, 0, 0, time.UTC),
		},
		{
			name: "already passed rolls to tomorrow",
			cfg:  config.ScheduleConfig{Hour: 2, Minute: 0},
			want: time.Date(2026, 8, 26, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "exact now rolls to tomorrow",
			cfg:  config.ScheduleConfig{Hour: 10, Minute: 30},
			want: time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "interval mode wins",
			cfg:  config.ScheduleConfig{Hour: 14, IntervalHours: 6},
			want: base.Add(6 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextFire(base, tt.cfg); !got.Equal(tt.want) {
				t.Errorf("nextFire = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSchedulerFiresAndRearms(t *testing.T) {
	var fired atomic.Int32
	s := New(config.ScheduleConfig{Hour: 2}, func(context.Context) {
		fired.Add(1)
	})
	// Fire almost immediately by faking a clock that sits just before
	// 02:00 and advances in real time.
	start := time.Now()
	base := time.Date(2026, 8, 25, 1, 59, 59, 990_000_000, time.Local)
	s.now = func() time.Time { return base.Add(time.Since(start)) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("trigger never fired")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// After firing, the scheduler re-arms for the next day. The re-arm
	// happens just after the trigger returns, so poll briefly.
	want := time.Date(2026, 8, 26, 2, 0, 0, 0, time.Local)
	deadline = time.After(2 * time.Second)
	for !s.NextRun().Equal(want) {
		select {
		case <-deadline:
			t.Fatalf("next run = %s, want %s", s.NextRun(), want)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSchedulerStopPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	s := New(config.ScheduleConfig{IntervalHours: 1}, func(context.Context) {
		fired.Add(1)
	})

	ctx := context.Background()
	s.Start(ctx)
	s.Stop()

	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("trigger fired %d times after Stop", fired.Load())
	}
}

func TestSchedulerUpdate(t *testing.T) {
	s := New(config.ScheduleConfig{Hour: 2}, func(context.Context) {})
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Update(ctx, config.ScheduleConfig{Hour: 18, Minute: 45})

	want := time.Date(2026, 8, 25, 18, 45, 0, 0, time.UTC)
	if got := s.NextRun(); !got.Equal(want) {
		t.Errorf("next run after update = %s, want %s", got, want)
	}
	if got := s.Schedule().Hour; got != 18 {
		t.Errorf("schedule hour = %d, want 18", got)
	}
}
