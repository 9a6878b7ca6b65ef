package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns the wall-clock timers that fire the three triggers.
// It assumes a single process instance: running more than one scheduler
// against the same store double-enqueues every batch, since jobs carry no
// dedup key. Horizontal scaling needs a leader lock in front of Run.
type Scheduler struct {
	triggers *Triggers

	reminderHour  int
	overdueHour   int
	reportWeekday time.Weekday
	reportHour    int
}

type SchedulerDeps struct {
	Triggers      *Triggers
	ReminderHour  int
	OverdueHour   int
	ReportWeekday time.Weekday
	ReportHour    int
}

func NewScheduler(deps SchedulerDeps) *Scheduler {
	return &Scheduler{
		triggers:      deps.Triggers,
		reminderHour:  deps.ReminderHour,
		overdueHour:   deps.OverdueHour,
		reportWeekday: deps.ReportWeekday,
		reportHour:    deps.ReportHour,
	}
}

// Run blocks until ctx is cancelled, firing each trigger at its configured
// local time.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.runPeriodic(ctx, "reminders", s.nextDaily(s.reminderHour), 24*time.Hour, s.triggers.RunReminders)
	}()
	go func() {
		defer wg.Done()
		s.runPeriodic(ctx, "overdue", s.nextDaily(s.overdueHour), 24*time.Hour, s.triggers.RunOverdue)
	}()
	go func() {
		defer wg.Done()
		s.runPeriodic(ctx, "weekly_reports", s.nextWeekly(s.reportWeekday, s.reportHour), 7*24*time.Hour, s.triggers.RunWeeklyReports)
	}()
	wg.Wait()
}

func (s *Scheduler) runPeriodic(ctx context.Context, name string, first time.Duration, every time.Duration, fn func(context.Context) (int, error)) {
	timer := time.NewTimer(first)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if count, err := fn(ctx); err != nil {
			slog.Error("scheduled trigger failed", "trigger", name, "err", err)
		} else {
			slog.Info("scheduled trigger ran", "trigger", name, "jobs_queued", count)
		}
		timer.Reset(every)
	}
}

// nextDaily returns the wait until the next occurrence of hour:00 local time.
func (s *Scheduler) nextDaily(hour int) time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// nextWeekly returns the wait until the next occurrence of weekday at hour:00.
func (s *Scheduler) nextWeekly(weekday time.Weekday, hour int) time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next.Sub(now)
}
