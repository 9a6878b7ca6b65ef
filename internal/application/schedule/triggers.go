package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dayloop/dayloop-server/internal/application/delivery"
	"github.com/dayloop/dayloop-server/internal/domain"
)

// overdueBatchLimit caps how many items one overdue summary carries.
const overdueBatchLimit = 10

// taskSource and activitySource are the narrow read-only views of the
// resource modules this core consumes; the CRUD side owns the records.
type taskSource interface {
	ListIncompleteDueOn(ctx context.Context, date string) ([]domain.Task, error)
	ListIncompleteDueBefore(ctx context.Context, date string) ([]domain.Task, error)
}

type activitySource interface {
	ListCompletedSince(ctx context.Context, since time.Time) ([]domain.FocusSession, error)
}

type userSource interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// reportArchive persists a rendered weekly report before its job is queued.
type reportArchive interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// Triggers holds the three time-based producers. Each run is a standalone
// read-aggregate-enqueue pass; re-running one re-enqueues (jobs carry no
// dedup key), it never errors on repetition.
type Triggers struct {
	tasks    taskSource
	activity activitySource
	users    userSource
	queue    delivery.Enqueuer
	archive  reportArchive // nil disables archiving
	now      func() time.Time
}

type TriggerDeps struct {
	Tasks    taskSource
	Activity activitySource
	Users    userSource
	Queue    delivery.Enqueuer
	Archive  reportArchive
}

func NewTriggers(deps TriggerDeps) *Triggers {
	return &Triggers{
		tasks:    deps.Tasks,
		activity: deps.Activity,
		users:    deps.Users,
		queue:    deps.Queue,
		archive:  deps.Archive,
		now:      time.Now,
	}
}

// RunReminders queues one reminder per incomplete task due tomorrow.
// Returns the number of jobs queued.
func (t *Triggers) RunReminders(ctx context.Context) (int, error) {
	tomorrow := t.now().AddDate(0, 0, 1).Format(domain.DateLayout)
	tasks, err := t.tasks.ListIncompleteDueOn(ctx, tomorrow)
	if err != nil {
		return 0, err
	}
	queued := 0
	for i := range tasks {
		task := &tasks[i]
		u, err := t.users.Get(ctx, task.UserID)
		if err != nil {
			slog.Warn("reminder: skipping task, user lookup failed", "task_id", task.TaskID, "user_id", task.UserID, "err", err)
			continue
		}
		err = t.queue.Enqueue(ctx, domain.JobTaskReminder, u.Email, domain.PriorityStandard, map[string]string{
			"title":    task.Title,
			"due_date": task.DueDate,
		})
		if err != nil {
			slog.Warn("reminder: enqueue failed", "task_id", task.TaskID, "err", err)
			continue
		}
		queued++
	}
	slog.Info("reminder pass complete", "due_date", tomorrow, "jobs_queued", queued)
	return queued, nil
}

// RunOverdue queues one summary per user holding incomplete tasks due before
// today, capped at the ten most-overdue items each.
func (t *Triggers) RunOverdue(ctx context.Context) (int, error) {
	today := t.now().Format(domain.DateLayout)
	tasks, err := t.tasks.ListIncompleteDueBefore(ctx, today)
	if err != nil {
		return 0, err
	}

	byUser := make(map[string][]domain.Task)
	for _, task := range tasks {
		byUser[task.UserID] = append(byUser[task.UserID], task)
	}

	queued := 0
	for userID, userTasks := range byUser {
		u, err := t.users.Get(ctx, userID)
		if err != nil {
			slog.Warn("overdue: skipping user, lookup failed", "user_id", userID, "err", err)
			continue
		}
		sort.Slice(userTasks, func(i, j int) bool { return userTasks[i].DueDate < userTasks[j].DueDate })
		batch := userTasks
		if len(batch) > overdueBatchLimit {
			batch = batch[:overdueBatchLimit]
		}
		lines := make([]string, 0, len(batch))
		for _, task := range batch {
			lines = append(lines, fmt.Sprintf("- %s (due %s)", task.Title, task.DueDate))
		}
		err = t.queue.Enqueue(ctx, domain.JobOverdueSummary, u.Email, domain.PriorityStandard, map[string]string{
			"task_count": strconv.Itoa(len(userTasks)),
			"tasks":      strings.Join(lines, "\n"),
		})
		if err != nil {
			slog.Warn("overdue: enqueue failed", "user_id", userID, "err", err)
			continue
		}
		queued++
	}
	slog.Info("overdue pass complete", "before", today, "jobs_queued", queued)
	return queued, nil
}

// weeklyReport is the per-user aggregate archived to S3 and summarised in
// the notification.
type weeklyReport struct {
	UserID        string               `json:"user_id"`
	From          string               `json:"from"`
	To            string               `json:"to"`
	TotalMinutes  int                  `json:"total_minutes"`
	SessionCount  int                  `json:"session_count"`
	MostActiveDay string               `json:"most_active_day"`
	TopSessions   []domain.FocusSession `json:"top_sessions"`
}

// RunWeeklyReports aggregates the trailing 7 days of focus activity and
// queues one report per user who completed at least one session.
func (t *Triggers) RunWeeklyReports(ctx context.Context) (int, error) {
	now := t.now()
	since := now.AddDate(0, 0, -7)
	sessions, err := t.activity.ListCompletedSince(ctx, since)
	if err != nil {
		return 0, err
	}

	byUser := make(map[string][]domain.FocusSession)
	for _, s := range sessions {
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}

	queued := 0
	for userID, userSessions := range byUser {
		if err := t.queueReport(ctx, userID, userSessions, since, now); err != nil {
			slog.Warn("weekly report: skipping user", "user_id", userID, "err", err)
			continue
		}
		queued++
	}
	slog.Info("weekly report pass complete", "since", since.Format(domain.DateLayout), "jobs_queued", queued)
	return queued, nil
}

func (t *Triggers) queueReport(ctx context.Context, userID string, sessions []domain.FocusSession, from, to time.Time) error {
	u, err := t.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	report := aggregate(userID, sessions, from, to)

	payload := map[string]string{
		"total_minutes":   strconv.Itoa(report.TotalMinutes),
		"session_count":   strconv.Itoa(report.SessionCount),
		"most_active_day": report.MostActiveDay,
		"top_sessions":    formatTop(report.TopSessions),
	}
	if t.archive != nil {
		body, err := json.Marshal(report)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("reports/%s/%s.json", userID, to.Format(domain.DateLayout))
		if _, err := t.archive.Upload(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
			return err
		}
		payload["report_key"] = key
	}

	return t.queue.Enqueue(ctx, domain.JobWeeklyReport, u.Email, domain.PriorityBulk, payload)
}

func aggregate(userID string, sessions []domain.FocusSession, from, to time.Time) weeklyReport {
	report := weeklyReport{
		UserID: userID,
		From:   from.Format(domain.DateLayout),
		To:     to.Format(domain.DateLayout),
	}
	perDay := make(map[time.Weekday]int)
	for _, s := range sessions {
		report.TotalMinutes += s.DurationMin
		report.SessionCount++
		perDay[s.CompletedAt.Weekday()] += s.DurationMin
	}
	best := -1
	for day, minutes := range perDay {
		if minutes > best || (minutes == best && day.String() < report.MostActiveDay) {
			best = minutes
			report.MostActiveDay = day.String()
		}
	}
	top := append([]domain.FocusSession(nil), sessions...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].DurationMin > top[j].DurationMin })
	if len(top) > 3 {
		top = top[:3]
	}
	report.TopSessions = top
	return report
}

func formatTop(sessions []domain.FocusSession) string {
	lines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		lines = append(lines, fmt.Sprintf("- %s: %d min", s.TaskTitle, s.DurationMin))
	}
	return strings.Join(lines, "\n")
}
