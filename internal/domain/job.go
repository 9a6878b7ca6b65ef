package domain

import (
	"fmt"
	"time"
)

// JobType enumerates the notification kinds the delivery queue carries.
type JobType string

const (
	JobOTPCode        JobType = "otp_code"
	JobWelcome        JobType = "welcome"
	JobTaskReminder   JobType = "task_reminder"
	JobOverdueSummary JobType = "overdue_summary"
	JobWeeklyReport   JobType = "weekly_report"
)

// Priority bands. Lower drains first; within a band jobs are FIFO.
const (
	PriorityCritical = 1  // OTP / password-reset codes, user is waiting
	PriorityStandard = 5  // welcome, reminders, overdue summaries
	PriorityBulk     = 10 // weekly reports, best-effort
)

// Queue states. Completed jobs are deleted rather than kept, so there is
// no "completed" row state; failed rows are retained for operator inspection.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusFailed     = "failed"
)

// MaxDeliveryAttempts is the fixed retry budget per job.
const MaxDeliveryAttempts = 3

// DeliveryJob is one notification to send. It has no foreign keys: it is a
// fire-and-forget projection of an event that already happened.
type DeliveryJob struct {
	JobID        string            `json:"id" dynamodbav:"job_id"`
	Type         JobType           `json:"type" dynamodbav:"type"`
	Recipient    string            `json:"recipient" dynamodbav:"recipient"`
	Context      map[string]string `json:"context" dynamodbav:"context"`
	Priority     int               `json:"priority" dynamodbav:"priority"`
	AttemptsMade int               `json:"attempts_made" dynamodbav:"attempts_made"`
	MaxAttempts  int               `json:"max_attempts" dynamodbav:"max_attempts"`
	QueueStatus  string            `json:"status" dynamodbav:"queue_status"`
	QueueKey     string            `json:"-" dynamodbav:"queue_key"`
	VisibleAt    int64             `json:"visible_at" dynamodbav:"visible_at"` // Unix seconds; backoff gate
	LastError    string            `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created" dynamodbav:"created_at"`
}

// QueueKey builds the GSI sort key that drains the queue by priority band
// first and enqueue order (ULID timestamp) within a band.
func QueueKey(priority int, jobID string) string {
	return fmt.Sprintf("%03d#%s", priority, jobID)
}
