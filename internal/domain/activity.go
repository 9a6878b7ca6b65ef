package domain

import "time"

// FocusSession is the read-only projection of a completed focus/activity
// record, consumed by the weekly report trigger.
type FocusSession struct {
	SessionID   string    `json:"id" dynamodbav:"session_id"`
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	TaskTitle   string    `json:"task_title" dynamodbav:"task_title"`
	DurationMin int       `json:"duration_min" dynamodbav:"duration_min"`
	CompletedAt time.Time `json:"completed_at" dynamodbav:"completed_at"`
}
