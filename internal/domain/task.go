package domain

import "time"

// DateLayout is the calendar-day format used for task due dates.
// Plain dates compare lexicographically, which the trigger queries rely on.
const DateLayout = "2006-01-02"

// Task is the read-only projection of a tracker task that the scheduled
// triggers consume. The task CRUD module owns the full record.
type Task struct {
	TaskID    string    `json:"id" dynamodbav:"task_id"`
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Title     string    `json:"title" dynamodbav:"title"`
	DueDate   string    `json:"due_date" dynamodbav:"due_date"` // DateLayout
	Completed bool      `json:"completed" dynamodbav:"completed"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
}
