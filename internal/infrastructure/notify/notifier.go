package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dayloop/dayloop-server/internal/domain"
	"github.com/dayloop/dayloop-server/internal/infrastructure/smtp"
	"github.com/dayloop/dayloop-server/internal/infrastructure/sns"
)

// Sender renders and transmits one notification. The delivery queue is the
// only caller; it owns timeouts and retries around Send.
type Sender interface {
	Send(ctx context.Context, job *domain.DeliveryJob) error
}

type notifier struct {
	mailer    smtp.Mailer
	publisher sns.Publisher // nil when the push channel is not configured
}

func NewNotifier(mailer smtp.Mailer, publisher sns.Publisher) Sender {
	return &notifier{mailer: mailer, publisher: publisher}
}

func (n *notifier) Send(ctx context.Context, job *domain.DeliveryJob) error {
	subject, body, err := render(job)
	if err != nil {
		return err
	}
	if err := n.mailer.SendEmail(job.Recipient, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	// Push mirror is best-effort: email is the authoritative channel, and a
	// duplicate push on retry would be worse than a missing one.
	if n.publisher != nil && wantsPush(job.Type) {
		if err := n.publisher.Publish(ctx, subject, body); err != nil {
			slog.Warn("push mirror failed", "job_id", job.JobID, "type", job.Type, "err", err)
		}
	}
	return nil
}

func wantsPush(t domain.JobType) bool {
	switch t {
	case domain.JobTaskReminder, domain.JobOverdueSummary, domain.JobWeeklyReport:
		return true
	}
	return false
}

func render(job *domain.DeliveryJob) (subject, body string, err error) {
	c := job.Context
	switch job.Type {
	case domain.JobOTPCode:
		switch c["otp_type"] {
		case domain.OTPTypeReset:
			subject = "Your password reset code"
		default:
			subject = "Your verification code"
		}
		body = "Your code: " + c["code"] + "\nIt expires in 10 minutes."
	case domain.JobWelcome:
		subject = "Welcome to Dayloop"
		body = "Hi " + c["full_name"] + ",\n\nYour email is verified and your account is ready."
	case domain.JobTaskReminder:
		subject = "Reminder: " + c["title"]
		body = fmt.Sprintf("%q is due %s.", c["title"], c["due_date"])
	case domain.JobOverdueSummary:
		subject = fmt.Sprintf("You have %s overdue task(s)", c["task_count"])
		body = "Overdue tasks:\n" + c["tasks"]
	case domain.JobWeeklyReport:
		subject = "Your weekly focus report"
		body = fmt.Sprintf(
			"Last week: %s focus sessions, %s minutes total.\nMost active day: %s.\nTop sessions:\n%s",
			c["session_count"], c["total_minutes"], c["most_active_day"], c["top_sessions"],
		)
	default:
		return "", "", fmt.Errorf("unknown job type %q: %w", job.Type, domain.ErrBadRequest)
	}
	return subject, body, nil
}
