package delivery

import (
	"context"
	"time"

	"github.com/dayloop/dayloop-server/internal/domain"
	"github.com/dayloop/dayloop-server/internal/pkg/id"
)

// Enqueuer is the producer-side handle to the delivery queue. The session
// service and every scheduled trigger hold one; none of them ever block on
// actual delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType domain.JobType, recipient string, priority int, payload map[string]string) error
}

// jobStore is the durable buffer underneath the queue.
type jobStore interface {
	Put(ctx context.Context, j *domain.DeliveryJob) error
	NextQueued(ctx context.Context, now int64) (*domain.DeliveryJob, error)
	Claim(ctx context.Context, jobID string, leaseUntil int64) error
	Release(ctx context.Context, jobID string, attempts int, visibleAt int64, lastErr string) error
	Fail(ctx context.Context, jobID string, attempts int, lastErr string) error
	Delete(ctx context.Context, jobID string) error
	ListExpiredProcessing(ctx context.Context, now int64) ([]domain.DeliveryJob, error)
	Reclaim(ctx context.Context, jobID, status string, attempts int, lastErr string) error
}

// Queue is the durable, priority-ordered delivery buffer.
type Queue struct {
	repo jobStore
}

func NewQueue(repo jobStore) *Queue {
	return &Queue{repo: repo}
}

// Enqueue persists one job and returns. Delivery happens later, from the
// worker pool; a full or slow queue never surfaces to the caller beyond the
// single write.
func (q *Queue) Enqueue(ctx context.Context, jobType domain.JobType, recipient string, priority int, payload map[string]string) error {
	jobID := id.New()
	job := &domain.DeliveryJob{
		JobID:       jobID,
		Type:        jobType,
		Recipient:   recipient,
		Context:     payload,
		Priority:    priority,
		MaxAttempts: domain.MaxDeliveryAttempts,
		QueueStatus: domain.JobStatusQueued,
		QueueKey:    domain.QueueKey(priority, jobID),
		VisibleAt:   0, // immediately visible
		CreatedAt:   time.Now().UTC(),
	}
	return q.repo.Put(ctx, job)
}
