package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dayloop/dayloop-server/internal/domain"
	"github.com/dayloop/dayloop-server/internal/infrastructure/notify"
)

// WorkerPool drains the delivery queue. Each worker claims one job at a
// time; a failed send is re-queued with exponential backoff until the
// attempt budget is spent, after which the job is parked as failed. A claim
// carries a lease; jobs whose worker died mid-attempt outlive their lease
// and get reclaimed by the pool's reclaimer loop.
type WorkerPool struct {
	repo        jobStore
	sender      notify.Sender
	workers     int
	poll        time.Duration
	sendTimeout time.Duration
	baseBackoff time.Duration
	lease       time.Duration
	now         func() time.Time
}

type WorkerPoolDeps struct {
	Repo         jobStore
	Sender       notify.Sender
	Workers      int
	PollInterval time.Duration
	SendTimeout  time.Duration
	BaseBackoff  time.Duration
	ClaimLease   time.Duration
}

func NewWorkerPool(deps WorkerPoolDeps) *WorkerPool {
	p := &WorkerPool{
		repo:        deps.Repo,
		sender:      deps.Sender,
		workers:     deps.Workers,
		poll:        deps.PollInterval,
		sendTimeout: deps.SendTimeout,
		baseBackoff: deps.BaseBackoff,
		lease:       deps.ClaimLease,
		now:         time.Now,
	}
	if p.workers < 1 {
		p.workers = 1
	}
	if p.poll <= 0 {
		p.poll = time.Second
	}
	if p.sendTimeout <= 0 {
		p.sendTimeout = 10 * time.Second
	}
	if p.baseBackoff <= 0 {
		p.baseBackoff = 2 * time.Second
	}
	if p.lease <= 0 {
		p.lease = time.Minute
	}
	// A lease shorter than the send timeout would let the reclaimer steal a
	// job whose worker is still inside a legitimate attempt.
	if p.lease <= p.sendTimeout {
		p.lease = 2 * p.sendTimeout
	}
	return p
}

// Run blocks until ctx is cancelled and all workers have drained their
// in-flight job. The reclaimer sweeps once right away, so jobs stranded in
// processing by a crash of the previous process are recovered at startup.
func (p *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runReclaimer(ctx)
	}()
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.runWorker(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *WorkerPool) runReclaimer(ctx context.Context) {
	log := slog.With("worker", "reclaimer")
	for {
		p.reclaim(ctx, log)
		if !sleep(ctx, p.lease) {
			return
		}
	}
}

// reclaim re-queues processing jobs whose lease has expired, counting the
// interrupted attempt against the budget; a job out of budget is parked as
// failed without another send. Losing the conditional transition means the
// row was settled elsewhere in the meantime, which is not an error.
func (p *WorkerPool) reclaim(ctx context.Context, log *slog.Logger) {
	stale, err := p.repo.ListExpiredProcessing(ctx, p.now().Unix())
	if err != nil {
		log.Error("list expired processing jobs", "err", err)
		return
	}
	for i := range stale {
		job := &stale[i]
		attempts := job.AttemptsMade + 1
		status := domain.JobStatusQueued
		if attempts >= job.MaxAttempts {
			status = domain.JobStatusFailed
		}
		if err := p.repo.Reclaim(ctx, job.JobID, status, attempts, "delivery attempt interrupted"); err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				log.Error("reclaim job", "job_id", job.JobID, "err", err)
			}
			continue
		}
		if status == domain.JobStatusFailed {
			log.Error("reclaimed job failed permanently", "job_id", job.JobID, "type", job.Type, "attempts", attempts)
		} else {
			log.Warn("reclaimed interrupted job", "job_id", job.JobID, "type", job.Type, "attempt", attempts)
		}
	}
}

func (p *WorkerPool) runWorker(ctx context.Context, n int) {
	log := slog.With("worker", n)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.repo.NextQueued(ctx, p.now().Unix())
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Error("poll queue", "err", err)
			}
			if !sleep(ctx, p.poll) {
				return
			}
			continue
		}
		if err := p.repo.Claim(ctx, job.JobID, p.now().Add(p.lease).Unix()); err != nil {
			// Another worker got there first; look again immediately.
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			log.Error("claim job", "job_id", job.JobID, "err", err)
			if !sleep(ctx, p.poll) {
				return
			}
			continue
		}
		p.process(ctx, log, job)
	}
}

// process runs one delivery attempt and applies the state transition its
// outcome dictates. The attempt count on the row is authoritative.
func (p *WorkerPool) process(ctx context.Context, log *slog.Logger, job *domain.DeliveryJob) {
	sendErr := p.send(ctx, job)
	if sendErr == nil {
		if err := p.repo.Delete(ctx, job.JobID); err != nil {
			log.Error("remove completed job", "job_id", job.JobID, "err", err)
		}
		log.Info("delivered", "job_id", job.JobID, "type", job.Type, "attempt", job.AttemptsMade+1)
		return
	}

	attempts := job.AttemptsMade + 1
	if attempts >= job.MaxAttempts {
		if err := p.repo.Fail(ctx, job.JobID, attempts, sendErr.Error()); err != nil {
			log.Error("mark job failed", "job_id", job.JobID, "err", err)
		}
		log.Error("delivery failed permanently", "job_id", job.JobID, "type", job.Type, "attempts", attempts, "err", sendErr)
		return
	}

	delay := p.baseBackoff << (attempts - 1) // 2s, 4s
	visibleAt := p.now().Add(delay).Unix()
	if err := p.repo.Release(ctx, job.JobID, attempts, visibleAt, sendErr.Error()); err != nil {
		log.Error("re-queue job", "job_id", job.JobID, "err", err)
		return
	}
	log.Warn("delivery failed, retrying", "job_id", job.JobID, "type", job.Type, "attempt", attempts, "retry_in", delay, "err", sendErr)
}

// send invokes the sender under the delivery timeout. The SMTP transport has
// no context hook, so the call runs in its own goroutine and a timeout
// abandons it; the abandoned send counts as a failure either way.
func (p *WorkerPool) send(ctx context.Context, job *domain.DeliveryJob) error {
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.sender.Send(sendCtx, job)
	}()
	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return sendCtx.Err()
	}
}

// sleep waits d or until ctx is cancelled; reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
