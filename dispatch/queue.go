package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Keksclan/hearth/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender delivers a notification. Returning an error or a Result with
// Success == false counts as a failed attempt.
type Sender interface {
	Send(ctx context.Context, d Delivery) (Result, error)
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, d Delivery) (Result, error)

func (f SenderFunc) Send(ctx context.Context, d Delivery) (Result, error) { return f(ctx, d) }

// Outcome is what happened to a single job within a batch.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeDeduplicated Outcome = "deduplicated"
	OutcomeRescheduled  Outcome = "rescheduled"
	OutcomeFailed       Outcome = "failed"
	OutcomeSkipped      Outcome = "skipped"
)

// Recorder receives queue metrics. See the metrics package for a Prometheus
// implementation.
type Recorder interface {
	JobProcessed(o Outcome)
	BatchProcessed(s Summary, elapsed time.Duration)
}

// Summary reports what a single ProcessBatch call did. Processed counts
// delivery attempts; Failed is Rescheduled plus Exhausted.
type Summary struct {
	Processed    int       `json:"processed"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Rescheduled  int       `json:"rescheduled"`
	Exhausted    int       `json:"exhausted"`
	Deduplicated int       `json:"deduplicated"`
	Skipped      int       `json:"skipped"`
	Reclaimed    int       `json:"reclaimed"`
	Purged       int       `json:"purged"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSent:
		s.Processed++
		s.Succeeded++
	case OutcomeDeduplicated:
		s.Processed++
		s.Succeeded++
		s.Deduplicated++
	case OutcomeRescheduled:
		s.Processed++
		s.Failed++
		s.Rescheduled++
	case OutcomeFailed:
		s.Processed++
		s.Failed++
		s.Exhausted++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// Queue processes jobs from a [Store] through a [Sender]. ProcessBatch may be
// called from several processes against a shared store; the claim step keeps
// a job from being delivered twice at the same time.
type Queue struct {
	store  Store
	sender Sender
	opts   options
	tracer trace.Tracer
	guard  *deliveryGuard
}

// New creates a Queue. Call Close when done to release the delivery guard.
func New(store Store, sender Sender, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("dispatch: nil store")
	}
	if sender == nil {
		return nil, errors.New("dispatch: nil sender")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	guard, err := newDeliveryGuard(o.guardSize, o.guardTTL)
	if err != nil {
		return nil, err
	}

	return &Queue{
		store:  store,
		sender: sender,
		opts:   o,
		tracer: o.tracer(),
		guard:  guard,
	}, nil
}

// Close releases resources held by the queue. It does not close the store.
func (q *Queue) Close() {
	q.guard.close()
}

func (q *Queue) now() time.Time { return q.opts.nowFunc() }

// Enqueue stores a new pending job and returns it as stored. Missing IDs,
// creation and send times are filled in; a retry budget below one becomes
// [DefaultMaxRetries].
func (q *Queue) Enqueue(ctx context.Context, job Job) (Job, error) {
	now := q.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.SendAt.IsZero() {
		job.SendAt = now
	}
	if job.MaxRetryCount < 1 {
		job.MaxRetryCount = DefaultMaxRetries
	}
	job.Status = StatusPending
	job.CurrentRetryCount = 0
	job.SentAt = nil
	job.ClaimedAt = nil

	if err := q.store.Enqueue(ctx, job); err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	q.opts.logger.Debug("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("template", job.TemplateKey),
		slog.Int("priority", job.Priority),
	)
	return job, nil
}

// Get returns the current state of a job.
func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	return q.store.Get(ctx, id)
}

// ProcessBatch runs one pass over the queue: stale claims are reset, up to
// the batch size of due jobs are delivered one after another, and terminal
// jobs older than the retention window are deleted.
//
// Delivery failures never surface as errors; they drive the retry schedule
// instead. A failure to read due jobs aborts the batch. Failures to write job
// state are joined into the returned error while the batch carries on.
func (q *Queue) ProcessBatch(ctx context.Context) (Summary, error) {
	ctx, span := q.tracer.Start(ctx, "dispatch.process_batch")
	defer span.End()

	start := q.now()
	sum := Summary{Timestamp: start}
	var errs []error

	if q.opts.staleAfter > 0 {
		n, err := q.store.ReclaimStale(ctx, start.Add(-q.opts.staleAfter))
		if err != nil {
			errs = append(errs, fmt.Errorf("reclaim stale jobs: %w", err))
		}
		sum.Reclaimed = n
		if n > 0 {
			q.opts.logger.Warn("reclaimed stale jobs",
				slog.Int("count", n),
				slog.Duration("stale_after", q.opts.staleAfter),
			)
		}
	}

	jobs, err := q.store.Due(ctx, start, q.opts.batchSize)
	if err != nil {
		err = errors.Join(append(errs, fmt.Errorf("fetch due jobs: %w", err))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sum, err
	}

	for i := range jobs {
		if reason := q.gate(ctx); reason != "" {
			sum.Skipped += len(jobs) - i
			q.opts.logger.Warn("stopping batch early, leaving jobs pending",
				slog.String("reason", reason),
				slog.Int("remaining", len(jobs)-i),
			)
			break
		}

		outcome, err := q.process(ctx, &jobs[i])
		sum.add(outcome)
		if q.opts.recorder != nil {
			q.opts.recorder.JobProcessed(outcome)
		}
		if err != nil {
			q.opts.logger.Error("job state write failed",
				slog.String("job_id", jobs[i].ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	if q.opts.retention > 0 {
		n, err := q.store.DeleteTerminalBefore(ctx, q.now().Add(-q.opts.retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge terminal jobs: %w", err))
		}
		sum.Purged = n
	}

	span.SetAttributes(
		attribute.Int("dispatch.processed", sum.Processed),
		attribute.Int("dispatch.succeeded", sum.Succeeded),
		attribute.Int("dispatch.failed", sum.Failed),
	)
	if q.opts.recorder != nil {
		q.opts.recorder.BatchProcessed(sum, q.now().Sub(start))
	}

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return sum, err
}

// gate reports why the next job must not be attempted, or "" when it may.
// It blocks on the rate limiter.
func (q *Queue) gate(ctx context.Context) string {
	if ctx.Err() != nil {
		return "context done"
	}
	if q.opts.breaker != nil && !q.opts.breaker.Allow() {
		return "delivery breaker open"
	}
	if q.opts.limiter != nil {
		if err := q.opts.limiter.Wait(ctx); err != nil {
			return "rate limit: " + err.Error()
		}
	}
	return ""
}

// process claims and delivers a single job and records the transition. The
// returned error is only ever a store failure.
func (q *Queue) process(ctx context.Context, job *Job) (Outcome, error) {
	claimed, ok, err := q.store.Claim(ctx, job.ID, q.now())
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !ok {
		q.opts.logger.Debug("job claimed or rescheduled elsewhere, skipping", slog.String("job_id", job.ID))
		return OutcomeSkipped, nil
	}
	// Retry bookkeeping follows the claimed row, not the Due snapshot.
	*job = claimed

	// Outcome writes outlive batch cancellation.
	wctx := context.WithoutCancel(ctx)

	if q.guard.delivered(job.ID) {
		q.opts.logger.Info("job already delivered, marking sent", slog.String("job_id", job.ID))
		if err := q.store.MarkSent(wctx, job.ID, q.now()); err != nil {
			return OutcomeDeduplicated, fmt.Errorf("mark job %s sent: %w", job.ID, err)
		}
		return OutcomeDeduplicated, nil
	}

	res, sendErr := q.send(ctx, job)
	if sendErr == nil && res.Success {
		q.guard.remember(job.ID)
		if q.opts.breaker != nil {
			q.opts.breaker.OnSuccess()
		}
		if err := q.store.MarkSent(wctx, job.ID, q.now()); err != nil {
			return OutcomeSent, fmt.Errorf("mark job %s sent: %w", job.ID, err)
		}
		q.opts.logger.Debug("job sent", slog.String("job_id", job.ID))
		return OutcomeSent, nil
	}

	if q.opts.breaker != nil {
		q.opts.breaker.OnFailure()
	}
	msg := failureMessage(res, sendErr)
	next := job.CurrentRetryCount + 1

	if next < job.MaxRetryCount {
		delay := retry.Backoff(q.opts.backoff, job.CurrentRetryCount)
		sendAt := q.now().Add(delay)
		q.opts.logger.Warn("delivery failed, rescheduling",
			slog.String("job_id", job.ID),
			slog.Int("retry_count", next),
			slog.Int("max_retries", job.MaxRetryCount),
			slog.Duration("retry_after", delay),
			slog.String("error", msg),
		)
		if err := q.store.Reschedule(wctx, job.ID, next, sendAt, msg); err != nil {
			return OutcomeRescheduled, fmt.Errorf("reschedule job %s: %w", job.ID, err)
		}
		return OutcomeRescheduled, nil
	}

	q.opts.logger.Error("delivery failed, retries exhausted",
		slog.String("job_id", job.ID),
		slog.Int("retry_count", next),
		slog.String("error", msg),
	)
	if err := q.store.MarkFailed(wctx, job.ID, next, msg); err != nil {
		return OutcomeFailed, fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	return OutcomeFailed, nil
}

// send calls the sender under the send timeout. A panicking sender counts as
// a failed delivery.
func (q *Queue) send(ctx context.Context, job *Job) (res Result, err error) {
	ctx, span := q.tracer.Start(ctx, "dispatch.send", trace.WithAttributes(
		attribute.String("dispatch.job_id", job.ID),
		attribute.String("dispatch.template", job.TemplateKey),
		attribute.Int("dispatch.priority", job.Priority),
		attribute.Int("dispatch.retry_count", job.CurrentRetryCount),
	))
	defer span.End()

	if q.opts.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.sendTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.opts.logger.Error("sender panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			res, err = Result{}, fmt.Errorf("sender panic: %v", r)
		}
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !res.Success:
			span.SetStatus(codes.Error, res.Error)
		}
	}()

	return q.sender.Send(ctx, job.delivery())
}

func failureMessage(res Result, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case res.Error != "":
		return res.Error
	default:
		return "delivery reported failure"
	}
}

// Run calls ProcessBatch every interval until ctx is done. Batch errors are
// logged and do not stop the loop.
func (q *Queue) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("dispatch: invalid interval %v", interval)
	}
	q.opts.logger.Info("dispatch loop started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sum, err := q.ProcessBatch(ctx)
		if err != nil {
			q.opts.logger.Error("dispatch batch failed", slog.String("error", err.Error()))
		}
		if sum.Processed > 0 || sum.Reclaimed > 0 || sum.Purged > 0 {
			q.opts.logger.Info("dispatch batch completed",
				slog.Int("processed", sum.Processed),
				slog.Int("succeeded", sum.Succeeded),
				slog.Int("failed", sum.Failed),
				slog.Int("reclaimed", sum.Reclaimed),
				slog.Int("purged", sum.Purged),
			)
		}

		select {
		case <-ctx.Done():
			q.opts.logger.Info("dispatch loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}
