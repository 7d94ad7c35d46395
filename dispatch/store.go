package dispatch

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when no job exists for an ID.
	ErrJobNotFound = errors.New("dispatch: job not found")

	// ErrDuplicateJob is returned by Enqueue when the ID is already taken.
	ErrDuplicateJob = errors.New("dispatch: duplicate job id")
)

// Store persists jobs. Implementations must make Claim atomic: when several
// callers race to claim the same pending job exactly one of them wins.
type Store interface {
	// Enqueue inserts a new job.
	Enqueue(ctx context.Context, job Job) error

	// Get returns the job with the given ID or [ErrJobNotFound].
	Get(ctx context.Context, id string) (Job, error)

	// Due returns up to limit pending jobs with SendAt <= now, ordered by
	// Priority ascending, then CreatedAt ascending.
	Due(ctx context.Context, now time.Time, limit int) ([]Job, error)

	// Claim flips a job that is pending and due at now (SendAt <= now) to
	// sending, records now as the claim time and returns the job as stored
	// after the claim. It reports false when the job is no longer pending or
	// has been rescheduled past now, so a caller holding an outdated Due
	// result can never claim a job early or with an old retry count.
	Claim(ctx context.Context, id string, now time.Time) (Job, bool, error)

	// MarkSent moves a sending job to sent and clears its error message.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// Reschedule moves a sending job back to pending.
	Reschedule(ctx context.Context, id string, retryCount int, sendAt time.Time, errMsg string) error

	// MarkFailed moves a sending job to failed. SendAt is left unchanged.
	MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error

	// DeleteTerminalBefore deletes sent and failed jobs created before cutoff
	// and returns how many were removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// ReclaimStale returns sending jobs claimed before cutoff to pending and
	// reports how many were reset.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
}
