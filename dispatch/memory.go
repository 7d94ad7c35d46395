package dispatch

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process [Store]. It is used by tests and by the daemon
// when no database is configured.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func clone(j *Job) Job {
	c := *j
	c.TemplateData = maps.Clone(j.TemplateData)
	if j.SentAt != nil {
		t := *j.SentAt
		c.SentAt = &t
	}
	if j.ClaimedAt != nil {
		t := *j.ClaimedAt
		c.ClaimedAt = &t
	}
	return c
}

func (s *MemoryStore) Enqueue(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	c := clone(&job)
	s.jobs[job.ID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return clone(j), nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, j := range s.jobs {
		if j.Status == StatusPending && !j.SendAt.After(now) {
			due = append(due, clone(j))
		}
	}
	slices.SortFunc(due, func(a, b Job) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Claim(_ context.Context, id string, now time.Time) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusPending || j.SendAt.After(now) {
		return Job{}, false, nil
	}
	j.Status = StatusSending
	j.ClaimedAt = &now
	return clone(j), true, nil
}

// update applies fn to a job currently in the sending state.
func (s *MemoryStore) update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status != StatusSending {
		return fmt.Errorf("dispatch: job %s is %s, not sending", id, j.Status)
	}
	fn(j)
	j.ClaimedAt = nil
	return nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	return s.update(id, func(j *Job) {
		j.Status = StatusSent
		j.SentAt = &sentAt
		j.ErrorMessage = ""
	})
}

func (s *MemoryStore) Reschedule(_ context.Context, id string, retryCount int, sendAt time.Time, errMsg string) error {
	return s.update(id, func(j *Job) {
		j.Status = StatusPending
		j.CurrentRetryCount = retryCount
		j.SendAt = sendAt
		j.ErrorMessage = errMsg
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, retryCount int, errMsg string) error {
	return s.update(id, func(j *Job) {
		j.Status = StatusFailed
		j.CurrentRetryCount = retryCount
		j.ErrorMessage = errMsg
	})
}

func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ReclaimStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, j := range s.jobs {
		if j.Status == StatusSending && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff) {
			j.Status = StatusPending
			j.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}
