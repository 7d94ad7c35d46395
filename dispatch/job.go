// Package dispatch drains a backlog of notification jobs. Each batch claims
// due jobs one at a time, hands them to a [Sender] and applies a bounded
// retry schedule with exponential backoff. Terminal jobs are purged once they
// age past the retention window.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// DefaultMaxRetries is the retry budget given to jobs created by [NewJob].
const DefaultMaxRetries = 3

// Job is a single notification awaiting delivery.
type Job struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	TemplateKey       string         `json:"template_key"`
	TemplateData      map[string]any `json:"template_data,omitempty"`
	Priority          int            `json:"priority"`
	Status            Status         `json:"status"`
	SendAt            time.Time      `json:"send_at"`
	CurrentRetryCount int            `json:"current_retry_count"`
	MaxRetryCount     int            `json:"max_retry_count"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	ClaimedAt         *time.Time     `json:"claimed_at,omitempty"`
}

// JobOption customises a job built by [NewJob].
type JobOption func(*Job)

// WithPriority sets the priority. Lower values are dispatched first.
func WithPriority(p int) JobOption {
	return func(j *Job) { j.Priority = p }
}

// WithSendAt delays the job until t.
func WithSendAt(t time.Time) JobOption {
	return func(j *Job) { j.SendAt = t }
}

// WithMaxRetries overrides [DefaultMaxRetries]. Values below 1 are ignored.
func WithMaxRetries(n int) JobOption {
	return func(j *Job) {
		if n >= 1 {
			j.MaxRetryCount = n
		}
	}
}

// NewJob returns a pending job with a fresh ID. CreatedAt and SendAt are left
// zero so that [Queue.Enqueue] stamps them with the queue clock.
func NewJob(userID, templateKey string, data map[string]any, opts ...JobOption) Job {
	j := Job{
		ID:            uuid.NewString(),
		UserID:        userID,
		TemplateKey:   templateKey,
		TemplateData:  data,
		Status:        StatusPending,
		MaxRetryCount: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&j)
	}
	return j
}

// Delivery is what a [Sender] receives for a job.
type Delivery struct {
	JobID        string         `json:"job_id"`
	UserID       string         `json:"user_id"`
	TemplateKey  string         `json:"template_key"`
	TemplateData map[string]any `json:"template_data,omitempty"`
	Priority     int            `json:"priority"`
}

func (j *Job) delivery() Delivery {
	return Delivery{
		JobID:        j.ID,
		UserID:       j.UserID,
		TemplateKey:  j.TemplateKey,
		TemplateData: j.TemplateData,
		Priority:     j.Priority,
	}
}

// Result is the outcome reported by a [Sender]. A false Success is treated
// the same as a returned error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
