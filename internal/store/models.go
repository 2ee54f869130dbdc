package store

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a job.
type JobStatus string

const (
	JobUploaded   JobStatus = "uploaded"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// InterruptedReason is recorded on jobs that were processing when the daemon stopped.
const InterruptedReason = "Interrupted by daemon shutdown"

var allJobStatuses = []JobStatus{
	JobUploaded,
	JobProcessing,
	JobCompleted,
	JobFailed,
	JobCancelled,
}

// jobTransitions lists every permitted edge. Completed, failed, and
// cancelled are terminal.
var jobTransitions = map[JobStatus][]JobStatus{
	JobUploaded:   {JobProcessing, JobCancelled},
	JobProcessing: {JobCompleted, JobFailed, JobCancelled},
}

// AllJobStatuses returns every known job status in lifecycle order.
func AllJobStatuses() []JobStatus {
	out := make([]JobStatus, len(allJobStatuses))
	copy(out, allJobStatuses)
	return out
}

// ParseJobStatus normalizes a user-provided status string.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allJobStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return len(jobTransitions[s]) == 0
}

// Job is one uploaded source video and the work done on it.
type Job struct {
	ID              string
	UserID          string
	Status          JobStatus
	InputPath       string
	InputSize       int64
	RawMetadata     string
	DurationSeconds float64
	ClipSeconds     int
	Subtitles       bool
	CreditsCharged  int64
	Outputs         []string
	Progress        int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// ClipMetadata describes where a clip sits within its source.
type ClipMetadata struct {
	SegmentIndex          int     `json:"segment_index"`
	SegmentTotal          int     `json:"segment_total"`
	StartSeconds          float64 `json:"start_seconds"`
	EndSeconds            float64 `json:"end_seconds"`
	SourceDurationSeconds float64 `json:"source_duration_seconds"`
	Subtitles             bool    `json:"subtitles"`
}

// Clip is one produced segment artifact.
type Clip struct {
	ID              string
	JobID           string
	UserID          string
	Filename        string
	Path            string
	DurationSeconds float64
	SizeBytes       int64
	ThumbnailPath   string
	Metadata        ClipMetadata
	Archived        bool
	ArchivedAt      *time.Time
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionEarned    TransactionType = "earned"
	TransactionSpent     TransactionType = "spent"
	TransactionPurchased TransactionType = "purchased"
	TransactionBonus     TransactionType = "bonus"
)

// CreditAccount holds a user's balance. Remaining is always derived.
type CreditAccount struct {
	UserID    string
	Total     int64
	Used      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns Total - Used.
func (a CreditAccount) Remaining() int64 {
	return a.Total - a.Used
}

// CreditTransaction is an immutable ledger entry.
type CreditTransaction struct {
	ID          int64
	UserID      string
	Type        TransactionType
	Amount      int64
	Description string
	JobID       string
	ClipID      string
	CreatedAt   time.Time
}

// ErrorRecord is a persisted, already-redacted error.
type ErrorRecord struct {
	ID          string
	Type        string
	Severity    string
	Code        string
	HTTPStatus  int
	Message     string
	UserMessage string
	Stack       string
	ContextJSON string
	UserID      string
	SessionID   string
	RequestID   string
	Recoverable bool
	Retryable   bool
	CreatedAt   time.Time
}

// ActivityEntry records a user-visible pipeline event.
type ActivityEntry struct {
	ID        int64
	UserID    string
	JobID     string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// JobSummary aggregates job counts for diagnostics.
type JobSummary struct {
	Total      int
	Uploaded   int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}
