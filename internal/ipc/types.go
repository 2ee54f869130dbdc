package ipc

import (
	"fmt"
	"time"

	"clipforge/internal/daemon"
	"clipforge/internal/faults"
	"clipforge/internal/reclaimer"
	"clipforge/internal/store"
)

// Fault is the wire form of a handled error. Clients receive it as an error.
type Fault struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Code       string `json:"code,omitempty"`
	HTTPStatus int    `json:"http_status"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s (error id %s)", f.Message, f.ID)
}

func faultFrom(e *faults.Error) *Fault {
	if e == nil {
		return nil
	}
	return &Fault{
		ID:         e.ID,
		Type:       string(e.Type),
		Severity:   string(e.Severity),
		Code:       e.Code,
		HTTPStatus: e.Status(),
		Message:    e.UserMessage,
		Retryable:  e.Retryable,
	}
}

// Job is the wire form of a job.
type Job struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Status          string     `json:"status"`
	InputPath       string     `json:"input_path"`
	DurationSeconds float64    `json:"duration_seconds"`
	ClipSeconds     int        `json:"clip_seconds"`
	CreditsCharged  int64      `json:"credits_charged"`
	Progress        int        `json:"progress"`
	Outputs         []string   `json:"outputs,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func jobFrom(job *store.Job) *Job {
	if job == nil {
		return nil
	}
	return &Job{
		ID:              job.ID,
		UserID:          job.UserID,
		Status:          string(job.Status),
		InputPath:       job.InputPath,
		DurationSeconds: job.DurationSeconds,
		ClipSeconds:     job.ClipSeconds,
		CreditsCharged:  job.CreditsCharged,
		Progress:        job.Progress,
		Outputs:         job.Outputs,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
	}
}

// ProcessRequest asks the daemon to queue an uploaded job.
type ProcessRequest struct {
	JobID            string `json:"job_id"`
	UserID           string `json:"user_id"`
	RequestedSeconds int    `json:"requested_seconds,omitempty"`
	CustomSeconds    int    `json:"custom_seconds,omitempty"`
	Subtitles        bool   `json:"subtitles,omitempty"`
	ClipCount        int    `json:"clip_count,omitempty"`
}

// ProcessResponse carries the job as it was queued.
type ProcessResponse struct {
	Job   *Job   `json:"job,omitempty"`
	Fault *Fault `json:"fault,omitempty"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// DependencyStatus describes availability of an external binary.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// SweepStatus describes the last and next run of one sweep.
type SweepStatus struct {
	Name     string    `json:"name"`
	LastRun  time.Time `json:"last_run,omitempty"`
	Removed  int       `json:"removed"`
	Warnings int       `json:"warnings"`
	NextRun  time.Time `json:"next_run,omitempty"`
}

// StatusResponse represents combined daemon, pool, and maintenance status.
type StatusResponse struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    time.Time          `json:"started_at"`
	StartError   string             `json:"start_error,omitempty"`
	DatabasePath string             `json:"database_path"`
	LockPath     string             `json:"lock_path"`
	Workers      int                `json:"workers"`
	Queued       int                `json:"queued"`
	Active       int64              `json:"active"`
	LastError    string             `json:"last_error,omitempty"`
	JobCounts    map[string]int     `json:"job_counts"`
	ErrorsTotal  int64              `json:"errors_total"`
	ErrorsByType map[string]int64   `json:"errors_by_type"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Sweeps       []SweepStatus      `json:"sweeps"`
	HealthWarns  []string           `json:"health_warnings,omitempty"`
	DiskFree     uint64             `json:"disk_free_bytes,omitempty"`
}

func statusFrom(status daemon.Status) StatusResponse {
	resp := StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		StartedAt:    status.StartedAt,
		StartError:   status.StartError,
		DatabasePath: status.DatabasePath,
		LockPath:     status.LockPath,
		Workers:      status.Jobs.Workers,
		Queued:       status.Jobs.Queued,
		Active:       status.Jobs.Active,
		LastError:    status.Jobs.LastError,
		JobCounts: map[string]int{
			string(store.JobUploaded):   status.Summary.Uploaded,
			string(store.JobProcessing): status.Summary.Processing,
			string(store.JobCompleted):  status.Summary.Completed,
			string(store.JobFailed):     status.Summary.Failed,
			string(store.JobCancelled):  status.Summary.Cancelled,
		},
		ErrorsTotal:  status.Errors.Total,
		ErrorsByType: make(map[string]int64, len(status.Errors.ByType)),
	}
	for typ, count := range status.Errors.ByType {
		resp.ErrorsByType[string(typ)] = count
	}
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:      dep.Name,
			Command:   dep.Command,
			Available: dep.Available,
			Version:   dep.Version,
			Detail:    dep.Detail,
		})
	}
	for _, name := range reclaimer.SweepNames() {
		sweep := SweepStatus{Name: name, NextRun: status.NextSweeps[name]}
		if last, ok := status.LastSweeps[name]; ok {
			sweep.LastRun = last.Started
			sweep.Removed = last.Removed
			sweep.Warnings = len(last.Warnings)
		}
		resp.Sweeps = append(resp.Sweeps, sweep)
	}
	if status.Health != nil {
		resp.HealthWarns = status.Health.Warnings
		resp.DiskFree = status.Health.DiskFreeBytes
	}
	return resp
}

// SweepRequest names the sweep to run now.
type SweepRequest struct {
	Name string `json:"name"`
}

// SweepResponse summarizes the run.
type SweepResponse struct {
	Sweep    string        `json:"sweep"`
	Skipped  bool          `json:"skipped"`
	Examined int           `json:"examined"`
	Removed  int           `json:"removed"`
	Bytes    int64         `json:"bytes"`
	Warnings []string      `json:"warnings,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Fault    *Fault        `json:"fault,omitempty"`
}

// RecentErrorsRequest bounds the number of errors returned.
type RecentErrorsRequest struct {
	Limit int `json:"limit"`
}

// ErrorEntry is one handled error from the daemon's recent buffer.
type ErrorEntry struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	JobID     string    `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentErrorsResponse lists errors newest first.
type RecentErrorsResponse struct {
	Errors []ErrorEntry `json:"errors"`
}
