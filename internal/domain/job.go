package domain

import "time"

// JobResult is the shape every scheduled or manual job run reports.
type JobResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// JobState enumerates scheduler job milestones.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// JobRun is one entry of a job's run history.
type JobRun struct {
	ID         string        `json:"id"`
	Job        string        `json:"job"`
	Manual     bool          `json:"manual"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	State      JobState      `json:"state"`
	Result     JobResult     `json:"result"`
	Error      string        `json:"error,omitempty"`
}

// JobStatus is the health-reporting view of one job.
type JobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	State       JobState   `json:"state"`
	LastState   JobState   `json:"last_state,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	History     []JobRun   `json:"history,omitempty"`
}
