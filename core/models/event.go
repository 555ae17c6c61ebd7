package models

import "time"

// JobEvent represents a state transition event for a job
type JobEvent struct {
	ID         int64      `json:"id"`
	JobID      string     `json:"jobId"`
	At         time.Time  `json:"at"`
	FromStatus *JobStatus `json:"fromStatus,omitempty"`
	ToStatus   JobStatus  `json:"toStatus"`
	Reason     string     `json:"reason"`
}
