package model

import "time"

type TaskState string

const (
	TaskStateIdle    TaskState = "IDLE"
	TaskStateRunning TaskState = "RUNNING"
)

// TaskStatus is the ops-surface view of one scheduled task.
type TaskStatus struct {
	Name      string     `json:"name"`
	State     TaskState  `json:"state"`
	LastStart *time.Time `json:"last_start,omitempty"`
	LastEnd   *time.Time `json:"last_end,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      uint64     `json:"runs"`
	Skips     uint64     `json:"skips"`
}
