package dto

import (
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

// StatusResponse is the ops view of the running bot.
type StatusResponse struct {
	Account         model.Account      `json:"account"`
	Env             string             `json:"env"`
	StateBackend    string             `json:"state_backend"`
	UptimeSeconds   int64              `json:"uptime_seconds"`
	CooldownSeconds float64            `json:"cooldown_seconds"`
	TrackedThreads  int                `json:"tracked_threads"`
	Tasks           []model.TaskStatus `json:"tasks"`
}

// ThreadListResponse wraps the tracked-thread summaries.
type ThreadListResponse struct {
	Threads []model.ThreadSummary `json:"threads"`
	Count   int                   `json:"count"`
}
