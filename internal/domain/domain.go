package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further status transitions can occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Label is the human-facing name of a status. Not part of any wire format.
func (s TaskStatus) Label() string {
	switch s {
	case StatusPending:
		return "queued"
	case StatusProcessing:
		return "running"
	case StatusCompleted:
		return "done"
	case StatusFailed:
		return "error"
	default:
		return string(s)
	}
}

// rank orders statuses along the pending -> processing -> terminal progression.
func (s TaskStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Before reports whether s precedes other in the status progression.
// Backend transitions are monotonic, so an observation that moves
// backwards indicates a stale read.
func (s TaskStatus) Before(other TaskStatus) bool {
	return s.rank() < other.rank()
}

type Task struct {
	ID      string `json:"id"`
	OwnerID string `json:"user_id"`

	AssetKey    string `json:"file_id"`
	AssetURL    string `json:"file_url"`
	Description string `json:"description,omitempty"`

	Status TaskStatus `json:"status"`

	// Result is the identification payload, present only when completed.
	Result json.RawMessage `json:"result,omitempty"`
	// ErrorMessage is present only when failed.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type CreateTaskParams struct {
	OwnerID     string
	AssetKey    string
	AssetURL    string
	Description string
}

// TaskHandle is what Submit returns: enough to watch the task and to
// locate the uploaded asset.
type TaskHandle struct {
	TaskID   string     `json:"task_id"`
	AssetKey string     `json:"file_id"`
	AssetURL string     `json:"file_url"`
	Status   TaskStatus `json:"status"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Identity is the auth-service view of a user. Its UserID lives in a
// different namespace than the internal owner id used on task records.
type Identity struct {
	UserID    string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}
