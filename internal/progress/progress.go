// Package progress tracks the state of asynchronous ingestion
// sessions. Sessions are short-lived: a session not updated within the
// TTL counts as abandoned and is evicted.
package progress

import (
	"context"
	"errors"
	"time"
)

// Session statuses. Stage-specific statuses (downloading, uploading,
// transcribing, processing) are free-form; these two are terminal.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// DefaultTTL is how long a silent session stays readable.
const DefaultTTL = 5 * time.Minute

// ErrSessionNotFound indicates no session exists under the id.
var ErrSessionNotFound = errors.New("progress session not found")

// ErrSessionExpired indicates the session went silent past the TTL.
var ErrSessionExpired = errors.New("progress session expired")

// State is the full progress snapshot of one session.
type State struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	Message        string    `json:"message,omitempty"`
	TotalFiles     int       `json:"total_files,omitempty"`
	ProcessedFiles int       `json:"processed_files,omitempty"`
	CurrentFile    string    `json:"current_file,omitempty"`
	FileList       []string  `json:"file_list,omitempty"`
	Error          string    `json:"error,omitempty"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Terminal reports whether the session has finished, one way or the
// other.
func (s *State) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

// Store persists session state. Update stamps LastUpdated; Get
// surfaces ErrSessionNotFound or ErrSessionExpired for dead sessions.
type Store interface {
	Update(ctx context.Context, state State) error
	Get(ctx context.Context, sessionID string) (*State, error)
	MarkComplete(ctx context.Context, sessionID string) error
	MarkError(ctx context.Context, sessionID, message string) error
	Close() error
}
