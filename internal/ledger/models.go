package ledger

import (
	"context"
	"time"
)

// Recording is one processed gateway recording: which call and step it
// answered, where the audio file lives, and when it was stored.
type Recording struct {
	RecordingSID string    `json:"recording_sid"`
	CallSID      string    `json:"call_sid"`
	CallerID     string    `json:"caller_id"`
	StepKey      string    `json:"step_key"`
	FilePath     string    `json:"file_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// Call lifecycle event names.
const (
	EventAnswered        = "answered"
	EventQuestionAsked   = "question_asked"
	EventInvalidInput    = "invalid_input"
	EventRecordingStored = "recording_stored"
	EventCompleted       = "completed"
)

// CallEvent is one call lifecycle event.
type CallEvent struct {
	ID        int64     `json:"id"`
	CallSID   string    `json:"call_sid"`
	CallerID  string    `json:"caller_id"`
	StepKey   string    `json:"step_key,omitempty"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminUser is an admin panel account.
type AdminUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordingRepository manages the recordings ledger.
type RecordingRepository interface {
	// Insert adds a recording row. Returns false if a row for the same
	// recording SID already exists (redelivered notification).
	Insert(ctx context.Context, rec *Recording) (bool, error)
	Exists(ctx context.Context, recordingSID string) (bool, error)
	ListByCaller(ctx context.Context, callerID string) ([]Recording, error)
	Count(ctx context.Context) (int64, error)
	// DeleteOlderThan removes rows older than the given number of days and
	// returns the deleted rows so callers can remove files from disk.
	DeleteOlderThan(ctx context.Context, days int) ([]Recording, error)
}

// CallEventRepository manages the call activity log.
type CallEventRepository interface {
	Insert(ctx context.Context, ev *CallEvent) error
	ListByCall(ctx context.Context, callSID string) ([]CallEvent, error)
	CountByEvent(ctx context.Context) (map[string]int64, error)
}

// AdminUserRepository manages admin panel users.
type AdminUserRepository interface {
	Create(ctx context.Context, user *AdminUser) error
	GetByUsername(ctx context.Context, username string) (*AdminUser, error)
	Count(ctx context.Context) (int64, error)
}
