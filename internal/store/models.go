package store

import (
	"database/sql/driver"
	"errors"
	"time"

	"github.com/google/uuid"
)

// CallStatus mirrors the call states reported by Twilio
type CallStatus string

const (
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether the call can no longer change state.
func (s CallStatus) Terminal() bool {
	return s != CallStatusInProgress && s != ""
}

// Speaker identifies who produced a transcript entry
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

// Account is the user whose calls are screened
type Account struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	PhoneNumber string    `db:"phone_number"`
	PushToken   *string   `db:"push_token"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// CallRecord is the persisted summary of one phone call
type CallRecord struct {
	ID              uuid.UUID         `db:"id"`
	CallSID         string            `db:"call_sid"`
	AccountID       uuid.UUID         `db:"account_id"`
	CallerNumber    string            `db:"caller_number"`
	Status          CallStatus        `db:"status"`
	StartTime       time.Time         `db:"start_time"`
	EndTime         *time.Time        `db:"end_time"`
	DurationSeconds int               `db:"duration_seconds"`
	History         RawJSON           `db:"history"`
	CreatedAt       time.Time         `db:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at"`
	Transcript      []TranscriptEntry `db:"-"`
}

// TranscriptEntry is one line of the append-only call transcript
type TranscriptEntry struct {
	ID       int64     `db:"id"`
	CallSID  string    `db:"call_sid"`
	Speaker  Speaker   `db:"speaker"`
	Text     string    `db:"text"`
	SpokenAt time.Time `db:"spoken_at"`
}

// RawJSON holds an opaque JSONB document
type RawJSON []byte

// Value implements the driver.Valuer interface for RawJSON
func (j RawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "[]", nil
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface for RawJSON
func (j *RawJSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(RawJSON(nil), v...)
	case string:
		*j = RawJSON(v)
	default:
		return errors.New("incompatible type for RawJSON")
	}
	return nil
}
