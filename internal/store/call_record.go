package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCallRecordParams represents parameters for recording a new call
type CreateCallRecordParams struct {
	CallSID      string
	AccountID    uuid.UUID
	CallerNumber string
	StartTime    time.Time
}

// UpdateCallStatusParams represents a status callback from Twilio
type UpdateCallStatusParams struct {
	CallSID         string
	Status          CallStatus
	DurationSeconds *int
	EndTime         *time.Time
}

// CompleteCallParams represents the end of an assistant-driven call
type CompleteCallParams struct {
	CallSID string
	EndTime time.Time
	History RawJSON
}

const callRecordColumns = `id, call_sid, account_id, caller_number, status, start_time, end_time, duration_seconds, history, created_at, updated_at`

// Twilio retries the voice webhook, so a second insert for the same call keeps the first row.
const sqlCreateCallRecord = `
INSERT INTO call_records (call_sid, account_id, caller_number, status, start_time)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (call_sid) DO UPDATE SET updated_at = NOW()
RETURNING ` + callRecordColumns

// CreateCallRecord stores a new in-progress call
func (s *Store) CreateCallRecord(ctx context.Context, params CreateCallRecordParams) (CallRecord, error) {
	startTime := params.StartTime
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}

	var record CallRecord
	err := s.db.GetContext(ctx, &record, sqlCreateCallRecord,
		params.CallSID,
		params.AccountID,
		params.CallerNumber,
		CallStatusInProgress,
		startTime)
	if err != nil {
		return CallRecord{}, fmt.Errorf("failed to create call record: %w", err)
	}
	return record, nil
}

const sqlGetCallRecord = `
SELECT ` + callRecordColumns + `
FROM call_records
WHERE call_sid = $1
`

// GetCallRecord retrieves a call and its transcript
func (s *Store) GetCallRecord(ctx context.Context, callSID string) (CallRecord, error) {
	var record CallRecord
	err := s.db.GetContext(ctx, &record, sqlGetCallRecord, callSID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, fmt.Errorf("failed to get call record: %w", err)
	}

	record.Transcript, err = s.GetTranscript(ctx, callSID)
	if err != nil {
		return CallRecord{}, err
	}
	return record, nil
}

const sqlUpdateCallStatus = `
UPDATE call_records
SET status = $2,
    duration_seconds = COALESCE($3, duration_seconds),
    end_time = COALESCE($4, end_time),
    updated_at = NOW()
WHERE call_sid = $1
RETURNING ` + callRecordColumns

// UpdateCallStatus applies a status change. Unknown calls return ErrNotFound and are never created.
func (s *Store) UpdateCallStatus(ctx context.Context, params UpdateCallStatusParams) (CallRecord, error) {
	var record CallRecord
	err := s.db.GetContext(ctx, &record, sqlUpdateCallStatus,
		params.CallSID,
		params.Status,
		params.DurationSeconds,
		params.EndTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, fmt.Errorf("failed to update call status: %w", err)
	}
	return record, nil
}

const sqlCompleteCall = `
UPDATE call_records
SET status = 'completed',
    end_time = $2::timestamptz,
    duration_seconds = GREATEST(duration_seconds, EXTRACT(EPOCH FROM ($2::timestamptz - start_time))::int),
    history = $3::jsonb,
    updated_at = NOW()
WHERE call_sid = $1
`

// CompleteCall marks a call finished by the assistant and snapshots the conversation history
func (s *Store) CompleteCall(ctx context.Context, params CompleteCallParams) error {
	res, err := s.db.ExecContext(ctx, sqlCompleteCall,
		params.CallSID,
		params.EndTime,
		params.History)
	if err != nil {
		return fmt.Errorf("failed to complete call: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
