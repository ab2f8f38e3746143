package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendTranscriptEntryParams represents one spoken line to record
type AppendTranscriptEntryParams struct {
	CallSID  string
	Speaker  Speaker
	Text     string
	SpokenAt time.Time
}

// Selecting from call_records makes an unknown call insert nothing instead of failing the foreign key.
const sqlAppendTranscriptEntry = `
INSERT INTO transcript_entries (call_sid, speaker, text, spoken_at)
SELECT call_sid, $2::text, $3::text, $4::timestamptz
FROM call_records
WHERE call_sid = $1
RETURNING id, call_sid, speaker, text, spoken_at
`

// AppendTranscriptEntry adds a line to the call transcript
func (s *Store) AppendTranscriptEntry(ctx context.Context, params AppendTranscriptEntryParams) (TranscriptEntry, error) {
	spokenAt := params.SpokenAt
	if spokenAt.IsZero() {
		spokenAt = time.Now().UTC()
	}

	var entry TranscriptEntry
	err := s.db.GetContext(ctx, &entry, sqlAppendTranscriptEntry,
		params.CallSID,
		params.Speaker,
		params.Text,
		spokenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TranscriptEntry{}, ErrNotFound
		}
		return TranscriptEntry{}, fmt.Errorf("failed to append transcript entry: %w", err)
	}
	return entry, nil
}

const sqlGetTranscript = `
SELECT id, call_sid, speaker, text, spoken_at
FROM transcript_entries
WHERE call_sid = $1
ORDER BY id ASC
`

// GetTranscript returns the transcript of a call in arrival order
func (s *Store) GetTranscript(ctx context.Context, callSID string) ([]TranscriptEntry, error) {
	var entries []TranscriptEntry
	err := s.db.SelectContext(ctx, &entries, sqlGetTranscript, callSID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return entries, nil
}
