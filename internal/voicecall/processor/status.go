package processor

import (
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatusCallback is Twilio's call status webhook
type StatusCallback struct {
	CallSID      string
	CallStatus   string
	CallDuration string
}

// HandleStatusCallback applies a status update to the call record. Only a
// missing call sid is an error; unknown calls, odd values and store failures
// are logged.
func (p *VoiceCallProcessor) HandleStatusCallback(ctx context.Context, cb StatusCallback) error {
	if cb.CallSID == "" {
		return ErrMissingCallSID
	}
	ctx = observability.WithCall(ctx, cb.CallSID, "")
	ctx = observability.WithFields(ctx, observability.Field{Key: "call_status", Value: cb.CallStatus})

	status, err := ParseCallStatus(cb.CallStatus)
	if err != nil {
		p.logger.WarnWithError(ctx, "ignoring status callback", err)
		return nil
	}

	params := store.UpdateCallStatusParams{
		CallSID: cb.CallSID,
		Status:  status,
	}
	if cb.CallDuration != "" {
		duration, err := strconv.Atoi(cb.CallDuration)
		if err != nil || duration < 0 {
			p.logger.Warn(ctx, fmt.Sprintf("ignoring invalid call duration %q", cb.CallDuration))
		} else {
			params.DurationSeconds = &duration
		}
	}
	if status.Terminal() {
		now := time.Now().UTC()
		params.EndTime = &now
	}

	if _, err := p.store.UpdateCallStatus(ctx, params); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn(ctx, "status callback for unknown call")
			return nil
		}
		p.logger.Error(ctx, "failed to update call status", err)
		return nil
	}

	p.logger.Info(ctx, "call status updated")
	return nil
}

// ParseCallStatus accepts the statuses a call record can hold
func ParseCallStatus(s string) (store.CallStatus, error) {
	status := store.CallStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case store.CallStatusInProgress, store.CallStatusCompleted, store.CallStatusNoAnswer,
		store.CallStatusBusy, store.CallStatusFailed, store.CallStatusCanceled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCallStatus, s)
	}
}
