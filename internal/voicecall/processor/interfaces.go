package processor

import (
	"call-assistant/internal/store"
	"context"
	"time"

	"github.com/google/uuid"
)

// CallStore defines the database operations required by VoiceCallProcessor
type CallStore interface {
	GetAccountByPhoneNumber(ctx context.Context, phoneNumber string) (store.Account, error)
	GetAccountByID(ctx context.Context, accountID uuid.UUID) (store.Account, error)
	CreateCallRecord(ctx context.Context, params store.CreateCallRecordParams) (store.CallRecord, error)
	UpdateCallStatus(ctx context.Context, params store.UpdateCallStatusParams) (store.CallRecord, error)
}

// AccountCache is a read-through cache for account lookups. Misses return an error.
type AccountCache interface {
	IsEnabled() bool
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
}

// EventDispatcher defines the event operations required by VoiceCallProcessor
type EventDispatcher interface {
	CallStarted(ctx context.Context, accountID, callSID, callerNumber string)
}
