package processor

import (
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingCallSID    = errors.New("call sid is required")
	ErrAccountNotFound   = errors.New("no account for this phone number")
	ErrInvalidCallStatus = errors.New("unsupported call status")
)

const defaultCacheTTL = 5 * time.Minute

type VoiceCallProcessor struct {
	store    CallStore
	cache    AccountCache
	events   EventDispatcher
	cacheTTL time.Duration
	logger   *observability.Logger
}

func New(store CallStore, cache AccountCache, events EventDispatcher, cacheTTL time.Duration, logger *observability.Logger) *VoiceCallProcessor {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &VoiceCallProcessor{
		store:    store,
		cache:    cache,
		events:   events,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// IncomingCall is the part of Twilio's voice webhook the assistant uses
type IncomingCall struct {
	CallSID string
	From    string
	To      string
}

// HandleIncomingCall records a new call against the account that owns the dialed number
func (p *VoiceCallProcessor) HandleIncomingCall(ctx context.Context, call IncomingCall) (store.Account, error) {
	if call.CallSID == "" {
		return store.Account{}, ErrMissingCallSID
	}
	ctx = observability.WithCall(ctx, call.CallSID, "")

	account, err := p.accountByPhoneNumber(ctx, call.To)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn(ctx, "incoming call to a number with no account")
			return store.Account{}, ErrAccountNotFound
		}
		p.logger.Error(ctx, "failed to look up account for incoming call", err)
		return store.Account{}, fmt.Errorf("failed to look up account: %w", err)
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "account_id", Value: account.ID.String()})

	_, err = p.store.CreateCallRecord(ctx, store.CreateCallRecordParams{
		CallSID:      call.CallSID,
		AccountID:    account.ID,
		CallerNumber: call.From,
		StartTime:    time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create call record", err)
		return store.Account{}, fmt.Errorf("failed to create call record: %w", err)
	}

	if p.events != nil {
		p.events.CallStarted(ctx, account.ID.String(), call.CallSID, call.From)
	}
	p.logger.Info(ctx, "incoming call recorded")
	return account, nil
}

// GetAccount loads an account by id, used by call sessions to personalize the greeting
func (p *VoiceCallProcessor) GetAccount(ctx context.Context, accountID string) (store.Account, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return store.Account{}, fmt.Errorf("invalid account id %q: %w", accountID, err)
	}
	return p.cachedAccount(ctx, "account:id:"+id.String(), func(ctx context.Context) (store.Account, error) {
		return p.store.GetAccountByID(ctx, id)
	})
}

func (p *VoiceCallProcessor) accountByPhoneNumber(ctx context.Context, phoneNumber string) (store.Account, error) {
	return p.cachedAccount(ctx, "account:phone:"+phoneNumber, func(ctx context.Context) (store.Account, error) {
		return p.store.GetAccountByPhoneNumber(ctx, phoneNumber)
	})
}

func (p *VoiceCallProcessor) cachedAccount(ctx context.Context, key string, load func(context.Context) (store.Account, error)) (store.Account, error) {
	if p.cache != nil && p.cache.IsEnabled() {
		if raw, err := p.cache.Get(ctx, key); err == nil {
			var account store.Account
			if err := json.Unmarshal(raw, &account); err == nil {
				return account, nil
			}
			p.logger.Warn(ctx, "discarding unreadable cached account")
		}
	}

	account, err := load(ctx)
	if err != nil {
		return store.Account{}, err
	}

	if p.cache != nil && p.cache.IsEnabled() {
		if raw, err := json.Marshal(account); err == nil {
			if err := p.cache.Set(ctx, key, raw, p.cacheTTL); err != nil {
				p.logger.WarnWithError(ctx, "failed to cache account", err)
			}
		}
	}
	return account, nil
}
