package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"call-assistant/internal/observability"
	"call-assistant/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCallStore struct {
	mock.Mock
}

func (m *MockCallStore) GetAccountByPhoneNumber(ctx context.Context, phoneNumber string) (store.Account, error) {
	args := m.Called(ctx, phoneNumber)
	return args.Get(0).(store.Account), args.Error(1)
}

func (m *MockCallStore) GetAccountByID(ctx context.Context, accountID uuid.UUID) (store.Account, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(store.Account), args.Error(1)
}

func (m *MockCallStore) CreateCallRecord(ctx context.Context, params store.CreateCallRecordParams) (store.CallRecord, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(store.CallRecord), args.Error(1)
}

func (m *MockCallStore) UpdateCallStatus(ctx context.Context, params store.UpdateCallStatusParams) (store.CallRecord, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(store.CallRecord), args.Error(1)
}

type MockEventDispatcher struct {
	mock.Mock
}

func (m *MockEventDispatcher) CallStarted(ctx context.Context, accountID, callSID, callerNumber string) {
	m.Called(ctx, accountID, callSID, callerNumber)
}

type memoryCache struct {
	values map[string][]byte
	ttls   map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) IsEnabled() bool { return true }

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := c.values[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return v, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c.values[key] = value
	c.ttls[key] = expiration
	return nil
}

func testAccount() store.Account {
	token := "device-token"
	return store.Account{
		ID:          uuid.MustParse("5f0c8c2e-3b7a-4a43-9c55-8d1f2f6f1a10"),
		Name:        "Ruchit",
		PhoneNumber: "+15550009999",
		PushToken:   &token,
	}
}

func TestHandleIncomingCall_Success(t *testing.T) {
	mockStore := new(MockCallStore)
	mockEvents := new(MockEventDispatcher)
	cache := newMemoryCache()
	p := New(mockStore, cache, mockEvents, time.Minute, observability.NewLogger())

	account := testAccount()
	mockStore.On("GetAccountByPhoneNumber", mock.Anything, "+15550009999").Return(account, nil).Once()
	mockStore.On("CreateCallRecord", mock.Anything, mock.MatchedBy(func(params store.CreateCallRecordParams) bool {
		return params.CallSID == "CA1" && params.AccountID == account.ID && params.CallerNumber == "+15550001111" && !params.StartTime.IsZero()
	})).Return(store.CallRecord{CallSID: "CA1", Status: store.CallStatusInProgress}, nil).Twice()
	mockEvents.On("CallStarted", mock.Anything, account.ID.String(), "CA1", "+15550001111").Twice()

	call := IncomingCall{CallSID: "CA1", From: "+15550001111", To: "+15550009999"}
	got, err := p.HandleIncomingCall(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.Equal(t, "Ruchit", got.Name)
	assert.Equal(t, time.Minute, cache.ttls["account:phone:+15550009999"])

	// a retried webhook is served from the cache
	got, err = p.HandleIncomingCall(context.Background(), call)
	require.NoError(t, err)
	require.NotNil(t, got.PushToken)
	assert.Equal(t, "device-token", *got.PushToken)

	mockStore.AssertExpectations(t)
	mockEvents.AssertExpectations(t)
}

func TestHandleIncomingCall_MissingCallSID(t *testing.T) {
	mockStore := new(MockCallStore)
	p := New(mockStore, nil, nil, 0, observability.NewLogger())

	_, err := p.HandleIncomingCall(context.Background(), IncomingCall{From: "+1", To: "+2"})
	assert.ErrorIs(t, err, ErrMissingCallSID)
	mockStore.AssertNotCalled(t, "GetAccountByPhoneNumber", mock.Anything, mock.Anything)
}

func TestHandleIncomingCall_AccountNotFound(t *testing.T) {
	mockStore := new(MockCallStore)
	p := New(mockStore, nil, nil, 0, observability.NewLogger())

	mockStore.On("GetAccountByPhoneNumber", mock.Anything, "+15550000000").Return(store.Account{}, store.ErrNotFound).Once()

	_, err := p.HandleIncomingCall(context.Background(), IncomingCall{CallSID: "CA1", To: "+15550000000"})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	mockStore.AssertNotCalled(t, "CreateCallRecord", mock.Anything, mock.Anything)
}

func TestHandleIncomingCall_StoreFailure(t *testing.T) {
	mockStore := new(MockCallStore)
	p := New(mockStore, nil, nil, 0, observability.NewLogger())

	mockStore.On("GetAccountByPhoneNumber", mock.Anything, "+15550009999").Return(testAccount(), nil).Once()
	mockStore.On("CreateCallRecord", mock.Anything, mock.Anything).Return(store.CallRecord{}, errors.New("connection reset")).Once()

	_, err := p.HandleIncomingCall(context.Background(), IncomingCall{CallSID: "CA1", To: "+15550009999"})
	assert.ErrorContains(t, err, "connection reset")
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

func TestGetAccount(t *testing.T) {
	mockStore := new(MockCallStore)
	cache := newMemoryCache()
	p := New(mockStore, cache, nil, 0, observability.NewLogger())
	account := testAccount()

	mockStore.On("GetAccountByID", mock.Anything, account.ID).Return(account, nil).Once()

	got, err := p.GetAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Ruchit", got.Name)

	got, err = p.GetAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Ruchit", got.Name)
	assert.Equal(t, defaultCacheTTL, cache.ttls["account:id:"+account.ID.String()])
	mockStore.AssertExpectations(t)

	_, err = p.GetAccount(context.Background(), "not-a-uuid")
	assert.Error(t, err)
}

func TestGetAccount_IgnoresCorruptCache(t *testing.T) {
	mockStore := new(MockCallStore)
	cache := newMemoryCache()
	account := testAccount()
	cache.values["account:id:"+account.ID.String()] = []byte("{not json")
	p := New(mockStore, cache, nil, 0, observability.NewLogger())

	mockStore.On("GetAccountByID", mock.Anything, account.ID).Return(account, nil).Once()

	got, err := p.GetAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	var cached store.Account
	require.NoError(t, json.Unmarshal(cache.values["account:id:"+account.ID.String()], &cached))
	assert.Equal(t, account.ID, cached.ID)
}
