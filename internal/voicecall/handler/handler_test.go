package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"call-assistant/internal/voicecall/processor"
	"call-assistant/internal/voicecall/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testHost = "assist.example.com"

type MockCallProcessor struct {
	mock.Mock
}

func (m *MockCallProcessor) HandleIncomingCall(ctx context.Context, call processor.IncomingCall) (store.Account, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(store.Account), args.Error(1)
}

func (m *MockCallProcessor) HandleStatusCallback(ctx context.Context, cb processor.StatusCallback) error {
	args := m.Called(ctx, cb)
	return args.Error(0)
}

type recordingValidator struct {
	valid  bool
	url    string
	params map[string]string
	sig    string
}

func (v *recordingValidator) ValidateRequest(url string, params map[string]string, signature string) bool {
	v.url = url
	v.params = params
	v.sig = signature
	return v.valid
}

func newTestRouter(h Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	twilioGroup := r.Group("/api/twilio", h.ValidateTwilioSignature)
	twilioGroup.POST("/voice", h.HandleIncomingCall)
	twilioGroup.POST("/status", h.HandleStatusCallback)
	r.GET("/api/twilio/media-stream", h.HandleMediaStream)
	return r
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signatureHeader, "sig")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleIncomingCall(t *testing.T) {
	accountID := uuid.MustParse("5f0c8c2e-3b7a-4a43-9c55-8d1f2f6f1a10")

	t.Run("connects the call to the media stream", func(t *testing.T) {
		mockProcessor := new(MockCallProcessor)
		mockProcessor.On("HandleIncomingCall", mock.Anything, processor.IncomingCall{
			CallSID: "CA1", From: "+15550001111", To: "+15550009999",
		}).Return(store.Account{ID: accountID, Name: "Ruchit"}, nil).Once()

		h := New(mockProcessor, nil, nil, testHost, observability.NewLogger())
		w := postForm(newTestRouter(h), "/api/twilio/voice", url.Values{
			"CallSid": {"CA1"}, "From": {"+15550001111"}, "To": {"+15550009999"},
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/xml")
		body := w.Body.String()
		assert.Contains(t, body, "<Say")
		assert.Contains(t, body, `voice="alice"`)
		assert.Contains(t, body, "connect you to Ruchit")
		assert.Contains(t, body, "<Connect>")
		assert.Contains(t, body, `url="wss://assist.example.com/api/twilio/media-stream"`)
		assert.Contains(t, body, `name="callSid"`)
		assert.Contains(t, body, `value="CA1"`)
		assert.Contains(t, body, `name="accountId"`)
		assert.Contains(t, body, `value="`+accountID.String()+`"`)
		assert.Contains(t, body, `name="callerNumber"`)
		mockProcessor.AssertExpectations(t)
	})

	t.Run("missing call sid", func(t *testing.T) {
		mockProcessor := new(MockCallProcessor)

		h := New(mockProcessor, nil, nil, testHost, observability.NewLogger())
		w := postForm(newTestRouter(h), "/api/twilio/voice", url.Values{"From": {"+15550001111"}, "To": {"+15550009999"}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_CALL_SID")
		mockProcessor.AssertNotCalled(t, "HandleIncomingCall", mock.Anything, mock.Anything)
	})

	t.Run("unknown number", func(t *testing.T) {
		mockProcessor := new(MockCallProcessor)
		mockProcessor.On("HandleIncomingCall", mock.Anything, mock.Anything).
			Return(store.Account{}, processor.ErrAccountNotFound).Once()

		h := New(mockProcessor, nil, nil, testHost, observability.NewLogger())
		w := postForm(newTestRouter(h), "/api/twilio/voice", url.Values{"CallSid": {"CA1"}, "To": {"+1"}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "ACCOUNT_NOT_FOUND")
	})
}

func TestHandleStatusCallback(t *testing.T) {
	t.Run("records the status", func(t *testing.T) {
		mockProcessor := new(MockCallProcessor)
		mockProcessor.On("HandleStatusCallback", mock.Anything, processor.StatusCallback{
			CallSID: "X", CallStatus: "no-answer", CallDuration: "42",
		}).Return(nil).Once()

		h := New(mockProcessor, nil, nil, testHost, observability.NewLogger())
		w := postForm(newTestRouter(h), "/api/twilio/status", url.Values{
			"CallSid": {"X"}, "CallStatus": {"no-answer"}, "CallDuration": {"42"},
		})

		assert.Equal(t, http.StatusOK, w.Code)
		mockProcessor.AssertExpectations(t)
	})

	t.Run("missing call sid", func(t *testing.T) {
		mockProcessor := new(MockCallProcessor)

		h := New(mockProcessor, nil, nil, testHost, observability.NewLogger())
		w := postForm(newTestRouter(h), "/api/twilio/status", url.Values{"CallStatus": {"completed"}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_CALL_SID")
		assert.Contains(t, w.Body.String(), "CallSid is required")
		mockProcessor.AssertNotCalled(t, "HandleStatusCallback", mock.Anything, mock.Anything)
	})
}

// failingCallStore fails every status write
type failingCallStore struct {
	updates int
}

func (f *failingCallStore) GetAccountByPhoneNumber(ctx context.Context, phoneNumber string) (store.Account, error) {
	return store.Account{}, store.ErrNotFound
}

func (f *failingCallStore) GetAccountByID(ctx context.Context, accountID uuid.UUID) (store.Account, error) {
	return store.Account{}, store.ErrNotFound
}

func (f *failingCallStore) CreateCallRecord(ctx context.Context, params store.CreateCallRecordParams) (store.CallRecord, error) {
	return store.CallRecord{}, errors.New("connection refused")
}

func (f *failingCallStore) UpdateCallStatus(ctx context.Context, params store.UpdateCallStatusParams) (store.CallRecord, error) {
	f.updates++
	return store.CallRecord{}, errors.New("connection refused")
}

func TestHandleStatusCallback_StoreFailureReturnsOK(t *testing.T) {
	callStore := &failingCallStore{}
	p := processor.New(callStore, nil, nil, 0, observability.NewLogger())
	h := New(p, nil, nil, testHost, observability.NewLogger())

	w := postForm(newTestRouter(h), "/api/twilio/status", url.Values{
		"CallSid": {"X"}, "CallStatus": {"completed"}, "CallDuration": {"42"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, 1, callStore.updates)
}

func TestValidateTwilioSignature(t *testing.T) {
	t.Run("rejects an invalid signature", func(t *testing.T) {
		mockProcessor := new(MockCallProcessor)
		validator := &recordingValidator{valid: false}

		h := New(mockProcessor, nil, validator, testHost, observability.NewLogger())
		w := postForm(newTestRouter(h), "/api/twilio/status?attempt=1", url.Values{"CallSid": {"X"}, "CallStatus": {"busy"}})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_SIGNATURE")
		assert.Equal(t, "https://assist.example.com/api/twilio/status?attempt=1", validator.url)
		assert.Equal(t, map[string]string{"CallSid": "X", "CallStatus": "busy"}, validator.params)
		assert.Equal(t, "sig", validator.sig)
		mockProcessor.AssertNotCalled(t, "HandleStatusCallback", mock.Anything, mock.Anything)
	})

	t.Run("passes a valid signature", func(t *testing.T) {
		mockProcessor := new(MockCallProcessor)
		mockProcessor.On("HandleStatusCallback", mock.Anything, mock.Anything).Return(nil).Once()

		h := New(mockProcessor, nil, &recordingValidator{valid: true}, testHost, observability.NewLogger())
		w := postForm(newTestRouter(h), "/api/twilio/status", url.Values{"CallSid": {"X"}, "CallStatus": {"busy"}})

		assert.Equal(t, http.StatusOK, w.Code)
		mockProcessor.AssertExpectations(t)
	})
}

func TestHandleMediaStream_StopEndsSession(t *testing.T) {
	manager := session.NewManager(session.Dependencies{}, session.DefaultConfig(), observability.NewLogger())
	h := New(new(MockCallProcessor), manager, nil, testHost, observability.NewLogger())

	server := httptest.NewServer(newTestRouter(h))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/twilio/media-stream"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected a normal close, got %v", err)
	assert.Equal(t, 0, manager.Count())
}
