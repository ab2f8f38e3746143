package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"call-assistant/internal/clients/deepgram"
	"call-assistant/internal/clients/fcm"
	"call-assistant/internal/dialogue"
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"call-assistant/internal/voicecall/twilio"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeStream struct {
	mu       sync.Mutex
	chunks   [][]byte
	closed   bool
	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{stopped: make(chan struct{})}
}

func (f *fakeStream) Send(chunk []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	return true
}

func (f *fakeStream) Done() <-chan struct{} {
	return f.stopped
}

// drop stops the stream the way a lost connection does
func (f *fakeStream) drop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.drop()
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeRecognizer struct {
	mu      sync.Mutex
	onEvent func(deepgram.Event)
	stream  *fakeStream
	err     error
}

func (r *fakeRecognizer) Open(ctx context.Context, onEvent func(deepgram.Event)) (RecognizerStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.onEvent = onEvent
	r.stream = newFakeStream()
	return r.stream, nil
}

func (r *fakeRecognizer) emit(ev deepgram.Event) {
	r.mu.Lock()
	onEvent := r.onEvent
	r.mu.Unlock()
	if onEvent != nil {
		onEvent(ev)
	}
}

func (r *fakeRecognizer) opened() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onEvent != nil
}

type fakeConn struct {
	mu      sync.Mutex
	spoken  []string
	hangups []string
	closed  int
}

// SendMedia records each frame as text; the fake synthesizer returns the text itself as audio
func (c *fakeConn) SendMedia(streamSID string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spoken = append(c.spoken, string(payload))
	return nil
}

func (c *fakeConn) SendHangup(streamSID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangups = append(c.hangups, streamSID)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) said() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.spoken...)
}

func (c *fakeConn) hangupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hangups)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func (f *fakeSynthesizer) gate(text string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gates == nil {
		f.gates = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	f.gates[text] = ch
	return ch
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	gate := f.gates[text]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(text), nil
}

// echoTranslator marks translated text so tests can see which way it went
type echoTranslator struct {
	mu    sync.Mutex
	calls []string
}

func (e *echoTranslator) Translate(ctx context.Context, text, target, source string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, source+">"+target+":"+text)
	return text, nil
}

type fakeDialogue struct {
	mu       sync.Mutex
	requests []dialogue.Request
	respond  func(req dialogue.Request) (dialogue.Response, error)
	trace    *[]string
}

func (f *fakeDialogue) Generate(ctx context.Context, req dialogue.Request) (dialogue.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	if f.trace != nil {
		*f.trace = append(*f.trace, "dialogue")
	}
	f.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	return echoReply(req), nil
}

func (f *fakeDialogue) calls() []dialogue.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dialogue.Request(nil), f.requests...)
}

func echoReply(req dialogue.Request) dialogue.Response {
	reply := "you said " + req.Message
	history := append(append([]dialogue.Turn(nil), req.History...),
		dialogue.Turn{Role: "user", Content: req.Message},
		dialogue.Turn{Role: "assistant", Content: reply},
	)
	return dialogue.Response{ReplyText: reply, UpdatedHistory: history, Stage: "gathering", Intent: "message"}
}

type fakeStore struct {
	mu          sync.Mutex
	entries     []store.AppendTranscriptEntryParams
	completes   []store.CompleteCallParams
	completeErr error
}

func (f *fakeStore) AppendTranscriptEntry(ctx context.Context, params store.AppendTranscriptEntryParams) (store.TranscriptEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, params)
	return store.TranscriptEntry{CallSID: params.CallSID, Speaker: params.Speaker, Text: params.Text, SpokenAt: params.SpokenAt}, nil
}

func (f *fakeStore) CompleteCall(ctx context.Context, params store.CompleteCallParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, params)
	return f.completeErr
}

func (f *fakeStore) transcript() []store.AppendTranscriptEntryParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.AppendTranscriptEntryParams(nil), f.entries...)
}

func (f *fakeStore) completions() []store.CompleteCallParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.CompleteCallParams(nil), f.completes...)
}

type fakeAccounts struct {
	accounts map[string]store.Account
}

func (f fakeAccounts) GetAccount(ctx context.Context, accountID string) (store.Account, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return a, nil
}

type MockAlertSender struct {
	mock.Mock
	trace *[]string
	mu    *sync.Mutex
}

func (m *MockAlertSender) SendEmergencyAlert(ctx context.Context, token string, alert fcm.Alert) error {
	if m.trace != nil {
		m.mu.Lock()
		*m.trace = append(*m.trace, "alert")
		m.mu.Unlock()
	}
	args := m.Called(ctx, token, alert)
	return args.Error(0)
}

type MockCallCompleter struct {
	mock.Mock
}

func (m *MockCallCompleter) CompleteCall(ctx context.Context, callSID string) error {
	args := m.Called(ctx, callSID)
	return args.Error(0)
}

type fakeEvents struct {
	mu         sync.Mutex
	emergences []bool
	ended      []string
}

func (f *fakeEvents) CallEmergency(ctx context.Context, accountID, callSID, utterance string, alerted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emergences = append(f.emergences, alerted)
}

func (f *fakeEvents) CallEnded(ctx context.Context, accountID, callSID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, reason)
}

func (f *fakeEvents) endedReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

type harness struct {
	t          *testing.T
	manager    *Manager
	recognizer *fakeRecognizer
	conn       *fakeConn
	synth      *fakeSynthesizer
	translator *echoTranslator
	dialogue   *fakeDialogue
	store      *fakeStore
	alerts     *MockAlertSender
	calls      *MockCallCompleter
	events     *fakeEvents
	trace      []string
	traceMu    sync.Mutex
}

func testConfig() Config {
	return Config{
		SilenceWindow:       50 * time.Millisecond,
		MinConfidence:       0.6,
		FlushHold:           10 * time.Millisecond,
		Cooldown:            10 * time.Millisecond,
		GreetingDelay:       5 * time.Millisecond,
		HangupGrace:         30 * time.Millisecond,
		ExternalCallTimeout: time.Second,
		SpeakingAutoReset:   time.Second,
		QueuePolicy:         QueueLatest,
	}
}

func newHarness(t *testing.T, cfg Config, pushToken *string) *harness {
	h := &harness{
		t:          t,
		recognizer: &fakeRecognizer{},
		conn:       &fakeConn{},
		synth:      &fakeSynthesizer{},
		translator: &echoTranslator{},
		store:      &fakeStore{},
		calls:      new(MockCallCompleter),
		events:     &fakeEvents{},
	}
	h.dialogue = &fakeDialogue{trace: &h.trace}
	h.alerts = &MockAlertSender{trace: &h.trace, mu: &h.traceMu}

	accounts := fakeAccounts{accounts: map[string]store.Account{
		"acc-1": {Name: "Ruchit", PhoneNumber: "+15550009999", PushToken: pushToken},
	}}

	h.manager = NewManager(Dependencies{
		Recognizer:  h.recognizer,
		Dialogue:    h.dialogue,
		Translator:  h.translator,
		Synthesizer: h.synth,
		Alerts:      h.alerts,
		Store:       h.store,
		Accounts:    accounts,
		Events:      h.events,
		Calls:       h.calls,
	}, cfg, observability.NewLogger())
	return h
}

func startEvent(callSID string) twilio.MediaEvent {
	return twilio.MediaEvent{
		Event:     twilio.EventStart,
		StreamSid: "MZ-" + callSID,
		Start: &twilio.StartPayload{
			StreamSid: "MZ-" + callSID,
			CallSid:   callSID,
			CustomParameters: map[string]string{
				twilio.ParamCallSID:      callSID,
				twilio.ParamAccountID:    "acc-1",
				twilio.ParamCallerNumber: "+15550001111",
			},
		},
	}
}

// start opens a session and waits until the greeting has been spoken
func (h *harness) start(callSID string) *Session {
	s := h.manager.NewSession(h.conn)
	require.True(h.t, s.HandleEvent(startEvent(callSID)))
	require.Eventually(h.t, func() bool { return s.State() == StateActive }, waitFor, time.Millisecond)
	return s
}

func (h *harness) final(text, language string) {
	h.recognizer.emit(deepgram.Event{Type: deepgram.EventTranscript, Text: text, Confidence: 0.95, IsFinal: true, Language: language})
}

func (h *harness) interim(text string) {
	h.recognizer.emit(deepgram.Event{Type: deepgram.EventTranscript, Text: text, Confidence: 0.95})
}

func (h *harness) utteranceEnd() {
	h.recognizer.emit(deepgram.Event{Type: deepgram.EventUtteranceEnd})
}

// say emits one complete caller utterance
func (h *harness) say(text string) {
	h.final(text, "")
	h.utteranceEnd()
}

func (h *harness) waitDialogueCalls(n int) []dialogue.Request {
	require.Eventually(h.t, func() bool { return len(h.dialogue.calls()) >= n }, waitFor, time.Millisecond)
	return h.dialogue.calls()
}

func (h *harness) waitSpoken(text string) {
	require.Eventually(h.t, func() bool {
		for _, s := range h.conn.said() {
			if s == text {
				return true
			}
		}
		return false
	}, waitFor, time.Millisecond, "never spoke %q", text)
}

func (h *harness) traceCopy() []string {
	h.traceMu.Lock()
	defer h.traceMu.Unlock()
	h.dialogue.mu.Lock()
	defer h.dialogue.mu.Unlock()
	return append([]string(nil), h.trace...)
}

var errBackendDown = errors.New("connection refused")
