package session

import (
	"call-assistant/internal/dialogue"
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"call-assistant/internal/voicecall/debounce"
	"call-assistant/internal/voicecall/speech"
	"call-assistant/internal/voicecall/twilio"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const inboxSize = 512

// State is the lifecycle stage of a call session
type State int32

const (
	StateConnecting State = iota
	StateGreeting
	StateActive
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateGreeting:
		return "greeting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// callInfo is fixed once the stream starts and is safe to hand to workers
type callInfo struct {
	callSID      string
	streamSID    string
	accountID    string
	callerNumber string
	ownerName    string
	pushToken    string
}

// Snapshot is a copy of a session's conversation state
type Snapshot struct {
	State      State
	CallSID    string
	StreamSID  string
	Role       dialogue.CallerRole
	RoleSet    bool
	Language   string
	Stage      string
	History    []dialogue.Turn
	Queued     int
	InFlight   bool
	HasGreeted bool
}

// Session is the actor for one phone call. All conversation state is owned
// by the run goroutine; other goroutines talk to it through the inbox.
type Session struct {
	manager *Manager
	deps    Dependencies
	cfg     Config
	conn    Conn
	logger  *observability.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	closeReason string
	inbox       chan message
	done        chan struct{}
	state       atomic.Int32

	// actor-owned
	logCtx          context.Context
	call            callInfo
	registered      bool
	stream          RecognizerStream
	dispatcher      *speech.Dispatcher
	debouncer       *debounce.Debouncer
	replies         *serializer
	role            dialogue.CallerRole
	roleSet         bool
	language        string
	stage           string
	history         []dialogue.Turn
	hasGreeted      bool
	endedByDialogue bool
	timers          [numTimers]*time.Timer
	timerGen        [numTimers]uint64
}

func newSession(m *Manager, conn Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		manager: m,
		deps:    m.deps,
		cfg:     m.cfg,
		conn:    conn,
		logger:  m.logger,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan message, inboxSize),
		done:    make(chan struct{}),
		logCtx:  ctx,
		debouncer: debounce.New(debounce.Config{
			SilenceWindow: m.cfg.SilenceWindow,
			MinConfidence: m.cfg.MinConfidence,
			Hold:          m.cfg.FlushHold,
		}),
		replies: newSerializer(m.cfg.QueuePolicy),
		stage:   dialogue.StageStart,
	}
	go s.run()
	return s
}

// HandleEvent feeds one inbound media stream event to the session. It
// returns false once the session is closed; the event is then dropped.
func (s *Session) HandleEvent(event twilio.MediaEvent) bool {
	if s.ctx.Err() != nil {
		s.dropped(event.Event)
		return false
	}

	switch event.Event {
	case twilio.EventConnected:
		s.logger.Debug(s.ctx, "media stream connected")
		return true
	case twilio.EventStart:
		if event.Start == nil {
			s.logger.Warn(s.ctx, "start event without payload")
			return true
		}
		streamSID := event.Start.StreamSid
		if streamSID == "" {
			streamSID = event.StreamSid
		}
		return s.post(startMsg{
			callSID:      event.Start.CallSID(),
			streamSID:    streamSID,
			accountID:    event.Start.AccountID(),
			callerNumber: event.Start.CallerNumber(),
		})
	case twilio.EventMedia:
		chunk, err := event.Audio()
		if err != nil {
			s.logger.WarnWithError(s.ctx, "failed to decode media payload", err)
			return true
		}
		return s.post(mediaMsg{chunk: chunk})
	case twilio.EventStop:
		s.Close("stream stopped")
		return false
	default:
		s.logger.Debug(s.ctx, "ignoring media stream event "+event.Event)
		return true
	}
}

// Close ends the session. Only the first reason is kept; later calls do nothing.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason = reason
		s.cancel()
	})
}

// Done is closed once the session has released all its resources
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has shut down
func (s *Session) Wait() {
	<-s.done
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Snapshot asks the actor for a copy of its state. ok is false after close.
func (s *Session) Snapshot() (snap Snapshot, ok bool) {
	reply := make(chan Snapshot, 1)
	if !s.post(snapshotMsg{reply: reply}) {
		return Snapshot{}, false
	}
	select {
	case snap = <-reply:
		return snap, true
	case <-s.done:
		return Snapshot{}, false
	}
}

// post delivers m to the actor unless the session is closing
func (s *Session) post(m message) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) dropped(event string) {
	s.logger.Debug(s.ctx, "dropping "+event+" event for closed session")
	s.logger.Metrics(s.ctx,
		observability.MetricField{Key: "session_dropped_events", Value: 1},
		observability.MetricField{Key: "event", Value: event},
	)
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ExternalCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
}

func (s *Session) snapshot() Snapshot {
	history := make([]dialogue.Turn, len(s.history))
	copy(history, s.history)
	return Snapshot{
		State:      s.State(),
		CallSID:    s.call.callSID,
		StreamSID:  s.call.streamSID,
		Role:       s.role,
		RoleSet:    s.roleSet,
		Language:   s.language,
		Stage:      s.stage,
		History:    history,
		Queued:     len(s.replies.queue),
		InFlight:   s.replies.inFlight,
		HasGreeted: s.hasGreeted,
	}
}

func accountInfo(call callInfo, account store.Account) callInfo {
	call.ownerName = account.Name
	if account.PushToken != nil {
		call.pushToken = *account.PushToken
	}
	return call
}
