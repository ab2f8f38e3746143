package session

import (
	"call-assistant/internal/clients/deepgram"
	"call-assistant/internal/dialogue"
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"call-assistant/internal/voicecall/debounce"
	"call-assistant/internal/voicecall/speech"
	"context"
	"fmt"
	"time"
)

type message interface{}

type startMsg struct {
	callSID      string
	streamSID    string
	accountID    string
	callerNumber string
}

type mediaMsg struct {
	chunk []byte
}

type preparedMsg struct {
	account store.Account
	found   bool
	stream  RecognizerStream
	err     error
}

type recognitionMsg struct {
	event deepgram.Event
}

type recognizerLostMsg struct {
	stream RecognizerStream
}

type timerMsg struct {
	kind timerKind
	gen  uint64
}

type greetingDoneMsg struct{}

type turnDoneMsg struct {
	result turnResult
}

type endingDoneMsg struct{}

type snapshotMsg struct {
	reply chan Snapshot
}

type timerKind int

const (
	timerSilence timerKind = iota
	timerGreeting
	timerCooldown
	timerHangup
	numTimers
)

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

func (s *Session) handle(m message) {
	switch m := m.(type) {
	case startMsg:
		s.handleStart(m)
	case preparedMsg:
		s.handlePrepared(m)
	case mediaMsg:
		s.handleMedia(m)
	case recognitionMsg:
		s.handleRecognition(m.event)
	case recognizerLostMsg:
		s.handleRecognizerLost(m)
	case timerMsg:
		s.handleTimer(m)
	case greetingDoneMsg:
		s.handleGreetingDone()
	case turnDoneMsg:
		s.handleTurnDone(m.result)
	case endingDoneMsg:
		s.arm(timerHangup, s.cfg.HangupGrace)
	case snapshotMsg:
		m.reply <- s.snapshot()
	}
}

func (s *Session) handleStart(m startMsg) {
	if s.State() != StateConnecting {
		s.logger.Warn(s.logCtx, "ignoring repeated start event")
		return
	}
	if m.callSID == "" {
		s.logger.Error(s.logCtx, "media stream started without a call sid", ErrMissingCallSID)
		s.Close("missing call sid")
		return
	}

	s.call = callInfo{
		callSID:      m.callSID,
		streamSID:    m.streamSID,
		accountID:    m.accountID,
		callerNumber: m.callerNumber,
	}
	s.logCtx = observability.WithCall(s.ctx, m.callSID, m.streamSID)
	if m.accountID != "" {
		s.logCtx = observability.WithFields(s.logCtx, observability.Field{Key: "account_id", Value: m.accountID})
	}

	if err := s.manager.register(m.callSID, s); err != nil {
		s.logger.Error(s.logCtx, "failed to register call session", err)
		s.Close("duplicate session")
		return
	}
	s.registered = true
	s.setState(StateGreeting)
	s.logger.Info(s.logCtx, "media stream started")

	s.dispatcher = speech.NewDispatcher(speech.DispatcherParams{
		Translator:  s.deps.Translator,
		Synthesizer: s.deps.Synthesizer,
		Sender:      s.conn,
		StreamSID:   m.streamSID,
		Timeout:     s.cfg.ExternalCallTimeout,
		AutoReset:   s.cfg.SpeakingAutoReset,
		Logger:      s.logger,
	})

	call := s.call
	logCtx := s.logCtx
	go s.prepare(logCtx, call)
}

// prepare loads the account and opens the recognizer off the actor goroutine
func (s *Session) prepare(ctx context.Context, call callInfo) {
	var m preparedMsg
	if s.deps.Accounts != nil && call.accountID != "" {
		actx, cancel := s.callContext(ctx)
		account, err := s.deps.Accounts.GetAccount(actx, call.accountID)
		cancel()
		if err != nil {
			s.logger.WarnWithError(ctx, "failed to load account for call, greeting without a name", err)
		} else {
			m.account = account
			m.found = true
		}
	}

	octx, cancel := s.callContext(ctx)
	m.stream, m.err = s.deps.Recognizer.Open(octx, func(ev deepgram.Event) {
		s.post(recognitionMsg{event: ev})
	})
	cancel()

	if !s.post(m) && m.stream != nil {
		_ = m.stream.Close()
	}
}

func (s *Session) handlePrepared(m preparedMsg) {
	if m.err != nil {
		s.logger.Error(s.logCtx, "failed to open speech recognition", m.err)
		s.Close("recognizer unavailable")
		return
	}
	s.stream = m.stream
	go s.watchRecognizer(m.stream)
	if m.found {
		s.call = accountInfo(s.call, m.account)
	}
	s.arm(timerGreeting, s.cfg.GreetingDelay)
}

func (s *Session) watchRecognizer(stream RecognizerStream) {
	select {
	case <-stream.Done():
		s.post(recognizerLostMsg{stream: stream})
	case <-s.ctx.Done():
	}
}

// handleRecognizerLost ends the call when the recognition stream stops before the session does
func (s *Session) handleRecognizerLost(m recognizerLostMsg) {
	if m.stream != s.stream {
		return
	}
	switch s.State() {
	case StateGreeting, StateActive:
	default:
		return
	}
	s.logger.Error(s.logCtx, "speech recognition stream lost", ErrRecognizerLost)
	s.logger.Metrics(s.logCtx, observability.MetricField{Key: "recognizer_lost", Value: 1})
	s.Close("recognizer lost")
}

func (s *Session) handleMedia(m mediaMsg) {
	if s.stream == nil {
		return
	}
	if !s.stream.Send(m.chunk) {
		s.logger.Metrics(s.logCtx, observability.MetricField{Key: "recognizer_dropped_chunks", Value: 1})
	}
}

func (s *Session) handleRecognition(ev deepgram.Event) {
	switch s.State() {
	case StateGreeting, StateActive:
	default:
		return
	}

	var r debounce.Result
	switch ev.Type {
	case deepgram.EventTranscript:
		r = s.debouncer.Transcript(ev.Text, ev.Confidence, ev.IsFinal, ev.Language)
	case deepgram.EventUtteranceEnd:
		r = s.debouncer.UtteranceEnd(time.Now())
	case deepgram.EventSpeechStarted:
		r = s.debouncer.SpeechStarted()
	default:
		return
	}
	s.applyDebounce(r)
}

func (s *Session) applyDebounce(r debounce.Result) {
	switch r.Timer {
	case debounce.TimerRestart:
		s.arm(timerSilence, r.Delay)
	case debounce.TimerStop:
		s.disarm(timerSilence)
	}
	if r.Utterance != nil {
		s.settle(*r.Utterance)
	}
}

// settle hands a finished caller utterance to the reply serializer
func (s *Session) settle(u debounce.Utterance) {
	if s.language == "" && u.Language != "" {
		s.language = u.Language
		s.logger.Info(s.logCtx, "caller language detected: "+u.Language)
	}
	s.logger.Info(s.logCtx, fmt.Sprintf("caller said: %q", u.Text))

	if next := s.replies.submit(u); next != nil {
		s.startTurn(*next)
	}
}

func (s *Session) startTurn(u debounce.Utterance) {
	t := turn{
		call:      s.call,
		utterance: u,
		role:      s.role,
		roleSet:   s.roleSet,
		language:  s.language,
		stage:     s.stage,
		history:   append([]dialogue.Turn(nil), s.history...),
	}
	logCtx := s.logCtx
	go func() {
		var result turnResult
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error(logCtx, "reply pipeline panicked", fmt.Errorf("%v", r))
				}
			}()
			result = s.runTurn(logCtx, t)
		}()
		s.post(turnDoneMsg{result: result})
	}()
}

func (s *Session) handleTurnDone(r turnResult) {
	if s.State() != StateActive {
		return
	}
	if r.roleDetected && !s.roleSet {
		s.role = r.role
		s.roleSet = true
		s.logger.Info(s.logCtx, "caller role identified as "+string(r.role))
	}
	if r.ok {
		if r.response.UpdatedHistory != nil {
			s.history = r.response.UpdatedHistory
		}
		if r.response.Stage != "" {
			s.stage = r.response.Stage
		}
		if r.response.Intent != "" {
			s.logger.Debug(s.logCtx, fmt.Sprintf("intent %s, stage %s", r.response.Intent, s.stage))
		}
	}

	if s.stage == dialogue.StageEndOfCall {
		s.beginEnding()
		return
	}
	s.arm(timerCooldown, s.cfg.Cooldown)
}

func (s *Session) handleTimer(m timerMsg) {
	if m.gen != s.timerGen[m.kind] || s.timers[m.kind] == nil {
		return
	}
	s.timers[m.kind] = nil

	switch m.kind {
	case timerSilence:
		if st := s.State(); st == StateGreeting || st == StateActive {
			s.applyDebounce(s.debouncer.Silence(time.Now()))
		}
	case timerGreeting:
		s.greet()
	case timerCooldown:
		if s.State() != StateActive {
			return
		}
		if next := s.replies.done(); next != nil {
			s.startTurn(*next)
		}
	case timerHangup:
		s.Close("end of call")
	}
}

func (s *Session) greet() {
	if s.hasGreeted {
		return
	}
	s.hasGreeted = true

	call := s.call
	logCtx := s.logCtx
	go func() {
		defer s.post(greetingDoneMsg{})
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(logCtx, "greeting panicked", fmt.Errorf("%v", r))
			}
		}()
		s.say(logCtx, call, GreetingText(call.ownerName), "")
	}()
}

func (s *Session) handleGreetingDone() {
	if s.State() != StateGreeting {
		return
	}
	s.setState(StateActive)
	if next := s.replies.resume(); next != nil {
		s.startTurn(*next)
	}
}

func (s *Session) beginEnding() {
	s.setState(StateEnding)
	s.endedByDialogue = true
	s.disarm(timerSilence)
	s.disarm(timerCooldown)
	s.replies.clear()
	s.logger.Info(s.logCtx, "conversation reached end of call, hanging up")

	call := s.call
	history := append([]dialogue.Turn(nil), s.history...)
	logCtx := context.WithoutCancel(s.logCtx)
	go func() {
		defer s.post(endingDoneMsg{})
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(logCtx, "end of call handling panicked", fmt.Errorf("%v", r))
			}
		}()
		s.finishCall(logCtx, call, history)
	}()
}

func (s *Session) shutdown() {
	s.setState(StateClosed)
	for kind := range s.timers {
		s.disarm(timerKind(kind))
	}
	s.replies.clear()
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	if s.stream != nil {
		stream := s.stream
		s.stream = nil
		go func() { _ = stream.Close() }()
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug(s.logCtx, "media stream close: "+err.Error())
	}

	reason := s.closeReason
	s.logger.Info(s.logCtx, "call session closed: "+reason)
	if !s.registered {
		return
	}
	s.manager.remove(s.call.callSID, s)

	call := s.call
	ctx := context.WithoutCancel(s.logCtx)
	endedByDialogue := s.endedByDialogue
	go func() {
		if endedByDialogue && s.deps.Calls != nil {
			cctx, cancel := s.callContext(ctx)
			if err := s.deps.Calls.CompleteCall(cctx, call.callSID); err != nil {
				s.logger.WarnWithError(ctx, "failed to complete call through Twilio", err)
			}
			cancel()
		}
		if s.deps.Events != nil {
			s.deps.Events.CallEnded(ctx, call.accountID, call.callSID, reason)
		}
	}()
}

// arm (re)starts a timer; a fire from an earlier arm is ignored by generation
func (s *Session) arm(kind timerKind, d time.Duration) {
	s.disarm(kind)
	s.timerGen[kind]++
	gen := s.timerGen[kind]
	s.timers[kind] = time.AfterFunc(d, func() {
		s.post(timerMsg{kind: kind, gen: gen})
	})
}

func (s *Session) disarm(kind timerKind) {
	if t := s.timers[kind]; t != nil {
		t.Stop()
		s.timers[kind] = nil
	}
}
