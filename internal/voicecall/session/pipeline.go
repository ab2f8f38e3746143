package session

import (
	"call-assistant/internal/clients/fcm"
	"call-assistant/internal/dialogue"
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"call-assistant/internal/voicecall/debounce"
	"call-assistant/internal/voicecall/emergency"
	"call-assistant/internal/voicecall/speech"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Apology is spoken when the dialogue backend cannot produce a reply
const Apology = "Sorry, I'm having a little trouble right now. Could you repeat that?"

const alertTitle = "Urgent Call Alert"

// GreetingText is the first thing the assistant says once the stream is up
func GreetingText(ownerName string) string {
	if ownerName == "" {
		return "Hi! This is an AI assistant. How can I help you today?"
	}
	return fmt.Sprintf("Hi! This is %s's AI assistant. How can I help you today?", ownerName)
}

// turn is the input of one reply pipeline, copied out of the actor
type turn struct {
	call      callInfo
	utterance debounce.Utterance
	role      dialogue.CallerRole
	roleSet   bool
	language  string
	stage     string
	history   []dialogue.Turn
}

type turnResult struct {
	role         dialogue.CallerRole
	roleDetected bool
	response     dialogue.Response
	ok           bool
}

// runTurn answers one caller utterance: emergency check, dialogue, speech and
// transcript. Every step handles its own errors.
func (s *Session) runTurn(ctx context.Context, t turn) turnResult {
	text := t.utterance.Text
	s.saveEntry(ctx, t.call.callSID, store.SpeakerCaller, text, t.utterance.At)

	if s.deps.Detector.Detect(text) {
		s.handleEmergency(ctx, t.call, text, t.language)
	}

	result := turnResult{role: t.role}
	if !t.roleSet {
		result.role = dialogue.DetectCallerRole(text)
		result.roleDetected = true
	}

	message := text
	if speech.NeedsTranslation(t.language) && s.deps.Translator != nil {
		tctx, cancel := s.callContext(ctx)
		translated, err := s.deps.Translator.Translate(tctx, text, "en", t.language)
		cancel()
		if err != nil {
			s.logger.WarnWithError(ctx, "failed to translate caller text, sending original", err)
		} else if translated != "" {
			message = translated
		}
	}

	if ctx.Err() != nil {
		return result
	}

	gctx, cancel := s.callContext(ctx)
	resp, err := s.deps.Dialogue.Generate(gctx, dialogue.Request{
		Role:      result.role,
		Message:   message,
		History:   t.history,
		Stage:     t.stage,
		OwnerName: t.call.ownerName,
	})
	cancel()
	if err != nil {
		if !errors.Is(err, dialogue.ErrDialogueUnavailable) {
			err = fmt.Errorf("%w: %v", dialogue.ErrDialogueUnavailable, err)
		}
		s.logger.Error(ctx, "failed to generate reply", err)
		s.say(ctx, t.call, Apology, t.language)
		return result
	}

	if resp.ReplyText != "" {
		s.say(ctx, t.call, resp.ReplyText, t.language)
	}
	result.response = resp
	result.ok = true
	return result
}

// handleEmergency alerts the account owner, then tells the caller. The alert
// is attempted only when the owner has a push token.
func (s *Session) handleEmergency(ctx context.Context, call callInfo, text, language string) {
	s.logger.Warn(ctx, "emergency detected in caller speech")

	alerted := false
	switch {
	case call.pushToken == "":
		s.logger.Warn(ctx, "no push token registered, skipping emergency alert")
	case s.deps.Alerts == nil:
		s.logger.Warn(ctx, "push alerts not configured, skipping emergency alert")
	default:
		actx, cancel := s.callContext(ctx)
		err := s.deps.Alerts.SendEmergencyAlert(actx, call.pushToken, fcm.Alert{
			Title:        alertTitle,
			Body:         emergency.AlertBody(text),
			CallSID:      call.callSID,
			CallerNumber: call.callerNumber,
			Timestamp:    time.Now().UTC(),
		})
		cancel()
		if err != nil {
			s.logger.Error(ctx, "failed to send emergency alert", err)
		} else {
			alerted = true
			s.logger.Info(ctx, "emergency alert sent")
		}
	}

	if s.deps.Events != nil {
		s.deps.Events.CallEmergency(ctx, call.accountID, call.callSID, text, alerted)
	}
	s.say(ctx, call, emergency.Acknowledgement, language)
}

// say speaks text and records it in the transcript
func (s *Session) say(ctx context.Context, call callInfo, text, language string) {
	if ctx.Err() != nil {
		return
	}
	if s.dispatcher != nil {
		s.dispatcher.Speak(ctx, text, language)
	}
	s.saveEntry(ctx, call.callSID, store.SpeakerAssistant, text, time.Now())
}

func (s *Session) saveEntry(ctx context.Context, callSID string, speaker store.Speaker, text string, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	sctx, cancel := s.callContext(ctx)
	defer cancel()

	_, err := s.deps.Store.AppendTranscriptEntry(sctx, store.AppendTranscriptEntryParams{
		CallSID:  callSID,
		Speaker:  speaker,
		Text:     text,
		SpokenAt: at,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn(ctx, "no call record for transcript entry")
	case err != nil:
		s.logger.Error(ctx, "failed to save transcript entry", err)
	}
}

// finishCall records the completed call and asks Twilio to hang up. It runs
// on a context that outlives the session so the record is always written.
func (s *Session) finishCall(ctx context.Context, call callInfo, history []dialogue.Turn) {
	if history == nil {
		history = []dialogue.Turn{}
	}
	snapshot, err := json.Marshal(history)
	if err != nil {
		s.logger.Error(ctx, "failed to encode conversation history", err)
		snapshot = []byte("[]")
	}

	pctx, cancel := s.callContext(ctx)
	err = s.deps.Store.CompleteCall(pctx, store.CompleteCallParams{
		CallSID: call.callSID,
		EndTime: time.Now().UTC(),
		History: store.RawJSON(snapshot),
	})
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn(ctx, "no call record to complete")
	case err != nil:
		s.logger.Error(ctx, "failed to mark call completed", err)
	}

	if err := s.conn.SendHangup(call.streamSID); err != nil {
		s.logger.Error(ctx, "failed to send hangup", err)
	}
	s.logger.Metrics(ctx, observability.MetricField{Key: "calls_ended_by_assistant", Value: 1})
}
