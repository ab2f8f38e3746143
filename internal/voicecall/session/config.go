package session

import (
	"call-assistant/internal/dialogue"
	"call-assistant/internal/voicecall/debounce"
	"call-assistant/internal/voicecall/emergency"
	"call-assistant/internal/voicecall/speech"
	"time"
)

// Config tunes the timing of every call session
type Config struct {
	SilenceWindow       time.Duration
	MinConfidence       float64
	FlushHold           time.Duration
	Cooldown            time.Duration
	GreetingDelay       time.Duration
	HangupGrace         time.Duration
	ExternalCallTimeout time.Duration // zero disables the limit
	SpeakingAutoReset   time.Duration
	QueuePolicy         QueuePolicy
}

func DefaultConfig() Config {
	return Config{
		SilenceWindow:       debounce.DefaultSilenceWindow,
		MinConfidence:       debounce.DefaultMinConfidence,
		FlushHold:           debounce.DefaultHold,
		Cooldown:            500 * time.Millisecond,
		GreetingDelay:       time.Second,
		HangupGrace:         5 * time.Second,
		ExternalCallTimeout: 20 * time.Second,
		SpeakingAutoReset:   speech.DefaultAutoReset,
		QueuePolicy:         QueueLatest,
	}
}

// Dependencies are the collaborators shared by all sessions. Alerts, Accounts,
// Events, Calls and Translator are optional.
type Dependencies struct {
	Recognizer  Recognizer
	Dialogue    dialogue.Generator
	Translator  speech.Translator
	Synthesizer speech.Synthesizer
	Alerts      AlertSender
	Store       CallStore
	Accounts    AccountLookup
	Events      EventPublisher
	Calls       CallCompleter
	Detector    emergency.Detector
}
