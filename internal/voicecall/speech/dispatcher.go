package speech

import (
	"call-assistant/internal/observability"
	"call-assistant/internal/voice/audio"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAutoReset releases the speaking flag if a Speak call never returns
const DefaultAutoReset = 30 * time.Second

type Translator interface {
	Translate(ctx context.Context, text, target, source string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MediaSender writes one outbound audio frame onto the call's media stream
type MediaSender interface {
	SendMedia(streamSID string, payload []byte) error
}

type DispatcherParams struct {
	Translator  Translator
	Synthesizer Synthesizer
	Sender      MediaSender
	StreamSID   string
	Timeout     time.Duration
	AutoReset   time.Duration
	Logger      *observability.Logger
}

// Dispatcher turns reply text into audio frames on one call's media stream.
// Only one Speak runs at a time per call; overlapping calls are dropped.
type Dispatcher struct {
	translator  Translator
	synthesizer Synthesizer
	sender      MediaSender
	streamSID   string
	timeout     time.Duration
	autoReset   time.Duration
	logger      *observability.Logger

	speaking   atomic.Bool
	generation atomic.Uint64
	resetMu    sync.Mutex
	resetTimer *time.Timer
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	if p.AutoReset <= 0 {
		p.AutoReset = DefaultAutoReset
	}
	return &Dispatcher{
		translator:  p.Translator,
		synthesizer: p.Synthesizer,
		sender:      p.Sender,
		streamSID:   p.StreamSID,
		timeout:     p.Timeout,
		autoReset:   p.AutoReset,
		logger:      p.Logger,
	}
}

// Speak translates text into language when it is not English, synthesizes it
// and streams it to the caller. It reports whether audio was sent. Failures
// are logged and never returned.
func (d *Dispatcher) Speak(ctx context.Context, text, language string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if !d.speaking.CompareAndSwap(false, true) {
		d.logger.Warn(ctx, "speech already in progress, dropping reply")
		d.logger.Metrics(ctx, observability.MetricField{Key: "speech_suppressed", Value: 1})
		return false
	}
	gen := d.generation.Add(1)
	d.armReset(gen)
	defer d.release(gen)

	if NeedsTranslation(language) && d.translator != nil {
		tctx, cancel := d.callContext(ctx)
		translated, err := d.translator.Translate(tctx, text, language, "en")
		cancel()
		if err != nil {
			d.logger.WarnWithError(ctx, "failed to translate reply, speaking original text", err)
		} else if translated != "" {
			text = translated
		}
	}

	sctx, cancel := d.callContext(ctx)
	speech, err := d.synthesizer.Synthesize(sctx, text)
	cancel()
	if err != nil {
		d.logger.Error(ctx, "failed to synthesize reply", err)
		return false
	}
	if len(speech) == 0 {
		d.logger.Warn(ctx, "synthesizer returned no audio")
		return false
	}

	frames := audio.Frames(speech, audio.FrameSize)
	for _, frame := range frames {
		if ctx.Err() != nil {
			d.logger.Info(ctx, "call closed while speaking, dropping remaining audio")
			return false
		}
		if err := d.sender.SendMedia(d.streamSID, frame); err != nil {
			d.logger.Error(ctx, "failed to send audio frame", err)
			return false
		}
	}

	d.logger.Debug(ctx, fmt.Sprintf("sent %d audio frames (%d bytes)", len(frames), len(speech)))
	return true
}

// Speaking reports whether a Speak call currently holds the line
func (d *Dispatcher) Speaking() bool {
	return d.speaking.Load()
}

// Stop cancels the safety timer
func (d *Dispatcher) Stop() {
	d.resetMu.Lock()
	defer d.resetMu.Unlock()
	if d.resetTimer != nil {
		d.resetTimer.Stop()
		d.resetTimer = nil
	}
}

func (d *Dispatcher) armReset(gen uint64) {
	d.resetMu.Lock()
	defer d.resetMu.Unlock()
	if d.resetTimer != nil {
		d.resetTimer.Stop()
	}
	d.resetTimer = time.AfterFunc(d.autoReset, func() { d.release(gen) })
}

// release clears the flag only if no newer Speak has taken it since gen
func (d *Dispatcher) release(gen uint64) {
	if d.generation.Load() == gen {
		d.speaking.Store(false)
	}
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// NeedsTranslation reports whether a detected language differs from English
func NeedsTranslation(language string) bool {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" || language == "multi" {
		return false
	}
	return language != "en" && !strings.HasPrefix(language, "en-")
}
