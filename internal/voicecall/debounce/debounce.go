package debounce

import (
	"strings"
	"time"
)

const (
	DefaultSilenceWindow = 1500 * time.Millisecond
	DefaultMinConfidence = 0.6
	DefaultHold          = 500 * time.Millisecond

	minUtteranceLength = 3
)

var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "ah": {}, "er": {}, "hmm": {}, "yeah": {}, "ok": {},
}

// Config tunes when buffered recognizer fragments settle into an utterance
type Config struct {
	SilenceWindow time.Duration
	MinConfidence float64
	Hold          time.Duration
}

// Utterance is one settled piece of caller speech
type Utterance struct {
	Text     string
	Language string
	At       time.Time
}

// TimerAction tells the owner of the silence timer what to do with it
type TimerAction int

const (
	TimerKeep TimerAction = iota
	TimerRestart
	TimerStop
)

// Result is returned by every Debouncer input. Delay is only meaningful with TimerRestart.
type Result struct {
	Timer     TimerAction
	Delay     time.Duration
	Utterance *Utterance
}

// Debouncer buffers final recognizer fragments until the caller pauses.
// It holds no timers itself; the caller arms and fires the silence timer
// according to each Result. It is not safe for concurrent use.
type Debouncer struct {
	cfg       Config
	buffer    string
	language  string
	holdUntil time.Time
}

func New(cfg Config) *Debouncer {
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = DefaultSilenceWindow
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	return &Debouncer{cfg: cfg}
}

// Transcript feeds one recognizer result
func (d *Debouncer) Transcript(text string, confidence float64, isFinal bool, language string) Result {
	text = strings.TrimSpace(text)
	if text == "" || confidence < d.cfg.MinConfidence {
		return Result{Timer: TimerKeep}
	}

	if isFinal {
		if d.buffer == "" {
			d.buffer = text
		} else {
			d.buffer += " " + text
		}
		if language != "" {
			d.language = language
		}
	}

	return Result{Timer: TimerRestart, Delay: d.cfg.SilenceWindow}
}

// Silence is called when the silence timer fires
func (d *Debouncer) Silence(now time.Time) Result {
	return d.flush(now)
}

// UtteranceEnd is called when the recognizer reports the end of an utterance
func (d *Debouncer) UtteranceEnd(now time.Time) Result {
	return d.flush(now)
}

// SpeechStarted drops the pending timer and any flush hold
func (d *Debouncer) SpeechStarted() Result {
	d.holdUntil = time.Time{}
	return Result{Timer: TimerStop}
}

// Pending returns the buffered, not yet settled text
func (d *Debouncer) Pending() string {
	return d.buffer
}

func (d *Debouncer) flush(now time.Time) Result {
	if now.Before(d.holdUntil) {
		if d.buffer == "" {
			return Result{Timer: TimerKeep}
		}
		return Result{Timer: TimerRestart, Delay: d.holdUntil.Sub(now)}
	}

	text := strings.TrimSpace(d.buffer)
	if !settles(text) {
		// too short or a filler: kept so the next fragment can complete it
		return Result{Timer: TimerStop}
	}

	u := &Utterance{Text: text, Language: d.language, At: now}
	d.buffer = ""
	d.language = ""
	d.holdUntil = now.Add(d.cfg.Hold)

	return Result{Timer: TimerStop, Utterance: u}
}

func settles(text string) bool {
	if len(text) < minUtteranceLength {
		return false
	}
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 1 {
		if _, ok := fillerWords[strings.Trim(words[0], ".,!?")]; ok {
			return false
		}
	}
	return true
}
