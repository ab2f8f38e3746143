package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock drives a Debouncer the way the session actor does, with a virtual timer.
type clock struct {
	t        *testing.T
	d        *Debouncer
	now      time.Time
	deadline time.Time
	out      []Utterance
}

func newClock(t *testing.T) *clock {
	return &clock{t: t, d: New(Config{}), now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) apply(r Result) {
	switch r.Timer {
	case TimerRestart:
		c.deadline = c.now.Add(r.Delay)
	case TimerStop:
		c.deadline = time.Time{}
	}
	if r.Utterance != nil {
		c.out = append(c.out, *r.Utterance)
	}
}

// advance moves time forward, firing the silence timer when it expires
func (c *clock) advance(d time.Duration) {
	end := c.now.Add(d)
	for !c.deadline.IsZero() && !c.deadline.After(end) {
		c.now = c.deadline
		c.deadline = time.Time{}
		c.apply(c.d.Silence(c.now))
	}
	c.now = end
}

func (c *clock) final(text string) {
	c.apply(c.d.Transcript(text, 0.95, true, ""))
}

func (c *clock) interim(text string) {
	c.apply(c.d.Transcript(text, 0.95, false, ""))
}

func TestDebouncer_GapDelimitedGroups(t *testing.T) {
	c := newClock(t)

	c.final("hello there")
	c.advance(300 * time.Millisecond)
	c.final("I'm calling about")
	c.advance(200 * time.Millisecond)
	c.final("your car")
	c.advance(2 * time.Second)

	c.final("can you call me back")
	c.advance(2 * time.Second)

	c.final("thanks")
	c.advance(1600 * time.Millisecond)

	require.Len(t, c.out, 3)
	assert.Equal(t, "hello there I'm calling about your car", c.out[0].Text)
	assert.Equal(t, "can you call me back", c.out[1].Text)
	assert.Equal(t, "thanks", c.out[2].Text)
}

func TestDebouncer_InterimSpeechKeepsBufferOpen(t *testing.T) {
	c := newClock(t)

	c.final("I need")
	// the caller keeps talking for 2 s; only interim results arrive
	for i := 0; i < 4; i++ {
		c.advance(500 * time.Millisecond)
		c.interim("to deliver")
	}
	c.final("to deliver a package")
	c.advance(2 * time.Second)

	require.Len(t, c.out, 1)
	assert.Equal(t, "I need to deliver a package", c.out[0].Text)
}

func TestDebouncer_InterimDoesNotEmit(t *testing.T) {
	c := newClock(t)
	c.interim("hello")
	c.advance(2 * time.Second)
	assert.Empty(t, c.out)
	assert.Empty(t, c.d.Pending())
}

func TestDebouncer_DropsLowConfidenceAndEmpty(t *testing.T) {
	d := New(Config{})

	r := d.Transcript("mumble", 0.59, true, "")
	assert.Equal(t, TimerKeep, r.Timer)
	r = d.Transcript("   ", 0.99, true, "")
	assert.Equal(t, TimerKeep, r.Timer)
	assert.Empty(t, d.Pending())

	r = d.Transcript("hello", 0.6, true, "")
	assert.Equal(t, TimerRestart, r.Timer)
	assert.Equal(t, DefaultSilenceWindow, r.Delay)
	assert.Equal(t, "hello", d.Pending())
}

func TestDebouncer_RejectsFillerAndShortText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "filler", text: "um"},
		{name: "filler with punctuation", text: "Hmm."},
		{name: "yeah", text: "Yeah"},
		{name: "too short", text: "no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Config{})
			d.Transcript(tt.text, 0.9, true, "")
			r := d.Silence(time.Now())
			assert.Nil(t, r.Utterance)
			assert.Equal(t, TimerStop, r.Timer)
			assert.Equal(t, tt.text, d.Pending())
		})
	}
}

func TestDebouncer_RejectedBufferMergesWithNextFragment(t *testing.T) {
	c := newClock(t)
	c.final("ok")
	c.advance(2 * time.Second)
	assert.Empty(t, c.out)

	c.final("so when are you back")
	c.advance(2 * time.Second)

	require.Len(t, c.out, 1)
	assert.Equal(t, "ok so when are you back", c.out[0].Text)
}

func TestDebouncer_UtteranceEndFlushesImmediately(t *testing.T) {
	d := New(Config{})
	now := time.Now()
	d.Transcript("is anyone there", 0.9, true, "en")

	r := d.UtteranceEnd(now)
	require.NotNil(t, r.Utterance)
	assert.Equal(t, "is anyone there", r.Utterance.Text)
	assert.Equal(t, "en", r.Utterance.Language)
	assert.Equal(t, now, r.Utterance.At)
	assert.Equal(t, TimerStop, r.Timer)
	assert.Empty(t, d.Pending())

	// a second signal with nothing buffered emits nothing
	r = d.UtteranceEnd(now)
	assert.Nil(t, r.Utterance)
}

func TestDebouncer_HoldDefersFlush(t *testing.T) {
	d := New(Config{})
	now := time.Now()

	d.Transcript("first thing", 0.9, true, "")
	require.NotNil(t, d.UtteranceEnd(now).Utterance)

	d.Transcript("second thing", 0.9, true, "")
	r := d.UtteranceEnd(now.Add(200 * time.Millisecond))
	assert.Nil(t, r.Utterance)
	assert.Equal(t, TimerRestart, r.Timer)
	assert.Equal(t, 300*time.Millisecond, r.Delay)

	r = d.Silence(now.Add(500 * time.Millisecond))
	require.NotNil(t, r.Utterance)
	assert.Equal(t, "second thing", r.Utterance.Text)
}

func TestDebouncer_SpeechStartedClearsHold(t *testing.T) {
	d := New(Config{})
	now := time.Now()

	d.Transcript("first thing", 0.9, true, "")
	require.NotNil(t, d.UtteranceEnd(now).Utterance)

	r := d.SpeechStarted()
	assert.Equal(t, TimerStop, r.Timer)

	d.Transcript("second thing", 0.9, true, "")
	r = d.UtteranceEnd(now.Add(100 * time.Millisecond))
	require.NotNil(t, r.Utterance)
	assert.Equal(t, "second thing", r.Utterance.Text)
}

func TestDebouncer_KeepsLastLanguage(t *testing.T) {
	d := New(Config{})
	d.Transcript("hola", 0.9, true, "es")
	d.Transcript("buenos dias", 0.9, true, "")

	r := d.UtteranceEnd(time.Now())
	require.NotNil(t, r.Utterance)
	assert.Equal(t, "hola buenos dias", r.Utterance.Text)
	assert.Equal(t, "es", r.Utterance.Language)
}
