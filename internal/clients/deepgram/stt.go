package deepgram

import (
	"call-assistant/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultListenURL  = "wss://api.deepgram.com/v1/listen"
	keepAliveInterval = 5 * time.Second
	audioBufferSize   = 256
)

// EventType distinguishes recognizer events
type EventType int

const (
	EventTranscript EventType = iota
	EventUtteranceEnd
	EventSpeechStarted
)

// Event is one recognizer message relevant to turn taking
type Event struct {
	Type       EventType
	Text       string
	Confidence float64
	IsFinal    bool
	Language   string
}

// STTConfig holds configuration for Deepgram live transcription
type STTConfig struct {
	APIKey string
	Model  string // e.g. "nova-3"
	URL    string // overrides the listen endpoint, used in tests
}

// STTClient opens live transcription streams
type STTClient struct {
	cfg    STTConfig
	logger *observability.Logger
	dialer *websocket.Dialer
}

func NewSTTClient(cfg STTConfig, logger *observability.Logger) *STTClient {
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.URL == "" {
		cfg.URL = defaultListenURL
	}
	return &STTClient{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *STTClient) listenURL() string {
	params := url.Values{}
	params.Set("model", c.cfg.Model)
	params.Set("encoding", "mulaw")
	params.Set("sample_rate", "8000")
	params.Set("channels", "1")
	params.Set("language", "multi")
	params.Set("interim_results", "true")
	params.Set("endpointing", "300")
	params.Set("utterance_end_ms", "1000")
	params.Set("vad_events", "true")
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	return c.cfg.URL + "?" + params.Encode()
}

// Open starts a live transcription stream. onEvent is called from the
// stream's read goroutine and must not block.
func (c *STTClient) Open(ctx context.Context, onEvent func(Event)) (*Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)

	conn, _, err := c.dialer.DialContext(ctx, c.listenURL(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Stream{
		conn:    conn,
		logger:  c.logger,
		ctx:     streamCtx,
		cancel:  cancel,
		audio:   make(chan []byte, audioBufferSize),
		onEvent: onEvent,
		done:    make(chan struct{}),
	}

	go s.readLoop()
	go s.writeLoop()

	c.logger.Info(ctx, "Deepgram live transcription connected")
	return s, nil
}

// Stream is one live transcription session
type Stream struct {
	conn    *websocket.Conn
	logger  *observability.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	audio   chan []byte
	onEvent func(Event)
	done    chan struct{}

	closeOnce sync.Once
}

// Send queues mu-law audio for the recognizer. It never blocks; false means the chunk was dropped.
func (s *Stream) Send(chunk []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.audio <- chunk:
		return true
	default:
		return false
	}
}

// Done is closed once the stream stops, either through Close or because the connection dropped.
func (s *Stream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close flushes the stream and releases the connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Stream) writeLoop() {
	defer close(s.done)
	defer s.conn.Close()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.logger.WarnWithError(s.ctx, "Failed to send audio to Deepgram", err)
				s.cancel()
				return
			}
		case <-keepAlive.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.logger.WarnWithError(s.ctx, "Failed to send Deepgram keepalive", err)
				s.cancel()
				return
			}
		}
	}
}

type listenMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *Stream) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				s.logger.WarnWithError(s.ctx, "Deepgram read error", err)
			}
			s.cancel()
			return
		}

		ev, ok := parseMessage(msg)
		if !ok {
			continue
		}
		s.onEvent(ev)
	}
}

// parseMessage maps a Deepgram listen message to an Event. Metadata and unknown messages are skipped.
func parseMessage(msg []byte) (Event, bool) {
	var m listenMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return Event{}, false
	}

	switch m.Type {
	case "Results":
		if len(m.Channel.Alternatives) == 0 {
			return Event{}, false
		}
		alt := m.Channel.Alternatives[0]
		ev := Event{
			Type:       EventTranscript,
			Text:       strings.TrimSpace(alt.Transcript),
			Confidence: alt.Confidence,
			IsFinal:    m.IsFinal,
		}
		if len(alt.Languages) > 0 {
			ev.Language = alt.Languages[0]
		}
		return ev, true
	case "UtteranceEnd":
		return Event{Type: EventUtteranceEnd}, true
	case "SpeechStarted":
		return Event{Type: EventSpeechStarted}, true
	default:
		return Event{}, false
	}
}
