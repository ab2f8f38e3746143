package session

import (
	"call-assistant/internal/clients/deepgram"
	"call-assistant/internal/clients/fcm"
	"call-assistant/internal/store"
	"context"
)

// RecognizerStream receives caller audio for one call. Done is closed when the stream stops.
type RecognizerStream interface {
	Send(chunk []byte) bool
	Done() <-chan struct{}
	Close() error
}

// Recognizer opens a live speech recognition stream. onEvent must not block.
type Recognizer interface {
	Open(ctx context.Context, onEvent func(deepgram.Event)) (RecognizerStream, error)
}

// DeepgramRecognizer adapts the Deepgram live client to Recognizer
type DeepgramRecognizer struct {
	Client *deepgram.STTClient
}

func (r DeepgramRecognizer) Open(ctx context.Context, onEvent func(deepgram.Event)) (RecognizerStream, error) {
	stream, err := r.Client.Open(ctx, onEvent)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type AlertSender interface {
	SendEmergencyAlert(ctx context.Context, token string, alert fcm.Alert) error
}

type CallStore interface {
	AppendTranscriptEntry(ctx context.Context, params store.AppendTranscriptEntryParams) (store.TranscriptEntry, error)
	CompleteCall(ctx context.Context, params store.CompleteCallParams) error
}

type AccountLookup interface {
	GetAccount(ctx context.Context, accountID string) (store.Account, error)
}

type EventPublisher interface {
	CallEmergency(ctx context.Context, accountID, callSID, utterance string, alerted bool)
	CallEnded(ctx context.Context, accountID, callSID, reason string)
}

// CallCompleter ends the phone call itself once the media stream is done
type CallCompleter interface {
	CompleteCall(ctx context.Context, callSID string) error
}

// Conn is the outbound half of a media stream connection
type Conn interface {
	SendMedia(streamSID string, payload []byte) error
	SendHangup(streamSID string) error
	Close() error
}
