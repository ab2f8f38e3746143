package handler

import (
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"call-assistant/internal/voicecall/processor"
	"call-assistant/internal/voicecall/session"
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// CallProcessor defines the webhook operations required by Handler
type CallProcessor interface {
	HandleIncomingCall(ctx context.Context, call processor.IncomingCall) (store.Account, error)
	HandleStatusCallback(ctx context.Context, cb processor.StatusCallback) error
}

// SessionFactory starts a call session for an accepted media stream
type SessionFactory interface {
	NewSession(conn session.Conn) *session.Session
}

// SignatureValidator checks the X-Twilio-Signature header of a webhook
type SignatureValidator interface {
	ValidateRequest(url string, params map[string]string, signature string) bool
}

type Handler struct {
	processor  CallProcessor
	sessions   SessionFactory
	validator  SignatureValidator
	publicHost string
	logger     *observability.Logger
}

func New(processor CallProcessor, sessions SessionFactory, validator SignatureValidator, publicHost string, logger *observability.Logger) Handler {
	return Handler{
		processor:  processor,
		sessions:   sessions,
		validator:  validator,
		publicHost: publicHost,
		logger:     logger,
	}
}

// Twilio is the only client of the media stream endpoint and does not send an Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
