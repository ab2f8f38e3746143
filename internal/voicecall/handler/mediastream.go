package handler

import (
	"call-assistant/internal/voicecall/twilio"
	"errors"

	"github.com/gin-gonic/gin"
)

// HandleMediaStream upgrades Twilio's media stream request and feeds its
// events to a new call session until either side closes.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	ctx := c.Request.Context()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "WebSocket upgrade failed", err)
		return
	}
	conn := twilio.NewConn(ws)
	h.logger.Info(ctx, "Twilio media stream connected")

	sess := h.sessions.NewSession(conn)
	defer func() {
		sess.Close("media stream disconnected")
		sess.Wait()
	}()

	for {
		event, err := conn.ReadEvent()
		if errors.Is(err, twilio.ErrInvalidEvent) {
			h.logger.WarnWithError(ctx, "skipping unreadable media stream message", err)
			continue
		}
		if err != nil {
			if !twilio.IsNormalClose(err) {
				h.logger.WarnWithError(ctx, "media stream read failed", err)
			}
			return
		}
		if !sess.HandleEvent(event) {
			return
		}
	}
}
