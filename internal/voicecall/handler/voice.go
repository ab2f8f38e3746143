package handler

import (
	"call-assistant/internal/apierrors"
	"call-assistant/internal/voicecall/processor"
	"call-assistant/internal/voicecall/twilio"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"
)

const mediaStreamPath = "/api/twilio/media-stream"

type incomingCallForm struct {
	CallSID string `form:"CallSid" binding:"required"`
	From    string `form:"From"`
	To      string `form:"To" binding:"required"`
}

// statusCallbackForm requires only CallSid; every other problem is logged and acknowledged
type statusCallbackForm struct {
	CallSID      string `form:"CallSid" binding:"required"`
	CallStatus   string `form:"CallStatus"`
	CallDuration string `form:"CallDuration"`
}

// HandleIncomingCall answers Twilio's voice webhook with TwiML that connects
// the call to the media stream endpoint.
func (h *Handler) HandleIncomingCall(c *gin.Context) {
	ctx := c.Request.Context()

	var form incomingCallForm
	if err := c.ShouldBind(&form); err != nil {
		apierrors.ValidationError(c, err)
		return
	}
	call := processor.IncomingCall{
		CallSID: form.CallSID,
		From:    form.From,
		To:      form.To,
	}

	account, err := h.processor.HandleIncomingCall(ctx, call)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}

	say := &twiml.VoiceSay{
		Message: fmt.Sprintf("Hello, please wait a moment while I connect you to %s's AI assistant.", account.Name),
		Voice:   "alice",
	}
	stream := twiml.VoiceStream{
		Url: "wss://" + h.publicHost + mediaStreamPath,
		InnerElements: []twiml.Element{
			twiml.VoiceParameter{Name: twilio.ParamCallSID, Value: call.CallSID},
			twiml.VoiceParameter{Name: twilio.ParamAccountID, Value: account.ID.String()},
			twiml.VoiceParameter{Name: twilio.ParamCallerNumber, Value: call.From},
		},
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}

	twimlResult, err := twiml.Voice([]twiml.Element{say, connect})
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twimlResult)
}

// HandleStatusCallback records Twilio's call status updates
func (h *Handler) HandleStatusCallback(c *gin.Context) {
	ctx := c.Request.Context()

	var form statusCallbackForm
	if err := c.ShouldBind(&form); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	err := h.processor.HandleStatusCallback(ctx, processor.StatusCallback{
		CallSID:      form.CallSID,
		CallStatus:   form.CallStatus,
		CallDuration: form.CallDuration,
	})
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
