package handler

import (
	"call-assistant/internal/apierrors"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Twilio-Signature"

// ValidateTwilioSignature rejects form webhooks that were not signed by Twilio
func (h *Handler) ValidateTwilioSignature(c *gin.Context) {
	if h.validator == nil {
		c.Next()
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		apierrors.BadRequest(c, apierrors.CodeInvalidInput, "Invalid form body")
		c.Abort()
		return
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	url := "https://" + h.publicHost + c.Request.URL.RequestURI()
	if !h.validator.ValidateRequest(url, params, c.GetHeader(signatureHeader)) {
		h.logger.Warn(c.Request.Context(), "rejected webhook with invalid Twilio signature")
		apierrors.Forbidden(c, apierrors.CodeInvalidSignature, "Invalid request signature")
		c.Abort()
		return
	}
	c.Next()
}
