package apierrors

import (
	"errors"

	"call-assistant/internal/voicecall/processor"

	"github.com/gin-gonic/gin"
)

// Error codes returned to API clients
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingCallSID   = "MISSING_CALL_SID"
	CodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	CodeInvalidSignature = "INVALID_SIGNATURE"
)

// RespondWithError maps a processor error to its HTTP response.
//
//	if err != nil {
//	    apierrors.RespondWithError(c, err)
//	    return
//	}
func RespondWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, processor.ErrMissingCallSID):
		BadRequest(c, CodeMissingCallSID, "CallSid is required")

	case errors.Is(err, processor.ErrAccountNotFound):
		BadRequest(c, CodeAccountNotFound, "No account is registered for this number")

	default:
		InternalError(c, err)
	}
}
