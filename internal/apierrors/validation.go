package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	// Report fields by their Twilio form parameter name, e.g. CallSid
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(formFieldName)
	}
}

func formFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("form"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// ValidationError sends a 400 for a webhook form that failed binding. A
// missing CallSid keeps its own error code.
func ValidationError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	ctx := c.Request.Context()

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		logger.WarnWithError(ctx, "webhook form binding failed", err)
		respond(c, http.StatusBadRequest, CodeInvalidInput, "Invalid form body")
		return
	}

	code := CodeInvalidInput
	messages := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		if fieldErr.Field() == "CallSid" && fieldErr.Tag() == "required" {
			code = CodeMissingCallSID
		}
		messages = append(messages, fieldMessage(fieldErr))
	}
	logger.WarnWithError(ctx, "webhook form validation failed", err)
	respond(c, http.StatusBadRequest, code, strings.Join(messages, "; "))
}

func fieldMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldErr.Field())
	case "e164":
		return fmt.Sprintf("%s must be a phone number in E.164 format", fieldErr.Field())
	default:
		return fmt.Sprintf("%s failed validation (%s)", fieldErr.Field(), fieldErr.Tag())
	}
}
