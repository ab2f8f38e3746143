package twilio

import (
	"call-assistant/internal/observability"
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type callUpdater interface {
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// Client wraps the Twilio REST API calls the assistant needs
type Client struct {
	calls     callUpdater
	validator *twilioclient.RequestValidator
	logger    *observability.Logger
}

// NewClient creates a Twilio client. Without credentials it only logs what it would have done.
func NewClient(accountSID, authToken string, logger *observability.Logger) *Client {
	c := &Client{logger: logger}
	if accountSID != "" && authToken != "" {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		})
		c.calls = rest.Api
	}
	if authToken != "" {
		v := twilioclient.NewRequestValidator(authToken)
		c.validator = &v
	}
	return c
}

// CompleteCall ends a live call through the REST API
func (c *Client) CompleteCall(ctx context.Context, callSID string) error {
	if c.calls == nil {
		c.logger.Debug(ctx, "Twilio credentials not configured, relying on media stream hangup")
		return nil
	}

	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")

	if _, err := c.calls.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to complete call %s: %w", callSID, err)
	}
	return nil
}

// ValidatesRequests reports whether webhook signatures are checked
func (c *Client) ValidatesRequests() bool {
	return c.validator != nil
}

// ValidateRequest checks the X-Twilio-Signature of a form-encoded webhook.
func (c *Client) ValidateRequest(url string, params map[string]string, signature string) bool {
	if c.validator == nil {
		return true
	}
	return c.validator.Validate(url, params, signature)
}
