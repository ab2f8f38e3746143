package fcm

import (
	"call-assistant/internal/observability"
	"context"
	"fmt"
	"time"

	"google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"
)

// Alert is the content of an emergency push notification
type Alert struct {
	Title        string
	Body         string
	CallSID      string
	CallerNumber string
	Timestamp    time.Time
}

// Client sends push notifications through Firebase Cloud Messaging HTTP v1
type Client struct {
	service   *fcm.Service
	projectID string
	logger    *observability.Logger
}

// NewClient creates an FCM client. credentialsFile may be empty to use application default credentials.
func NewClient(ctx context.Context, projectID, credentialsFile string, logger *observability.Logger, opts ...option.ClientOption) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	service, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM service: %w", err)
	}

	return &Client{
		service:   service,
		projectID: projectID,
		logger:    logger,
	}, nil
}

// SendEmergencyAlert pushes a data-only, high priority message so the app can raise its own alert.
func (c *Client) SendEmergencyAlert(ctx context.Context, token string, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	req := &fcm.SendMessageRequest{
		Message: &fcm.Message{
			Token: token,
			Data: map[string]string{
				"type":         "emergency_alert",
				"title":        alert.Title,
				"body":         alert.Body,
				"callSid":      alert.CallSID,
				"callerNumber": alert.CallerNumber,
				"timestamp":    alert.Timestamp.Format(time.RFC3339),
			},
			Android: &fcm.AndroidConfig{
				Priority: "HIGH",
				Ttl:      "0s",
			},
		},
	}

	msg, err := c.service.Projects.Messages.Send("projects/"+c.projectID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}

	c.logger.Info(observability.WithFields(ctx, observability.Field{Key: "fcm_message", Value: msg.Name}), "Emergency alert sent")
	return nil
}
