package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type generateRequest struct {
	CallerRole        CallerRole `json:"caller_role"`
	NewMessage        string     `json:"new_message"`
	History           []Turn     `json:"history"`
	ConversationStage string     `json:"conversation_stage"`
}

type generateResponse struct {
	ResponseText   string `json:"response_text"`
	UpdatedHistory []Turn `json:"updated_history"`
	Stage          string `json:"stage"`
	Intent         string `json:"intent"`
}

// HTTPClient talks to a dialogue backend exposing POST /generate. Deadlines
// come from the caller's context.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Generate implements Generator. Missing history or stage in the reply keeps the request's values.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	history := req.History
	if history == nil {
		history = []Turn{}
	}
	body, err := json.Marshal(generateRequest{
		CallerRole:        req.Role,
		NewMessage:        req.Message,
		History:           history,
		ConversationStage: req.Stage,
	})
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal dialogue request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create dialogue request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrDialogueUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrDialogueUnavailable, resp.StatusCode, string(respBody))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("%w: invalid response: %w", ErrDialogueUnavailable, err)
	}

	result := Response{
		ReplyText:      out.ResponseText,
		UpdatedHistory: out.UpdatedHistory,
		Stage:          out.Stage,
		Intent:         out.Intent,
	}
	if result.UpdatedHistory == nil {
		result.UpdatedHistory = req.History
	}
	if result.Stage == "" {
		result.Stage = req.Stage
	}
	return result, nil
}
