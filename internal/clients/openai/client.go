package openai

import (
	"bytes"
	"call-assistant/internal/observability"
	"call-assistant/internal/voice/audio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultBaseURL = "https://api.openai.com/v1/"

// Client translates caller speech and synthesizes replies with OpenAI
type Client struct {
	apiKey           string
	baseURL          string
	translationModel string
	voice            string
	httpClient       *http.Client
	logger           *observability.Logger
}

func NewClient(apiKey, translationModel string, logger *observability.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if translationModel == "" {
		translationModel = string(openai.ChatModelGPT4oMini)
	}
	return &Client{
		apiKey:           apiKey,
		baseURL:          defaultBaseURL,
		translationModel: translationModel,
		voice:            "alloy",
		httpClient:       http.DefaultClient,
		logger:           logger,
	}, nil
}

func (c *Client) options() []option.RequestOption {
	return []option.RequestOption{
		option.WithAPIKey(c.apiKey),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(0),
	}
}

// Translate renders text in target. An empty or "auto" source lets the model detect it.
func (c *Client) Translate(ctx context.Context, text, target, source string) (string, error) {
	systemPrompt := fmt.Sprintf("You are a translation engine. Translate the following text into %s. Detect the source language automatically.", target)
	if source != "" && source != "auto" {
		systemPrompt = fmt.Sprintf("You are a translation engine. Translate the following text from %s to %s.", source, target)
	}

	client := openai.NewClient(c.options()...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		Model:       openai.ChatModel(c.translationModel),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("openai translation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai translation returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Synthesize uses OpenAI's TTS API and returns 8 kHz mu-law audio ready for Twilio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	jsonBody := map[string]interface{}{
		"model":           "tts-1",
		"voice":           c.voice,
		"input":           text,
		"response_format": "pcm", // 24 kHz 16-bit little-endian
	}
	bodyBytes, err := json.Marshal(jsonBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"audio/speech", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI TTS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("OpenAI TTS error: status %d: %s", resp.StatusCode, string(respBody))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read TTS audio: %w", err)
	}
	return audio.ConvertPCM24kHzToMuLaw8kHz(pcm), nil
}
