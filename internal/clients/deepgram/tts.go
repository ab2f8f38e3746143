package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultSpeakURL = "https://api.deepgram.com/v1/speak"

// TTSClient synthesizes speech with Deepgram Aura
type TTSClient struct {
	apiKey     string
	voice      string
	speakURL   string
	httpClient *http.Client
}

func NewTTSClient(apiKey string) *TTSClient {
	return &TTSClient{
		apiKey:     apiKey,
		voice:      "aura-asteria-en",
		speakURL:   defaultSpeakURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize returns raw 8 kHz mu-law audio with no container, the format Twilio streams expect.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speak request: %w", err)
	}

	params := url.Values{}
	params.Set("model", c.voice)
	params.Set("encoding", "mulaw")
	params.Set("sample_rate", "8000")
	params.Set("container", "none")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.speakURL+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Deepgram speak request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("Deepgram speak error: status %d: %s", resp.StatusCode, string(respBody))
	}

	return io.ReadAll(resp.Body)
}
