package googleai

import (
	"call-assistant/internal/dialogue"
	"call-assistant/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const replyFormatInstruction = `Reply with a single JSON object and nothing else:
{"response_text": "<what to say to the caller, one or two short sentences>",
 "stage": "<conversation stage, use \"end_of_call\" once the caller has nothing more to add>",
 "intent": "<short label for what the caller wants>"}`

// DialogueClient generates assistant replies with Gemini
type DialogueClient struct {
	client *genai.Client
	model  string
	logger *observability.Logger
}

// NewDialogueClient creates a Gemini backed dialogue.Generator
func NewDialogueClient(ctx context.Context, apiKey, model string, logger *observability.Logger) (*DialogueClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}

	return &DialogueClient{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

type geminiReply struct {
	ResponseText string `json:"response_text"`
	Stage        string `json:"stage"`
	Intent       string `json:"intent"`
}

// Generate implements dialogue.Generator
func (d *DialogueClient) Generate(ctx context.Context, req dialogue.Request) (dialogue.Response, error) {
	temperature := float32(0.4)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: dialogue.SystemPrompt(req.Role, req.OwnerName) + "\n\n" + replyFormatInstruction},
			},
		},
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}

	resp, err := d.client.Models.GenerateContent(ctx, d.model, buildContents(req), config)
	if err != nil {
		return dialogue.Response{}, fmt.Errorf("%w: gemini: %w", dialogue.ErrDialogueUnavailable, err)
	}

	out, err := parseReply(resp.Text(), req)
	if err != nil {
		return dialogue.Response{}, err
	}
	d.logger.Debug(ctx, fmt.Sprintf("gemini reply stage=%s intent=%s", out.Stage, out.Intent))
	return out, nil
}

// buildContents maps the conversation history onto Gemini's user/model turns
func buildContents(req dialogue.Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "assistant" || turn.Role == "model" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Message}},
	})
	return contents
}

func parseReply(raw string, req dialogue.Request) (dialogue.Response, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")

	var reply geminiReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return dialogue.Response{}, fmt.Errorf("%w: gemini returned invalid JSON: %w", dialogue.ErrDialogueUnavailable, err)
	}

	stage := reply.Stage
	if stage == "" {
		stage = req.Stage
	}

	history := make([]dialogue.Turn, 0, len(req.History)+2)
	history = append(history, req.History...)
	history = append(history, dialogue.Turn{Role: "user", Content: req.Message})
	if reply.ResponseText != "" {
		history = append(history, dialogue.Turn{Role: "assistant", Content: reply.ResponseText})
	}

	return dialogue.Response{
		ReplyText:      reply.ResponseText,
		UpdatedHistory: history,
		Stage:          stage,
		Intent:         reply.Intent,
	}, nil
}
