package dialogue

import (
	"context"
	"errors"
	"strings"
)

// ErrDialogueUnavailable wraps any failure to reach or understand the dialogue backend.
var ErrDialogueUnavailable = errors.New("dialogue backend unavailable")

// CallerRole classifies who is calling
type CallerRole string

const (
	RoleUnknown  CallerRole = "unknown"
	RoleFamily   CallerRole = "family"
	RoleDelivery CallerRole = "delivery"
)

const (
	// StageStart is the conversation stage of a fresh call
	StageStart = "start"
	// StageEndOfCall tells the session to hang up
	StageEndOfCall = "end_of_call"
)

// Turn is one message of the conversation history
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything the backend needs to answer one utterance
type Request struct {
	Role      CallerRole
	Message   string
	History   []Turn
	Stage     string
	OwnerName string // account holder the assistant answers for
}

// Response is the backend's reply and the conversation state that replaces the session's
type Response struct {
	ReplyText      string
	UpdatedHistory []Turn
	Stage          string
	Intent         string
}

// Generator produces the assistant's next reply
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

var roleKeywords = []struct {
	role     CallerRole
	keywords []string
}{
	{RoleDelivery, []string{"delivery", "package", "courier"}},
	{RoleFamily, []string{"mom", "dad", "family", "brother", "sister"}},
}

// DetectCallerRole guesses the caller's role from what they said. Delivery wins over family.
func DetectCallerRole(text string) CallerRole {
	lowered := strings.ToLower(text)
	for _, rk := range roleKeywords {
		for _, kw := range rk.keywords {
			if strings.Contains(lowered, kw) {
				return rk.role
			}
		}
	}
	return RoleUnknown
}

var rolePrompts = map[CallerRole]string{
	RoleDelivery: "You are an AI assistant answering the phone for {name}, handling a delivery. Find out what is being delivered and where it should be left, then politely wrap up the call.",
	RoleFamily:   "You are an AI assistant answering the phone for {name}, speaking with a family member. Be warm, take a message and reassure them {name} will call back.",
	RoleUnknown:  "You are an AI assistant answering the phone for {name}, speaking with an unknown caller. Find out who is calling and why, take a short message and do not share personal details.",
}

// SystemPrompt returns the role instructions for the account owner named name
func SystemPrompt(role CallerRole, name string) string {
	prompt, ok := rolePrompts[role]
	if !ok {
		prompt = rolePrompts[RoleUnknown]
	}
	if name == "" {
		name = "the user"
	}
	return strings.ReplaceAll(prompt, "{name}", name)
}
