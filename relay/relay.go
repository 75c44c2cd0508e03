// Package relay is the per-message control loop: it receives a chat
// message, detects assistant-directed messages, invokes the assistant,
// feeds the reply through the parser, and broadcasts the result.
package relay

import (
	"context"
	"log"
	"strings"

	"github.com/devroom-ai/devroom/model"
	"github.com/devroom-ai/devroom/parser"
)

// Marker is the literal substring that directs a message at the assistant.
// Matching is case-insensitive.
const Marker = "@ai"

// TypingNotice is the placeholder body of the ephemeral typing signal.
const TypingNotice = "AI Assistant is typing..."

// ErrAssistantUnavailable tags the error notice sent when the assistant
// adapter fails.
const ErrAssistantUnavailable = "assistant_unavailable"

// Assistant is the opaque prompt-to-text service consumed by the relay.
type Assistant interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Broadcaster is the room fan-out surface the relay publishes to.
type Broadcaster interface {
	Broadcast(projectID, excludeConnID string, payload any)
	SendTo(connID string, payload any)
}

// AssistantMessage is the structured payload broadcast for assistant
// replies. Artifacts may be empty for pure-prose replies.
type AssistantMessage struct {
	model.Envelope
	Form      parser.Form      `json:"form"`
	Artifacts []model.Artifact `json:"artifacts,omitempty"`
}

// ErrorNotice reports a failure to the originating connection only.
type ErrorNotice struct {
	model.Envelope
	Error string `json:"error"`
}

// Relay wires the hub and the assistant adapter together.
type Relay struct {
	hub       Broadcaster
	assistant Assistant
}

// New creates a Relay.
func New(hub Broadcaster, assistant Assistant) *Relay {
	return &Relay{hub: hub, assistant: assistant}
}

// ExtractPrompt reports whether text contains the assistant marker and, if
// so, returns the trimmed remainder with the marker substring removed.
func ExtractPrompt(text string) (string, bool) {
	idx := strings.Index(strings.ToLower(text), Marker)
	if idx < 0 {
		return "", false
	}
	stripped := text[:idx] + text[idx+len(Marker):]
	return strings.TrimSpace(stripped), true
}

// Handle processes one inbound message from the given session. Non-assistant
// messages fan out to the room excluding the originator, who already has a
// local echo. Assistant-directed messages take the reply path: a typing
// notice to the originator, the adapter call, the parser cascade, then a
// room-wide broadcast including the originator.
func (r *Relay) Handle(ctx context.Context, session *model.Session, msg model.Envelope) {
	prompt, ok := ExtractPrompt(msg.Message)
	if !ok {
		r.hub.Broadcast(session.ProjectID, session.ConnID, msg)
		return
	}

	// Best-effort UX signal; not persisted, not broadcast room-wide.
	r.hub.SendTo(session.ConnID, model.NewEnvelope(TypingNotice, model.AssistantSender))

	reply, err := r.assistant.Generate(ctx, prompt)
	if err != nil {
		log.Printf("relay: assistant call failed for %s: %v", session.ConnID, err)
		r.hub.SendTo(session.ConnID, ErrorNotice{
			Envelope: model.NewEnvelope("The assistant is unavailable right now.", model.AssistantSender),
			Error:    ErrAssistantUnavailable,
		})
		return
	}

	res := parser.Parse(reply)
	r.hub.Broadcast(session.ProjectID, "", AssistantMessage{
		Envelope:  model.NewEnvelope(reply, model.AssistantSender),
		Form:      res.Form,
		Artifacts: res.Artifacts,
	})
}
