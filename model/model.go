// Package model defines the core domain types shared across all devroom packages.
// It has zero dependencies on other devroom packages.
package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// AssistantSender is the fixed sender label attached to assistant replies,
// distinguishing them from human participants.
const AssistantSender = "AI Assistant"

// Direction indicates whether a chat message was produced locally or
// received from the room.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Session binds an authenticated connection to exactly one project room.
// It is created at a successful handshake, never mutated, and discarded
// on disconnect.
type Session struct {
	ConnID    string         `json:"conn_id"`
	ProjectID string         `json:"project_id"`
	Claims    map[string]any `json:"-"` // opaque identity claims from the token
}

// Sender returns a human-readable label for the session's identity,
// preferring the email claim, then subject, then the connection ID.
func (s *Session) Sender() string {
	for _, key := range []string{"email", "sub"} {
		if v, ok := s.Claims[key].(string); ok && v != "" {
			return v
		}
	}
	return s.ConnID
}

// ChatMessage is a single chat message within a project room. Immutable
// once created; ordering is per-room arrival order.
type ChatMessage struct {
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"-"`
}

// Envelope is the wire format exchanged over a room's websocket channel.
// Timestamps travel as ISO-8601 strings.
type Envelope struct {
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

// NewEnvelope builds an Envelope with a server-assigned timestamp.
func NewEnvelope(message, sender string) Envelope {
	return Envelope{
		Message:   message,
		Sender:    sender,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Artifact is one generated code file or snippet produced by the assistant.
type Artifact struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
}

// Normalize fills in deterministic defaults so that no partially-populated
// artifact flows downstream: an empty language becomes "plaintext" and an
// empty filename becomes "snippet-<id>.<ext>" where <ext> is derived from
// the language.
func (a Artifact) Normalize() Artifact {
	if a.Language == "" {
		a.Language = "plaintext"
	}
	if a.Filename == "" {
		id := strings.ReplaceAll(a.ID, ".", "-")
		a.Filename = fmt.Sprintf("snippet-%s.%s", id, extensionFor(a.Language))
	}
	return a
}

// extensionFor maps a language tag to a filename extension for placeholder
// names. Unknown languages use the tag itself.
func extensionFor(language string) string {
	switch language {
	case "javascript":
		return "js"
	case "typescript":
		return "ts"
	case "python":
		return "py"
	case "plaintext", "text":
		return "txt"
	default:
		return language
	}
}

// LanguageForPath infers a language tag from a file path's extension:
// "js" maps to "javascript", other extensions are used verbatim, and a
// missing extension yields "text".
func LanguageForPath(p string) string {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	switch ext {
	case "":
		return "text"
	case "js":
		return "javascript"
	default:
		return ext
	}
}

// Project is a shared workspace that participants collaborate in.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Users     []string  `json:"users"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
