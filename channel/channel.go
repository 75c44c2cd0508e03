// Package channel defines the interface for external chat bridges.
//
// A bridge joins a project room as a virtual member: messages from the
// external surface flow through the relay like any participant's, and
// room broadcasts are mirrored back out.
package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/devroom-ai/devroom/model"
	"github.com/devroom-ai/devroom/relay"
)

// Channel is a chat surface bridged into devroom.
type Channel interface {
	// Name returns the channel's identifier for logging.
	Name() string
	// Run starts the channel's event loop. Blocks until ctx is canceled
	// or a fatal error occurs.
	Run(ctx context.Context) error
}

// maxMirroredCode caps how much artifact code a bridge reposts.
const maxMirroredCode = 3000

// Render formats a room broadcast payload for an external chat surface.
// It reports false for payloads a bridge should not mirror, such as
// typing notices.
func Render(payload any) (string, bool) {
	switch p := payload.(type) {
	case model.Envelope:
		if p.Message == relay.TypingNotice {
			return "", false
		}
		return fmt.Sprintf("%s: %s", p.Sender, p.Message), true

	case relay.AssistantMessage:
		var sb strings.Builder
		if len(p.Artifacts) == 0 {
			sb.WriteString(fmt.Sprintf("%s: %s", p.Sender, p.Message))
			return sb.String(), true
		}
		sb.WriteString(fmt.Sprintf("%s generated %d file(s):", p.Sender, len(p.Artifacts)))
		for _, a := range p.Artifacts {
			code := a.Code
			if len(code) > maxMirroredCode {
				code = code[:maxMirroredCode] + "\n...(truncated)..."
			}
			sb.WriteString(fmt.Sprintf("\n\n%s\n```%s\n%s\n```", a.Filename, a.Language, code))
		}
		return sb.String(), true

	case relay.ErrorNotice:
		return fmt.Sprintf("%s: %s", p.Sender, p.Message), true

	default:
		return "", false
	}
}
