// Package assistant provides the prompt-to-text adapters the relay calls
// when a message is directed at the embedded assistant.
//
// The adapter is consumed as an opaque service: devroom never inspects how
// the text was produced, only feeds it through the parser. Clients exist
// for the Google Generative Language, Anthropic Messages, and OpenAI Chat
// Completions APIs.
package assistant

import (
	"context"
	"fmt"
	"os"
)

// Client generates assistant text for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SystemPrompt instructs the model to reply with the structured fileTree
// shape for project-sized answers, a single code object for one-file
// answers, and plain markdown otherwise. The parser handles all three.
const SystemPrompt = `You are a senior full-stack developer collaborating inside a shared project workspace.

When the user asks you to build a project or multiple files, respond with a single JSON object:
{"text":"<short summary>","fileTree":{"<relative/path>":{"file":{"contents":"<file contents>"}}}}
Include a valid package.json when the project is runnable with npm.

When the user asks for a single file or snippet, respond with:
{"text":"<short summary>","code":"<the code>","filename":"<suggested filename>","language":"<language tag>"}

For questions that need no code, reply in plain markdown.
Do not wrap JSON responses in markdown fences.`

// FromEnv creates a Client from environment variables, preferring Gemini,
// then Anthropic, then OpenAI. Returns an error if no API key is set.
func FromEnv() (Client, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return NewGeminiClient(key, os.Getenv("DEVROOM_AI_MODEL")), nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return NewAnthropicClient(key, os.Getenv("DEVROOM_AI_MODEL")), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return NewOpenAIClient(key, os.Getenv("DEVROOM_AI_MODEL")), nil
	}
	return nil, fmt.Errorf("no assistant API key found (set GEMINI_API_KEY, ANTHROPIC_API_KEY, or OPENAI_API_KEY)")
}
