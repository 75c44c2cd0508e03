package devroom

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devroom-ai/devroom/assistant"
	"github.com/devroom-ai/devroom/gitexport"
	"github.com/devroom-ai/devroom/sandbox"
	sqliteStore "github.com/devroom-ai/devroom/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "devroom.db")
	}
	if b.config.SandboxImage == "" {
		b.config.SandboxImage = "node:20-alpine"
	}
	if b.config.SandboxPort == "" {
		b.config.SandboxPort = "3000"
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Assistant. Kept non-nil so assistant-directed messages degrade to
	// an unavailable notice instead of being dropped.
	if b.assistant == nil {
		client, err := assistant.FromEnv()
		if err != nil {
			b.assistant = unavailableAssistant{}
		} else {
			b.assistant = client
		}
	}

	// Sandbox runtime.
	if b.runtime == nil {
		b.runtime = sandbox.NewDockerRuntime(sandbox.DockerOptions{
			Name:  "devroom-sandbox",
			Image: b.config.SandboxImage,
			Port:  b.config.SandboxPort,
		})
	}

	// Git exporter.
	if b.exporter == nil {
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			b.exporter = gitexport.NewClient(token)
		}
	}

	return nil
}

// unavailableAssistant fails every generate call.
type unavailableAssistant struct{}

func (unavailableAssistant) Generate(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("no assistant configured: set GEMINI_API_KEY, ANTHROPIC_API_KEY, or OPENAI_API_KEY")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devroom"
	}
	return filepath.Join(home, ".devroom")
}
