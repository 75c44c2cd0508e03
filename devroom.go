// Package devroom is the top-level entry point for the devroom framework.
//
// Use the Builder to compose a devroom application:
//
//	app, err := devroom.NewBuilder().
//	    WithConfig(devroom.Config{TokenSecret: secret}).
//	    Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := devroom.NewBuilder().
//	    WithStore(myStore).
//	    WithAssistant(myClient).
//	    WithSandbox(myRuntime).
//	    Build()
package devroom

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/devroom-ai/devroom/assistant"
	"github.com/devroom-ai/devroom/channel"
	"github.com/devroom-ai/devroom/gateway"
	"github.com/devroom-ai/devroom/httpapi"
	"github.com/devroom-ai/devroom/relay"
	"github.com/devroom-ai/devroom/room"
	"github.com/devroom-ai/devroom/sandbox"
	"github.com/devroom-ai/devroom/store"
)

// Config holds top-level configuration for a devroom application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.devroom").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// TokenSecret signs and verifies connection tokens. Required.
	TokenSecret string

	// SandboxImage is the Docker image for preview sandboxes
	// (default "node:20-alpine").
	SandboxImage string

	// SandboxPort is the container port dev servers bind (default "3000").
	SandboxPort string
}

// Builder constructs a devroom App.
type Builder struct {
	config    Config
	store     store.ProjectStore
	assistant assistant.Client
	runtime   sandbox.Runtime
	exporter  httpapi.Exporter
	channels  []channel.Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the project store implementation.
func (b *Builder) WithStore(s store.ProjectStore) *Builder {
	b.store = s
	return b
}

// WithAssistant sets the assistant adapter.
func (b *Builder) WithAssistant(c assistant.Client) *Builder {
	b.assistant = c
	return b
}

// WithSandbox sets the sandbox runtime implementation.
func (b *Builder) WithSandbox(rt sandbox.Runtime) *Builder {
	b.runtime = rt
	return b
}

// WithExporter sets the git export client.
func (b *Builder) WithExporter(e httpapi.Exporter) *Builder {
	b.exporter = e
	return b
}

// WithChannel adds a chat bridge (Slack, Telegram, etc.) to the application.
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if b.config.TokenSecret == "" {
		return nil, errors.New("token secret is required")
	}
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	hub := room.NewHub()
	rl := relay.New(hub, b.assistant)
	gw := gateway.New([]byte(b.config.TokenSecret), b.store)

	inst := sandbox.New(sandbox.Config{
		Runtime: b.runtime,
		Observer: sandbox.ObserverFunc(func(stage sandbox.Stage, line string) {
			log.Printf("sandbox [%s] %s", stage, line)
		}),
	})

	handler := httpapi.New(httpapi.Options{
		Store:     b.store,
		Gateway:   gw,
		Hub:       hub,
		Relay:     rl,
		Assistant: b.assistant,
		Exporter:  b.exporter,
		Sandbox:   inst,
	})

	return &App{
		config:   b.config,
		store:    b.store,
		hub:      hub,
		relay:    rl,
		sandbox:  inst,
		handler:  handler,
		channels: b.channels,
	}, nil
}

// App is a running devroom application.
type App struct {
	config   Config
	store    store.ProjectStore
	hub      *room.Hub
	relay    *relay.Relay
	sandbox  *sandbox.Instance
	handler  *httpapi.Handler
	channels []channel.Channel
}

// AddChannel attaches a chat bridge to a built App. Must be called
// before Start.
func (a *App) AddChannel(ch channel.Channel) {
	a.channels = append(a.channels, ch)
}

// Store returns the project store for direct access.
func (a *App) Store() store.ProjectStore { return a.store }

// Hub returns the room hub for direct access.
func (a *App) Hub() *room.Hub { return a.hub }

// Relay returns the message relay for direct access.
func (a *App) Relay() *relay.Relay { return a.relay }

// Sandbox returns the sandbox instance for direct access.
func (a *App) Sandbox() *sandbox.Instance { return a.sandbox }

// Handler returns the HTTP API handler.
func (a *App) Handler() *httpapi.Handler { return a.handler }

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	for _, ch := range a.channels {
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("devroom server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sandbox.Close(closeCtx); err != nil {
		log.Printf("Error closing sandbox: %v", err)
	}
	return a.store.Close()
}
