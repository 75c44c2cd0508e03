package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devroom-ai/devroom"
	channelSlack "github.com/devroom-ai/devroom/channel/slack"
	channelTelegram "github.com/devroom-ai/devroom/channel/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the devroom server",
	Long:  "Start the devroom server that hosts project rooms, the AI assistant, and the preview sandbox.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load config file into environment (non-destructive).
	loadConfigFileIntoEnv()

	secret := os.Getenv("DEVROOM_TOKEN_SECRET")
	if secret == "" {
		return fmt.Errorf("DEVROOM_TOKEN_SECRET is required")
	}

	cfg := devroom.Config{
		ServerAddr:   envOr("DEVROOM_ADDR", ":7080"),
		DataDir:      os.Getenv("DEVROOM_DATA_DIR"),
		TokenSecret:  secret,
		SandboxImage: envOr("DEVROOM_SANDBOX_IMAGE", "node:20-alpine"),
		SandboxPort:  envOr("DEVROOM_SANDBOX_PORT", "3000"),
	}

	app, err := devroom.NewBuilder().WithConfig(cfg).Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Add Slack bridge if configured.
	slackBotToken := os.Getenv("SLACK_BOT_TOKEN")
	slackAppToken := os.Getenv("SLACK_APP_TOKEN")
	if slackBotToken != "" && slackAppToken != "" {
		bridge := channelSlack.New(channelSlack.Options{
			BotToken:       slackBotToken,
			AppToken:       slackAppToken,
			Projects:       parseProjectMap(os.Getenv("SLACK_PROJECT_MAP")),
			DefaultProject: os.Getenv("SLACK_DEFAULT_PROJECT"),
		}, app.Hub(), app.Relay())
		app.AddChannel(bridge)
		fmt.Println("Slack bridge enabled (Socket Mode)")
	}

	// Add Telegram bridge if configured.
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		bridge, err := channelTelegram.New(channelTelegram.Options{
			Token:          token,
			Projects:       parseChatProjectMap(os.Getenv("TELEGRAM_PROJECT_MAP")),
			DefaultProject: os.Getenv("TELEGRAM_DEFAULT_PROJECT"),
		}, app.Hub(), app.Relay())
		if err != nil {
			fmt.Printf("Warning: failed to initialize Telegram bridge: %v\n", err)
		} else {
			app.AddChannel(bridge)
			fmt.Println("Telegram bridge enabled (long polling)")
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// loadConfigFileIntoEnv reads ~/.devroom/config.env and sets any values
// not already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".devroom", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// parseProjectMap parses "C0123=project-uuid,C0456=project-uuid".
func parseProjectMap(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			m[parts[0]] = parts[1]
		}
	}
	return m
}

// parseChatProjectMap parses "123456789=project-uuid,..." with numeric
// Telegram chat IDs.
func parseChatProjectMap(raw string) map[int64]string {
	if raw == "" {
		return nil
	}
	m := make(map[int64]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		m[id] = parts[1]
	}
	return m
}
