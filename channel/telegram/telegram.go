// Package telegram bridges Telegram chats into project rooms.
//
// Uses long polling -- no public URL or webhook needed. Messages in a
// mapped chat flow into the project room; room broadcasts are mirrored
// back into the chat.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devroom-ai/devroom/channel"
	"github.com/devroom-ai/devroom/model"
	"github.com/devroom-ai/devroom/relay"
	"github.com/devroom-ai/devroom/room"
)

// Options configures a Telegram bridge.
type Options struct {
	Token string
	// Projects maps Telegram chat IDs to project IDs. Chats not listed
	// fall back to DefaultProject.
	Projects       map[int64]string
	DefaultProject string
}

// Bridge is the Telegram long-polling bridge.
type Bridge struct {
	api   *tgbotapi.BotAPI
	hub   *room.Hub
	relay *relay.Relay
	opts  Options

	mu     sync.Mutex
	joined map[int64]*model.Session // chat ID -> room session
}

// New creates a Telegram bridge.
func New(opts Options, hub *room.Hub, rl *relay.Relay) (*Bridge, error) {
	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bridge authorized as @%s", api.Self.UserName)

	return &Bridge{
		api:    api,
		hub:    hub,
		relay:  rl,
		opts:   opts,
		joined: make(map[int64]*model.Session),
	}, nil
}

// Name returns the channel identifier.
func (b *Bridge) Name() string { return "telegram" }

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bridge listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.leaveAll()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleMessage forwards an incoming chat message into the project room.
func (b *Bridge) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID

	if text == "/start" || text == "/help" {
		b.send(chatID, "devroom bridge - messages here are shared with the project room.\n"+
			"Prefix a request with @ai to ask the assistant, e.g.\n"+
			"@ai build a landing page with a signup form")
		return
	}
	if text == "" {
		return
	}

	projectID := b.projectFor(chatID)
	if projectID == "" {
		b.send(chatID, "This chat is not mapped to a project.")
		return
	}

	session := b.ensureJoined(chatID, projectID)
	sender := msg.From.UserName
	if sender == "" {
		sender = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	b.relay.Handle(ctx, session, model.NewEnvelope(text, "telegram:"+sender))
}

// projectFor resolves the project a chat is mapped to.
func (b *Bridge) projectFor(chatID int64) string {
	if id, ok := b.opts.Projects[chatID]; ok {
		return id
	}
	return b.opts.DefaultProject
}

// ensureJoined lazily joins the room for a chat as a virtual member whose
// sends are mirrored back into Telegram.
func (b *Bridge) ensureJoined(chatID int64, projectID string) *model.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.joined[chatID]; ok {
		return session
	}
	session := &model.Session{
		ConnID:    "telegram:" + strconv.FormatInt(chatID, 10),
		ProjectID: projectID,
	}
	b.hub.Join(session, &mirrorConn{bridge: b, chatID: chatID})
	b.joined[chatID] = session
	return session
}

func (b *Bridge) leaveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, session := range b.joined {
		b.hub.Leave(session.ConnID)
	}
	b.joined = make(map[int64]*model.Session)
}

// send posts a plain text message to a chat.
func (b *Bridge) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Telegram: failed to send message: %v", err)
	}
}

// mirrorConn delivers room broadcasts to a Telegram chat.
type mirrorConn struct {
	bridge *Bridge
	chatID int64
}

func (c *mirrorConn) Send(payload any) error {
	text, ok := channel.Render(payload)
	if !ok {
		return nil
	}
	c.bridge.send(c.chatID, text)
	return nil
}

func (c *mirrorConn) Close() error { return nil }
