// Package slack bridges Slack conversations into project rooms using
// Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed.
// Mentioning the bot in a mapped Slack channel forwards the message into
// the project room; room broadcasts are mirrored back into the channel.
package slack

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/devroom-ai/devroom/channel"
	"github.com/devroom-ai/devroom/model"
	"github.com/devroom-ai/devroom/relay"
	"github.com/devroom-ai/devroom/room"
)

// Options configures a Slack bridge.
type Options struct {
	BotToken string
	AppToken string
	// Projects maps Slack channel IDs to project IDs. Channels not listed
	// fall back to DefaultProject.
	Projects       map[string]string
	DefaultProject string
}

// Bridge is the Slack Socket Mode bridge.
type Bridge struct {
	api          *slack.Client
	socketClient *socketmode.Client
	hub          *room.Hub
	relay        *relay.Relay
	opts         Options

	mu     sync.Mutex
	joined map[string]*model.Session // Slack channel ID -> room session
}

// New creates a Slack bridge.
func New(opts Options, hub *room.Hub, rl *relay.Relay) *Bridge {
	api := slack.New(
		opts.BotToken,
		slack.OptionAppLevelToken(opts.AppToken),
	)
	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)
	return &Bridge{
		api:          api,
		socketClient: socketClient,
		hub:          hub,
		relay:        rl,
		opts:         opts,
		joined:       make(map[string]*model.Session),
	}
}

// Name returns the channel identifier.
func (b *Bridge) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bridge) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bridge connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

func (b *Bridge) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.leaveAll()
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge immediately (Slack requires ack within 3 seconds).
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
				go b.handleMention(ctx, ev)
			}
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

// handleMention forwards an @mention into the mapped project room.
func (b *Bridge) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	// Strip the bot mention (<@U12345>) to get the message text.
	text := ev.Text
	if idx := strings.Index(text, ">"); idx >= 0 {
		text = strings.TrimSpace(text[idx+1:])
	}
	if text == "" {
		b.post(ev.Channel, "Send a message after the mention, e.g. `@devroom @ai build a landing page`.")
		return
	}

	projectID := b.projectFor(ev.Channel)
	if projectID == "" {
		b.post(ev.Channel, "This Slack channel is not mapped to a project.")
		return
	}

	session := b.ensureJoined(ev.Channel, projectID)
	msg := model.NewEnvelope(text, "slack:"+ev.User)
	b.relay.Handle(ctx, session, msg)
}

// projectFor resolves the project a Slack channel is mapped to.
func (b *Bridge) projectFor(slackChannel string) string {
	if id, ok := b.opts.Projects[slackChannel]; ok {
		return id
	}
	return b.opts.DefaultProject
}

// ensureJoined lazily joins the room for a Slack channel as a virtual
// member whose sends are mirrored back into Slack.
func (b *Bridge) ensureJoined(slackChannel, projectID string) *model.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.joined[slackChannel]; ok {
		return session
	}
	session := &model.Session{
		ConnID:    "slack:" + slackChannel,
		ProjectID: projectID,
	}
	b.hub.Join(session, &mirrorConn{bridge: b, slackChannel: slackChannel})
	b.joined[slackChannel] = session
	return session
}

func (b *Bridge) leaveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, session := range b.joined {
		b.hub.Leave(session.ConnID)
	}
	b.joined = make(map[string]*model.Session)
}

// post sends a plain text message to a Slack channel.
func (b *Bridge) post(slackChannel, text string) {
	_, _, err := b.api.PostMessage(slackChannel, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", slackChannel, err)
	}
}

// mirrorConn delivers room broadcasts to a Slack channel.
type mirrorConn struct {
	bridge       *Bridge
	slackChannel string
}

func (c *mirrorConn) Send(payload any) error {
	text, ok := channel.Render(payload)
	if !ok {
		return nil
	}
	c.bridge.post(c.slackChannel, text)
	return nil
}

func (c *mirrorConn) Close() error { return nil }
