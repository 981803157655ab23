// Package slackconn connects the core to Slack over Socket Mode.
package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/deskhive-io/deskhive/internal/connector"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
}

// Connector implements connector.Connector for Slack via Socket Mode.
type Connector struct {
	api      *slack.Client
	socket   *socketmode.Client
	config   Config
	handler  connector.InboundHandler
	callback connector.CallbackHandler
	logger   *slog.Logger
	cancel   context.CancelFunc
	botID    string
}

// New creates a Slack connector. callback may be nil when no action buttons
// are used.
func New(cfg Config, handler connector.InboundHandler, callback connector.CallbackHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:      api,
		socket:   socketmode.New(api),
		config:   cfg,
		handler:  handler,
		callback: callback,
		logger:   logger,
		botID:    authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is
// cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Slack channel, rendering actions as an
// interactive button block.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}

	if len(msg.Actions) > 0 {
		var buttons []slack.BlockElement
		for _, a := range msg.Actions {
			buttons = append(buttons, slack.NewButtonBlockElement(
				a.Data, a.Data, slack.NewTextBlockObject(slack.PlainTextType, a.Label, false, false)))
		}
		opts = append(opts, slack.MsgOptionBlocks(
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, msg.Content, false, false), nil, nil),
			slack.NewActionBlock("actions", buttons...),
		))
	}

	channel, _, _ := strings.Cut(msg.ChatID, ":")
	if _, _, err := c.api.PostMessage(channel, opts...); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

// SendFile uploads a file into a channel.
func (c *Connector) SendFile(ctx context.Context, f connector.File) error {
	channel, _, _ := strings.Cut(f.ChatID, ":")
	_, err := c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Filename: f.Name,
		FileSize: len(f.Data),
		Content:  string(f.Data),
		Channel:  channel,
	})
	if err != nil {
		return fmt.Errorf("slack: upload file: %w", err)
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeInteractive:
				c.handleInteractive(ctx, event)
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		c.handleMessage(ctx, ev)
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages (including our own) and subtypes (edits, deletes).
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID || ev.SubType != "" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) {
		return
	}

	var attachments []connector.Attachment
	for _, f := range ev.Message.Files {
		if f.URLPrivateDownload != "" {
			attachments = append(attachments, connector.Attachment{Name: f.Name, URL: f.URLPrivateDownload})
		}
	}

	if ev.Text == "" && len(attachments) == 0 {
		return
	}

	// Thread replies stay one conversation.
	chatID := ev.Channel
	if ev.ThreadTimeStamp != "" {
		chatID = ev.Channel + ":" + ev.ThreadTimeStamp
	}

	inbound := connector.InboundMessage{
		Channel:     "slack",
		ChatID:      chatID,
		SenderID:    ev.User,
		Username:    ev.User,
		Content:     ev.Text,
		Attachments: attachments,
	}

	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("slack inbound handler error", "channel", ev.Channel, "user", ev.User, "error", err)
	}
}

func (c *Connector) handleInteractive(ctx context.Context, event socketmode.Event) {
	cb, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	if c.callback == nil || cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		c.callback(ctx, cb.Channel.ID, cb.User.ID, action.Value)
	}
}

func (c *Connector) isAllowedChannel(channel string) bool {
	if len(c.config.Channels) == 0 {
		return true
	}
	for _, ch := range c.config.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}
