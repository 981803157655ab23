package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deskhive-io/deskhive/internal/connector"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// Connector implements connector.Connector for Telegram via long polling.
type Connector struct {
	bot      *tgbotapi.BotAPI
	config   Config
	handler  connector.InboundHandler
	callback connector.CallbackHandler
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// New creates a Telegram connector. callback may be nil when no action
// buttons are used.
func New(cfg Config, handler connector.InboundHandler, callback connector.CallbackHandler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:      bot,
		config:   cfg,
		handler:  handler,
		callback: callback,
		logger:   logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				c.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				c.handleMessage(ctx, update.Message)
			}

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Telegram chat, with an inline keyboard when
// the message carries actions.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}
	if strings.TrimSpace(msg.Content) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Content)
	tgMsg.DisableWebPagePreview = true

	if len(msg.Actions) > 0 {
		var row []tgbotapi.InlineKeyboardButton
		for _, a := range msg.Actions {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
		}
		tgMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}

	if _, err := c.bot.Send(tgMsg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// SendFile uploads a document into a chat.
func (c *Connector) SendFile(_ context.Context, f connector.File) error {
	chatID, err := strconv.ParseInt(f.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", f.ChatID, err)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: f.Name, Bytes: f.Data})
	if _, err := c.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram: send file: %w", err)
	}
	return nil
}

func (c *Connector) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(c.config.AllowFrom) > 0 && !contains(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	attachments := c.resolveAttachments(msg)
	if text == "" && len(attachments) == 0 {
		return
	}

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	c.bot.Send(typing)

	inbound := connector.InboundMessage{
		Channel:     "telegram",
		ChatID:      strconv.FormatInt(chatID, 10),
		SenderID:    strconv.FormatInt(userID, 10),
		Username:    msg.From.UserName,
		DisplayName: displayName(msg.From),
		Content:     text,
		Attachments: attachments,
	}

	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("inbound handler error", "chat_id", chatID, "error", err)
	}
}

// resolveAttachments turns Telegram file references into fetchable URLs.
func (c *Connector) resolveAttachments(msg *tgbotapi.Message) []connector.Attachment {
	var out []connector.Attachment

	if msg.Document != nil {
		if url, err := c.bot.GetFileDirectURL(msg.Document.FileID); err == nil {
			out = append(out, connector.Attachment{Name: msg.Document.FileName, URL: url})
		} else {
			c.logger.Error("document url resolve failed", "file_id", msg.Document.FileID, "error", err)
		}
	}

	if len(msg.Photo) > 0 {
		// The last photo size is the largest.
		best := msg.Photo[len(msg.Photo)-1]
		if url, err := c.bot.GetFileDirectURL(best.FileID); err == nil {
			out = append(out, connector.Attachment{Name: "photo.jpg", URL: url})
		} else {
			c.logger.Error("photo url resolve failed", "file_id", best.FileID, "error", err)
		}
	}

	return out
}

func (c *Connector) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// Ack so the button stops spinning even when no handler is wired.
	c.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	if c.callback == nil || cq.Message == nil || cq.From == nil {
		return
	}
	c.callback(ctx,
		strconv.FormatInt(cq.Message.Chat.ID, 10),
		strconv.FormatInt(cq.From.ID, 10),
		cq.Data)
}

func displayName(u *tgbotapi.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return strings.TrimSpace(name)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
