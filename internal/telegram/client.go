// Package telegram adapts the Telegram Bot API to the transport-neutral bot and
// notification types.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/bot"
	"github.com/avtomat-kz/avtomat-api/internal/models"
)

const labelShareContact = "📱 Отправить контакт"

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config holds bot credentials and polling options.
type Config struct {
	Token string
	// APIEndpoint overrides the Bot API URL template, e.g. for a local Bot API server.
	APIEndpoint string
	PollTimeout time.Duration
	Debug       bool
	Logger      *zap.Logger
}

// Client sends messages and receives updates through the Bot API.
type Client struct {
	api         botAPI
	pollTimeout time.Duration
	logger      *zap.Logger
}

// NewClient authenticates against the Bot API.
func NewClient(cfg Config) (*Client, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = cfg.Debug
	client := newClient(api, cfg)
	client.logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return client, nil
}

func newClient(api botAPI, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	return &Client{api: api, pollTimeout: cfg.PollTimeout, logger: cfg.Logger}
}

// Send delivers one message. It satisfies both the bot responder and the notification messenger.
func (c *Client) Send(ctx context.Context, msg models.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Send(render(msg)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", msg.ChatID, err)
	}
	return nil
}

// Answer acknowledges a button press, showing alert text when present.
func (c *Client) Answer(ctx context.Context, alert models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.NewCallback(alert.CallbackID, alert.Text)); err != nil {
		return fmt.Errorf("telegram answer callback: %w", err)
	}
	return nil
}

// Poll long-polls updates and submits every recognised action until ctx is done.
func (c *Client) Poll(ctx context.Context, submit func(bot.Action) error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(c.pollTimeout / time.Second)
	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			action, ok := ToAction(update)
			if !ok {
				continue
			}
			if err := submit(action); err != nil {
				c.logger.Warn("update dropped", zap.Int("update_id", update.UpdateID), zap.Error(err))
			}
		}
	}
}

// ToAction converts an update into a bot action. Updates the bot does not handle
// (edits, channel posts, stickers) are reported as not ok.
func ToAction(update tgbotapi.Update) (bot.Action, bool) {
	id := strconv.Itoa(update.UpdateID)
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return bot.Action{}, false
		}
		return bot.Action{
			ID:         id,
			UserID:     q.From.ID,
			ChatID:     q.Message.Chat.ID,
			Username:   q.From.UserName,
			Kind:       bot.ActionButton,
			Data:       q.Data,
			CallbackID: q.ID,
			ReceivedAt: time.Now().UTC(),
		}, true
	case update.Message != nil:
		m := update.Message
		if m.From == nil || m.Chat == nil {
			return bot.Action{}, false
		}
		a := bot.Action{
			ID:         id,
			UserID:     m.From.ID,
			ChatID:     m.Chat.ID,
			Username:   m.From.UserName,
			ReceivedAt: m.Time().UTC(),
		}
		switch {
		// only the sender's own contact is accepted as their phone
		case m.Contact != nil && (m.Contact.UserID == 0 || m.Contact.UserID == m.From.ID):
			a.Kind = bot.ActionContact
			a.Phone = m.Contact.PhoneNumber
		case m.Text != "":
			a.Kind = bot.ActionText
			a.Text = m.Text
		default:
			return bot.Action{}, false
		}
		return a, true
	default:
		return bot.Action{}, false
	}
}

func render(msg models.OutboundMessage) tgbotapi.MessageConfig {
	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.HTML {
		out.ParseMode = tgbotapi.ModeHTML
	}
	out.DisableWebPagePreview = true

	switch {
	case msg.RequestContact:
		keyboard := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(labelShareContact)))
		keyboard.ResizeKeyboard = true
		keyboard.OneTimeKeyboard = true
		out.ReplyMarkup = keyboard
	case msg.RemoveKeyboard:
		out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	case len(msg.Buttons) > 0:
		out.ReplyMarkup = inlineKeyboard(msg.Buttons)
	}
	return out
}

func inlineKeyboard(rows [][]models.Button) tgbotapi.InlineKeyboardMarkup {
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		markup = append(markup, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}
