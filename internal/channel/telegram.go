package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"dealpipe/internal/model"
)

type telegramClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers offers to Telegram chats. Bot clients are
// cached per token since channels of one user often share a bot.
type TelegramSender struct {
	log       *slog.Logger
	newClient func(token string) (telegramClient, error)

	mu      sync.Mutex
	clients map[string]telegramClient
}

// NewTelegramSender creates a sender using the real Telegram Bot API.
func NewTelegramSender(log *slog.Logger) *TelegramSender {
	return &TelegramSender{
		log: log,
		newClient: func(token string) (telegramClient, error) {
			return tgbotapi.NewBotAPI(token)
		},
		clients: make(map[string]telegramClient),
	}
}

// Send delivers the offer to the chat named in config. When the offer
// has an image, a photo with caption is tried first and a failure
// falls back to a plain text message without surfacing an error.
func (t *TelegramSender) Send(ctx context.Context, offer *model.Offer, config map[string]string) error {
	token := config["bot_token"]
	chat := config["chat_id"]
	if token == "" || chat == "" {
		return fmt.Errorf("telegram config requires bot_token and chat_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := t.client(token)
	if err != nil {
		return fmt.Errorf("telegram client: %w", err)
	}

	text := FormatOffer(offer)

	if offer.ImageURL != "" {
		photo := tgbotapi.PhotoConfig{
			BaseFile: tgbotapi.BaseFile{
				BaseChat: chatTarget(chat),
				File:     tgbotapi.FileURL(offer.ImageURL),
			},
			Caption:   text,
			ParseMode: tgbotapi.ModeMarkdown,
		}
		_, photoErr := client.Send(photo)
		if photoErr == nil {
			return nil
		}
		t.log.Warn("photo send failed, falling back to text", "chat", chat, "error", photoErr)
	}

	msg := tgbotapi.MessageConfig{
		BaseChat:  chatTarget(chat),
		Text:      text,
		ParseMode: tgbotapi.ModeMarkdown,
	}
	if _, err := client.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *TelegramSender) client(token string) (telegramClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[token]; ok {
		return c, nil
	}
	c, err := t.newClient(token)
	if err != nil {
		return nil, err
	}
	t.clients[token] = c
	return c, nil
}

// chatTarget resolves a chat reference: "@name" targets a public
// channel by username, anything else is a numeric chat id.
func chatTarget(chat string) tgbotapi.BaseChat {
	if strings.HasPrefix(chat, "@") {
		return tgbotapi.BaseChat{ChannelUsername: chat}
	}
	id, _ := strconv.ParseInt(chat, 10, 64)
	return tgbotapi.BaseChat{ChatID: id}
}
