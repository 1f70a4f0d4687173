package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers short human-readable messages about trader activity.
type Notifier interface {
	Notify(text string) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(string) error { return nil }

// Telegram sends messages to one chat, each prefixed with a bot label.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	prefix string
	logger *zap.Logger
}

// NewTelegram connects to the Bot API. Missing credentials disable notifications with a warning.
func NewTelegram(token string, chatID int64, prefix string, logger *zap.Logger) (Notifier, error) {
	if token == "" || chatID == 0 {
		logger.Warn("telegram token or chat id not configured, notifications disabled")
		return Nop{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, prefix, logger), nil
}

func newTelegram(bot *tgbotapi.BotAPI, chatID int64, prefix string, logger *zap.Logger) *Telegram {
	bot.Debug = false
	logger.Info("telegram connected", zap.String("bot", bot.Self.UserName))
	return &Telegram{bot: bot, chatID: chatID, prefix: prefix, logger: logger}
}

func (t *Telegram) Notify(text string) error {
	if t.prefix != "" {
		text = t.prefix + "\n" + text
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram message", zap.Error(err))
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
