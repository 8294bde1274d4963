package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications to users who linked a Telegram chat.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// ErrNoChat is returned for users without a linked Telegram chat.
var ErrNoChat = errors.New("user has no telegram chat")

func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	if msg.User.TelegramChatID == nil {
		return ErrNoChat
	}
	tm := tgbotapi.NewMessage(*msg.User.TelegramChatID, FormatTelegram(msg))
	tm.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(tm); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// FormatTelegram renders a message as Telegram HTML.
func FormatTelegram(msg Message) string {
	return fmt.Sprintf("<b>%s</b>\n\n%s", tgbotapi.EscapeText(tgbotapi.ModeHTML, msg.Subject), tgbotapi.EscapeText(tgbotapi.ModeHTML, msg.Body))
}
