// Package notify: telegram.go posts operator alerts to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramAlerter sends alerts to the operations chat.
type TelegramAlerter struct {
	bot     *telego.Bot
	chatID  int64
	timeout time.Duration
}

// NewTelegramAlerter validates the token format and creates the alerter.
func NewTelegramAlerter(token string, chatID int64, timeout time.Duration) (*TelegramAlerter, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramAlerter{bot: bot, chatID: chatID, timeout: timeout}, nil
}

func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(a.chatID), text)); err != nil {
		return fmt.Errorf("failed to send Telegram alert: %w", err)
	}
	return nil
}
