// Package notify delivers messages to people: e-mail reminders to
// broadcasters and alerts to the operator chat.
package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Email is one outgoing message.
type Email struct {
	To      string
	Name    string
	Subject string
	HTML    string
}

// Mailer sends e-mail.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// Alerter posts operator alerts.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// LogMailer writes e-mails to the log instead of sending them.
// Used when no mail API is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Email) error {
	log.WithFields(log.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("E-mail delivery disabled, message logged")
	return nil
}

// LogAlerter writes alerts to the log. Used when Telegram is not configured.
type LogAlerter struct{}

func (LogAlerter) Alert(ctx context.Context, text string) error {
	log.WithField("alert", text).Warn("Operator alert")
	return nil
}
