// Package notify: email.go sends HTML e-mail through a transactional mail
// HTTP API (ZeptoMail-compatible payload).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

type emailRequest struct {
	From     emailAddress  `json:"from"`
	To       []toRecipient `json:"to"`
	Subject  string        `json:"subject"`
	HTMLBody string        `json:"htmlbody"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type toRecipient struct {
	Email emailWithName `json:"email_address"`
}

type emailWithName struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// EmailSender posts messages to the mail API.
type EmailSender struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
}

// NewEmailSender creates a sender with a bounded request timeout.
func NewEmailSender(apiURL, apiKey, from string, timeout time.Duration) *EmailSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailSender{
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *EmailSender) Send(ctx context.Context, msg Email) error {
	payload := emailRequest{
		From:     emailAddress{Address: s.from},
		To:       []toRecipient{{Email: emailWithName{Address: msg.To, Name: msg.Name}}},
		Subject:  msg.Subject,
		HTMLBody: msg.HTML,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode e-mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build e-mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send e-mail to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("mail API returned %s", resp.Status)
	}

	log.WithFields(log.Fields{"to": msg.To, "subject": msg.Subject}).Debug("E-mail sent")
	return nil
}
