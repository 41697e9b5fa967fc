// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package notify delivers account emails.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/resend/resend-go/v3"
	"github.com/samber/oops"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// emailService is the part of the Resend client ResendSender calls.
type emailService interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender sends messages through the Resend API.
type ResendSender struct {
	emails emailService
	from   string
}

// NewResendSender creates a ResendSender. from must be an address on a
// domain verified with Resend, optionally with a display name.
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{emails: resend.NewClient(apiKey).Emails, from: from}
}

// Send delivers msg.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
		Html:    msg.HTML,
	}
	resp, err := s.emails.SendWithContext(ctx, params)
	if err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").
			With("provider", "resend").
			With("subject", msg.Subject).
			Wrap(err)
	}
	if resp != nil {
		slog.DebugContext(ctx, "email sent", "provider", "resend", "message_id", resp.Id)
	}
	return nil
}

// tokenParam matches token query values in message bodies.
var tokenParam = regexp.MustCompile(`([?&]token=)[^\s&"'<>]+`)

// redactTokens masks token query values so a logged link cannot be replayed.
func redactTokens(body string) string {
	return tokenParam.ReplaceAllString(body, "${1}[REDACTED]")
}

// LogSender writes messages to a logger instead of sending them.
// Token values in the body are masked at info level; the full body, reset
// link included, is only logged at debug level.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not sent, log delivery",
		"to", msg.To,
		"subject", msg.Subject,
		"body", redactTokens(msg.Text))
	s.logger.DebugContext(ctx, "log delivery body", "to", msg.To, "body", msg.Text)
	return nil
}

// FormatFrom builds a From header value with a display name.
func FormatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}
