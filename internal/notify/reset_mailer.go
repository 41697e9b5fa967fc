// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package notify

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"net/url"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.ResetNotifier = (*ResetMailer)(nil)

const resetText = `Hello,

We received a request to reset the password for {{.Email}} on {{.Product}}.
Open the link below to choose a new password:

{{.Link}}

The link expires in {{.ValidFor}}. If you did not ask for a reset, ignore this email.
`

const resetHTML = `<!DOCTYPE html>
<html>
<body style="font-family:Arial,Helvetica,sans-serif;">
  <h2>{{.Product}} password reset</h2>
  <p>We received a request to reset the password for {{.Email}}.</p>
  <p><a href="{{.Link}}">Reset password</a></p>
  <p>The link expires in {{.ValidFor}}. If you did not ask for a reset, ignore this email.</p>
  <p style="word-break:break-all;">{{.Link}}</p>
</body>
</html>`

var (
	resetTextTmpl = texttemplate.Must(texttemplate.New("reset.txt").Parse(resetText))
	resetHTMLTmpl = htmltemplate.Must(htmltemplate.New("reset.html").Parse(resetHTML))
)

type resetData struct {
	Product  string
	Email    string
	Link     string
	ValidFor string
}

// ResetMailer emails password reset links.
type ResetMailer struct {
	sender  Sender
	appURL  string
	product string
	now     func() time.Time
}

// NewResetMailer creates a ResetMailer. Links point at
// {appURL}/reset-password?token=...
func NewResetMailer(sender Sender, appURL, product string) (*ResetMailer, error) {
	if sender == nil {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("sender is required")
	}
	if _, err := url.ParseRequestURI(appURL); err != nil {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").With("app_url", appURL).Wrap(err)
	}
	if product == "" {
		product = "authcore"
	}
	return &ResetMailer{
		sender:  sender,
		appURL:  strings.TrimRight(appURL, "/"),
		product: product,
		now:     time.Now,
	}, nil
}

// ResetLink returns the link a user follows to reset their password.
func (m *ResetMailer) ResetLink(token string) string {
	return m.appURL + "/reset-password?token=" + url.QueryEscape(token)
}

// SendPasswordReset emails user a reset link carrying token.
func (m *ResetMailer) SendPasswordReset(ctx context.Context, user *auth.User, token string, expiresAt time.Time) error {
	data := resetData{
		Product:  m.product,
		Email:    user.Email,
		Link:     m.ResetLink(token),
		ValidFor: validFor(expiresAt.Sub(m.now())),
	}

	var text, html bytes.Buffer
	if err := resetTextTmpl.Execute(&text, data); err != nil {
		return oops.Code("NOTIFY_RENDER_FAILED").With("template", "reset.txt").Wrap(err)
	}
	if err := resetHTMLTmpl.Execute(&html, data); err != nil {
		return oops.Code("NOTIFY_RENDER_FAILED").With("template", "reset.html").Wrap(err)
	}

	return m.sender.Send(ctx, Message{
		To:      user.Email,
		Subject: "Reset your " + m.product + " password",
		Text:    text.String(),
		HTML:    html.String(),
	})
}

// validFor renders a remaining lifetime rounded to whole minutes.
func validFor(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		d = time.Minute
	}
	h, m := int(d/time.Hour), int((d%time.Hour)/time.Minute)
	switch {
	case h == 0:
		return plural(m, "minute")
	case m == 0:
		return plural(h, "hour")
	default:
		return plural(h, "hour") + " " + plural(m, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
