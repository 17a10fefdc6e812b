// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/mail"
)

// Link paths appended to the configured base URL.
const (
	ConfirmEmailPath  = "/account/confirm-email"
	ResetPasswordPath = "/account/reset-password"
)

// Notifier renders account notifications and hands them to a mail.Dispatcher.
// Dispatch failures surface as MAIL_DISPATCH_FAILED and are not retried.
type Notifier struct {
	dispatcher mail.Dispatcher
	templates  *mail.Templates
	from       mail.Address
	baseURL    *url.URL
}

// NewNotifier creates a Notifier. baseURL is the public origin used for links.
func NewNotifier(dispatcher mail.Dispatcher, templates *mail.Templates, from mail.Address, baseURL string) (*Notifier, error) {
	if dispatcher == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("mail dispatcher is required")
	}
	if templates == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("mail templates are required")
	}
	if from.Email == "" {
		return nil, oops.Code(CodeConfigInvalid).Errorf("mail sender is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, oops.Code(CodeConfigInvalid).With("base_url", baseURL).Errorf("mail base url must be absolute")
	}
	return &Notifier{dispatcher: dispatcher, templates: templates, from: from, baseURL: u}, nil
}

// ConfirmationLink builds the email-confirmation link.
func (n *Notifier) ConfirmationLink(a *Account, token string) string {
	return n.link(ConfirmEmailPath, url.Values{"email": {a.Email}, "token": {token}})
}

// ResetLink builds the password-reset link.
func (n *Notifier) ResetLink(a *Account, token string) string {
	return n.link(ResetPasswordPath, url.Values{"id": {a.ID.String()}, "token": {token}})
}

// SendConfirmation mails the email-confirmation link.
func (n *Notifier) SendConfirmation(ctx context.Context, a *Account, token string, validFor time.Duration) error {
	return n.send(ctx, a, mail.KindConfirmEmail, mail.Data{
		"name":       a.NameForDisplay(),
		"link":       n.ConfirmationLink(a, token),
		"expires_in": humanDuration(validFor),
	})
}

// SendPasswordReset mails the password-reset link.
func (n *Notifier) SendPasswordReset(ctx context.Context, a *Account, token string, validFor time.Duration) error {
	return n.send(ctx, a, mail.KindResetPassword, mail.Data{
		"name":       a.NameForDisplay(),
		"link":       n.ResetLink(a, token),
		"expires_in": humanDuration(validFor),
	})
}

// SendLockout tells the owner the account is locked and offers a reset link.
// remaining is the time left on the lockout when the mail is sent.
func (n *Notifier) SendLockout(ctx context.Context, a *Account, token string, attempts int, until time.Time, remaining time.Duration) error {
	return n.send(ctx, a, mail.KindLockout, mail.Data{
		"name":         a.NameForDisplay(),
		"attempts":     attempts,
		"locked_until": until.UTC().Format(time.RFC1123),
		"remaining":    humanDuration(remaining),
		"link":         n.ResetLink(a, token),
	})
}

// SendTwoFactorCode mails a sign-in code.
func (n *Notifier) SendTwoFactorCode(ctx context.Context, a *Account, code string, validFor time.Duration) error {
	return n.send(ctx, a, mail.KindTwoFactorCode, mail.Data{
		"name":       a.NameForDisplay(),
		"code":       code,
		"expires_in": humanDuration(validFor),
	})
}

func (n *Notifier) send(ctx context.Context, a *Account, kind mail.Kind, data mail.Data) error {
	subject, body, err := n.templates.Render(kind, data)
	if err != nil {
		mailDispatches.WithLabelValues("failed").Inc()
		return oops.Code(CodeMailDispatchFailed).With("kind", kind).Wrap(err)
	}
	msg := mail.Message{
		From:    n.from,
		To:      []mail.Address{{Name: a.DisplayName, Email: a.Email}},
		Subject: subject,
		HTML:    body,
	}
	if err := n.dispatcher.Send(ctx, msg); err != nil {
		mailDispatches.WithLabelValues("failed").Inc()
		return oops.Code(CodeMailDispatchFailed).
			With("kind", kind).
			With("account_id", a.ID.String()).
			Wrap(err)
	}
	mailDispatches.WithLabelValues("sent").Inc()
	return nil
}

func (n *Notifier) link(path string, q url.Values) string {
	u := *n.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

// humanDuration renders d coarsely for message bodies.
func humanDuration(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= 2*time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	s := strconv.Itoa(n) + " " + unit
	if n != 1 {
		s += "s"
	}
	return s
}
