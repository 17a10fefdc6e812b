// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/authtest"
	"github.com/gatekeep/gatekeep/internal/mail"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

func TestNewNotifier_Validation(t *testing.T) {
	templates, err := mail.LoadTemplates()
	require.NoError(t, err)
	from := mail.Address{Email: "noreply@example.com"}

	tests := []struct {
		name       string
		dispatcher mail.Dispatcher
		templates  *mail.Templates
		from       mail.Address
		baseURL    string
	}{
		{"no dispatcher", nil, templates, from, "https://example.com"},
		{"no templates", &authtest.Mailbox{}, nil, from, "https://example.com"},
		{"no sender", &authtest.Mailbox{}, templates, mail.Address{}, "https://example.com"},
		{"relative base url", &authtest.Mailbox{}, templates, from, "/account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewNotifier(tt.dispatcher, tt.templates, tt.from, tt.baseURL)
			errutil.AssertErrorCode(t, err, auth.CodeConfigInvalid)
		})
	}
}

func TestNotifier_Links(t *testing.T) {
	templates, err := mail.LoadTemplates()
	require.NoError(t, err)
	n, err := auth.NewNotifier(&authtest.Mailbox{}, templates,
		mail.Address{Email: "noreply@example.com"}, "https://id.example.com/app/")
	require.NoError(t, err)

	a := newTestAccount(t)
	a.Email = "ann+test@example.com"

	u, err := url.Parse(n.ConfirmationLink(a, "tok/en+="))
	require.NoError(t, err)
	assert.Equal(t, "/app"+auth.ConfirmEmailPath, u.Path)
	assert.Equal(t, "ann+test@example.com", u.Query().Get("email"))
	assert.Equal(t, "tok/en+=", u.Query().Get("token"))

	u, err = url.Parse(n.ResetLink(a, "abc"))
	require.NoError(t, err)
	assert.Equal(t, "/app"+auth.ResetPasswordPath, u.Path)
	assert.Equal(t, a.ID.String(), u.Query().Get("id"))
}

func TestNotifier_Messages(t *testing.T) {
	ctx := context.Background()
	h := authtest.NewHarness(t)
	a := newTestAccount(t)
	a.DisplayName = "Ann"

	require.NoError(t, h.Notifier.SendPasswordReset(ctx, a, "abc", 2*time.Hour))
	msg, ok := h.Mailbox.Last()
	require.True(t, ok)
	assert.Equal(t, "Reset your password", msg.Subject)
	assert.Equal(t, "noreply@gatekeep.test", msg.From.Email)
	assert.Equal(t, []mail.Address{{Name: "Ann", Email: a.Email}}, msg.To)
	assert.Contains(t, msg.HTML, "2 hours")

	require.NoError(t, h.Notifier.SendLockout(ctx, a, "abc", 3, h.Clock.Now().Add(5*time.Minute), 5*time.Minute))
	msg, _ = h.Mailbox.Last()
	assert.Equal(t, "Your account has been locked", msg.Subject)
	assert.Contains(t, msg.HTML, "3")
	assert.Contains(t, msg.HTML, "try again in 5 minutes")
	assert.Equal(t, "abc", h.Mailbox.LastToken())

	require.NoError(t, h.Notifier.SendTwoFactorCode(ctx, a, "123456", 3*time.Minute))
	assert.Equal(t, "123456", h.Mailbox.LastCode())
	msg, _ = h.Mailbox.Last()
	assert.Contains(t, msg.HTML, "3 minutes")
}
