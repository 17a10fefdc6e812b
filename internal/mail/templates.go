// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package mail

import (
	"embed"

	"github.com/flosch/pongo2/v6"
	"github.com/samber/oops"
)

//go:embed templates/*.html
var templateFS embed.FS

// Kind names a notification template.
type Kind string

// Notification kinds.
const (
	KindConfirmEmail  Kind = "confirm_email"
	KindResetPassword Kind = "reset_password"
	KindLockout       Kind = "lockout"
	KindTwoFactorCode Kind = "two_factor_code"
)

var subjects = map[Kind]string{
	KindConfirmEmail:  "Confirm your email address",
	KindResetPassword: "Reset your password",
	KindLockout:       "Your account has been locked",
	KindTwoFactorCode: "Your sign-in code",
}

// Data is the template context.
type Data = pongo2.Context

// Templates holds the compiled notification templates.
type Templates struct {
	compiled map[Kind]*pongo2.Template
}

// LoadTemplates compiles the embedded templates.
func LoadTemplates() (*Templates, error) {
	t := &Templates{compiled: make(map[Kind]*pongo2.Template, len(subjects))}
	for kind := range subjects {
		src, err := templateFS.ReadFile("templates/" + string(kind) + ".html")
		if err != nil {
			return nil, oops.Code("MAIL_TEMPLATE_MISSING").With("kind", kind).Wrap(err)
		}
		tpl, err := pongo2.FromBytes(src)
		if err != nil {
			return nil, oops.Code("MAIL_TEMPLATE_INVALID").With("kind", kind).Wrap(err)
		}
		t.compiled[kind] = tpl
	}
	return t, nil
}

// Render returns the subject and HTML body for kind.
func (t *Templates) Render(kind Kind, data Data) (subject, body string, err error) {
	tpl, ok := t.compiled[kind]
	if !ok {
		return "", "", oops.Code("MAIL_TEMPLATE_MISSING").With("kind", kind).Errorf("unknown template")
	}
	body, err = tpl.Execute(data)
	if err != nil {
		return "", "", oops.Code("MAIL_TEMPLATE_RENDER_FAILED").With("kind", kind).Wrap(err)
	}
	return subjects[kind], body, nil
}
