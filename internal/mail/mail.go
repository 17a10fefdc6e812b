// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package mail defines the outbound mail contract and renders account
// notification messages.
package mail

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// String formats the address as `Name <email>`.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// Message is a single outbound message.
type Message struct {
	From    Address
	To      []Address
	Subject string
	HTML    string
}

// Validate checks the message has a sender, at least one recipient and a subject.
func (m Message) Validate() error {
	if strings.TrimSpace(m.From.Email) == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("sender cannot be empty")
	}
	if len(m.To) == 0 {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("message needs at least one recipient")
	}
	for _, to := range m.To {
		if strings.TrimSpace(to.Email) == "" {
			return oops.Code("MAIL_INVALID_MESSAGE").Errorf("recipient email cannot be empty")
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("subject cannot be empty")
	}
	return nil
}

// Dispatcher delivers messages. Implementations own the transport.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher writes messages to a logger instead of delivering them.
// Used in development and when no transport is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher. A nil logger uses slog.Default.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Send logs the message.
func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, a.String())
	}
	d.logger.InfoContext(ctx, "mail dispatched",
		"from", msg.From.String(),
		"to", strings.Join(to, ", "),
		"subject", msg.Subject,
		"body", msg.HTML,
	)
	return nil
}

// compile-time interface check
var _ Dispatcher = (*LogDispatcher)(nil)
