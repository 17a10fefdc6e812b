// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package authtest

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/gatekeep/gatekeep/internal/mail"
)

var (
	linkPattern = regexp.MustCompile(`href="([^"]+)"`)
	codePattern = regexp.MustCompile(`<strong>(\d+)</strong>`)
)

// Mailbox is a mail.Dispatcher that records every message.
type Mailbox struct {
	mu       sync.Mutex
	messages []mail.Message

	// Err, when set, is returned by Send and nothing is recorded.
	Err error
}

// Send implements mail.Dispatcher.
func (m *Mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns every recorded message.
func (m *Mailbox) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

// Len returns the number of recorded messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Last returns the most recent message, or false if none.
func (m *Mailbox) Last() (mail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return mail.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// LastLink returns the first link in the most recent message.
func (m *Mailbox) LastLink() (*url.URL, bool) {
	msg, ok := m.Last()
	if !ok {
		return nil, false
	}
	match := linkPattern.FindStringSubmatch(msg.HTML)
	if match == nil {
		return nil, false
	}
	u, err := url.Parse(html.UnescapeString(match[1]))
	if err != nil {
		return nil, false
	}
	return u, true
}

// LastToken returns the token query parameter of the most recent link.
func (m *Mailbox) LastToken() string {
	u, ok := m.LastLink()
	if !ok {
		return ""
	}
	return u.Query().Get("token")
}

// LastCode returns the two-factor code in the most recent message.
func (m *Mailbox) LastCode() string {
	msg, ok := m.Last()
	if !ok {
		return ""
	}
	match := codePattern.FindStringSubmatch(msg.HTML)
	if match == nil {
		return ""
	}
	return match[1]
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ mail.Dispatcher = (*Mailbox)(nil)
