// Package delivery sends best-effort guardian messages over email and SMS.
package delivery

import (
	"context"
	"errors"
	"strings"
)

// Preference is a guardian's chosen notification channel set.
type Preference string

const (
	PreferenceEmail Preference = "email"
	PreferenceSMS   Preference = "sms"
	PreferenceBoth  Preference = "both"
)

// Valid reports whether p is a known preference.
func (p Preference) Valid() bool {
	switch p {
	case PreferenceEmail, PreferenceSMS, PreferenceBoth:
		return true
	}
	return false
}

// WantsSMS reports whether SMS delivery is requested.
func (p Preference) WantsSMS() bool {
	return p == PreferenceSMS || p == PreferenceBoth
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// ErrNoAddress is reported when a recipient has no address for a channel.
var ErrNoAddress = errors.New("recipient has no address for channel")

// Recipient is the addressable side of a delivery.
type Recipient struct {
	Name       string
	Email      string
	Phone      string
	Preference Preference
}

// Message is the rendered content of a delivery.
type Message struct {
	Subject string
	Body    string
}

// Channel is one transport (sendgrid, rabbitmq gateway, log).
type Channel interface {
	Name() string
	Send(ctx context.Context, to Recipient, msg Message) error
}

// Attempt records the outcome of one channel.
type Attempt struct {
	Channel string
	Err     error
}

// Result summarises a dispatch. Success is true when every attempted channel succeeded.
type Result struct {
	Success  bool
	Attempts []Attempt
}

// Error joins the failed attempts into one message, or returns "".
func (r Result) Error() string {
	msgs := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		if a.Err != nil {
			msgs = append(msgs, a.Channel+": "+a.Err.Error())
		}
	}
	return strings.Join(msgs, "; ")
}
