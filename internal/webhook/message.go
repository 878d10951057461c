// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// EventSub request headers.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageRetry     = "Twitch-Eventsub-Message-Retry"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
	// HeaderLegacyNotification marks the retired webhook format.
	HeaderLegacyNotification = "Twitch-Notification-Id"
)

var (
	// ErrMalformed covers empty bodies, invalid JSON and incomplete envelopes.
	ErrMalformed = errors.New("webhook: malformed message")
	// ErrOutdated is returned for deliveries in the retired webhook format.
	ErrOutdated = errors.New("webhook: outdated format")
)

// Condition identifies the channel a subscription is for.
type Condition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

// Subscription describes the EventSub subscription a message belongs to.
type Subscription struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Version   string    `json:"version,omitempty"`
	Status    string    `json:"status,omitempty"`
	Condition Condition `json:"condition"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// EventPayload holds the event fields of stream.online, stream.offline and channel.update.
type EventPayload struct {
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	BroadcasterUserName  string    `json:"broadcaster_user_name"`
	Type                 string    `json:"type,omitempty"`
	StartedAt            time.Time `json:"started_at,omitzero"`
	Title                string    `json:"title,omitempty"`
	CategoryID           string    `json:"category_id,omitempty"`
	CategoryName         string    `json:"category_name,omitempty"`
}

// Message is one classified delivery: Challenge, Notification, Revocation or Unknown.
type Message interface {
	Kind() string
	Sub() Subscription
}

// Challenge is the subscription handshake.
type Challenge struct {
	Challenge    string
	Subscription Subscription
}

// Notification carries a channel event.
type Notification struct {
	Subscription Subscription
	Event        EventPayload
}

// Revocation reports that the provider ended a subscription.
type Revocation struct {
	Subscription Subscription
}

// Unknown is a well-formed envelope with neither challenge nor event.
type Unknown struct {
	Subscription Subscription
}

func (Challenge) Kind() string    { return "challenge" }
func (Notification) Kind() string { return "notification" }
func (Revocation) Kind() string   { return "revocation" }
func (Unknown) Kind() string      { return "unknown" }

func (m Challenge) Sub() Subscription    { return m.Subscription }
func (m Notification) Sub() Subscription { return m.Subscription }
func (m Revocation) Sub() Subscription   { return m.Subscription }
func (m Unknown) Sub() Subscription      { return m.Subscription }

// Parse classifies a raw delivery. Signatures are not checked here.
func Parse(h http.Header, body []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return nil, fmt.Errorf("%w: no data supplied", ErrMalformed)
	}
	if h.Get(HeaderLegacyNotification) != "" {
		return nil, ErrOutdated
	}

	var sub Subscription
	if raw, ok := fields["subscription"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrMalformed, err)
		}
	}

	if raw, ok := fields["challenge"]; ok && !isNull(raw) {
		var challenge string
		if err := json.Unmarshal(raw, &challenge); err != nil {
			return nil, fmt.Errorf("%w: challenge is not a string", ErrMalformed)
		}
		if sub.Type == "" || sub.Condition.BroadcasterUserID == "" {
			return nil, fmt.Errorf("%w: challenge without subscription type or condition", ErrMalformed)
		}
		return Challenge{Challenge: challenge, Subscription: sub}, nil
	}

	if h.Get(HeaderMessageType) == "revocation" {
		return Revocation{Subscription: sub}, nil
	}

	if raw, ok := fields["event"]; ok {
		var ev EventPayload
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, fmt.Errorf("%w: event: %v", ErrMalformed, err)
			}
		}
		if ev.BroadcasterUserID == "" {
			ev.BroadcasterUserID = sub.Condition.BroadcasterUserID
		}
		return Notification{Subscription: sub, Event: ev}, nil
	}
	return Unknown{Subscription: sub}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
