// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package automator

import "time"

// EventType is the kind of channel change the automator acts on.
type EventType string

const (
	EventOnline  EventType = "online"
	EventOffline EventType = "offline"
	EventUpdate  EventType = "update"
)

// SubscriptionType is the EventSub subscription that delivers t.
func (t EventType) SubscriptionType() string {
	switch t {
	case EventOnline:
		return "stream.online"
	case EventOffline:
		return "stream.offline"
	case EventUpdate:
		return "channel.update"
	}
	return ""
}

// EventTypeFor maps an EventSub subscription type back to an EventType.
func EventTypeFor(subType string) (EventType, bool) {
	switch subType {
	case "stream.online":
		return EventOnline, true
	case "stream.offline":
		return EventOffline, true
	case "channel.update":
		return EventUpdate, true
	}
	return "", false
}

// Payload carries the typed event fields the automator uses.
type Payload struct {
	Title        string    `json:"title,omitempty"`
	CategoryID   string    `json:"categoryId,omitempty"`
	CategoryName string    `json:"categoryName,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
}

// Event is a verified channel notification.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channelId"`
	Login     string    `json:"login,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Payload   Payload   `json:"payload"`
}
