// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by webhook and orchestrator spans.
const (
	WebhookKindKey      = "webhook.kind"
	WebhookMessageIDKey = "webhook.message_id"
	WebhookSubTypeKey   = "webhook.subscription_type"
	WebhookRetryKey     = "webhook.retry"
	WebhookVerifiedKey  = "webhook.verified"

	ChannelIDKey    = "channel.id"
	ChannelLoginKey = "channel.login"

	VODBasenameKey = "vod.basename"
	VODStateKey    = "vod.state"

	EventTypeKey = "automator.event_type"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// WebhookAttributes describes one inbound delivery. Empty values are omitted.
func WebhookAttributes(kind, messageID, subType, retry string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(WebhookKindKey, kind)}
	if messageID != "" {
		attrs = append(attrs, attribute.String(WebhookMessageIDKey, messageID))
	}
	if subType != "" {
		attrs = append(attrs, attribute.String(WebhookSubTypeKey, subType))
	}
	if retry != "" {
		attrs = append(attrs, attribute.String(WebhookRetryKey, retry))
	}
	return attrs
}

// ChannelAttributes identifies a channel.
func ChannelAttributes(id, login string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if id != "" {
		attrs = append(attrs, attribute.String(ChannelIDKey, id))
	}
	if login != "" {
		attrs = append(attrs, attribute.String(ChannelLoginKey, login))
	}
	return attrs
}

// VODAttributes identifies a recording and its state.
func VODAttributes(basename, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(VODBasenameKey, basename),
		attribute.String(VODStateKey, state),
	}
}

// ErrorAttributes marks a span as failed with a coarse error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
