// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

// correlation ties log lines of one HTTP request, one EventSub delivery and
// one channel together. It is stored by value; each With* call copies it.
type correlation struct {
	requestID string
	messageID string
	channelID string
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	if ctx == nil {
		return correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, edit func(*correlation)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := correlationFrom(ctx)
	edit(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// ContextWithRequestID records the HTTP request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.requestID = id })
}

// ContextWithMessageID records the EventSub message id being handled.
func ContextWithMessageID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.messageID = id })
}

// ContextWithChannelID records the provider channel id being handled.
func ContextWithChannelID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.channelID = id })
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string { return correlationFrom(ctx).requestID }

// MessageIDFromContext returns the EventSub message id, or "".
func MessageIDFromContext(ctx context.Context) string { return correlationFrom(ctx).messageID }

// ChannelIDFromContext returns the channel id, or "".
func ChannelIDFromContext(ctx context.Context) string { return correlationFrom(ctx).channelID }

// WithContext adds whichever correlation ids ctx carries to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	c := correlationFrom(ctx)
	if c == (correlation{}) {
		return logger
	}
	b := logger.With()
	if c.requestID != "" {
		b = b.Str(FieldRequestID, c.requestID)
	}
	if c.messageID != "" {
		b = b.Str(FieldMessageID, c.messageID)
	}
	if c.channelID != "" {
		b = b.Str(FieldChannelID, c.channelID)
	}
	return b.Logger()
}

// WithComponentFromContext is WithComponent plus the correlation ids in ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
