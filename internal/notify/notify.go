// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify delivers fire-and-forget operator alerts.
package notify

import (
	"context"
	"strings"

	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/ManuGH/lsdvr/internal/logsink"
)

// Category groups alerts for routing and metrics.
type Category string

const (
	CategoryStreamOnline  Category = "stream_online"
	CategoryStreamOffline Category = "stream_offline"
	CategoryCaptureError  Category = "capture_error"
	CategoryVerification  Category = "verification"
	CategoryVODDeleted    Category = "vod_deleted"
	CategoryTest          Category = "test"
)

// Broker sends an alert. It never reports failure to the caller.
type Broker interface {
	Notify(ctx context.Context, title, body string, category Category)
}

// New returns an ntfy broker when a topic is configured, plus a broker
// that mirrors every alert into the operator log when sink is non-nil.
func New(cfg config.NotifyConfig, sink *logsink.Sink) Broker {
	var brokers Multi
	if topic := strings.TrimSpace(cfg.NtfyTopic); topic != "" {
		brokers = append(brokers, NewNtfy(topic, cfg.Timeout))
	}
	if sink != nil {
		brokers = append(brokers, NewLog(sink))
	}
	switch len(brokers) {
	case 0:
		return Noop{}
	case 1:
		return brokers[0]
	}
	return brokers
}

// Noop drops every alert.
type Noop struct{}

// Notify implements Broker.
func (Noop) Notify(context.Context, string, string, Category) {}

// Multi fans an alert out to several brokers.
type Multi []Broker

// Notify implements Broker.
func (m Multi) Notify(ctx context.Context, title, body string, category Category) {
	for _, b := range m {
		b.Notify(ctx, title, body, category)
	}
}

// Close closes every member that has a Close method.
func (m Multi) Close() error {
	for _, b := range m {
		if c, ok := b.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return nil
}

// Log writes alerts into the operator log.
type Log struct {
	sink *logsink.Sink
}

// NewLog returns a Log broker.
func NewLog(sink *logsink.Sink) *Log { return &Log{sink: sink} }

// Notify implements Broker.
func (l *Log) Notify(_ context.Context, title, body string, category Category) {
	level := logsink.LevelInfo
	if category == CategoryCaptureError || category == CategoryVerification {
		level = logsink.LevelWarning
	}
	_ = l.sink.Log(level, "notify", title+": "+body, map[string]any{"category": string(category)})
}
