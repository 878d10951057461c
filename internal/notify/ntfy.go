// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/metrics"
	"github.com/ManuGH/lsdvr/internal/platform/httpx"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const queueSize = 32

type message struct {
	id       string
	title    string
	body     string
	category Category
}

// Ntfy posts alerts to an ntfy topic URL from a background worker.
// Alerts arriving while the queue is full are dropped.
type Ntfy struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	logger   zerolog.Logger

	queue     chan message
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewNtfy starts the delivery worker.
func NewNtfy(endpoint string, timeout time.Duration) *Ntfy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n := &Ntfy{
		endpoint: endpoint,
		client:   httpx.NewClient(timeout),
		timeout:  timeout,
		logger:   log.WithComponent("notify"),
		queue:    make(chan message, queueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Notify implements Broker. The alert outlives ctx.
func (n *Ntfy) Notify(_ context.Context, title, body string, category Category) {
	msg := message{id: uuid.NewString(), title: title, body: body, category: category}
	defer func() {
		// Notify after Close.
		if recover() != nil {
			metrics.IncNotification(string(category), "dropped")
		}
	}()
	select {
	case n.queue <- msg:
	default:
		metrics.IncNotification(string(category), "dropped")
		n.logger.Warn().
			Str("event", "notify.dropped").
			Str("notification_id", msg.id).
			Str("category", string(category)).
			Msg("notification queue full")
	}
}

// Close stops accepting alerts and waits for queued ones to be sent.
func (n *Ntfy) Close() error {
	n.closeOnce.Do(func() { close(n.queue) })
	n.wg.Wait()
	return nil
}

func (n *Ntfy) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.send(ctx, msg)
		cancel()
		if err != nil {
			metrics.IncNotification(string(msg.category), "error")
			n.logger.Warn().
				Err(err).
				Str("event", "notify.failed").
				Str("notification_id", msg.id).
				Str("category", string(msg.category)).
				Msg("notification delivery failed")
			continue
		}
		metrics.IncNotification(string(msg.category), "ok")
		n.logger.Debug().
			Str("event", "notify.sent").
			Str("notification_id", msg.id).
			Str("category", string(msg.category)).
			Msg("notification sent")
	}
}

func (n *Ntfy) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-Notification-Id", msg.id)
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	req.Header.Set("Tags", strings.Join([]string{"lsdvr", string(msg.category)}, ","))
	if p := priority(msg.category); p != "" {
		req.Header.Set("Priority", p)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func priority(c Category) string {
	switch c {
	case CategoryCaptureError, CategoryVerification:
		return "high"
	case CategoryTest:
		return "low"
	}
	return ""
}
