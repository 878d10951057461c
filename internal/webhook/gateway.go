// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package webhook receives EventSub deliveries: it authenticates them,
// completes subscription handshakes and hands channel events to the
// automator.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ManuGH/lsdvr/internal/automator"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/logsink"
	"github.com/ManuGH/lsdvr/internal/metrics"
	"github.com/ManuGH/lsdvr/internal/notify"
	"github.com/ManuGH/lsdvr/internal/substatus"
	"github.com/ManuGH/lsdvr/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxBodyBytes bounds an accepted delivery.
const MaxBodyBytes = 1 << 20

const module = "hook"

// Response texts.
const (
	msgNoData            = "No data supplied"
	msgOutdated          = "Outdated format"
	msgInvalidInstance   = "Invalid instance"
	msgBadChallengeSig   = "Invalid signature check for challenge"
	msgBadSignature      = "Invalid signature check"
	msgNoEvent           = "No event in message"
	msgStatusWriteFailed = "Could not store subscription status"
)

// Dispatcher accepts verified channel events. Dispatch must not block on handling.
type Dispatcher interface {
	Dispatch(ev automator.Event)
}

// Subscriptions is told about completed handshakes.
type Subscriptions interface {
	MarkSubscribed(id string, at, expires time.Time) error
}

// Settings is the reloadable part of the gateway configuration.
type Settings struct {
	Secret       string
	InstanceID   string
	DumpPayloads bool
	Debug        bool
}

// Options wires a Gateway. Channels, Sink, Notifier and PayloadDir are optional.
type Options struct {
	Settings   Settings
	Store      substatus.Store
	Dispatcher Dispatcher
	Channels   Subscriptions
	Sink       *logsink.Sink
	Notifier   notify.Broker
	PayloadDir string
	Now        func() time.Time
}

// Gateway is an http.Handler for POST /hook.
type Gateway struct {
	settings   atomic.Pointer[Settings]
	store      substatus.Store
	dispatcher Dispatcher
	channels   Subscriptions
	sink       *logsink.Sink
	notifier   notify.Broker
	payloadDir string
	now        func() time.Time
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewGateway validates the required collaborators.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Store == nil {
		return nil, errors.New("webhook: store is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("webhook: dispatcher is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &Gateway{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		channels:   opts.Channels,
		sink:       opts.Sink,
		notifier:   opts.Notifier,
		payloadDir: opts.PayloadDir,
		now:        opts.Now,
		tracer:     telemetry.Tracer("lsdvr/webhook"),
		logger:     log.WithComponent("webhook"),
	}
	g.Apply(opts.Settings)
	return g, nil
}

// Apply swaps the reloadable settings. In-flight requests keep the old ones.
func (g *Gateway) Apply(s Settings) {
	g.settings.Store(&s)
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := *g.settings.Load()
	messageID := r.Header.Get(HeaderMessageID)
	retry := r.Header.Get(HeaderMessageRetry)
	ctx := log.ContextWithMessageID(r.Context(), messageID)
	logger := log.WithContext(ctx, g.logger).With().Str(log.FieldRetry, retry).Logger()

	ctx, span := g.tracer.Start(ctx, "webhook.receive")
	defer span.End()

	g.oplog(logsink.LevelInfo, "Hook called", map[string]any{"messageId": messageID, "retry": retry})

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.reply(w, span, "unparsed", "too_large", http.StatusRequestEntityTooLarge, "")
			return
		}
		g.reply(w, span, "unparsed", "malformed", http.StatusBadRequest, msgNoData)
		return
	}

	if st.InstanceID != "" {
		if inst := r.URL.Query().Get("instance"); inst != st.InstanceID {
			logger.Warn().
				Str("event", "webhook.instance_mismatch").
				Str(log.FieldInstance, inst).
				Msg("delivery for another instance")
			g.reply(w, span, "unparsed", "wrong_instance", http.StatusBadRequest, msgInvalidInstance)
			return
		}
	}

	msg, err := Parse(r.Header, body)
	if err != nil {
		if errors.Is(err, ErrOutdated) {
			g.reply(w, span, "unparsed", "outdated", http.StatusBadRequest, msgOutdated)
			return
		}
		logger.Debug().Err(err).Str("event", "webhook.malformed").Msg("rejecting delivery")
		g.reply(w, span, "unparsed", "malformed", http.StatusBadRequest, msgNoData)
		return
	}

	sub := msg.Sub()
	span.SetAttributes(telemetry.WebhookAttributes(msg.Kind(), messageID, sub.Type, retry)...)
	logger = logger.With().
		Str(log.FieldSubType, sub.Type).
		Str(log.FieldSubID, sub.ID).
		Str(log.FieldChannelID, sub.Condition.BroadcasterUserID).
		Logger()

	if c, ok := msg.(Challenge); ok {
		g.handleChallenge(ctx, w, r, span, logger, st, c, body)
		return
	}

	if st.Debug || st.DumpPayloads {
		if err := g.dump(r, body, sub.Type); err != nil {
			logger.Warn().Err(err).Str("event", "webhook.dump_failed").Msg("could not dump payload")
		}
	}

	if err := Verify(st.Secret, r.Header, body); err != nil {
		g.verificationFailed(ctx, logger, msg, err)
		g.reply(w, span, msg.Kind(), "invalid_signature", http.StatusBadRequest, msgBadSignature)
		return
	}

	switch m := msg.(type) {
	case Notification:
		g.handleNotification(w, span, logger, m, messageID)
	case Revocation:
		g.handleRevocation(ctx, w, span, logger, m)
	default:
		g.reply(w, span, msg.Kind(), "no_event", http.StatusBadRequest, msgNoEvent)
	}
}

func (g *Gateway) handleChallenge(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span, logger zerolog.Logger, st Settings, c Challenge, body []byte) {
	channelID := c.Subscription.Condition.BroadcasterUserID
	if err := Verify(st.Secret, r.Header, body); err != nil {
		if serr := g.store.Set(ctx, channelID, c.Subscription.Type, substatus.StatusFailed); serr != nil {
			logger.Error().Err(serr).Str("event", "webhook.status_write_failed").Msg("could not record failed subscription")
		}
		g.verificationFailed(ctx, logger, c, err)
		g.reply(w, span, c.Kind(), "invalid_signature", http.StatusBadRequest, msgBadChallengeSig)
		return
	}

	if err := g.store.Set(ctx, channelID, c.Subscription.Type, substatus.StatusSubscribed); err != nil {
		logger.Error().Err(err).Str("event", "webhook.status_write_failed").Msg("could not record subscription")
		span.RecordError(err)
		g.reply(w, span, c.Kind(), "store_error", http.StatusInternalServerError, msgStatusWriteFailed)
		return
	}
	if g.channels != nil {
		if err := g.channels.MarkSubscribed(channelID, g.now(), time.Time{}); err != nil {
			logger.Warn().Err(err).Str("event", "webhook.mark_subscribed_failed").Msg("could not stamp channel")
		}
	}

	logger.Info().Str("event", "webhook.challenge_completed").Msg("subscription confirmed")
	g.oplog(logsink.LevelSuccess, fmt.Sprintf("Challenge completed, subscription active for %s %s", channelID, c.Subscription.Type), map[string]any{
		"channelId": channelID,
		"type":      c.Subscription.Type,
	})

	metrics.IncWebhook(c.Kind(), "ok")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, c.Challenge)
}

func (g *Gateway) handleNotification(w http.ResponseWriter, span trace.Span, logger zerolog.Logger, n Notification, messageID string) {
	typ, ok := automator.EventTypeFor(n.Subscription.Type)
	if !ok {
		logger.Info().Str("event", "webhook.unhandled_type").Msg("ignoring unsupported subscription type")
		g.reply(w, span, n.Kind(), "ignored", http.StatusOK, "")
		return
	}

	ev := automator.Event{
		Type:      typ,
		ChannelID: n.Event.BroadcasterUserID,
		Login:     n.Event.BroadcasterUserLogin,
		MessageID: messageID,
		Payload: automator.Payload{
			Title:        n.Event.Title,
			CategoryID:   n.Event.CategoryID,
			CategoryName: n.Event.CategoryName,
			StartedAt:    n.Event.StartedAt,
		},
	}
	g.dispatcher.Dispatch(ev)

	logger.Info().
		Str("event", "webhook.dispatched").
		Str(log.FieldLogin, ev.Login).
		Str("event_type", string(ev.Type)).
		Msg("event dispatched")
	g.reply(w, span, n.Kind(), "ok", http.StatusOK, "")
}

func (g *Gateway) handleRevocation(ctx context.Context, w http.ResponseWriter, span trace.Span, logger zerolog.Logger, rv Revocation) {
	channelID := rv.Subscription.Condition.BroadcasterUserID
	if err := g.store.Set(ctx, channelID, rv.Subscription.Type, substatus.StatusNone); err != nil {
		logger.Error().Err(err).Str("event", "webhook.status_write_failed").Msg("could not record revocation")
		g.reply(w, span, rv.Kind(), "store_error", http.StatusInternalServerError, msgStatusWriteFailed)
		return
	}
	logger.Warn().
		Str("event", "webhook.revoked").
		Str("status", rv.Subscription.Status).
		Msg("subscription revoked")
	g.oplog(logsink.LevelWarning, fmt.Sprintf("Subscription %s for %s revoked: %s", rv.Subscription.Type, channelID, rv.Subscription.Status), nil)
	g.reply(w, span, rv.Kind(), "ok", http.StatusOK, "")
}

func (g *Gateway) verificationFailed(ctx context.Context, logger zerolog.Logger, msg Message, err error) {
	reason := verificationReason(err)
	metrics.IncVerificationFailure(reason)
	logger.Error().Err(err).Str("event", "webhook.verification_failed").Msg("rejecting unauthenticated delivery")

	sub := msg.Sub()
	text := fmt.Sprintf("Invalid signature check for %s %s (%s)", msg.Kind(), sub.Type, reason)
	g.oplog(logsink.LevelFatal, text, map[string]any{
		"channelId": sub.Condition.BroadcasterUserID,
		"reason":    reason,
	})
	g.notifier.Notify(ctx, "Webhook verification failed", text, notify.CategoryVerification)
}

func (g *Gateway) reply(w http.ResponseWriter, span trace.Span, kind, outcome string, status int, text string) {
	metrics.IncWebhook(kind, outcome)
	if status >= http.StatusBadRequest {
		span.SetStatus(codes.Error, outcome)
		span.SetAttributes(telemetry.ErrorAttributes(outcome)...)
	}
	if text == "" {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func (g *Gateway) oplog(level logsink.Level, text string, meta map[string]any) {
	if g.sink == nil {
		return
	}
	if err := g.sink.Log(level, module, text, meta); err != nil {
		g.logger.Warn().Err(err).Str("event", "webhook.oplog_failed").Msg("could not write operator log")
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
