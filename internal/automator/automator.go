// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package automator turns verified channel events into capture and
// post-processing actions. All handling for one channel is serialized;
// different channels proceed in parallel.
package automator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/lsdvr/internal/capture"
	"github.com/ManuGH/lsdvr/internal/channel"
	"github.com/ManuGH/lsdvr/internal/games"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/logsink"
	"github.com/ManuGH/lsdvr/internal/metrics"
	"github.com/ManuGH/lsdvr/internal/notify"
	"github.com/ManuGH/lsdvr/internal/substatus"
	"github.com/ManuGH/lsdvr/internal/telemetry"
	"github.com/ManuGH/lsdvr/internal/vod"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotSubscribed means the event arrived for a subscription not known to be active.
	ErrNotSubscribed = errors.New("automator: subscription not active")
	// ErrUnknownEvent is returned for an EventType outside online/offline/update.
	ErrUnknownEvent = errors.New("automator: unknown event type")
)

const module = "automator"

// Channels is the channel lookup the automator needs.
type Channels interface {
	Get(ctx context.Context, id string) (channel.Channel, error)
	SetCurrentVOD(id, basename string)
}

// Options wires the automator's collaborators. Sink and Games may be nil.
type Options struct {
	Channels      Channels
	VODs          *vod.Manager
	Subs          substatus.Store
	Capture       capture.Tool
	Notifier      notify.Broker
	Sink          *logsink.Sink
	Games         *games.Table
	StreamURLBase string // e.g. https://www.twitch.tv/
	PostProcess   int    // concurrent remux jobs, default 1
}

// Automator is safe for concurrent use.
type Automator struct {
	channels      Channels
	vods          *vod.Manager
	subs          substatus.Store
	capture       capture.Tool
	notifier      notify.Broker
	sink          *logsink.Sink
	games         *games.Table
	streamURLBase string
	tracer        trace.Tracer
	logger        zerolog.Logger

	locks   *keyedMutex
	postSem chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	active   map[string]*activeCapture // by channel id
	lastInfo map[string]Payload        // last channel.update per channel id
}

type activeCapture struct {
	channelID string
	login     string
	basename  string
	session   capture.Session

	stopRequested atomic.Bool
	drained       chan struct{}
	waitErr       error
	finished      bool // guarded by the channel lock
}

// New returns a ready Automator.
func New(opts Options) *Automator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.PostProcess <= 0 {
		opts.PostProcess = 1
	}
	if opts.StreamURLBase == "" {
		opts.StreamURLBase = "https://www.twitch.tv/"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Automator{
		channels:      opts.Channels,
		vods:          opts.VODs,
		subs:          opts.Subs,
		capture:       opts.Capture,
		notifier:      opts.Notifier,
		sink:          opts.Sink,
		games:         opts.Games,
		streamURLBase: opts.StreamURLBase,
		tracer:        telemetry.Tracer("lsdvr/automator"),
		logger:        log.WithComponent(module),
		locks:         newKeyedMutex(),
		postSem:       make(chan struct{}, opts.PostProcess),
		baseCtx:       ctx,
		cancel:        cancel,
		active:        make(map[string]*activeCapture),
		lastInfo:      make(map[string]Payload),
	}
}

// Dispatch handles ev in the background. Errors are logged.
func (a *Automator) Dispatch(ev Event) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.recoverPanic("dispatch", ev.ChannelID)
		if err := a.Handle(a.baseCtx, ev); err != nil {
			a.logger.Warn().
				Err(err).
				Str("event", "automator.handle_failed").
				Str(log.FieldChannelID, ev.ChannelID).
				Str("type", string(ev.Type)).
				Msg("event not handled")
		}
	}()
}

// Handle applies one event, serialized with every other event for the same channel.
func (a *Automator) Handle(ctx context.Context, ev Event) (err error) {
	ctx, span := a.tracer.Start(ctx, "automator.handle",
		trace.WithAttributes(telemetry.ChannelAttributes(ev.ChannelID, ev.Login)...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx = log.ContextWithMessageID(log.ContextWithChannelID(ctx, ev.ChannelID), ev.MessageID)
	unlock := a.locks.Lock(ev.ChannelID)
	defer unlock()

	ch, err := a.channels.Get(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("automator: resolve channel %s: %w", ev.ChannelID, err)
	}
	logger := log.WithContext(ctx, a.logger).With().Str(log.FieldLogin, ch.Login).Logger()

	if err := a.checkSubscription(ctx, ch, ev.Type); err != nil {
		logger.Warn().Err(err).Str("event", "automator.not_subscribed").Msg("ignoring event")
		a.oplog(logsink.LevelWarning, fmt.Sprintf("Ignoring %s for %s: subscription not active", ev.Type, ch.Login), nil)
		return err
	}

	switch ev.Type {
	case EventOnline:
		return a.online(ctx, ch, ev, logger)
	case EventOffline:
		return a.offline(ctx, ch, logger)
	case EventUpdate:
		return a.update(ch, ev, logger)
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}

// checkSubscription accepts subscribed channels, and configured channels whose
// status was never recorded.
func (a *Automator) checkSubscription(ctx context.Context, ch channel.Channel, t EventType) error {
	if a.subs == nil {
		return nil
	}
	status, err := a.subs.Get(ctx, ch.ID, t.SubscriptionType())
	if err != nil {
		return fmt.Errorf("automator: read subscription status: %w", err)
	}
	switch {
	case status == substatus.StatusSubscribed:
		return nil
	case status == substatus.StatusUnknown && ch.Configured:
		return nil
	}
	return fmt.Errorf("%w: %s %s is %q", ErrNotSubscribed, ch.ID, t.SubscriptionType(), status)
}

func (a *Automator) online(ctx context.Context, ch channel.Channel, ev Event, logger zerolog.Logger) error {
	if cur, ok := a.vods.Capturing(ch.ID); ok {
		logger.Info().Str("event", "automator.already_capturing").Str(log.FieldBasename, cur.Basename).Msg("duplicate online event ignored")
		a.oplog(logsink.LevelInfo, fmt.Sprintf("%s is already capturing %s, ignoring online event", ch.Login, cur.Basename), nil)
		return nil
	}

	a.mu.Lock()
	info := a.lastInfo[ch.ID]
	a.mu.Unlock()
	if kw, hit := matchKeyword(ch.NoCapture, info.Title, a.categoryName(info)); hit {
		logger.Info().Str("event", "automator.no_capture").Str("keyword", kw).Msg("capture skipped by filter")
		a.oplog(logsink.LevelInfo, fmt.Sprintf("%s went online but %q matched the no-capture filter", ch.Login, kw), nil)
		return nil
	}

	v, err := a.vods.Create(ch.ID, ch.Login)
	if err != nil {
		return err
	}
	logger = logger.With().Str(log.FieldBasename, v.Basename).Logger()
	a.channels.SetCurrentVOD(ch.ID, v.Basename)
	if info != (Payload{}) {
		if _, err := a.vods.AddChapter(v.Basename, a.chapter(info)); err != nil {
			logger.Warn().Err(err).Str("event", "automator.chapter_failed").Msg("could not record initial chapter")
		}
	}

	dir, err := a.vods.ChannelDir(ch.Login)
	if err == nil {
		var sess capture.Session
		sess, err = a.capture.Start(a.baseCtx, capture.Request{
			URL:      a.streamURLBase + ch.Login,
			Quality:  ch.Quality,
			Dir:      dir,
			Basename: v.Basename,
		})
		if err == nil {
			ac := &activeCapture{
				channelID: ch.ID,
				login:     ch.Login,
				basename:  v.Basename,
				session:   sess,
				drained:   make(chan struct{}),
			}
			a.mu.Lock()
			a.active[ch.ID] = ac
			a.mu.Unlock()
			metrics.CaptureStarted()

			a.wg.Add(1)
			go a.supervise(ac)

			logger.Info().Str("event", "automator.capture_started").Strs("quality", ch.Quality).Msg("capture started")
			a.oplog(logsink.LevelSuccess, fmt.Sprintf("%s went online, capturing %s", ch.Login, v.Basename), map[string]any{"basename": v.Basename})
			a.notifier.Notify(ctx, ch.DisplayNameOrLogin()+" is live", "Capturing "+v.Basename, notify.CategoryStreamOnline)
			return nil
		}
	}

	// The tool never ran: keep the empty recording as a failed one.
	a.channels.SetCurrentVOD(ch.ID, "")
	if _, terr := a.vods.Transition(v.Basename, vod.StateFinalizedWithError, err.Error()); terr != nil {
		err = errors.Join(err, terr)
	}
	a.toolFailed(ctx, ch.Login, v.Basename, err)
	return fmt.Errorf("automator: start capture: %w", err)
}

// supervise appends segments as they complete and finishes the recording
// when the tool exits on its own.
func (a *Automator) supervise(ac *activeCapture) {
	defer a.wg.Done()
	defer a.recoverPanic("supervise", ac.channelID)

	for seg := range ac.session.Segments() {
		if _, err := a.vods.AddSegment(ac.basename, vod.Segment{Path: seg.Path, Size: seg.Size, Duration: seg.Duration}); err != nil {
			a.logger.Error().
				Err(err).
				Str("event", "automator.segment_failed").
				Str(log.FieldBasename, ac.basename).
				Str(log.FieldPath, seg.Path).
				Msg("could not record segment")
		}
	}
	ac.waitErr = ac.session.Wait()
	close(ac.drained)

	if ac.stopRequested.Load() {
		return
	}
	unlock := a.locks.Lock(ac.channelID)
	defer unlock()
	a.finish(ac)
}

func (a *Automator) offline(ctx context.Context, ch channel.Channel, logger zerolog.Logger) error {
	a.mu.Lock()
	ac := a.active[ch.ID]
	a.mu.Unlock()

	if ac == nil {
		if orphan, ok := a.vods.Capturing(ch.ID); ok {
			// Capturing on disk with no live tool behind it.
			a.channels.SetCurrentVOD(ch.ID, "")
			_, err := a.vods.Transition(orphan.Basename, vod.StateFinalizedWithError, "capture tool not running")
			return err
		}
		logger.Info().Str("event", "automator.offline_ignored").Msg("offline without an active capture")
		a.oplog(logsink.LevelInfo, fmt.Sprintf("%s went offline but nothing was capturing", ch.Login), nil)
		return nil
	}

	ac.stopRequested.Store(true)
	if err := ac.session.Stop(); err != nil {
		logger.Warn().Err(err).Str("event", "automator.stop_failed").Msg("capture tool did not stop cleanly")
	}
	select {
	case <-ac.drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.finish(ac)
	a.oplog(logsink.LevelInfo, fmt.Sprintf("%s went offline, stopped %s", ch.Login, ac.basename), map[string]any{"basename": ac.basename})
	a.notifier.Notify(ctx, ch.DisplayNameOrLogin()+" went offline", "Recorded "+ac.basename, notify.CategoryStreamOffline)
	return nil
}

// finish runs once per capture, under the channel lock.
func (a *Automator) finish(ac *activeCapture) {
	if ac.finished {
		return
	}
	ac.finished = true

	a.mu.Lock()
	if a.active[ac.channelID] == ac {
		delete(a.active, ac.channelID)
	}
	a.mu.Unlock()
	metrics.CaptureEnded()
	a.channels.SetCurrentVOD(ac.channelID, "")

	if ac.waitErr != nil {
		if _, err := a.vods.Transition(ac.basename, vod.StateFinalizedWithError, ac.waitErr.Error()); err != nil {
			a.logger.Error().Err(err).Str("event", "automator.transition_failed").Str(log.FieldBasename, ac.basename).Msg("could not finalize recording")
		}
		a.toolFailed(a.baseCtx, ac.login, ac.basename, ac.waitErr)
		return
	}

	if _, err := a.vods.Transition(ac.basename, vod.StateConverting, ""); err != nil {
		a.logger.Error().Err(err).Str("event", "automator.transition_failed").Str(log.FieldBasename, ac.basename).Msg("could not start conversion")
		return
	}
	a.enqueuePostProcess(ac.login, ac.basename)
}

func (a *Automator) enqueuePostProcess(login, basename string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.recoverPanic("postprocess", basename)

		select {
		case a.postSem <- struct{}{}:
			defer func() { <-a.postSem }()
		case <-a.baseCtx.Done():
			// Remux fails fast on the cancelled context, which still
			// finalizes the recording.
		}
		a.postProcess(login, basename)
	}()
}

func (a *Automator) postProcess(login, basename string) {
	logger := a.logger.With().Str(log.FieldBasename, basename).Logger()
	start := time.Now()
	v, err := a.vods.Remux(a.baseCtx, basename)
	if err != nil {
		logger.Error().Err(err).Str("event", "automator.postprocess_failed").Msg("post-processing failed")
		a.oplog(logsink.LevelError, fmt.Sprintf("Post-processing %s failed: %v", basename, err), map[string]any{"basename": basename})
		a.notifier.Notify(a.baseCtx, "Post-processing failed for "+login, basename+": "+err.Error(), notify.CategoryCaptureError)
		return
	}
	logger.Info().
		Str("event", "automator.postprocess_done").
		Dur("took", time.Since(start)).
		Int64("size", v.Size).
		Msg("recording finalized")
	a.oplog(logsink.LevelSuccess, fmt.Sprintf("Recording %s finalized (%d segments, %d bytes)", basename, len(v.Segments), v.Size), map[string]any{"basename": basename})
}

func (a *Automator) update(ch channel.Channel, ev Event, logger zerolog.Logger) error {
	a.mu.Lock()
	a.lastInfo[ch.ID] = ev.Payload
	a.mu.Unlock()

	if kw, hit := matchKeyword(ch.Match, ev.Payload.Title, a.categoryName(ev.Payload)); hit {
		a.notifier.Notify(a.baseCtx, ch.DisplayNameOrLogin()+" matched "+kw, ev.Payload.Title, notify.CategoryStreamOnline)
	}

	cur, ok := a.vods.Capturing(ch.ID)
	if !ok {
		logger.Debug().Str("event", "automator.update_idle").Msg("channel info updated while idle")
		return nil
	}
	if _, err := a.vods.AddChapter(cur.Basename, a.chapter(ev.Payload)); err != nil {
		return err
	}
	logger.Info().
		Str("event", "automator.chapter").
		Str(log.FieldBasename, cur.Basename).
		Str("category", a.categoryName(ev.Payload)).
		Msg("chapter recorded")
	return nil
}

func (a *Automator) chapter(p Payload) vod.Chapter {
	return vod.Chapter{GameID: p.CategoryID, GameName: a.categoryName(p), Title: p.Title}
}

func (a *Automator) categoryName(p Payload) string {
	if p.CategoryID == "" {
		return p.CategoryName
	}
	return a.games.Name(p.CategoryID, p.CategoryName)
}

func (a *Automator) toolFailed(ctx context.Context, login, basename string, err error) {
	a.logger.Error().
		Err(err).
		Str("event", "automator.tool_failed").
		Str(log.FieldLogin, login).
		Str(log.FieldBasename, basename).
		Msg("capture failed, recording finalized with error")
	a.oplog(logsink.LevelError, fmt.Sprintf("Capture of %s failed: %v", basename, err), map[string]any{"basename": basename})
	a.notifier.Notify(ctx, "Capture failed for "+login, basename+": "+err.Error(), notify.CategoryCaptureError)
}

func (a *Automator) oplog(level logsink.Level, text string, meta map[string]any) {
	if a.sink == nil {
		return
	}
	if err := a.sink.Log(level, module, text, meta); err != nil {
		a.logger.Error().Err(err).Str("event", "automator.oplog_failed").Msg("operator log write failed")
	}
}

func (a *Automator) recoverPanic(where, key string) {
	if r := recover(); r != nil {
		a.logger.Error().
			Str("event", "automator.panic").
			Str("where", where).
			Str("key", key).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered from panic")
	}
}

// Resume re-queues post-processing for recordings left converting by a restart.
func (a *Automator) Resume() int {
	pending := a.vods.InState(vod.StateConverting)
	for _, v := range pending {
		a.enqueuePostProcess(v.Login, v.Basename)
	}
	return len(pending)
}

// Active lists the basenames currently being captured, by channel id.
func (a *Automator) Active() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.active))
	for id, ac := range a.active {
		out[id] = ac.basename
	}
	return out
}

// Wait blocks until all dispatched events, captures and post-processing are done.
func (a *Automator) Wait() {
	a.wg.Wait()
}

// Shutdown stops every capture, lets post-processing finish until ctx
// expires, then cancels whatever is still running.
func (a *Automator) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	sessions := make([]capture.Session, 0, len(a.active))
	for _, ac := range a.active {
		sessions = append(sessions, ac.session)
	}
	a.mu.Unlock()
	for _, s := range sessions {
		_ = s.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		return ctx.Err()
	}
}

func matchKeyword(keywords []string, fields ...string) (string, bool) {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		needle := strings.ToLower(kw)
		for _, f := range fields {
			if f != "" && strings.Contains(strings.ToLower(f), needle) {
				return kw, true
			}
		}
	}
	return "", false
}
