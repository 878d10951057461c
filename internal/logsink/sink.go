// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package logsink is the operator-visible, day-partitioned log.
//
// Each call appends a plain-text line to <dir>/<yyyy-mm-dd>.log and a JSON
// record to <dir>/<yyyy-mm-dd>.log.jsonline. Today's lines are also kept in
// memory so clients can tail them, and are optionally pushed to
// broadcasters in debounced batches.
package logsink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period before a broadcast batch is flushed.
const DefaultDebounce = 5 * time.Second

var (
	// ErrNotFound is returned by FetchLog when no log exists for the day.
	ErrNotFound = errors.New("logsink: log not found")
	// ErrInvalidDay is returned by FetchLog for a day not in yyyy-mm-dd form.
	ErrInvalidDay = errors.New("logsink: invalid day")
)

// Options configures a Sink.
type Options struct {
	Dir          string
	Debug        bool
	Broadcast    bool
	Debounce     time.Duration
	Broadcasters []Broadcaster

	// Now and PID are injectable for tests.
	Now func() time.Time
	PID int
}

// Sink is safe for concurrent use.
type Sink struct {
	dir          string
	debug        bool
	broadcast    bool
	broadcasters []Broadcaster
	now          func() time.Time
	pid          int
	logger       zerolog.Logger

	mu      sync.Mutex
	day     string
	tail    []Line
	pending []Line

	flushMu   sync.Mutex
	debouncer *Debouncer
}

// New creates the log directory and returns a ready Sink.
func New(opts Options) (*Sink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("logsink: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("logsink: create dir: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	s := &Sink{
		dir:          opts.Dir,
		debug:        opts.Debug,
		broadcast:    opts.Broadcast,
		broadcasters: opts.Broadcasters,
		now:          opts.Now,
		pid:          opts.PID,
		logger:       log.WithComponent("logsink"),
	}
	s.debouncer = NewDebouncer(opts.Debounce, s.flush)
	s.day = s.now().Format(dayLayout)
	return s, nil
}

// SetDebug toggles whether DEBUG lines are recorded.
func (s *Sink) SetDebug(debug bool) {
	s.mu.Lock()
	s.debug = debug
	s.mu.Unlock()
}

// Log records one line. DEBUG lines are dropped unless debug is enabled.
// A failed file append is returned; the in-memory tail is only updated on success.
func (s *Sink) Log(level Level, module, text string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if level == LevelDebug && !s.debug {
		return nil
	}

	now := s.now()
	today := now.Format(dayLayout)
	if today != s.day {
		s.logger.Info().
			Str("event", "logsink.rotate").
			Str("from", s.day).
			Str("to", today).
			Msg("day changed, clearing in-memory log")
		s.day = today
		s.tail = nil
	}

	line := Line{
		Module:   module,
		Time:     now.UnixMilli(),
		Level:    level,
		Text:     text,
		PID:      s.pid,
		Metadata: metadata,
	}
	record, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("logsink: encode line: %w", err)
	}

	base := filepath.Join(s.dir, today+".log")
	if err := appendFile(base, []byte(formatText(now, s.pid, module, level, text))); err != nil {
		return err
	}
	if err := appendFile(base+".jsonline", append(record, '\n')); err != nil {
		return err
	}

	s.tail = append(s.tail, line)
	metrics.IncLogLine(string(level))
	s.echo(line)

	if s.broadcast && len(s.broadcasters) > 0 {
		s.pending = append(s.pending, line)
		s.debouncer.Trigger()
	}
	return nil
}

func appendFile(path string, data []byte) error {
	// #nosec G304 -- path is derived from the configured log dir and a formatted date
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("logsink: open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("logsink: append %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("logsink: close %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Sink) echo(line Line) {
	var ev *zerolog.Event
	switch line.Level {
	case LevelError:
		ev = s.logger.Error()
	case LevelFatal:
		ev = s.logger.Error().Bool("fatal", true)
	case LevelWarning:
		ev = s.logger.Warn()
	case LevelDebug:
		ev = s.logger.Debug()
	default:
		ev = s.logger.Info()
	}
	ev.Str("module", line.Module).Str("level", string(line.Level)).Msg(line.Text)
}

// flush sends the buffered batch to every broadcaster. Batches are delivered in order.
func (s *Sink) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	for _, b := range s.broadcasters {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := b.Broadcast(ctx, batch)
		cancel()
		if err != nil {
			metrics.IncBroadcastFlush(b.Name(), "error")
			s.logger.Warn().
				Err(err).
				Str("event", "logsink.broadcast_failed").
				Str("observer", b.Name()).
				Int("lines", len(batch)).
				Msg("log broadcast failed")
			continue
		}
		metrics.IncBroadcastFlush(b.Name(), "ok")
	}
}

// Close flushes any pending broadcast batch and disables further broadcasts.
func (s *Sink) Close() error {
	s.debouncer.Flush()
	s.debouncer.Stop()
	return nil
}

// ReadToday loads today's persisted jsonline file back into the in-memory tail.
// A missing file is not an error.
func (s *Sink) ReadToday() error {
	today := s.now().Format(dayLayout)
	lines, err := s.readDay(today)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	s.mu.Lock()
	s.day = today
	s.tail = lines
	s.mu.Unlock()

	s.logger.Info().
		Str("event", "logsink.read_today").
		Int("lines", len(lines)).
		Msg("loaded today's log")
	return nil
}

// FetchLog returns the lines of day starting at fromLine.
// Today's lines come from memory, older days from the persisted jsonline file.
func (s *Sink) FetchLog(day string, fromLine int) ([]Line, error) {
	if _, err := time.Parse(dayLayout, day); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	if fromLine < 0 {
		fromLine = 0
	}

	s.mu.Lock()
	if day == s.day {
		defer s.mu.Unlock()
		if fromLine >= len(s.tail) {
			return []Line{}, nil
		}
		out := make([]Line, len(s.tail)-fromLine)
		copy(out, s.tail[fromLine:])
		return out, nil
	}
	s.mu.Unlock()

	lines, err := s.readDay(day)
	if err != nil {
		return nil, err
	}
	if fromLine >= len(lines) {
		return []Line{}, nil
	}
	return lines[fromLine:], nil
}

func (s *Sink) readDay(day string) ([]Line, error) {
	path := filepath.Join(s.dir, day+".log.jsonline")
	// #nosec G304 -- day is validated as yyyy-mm-dd
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, day)
		}
		return nil, fmt.Errorf("logsink: read %s: %w", day, err)
	}

	var lines []Line
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var l Line
		if err := json.Unmarshal(raw, &l); err != nil {
			s.logger.Warn().
				Err(err).
				Str("event", "logsink.corrupt_line").
				Str("day", day).
				Msg("skipping unparsable log line")
			continue
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("logsink: scan %s: %w", day, err)
	}
	return lines, nil
}
