// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package logsink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	batches [][]Line
}

func (r *recordingBroadcaster) Name() string { return "recording" }

func (r *recordingBroadcaster) Broadcast(_ context.Context, lines []Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, lines)
	return nil
}

func (r *recordingBroadcaster) Batches() [][]Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Line(nil), r.batches...)
}

func newTestSink(t *testing.T, clock *fakeClock, opts Options) *Sink {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.Now = clock.Now
	opts.PID = 4242
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLogWritesTextAndJSONLine(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := &fakeClock{now: time.Date(2024, 3, 9, 14, 5, 6, 789_000_000, time.Local)}
	dir := t.TempDir()
	s := newTestSink(t, clock, Options{Dir: dir})

	require.NoError(t, s.Log(LevelInfo, "automator", "channel went online", map[string]any{"login": "x"}))

	text, err := os.ReadFile(filepath.Join(dir, "2024-03-09.log"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09 14:05:06.789 4242 | automator <INFO> channel went online\n", string(text))

	lines, err := s.FetchLog("2024-03-09", 0)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "automator", lines[0].Module)
	assert.Equal(t, LevelInfo, lines[0].Level)
	assert.Equal(t, clock.Now().UnixMilli(), lines[0].Time)
	assert.Equal(t, 4242, lines[0].PID)
	assert.Equal(t, "x", lines[0].Metadata["login"])

	raw, err := os.ReadFile(filepath.Join(dir, "2024-03-09.log.jsonline"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "\n"))
}

func TestDebugDroppedUnlessEnabled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 0, 0, 0, 0, time.Local)}
	s := newTestSink(t, clock, Options{})

	require.NoError(t, s.Log(LevelDebug, "m", "hidden", nil))
	lines, err := s.FetchLog("2024-03-09", 0)
	require.NoError(t, err)
	assert.Empty(t, lines)

	s.SetDebug(true)
	require.NoError(t, s.Log(LevelDebug, "m", "shown", nil))
	lines, err = s.FetchLog("2024-03-09", 0)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0].Text)
}

func TestDayRotationClearsTail(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 23, 59, 59, 0, time.Local)}
	dir := t.TempDir()
	s := newTestSink(t, clock, Options{Dir: dir})

	require.NoError(t, s.Log(LevelInfo, "m", "before midnight", nil))
	clock.Set(time.Date(2024, 3, 10, 0, 0, 1, 0, time.Local))
	require.NoError(t, s.Log(LevelInfo, "m", "after midnight", nil))

	today, err := s.FetchLog("2024-03-10", 0)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "after midnight", today[0].Text)

	yesterday, err := s.FetchLog("2024-03-09", 0)
	require.NoError(t, err)
	require.Len(t, yesterday, 1)
	assert.Equal(t, "before midnight", yesterday[0].Text)

	assert.FileExists(t, filepath.Join(dir, "2024-03-09.log"))
	assert.FileExists(t, filepath.Join(dir, "2024-03-10.log.jsonline"))
}

func TestFetchLogFromLine(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.Local)}
	s := newTestSink(t, clock, Options{})
	for _, txt := range []string{"a", "b", "c"} {
		require.NoError(t, s.Log(LevelInfo, "m", txt, nil))
	}

	lines, err := s.FetchLog("2024-03-09", 1)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "b", lines[0].Text)

	lines, err = s.FetchLog("2024-03-09", 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFetchLogErrors(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.Local)}
	s := newTestSink(t, clock, Options{})

	_, err := s.FetchLog("2020-01-01", 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.FetchLog("../../etc/passwd", 0)
	require.ErrorIs(t, err, ErrInvalidDay)
}

func TestReadTodayRestoresTail(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 8, 0, 0, 0, time.Local)}
	dir := t.TempDir()

	first := newTestSink(t, clock, Options{Dir: dir})
	require.NoError(t, first.Log(LevelSuccess, "m", "one", nil))
	require.NoError(t, first.Log(LevelWarning, "m", "two", nil))

	second := newTestSink(t, clock, Options{Dir: dir})
	require.NoError(t, second.ReadToday())
	lines, err := second.FetchLog("2024-03-09", 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, LevelWarning, lines[1].Level)
}

func TestReadTodayWithoutFile(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 8, 0, 0, 0, time.Local)}
	s := newTestSink(t, clock, Options{})
	require.NoError(t, s.ReadToday())
}

func TestLogReturnsIOError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 8, 0, 0, 0, time.Local)}
	dir := t.TempDir()
	s := newTestSink(t, clock, Options{Dir: dir})

	// A directory where the log file should be makes the append fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "2024-03-09.log"), 0o750))
	require.Error(t, s.Log(LevelInfo, "m", "x", nil))

	lines, err := s.FetchLog("2024-03-09", 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestBroadcastIsDebouncedIntoOneBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := &fakeClock{now: time.Date(2024, 3, 9, 8, 0, 0, 0, time.Local)}
	rec := &recordingBroadcaster{}
	s, err := New(Options{
		Dir:          t.TempDir(),
		Broadcast:    true,
		Debounce:     50 * time.Millisecond,
		Broadcasters: []Broadcaster{rec},
		Now:          clock.Now,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Log(LevelInfo, "m", "burst", nil))
	}

	assert.Eventually(t, func() bool { return len(rec.Batches()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, rec.Batches()[0], 5)

	require.NoError(t, s.Log(LevelInfo, "m", "later", nil))
	require.NoError(t, s.Close())
	batches := rec.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, "later", batches[1][0].Text)
}

func TestBroadcastDisabled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 9, 8, 0, 0, 0, time.Local)}
	rec := &recordingBroadcaster{}
	s := newTestSink(t, clock, Options{Debounce: time.Millisecond, Broadcasters: []Broadcaster{rec}})

	require.NoError(t, s.Log(LevelInfo, "m", "quiet", nil))
	require.NoError(t, s.Close())
	assert.Empty(t, rec.Batches())
}
