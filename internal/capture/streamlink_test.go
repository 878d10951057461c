// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamlink")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func collect(s Session) []Segment {
	var out []Segment
	for seg := range s.Segments() {
		out = append(out, seg)
	}
	return out
}

func TestCleanExitYieldsSegment(t *testing.T) {
	bin := writeScript(t, "head -c 1880 /dev/zero\n")
	dir := t.TempDir()
	tool := NewStreamlink(bin, time.Hour, time.Second)

	sess, err := tool.Start(context.Background(), Request{
		URL: "https://example.test/streamer", Quality: []string{"720p60", "best"},
		Dir: dir, Basename: "streamer_2024-03-09T12_00_00Z",
	})
	require.NoError(t, err)

	segs := collect(sess)
	require.NoError(t, sess.Wait())
	require.Len(t, segs, 1)
	assert.Equal(t, filepath.Join(dir, "streamer_2024-03-09T12_00_00Z_00001.ts"), segs[0].Path)
	assert.EqualValues(t, 1880, segs[0].Size)

	fi, err := os.Stat(segs[0].Path)
	require.NoError(t, err)
	assert.EqualValues(t, 1880, fi.Size())
}

func TestQualityPassedAsCommaList(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bin := writeScript(t, "echo \"$@\" > "+argsFile+"\n")

	sess, err := NewStreamlink(bin, time.Hour, time.Second).Start(context.Background(), Request{
		URL: "https://example.test/streamer", Quality: []string{"720p60", "best"}, Dir: dir, Basename: "b",
	})
	require.NoError(t, err)
	assert.Empty(t, collect(sess), "no output means no segment")
	require.NoError(t, sess.Wait())

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "https://example.test/streamer 720p60,best")
}

func TestSegmentsRotateByTime(t *testing.T) {
	bin := writeScript(t, "for i in 1 2 3; do head -c 188 /dev/zero; sleep 0.3; done\n")
	sess, err := NewStreamlink(bin, 100*time.Millisecond, time.Second).Start(context.Background(), Request{
		URL: "u", Dir: t.TempDir(), Basename: "b",
	})
	require.NoError(t, err)

	segs := collect(sess)
	require.NoError(t, sess.Wait())
	require.Len(t, segs, 3)
	for i, s := range segs {
		assert.EqualValues(t, 188, s.Size, "segment %d", i)
	}
	assert.Equal(t, "b_00003.ts", filepath.Base(segs[2].Path))
}

func TestFailingToolIsErrToolFailed(t *testing.T) {
	bin := writeScript(t, "head -c 376 /dev/zero\necho 'error: No playable streams found' >&2\nexit 1\n")
	sess, err := NewStreamlink(bin, time.Hour, time.Second).Start(context.Background(), Request{
		URL: "u", Dir: t.TempDir(), Basename: "b",
	})
	require.NoError(t, err)

	segs := collect(sess)
	err = sess.Wait()
	require.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "No playable streams found")
	require.Len(t, segs, 1, "partial output is kept")
	assert.EqualValues(t, 376, segs[0].Size)
}

func TestStopIsNotAFailure(t *testing.T) {
	bin := writeScript(t, "head -c 188 /dev/zero\nexec sleep 100\n")
	sess, err := NewStreamlink(bin, time.Hour, time.Second).Start(context.Background(), Request{
		URL: "u", Dir: t.TempDir(), Basename: "b",
	})
	require.NoError(t, err)

	done := make(chan []Segment)
	go func() { done <- collect(sess) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sess.Stop())
	segs := <-done
	require.NoError(t, sess.Wait())
	require.Len(t, segs, 1)
}

func TestContextCancelStops(t *testing.T) {
	bin := writeScript(t, "exec sleep 100\n")
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := NewStreamlink(bin, time.Hour, time.Second).Start(ctx, Request{URL: "u", Dir: t.TempDir(), Basename: "b"})
	require.NoError(t, err)

	cancel()
	assert.Empty(t, collect(sess))
	require.NoError(t, sess.Wait())
}

func TestMissingBinary(t *testing.T) {
	_, err := NewStreamlink("/nonexistent/streamlink", time.Hour, time.Second).Start(context.Background(), Request{
		URL: "u", Dir: t.TempDir(), Basename: "b",
	})
	require.ErrorIs(t, err, ErrToolFailed)
}
