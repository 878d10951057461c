// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/lsdvr/internal/fsutil"
	"github.com/ManuGH/lsdvr/internal/media"
	"github.com/ManuGH/lsdvr/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	videos []provider.Video
	err    error
	calls  int
}

func (f *fakeProvider) AccessToken(context.Context, bool) (string, error) { return "t", nil }
func (f *fakeProvider) GetChannelData(context.Context, string) (provider.ChannelData, error) {
	return provider.ChannelData{}, provider.ErrNotFound
}
func (f *fakeProvider) GetChannelDataByID(context.Context, string) (provider.ChannelData, error) {
	return provider.ChannelData{}, provider.ErrNotFound
}
func (f *fakeProvider) GetVideos(context.Context, string) ([]provider.Video, error) {
	f.calls++
	return f.videos, f.err
}
func (f *fakeProvider) GetVideo(context.Context, string) (provider.Video, error) {
	return provider.Video{}, provider.ErrNotFound
}

type fakeMedia struct {
	remuxErr error
	inputs   []string
}

func (f *fakeMedia) Probe(context.Context, string) (media.Info, error) {
	return media.Info{General: media.General{Format: "mp4", Duration: 3600}}, nil
}

func (f *fakeMedia) Remux(_ context.Context, inputs []string, output string) error {
	f.inputs = inputs
	if f.remuxErr != nil {
		return f.remuxErr
	}
	return os.WriteFile(output, []byte("mp4"), 0o600)
}

var t0 = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func newManager(t *testing.T, dir string, p provider.Client, mt media.Tool, now *time.Time) *Manager {
	t.Helper()
	m, err := NewManager(dir, p, mt, WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return m
}

// finalized creates a recording that ran from start for d and was remuxed.
func finalized(t *testing.T, m *Manager, now *time.Time, start time.Time, d time.Duration) VOD {
	t.Helper()
	*now = start
	v, err := m.Create("42", "streamer")
	require.NoError(t, err)
	_, err = m.AddSegment(v.Basename, Segment{Path: "/seg", Size: 10, Duration: d})
	require.NoError(t, err)
	*now = start.Add(d)
	_, err = m.Transition(v.Basename, StateConverting, "")
	require.NoError(t, err)
	v, err = m.Transition(v.Basename, StateFinalized, "")
	require.NoError(t, err)
	return v
}

func TestCreatePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	now := t0
	m := newManager(t, dir, &fakeProvider{}, &fakeMedia{}, &now)

	v, err := m.Create("42", "Streamer")
	require.NoError(t, err)
	assert.Equal(t, "streamer_2024-03-09T12_00_00Z", v.Basename)
	assert.Equal(t, StateCapturing, v.State)

	_, err = m.Create("42", "Streamer")
	require.ErrorIs(t, err, ErrAlreadyCapturing, "one capturing recording per channel")

	for _, size := range []int64{1000, 2000} {
		_, err = m.AddSegment(v.Basename, Segment{Path: filepath.Join(dir, "s.ts"), Size: size, Duration: time.Minute})
		require.NoError(t, err)
	}
	_, err = m.AddChapter(v.Basename, Chapter{GameID: "509658", GameName: "Just Chatting"})
	require.NoError(t, err)

	var onDisk VOD
	require.NoError(t, fsutil.ReadJSON(filepath.Join(dir, "streamer", v.Basename+".json"), &onDisk))
	assert.EqualValues(t, 3000, onDisk.Size)
	assert.Len(t, onDisk.Segments, 2)
	assert.Equal(t, now, onDisk.Chapters[0].Time)

	// A capturing recording found at startup was interrupted.
	now = t0.Add(time.Hour)
	m2 := newManager(t, dir, &fakeProvider{}, &fakeMedia{}, &now)
	got, ok := m2.Get(v.Basename)
	require.True(t, ok)
	assert.Equal(t, StateFinalizedWithError, got.State)
	assert.Equal(t, InterruptedError, got.Error)
	assert.EqualValues(t, 3000, got.Size)
	_, capturing := m2.Capturing("42")
	assert.False(t, capturing)
}

func TestWriteFailureLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	now := t0
	m := newManager(t, dir, &fakeProvider{}, &fakeMedia{}, &now)

	// A file where the channel directory should be makes every write fail.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "streamer"), nil, 0o600))
	_, err := m.Create("42", "streamer")
	require.Error(t, err)
	_, ok := m.Capturing("42")
	assert.False(t, ok)
	assert.Empty(t, m.List(""))
}

func TestTransitionStampsEndAndRecordsError(t *testing.T) {
	now := t0
	m := newManager(t, t.TempDir(), &fakeProvider{}, &fakeMedia{}, &now)
	v, err := m.Create("42", "streamer")
	require.NoError(t, err)

	now = t0.Add(90 * time.Minute)
	v, err = m.Transition(v.Basename, StateFinalizedWithError, "tool exited 1")
	require.NoError(t, err)
	assert.Equal(t, now, v.EndedAt)
	assert.Equal(t, "tool exited 1", v.Error)

	_, err = m.Transition(v.Basename, StateConverting, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.AddSegment(v.Basename, Segment{Size: 1})
	require.ErrorIs(t, err, ErrNotCapturing)
	_, err = m.Transition("nope", StateDeleted, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemux(t *testing.T) {
	now := t0
	mt := &fakeMedia{}
	dir := t.TempDir()
	m := newManager(t, dir, &fakeProvider{}, mt, &now)

	v, err := m.Create("42", "streamer")
	require.NoError(t, err)
	_, err = m.Remux(context.Background(), v.Basename)
	require.ErrorIs(t, err, ErrInvalidTransition, "remux needs converting")

	_, err = m.AddSegment(v.Basename, Segment{Path: "/a.ts", Size: 5})
	require.NoError(t, err)
	_, err = m.AddSegment(v.Basename, Segment{Path: "/b.ts", Size: 6})
	require.NoError(t, err)
	_, err = m.Transition(v.Basename, StateConverting, "")
	require.NoError(t, err)

	v, err = m.Remux(context.Background(), v.Basename)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, v.State)
	assert.Equal(t, []string{"/a.ts", "/b.ts"}, mt.inputs)
	assert.Equal(t, filepath.Join(dir, "streamer", v.Basename+".mp4"), v.Output)
	require.NotNil(t, v.Media)
	assert.Equal(t, "mp4", v.Media.General.Format)
	assert.EqualValues(t, 11, v.Size)
}

func TestRemuxFailureFinalizesWithError(t *testing.T) {
	now := t0
	m := newManager(t, t.TempDir(), &fakeProvider{}, &fakeMedia{remuxErr: media.ErrRemuxFailed}, &now)
	v, err := m.Create("42", "streamer")
	require.NoError(t, err)
	_, err = m.AddSegment(v.Basename, Segment{Path: "/a.ts", Size: 5})
	require.NoError(t, err)
	_, err = m.Transition(v.Basename, StateConverting, "")
	require.NoError(t, err)

	_, err = m.Remux(context.Background(), v.Basename)
	require.ErrorIs(t, err, media.ErrRemuxFailed)
	got, _ := m.Get(v.Basename)
	assert.Equal(t, StateFinalizedWithError, got.State)
	assert.Contains(t, got.Error, "remux failed")
}

func TestCheckValidVods(t *testing.T) {
	now := t0
	p := &fakeProvider{}
	m := newManager(t, t.TempDir(), p, &fakeMedia{}, &now)

	a := finalized(t, m, &now, t0, time.Hour)
	b := finalized(t, m, &now, t0.Add(24*time.Hour), time.Hour)
	unlinked := finalized(t, m, &now, t0.Add(48*time.Hour), time.Hour)
	for basename, id := range map[string]string{a.Basename: "v1", b.Basename: "v2"} {
		_, err := m.update(basename, func(v *VOD) error {
			v.ProviderVideo = &ProviderVideo{ID: id}
			return nil
		})
		require.NoError(t, err)
	}

	p.videos = []provider.Video{{ID: "v1"}, {ID: "v2"}}
	deleted, err := m.CheckValidVods(context.Background(), "42")
	require.NoError(t, err)
	assert.False(t, deleted, "all linked videos present")

	p.videos = []provider.Video{{ID: "v1"}}
	deleted, err = m.CheckValidVods(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, deleted)

	got, _ := m.Get(b.Basename)
	assert.Equal(t, StateDeleted, got.State)
	got, _ = m.Get(a.Basename)
	assert.Equal(t, StateFinalized, got.State)
	got, _ = m.Get(unlinked.Basename)
	assert.Equal(t, StateFinalized, got.State, "unlinked recordings are never deleted")

	deleted, err = m.CheckValidVods(context.Background(), "42")
	require.NoError(t, err)
	assert.False(t, deleted, "already deleted recordings are not re-reported")

	p.err = provider.ErrUnavailable
	p.videos = nil
	_, err = m.CheckValidVods(context.Background(), "42")
	require.ErrorIs(t, err, provider.ErrUnavailable)
	got, _ = m.Get(a.Basename)
	assert.Equal(t, StateFinalized, got.State, "provider errors change nothing")
}

func TestMatchProviderVod(t *testing.T) {
	now := t0
	p := &fakeProvider{}
	m := newManager(t, t.TempDir(), p, &fakeMedia{}, &now)
	v := finalized(t, m, &now, t0, 2*time.Hour)

	p.videos = []provider.Video{
		{ID: "far", CreatedAt: t0.Add(-time.Hour), Duration: "2h0m0s", Type: "archive"},
		{ID: "short", CreatedAt: t0.Add(time.Minute), Duration: "30m0s", Type: "archive"},
		{ID: "clip", CreatedAt: t0, Duration: "2h0m0s", Type: "highlight"},
		{ID: "near", CreatedAt: t0.Add(90 * time.Second), Duration: "1h58m0s", Type: "archive", URL: "https://v/near"},
		{ID: "nearer", CreatedAt: t0.Add(30 * time.Second), Duration: "2h3m0s", Type: "archive"},
	}
	ok, err := m.MatchProviderVod(context.Background(), v.Basename)
	require.NoError(t, err)
	require.True(t, ok)
	got, _ := m.Get(v.Basename)
	require.NotNil(t, got.ProviderVideo)
	assert.Equal(t, "nearer", got.ProviderVideo.ID)
	assert.Equal(t, 2*time.Hour+3*time.Minute, got.ProviderVideo.Duration)

	calls := p.calls
	ok, err = m.MatchProviderVod(context.Background(), v.Basename)
	require.NoError(t, err)
	assert.False(t, ok, "second match is a no-op")
	assert.Equal(t, calls, p.calls)
	got, _ = m.Get(v.Basename)
	assert.Equal(t, "nearer", got.ProviderVideo.ID)
}

func TestMatchVods(t *testing.T) {
	now := t0
	p := &fakeProvider{}
	m := newManager(t, t.TempDir(), p, &fakeMedia{}, &now)
	finalized(t, m, &now, t0, time.Hour)
	finalized(t, m, &now, t0.Add(24*time.Hour), time.Hour)
	capturing, err := m.Create("42", "streamer")
	require.NoError(t, err)

	p.videos = []provider.Video{
		{ID: "v1", CreatedAt: t0, Duration: "1h0m0s"},
		{ID: "v2", CreatedAt: t0.Add(24 * time.Hour), Duration: "1h0m0s"},
	}
	n, err := m.MatchVods(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := m.Get(capturing.Basename)
	assert.Nil(t, got.ProviderVideo)

	n, err = m.MatchVods(context.Background(), "42")
	require.NoError(t, err)
	assert.Zero(t, n)

	p.err = errors.New("boom")
	_, err = m.MatchProviderVod(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChannelSizeAndList(t *testing.T) {
	now := t0
	m := newManager(t, t.TempDir(), &fakeProvider{}, &fakeMedia{}, &now)
	a := finalized(t, m, &now, t0, time.Hour)
	finalized(t, m, &now, t0.Add(time.Hour*24), time.Hour)
	_, err := m.Transition(a.Basename, StateDeleted, "")
	require.NoError(t, err)

	assert.EqualValues(t, 10, m.ChannelSize("42"))
	list := m.List("42")
	require.Len(t, list, 2)
	assert.Equal(t, a.Basename, list[0].Basename)
	assert.Len(t, m.InState(StateDeleted), 1)
	assert.Empty(t, m.List("other"))
}
