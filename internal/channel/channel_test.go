// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/ManuGH/lsdvr/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls atomic.Int32
	err   error
	name  string
}

func (f *fakeProvider) AccessToken(context.Context, bool) (string, error) { return "t", nil }

func (f *fakeProvider) GetChannelData(_ context.Context, login string) (provider.ChannelData, error) {
	f.calls.Add(1)
	if f.err != nil {
		return provider.ChannelData{}, f.err
	}
	return provider.ChannelData{ID: "42", Login: login, DisplayName: f.display()}, nil
}

func (f *fakeProvider) GetChannelDataByID(_ context.Context, id string) (provider.ChannelData, error) {
	f.calls.Add(1)
	if f.err != nil {
		return provider.ChannelData{}, f.err
	}
	return provider.ChannelData{ID: id, Login: "Streamer", DisplayName: f.display()}, nil
}

func (f *fakeProvider) GetVideos(context.Context, string) ([]provider.Video, error) { return nil, nil }
func (f *fakeProvider) GetVideo(context.Context, string) (provider.Video, error) {
	return provider.Video{}, provider.ErrNotFound
}

func (f *fakeProvider) display() string {
	if f.name != "" {
		return f.name
	}
	return "Streamer"
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetCachesForTTL(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r, err := NewRegistry(p, filepath.Join(t.TempDir(), "channels.json"), nil, WithClock(clk.Now))
	require.NoError(t, err)

	ch, err := r.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "streamer", ch.Login)
	assert.Equal(t, []string{"best"}, ch.Quality)
	assert.EqualValues(t, 1, p.calls.Load())

	clk.Advance(29 * 24 * time.Hour)
	_, err = r.Get(ctx, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.calls.Load(), "served from cache within TTL")

	clk.Advance(2 * 24 * time.Hour)
	p.name = "Renamed"
	ch, err = r.Get(ctx, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.calls.Load(), "refetched after 30 days")
	assert.Equal(t, "Renamed", ch.DisplayName)
	assert.Equal(t, clk.Now(), ch.FetchedAt)
}

func TestCachePersistsAcrossRegistries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "channels.json")
	p := &fakeProvider{}
	now := time.Now()

	r1, err := NewRegistry(p, path, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = r1.GetByLogin(ctx, "Streamer")
	require.NoError(t, err)

	r2, err := NewRegistry(p, path, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	id, ok := r2.IDFromLogin("streamer")
	require.True(t, ok)
	assert.Equal(t, "42", id)
	login, ok := r2.LoginFromID("42")
	require.True(t, ok)
	assert.Equal(t, "streamer", login)

	_, err = r2.Get(ctx, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestCacheWriteFailureIsReturned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	r, err := NewRegistry(&fakeProvider{}, path, nil)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(path, 0o750))

	_, err = r.Get(context.Background(), "42")
	require.ErrorContains(t, err, "persist cache")

	require.Error(t, r.MarkSubscribed("42", time.Now(), time.Now().Add(time.Hour)))
}

func TestStaleServedWhenRefreshFails(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	clk := &clock{now: time.Now()}
	r, err := NewRegistry(p, "", nil, WithClock(clk.Now))
	require.NoError(t, err)

	_, err = r.Get(ctx, "42")
	require.NoError(t, err)

	clk.Advance(31 * 24 * time.Hour)
	p.err = provider.ErrUnavailable
	ch, err := r.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "streamer", ch.Login)
}

func TestUnknownChannel(t *testing.T) {
	p := &fakeProvider{err: provider.ErrNotFound}
	r, err := NewRegistry(p, "", nil)
	require.NoError(t, err)

	_, err = r.Get(context.Background(), "404")
	require.ErrorIs(t, err, ErrUnknownChannel)

	p.err = errors.New("network down")
	_, err = r.Get(context.Background(), "404")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownChannel)
}

func TestPreferencesMerged(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(&fakeProvider{}, "", []config.ChannelConfig{
		{Login: "Streamer", Quality: []string{"720p60"}, NoCapture: []string{"rerun"}},
	})
	require.NoError(t, err)

	ch, err := r.Get(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ch.Configured)
	assert.Equal(t, []string{"720p60"}, ch.Quality)
	assert.Equal(t, []string{"rerun"}, ch.NoCapture)
	assert.True(t, r.IsConfigured("streamer"))

	r.ApplyConfig(nil)
	ch, err = r.Get(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ch.Configured)
	assert.Equal(t, []string{"best"}, ch.Quality)
}

func TestCurrentVODAndSubscription(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(&fakeProvider{}, filepath.Join(t.TempDir(), "c.json"), nil)
	require.NoError(t, err)
	_, err = r.Get(ctx, "42")
	require.NoError(t, err)

	r.SetCurrentVOD("42", "streamer_2024-03-09T12_00_00Z")
	assert.Equal(t, "streamer_2024-03-09T12_00_00Z", r.CurrentVOD("42"))

	at := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.MarkSubscribed("42", at, time.Time{}))

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "streamer_2024-03-09T12_00_00Z", list[0].CurrentVOD)
	assert.Equal(t, at, list[0].SubbedAt)

	r.SetCurrentVOD("42", "")
	assert.Empty(t, r.CurrentVOD("42"))
}

func TestConcurrentLookupsAreCollapsed(t *testing.T) {
	p := &slowProvider{release: make(chan struct{})}
	r, err := NewRegistry(p, "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Get(context.Background(), "42")
		}()
	}
	assert.Eventually(t, func() bool { return p.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	wg.Wait()
	assert.LessOrEqual(t, p.calls.Load(), int32(2))
}

type slowProvider struct {
	fakeProvider
	release chan struct{}
}

func (s *slowProvider) GetChannelDataByID(ctx context.Context, id string) (provider.ChannelData, error) {
	s.calls.Add(1)
	<-s.release
	return provider.ChannelData{ID: id, Login: "streamer"}, nil
}

func TestDisplayNameOrLogin(t *testing.T) {
	assert.Equal(t, "Streamer", Channel{Login: "streamer", DisplayName: "Streamer"}.DisplayNameOrLogin())
	assert.Equal(t, "streamer", Channel{Login: "streamer"}.DisplayNameOrLogin())
}
