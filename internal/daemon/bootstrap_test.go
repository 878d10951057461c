// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/lsdvr/internal/capture"
	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/ManuGH/lsdvr/internal/media"
	"github.com/ManuGH/lsdvr/internal/provider"
	"github.com/ManuGH/lsdvr/internal/substatus"
	"github.com/ManuGH/lsdvr/internal/vod"
	"github.com/ManuGH/lsdvr/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s"

type stubProvider struct {
	mu     sync.Mutex
	videos []provider.Video
}

func (p *stubProvider) AccessToken(context.Context, bool) (string, error) { return "t", nil }

func (p *stubProvider) GetChannelData(_ context.Context, login string) (provider.ChannelData, error) {
	return provider.ChannelData{ID: "42", Login: login, DisplayName: "Streamer"}, nil
}

func (p *stubProvider) GetChannelDataByID(_ context.Context, id string) (provider.ChannelData, error) {
	return provider.ChannelData{ID: id, Login: "streamer", DisplayName: "Streamer"}, nil
}

func (p *stubProvider) GetVideos(context.Context, string) ([]provider.Video, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Video(nil), p.videos...), nil
}

func (p *stubProvider) GetVideo(context.Context, string) (provider.Video, error) {
	return provider.Video{}, provider.ErrNotFound
}

func (p *stubProvider) setVideos(v ...provider.Video) {
	p.mu.Lock()
	p.videos = v
	p.mu.Unlock()
}

// segmentSession writes one segment on start and ends when stopped.
type segmentSession struct {
	segs chan capture.Segment
	done chan struct{}
	once sync.Once
}

func (s *segmentSession) Segments() <-chan capture.Segment { return s.segs }

func (s *segmentSession) Stop() error {
	s.once.Do(func() {
		close(s.segs)
		close(s.done)
	})
	return nil
}

func (s *segmentSession) Wait() error {
	<-s.done
	return nil
}

type segmentTool struct{}

func (segmentTool) Start(_ context.Context, req capture.Request) (capture.Session, error) {
	path := filepath.Join(req.Dir, req.Basename+"_00000.ts")
	if err := os.WriteFile(path, []byte("ts-data"), 0o600); err != nil {
		return nil, err
	}
	s := &segmentSession{segs: make(chan capture.Segment, 1), done: make(chan struct{})}
	s.segs <- capture.Segment{Path: path, Size: 7, Duration: 2 * time.Second}
	return s, nil
}

type stubMedia struct{}

func (stubMedia) Probe(context.Context, string) (media.Info, error) {
	return media.Info{General: media.General{Format: "mp4"}}, nil
}

func (stubMedia) Remux(_ context.Context, _ []string, output string) error {
	return os.WriteFile(output, []byte("mp4"), 0o600)
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.DataDir = t.TempDir()
	cfg.EventSubSecret = testSecret
	cfg.Store.Backend = "memory"
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.API.HookRateLimit = 0
	cfg.Channels = []config.ChannelConfig{{Login: "streamer"}}
	return cfg
}

func postHook(t *testing.T, client *http.Client, base, msgType, body string) *http.Response {
	t.Helper()
	id := fmt.Sprintf("msg-%d", time.Now().UnixNano())
	ts := time.Now().UTC().Format(time.RFC3339)
	req, err := http.NewRequest(http.MethodPost, base+"/hook", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderMessageID, id)
	req.Header.Set(webhook.HeaderMessageTimestamp, ts)
	req.Header.Set(webhook.HeaderMessageType, msgType)
	req.Header.Set(webhook.HeaderMessageSignature, webhook.Sign(testSecret, id, ts, []byte(body)))
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func challenge(subType string) string {
	return fmt.Sprintf(`{"challenge":"c-%s","subscription":{"id":"sub-%s","type":%q,"condition":{"broadcaster_user_id":"42"}}}`, subType, subType, subType)
}

func notification(subType string) string {
	return fmt.Sprintf(`{"subscription":{"id":"sub-%s","type":%q,"condition":{"broadcaster_user_id":"42"}},"event":{"broadcaster_user_id":"42","broadcaster_user_login":"streamer","broadcaster_user_name":"Streamer","type":"live"}}`, subType, subType)
}

func TestLayoutFor(t *testing.T) {
	l := LayoutFor(config.AppConfig{DataDir: "/data"})
	assert.Equal(t, filepath.Join("/data", "logs"), l.Logs)
	assert.Equal(t, filepath.Join("/data", "cache"), l.Cache)
	assert.Equal(t, filepath.Join("/data", "storage", "vods"), l.VODs)
	assert.Equal(t, filepath.Join("/data", "payloads"), l.Payloads)
	assert.Equal(t, filepath.Join("/data", "cache", "games.json"), l.Games)
}

func TestBuildRejectsUnknownStoreBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "etcd"
	_, err := Build(context.Background(), cfg, Overrides{Provider: &stubProvider{}, Capture: segmentTool{}, Media: stubMedia{}})
	require.Error(t, err)
}

func TestBuildFailureAfterStoresOpenReturnsError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "json"
	layout := LayoutFor(cfg)
	require.NoError(t, os.MkdirAll(layout.Cache, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(layout.Cache, "channels.json"), []byte("{not json"), 0o600))

	var err error
	require.NotPanics(t, func() {
		_, err = Build(context.Background(), cfg, Overrides{Provider: &stubProvider{}, Capture: segmentTool{}, Media: stubMedia{}})
	})
	require.ErrorContains(t, err, "channels")
}

func TestCaptureLifecycleOverHTTP(t *testing.T) {
	p := &stubProvider{}
	cfg := testConfig(t)
	rt, err := Build(context.Background(), cfg, Overrides{Provider: p, Capture: segmentTool{}, Media: stubMedia{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Manager.Start(ctx) }()
	addr := waitForAddr(rt.Manager, 2*time.Second)
	require.NotEmpty(t, addr)
	base := "http://" + addr
	client := &http.Client{Timeout: 5 * time.Second}

	for _, subType := range []string{"stream.online", "stream.offline"} {
		resp := postHook(t, client, base, "webhook_callback_verification", challenge(subType))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		status, err := rt.Subs.Get(context.Background(), "42", subType)
		require.NoError(t, err)
		assert.Equal(t, substatus.StatusSubscribed, status)
	}

	resp := postHook(t, client, base, "notification", notification("stream.online"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool {
		_, ok := rt.Automator.Active()["42"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	var basename string
	require.Eventually(t, func() bool {
		v, ok := rt.VODs.Capturing("42")
		if !ok || len(v.Segments) == 0 {
			return false
		}
		basename = v.Basename
		return true
	}, 2*time.Second, 10*time.Millisecond)

	resp = postHook(t, client, base, "notification", notification("stream.offline"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool {
		v, ok := rt.VODs.Get(basename)
		return ok && v.State == vod.StateFinalized
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, rt.Automator.Active())

	v, _ := rt.VODs.Get(basename)
	p.setVideos(provider.Video{ID: "v1", UserID: "42", Type: "archive", CreatedAt: v.StartedAt, Duration: "5s"})
	require.NoError(t, rt.Reconcile(context.Background()))
	v, _ = rt.VODs.Get(basename)
	require.NotNil(t, v.ProviderVideo)
	assert.Equal(t, "v1", v.ProviderVideo.ID)

	p.setVideos()
	require.NoError(t, rt.Reconcile(context.Background()))
	v, _ = rt.VODs.Get(basename)
	assert.Equal(t, vod.StateDeleted, v.State)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestApplyTogglesDebugSurface(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Build(context.Background(), cfg, Overrides{Provider: &stubProvider{}, Capture: segmentTool{}, Media: stubMedia{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Automator.Shutdown(context.Background()); _ = rt.Sink.Close() })

	h := rt.API.Handler()
	get := func() int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v0/debug/captures", nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusNotFound, get())

	next := cfg
	next.Debug = true
	next.Channels = append(next.Channels, config.ChannelConfig{Login: "other"})
	rt.Apply(next)
	assert.Equal(t, http.StatusOK, get())
	assert.True(t, rt.Channels.IsConfigured("other"))
	assert.True(t, rt.Config.Debug)
}
