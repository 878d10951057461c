// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, 5*time.Second, cfg.LogBroadcastDebounce)
	assert.Equal(t, "json", cfg.Store.Backend)
	assert.Equal(t, "streamlink", cfg.Capture.Bin)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
dataDir: /srv/lsdvr
eventsubSecret: from-file
logBroadcastDebounce: 2s
channels:
  - login: SomeStreamer
    match: ["speedrun"]
  - login: other
    quality: ["720p60", "best"]
`)
	t.Setenv("LSDVR_EVENTSUB_SECRET", "from-env")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/lsdvr", cfg.DataDir)
	assert.Equal(t, "from-env", cfg.EventSubSecret)
	assert.Equal(t, 2*time.Second, cfg.LogBroadcastDebounce)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "somestreamer", cfg.Channels[0].Login)
	assert.Equal(t, []string{"best"}, cfg.Channels[0].Quality)
	assert.Equal(t, []string{"720p60", "best"}, cfg.Channels[1].Quality)

	ch, ok := cfg.ChannelByLogin("SOMESTREAMER")
	require.True(t, ok)
	assert.Equal(t, []string{"speedrun"}, ch.Match)

	assert.Equal(t, "/srv/lsdvr/logs", cfg.LogsDir())
	assert.Equal(t, "/srv/lsdvr/storage/vods", cfg.VodsDir())
}

func TestLoad_StrictRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp/x\nbogusKey: 1\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: etcd
channels:
  - login: a
  - login: A
`)
	_, err := NewLoader(path, "").Load()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "duplicated")
}

func TestLoad_TracksConsumedEnvKeys(t *testing.T) {
	l := NewLoader("", "")
	_, err := l.Load()
	require.NoError(t, err)
	assert.Contains(t, l.ConsumedEnvKeys, "LSDVR_EVENTSUB_SECRET")
	assert.Contains(t, l.ConsumedEnvKeys, "LSDVR_DATA")
}

func TestLoader_UnknownEnvKeys(t *testing.T) {
	t.Setenv("LSDVR_EVENTSUB_SECRET", "s")
	t.Setenv("LSDVR_EVENTSUB_SECRETT", "typo")
	l := NewLoader("", "")
	_, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"LSDVR_EVENTSUB_SECRETT"}, l.UnknownEnvKeys())
}
