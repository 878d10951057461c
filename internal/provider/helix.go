// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/fsutil"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/metrics"
	"github.com/ManuGH/lsdvr/internal/platform/httpx"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TokenRefreshAge is how old a cached token may get before it is replaced.
// Provider tokens live about 60 days.
const TokenRefreshAge = 30 * 24 * time.Hour

const maxResponseBytes = 4 << 20

const (
	videosPageSize = 100
	maxVideoPages  = 50
)

// Config configures a HelixClient.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthURL      string
	RPS          float64
	Timeout      time.Duration

	// TokenCachePath persists the access token between restarts. Empty disables it.
	TokenCachePath string
}

type cachedToken struct {
	Token     string    `json:"token"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// HelixClient implements Client over HTTP. It owns the access token.
type HelixClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *breaker
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	token cachedToken
}

// NewHelixClient builds a client. A persisted token is loaded lazily.
func NewHelixClient(cfg Config) *HelixClient {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	return &HelixClient{
		cfg:     cfg,
		http:    httpx.NewClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), int(max(1, cfg.RPS))),
		breaker: newBreaker(5, 30*time.Second),
		logger:  log.WithComponent("provider"),
		now:     time.Now,
	}
}

// AccessToken returns a cached app token, fetching a new one when forced,
// missing or older than TokenRefreshAge.
func (c *HelixClient) AccessToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Token == "" && c.cfg.TokenCachePath != "" && !force {
		var cached cachedToken
		if err := fsutil.ReadJSON(c.cfg.TokenCachePath, &cached); err == nil {
			c.token = cached
		} else if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("event", "provider.token_cache_unreadable").Msg("ignoring token cache")
		}
	}

	if !force && c.token.Token != "" && c.now().Sub(c.token.FetchedAt) < TokenRefreshAge {
		c.logger.Debug().Str("event", "provider.token_cached").Msg("using cached access token")
		return c.token.Token, nil
	}

	c.token = cachedToken{}
	tok, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = cachedToken{Token: tok, FetchedAt: c.now()}

	if c.cfg.TokenCachePath != "" {
		if err := fsutil.WriteJSON(c.cfg.TokenCachePath, c.token); err != nil {
			c.logger.Warn().Err(err).Str("event", "provider.token_cache_write_failed").Msg("could not persist access token")
		}
	}
	c.logger.Info().Str("event", "provider.token_fetched").Msg("fetched new access token")
	return tok, nil
}

func (c *HelixClient) fetchToken(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("client_secret", c.cfg.ClientSecret)
	q.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", ErrAuth, err)
	}
	req.Header.Set("Client-ID", c.cfg.ClientID)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncProviderRequest("token", "error")
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if resp.StatusCode != http.StatusOK {
		metrics.IncProviderRequest("token", "rejected")
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", ErrAuth, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil || body.AccessToken == "" {
		metrics.IncProviderRequest("token", "malformed")
		return "", fmt.Errorf("%w: no access_token in response", ErrAuth)
	}
	metrics.IncProviderRequest("token", "ok")
	return body.AccessToken, nil
}

// GetChannelData looks a channel up by login.
func (c *HelixClient) GetChannelData(ctx context.Context, login string) (ChannelData, error) {
	return c.getUser(ctx, "login", login)
}

// GetChannelDataByID looks a channel up by provider id.
func (c *HelixClient) GetChannelDataByID(ctx context.Context, id string) (ChannelData, error) {
	return c.getUser(ctx, "id", id)
}

func (c *HelixClient) getUser(ctx context.Context, key, value string) (ChannelData, error) {
	var users []ChannelData
	if _, err := c.get(ctx, "users", url.Values{key: {value}}, &users); err != nil {
		return ChannelData{}, err
	}
	if len(users) == 0 {
		return ChannelData{}, fmt.Errorf("%w: channel %s=%s", ErrNotFound, key, value)
	}
	return users[0], nil
}

// GetVideos lists all of a channel's videos, following the pagination
// cursor. An empty list is not an error.
func (c *HelixClient) GetVideos(ctx context.Context, channelID string) ([]Video, error) {
	var all []Video
	seen := make(map[string]bool)
	query := url.Values{"user_id": {channelID}, "first": {strconv.Itoa(videosPageSize)}}
	for range maxVideoPages {
		var page []Video
		cursor, err := c.get(ctx, "videos", query, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if cursor == "" || len(page) == 0 || seen[cursor] {
			return all, nil
		}
		seen[cursor] = true
		query.Set("after", cursor)
	}
	return nil, fmt.Errorf("provider: videos for %s exceed %d pages", channelID, maxVideoPages)
}

// GetVideo fetches one video by id.
func (c *HelixClient) GetVideo(ctx context.Context, videoID string) (Video, error) {
	var videos []Video
	if _, err := c.get(ctx, "videos", url.Values{"id": {videoID}}, &videos); err != nil {
		return Video{}, err
	}
	if len(videos) == 0 {
		return Video{}, fmt.Errorf("%w: video %s", ErrNotFound, videoID)
	}
	return videos[0], nil
}

// get performs an authenticated GET, decodes the "data" array into out and
// returns the pagination cursor. A 401 discards the token and retries once
// with a fresh one.
func (c *HelixClient) get(ctx context.Context, endpoint string, query url.Values, out any) (string, error) {
	var cursor string
	err := c.breaker.do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		status, next, err := c.doGet(ctx, endpoint, query, out, false)
		if err == nil || status != http.StatusUnauthorized {
			cursor = next
			return err
		}
		c.logger.Warn().
			Str("event", "provider.token_rejected").
			Str("endpoint", endpoint).
			Msg("access token rejected, refreshing")
		_, cursor, err = c.doGet(ctx, endpoint, query, out, true)
		return err
	})
	if errors.Is(err, errBreakerOpen) {
		metrics.IncProviderRequest(endpoint, "circuit_open")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return cursor, err
}

func (c *HelixClient) doGet(ctx context.Context, endpoint string, query url.Values, out any, forceToken bool) (int, string, error) {
	tok, err := c.AccessToken(ctx, forceToken)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/"+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Client-ID", c.cfg.ClientID)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		metrics.IncProviderRequest(endpoint, "error")
		return 0, "", fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.IncProviderRequest(endpoint, "unauthorized")
		c.mu.Lock()
		c.token = cachedToken{}
		c.mu.Unlock()
		return resp.StatusCode, "", fmt.Errorf("%w: %s returned 401", ErrAuth, endpoint)
	case resp.StatusCode == http.StatusNotFound:
		metrics.IncProviderRequest(endpoint, "not_found")
		return resp.StatusCode, "", fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		metrics.IncProviderRequest(endpoint, "upstream_error")
		return resp.StatusCode, "", fmt.Errorf("%w: %s returned %d", ErrUnavailable, endpoint, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		metrics.IncProviderRequest(endpoint, "rejected")
		return resp.StatusCode, "", fmt.Errorf("provider: %s returned %d", endpoint, resp.StatusCode)
	}

	var envelope struct {
		Data       json.RawMessage `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&envelope); err != nil {
		metrics.IncProviderRequest(endpoint, "malformed")
		return resp.StatusCode, "", fmt.Errorf("provider: decode %s: %w", endpoint, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		metrics.IncProviderRequest(endpoint, "ok")
		return resp.StatusCode, "", nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		metrics.IncProviderRequest(endpoint, "malformed")
		return resp.StatusCode, "", fmt.Errorf("provider: decode %s data: %w", endpoint, err)
	}
	metrics.IncProviderRequest(endpoint, "ok")
	return resp.StatusCode, envelope.Pagination.Cursor, nil
}
