// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ManuGH/lsdvr/internal/channel"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/logsink"
	"github.com/ManuGH/lsdvr/internal/notify"
	"github.com/ManuGH/lsdvr/internal/provider"
	"github.com/ManuGH/lsdvr/internal/vod"
	"github.com/go-chi/chi/v5"
)

type channelView struct {
	channel.Channel
	VODCount int   `json:"vodCount"`
	Size     int64 `json:"size"`
}

func (s *Server) handleFetchLog(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	from := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "from must be a non-negative line number")
			return
		}
		from = n
	}

	lines, err := s.deps.Sink.FetchLog(day, from)
	switch {
	case errors.Is(err, logsink.ErrInvalidDay):
		writeError(w, http.StatusBadRequest, "day must be yyyy-mm-dd")
		return
	case errors.Is(err, logsink.ErrNotFound):
		writeNotFound(w)
		return
	case err != nil:
		s.logger.Error().Err(err).Str("event", "api.fetch_log_failed").Str("day", day).Msg("could not read log")
		writeError(w, http.StatusInternalServerError, "could not read log")
		return
	}
	writeJSON(w, http.StatusOK, logsink.Envelope{Action: "log", Data: lines})
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.deps.Channels.List()
	out := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelView{
			Channel:  ch,
			VODCount: len(s.deps.VODs.List(ch.ID)),
			Size:     s.deps.VODs.ChannelSize(ch.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChannelVods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.VODs.List(chi.URLParam(r, "id")))
}

func (s *Server) handleVod(w http.ResponseWriter, r *http.Request) {
	v, ok := s.deps.VODs.Get(chi.URLParam(r, "basename"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDebugVods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.VODs.List(""))
}

func (s *Server) handleDebugCaptures(w http.ResponseWriter, _ *http.Request) {
	active := map[string]string{}
	if s.deps.Captures != nil {
		active = s.deps.Captures.Active()
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleDebugNotify(w http.ResponseWriter, r *http.Request) {
	s.deps.Notifier.Notify(r.Context(), "Test notification", "lsdvr notification test", notify.CategoryTest)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDebugCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changed, err := s.deps.VODs.CheckValidVods(r.Context(), id)
	if err != nil {
		s.reconcileError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) handleDebugMatch(w http.ResponseWriter, r *http.Request) {
	matched, err := s.deps.VODs.MatchProviderVod(r.Context(), chi.URLParam(r, "basename"))
	if err != nil {
		s.reconcileError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"matched": matched})
}

func (s *Server) reconcileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vod.ErrNotFound):
		writeNotFound(w)
	case errors.Is(err, provider.ErrUnavailable), errors.Is(err, provider.ErrAuth):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "api.reconcile_failed").Msg("reconcile failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
