// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/lsdvr/internal/fsutil"
	"github.com/ManuGH/lsdvr/internal/log"
)

const dumpTimeLayout = "2006-01-02T15:04:05.000Z"

// payloadDump is the on-disk record of one raw delivery.
type payloadDump struct {
	Headers http.Header         `json:"headers"`
	Body    json.RawMessage     `json:"body"`
	Query   map[string][]string `json:"query"`
	IP      string              `json:"ip"`
}

var dumpNameReplacer = strings.NewReplacer("-", "_", ":", "_", ".", "_")

// dumpName derives the file name for a delivery received at t.
func dumpName(t time.Time, subType string) string {
	name := dumpNameReplacer.Replace(t.UTC().Format(dumpTimeLayout))
	subType = strings.NewReplacer("/", "_", "\\", "_").Replace(subType)
	if subType == "" {
		subType = "unknown"
	}
	return name + "_" + subType + ".json"
}

func (g *Gateway) dump(r *http.Request, body []byte, subType string) error {
	if g.payloadDir == "" {
		return errors.New("webhook: no payload dir configured")
	}
	path, err := fsutil.ConfineRelPath(g.payloadDir, dumpName(g.now(), subType))
	if err != nil {
		return fmt.Errorf("webhook: dump path: %w", err)
	}
	rec := payloadDump{
		Headers: r.Header.Clone(),
		Body:    json.RawMessage(body),
		Query:   r.URL.Query(),
		IP:      remoteIP(r),
	}
	if err := fsutil.WriteJSON(path, rec); err != nil {
		return err
	}
	g.logger.Debug().Str("event", "webhook.dumped").Str(log.FieldPath, path).Msg("payload dumped")
	return nil
}
