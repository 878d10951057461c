// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package logsink

import (
	"fmt"
	"time"
)

// Level is the operator-visible severity of a log line.
type Level string

const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
	LevelDebug   Level = "DEBUG"
	LevelFatal   Level = "FATAL"
	LevelSuccess Level = "SUCCESS"
)

// Line is a single persisted log record. It is also the wire shape of
// the .jsonline file and of broadcast batches.
type Line struct {
	Module   string         `json:"module"`
	Time     int64          `json:"time"` // unix milliseconds
	Level    Level          `json:"level"`
	Text     string         `json:"text"`
	PID      int            `json:"pid,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const (
	dayLayout  = "2006-01-02"
	textLayout = "2006-01-02 15:04:05.000"
)

// formatText renders the human-readable line written to <day>.log.
func formatText(t time.Time, pid int, module string, level Level, text string) string {
	return fmt.Sprintf("%s %d | %s <%s> %s\n", t.Format(textLayout), pid, module, level, text)
}
