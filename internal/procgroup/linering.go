// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"strings"
	"sync"
)

// LineRing keeps the last N lines written to it. It is used as cmd.Stderr
// so failures can be reported with the tool's own diagnostics.
type LineRing struct {
	mu      sync.Mutex
	lines   []string
	head    int
	count   int
	partial string
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Write implements io.Writer. Partial lines are held until their newline arrives.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.partial + string(p)
	parts := strings.Split(s, "\n")
	r.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		r.push(line)
	}
	return len(p), nil
}

func (r *LineRing) push(line string) {
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Lines returns the retained lines in chronological order, including a trailing partial line.
func (r *LineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, r.count+1)
	start := (r.head - r.count + len(r.lines)) % len(r.lines)
	for i := 0; i < r.count; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	if r.partial != "" {
		out = append(out, r.partial)
	}
	return out
}

// String joins the retained lines.
func (r *LineRing) String() string {
	return strings.Join(r.Lines(), "\n")
}
