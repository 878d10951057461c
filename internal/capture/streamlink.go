// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/procgroup"
	"github.com/rs/zerolog"
)

const tsPacketSize = 188

// Streamlink implements Tool by piping `streamlink --stdout` through a segmenter.
type Streamlink struct {
	Bin           string
	SegmentLength time.Duration
	StopGrace     time.Duration
	logger        zerolog.Logger
}

// NewStreamlink returns a Tool using bin ("" means look up "streamlink" in PATH).
func NewStreamlink(bin string, segmentLength, stopGrace time.Duration) *Streamlink {
	if bin == "" {
		bin = "streamlink"
	}
	if segmentLength <= 0 {
		segmentLength = 30 * time.Second
	}
	if stopGrace <= 0 {
		stopGrace = 10 * time.Second
	}
	return &Streamlink{
		Bin:           bin,
		SegmentLength: segmentLength,
		StopGrace:     stopGrace,
		logger:        log.WithComponent("capture"),
	}
}

// Start launches the tool. Cancelling ctx stops the session.
func (s *Streamlink) Start(ctx context.Context, req Request) (Session, error) {
	if err := os.MkdirAll(req.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("capture: create dir: %w", err)
	}
	quality := strings.Join(req.Quality, ",")
	if quality == "" {
		quality = "best"
	}

	args := []string{
		"--stdout",
		"--loglevel", "info",
		"--twitch-disable-ads",
		req.URL,
		quality,
	}
	// #nosec G204 -- binary is operator-configured; url comes from channel config
	cmd := exec.Command(s.Bin, args...)

	// A pipe we own, so cmd.Wait does not close the read side under the segmenter.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("capture: pipe: %w", err)
	}
	stderr := procgroup.NewLineRing(50)
	cmd.Stdout = pw
	cmd.Stderr = stderr

	proc, err := procgroup.Start(cmd)
	_ = pw.Close()
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("%w: %v", ErrToolFailed, err)
	}

	sess := &session{
		proc:   proc,
		grace:  s.StopGrace,
		stderr: stderr,
		segs:   make(chan Segment, 16),
		done:   make(chan struct{}),
		logger: s.logger.With().Str(log.FieldBasename, req.Basename).Int(log.FieldPID, proc.Pid()).Logger(),
	}
	seg := &segmenter{
		dir:      req.Dir,
		basename: req.Basename,
		length:   s.SegmentLength,
		out:      sess.segs,
		now:      time.Now,
	}

	sess.logger.Info().
		Str("event", "capture.started").
		Str("url", req.URL).
		Str("quality", quality).
		Msg("capture tool started")

	go sess.run(pr, seg)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Stop()
		case <-sess.done:
		}
	}()
	return sess, nil
}

type session struct {
	proc    *procgroup.Process
	grace   time.Duration
	stderr  *procgroup.LineRing
	segs    chan Segment
	done    chan struct{}
	stopped atomic.Bool
	err     error
	logger  zerolog.Logger
}

func (s *session) Segments() <-chan Segment { return s.segs }

func (s *session) Stop() error {
	s.stopped.Store(true)
	return s.proc.Stop(s.grace)
}

func (s *session) Wait() error {
	<-s.done
	return s.err
}

func (s *session) run(r io.ReadCloser, seg *segmenter) {
	defer close(s.done)

	copyErr := seg.consume(r)
	_ = r.Close()
	close(s.segs)

	exitErr := s.proc.Wait()
	switch {
	case copyErr != nil:
		s.err = fmt.Errorf("capture: write segment: %w", copyErr)
	case exitErr != nil && !s.stopped.Load():
		s.err = fmt.Errorf("%w: %v: %s", ErrToolFailed, exitErr, s.stderr.String())
	}

	ev := s.logger.Info()
	if s.err != nil {
		ev = s.logger.Error().Err(s.err)
	}
	ev.Str("event", "capture.exited").
		Bool("stopped", s.stopped.Load()).
		Int("segments", seg.index).
		Msg("capture tool exited")
}

// segmenter writes packet-aligned chunks into rotating files.
type segmenter struct {
	dir      string
	basename string
	length   time.Duration
	out      chan<- Segment
	now      func() time.Time

	mu      sync.Mutex
	cur     *os.File
	curPath string
	curSize int64
	started time.Time
	index   int
}

func (g *segmenter) consume(r io.Reader) error {
	buf := make([]byte, 64*1024)
	var carry []byte
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			aligned := len(data) - len(data)%tsPacketSize
			if aligned > 0 {
				if err := g.write(data[:aligned]); err != nil {
					_ = g.finish()
					return err
				}
			}
			carry = append([]byte(nil), data[aligned:]...)
		}
		if rerr != nil {
			if len(carry) > 0 {
				if err := g.write(carry); err != nil {
					_ = g.finish()
					return err
				}
			}
			if err := g.finish(); err != nil {
				return err
			}
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, os.ErrClosed) {
				return nil
			}
			return rerr
		}
	}
}

func (g *segmenter) write(p []byte) error {
	if g.cur != nil && g.now().Sub(g.started) >= g.length {
		if err := g.finish(); err != nil {
			return err
		}
	}
	if g.cur == nil {
		g.index++
		g.curPath = filepath.Join(g.dir, fmt.Sprintf("%s_%05d.ts", g.basename, g.index))
		// #nosec G304 -- path is built from the vod dir and basename
		f, err := os.OpenFile(g.curPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
		if err != nil {
			return err
		}
		g.cur = f
		g.curSize = 0
		g.started = g.now()
	}
	n, err := g.cur.Write(p)
	g.curSize += int64(n)
	return err
}

func (g *segmenter) finish() error {
	if g.cur == nil {
		return nil
	}
	err := g.cur.Close()
	g.cur = nil
	g.out <- Segment{Path: g.curPath, Size: g.curSize, Duration: g.now().Sub(g.started)}
	return err
}
