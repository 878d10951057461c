// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/procgroup"
	"github.com/rs/zerolog"
)

// FFmpeg implements Tool with the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	FFmpegBin  string
	FFprobeBin string
	Grace      time.Duration
	logger     zerolog.Logger
}

// NewFFmpeg returns a Tool using the given binaries ("" means look up in PATH).
func NewFFmpeg(ffmpegBin, ffprobeBin string) *FFmpeg {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpeg{
		FFmpegBin:  ffmpegBin,
		FFprobeBin: ffprobeBin,
		Grace:      5 * time.Second,
		logger:     log.WithComponent("media"),
	}
}

type probeData struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
		Channels     int    `json:"channels,omitempty"`
		SampleRate   string `json:"sample_rate,omitempty"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// Probe runs ffprobe and maps its JSON into Info.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	// #nosec G204 -- binary is operator-configured; args are fixed and path is opaque
	cmd := exec.Command(f.FFprobeBin, args...)
	var stdout bytes.Buffer
	stderr := procgroup.NewLineRing(20)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	runErr := procgroup.Run(ctx, cmd, f.Grace)

	var data probeData
	jsonErr := json.Unmarshal(stdout.Bytes(), &data)
	info, ok := mapProbe(data)

	switch {
	case jsonErr == nil && ok:
		if runErr != nil {
			// Partial files often exit non-zero while still producing usable JSON.
			f.logger.Warn().
				Err(runErr).
				Str(log.FieldPath, path).
				Str("stderr", stderr.String()).
				Msg("ffprobe non-zero exit but JSON accepted")
		}
		return info, nil
	case runErr != nil:
		return Info{}, fmt.Errorf("%w: %v (stderr: %s)", ErrProbeFailed, runErr, stderr.String())
	case jsonErr != nil:
		return Info{}, fmt.Errorf("%w: json decode: %v", ErrProbeFailed, jsonErr)
	default:
		return Info{}, fmt.Errorf("%w: no playable streams", ErrProbeFailed)
	}
}

func mapProbe(data probeData) (Info, bool) {
	var info Info
	info.General.Format = canonicalFormat(data.Format.FormatName)
	info.General.Duration, _ = strconv.ParseFloat(data.Format.Duration, 64)
	info.General.Size, _ = strconv.ParseInt(data.Format.Size, 10, 64)
	info.General.BitRate, _ = strconv.ParseInt(data.Format.BitRate, 10, 64)

	for _, s := range data.Streams {
		if s.CodecName == "" {
			continue
		}
		switch s.CodecType {
		case "video":
			if info.Video == nil {
				info.Video = &Video{Codec: s.CodecName, Width: s.Width, Height: s.Height, FPS: parseRate(s.AvgFrameRate)}
			}
		case "audio":
			if info.Audio == nil {
				sr, _ := strconv.Atoi(s.SampleRate)
				info.Audio = &Audio{Codec: s.CodecName, Channels: s.Channels, SampleRate: sr}
			}
		}
	}
	return info, info.General.Format != "" && (info.Video != nil || info.Audio != nil)
}

// canonicalFormat picks one token of ffprobe's comma list, preferring ts for mpegts.
func canonicalFormat(name string) string {
	canonical := ""
	for _, p := range strings.Split(name, ",") {
		t := strings.TrimSpace(p)
		if t == "mpegts" {
			return "ts"
		}
		if canonical == "" && t != "" {
			canonical = t
		}
	}
	return canonical
}

func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		v, _ := strconv.ParseFloat(r, 64)
		return v
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d == 0 {
		return 0
	}
	return n / d
}

// Remux concatenates inputs into output without re-encoding.
func (f *FFmpeg) Remux(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no input segments", ErrRemuxFailed)
	}

	listPath := output + ".concat.txt"
	var list strings.Builder
	for _, in := range inputs {
		// concat demuxer quoting: single quotes, embedded quotes escaped
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(in, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o640); err != nil {
		return fmt.Errorf("%w: write concat list: %v", ErrRemuxFailed, err)
	}
	defer func() { _ = os.Remove(listPath) }()

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-map", "0",
		"-movflags", "+faststart",
		output,
	}
	// #nosec G204 -- binary is operator-configured; args are fixed
	cmd := exec.Command(f.FFmpegBin, args...)
	stderr := procgroup.NewLineRing(50)
	cmd.Stderr = stderr

	started := time.Now()
	if err := procgroup.Run(ctx, cmd, f.Grace); err != nil {
		return fmt.Errorf("%w: %v (stderr: %s)", ErrRemuxFailed, err, stderr.String())
	}
	f.logger.Info().
		Str("event", "media.remux_done").
		Str(log.FieldPath, output).
		Int("segments", len(inputs)).
		Dur("took", time.Since(started)).
		Msg("remux finished")
	return nil
}
