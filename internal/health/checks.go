// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/ManuGH/lsdvr/internal/log"
)

// DirChecker requires a writable directory.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker checks path under the given component name.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy}
}

// FuncChecker adapts a probe function. A returned error is reported with
// the configured failure status.
type FuncChecker struct {
	name      string
	onFailure Status
	probe     func(ctx context.Context) error
}

// NewFuncChecker builds a checker around probe.
func NewFuncChecker(name string, onFailure Status, probe func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, onFailure: onFailure, probe: probe}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	if err := c.probe(ctx); err != nil {
		return CheckResult{Status: c.onFailure, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// BinaryChecker reports a missing external tool as degraded.
type BinaryChecker struct {
	name string
	bin  string
}

// NewBinaryChecker looks bin up on PATH.
func NewBinaryChecker(name, bin string) *BinaryChecker {
	return &BinaryChecker{name: name, bin: bin}
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(context.Context) CheckResult {
	path, err := exec.LookPath(c.bin)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: path}
}

// PerformStartupChecks fails when the data dir is unusable. Missing tools only warn:
// captures fail individually and are surfaced on the VOD.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	if err := checkWritableDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	if cfg.EventSubSecret == "" {
		logger.Warn().Str("event", "startup.no_secret").Msg("no EventSub secret configured, every delivery will be rejected")
	}
	for _, bin := range []string{cfg.Capture.Bin, cfg.Media.FFmpegBin, cfg.Media.FFprobeBin} {
		if bin == "" {
			continue
		}
		if _, err := exec.LookPath(bin); err != nil {
			logger.Warn().Err(err).Str("event", "startup.missing_tool").Str("bin", bin).Msg("external tool not found")
		}
	}
	logger.Info().Str("event", "startup.checked").Str(log.FieldPath, cfg.DataDir).Msg("startup checks passed")
	return nil
}

func checkWritableDir(path string) error {
	if path == "" {
		return errors.New("not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}
	f, err := os.CreateTemp(path, ".write_test*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return nil
}
