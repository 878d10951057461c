// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/ManuGH/lsdvr/internal/daemon"
	"github.com/ManuGH/lsdvr/internal/health"
	lslog "github.com/ManuGH/lsdvr/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	lslog.Configure(lslog.Config{Level: "info", Service: "lsdvr", Version: version})
	logger := lslog.WithComponent("daemon")

	ctx, stop := daemon.SignalContext(context.Background())
	defer stop()

	// Explicit --config wins, otherwise ${LSDVR_DATA}/config.yaml when present.
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		effectiveConfigPath = resolveDefaultConfigPath()
	}

	cfg, err := config.NewLoader(effectiveConfigPath, version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	lslog.Configure(lslog.Config{Level: cfg.LogLevel, Service: "lsdvr", Version: cfg.Version})

	source := "env+defaults"
	switch {
	case explicitConfigPath != "":
		source = "file"
	case effectiveConfigPath != "":
		source = "file(auto)"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", effectiveConfigPath).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.API.ListenAddr).
		Int("channels", len(cfg.Channels)).
		Msg("starting lsdvr")
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Subscription store: %s", cfg.Store.Backend)
	if cfg.Notify.NtfyTopic != "" {
		logger.Info().Msg("→ Push notifications: ntfy")
	}

	rt, err := daemon.Build(ctx, cfg, daemon.Overrides{})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.build_failed").
			Msg("failed to wire daemon")
	}

	holderPath := effectiveConfigPath
	if holderPath == "" {
		holderPath = filepath.Join(cfg.DataDir, "config.yaml")
	}
	cfgHolder := config.NewConfigHolder(cfg, config.NewLoader(holderPath, version), holderPath)

	app := daemon.NewApp(logger, rt, cfgHolder)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}

func resolveDefaultConfigPath() string {
	dataDir := strings.TrimSpace(os.Getenv(config.EnvPrefix + "DATA"))
	if dataDir == "" {
		dataDir = config.Defaults().DataDir
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}
