// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Command archiverd is the long-running service entry point: it loads
// configuration, wires every component by explicit constructor injection
// (spec.md §9 "no package-level globals"), runs startup diagnostics, and
// blocks serving the scheduled jobs until an interrupt signal arrives.
// Follows the cmd/daemon/main.go startup sequence: flag
// parsing, signal.NotifyContext, logger configure-then-reconfigure,
// fail-fast pre-flight checks, then a long-running blocking run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamvault/douyu-archiver/internal/bilibili"
	"github.com/streamvault/douyu-archiver/internal/config"
	"github.com/streamvault/douyu-archiver/internal/coordinator"
	"github.com/streamvault/douyu-archiver/internal/diag"
	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/metadata"
	"github.com/streamvault/douyu-archiver/internal/monitor"
	"github.com/streamvault/douyu-archiver/internal/pipeline"
	"github.com/streamvault/douyu-archiver/internal/ports"
	"github.com/streamvault/douyu-archiver/internal/recorder"
	"github.com/streamvault/douyu-archiver/internal/resolver"
	"github.com/streamvault/douyu-archiver/internal/scheduler"
	"github.com/streamvault/douyu-archiver/internal/store"
	"github.com/streamvault/douyu-archiver/internal/subtitle"
	"github.com/streamvault/douyu-archiver/internal/uploader"
)

var (
	version = "dev"
	commit  = "none"
)

// newTranscoderFactory returns the per-segment ports.Transcoder constructor
// required by coordinator.New: a process cannot be reused across segments,
// so each call must build a fresh *recorder.FFmpegTranscoder.
func newTranscoderFactory(binPath string) func() ports.Transcoder {
	return func() ports.Transcoder { return recorder.NewFFmpegTranscoder(binPath) }
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "config.yaml", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("archiverd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Configure the logger with safe defaults before the config file is
	// loaded, then reconfigure once the real log level is known.
	log.Configure(log.Config{Level: "info", Service: "douyu-archiver"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder, err := config.NewHolder(config.NewLoader(*configPath))
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}
	defer func() { _ = holder.Close() }()

	cfg := holder.Snapshot()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "douyu-archiver"})
	logger = log.WithComponent("main")
	logger.Info().Str("config_path", *configPath).Int("streamers", len(cfg.Streamers)).Msg("configuration loaded")

	st, err := store.Open(cfg.Paths.DatabasePath, store.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session/upload store")
	}
	defer func() { _ = st.Close() }()

	// Startup diagnostics never abort the process (spec.md §7 "a manual
	// trigger can surface it as an informational payload"); they are
	// logged so an operator sees the full picture at boot.
	for _, r := range diag.Check(diag.Config{
		TranscoderBinPath: cfg.Transcoder.BinaryPath,
		ProcessingDir:     cfg.Paths.ProcessingDir,
		StagingDir:        cfg.Paths.UploadDir,
		DatabasePath:      cfg.Paths.DatabasePath,
	}) {
		ev := logger.Info()
		if !r.OK {
			ev = logger.Warn()
		}
		ev.Str("check", r.Name).Bool("ok", r.OK).Str("err", r.Err).Msg("startup diagnostic")
	}

	materialCache, err := resolver.NewBadgerCache(cfg.BadgerDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open resolver material cache")
	}
	defer func() { _ = materialCache.Close() }()

	res := resolver.New(resolver.WithCache(materialCache))
	transcoderFactory := newTranscoderFactory(cfg.Transcoder.BinaryPath)

	monitors := make(map[string]*monitor.Monitor, len(cfg.Streamers))
	coordinators := make(map[string]*coordinator.Coordinator, len(cfg.Streamers))
	streamerConfigs := make([]scheduler.StreamerConfig, 0, len(cfg.Streamers))

	for _, s := range cfg.Streamers {
		mon := monitor.New(cfg.StatusURL(s.Room), s.Room)
		monitors[s.Name] = mon

		coordinators[s.Name] = coordinator.New(coordinator.Config{
			StreamerName:   s.Name,
			RoomID:         s.Room,
			ProcessingDir:  cfg.Paths.ProcessingDir,
			SegmentSeconds: int(cfg.SegmentDuration().Seconds()),
			ChatWSURL:      cfg.Chat.WSURL,
			Heartbeat:      cfg.HeartbeatInterval(),
			ReconnectDelay: cfg.ReconnectDelay(),
			ReconnectMax:   cfg.ReconnectMax(),
		}, mon, res, transcoderFactory)

		streamerConfigs = append(streamerConfigs, scheduler.StreamerConfig{
			Name:                  s.Name,
			StatusCheckInterval:   cfg.StatusCheckInterval(),
			ProcessAfterStreamEnd: cfg.Schedule.ProcessOnlyAfterStreamEnd,
			StartTimeAdjust:       cfg.StartTimeAdjust(),
		})
	}

	metaCfg, err := metadata.Load(cfg.Upload.MetadataPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load submission metadata")
	}

	// Skipping encoding means no danmaku subtitle track is embedded into the
	// published file, so the title must reflect the no-danmaku variant (see
	// DESIGN.md, Open Question: title-suffix selection).
	titleSuffix := cfg.Upload.DanmakuTitleSuffix
	if cfg.Transcoder.SkipEncoding {
		titleSuffix = cfg.Upload.NoDanmakuTitleSuffix
	}

	biliClient := bilibili.New(cfg.Upload.BiliCookie, cfg.Upload.BiliCSRF)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() { _ = redisClient.Close() }()
	lock := uploader.NewLock(redisClient, "douyu-archiver:upload-lock", time.Minute)

	uploadTask := uploader.New(uploader.Config{
		StagingDir:        cfg.Paths.UploadDir,
		BufferMinutes:     cfg.Upload.SessionBufferMinutes,
		DeleteAfterUpload: cfg.Upload.DeleteAfterUpload,
		Metadata:          metaCfg,
		TitleSuffix:       titleSuffix,
	}, st, biliClient, lock)

	pipelineStage := &pipeline.Stage{
		ProcessingDir: cfg.Paths.ProcessingDir,
		Converter:     subtitle.New("", cfg.Subtitle.FontSize, cfg.Subtitle.SCFontSize, cfg.Subtitle.ResX, cfg.Subtitle.ResY),
	}

	sched, err := scheduler.New(
		scheduler.Config{Streamers: streamerConfigs, VideoPipelineInterval: cfg.ProcessingInterval()},
		st, uploadTask, pipelineStage.Run, monitors, coordinators,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build scheduler")
	}

	for name, co := range coordinators {
		streamerName, coRef := name, co
		go func() {
			logger.Info().Str("streamer", streamerName).Msg("starting coordinator")
			coRef.Run(ctx)
			logger.Info().Str("streamer", streamerName).Msg("coordinator stopped")
		}()
	}

	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	logger.Info().Msg("archiverd started")
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	if err := sched.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("scheduler shutdown failed")
	}
	for _, co := range coordinators {
		co.Stop()
	}
	logger.Info().Msg("archiverd exited")
}
