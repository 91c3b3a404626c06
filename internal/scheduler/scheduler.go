// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package scheduler implements the three periodic jobs plus one-shot jobs
// (C10) described in spec.md §4.10, using the
// internal/controller/knowledge gocron.Scheduler wiring style (job creation via
// gocron.NewJob, teardown via Shutdown).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/streamvault/douyu-archiver/internal/coordinator"
	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/metrics"
	"github.com/streamvault/douyu-archiver/internal/monitor"
	"github.com/streamvault/douyu-archiver/internal/store"
	"github.com/streamvault/douyu-archiver/internal/uploader"
)

const (
	defaultStatusCheckInterval   = 10 * time.Minute
	defaultVideoPipelineInterval = 60 * time.Minute
	staleSessionCleanupInterval  = 12 * time.Hour
	staleSessionCutoff           = 24 * time.Hour
	processAfterEndDelay         = 3 * time.Minute // spec.md §4.10 "schedule a one-shot pipeline run in +3 min"
)

// StreamerConfig configures one streamer's scheduled jobs.
type StreamerConfig struct {
	Name                  string
	StatusCheckInterval   time.Duration // default defaultStatusCheckInterval
	ProcessAfterStreamEnd bool
	StartTimeAdjust       time.Duration // spec.md §6 "start-time adjustment (minutes)"
}

// VideoPipelineFunc runs the external downstream processing stage (outside
// this module's scope, per spec.md §1) ahead of the upload task.
type VideoPipelineFunc func(ctx context.Context) error

// Config configures the Scheduler.
type Config struct {
	Streamers             []StreamerConfig
	VideoPipelineInterval time.Duration // default defaultVideoPipelineInterval
}

// Scheduler owns the gocron.Scheduler and the per-job non-reentrancy guards
// (spec.md §4.10 "supports non-reentrant execution per job id").
type Scheduler struct {
	cfg      Config
	cron     gocron.Scheduler
	store    *store.Store
	upload   *uploader.Task
	pipeline VideoPipelineFunc

	monitors     map[string]*monitor.Monitor
	coordinators map[string]*coordinator.Coordinator

	mu      sync.Mutex
	running map[string]bool
}

// New creates a Scheduler. monitors/coordinators must contain one entry per
// configured streamer, keyed by streamer name, constructed by the caller
// (spec.md §9 "explicit constructor injection in main").
func New(
	cfg Config,
	st *store.Store,
	upload *uploader.Task,
	pipeline VideoPipelineFunc,
	monitors map[string]*monitor.Monitor,
	coordinators map[string]*coordinator.Coordinator,
) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}
	return &Scheduler{
		cfg:          cfg,
		cron:         cron,
		store:        st,
		upload:       upload,
		pipeline:     pipeline,
		monitors:     monitors,
		coordinators: coordinators,
		running:      make(map[string]bool),
	}, nil
}

// Start initializes every configured streamer's monitor before scheduling
// its status job (spec.md §4.10 "On startup each configured streamer's
// monitor is initialized before its status job is scheduled"), schedules
// the video-pipeline and stale-session-cleanup jobs, then starts the cron.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, sc := range s.cfg.Streamers {
		mon, ok := s.monitors[sc.Name]
		if !ok {
			return fmt.Errorf("scheduler: no monitor configured for streamer %q", sc.Name)
		}
		mon.Initialize(ctx)

		interval := sc.StatusCheckInterval
		if interval <= 0 {
			interval = defaultStatusCheckInterval
		}

		streamer := sc
		_, err := s.cron.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() { s.runStatusCheck(ctx, streamer) }),
			gocron.WithName("status-check:"+streamer.Name),
		)
		if err != nil {
			return fmt.Errorf("scheduler: schedule status-check for %q: %w", streamer.Name, err)
		}
	}

	pipelineInterval := s.cfg.VideoPipelineInterval
	if pipelineInterval <= 0 {
		pipelineInterval = defaultVideoPipelineInterval
	}
	if _, err := s.cron.NewJob(
		gocron.DurationJob(pipelineInterval),
		gocron.NewTask(func() { s.runVideoPipeline(ctx) }),
		gocron.WithName("video-pipeline"),
	); err != nil {
		return fmt.Errorf("scheduler: schedule video-pipeline: %w", err)
	}

	if _, err := s.cron.NewJob(
		gocron.DurationJob(staleSessionCleanupInterval),
		gocron.NewTask(func() { s.runStaleSessionCleanup(ctx) }),
		gocron.WithName("stale-session-cleanup"),
	); err != nil {
		return fmt.Errorf("scheduler: schedule stale-session-cleanup: %w", err)
	}

	s.cron.Start()
	return nil
}

// Shutdown stops the cron scheduler, waiting for in-flight job runs.
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}

// runExclusive skips a tick rather than running it concurrently with a
// still-in-flight prior run of the same job id (spec.md §4.10 "non-reentrant
// execution per job id; a missed tick may be coalesced").
func (s *Scheduler) runExclusive(jobID string, fn func()) {
	s.mu.Lock()
	if s.running[jobID] {
		s.mu.Unlock()
		metrics.JobSkippedNonReentrant.WithLabelValues(jobID).Inc()
		return
	}
	s.running[jobID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[jobID] = false
		s.mu.Unlock()
	}()

	fn()
}

// runStatusCheck implements the status-check job (spec.md §4.10 "C6.detect_change;
// if live→offline and 'process after stream end' is enabled, schedule a
// one-shot pipeline run in +3 min").
func (s *Scheduler) runStatusCheck(ctx context.Context, sc StreamerConfig) {
	jobID := "status-check:" + sc.Name
	s.runExclusive(jobID, func() {
		logger := log.WithStreamer("scheduler", sc.Name)

		mon, ok := s.monitors[sc.Name]
		if !ok {
			logger.Error().Msg("no monitor configured")
			metrics.JobRunsTotal.WithLabelValues(jobID, "error").Inc()
			return
		}

		tr := mon.DetectChange(ctx)
		if tr == nil {
			metrics.JobRunsTotal.WithLabelValues(jobID, "ok").Inc()
			return
		}

		logger.Info().Bool("prev", tr.Prev).Bool("curr", tr.Curr).Msg("status transition detected")

		if tr.Curr {
			s.openSessionIfNeeded(ctx, logger, sc)
			if co, ok := s.coordinators[sc.Name]; ok {
				co.NotifyLive()
			}
		}

		if tr.Prev && !tr.Curr {
			s.closeOpenSession(ctx, logger, sc.Name)
			if sc.ProcessAfterStreamEnd {
				s.scheduleOneShotPipeline(ctx, logger)
			}
		}

		metrics.JobRunsTotal.WithLabelValues(jobID, "ok").Inc()
	})
}

// openSessionIfNeeded opens a new session for sc, backdated by its
// configured start-time adjustment, unless one is already open — the
// latter can happen if a prior process restart missed the close (spec.md
// §4.2 "Session", test scenario 2 "start = t0+10min − 10min").
func (s *Scheduler) openSessionIfNeeded(ctx context.Context, logger zerolog.Logger, sc StreamerConfig) {
	existing, err := s.store.LatestOpenSession(ctx, sc.Name)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check for an already-open session")
		return
	}
	if existing != nil {
		return
	}

	start := time.Now().Add(-sc.StartTimeAdjust)
	if _, err := s.store.OpenSession(ctx, sc.Name, start); err != nil {
		logger.Error().Err(err).Msg("failed to open session for newly-live streamer")
	}
}

// closeOpenSession closes streamer's currently-open session, if any.
func (s *Scheduler) closeOpenSession(ctx context.Context, logger zerolog.Logger, streamer string) {
	existing, err := s.store.LatestOpenSession(ctx, streamer)
	if err != nil {
		logger.Error().Err(err).Msg("failed to look up open session to close")
		return
	}
	if existing == nil {
		return
	}
	if err := s.store.CloseSession(ctx, existing.ID, time.Now()); err != nil {
		logger.Error().Err(err).Msg("failed to close session for now-offline streamer")
	}
}

// scheduleOneShotPipeline schedules a single run of the video-pipeline job
// processAfterEndDelay from now (spec.md §4.10 "+3 min").
func (s *Scheduler) scheduleOneShotPipeline(ctx context.Context, logger zerolog.Logger) {
	runAt := time.Now().Add(processAfterEndDelay)
	_, err := s.cron.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(runAt)),
		gocron.NewTask(func() { s.runVideoPipeline(ctx) }),
		gocron.WithName(fmt.Sprintf("video-pipeline-oneshot:%d", runAt.UnixNano())),
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to schedule post-stream-end pipeline run")
	}
}

// runVideoPipeline implements the video-pipeline job: external processing
// stage, then the upload task (spec.md §4.10 "external processing stage
// then C9").
func (s *Scheduler) runVideoPipeline(ctx context.Context) {
	const jobID = "video-pipeline"
	s.runExclusive(jobID, func() {
		logger := log.WithComponent("scheduler")

		if s.pipeline != nil {
			if err := s.pipeline(ctx); err != nil {
				logger.Error().Err(err).Msg("video pipeline stage failed")
				metrics.JobRunsTotal.WithLabelValues(jobID, "error").Inc()
				return
			}
		}

		if err := s.upload.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("upload task failed")
			metrics.JobRunsTotal.WithLabelValues(jobID, "error").Inc()
			return
		}

		metrics.JobRunsTotal.WithLabelValues(jobID, "ok").Inc()
	})
}

// runStaleSessionCleanup implements the stale-session-cleanup job
// (spec.md §4.10 "C8.closeStaleSessions").
func (s *Scheduler) runStaleSessionCleanup(ctx context.Context) {
	const jobID = "stale-session-cleanup"
	s.runExclusive(jobID, func() {
		logger := log.WithComponent("scheduler")

		n, err := s.store.CloseStaleSessions(ctx, staleSessionCutoff)
		if err != nil {
			logger.Error().Err(err).Msg("stale session cleanup failed")
			metrics.JobRunsTotal.WithLabelValues(jobID, "error").Inc()
			return
		}

		logger.Info().Int64("closed", n).Msg("closed stale sessions")
		metrics.JobRunsTotal.WithLabelValues(jobID, "ok").Inc()
	})
}
