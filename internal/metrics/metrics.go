// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics collection for the core
// subsystems. Exposition is provided via Handler() but this module does not
// mount an HTTP server itself — the HTTP API surface that would serve it is
// an out-of-scope external collaborator (spec.md §1).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// C1 chat-frame codec
	MalformedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_chat_malformed_frames_total",
		Help: "Chat frames skipped for failing to parse, by streamer.",
	}, []string{"streamer"})

	// C5 chat collector
	ChatReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_chat_reconnects_total",
		Help: "Chat collector reconnect attempts, by streamer and outcome.",
	}, []string{"streamer", "outcome"}) // outcome=success|exhausted

	ChatMessagesByType = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_chat_messages_total",
		Help: "Inbound chat payloads observed, by streamer and payload type.",
	}, []string{"streamer", "type"})

	// C6 status monitor
	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_status_transitions_total",
		Help: "Live/offline transitions detected, by streamer and direction.",
	}, []string{"streamer", "direction"}) // direction=live|offline

	StatusCheckErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_status_check_errors_total",
		Help: "Status-check API errors (unknown status), by streamer.",
	}, []string{"streamer"})

	// C7 segment coordinator
	SegmentsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_segments_completed_total",
		Help: "Segments that produced a visible pair of artifacts, by streamer.",
	}, []string{"streamer"})

	SegmentsAbandonedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_segments_abandoned_total",
		Help: "Segments left as .part files due to failure, by streamer.",
	}, []string{"streamer"})

	ResolveFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_resolve_failures_total",
		Help: "Stream URL resolution failures exhausting retries, by streamer.",
	}, []string{"streamer"})

	// C9 upload state machine
	UploadBucketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_upload_buckets_total",
		Help: "Session buckets processed by the upload task, by classification.",
	}, []string{"state"}) // state=ready_append|pending_bvid|new_upload|orphan

	UploadCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_upload_calls_total",
		Help: "Upload-client calls, by kind and outcome.",
	}, []string{"kind", "outcome"}) // kind=new|append|feed

	// C10 scheduler
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_job_runs_total",
		Help: "Scheduled job executions, by job id and outcome.",
	}, []string{"job", "outcome"})

	JobSkippedNonReentrant = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archiver_job_skipped_nonreentrant_total",
		Help: "Scheduled job ticks skipped because a prior run was still in flight.",
	}, []string{"job"})
)

// Handler returns the Prometheus exposition handler for the default
// registry. Callers in the (out-of-scope) HTTP layer may mount it.
func Handler() http.Handler {
	return promhttp.Handler()
}
