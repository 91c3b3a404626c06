// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package recorder implements C4: it launches the external transcoder as a
// supervised child process in byte-copy mode with a hard duration cap,
// following the internal/pipeline/exec/ffmpeg.Runner shape.
package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/streamvault/douyu-archiver/internal/classify"
	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/ports"
)

const defaultKillGrace = 10 * time.Second // spec.md §4.4 "wait up to 10 seconds; then force-kill"

// FFmpegTranscoder implements ports.Transcoder by shelling out to an
// ffmpeg-compatible binary in byte-copy (remux) mode.
type FFmpegTranscoder struct {
	BinPath   string
	KillGrace time.Duration

	// argsBuilder constructs the child process argument list from a spec.
	// Defaults to buildArgs; overridden in tests to exercise process
	// supervision without depending on a real ffmpeg binary.
	argsBuilder func(ports.TranscodeSpec) []string

	mu   sync.Mutex
	cmd  *exec.Cmd
	ring *lineRing
}

// NewFFmpegTranscoder creates a transcoder invoking binPath (defaults to
// "ffmpeg" if empty).
func NewFFmpegTranscoder(binPath string) *FFmpegTranscoder {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &FFmpegTranscoder{
		BinPath:     binPath,
		KillGrace:   defaultKillGrace,
		argsBuilder: buildArgs,
		ring:        newLineRing(256),
	}
}

// Run launches the transcoder and blocks until it exits, ctx is cancelled,
// or the duration cap elapses (spec.md §4.4). A nonzero exit code is
// returned without error; C7 decides what it means.
func (t *FFmpegTranscoder) Run(ctx context.Context, spec ports.TranscodeSpec) (int, error) {
	if !strings.HasSuffix(spec.OutPath, ".part") {
		return 0, fmt.Errorf("%w: recorder output path must end in .part, got %q", classify.ErrFatal, spec.OutPath)
	}

	logger := log.WithComponent("recorder")
	args := t.argsBuilder(spec)

	t.mu.Lock()
	cmd := exec.CommandContext(ctx, t.BinPath, args...) // #nosec G204 -- args are built internally, not from user input
	setProcessGroup(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: capture stderr: %v", classify.ErrFatal, err)
	}
	t.cmd = cmd
	t.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = t.ring.Write(scanner.Bytes())
			_, _ = t.ring.Write([]byte("\n"))
		}
	}()

	logger.Info().Str("out_path", spec.OutPath).Int("duration_seconds", spec.DurationSeconds).Msg("starting transcoder")
	if err := cmd.Start(); err != nil {
		wg.Wait()
		return 0, fmt.Errorf("%w: transcoder start: %v", classify.ErrTransient, err)
	}

	waitErr := cmd.Wait()
	wg.Wait()

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return 0, fmt.Errorf("%w: transcoder wait: %v", classify.ErrTransient, waitErr)
		}
	}
	if code != 0 {
		logger.Warn().Int("exit_code", code).Strs("stderr_tail", t.ring.LastN(20)).Msg("transcoder exited nonzero")
	}
	return code, nil
}

// Stop sends a graceful terminate signal, then force-kills after KillGrace
// if the process has not exited (spec.md §4.4). Safe to call even if the
// process has already exited or was never started.
func (t *FFmpegTranscoder) Stop(ctx context.Context) error {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := terminate(cmd); err != nil {
		return nil
	}

	grace := t.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		_ = kill(cmd)
		return nil
	case <-ctx.Done():
		_ = kill(cmd)
		return nil
	}
}

// StderrTail returns the last n lines of captured standard error.
func (t *FFmpegTranscoder) StderrTail(n int) []string {
	return t.ring.LastN(n)
}

func buildArgs(spec ports.TranscodeSpec) []string {
	args := []string{"-y", "-loglevel", "warning"}
	if len(spec.Headers) > 0 {
		args = append(args, "-headers", joinHeaders(spec.Headers))
	}
	args = append(args, "-i", spec.URL,
		"-c", "copy",
		"-t", strconv.Itoa(spec.DurationSeconds),
		"-f", "flv",
		spec.OutPath,
	)
	return args
}

func joinHeaders(headers map[string]string) string {
	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	return b.String()
}

func terminate(cmd *exec.Cmd) error {
	return signalProcess(cmd, syscall.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	return signalProcess(cmd, syscall.SIGKILL)
}

func signalProcess(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EINVAL) {
			return nil
		}
		return err
	}
	return nil
}
