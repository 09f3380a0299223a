// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// SpawnConfig configures how the child Codex process is invoked.
type SpawnConfig struct {
	// Bin is the codex binary, default "codex".
	Bin string
	// Profile is passed via --profile when non-empty.
	Profile string
	// RpcTimeout bounds every RpcClient request.
	RpcTimeout time.Duration
}

// Status is the snapshot returned by Supervisor.Status.
type Status struct {
	Pid           int
	RestartCount  int
	UptimeSeconds float64
	PendingRpc    int
	ActiveStreams int
	CircuitOpen   bool
}

// NotificationHandler processes a single decoded notification from the
// child. It is invoked from the stdout-reader actor and must not block
// for long.
type NotificationHandler func(n *Notification)

// CrashHandler is invoked once per child exit/spawn-failure, after
// pending RPCs have already been failed, so the caller can fail active
// streams. err encodes the diagnostic
// message.
type CrashHandler func(err error)

// ActiveStreamCounter reports how many streams are currently active,
// for Status(). Implemented by streambridge.Registry.
type ActiveStreamCounter interface {
	Count() int
}

// RestartCounter is notified once per child respawn. Implemented by a
// Prometheus counter without this package importing the metrics stack
// directly.
type RestartCounter interface {
	Inc()
}

// Supervisor owns the child process end to end: spawning, wiring it to
// a Codec and RpcClient, restarting on exit with bounded linear
// backoff, and fanning failure out to pending RPCs and active streams.
//
// # Thread Safety
//
// Safe for concurrent use once Start has been called.
type Supervisor struct {
	cfg        SpawnConfig
	onNotify   NotificationHandler
	onCrash    CrashHandler
	streamCtr  ActiveStreamCounter
	restartCtr RestartCounter

	mu        sync.Mutex
	cmd       *exec.Cmd
	client    *RpcClient
	startedAt time.Time
	restarts  int
	stopped   bool

	breaker *gobreaker.CircuitBreaker
}

// NewSupervisor builds a Supervisor. onNotify receives every decoded
// notification; onCrash is called after a child exit or spawn failure
// once pending RPCs have been failed. restartCtr may be nil.
func NewSupervisor(cfg SpawnConfig, onNotify NotificationHandler, onCrash CrashHandler, streamCtr ActiveStreamCounter, restartCtr RestartCounter) *Supervisor {
	if cfg.Bin == "" {
		cfg.Bin = "codex"
	}
	s := &Supervisor{cfg: cfg, onNotify: onNotify, onCrash: onCrash, streamCtr: streamCtr, restartCtr: restartCtr}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "codex-spawn",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return s
}

// Client returns the current RpcClient. It is replaced wholesale on
// every respawn, so callers must re-fetch it rather than caching it
// across a restart.
func (s *Supervisor) Client() *RpcClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Start spawns the child for the first time and begins the supervised
// restart loop in the background. ctx governs the supervisor's
// lifetime; cancelling it stops further respawns and kills the child.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// run is the supervisor actor: spawn, wait for exit, fail everything,
// backoff, repeat, until ctx is done.
func (s *Supervisor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		default:
		}

		err := s.spawnAndWait(ctx)

		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		s.mu.Lock()
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()
		if s.restartCtr != nil {
			s.restartCtr.Inc()
		}

		backoff := time.Duration(min(1000*restarts, 8000)) * time.Millisecond
		slog.Warn("codex child exited, scheduling respawn",
			slog.String("error", errString(err)),
			slog.Int("restart_count", restarts),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// spawnAndWait spawns the child, wires codec/client/dispatch, and
// blocks until the child exits or ctx is cancelled. It always returns
// once the child is gone, having already failed pending RPCs and
// invoked onCrash.
func (s *Supervisor) spawnAndWait(ctx context.Context) error {
	_, breakerErr := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.spawn(ctx)
	})
	if breakerErr != nil {
		failErr := newSpawnError(breakerErr)
		s.failEverything(failErr)
		return failErr
	}

	client := s.Client()
	waitErr := s.cmd.Wait()

	var exitErr error
	if exitCode := s.cmd.ProcessState.ExitCode(); exitCode >= 0 {
		exitErr = newExitError(exitCode, false, "")
	} else {
		exitErr = newExitError(-1, true, waitErr.Error())
	}

	client.FailAll(exitErr)
	s.failEverything(exitErr)
	return exitErr
}

func (s *Supervisor) failEverything(err error) {
	if s.onCrash != nil {
		s.onCrash(err)
	}
}

// spawn starts the subprocess and wires reader/writer goroutines. It
// returns once the process has started (not once it exits).
func (s *Supervisor) spawn(ctx context.Context) error {
	args := []string{"--disable", "rmcp_client"}
	if s.cfg.Profile != "" {
		args = append(args, "--profile", s.cfg.Profile)
	}
	args = append(args, "mcp-server")

	cmd := exec.CommandContext(ctx, s.cfg.Bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start codex: %w", err)
	}

	codec := NewCodec(stdout, stdin)
	client := NewRpcClient(codec, s.cfg.RpcTimeout)

	s.mu.Lock()
	s.cmd = cmd
	s.client = client
	s.startedAt = time.Now()
	s.mu.Unlock()

	go forwardStderr(stderr)
	go s.dispatchLoop(ctx, codec, client)

	slog.Info("codex child spawned", slog.Int("pid", cmd.Process.Pid))
	return nil
}

// dispatchLoop is the stdout-reader actor: decodes every line and
// routes responses to the RpcClient, notifications to onNotify.
func (s *Supervisor) dispatchLoop(ctx context.Context, codec *Codec, client *RpcClient) {
	for {
		decoded, err := codec.Decode(ctx)
		if err != nil {
			return
		}
		switch {
		case decoded.IsResponse():
			client.Dispatch(decoded.Response)
		case decoded.IsNotification() && s.onNotify != nil:
			s.onNotify(decoded.Notification)
		}
	}
}

// forwardStderr forwards the child's stderr line-by-line to the
// diagnostic sink. Stdout is reserved for protocol framing; stderr is
// never mixed into it.
func forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		slog.Warn("codex stderr", slog.String("line", scanner.Text()))
	}
}

// Shutdown stops the supervisor and kills the child if running. There
// is no max-restart bound during normal operation; only Shutdown or
// cancelling the ctx passed to Start stops the loop.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.stopped = true
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Status reports the current supervision state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		RestartCount: s.restarts,
		CircuitOpen:  s.breaker.State() == gobreaker.StateOpen,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		st.Pid = s.cmd.Process.Pid
	}
	if !s.startedAt.IsZero() {
		st.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	if s.client != nil {
		st.PendingRpc = s.client.PendingCount()
	}
	if s.streamCtr != nil {
		st.ActiveStreams = s.streamCtr.Count()
	}
	return st
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
