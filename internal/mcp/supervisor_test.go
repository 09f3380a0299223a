// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStreamCounter struct{ n int }

func (c *countingStreamCounter) Count() int { return c.n }

type countingRestartCounter struct{ n int }

func (c *countingRestartCounter) Inc() { c.n++ }

// TestSupervisor_StatusBeforeStart verifies Status is well-formed even
// before the child has ever been spawned.
func TestSupervisor_StatusBeforeStart(t *testing.T) {
	sup := NewSupervisor(SpawnConfig{Bin: "codex", RpcTimeout: time.Second}, nil, nil, &countingStreamCounter{n: 2}, nil)

	st := sup.Status()
	assert.Equal(t, 0, st.Pid)
	assert.Equal(t, 0, st.RestartCount)
	assert.Equal(t, 2, st.ActiveStreams)
	assert.False(t, st.CircuitOpen)
}

// TestSupervisor_RespawnsOnExit verifies the supervisor respawns a
// short-lived child and that the restart counter advances, using "sh"
// in place of the real codex binary (it rejects the codex flags and
// exits at once) so the test needs no network or Codex installation.
func TestSupervisor_RespawnsOnExit(t *testing.T) {
	var crashes int
	restarts := &countingRestartCounter{}
	sup := NewSupervisor(SpawnConfig{Bin: "sh", RpcTimeout: time.Second}, nil, func(err error) {
		crashes++
	}, nil, restarts)
	sup.cfg.Bin = "sh"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	sup.Start(ctx)

	require.Eventually(t, func() bool {
		return sup.Status().RestartCount >= 1
	}, 2*time.Second, 10*time.Millisecond)

	sup.Shutdown()
	assert.Equal(t, sup.Status().RestartCount, restarts.n)
}

// TestSupervisor_NoMaxRestartBound documents that Status.RestartCount
// is allowed to grow without an upper bound check anywhere in the
// supervisor: there is no max-restart bound.
func TestSupervisor_NoMaxRestartBound(t *testing.T) {
	sup := NewSupervisor(SpawnConfig{Bin: "sh"}, nil, nil, nil, nil)
	sup.restarts = 10_000
	assert.Equal(t, 10_000, sup.Status().RestartCount)
}
