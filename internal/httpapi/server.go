// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package httpapi implements the bridge's external HTTP surface:
// health/models/embeddings stubs and the chat-completions endpoint
// that drives the streambridge/mcp core from either side of a
// gin.Engine.
package httpapi

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/config"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/mcp"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/observability"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/streambridge"
)

// Server holds every collaborator a handler needs: the child
// supervisor, the stream registry, resolved config, and the metrics
// collectors. It carries no per-request state.
type Server struct {
	Config     config.Config
	Supervisor *mcp.Supervisor
	Registry   *streambridge.Registry
	Metrics    *observability.Metrics
	limiter    *rate.Limiter
}

// NewServer wires a Server. The rate limiter is a token bucket that
// admits chat-completion requests at cfg.MaxConcurrentRequests per
// second with a burst of the same size (no limit when it is <= 0). It
// does not track in-flight requests: a request that is still running
// does not hold a token.
func NewServer(cfg config.Config, sup *mcp.Supervisor, reg *streambridge.Registry, metrics *observability.Metrics) *Server {
	limit := rate.Limit(cfg.MaxConcurrentRequests)
	if cfg.MaxConcurrentRequests <= 0 {
		limit = rate.Inf
	}
	return &Server{
		Config:     cfg,
		Supervisor: sup,
		Registry:   reg,
		Metrics:    metrics,
		limiter:    rate.NewLimiter(limit, maxBurst(cfg.MaxConcurrentRequests)),
	}
}

func maxBurst(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// rpcTimeout returns the configured per-RPC timeout as a duration,
// bounding nonStreamChatCompletion's wait on the future independently
// of the request's own context deadline.
func (s *Server) rpcTimeout() time.Duration {
	return time.Duration(s.Config.RpcTimeoutMs) * time.Millisecond
}
