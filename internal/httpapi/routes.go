// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SetupRoutes wires every endpoint the bridge exposes onto router:
// unauthenticated health and metrics, then an auth-gated v1 group.
func SetupRoutes(router *gin.Engine, s *Server) {
	router.Use(otelgin.Middleware("codex-mcp-streaming-http-bridge"))

	router.GET("/health", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(AuthMiddleware(s.Config))
	{
		v1.GET("/models", s.Models)
		v1.POST("/embeddings", s.Embeddings)
		v1.POST("/chat/completions", s.rateLimited(s.ChatCompletions))
	}
}

// rateLimited rejects the request with 429 before it ever reaches next
// if the limiter has no token available. This bounds the rate of new
// chat-completion requests, not the number in flight.
func (s *Server) rateLimited(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"message": "too many concurrent requests", "type": "rate_limit_error"},
			})
			return
		}
		next(c)
	}
}
