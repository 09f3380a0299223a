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

	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/authz"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/config"
)

// AuthMiddleware gates every route it is attached to behind the
// shared-secret policy in cfg, delegating the actual check to authz
// so it stays testable without a gin.Context. A no-op when
// cfg.RequireBearer is false or cfg.APIKey is empty.
func AuthMiddleware(cfg config.Config) gin.HandlerFunc {
	policy := authz.Policy{Required: cfg.RequireBearer, Key: cfg.APIKey, Header: cfg.APIKeyHeader}
	return func(c *gin.Context) {
		if authz.Authorize(policy, c.GetHeader(policy.Header)) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"message": "unauthorized", "type": "unauthorized_error"},
		})
	}
}
