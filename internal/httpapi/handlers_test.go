// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/config"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/mcp"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/observability"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/streambridge"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	cfg := config.Config{
		ModelID:               "codex",
		MaxConcurrentRequests: 16,
		SSEKeepaliveMs:        15000,
		HardRequestTimeoutMs:  60000,
		RpcTimeoutMs:          30000,
	}
	reg := streambridge.NewRegistry()
	metrics := observability.NewMetrics(prometheus.NewRegistry(), func() float64 { return 0 }, func() float64 { return 0 })
	sup := mcp.NewSupervisor(mcp.SpawnConfig{Bin: "codex"}, nil, nil, reg, metrics.ChildRestarts)
	s := NewServer(cfg, sup, reg, metrics)

	router := gin.New()
	SetupRoutes(router, s)
	return s, router
}

func TestHealth_ReportsOkAndModel(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "codex", body["model"])
	assert.Contains(t, body, "codex")
	assert.Contains(t, body, "circuitOpen")
}

func TestModels_ReturnsSingleModel(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "codex", body.Data[0]["id"])
}

func TestEmbeddings_DeterministicForSameInput(t *testing.T) {
	_, router := newTestServer(t)

	body := bytes.NewBufferString(`{"model":"codex","input":["hello","hello"]}`)
	req := httptest.NewRequest("POST", "/v1/embeddings", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, resp.Data[0].Embedding, resp.Data[1].Embedding)
}

func TestChatCompletions_UnknownModelRejected(t *testing.T) {
	_, router := newTestServer(t)

	body := bytes.NewBufferString(`{"model":"not-codex","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest("POST", "/v1/chat/completions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletions_NoChildRunningReturnsBadGateway(t *testing.T) {
	_, router := newTestServer(t)

	body := bytes.NewBufferString(`{"model":"codex","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest("POST", "/v1/chat/completions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestExtractFinalText_PreferStringResult(t *testing.T) {
	assert.Equal(t, "hello", extractFinalText(json.RawMessage(`"hello"`)))
}

func TestExtractFinalText_ContentTextParts(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`)
	assert.Equal(t, "ab", extractFinalText(raw))
}

func TestExtractFinalText_FallsBackToRawJSON(t *testing.T) {
	raw := json.RawMessage(`{"weird":1}`)
	assert.Equal(t, `{"weird":1}`, extractFinalText(raw))
}
