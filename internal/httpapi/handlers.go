// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/mcp"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/streambridge"
)

// Health reports the supervisor's status unauthenticated, supplemented
// with circuitOpen/rateLimited flags beyond the bare ok/model/codex
// triple.
func (s *Server) Health(c *gin.Context) {
	status := s.Supervisor.Status()
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"model":       s.Config.ModelID,
		"codex":       status,
		"circuitOpen": status.CircuitOpen,
		"rateLimited": s.limiter.Tokens() < 1,
	})
}

// Models returns the static single-model list.
func (s *Server) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{{
			"id":       s.Config.ModelID,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "codex-bridge",
		}},
	})
}

// embeddingsRequest mirrors the subset of the OpenAI embeddings request
// shape the stub needs to echo back a deterministic vector per input.
type embeddingsRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

// Embeddings is a deterministic stub: every input string maps to a
// fixed-length vector derived from its byte length, so repeated calls
// with the same input are byte-identical without invoking the child
// at all.
func (s *Server) Embeddings(c *gin.Context) {
	var req embeddingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", err.Error()))
		return
	}

	inputs := flattenEmbeddingInput(req.Input)
	data := make([]gin.H, 0, len(inputs))
	for i, in := range inputs {
		data = append(data, gin.H{
			"object":    "embedding",
			"embedding": stubVector(in),
			"index":     i,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
		"model":  req.Model,
	})
}

func flattenEmbeddingInput(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

const stubEmbeddingDims = 8

// stubVector derives a fixed-length deterministic vector from the
// input's length so the stub never needs real model weights.
func stubVector(input string) []float32 {
	vec := make([]float32, stubEmbeddingDims)
	base := float32(len(input)%97) / 97.0
	for i := range vec {
		vec[i] = base
	}
	return vec
}

// ChatCompletions dispatches to the streaming or non-streaming path
// depending on the request body's stream flag.
func (s *Server) ChatCompletions(c *gin.Context) {
	var req openai.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", err.Error()))
		return
	}
	if req.Model != "" && req.Model != s.Config.ModelID {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request_error",
			fmt.Sprintf("unknown model %q", req.Model)))
		return
	}

	prompt := buildPrompt(req.Messages)

	if req.Stream {
		s.streamChatCompletion(c, prompt)
		return
	}
	s.nonStreamChatCompletion(c, prompt)
}

// buildPrompt flattens the chat messages into a single prompt string
// for the child's "codex" tool, one "role: content" line per message.
func buildPrompt(messages []openai.ChatCompletionMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}

func errorBody(errType, message string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": errType}}
}

// nonStreamChatCompletion issues a single tools/call RPC and replies
// with one chat.completion JSON built from the result text.
func (s *Server) nonStreamChatCompletion(c *gin.Context, prompt string) {
	client := s.Supervisor.Client()
	if client == nil {
		s.Metrics.RequestsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusBadGateway, errorBody("server_error", mcp.ErrNotRunning.Error()))
		return
	}

	reqCtx := c.Request.Context()
	future, err := client.Rpc(reqCtx, "tools/call", codexToolCallParams(prompt))
	if err != nil {
		s.Metrics.RequestsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusBadGateway, errorBody("server_error", err.Error()))
		return
	}

	waitCtx, cancel := context.WithTimeout(reqCtx, s.rpcTimeout())
	defer cancel()

	start := time.Now()
	result, err := future.Wait(waitCtx)
	s.Metrics.RpcLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.Metrics.RequestsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusBadGateway, errorBody("server_error", err.Error()))
		return
	}
	s.Metrics.RequestsTotal.WithLabelValues("success").Inc()

	text := extractFinalText(result)
	c.JSON(http.StatusOK, openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.Config.ModelID,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

// streamChatCompletion registers an ActiveStream/Lifecycle, writes SSE
// headers and the initial role chunk, issues the correlated tools/call
// RPC, and races its resolution against notification-driven
// termination.
func (s *Server) streamChatCompletion(c *gin.Context, prompt string) {
	w := c.Writer
	sink, err := newSSESink(w)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("server_error", "streaming unsupported"))
		return
	}

	client := s.Supervisor.Client()
	if client == nil {
		s.Metrics.RequestsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusBadGateway, errorBody("server_error", mcp.ErrNotRunning.Error()))
		return
	}

	requestID := uuid.NewString()
	streamID := "chatcmpl-" + requestID
	now := time.Now()

	stream := streambridge.NewActiveStream(sink, streamID, s.Config.ModelID, now.Unix())
	lifecycle := streambridge.NewLifecycle(stream, s.Registry, requestID, s.Config.StreamChunkChars)
	s.Registry.Register(requestID, lifecycle)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = sink.Write([]byte(fmt.Sprintf(": connected %d\n\n", now.Unix())))
	lifecycle.EmitRoleChunk()

	hardTimeout := time.AfterFunc(time.Duration(s.Config.HardRequestTimeoutMs)*time.Millisecond, func() {
		lifecycle.HandleHardTimeout(s.Config.HardRequestTimeoutMs)
	})
	keepaliveTicker := time.NewTicker(time.Duration(s.Config.SSEKeepaliveMs) * time.Millisecond)
	defer keepaliveTicker.Stop()
	stream.SetTimers(nil, hardTimeout)

	ctx := c.Request.Context()
	rpcStart := time.Now()
	future, err := client.RpcWithId(ctx, "tools/call", codexToolCallParams(prompt), requestID)
	if err != nil {
		s.Metrics.RequestsTotal.WithLabelValues("error").Inc()
		lifecycle.HandleError(err.Error())
		return
	}

	resultCh := make(chan struct {
		data json.RawMessage
		err  error
	}, 1)
	go func() {
		data, err := future.Wait(context.Background())
		resultCh <- struct {
			data json.RawMessage
			err  error
		}{data, err}
	}()

	for {
		select {
		case <-ctx.Done():
			stream.MarkClosed()
			s.Registry.Unregister(requestID)
			return
		case <-keepaliveTicker.C:
			lifecycle.EmitKeepalive()
		case res := <-resultCh:
			s.Metrics.RpcLatency.Observe(time.Since(rpcStart).Seconds())
			if stream.IsDone() {
				return
			}
			if res.err != nil {
				s.Metrics.RequestsTotal.WithLabelValues("error").Inc()
				lifecycle.HandleError(res.err.Error())
				return
			}
			s.Metrics.RequestsTotal.WithLabelValues("success").Inc()
			lifecycle.CompleteStream(streambridge.CompleteParams{
				FinalText:    extractFinalText(res.data),
				FinishReason: openai.FinishReasonStop,
			})
			return
		}
		if stream.IsDone() {
			return
		}
	}
}

// codexToolCallParams builds the tools/call arguments wrapper:
// rpc("tools/call", {name:"codex", arguments:{prompt}}).
func codexToolCallParams(prompt string) map[string]interface{} {
	return map[string]interface{}{
		"name":      "codex",
		"arguments": map[string]interface{}{"prompt": prompt},
	}
}

// extractFinalText extracts the final text from a tools/call result,
// best-effort: result.content[].text where type == "text", else the
// string result verbatim, else the JSON-stringified result.
func extractFinalText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var withContent struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &withContent); err == nil {
		var b strings.Builder
		for _, part := range withContent.Content {
			if part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}

	return string(raw)
}
