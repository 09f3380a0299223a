// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streambridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// CompleteParams carries the arguments to CompleteStream.
type CompleteParams struct {
	FinalText    string
	ErrorText    string
	FinishReason openai.FinishReason
}

// Lifecycle drives one ActiveStream's Active -> Done state machine: it
// turns text-delta/error/terminal events into SSE chunks and owns the
// single completeStream terminating entry point.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use; CompleteStream may
// legitimately race with itself (a terminal notification vs. the
// tools/call future vs. a hard-timeout firing) and is idempotent.
type Lifecycle struct {
	stream     *ActiveStream
	registry   *Registry
	requestId  string
	chunkChars int
}

// NewLifecycle builds a Lifecycle for stream, registered under
// requestId in registry. chunkChars bounds how many characters go into
// a single SSE content chunk; <= 0 disables splitting.
func NewLifecycle(stream *ActiveStream, registry *Registry, requestId string, chunkChars int) *Lifecycle {
	return &Lifecycle{stream: stream, registry: registry, requestId: requestId, chunkChars: chunkChars}
}

// Stream exposes the underlying ActiveStream, e.g. for MarkClosed/SetTimers.
func (l *Lifecycle) Stream() *ActiveStream { return l.stream }

// EmitRoleChunk writes the initial chunk carrying delta.role="assistant"
// implemented here so the handler need only call one method.
func (l *Lifecycle) EmitRoleChunk() {
	s := l.stream
	if s.IsClosed() || s.IsDone() {
		return
	}
	l.writeFrame(openai.ChatCompletionStreamResponse{
		ID:      s.StreamID,
		Object:  "chat.completion.chunk",
		Created: s.Created,
		Model:   s.Model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{Role: "assistant"},
		}},
	})
}

// EmitKeepalive writes an SSE comment, a no-op once closed or done.
func (l *Lifecycle) EmitKeepalive() {
	s := l.stream
	if s.IsClosed() || s.IsDone() {
		return
	}
	_ = s.Sink.Write([]byte(fmt.Sprintf(": keepalive %d\n\n", time.Now().Unix())))
}

// HandleTextDelta coalesces text against what has already been emitted
// and, if anything new survives, marks hasStreamedDelta and emits it.
func (l *Lifecycle) HandleTextDelta(text string) {
	s := l.stream
	s.mu.Lock()
	if s.closed || s.done {
		s.mu.Unlock()
		return
	}
	increment := Coalesce(s.emittedText, text)
	if increment == "" {
		s.mu.Unlock()
		return
	}
	s.hasStreamedDelta = true
	s.appendEmitted(increment)
	s.lastEventAt = time.Now()
	s.mu.Unlock()

	l.emitChunk(increment)
}

// HandleError completes the stream with errorText. On each error event
// the caller must call this and stop processing further events from
// that notification.
func (l *Lifecycle) HandleError(errorText string) {
	l.CompleteStream(CompleteParams{ErrorText: errorText, FinishReason: openai.FinishReasonStop})
}

// HandleTerminal completes the stream with no error or final text.
func (l *Lifecycle) HandleTerminal() {
	l.CompleteStream(CompleteParams{FinishReason: openai.FinishReasonStop})
}

// HandleHardTimeout is the hard-timeout callback registered by the HTTP
// handler at stream registration.
func (l *Lifecycle) HandleHardTimeout(hardTimeoutMs int64) {
	l.CompleteStream(CompleteParams{
		ErrorText:    fmt.Sprintf("hard timeout after %dms", hardTimeoutMs),
		FinishReason: openai.FinishReasonStop,
	})
}

// CompleteStream is the single terminating entry point.
// Idempotent: once done or closed, later calls are no-ops. done is set
// under lock before any I/O so concurrent callers (notification path,
// tools/call future, hard timeout) cannot double-emit.
func (l *Lifecycle) CompleteStream(p CompleteParams) {
	s := l.stream

	s.mu.Lock()
	if s.done || s.closed {
		s.mu.Unlock()
		return
	}
	s.done = true
	hasStreamedDelta := s.hasStreamedDelta
	s.stopTimersLocked()
	s.mu.Unlock()

	if l.registry != nil {
		l.registry.Unregister(l.requestId)
	}

	if p.ErrorText != "" {
		l.emitChunk("\n[bridge error] " + p.ErrorText + "\n")
	}
	if p.FinalText != "" && !hasStreamedDelta {
		l.emitChunk(p.FinalText)
	}

	l.emitFinishChunk(p.FinishReason)
	l.emitDone()
}

// emitChunk splits content into substrings of at most chunkChars
// characters and writes one chat.completion.chunk frame per substring
// with finish_reason left empty.
func (l *Lifecycle) emitChunk(content string) {
	if content == "" {
		return
	}
	s := l.stream
	for _, part := range splitChunks(content, l.chunkChars) {
		l.writeFrame(openai.ChatCompletionStreamResponse{
			ID:      s.StreamID,
			Object:  "chat.completion.chunk",
			Created: s.Created,
			Model:   s.Model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: part},
			}},
		})
	}
}

// emitFinishChunk writes the {delta:{}, finish_reason: reason} frame.
func (l *Lifecycle) emitFinishChunk(reason openai.FinishReason) {
	s := l.stream
	l.writeFrame(openai.ChatCompletionStreamResponse{
		ID:      s.StreamID,
		Object:  "chat.completion.chunk",
		Created: s.Created,
		Model:   s.Model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        openai.ChatCompletionStreamChoiceDelta{},
			FinishReason: reason,
		}},
	})
}

// emitDone writes the literal terminator line and closes the sink.
func (l *Lifecycle) emitDone() {
	_ = l.stream.Sink.Write([]byte("data: [DONE]\n\n"))
	l.stream.Sink.End()
}

func (l *Lifecycle) writeFrame(frame openai.ChatCompletionStreamResponse) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("streambridge: failed to marshal chunk", slog.String("error", err.Error()))
		return
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	_ = l.stream.Sink.Write(buf)
}

// splitChunks splits content on rune boundaries into pieces of at most
// chunkChars runes; chunkChars <= 0 disables splitting.
func splitChunks(content string, chunkChars int) []string {
	runes := []rune(content)
	if chunkChars <= 0 || len(runes) <= chunkChars {
		return []string{content}
	}
	parts := make([]string, 0, (len(runes)+chunkChars-1)/chunkChars)
	for i := 0; i < len(runes); i += chunkChars {
		end := i + chunkChars
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}
