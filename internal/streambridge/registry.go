// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streambridge

import (
	"log/slog"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// idFieldPaths lists the JSON field paths, in stable priority order,
// that the correlator treats as candidate identifiers.
var idFieldPaths = [][]string{
	{"_meta", "requestId"},
	{"_meta", "id"},
	{"id"},
	{"requestId"},
	{"responseId"},
	{"response_id"},
}

// CandidateIDs extracts every present string-valued id-like field from
// params, checking both the top level and the same set under
// params.msg.
func CandidateIDs(params map[string]interface{}) []string {
	ids := extractFromPaths(params, idFieldPaths)
	if msg, ok := params["msg"].(map[string]interface{}); ok {
		ids = append(ids, extractFromPaths(msg, idFieldPaths)...)
	}
	return ids
}

func extractFromPaths(obj map[string]interface{}, paths [][]string) []string {
	var out []string
	for _, path := range paths {
		if s, ok := lookup(obj, path).(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lookup(obj map[string]interface{}, path []string) interface{} {
	var cur interface{} = obj
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// Registry maps requestId -> Lifecycle, plus an alias table of
// upstream-chosen ids pointing at the same requestId.
//
// # Thread Safety
//
// Safe for concurrent use; every operation is a single critical section.
type Registry struct {
	mu         sync.Mutex
	lifecycles map[string]*Lifecycle
	aliases    map[string]string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		lifecycles: make(map[string]*Lifecycle),
		aliases:    make(map[string]string),
	}
}

// Register inserts l under requestId.
func (r *Registry) Register(requestId string, l *Lifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycles[requestId] = l
}

// Unregister removes requestId and purges any alias entries pointing at it.
func (r *Registry) Unregister(requestId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lifecycles, requestId)
	for alias, target := range r.aliases {
		if target == requestId {
			delete(r.aliases, alias)
		}
	}
}

// Count reports the number of active streams, used by
// Supervisor.Status and ChildSupervisor's
// ActiveStreamCounter.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lifecycles)
}

// Resolve finds the Lifecycle an incoming event correlates to.
// Candidate ids are tried in order, then their alias targets; if none
// match and exactly one stream is active, that stream is used as a
// fallback (logged as a correlation fallback). Every call that resolves a stream
// also learns any new candidate ids as aliases for it, first-write-wins.
func (r *Registry) Resolve(candidateIDs []string) (*Lifecycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]string, 0, len(candidateIDs)*2)
	ordered = append(ordered, candidateIDs...)
	for _, id := range candidateIDs {
		if target, ok := r.aliases[id]; ok {
			ordered = append(ordered, target)
		}
	}

	for _, id := range ordered {
		if l, ok := r.lifecycles[id]; ok {
			r.recordAliasLocked(candidateIDs, id)
			return l, true
		}
	}

	if len(r.lifecycles) == 1 {
		for id, l := range r.lifecycles {
			slog.Debug("streambridge: correlation fallback to sole active stream", slog.String("requestId", id))
			r.recordAliasLocked(candidateIDs, id)
			return l, true
		}
	}

	return nil, false
}

func (r *Registry) recordAliasLocked(candidateIDs []string, requestId string) {
	for _, id := range candidateIDs {
		if id == requestId {
			continue
		}
		if _, exists := r.aliases[id]; !exists {
			r.aliases[id] = requestId
		}
	}
}

// FailAll completes every active stream with a bridge-error message and
// clears the registry.
func (r *Registry) FailAll(errText string) {
	r.mu.Lock()
	lifecycles := make([]*Lifecycle, 0, len(r.lifecycles))
	for _, l := range r.lifecycles {
		lifecycles = append(lifecycles, l)
	}
	r.lifecycles = make(map[string]*Lifecycle)
	r.aliases = make(map[string]string)
	r.mu.Unlock()

	for _, l := range lifecycles {
		l.CompleteStream(CompleteParams{ErrorText: errText, FinishReason: openai.FinishReasonStop})
	}
}
