// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streambridge

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// knownDeltaSet is the explicit list of canonicalised event types that
// always classify as a text delta.
var knownDeltaSet = map[string]bool{
	"content_delta":                 true,
	"output_text_delta":             true,
	"assistant_content_delta":       true,
	"final_content_delta":           true,
	"reasoning_content_delta":       true,
	"agent_reasoning_delta":         true,
	"text_delta":                    true,
	"response_output_text_delta":    true,
	"response_reasoning_text_delta": true,
}

var (
	separatorRun   = regexp.MustCompile(`[.\s-]+`)
	underscoreRun  = regexp.MustCompile(`_+`)
	textOrContent  = regexp.MustCompile(`(^|_)(text|content)(_|$)`)
)

// canonicalize lower-cases T and collapses runs of '.', whitespace, or
// '-' into a single '_', then collapses repeated '_'.
func canonicalize(raw string) string {
	s := strings.ToLower(raw)
	s = separatorRun.ReplaceAllString(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	return s
}

func isTextDelta(t string) bool {
	if knownDeltaSet[t] {
		return true
	}
	return strings.HasSuffix(t, "_delta") && textOrContent.MatchString(t)
}

func isTerminal(t string) bool {
	switch t {
	case "response_completed", "response_incomplete", "response_failed":
		return true
	}
	return strings.HasPrefix(t, "response_") &&
		(strings.HasSuffix(t, "_completed") || strings.HasSuffix(t, "_incomplete") || strings.HasSuffix(t, "_failed"))
}

func isErrorCarrying(t string, hasErrorField bool) bool {
	return strings.HasSuffix(t, "_failed") || strings.HasSuffix(t, "_incomplete") || hasErrorField
}

// extractDeltaText tries, in order: msg.delta, msg.text, msg.part.text,
// the concatenation of .text over msg.parts[]. The first non-empty
// result wins.
func extractDeltaText(msg map[string]interface{}) string {
	if s, ok := msg["delta"].(string); ok && s != "" {
		return s
	}
	if s, ok := msg["text"].(string); ok && s != "" {
		return s
	}
	if part, ok := msg["part"].(map[string]interface{}); ok {
		if s, ok := part["text"].(string); ok && s != "" {
			return s
		}
	}
	if parts, ok := msg["parts"].([]interface{}); ok {
		var b strings.Builder
		for _, p := range parts {
			if pm, ok := p.(map[string]interface{}); ok {
				if s, ok := pm["text"].(string); ok {
					b.WriteString(s)
				}
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

// extractErrorText tries msg.error.message, then msg.error, then
// msg.message, falling back to the implied default for a
// terminal-failure/incomplete type when none of those carried text.
// hasErrorField reports whether an "error" key was present at all,
// which feeds isErrorCarrying.
func extractErrorText(msg map[string]interface{}, t string) (text string, hasErrorField bool) {
	if errObj, ok := msg["error"].(map[string]interface{}); ok {
		hasErrorField = true
		if m, ok := errObj["message"].(string); ok && m != "" {
			return m, true
		}
	} else if errStr, ok := msg["error"].(string); ok && errStr != "" {
		return errStr, true
	}

	if m, ok := msg["message"].(string); ok && m != "" {
		return m, hasErrorField
	}
	if strings.HasSuffix(t, "_failed") {
		return "upstream response failed", hasErrorField
	}
	if strings.HasSuffix(t, "_incomplete") {
		return "upstream response incomplete", hasErrorField
	}
	return "", hasErrorField
}

// Normalize classifies one notification's msg.type and extracts its
// payload, producing zero or more Events in the order text-delta,
// error, terminal.
func Normalize(rawType string, msg map[string]interface{}) []Event {
	t := canonicalize(rawType)
	var events []Event

	if isTextDelta(t) {
		if text := extractDeltaText(msg); text != "" {
			events = append(events, Event{Kind: EventTextDelta, Text: text})
		}
	}

	errText, hasErrorField := extractErrorText(msg, t)
	if isErrorCarrying(t, hasErrorField) && errText != "" {
		events = append(events, Event{Kind: EventError, Text: errText})
	}

	if isTerminal(t) {
		events = append(events, Event{Kind: EventTerminal})
	}

	return events
}

// HandleNotification is the single entry point the stdout-reader actor
// calls for every decoded MCP notification. params is the raw
// notification params: the "params" root for id aliasing, and
// "params.msg" for event classification.
func HandleNotification(registry *Registry, params json.RawMessage) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(params, &decoded); err != nil {
		slog.Warn("streambridge: dropping notification with unparseable params", slog.String("error", err.Error()))
		return
	}

	msg, _ := decoded["msg"].(map[string]interface{})
	if msg == nil {
		return
	}
	rawType, _ := msg["type"].(string)
	if rawType == "" {
		return
	}

	candidateIDs := CandidateIDs(decoded)
	lifecycle, ok := registry.Resolve(candidateIDs)
	if !ok {
		slog.Debug("streambridge: dropping event with no resolvable stream", slog.String("type", rawType))
		return
	}

	for _, ev := range Normalize(rawType, msg) {
		switch ev.Kind {
		case EventTextDelta:
			lifecycle.HandleTextDelta(ev.Text)
		case EventError:
			lifecycle.HandleError(ev.Text)
			return
		case EventTerminal:
			lifecycle.HandleTerminal()
		}
	}
}
