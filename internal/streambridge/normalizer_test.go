// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streambridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalize_EquivalentSpellings verifies that dotted,
// space-separated, and hyphenated spellings of the same event type
// canonicalise identically.
func TestCanonicalize_EquivalentSpellings(t *testing.T) {
	variants := []string{
		"response.output_text.delta",
		"response output_text delta",
		"Response-Output_Text-Delta",
	}
	want := canonicalize(variants[0])
	for _, v := range variants {
		assert.Equal(t, want, canonicalize(v))
	}
	assert.Equal(t, "response_output_text_delta", want)
}

// TestNormalize_KnownDeltaSet verifies every known-delta-set type
// classifies as a text delta and extracts msg.delta.
func TestNormalize_KnownDeltaSet(t *testing.T) {
	for raw := range knownDeltaSet {
		events := Normalize(raw, map[string]interface{}{"delta": "hi"})
		require.Len(t, events, 1, "type %s", raw)
		assert.Equal(t, EventTextDelta, events[0].Kind)
		assert.Equal(t, "hi", events[0].Text)
	}
}

// TestNormalize_DeltaTextExtractionOrder verifies the fallback order
// msg.delta -> msg.text -> msg.part.text -> msg.parts[].text.
func TestNormalize_DeltaTextExtractionOrder(t *testing.T) {
	cases := []struct {
		name string
		msg  map[string]interface{}
		want string
	}{
		{"delta wins", map[string]interface{}{"delta": "a", "text": "b"}, "a"},
		{"text fallback", map[string]interface{}{"text": "b"}, "b"},
		{"part.text fallback", map[string]interface{}{"part": map[string]interface{}{"text": "c"}}, "c"},
		{"parts concatenation", map[string]interface{}{"parts": []interface{}{
			map[string]interface{}{"text": "d"},
			map[string]interface{}{"text": "e"},
		}}, "de"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := Normalize("content_delta", tc.msg)
			require.Len(t, events, 1)
			assert.Equal(t, tc.want, events[0].Text)
		})
	}
}

// TestNormalize_TerminalCompleted verifies a completed response yields
// only a terminal event.
func TestNormalize_TerminalCompleted(t *testing.T) {
	events := Normalize("response.completed", map[string]interface{}{})
	require.Len(t, events, 1)
	assert.Equal(t, EventTerminal, events[0].Kind)
}

// TestNormalize_FailedWithMessage verifies scenario 2: a failure event
// carrying msg.message surfaces that text, not the implied default.
func TestNormalize_FailedWithMessage(t *testing.T) {
	events := Normalize("response.failed", map[string]interface{}{"message": "rate limited"})
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, "rate limited", events[0].Text)
	assert.Equal(t, EventTerminal, events[1].Kind)
}

// TestNormalize_IncompleteWithoutMessage verifies scenario 3: an
// incomplete event with no message uses the implied default text.
func TestNormalize_IncompleteWithoutMessage(t *testing.T) {
	events := Normalize("response.incomplete", map[string]interface{}{})
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, "upstream response incomplete", events[0].Text)
	assert.Equal(t, EventTerminal, events[1].Kind)
}

// TestNormalize_ErrorObjectOnNonTerminalType verifies a type outside
// the terminal/delta sets still surfaces an error when msg carries one.
func TestNormalize_ErrorObjectOnNonTerminalType(t *testing.T) {
	events := Normalize("some_other_event", map[string]interface{}{
		"error": map[string]interface{}{"message": "boom"},
	})
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, "boom", events[0].Text)
}

// TestNormalize_NonDeltaNonTerminalNonError verifies an unrecognised,
// payload-free event type produces no events.
func TestNormalize_NonDeltaNonTerminalNonError(t *testing.T) {
	events := Normalize("agent_thinking_started", map[string]interface{}{})
	assert.Empty(t, events)
}
