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
)

// TestCoalesce_Duplicate verifies that E ending with I emits nothing.
func TestCoalesce_Duplicate(t *testing.T) {
	assert.Equal(t, "", Coalesce("Exploring", "Exploring"))
	assert.Equal(t, "", Coalesce("Hello World", "World"))
}

// TestCoalesce_Snapshot verifies that a cumulative snapshot emits only
// the new suffix.
func TestCoalesce_Snapshot(t *testing.T) {
	assert.Equal(t, "ing", Coalesce("Explor", "Exploring"))
}

// TestCoalesce_Overlap verifies that a partial-overlap delivery emits
// only the non-overlapping remainder.
func TestCoalesce_Overlap(t *testing.T) {
	assert.Equal(t, " Terminal", Coalesce("Exploring", "ing Terminal"))
}

// TestCoalesce_Disjoint verifies that unrelated text is emitted verbatim.
func TestCoalesce_Disjoint(t *testing.T) {
	assert.Equal(t, "brand new", Coalesce("Exploring", "brand new"))
}

// TestCoalesce_EmptyIncoming verifies an empty delivery never emits.
func TestCoalesce_EmptyIncoming(t *testing.T) {
	assert.Equal(t, "", Coalesce("anything", ""))
}

// TestCoalesce_EmptyEmitted verifies the first delivery on a fresh
// stream is emitted verbatim (a snapshot against "": every string
// starts with the empty string).
func TestCoalesce_EmptyEmitted(t *testing.T) {
	assert.Equal(t, "first", Coalesce("", "first"))
}

// TestCoalesce_Scenario1 replays a duplicate+snapshot+overlap
// end-to-end scenario directly against the coalescer.
func TestCoalesce_Scenario1(t *testing.T) {
	emitted := ""

	step := func(incoming string) string {
		inc := Coalesce(emitted, incoming)
		emitted += inc
		return inc
	}

	assert.Equal(t, "Expl", step("Expl"))
	assert.Equal(t, "", step("Expl"))
	assert.Equal(t, "oring", step("Exploring"))
	assert.Equal(t, " Terminal", step("ing Terminal"))
	assert.Equal(t, "Exploring Terminal", emitted)
}
