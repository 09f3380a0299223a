// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streambridge

import "strings"

// Coalesce computes the monotonic increment still owed to the client
// given the text already emitted (E) and the newly arrived text (I),
// the 4-case algorithm:
//
//  1. E ends with I exactly -> duplicate, emit nothing.
//  2. I starts with E -> snapshot, emit I[len(E):].
//  3. the largest k (0 < k <= min(|E|,|I|)) with E's last k chars
//     equal to I's first k chars -> overlap, emit I[k:].
//  4. otherwise -> disjoint, emit I verbatim.
func Coalesce(emitted, incoming string) string {
	if incoming == "" {
		return ""
	}
	if strings.HasSuffix(emitted, incoming) {
		return ""
	}
	if strings.HasPrefix(incoming, emitted) {
		return incoming[len(emitted):]
	}
	if k := largestOverlap(emitted, incoming); k > 0 {
		return incoming[k:]
	}
	return incoming
}

// largestOverlap returns the largest k such that emitted's last k bytes
// equal incoming's first k bytes, or 0 if none overlap.
func largestOverlap(emitted, incoming string) int {
	max := len(emitted)
	if len(incoming) < max {
		max = len(incoming)
	}
	for k := max; k > 0; k-- {
		if emitted[len(emitted)-k:] == incoming[:k] {
			return k
		}
	}
	return 0
}
