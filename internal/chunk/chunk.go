// Package chunk splits assistant replies into transport-sized segments.
package chunk

import "strings"

// TransportLimit is the maximum message size of the delivery transport.
const TransportLimit = 4096

func isBoundary(r rune) bool {
	return r == ' ' || r == '\n' || r == '.'
}

// Split breaks text into segments of at most limit characters. A split
// prefers the last space, newline or sentence terminator at or before the
// limit and falls back to a hard cut when a segment has no such boundary.
// Whitespace runs between segments are consumed by the split and segments
// that are empty after trimming are dropped.
//
// Split is pure and total: any text and any limit yield a valid result,
// text shorter than the limit comes back as a single segment and empty
// text as no segments.
func Split(text string, limit int) []string {
	if limit < 1 {
		limit = 1
	}
	runes := []rune(text)

	var segments []string
	start := 0
	for start < len(runes) {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			// Scan back to the nearest boundary inside the window.
			cut := end
			for cut > start && !isBoundary(runes[cut-1]) {
				cut--
			}
			if cut == start {
				cut = start + limit // no boundary: hard split
			}
			end = cut
		}

		segment := string(runes[start:end])
		if strings.TrimSpace(segment) != "" {
			segments = append(segments, segment)
		}
		start = end
		for start < len(runes) && (runes[start] == ' ' || runes[start] == '\n') {
			start++
		}
	}
	return segments
}
