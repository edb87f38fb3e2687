// Package assistant detects messages addressed to the assistant and turns
// them into generated room messages.
package assistant

import "strings"

// DefaultMarker addresses the assistant inside a text message.
const DefaultMarker = "@ai"

// HasMarker reports whether text addresses the assistant.
func HasMarker(text, marker string) bool {
	if marker == "" {
		marker = DefaultMarker
	}
	return strings.Contains(text, marker)
}

// ExtractPrompt returns the text after the first marker occurrence, trimmed.
// ok is false when text does not contain the marker.
func ExtractPrompt(text, marker string) (prompt string, ok bool) {
	if marker == "" {
		marker = DefaultMarker
	}
	idx := strings.Index(text, marker)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[idx+len(marker):]), true
}
