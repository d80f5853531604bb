// Package common holds small helpers shared by the channel adapters and handlers.
package common

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// SummaryLimit is how many runes of a message SummarizeText keeps for log lines.
const SummaryLimit = 120

// SummarizeText collapses whitespace and cuts text to SummaryLimit runes.
func SummarizeText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= SummaryLimit {
		return text
	}
	return string([]rune(text)[:SummaryLimit]) + "..."
}

// DecodeBase64 accepts raw standard base64 or a data URL.
func DecodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		if _, payload, found := strings.Cut(rest, ","); found {
			raw = payload
		}
	}
	return base64.StdEncoding.DecodeString(raw)
}
