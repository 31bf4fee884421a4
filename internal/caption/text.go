package caption

import (
	"regexp"
	"strings"
)

const (
	minTagLen = 2
	maxTagLen = 80
	maxTags   = 15
)

// Reasoning models wrap chain-of-thought in think blocks; only the
// text after them is the answer.
var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkBlocks removes model reasoning blocks and surrounding
// whitespace from a response.
func StripThinkBlocks(text string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
}

// NormalizeTags parses a comma-separated model response into clean
// labels: trimmed, lowercased, length-bounded, deduplicated in order
// and capped.
func NormalizeTags(raw string) []string {
	if raw == "" {
		return nil
	}

	seen := make(map[string]bool)
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if len(tag) < minTagLen || len(tag) > maxTagLen || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}
