package crawler

import "strings"

// TrimLineTerminator strips a single trailing "\n" or "\r\n" from raw.
func TrimLineTerminator(raw string) string {
	if s, ok := strings.CutSuffix(raw, "\n"); ok {
		return strings.TrimSuffix(s, "\r")
	}
	return raw
}

// NormalizeTargets turns raw link-file lines into crawl targets. A single
// line terminator is stripped and whitespace-only lines are dropped. The rest
// of each line is kept as is, so duplicates compare byte for byte and
// collapse in first-seen order.
func NormalizeTargets(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	targets := make([]string, 0, len(raw))
	for _, line := range raw {
		target := TrimLineTerminator(line)
		if strings.TrimSpace(target) == "" {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	return targets
}
