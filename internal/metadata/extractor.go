// Package metadata pulls session fields out of the head of a recording.
//
// Two layouts are accepted: a header row naming every recognized key
// followed by a value row, or one key/value pair per line where the
// delimiter is the first of comma, colon or tab found on that line.
// Anything else is skipped.
package metadata

import (
	"regexp"
	"strings"

	"SeaIndexBridge/internal/domain"
)

// ScanLines is how many non-blank lines are inspected.
const ScanLines = 13

var lineBreak = regexp.MustCompile(`\r?\n`)

// Extract parses metadata from decoded text. It never fails; an empty
// result means nothing was recognized.
func Extract(text string) domain.SessionMetadata {
	return ExtractLines(lineBreak.Split(text, -1))
}

// ExtractLines is Extract over pre-split lines. Blank lines are dropped
// before the scan window is applied.
func ExtractLines(raw []string) domain.SessionMetadata {
	lines := make([]string, 0, ScanLines)
	for _, line := range raw {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == ScanLines {
			break
		}
	}

	md := domain.SessionMetadata{}
	if len(lines) == 0 {
		return md
	}

	if header := splitTrim(lines[0], ","); len(lines) > 1 && coversRecognized(header) {
		values := splitTrim(lines[1], ",")
		for i, key := range header {
			if !domain.IsRecognizedKey(key) {
				continue
			}
			if i < len(values) {
				md[key] = values[i]
			} else {
				md[key] = ""
			}
		}
		return md
	}

	for _, line := range lines {
		key, value, ok := splitPair(strings.TrimSpace(line))
		if !ok || !domain.IsRecognizedKey(key) {
			continue
		}
		md[key] = value
	}
	return md
}

func coversRecognized(header []string) bool {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[h] = true
	}
	for _, key := range domain.RecognizedKeys {
		if !seen[key] {
			return false
		}
	}
	return true
}

func splitPair(line string) (string, string, bool) {
	delim := "\t"
	switch {
	case strings.Contains(line, ","):
		delim = ","
	case strings.Contains(line, ":"):
		delim = ":"
	}

	parts := splitTrim(line, delim)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSpace(strings.Join(parts[1:], " ")), true
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
