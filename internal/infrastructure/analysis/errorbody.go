package analysis

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxSummaryRunes = 200

// summarizeBody turns an error response into one short line. Gateways in
// front of the service answer with HTML pages, so those are reduced to
// their title or visible text.
func summarizeBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	if trimmed[0] == '{' {
		var payload map[string]any
		if err := json.Unmarshal(trimmed, &payload); err == nil {
			for _, key := range []string{"detail", "message", "msg", "error"} {
				if s, ok := payload[key].(string); ok && s != "" {
					return truncate(s)
				}
			}
		}
		return truncate(string(trimmed))
	}

	if trimmed[0] == '<' {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
		if err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return truncate(title)
			}
			if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
				return truncate(h1)
			}
			return truncate(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
		}
	}

	return truncate(strings.Join(strings.Fields(string(trimmed)), " "))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxSummaryRunes {
		return s
	}
	return string(r[:maxSummaryRunes]) + "..."
}
