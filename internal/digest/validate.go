package digest

import "strings"

// Validation is the outcome of checking a rendered digest.
type Validation struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
	SizeKB float64  `json:"sizeKb"`
}

// Validate checks html for the structure mail clients need and for size.
func Validate(html string) Validation {
	lower := strings.ToLower(html)
	issues := []string{}
	if !strings.Contains(lower, "<!doctype") {
		issues = append(issues, "Missing DOCTYPE")
	}
	if !strings.Contains(lower, "<html") {
		issues = append(issues, "Missing html tag")
	}
	if len(html) > MaxHTMLBytes {
		issues = append(issues, "HTML too large (>100KB)")
	}
	return Validation{Valid: len(issues) == 0, Issues: issues, SizeKB: sizeKB(html)}
}

// EnsureDocument repairs common omissions in model-written HTML: a missing
// DOCTYPE, html element, charset or viewport.
func EnsureDocument(html string) string {
	html = strings.TrimSpace(html)
	lower := strings.ToLower(html)
	if !strings.Contains(lower, "<html") {
		html = "<html lang=\"en\">\n" + html + "\n</html>"
	}
	if !strings.Contains(lower, "<!doctype") {
		html = "<!DOCTYPE html>\n" + html
	}
	if !strings.Contains(lower, "charset") && strings.Contains(html, "<head>") {
		html = strings.Replace(html, "<head>", "<head>\n<meta charset=\"utf-8\">", 1)
	}
	if !strings.Contains(lower, "viewport") && strings.Contains(html, "</head>") {
		html = strings.Replace(html, "</head>",
			"<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n</head>", 1)
	}
	return html
}
