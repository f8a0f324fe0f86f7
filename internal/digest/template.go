package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

var fallbackTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.TopicName}} Weekly Brief</title>
</head>
<body style="margin:0;padding:0;font-family:Arial,Helvetica,sans-serif;background-color:#f4f4f4;">
  <table role="presentation" style="width:100%;border:none;border-spacing:0;">
    <tr><td align="center" style="padding:20px 0;">
      <table role="presentation" style="width:600px;border:none;border-spacing:0;background-color:#ffffff;">
        <tr><td style="padding:30px;background-color:#32B8C6;text-align:center;">
          <h1 style="margin:0;color:#ffffff;font-size:24px;">{{.Brand}}</h1>
          <p style="margin:10px 0 0;color:#ffffff;font-size:14px;">Week of {{.Week}}</p>
        </td></tr>
        <tr><td style="padding:30px;">
          <h2 style="margin:0 0 15px;color:#333333;font-size:20px;">{{.TopicName}} Weekly Brief</h2>
          <p style="margin:0;color:#666666;font-size:14px;line-height:1.6;">
            {{.TotalArticles}} articles found this week, {{.HighImportanceCount}} of high importance.
          </p>
        </td></tr>
{{- range $i, $a := .Top}}
        <tr><td style="padding:0 30px 20px;">
          <table style="width:100%;border:1px solid #e0e0e0;border-radius:8px;">
            <tr><td style="padding:20px;">
              <span style="color:#32B8C6;font-size:12px;font-weight:bold;">#{{inc $i}} TOP STORY</span>
              <h3 style="margin:10px 0;color:#333333;font-size:16px;">{{$a.Title}}</h3>
              <p style="margin:0 0 15px;color:#666666;font-size:14px;line-height:1.5;">{{$a.Summary}}</p>
              <p style="margin:0 0 15px;color:#999999;font-size:12px;">Score: {{$a.Scores.Importance}}/100 | {{$a.SourceName}}</p>
              <a href="{{$a.URL}}" style="display:inline-block;padding:10px 20px;background-color:#32B8C6;color:#ffffff;text-decoration:none;border-radius:4px;">Read Article</a>
            </td></tr>
          </table>
        </td></tr>
{{- end}}
{{- if .More}}
        <tr><td style="padding:0 30px 30px;">
          <h3 style="margin:0 0 15px;color:#333333;font-size:18px;">More This Week</h3>
{{- range .More}}
          <div style="padding:15px 0;border-bottom:1px solid #e0e0e0;">
            <a href="{{.URL}}" style="color:#333333;text-decoration:none;font-size:14px;font-weight:bold;">{{.Title}}</a>
            <p style="margin:5px 0 0;color:#666666;font-size:13px;">{{join .Tags " "}}</p>
          </div>
{{- end}}
        </td></tr>
{{- end}}
{{- if .DashboardURL}}
        <tr><td style="padding:30px;background-color:#f8f8f8;text-align:center;">
          <a href="{{.DashboardURL}}" style="display:inline-block;padding:15px 40px;background-color:#32B8C6;color:#ffffff;text-decoration:none;border-radius:4px;">Explore All News</a>
        </td></tr>
{{- end}}
        <tr><td style="padding:30px;text-align:center;">
          <p style="margin:0;color:#999999;font-size:12px;">You received this email because you follow {{.TopicName}} updates.</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>
`))

type templateData struct {
	Input
	Brand string
	Week  string
	Top   []topic.Article
	More  []topic.Article
}

// Render produces the static digest document for in.
func Render(in Input, brand string) (string, error) {
	split := min(3, len(in.Articles))
	data := templateData{
		Input: in,
		Brand: brand,
		Week:  FormatWeek(in.WeekStart),
		Top:   in.Articles[:split],
		More:  in.Articles[split:],
	}
	var buf bytes.Buffer
	if err := fallbackTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render digest template: %w", err)
	}
	return buf.String(), nil
}

func (w *Writer) fallback(in Input) (Digest, error) {
	html, err := Render(in, w.cfg.Brand)
	if err != nil {
		return Digest{}, err
	}
	return Digest{
		Subject:     Subject(in.TopicName, in.WeekStart),
		PreviewText: previewText(in),
		HTML:        html,
		Model:       FallbackModel,
	}, nil
}

// PlainText renders the text alternative of a digest.
func PlainText(in Input, brand string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Weekly Brief\nWeek of %s\n\n", in.TopicName, FormatWeek(in.WeekStart))
	fmt.Fprintf(&b, "%d articles found this week, %d of high importance.\n\n=== Top stories ===\n\n",
		in.TotalArticles, in.HighImportanceCount)
	split := min(3, len(in.Articles))
	for i, art := range in.Articles[:split] {
		fmt.Fprintf(&b, "[%d] %s\n    Source: %s\n    Importance: %d/100\n    Summary: %s\n    Link: %s\n\n",
			i+1, art.Title, art.SourceName, art.Scores.Importance, art.Summary, art.URL)
	}
	if rest := in.Articles[split:]; len(rest) > 0 {
		b.WriteString("=== More this week ===\n\n")
		for _, art := range rest {
			summary := []rune(art.Summary)
			if len(summary) > 100 {
				summary = append(summary[:100], []rune("...")...)
			}
			fmt.Fprintf(&b, "* %s\n  %s\n  %s\n\n", art.Title, string(summary), art.URL)
		}
	}
	b.WriteString("---\n" + brand + "\n")
	if in.DashboardURL != "" {
		b.WriteString(in.DashboardURL + "\n")
	}
	return b.String()
}
