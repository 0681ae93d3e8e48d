package email

import (
	"bytes"
	"dailybrief/internal/core"
	"fmt"
	"html/template"
)

// Template configures the digest email's look.
type Template struct {
	Subject     string // Subject template, receives {{.Date}}
	HeaderColor string
	TextColor   string
	LinkColor   string
	MaxWidth    string
	FontFamily  string
}

// DefaultTemplate returns a simple, responsive digest email template.
func DefaultTemplate() *Template {
	return &Template{
		Subject:     "Your Daily Brief - {{.Date}}",
		HeaderColor: "#2563eb",
		TextColor:   "#1e293b",
		LinkColor:   "#3b82f6",
		MaxWidth:    "600px",
		FontFamily:  "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

var sectionLabels = map[core.SourceType]string{
	core.SourceVideo: "Videos",
	core.SourceBlog:  "Articles",
}

// renderGroup is one labelled run of sections sharing a source type.
type renderGroup struct {
	Label    string
	Sections []core.DigestSection
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Daily Brief</title>
<style type="text/css">
  body {
    margin: 0;
    padding: 0;
    font-family: {{.Template.FontFamily}};
    color: {{.Template.TextColor}};
    line-height: 1.6;
  }
  .container {
    max-width: {{.Template.MaxWidth}};
    margin: 0 auto;
  }
  .header {
    background-color: {{.Template.HeaderColor}};
    color: #ffffff;
    padding: 24px;
    text-align: center;
  }
  .content { padding: 24px; }
  a { color: {{.Template.LinkColor}}; text-decoration: none; }
  .item {
    border: 1px solid #e2e8f0;
    border-radius: 6px;
    padding: 16px;
    margin: 16px 0;
  }
  .item h3 { margin: 0 0 8px 0; }
</style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>Daily Brief</h1>
      <p>{{.Date}}</p>
    </div>
    <div class="content">
      {{range .Groups}}
      {{if .Label}}<h2>{{.Label}}</h2>{{end}}
      {{range .Sections}}
      <div class="item">
        <h3>{{.Title}}</h3>
        <p>{{.SummaryText}}</p>
        {{if .URL}}<p><a href="{{.URL}}">Read more</a></p>{{end}}
      </div>
      {{end}}
      {{end}}
    </div>
  </div>
</body>
</html>`

// RenderHTML renders a digest document as an HTML email body.
func RenderHTML(doc core.DigestDocument, emailTemplate *Template) (string, error) {
	if emailTemplate == nil {
		emailTemplate = DefaultTemplate()
	}

	var groups []renderGroup
	for _, section := range doc.Sections {
		label := sectionLabels[section.SourceType]
		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Sections = append(groups[n-1].Sections, section)
			continue
		}
		groups = append(groups, renderGroup{Label: label, Sections: []core.DigestSection{section}})
	}

	tmpl, err := template.New("digest").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse email template: %w", err)
	}

	data := struct {
		Date     string
		Groups   []renderGroup
		Template *Template
	}{
		Date:     doc.GeneratedAt.Format("January 2, 2006"),
		Groups:   groups,
		Template: emailTemplate,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute email template: %w", err)
	}
	return buf.String(), nil
}

// Subject renders the subject line for a digest document.
func Subject(doc core.DigestDocument, emailTemplate *Template) (string, error) {
	if emailTemplate == nil {
		emailTemplate = DefaultTemplate()
	}

	tmpl, err := template.New("subject").Parse(emailTemplate.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to parse subject template: %w", err)
	}

	data := struct{ Date string }{Date: doc.GeneratedAt.Format("January 2, 2006")}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute subject template: %w", err)
	}
	return buf.String(), nil
}
