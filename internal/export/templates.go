package export

import (
	"bytes"
	"html/template"
	"time"

	"gmptracker/internal/catalog"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportHTML))

type TemplateData struct {
	WorkspaceName string
	GeneratedAt   time.Time
	Overall       catalog.Stats
	Checklists    []TemplateChecklist
}

type TemplateChecklist struct {
	Name     string
	Stats    catalog.Stats
	Sections []TemplateSection
}

type TemplateSection struct {
	Title string
	Items []TemplateItem
}

type TemplateItem struct {
	ID       string
	Title    string
	Priority string
	Source   string
	Status   string
	Complete bool
	// NotesHTML is already escaped by richtext.
	NotesHTML template.HTML
	Messages  int
}

func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>GMP Compliance Report</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 860px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 1rem; }
    th, td { border: 1px solid #ccc; padding: 0.35rem 0.5rem; text-align: left; vertical-align: top; font-size: 0.9em; }
    .status-have { color: #1a7f37; }
    .status-partial { color: #9a6700; }
    .status-need { color: #cf222e; }
  </style>
</head>
<body>
  <h1>GMP Compliance Report</h1>
  <div class="meta">{{if .WorkspaceName}}{{.WorkspaceName}} | {{end}}Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}} | {{.Overall.Completed}} of {{.Overall.Total}} complete ({{.Overall.Percent}}%)</div>
  {{range .Checklists}}
  <h2>{{.Name}} <small>{{.Stats.Completed}}/{{.Stats.Total}} ({{.Stats.Percent}}%)</small></h2>
  {{range .Sections}}
  <h3>{{.Title}}</h3>
  <table>
    <tr><th>Done</th><th>Requirement</th><th>Priority</th><th>Status</th><th>Notes</th><th>Messages</th></tr>
    {{range .Items}}
    <tr>
      <td>{{if .Complete}}&#10003;{{end}}</td>
      <td>{{.Title}}{{if .Source}}<br><small>{{.Source}}</small>{{end}}</td>
      <td>{{.Priority}}</td>
      <td class="status-{{.Status}}">{{.Status}}</td>
      <td>{{.NotesHTML}}</td>
      <td>{{if .Messages}}{{.Messages}}{{end}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
  {{end}}
</body>
</html>`
