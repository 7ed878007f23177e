package reporting

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const htmlReportTemplate = "report.html"

// TemplateManager holds the parsed templates used by the browser-viewable
// format. Templates loaded from disk replace built-ins of the same name.
type TemplateManager struct {
	templates map[string]*template.Template
	funcs     template.FuncMap
	mu        sync.RWMutex
}

func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{
		templates: make(map[string]*template.Template),
		funcs:     defaultFuncs(),
	}
	if err := tm.Register(htmlReportTemplate, defaultHTMLTemplate); err != nil {
		panic(err)
	}
	return tm
}

func (tm *TemplateManager) Register(name, tpl string) error {
	parsed, err := template.New(name).Funcs(tm.funcs).Parse(tpl)
	if err != nil {
		return fmt.Errorf("parse %q: %w", name, err)
	}
	tm.mu.Lock()
	tm.templates[name] = parsed
	tm.mu.Unlock()
	return nil
}

func (tm *TemplateManager) LoadDir(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(d.Name()) {
		case ".tmpl", ".gohtml", ".html":
		default:
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		name := strings.TrimSuffix(d.Name(), ".tmpl")
		name = strings.TrimSuffix(name, ".gohtml")
		if filepath.Ext(name) == "" {
			name += ".html"
		}
		return tm.Register(name, string(b))
	})
}

func (tm *TemplateManager) Get(name string) (*template.Template, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.templates[name]
	return t, ok
}

func (tm *TemplateManager) Execute(name string, data interface{}) ([]byte, error) {
	t, ok := tm.Get(name)
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		"join":     strings.Join,
		"lower":    strings.ToLower,
		"payload":  payloadJSON,
		"rating":   Rating,
		"stamp":    formatStamp,
		"sevclass": func(s fmt.Stringer) string { return "sev-" + strings.ToLower(s.String()) },
	}
}

const defaultHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>idlynx report: {{.Target}}</title>
<style>
body { background: #111418; color: #d8dee4; font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 2rem; }
h1, h2, h3 { color: #f0f3f6; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
td, th { border: 1px solid #30363d; padding: .4rem .8rem; text-align: left; }
pre { background: #0d1117; padding: .8rem; overflow-x: auto; }
.finding { border-left: 4px solid #30363d; padding-left: 1rem; margin-bottom: 1.5rem; }
.sev-critical { border-color: #f85149; }
.sev-high { border-color: #db6d28; }
.sev-medium { border-color: #d29922; }
.sev-low { border-color: #3fb950; }
</style>
</head>
<body>
<h1>idlynx report</h1>
<p>Target: <strong>{{.Target}}</strong><br>Run: {{.RunID}}<br>Generated on: {{stamp .Timestamp}}</p>

<h2>Summary</h2>
<table>
<tr><th>Total Findings</th><td id="total">{{.TotalFindings}}</td></tr>
<tr><th>Critical</th><td>{{.SeverityCounts.Critical}}</td></tr>
<tr><th>High</th><td>{{.SeverityCounts.High}}</td></tr>
<tr><th>Medium</th><td>{{.SeverityCounts.Medium}}</td></tr>
<tr><th>Low</th><td>{{.SeverityCounts.Low}}</td></tr>
<tr><th>Exposure Score</th><td>{{printf "%.2f" .ExposureScore}} / 10 ({{rating .ExposureScore}})</td></tr>
</table>

{{with .Summary}}
<h2>Digital Twin</h2>
<ul>
<li>Emails: {{join .DigitalTwin.Identity.Emails ", "}}</li>
<li>Phones: {{join .DigitalTwin.Identity.Phones ", "}}</li>
<li>Usernames: {{join .DigitalTwin.Identity.Usernames ", "}}</li>
</ul>
<h3>Ethical Insight</h3>
<p>{{if .EthicalInsight}}{{.EthicalInsight}}{{else}}No insight generated.{{end}}</p>
<h3>Unethical Awareness</h3>
<p>{{if .UnethicalAwareness}}{{.UnethicalAwareness}}{{else}}No awareness generated.{{end}}</p>
{{end}}

<h2>Findings</h2>
{{range .Findings}}
<div class="finding {{sevclass .Severity}}">
<h3>{{.Source}}: {{.Kind}}</h3>
<p>Risk: {{.Severity}}</p>
<pre>{{payload .Payload}}</pre>
</div>
{{else}}
<p>No findings.</p>
{{end}}
</body>
</html>
`
