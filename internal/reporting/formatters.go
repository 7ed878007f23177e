package reporting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bl4ck0w1/idlynx/pkg/models"
)

const stampLayout = "2006-01-02 15:04:05"

type MarkdownFormatter struct{}

func (MarkdownFormatter) FileExtension() string { return "md" }

func (MarkdownFormatter) Format(doc *Document) ([]byte, error) {
	var b strings.Builder
	b.WriteString("# idlynx Report\n\n")
	fmt.Fprintf(&b, "Target: %s\n", doc.Target)
	if doc.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", doc.RunID)
	}
	fmt.Fprintf(&b, "Generated on: %s\n\n", formatStamp(doc.Timestamp))

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Total Findings: %d\n", doc.TotalFindings)
	fmt.Fprintf(&b, "- Critical: %d\n", doc.SeverityCounts.Critical)
	fmt.Fprintf(&b, "- High: %d\n", doc.SeverityCounts.High)
	fmt.Fprintf(&b, "- Medium: %d\n", doc.SeverityCounts.Medium)
	fmt.Fprintf(&b, "- Low: %d\n", doc.SeverityCounts.Low)
	fmt.Fprintf(&b, "- Exposure Score: %.2f / 10 (%s)\n\n", doc.ExposureScore, Rating(doc.ExposureScore))

	if rec := doc.Summary; rec != nil {
		id := rec.DigitalTwin.Identity
		b.WriteString("## Digital Twin\n")
		b.WriteString("### Identity\n")
		fmt.Fprintf(&b, "- Emails: %s\n", strings.Join(id.Emails, ", "))
		fmt.Fprintf(&b, "- Phones: %s\n", strings.Join(id.Phones, ", "))
		fmt.Fprintf(&b, "- Usernames: %s\n\n", strings.Join(id.Usernames, ", "))
		b.WriteString("### Ethical Insight\n")
		fmt.Fprintf(&b, "%s\n\n", orDefault(rec.EthicalInsight, "No insight generated."))
		b.WriteString("### Unethical Awareness\n")
		fmt.Fprintf(&b, "%s\n\n", orDefault(rec.UnethicalAwareness, "No awareness generated."))
	}

	b.WriteString("## Findings\n\n")
	if len(doc.Findings) == 0 {
		b.WriteString("No findings.\n")
	}
	for _, f := range doc.Findings {
		fmt.Fprintf(&b, "### %s: %s\n", f.Source, f.Kind)
		fmt.Fprintf(&b, "**Risk**: %s\n\n", f.Severity)
		b.WriteString("```json\n")
		b.WriteString(payloadJSON(f.Payload))
		b.WriteString("\n```\n\n")
	}
	return []byte(b.String()), nil
}

type HTMLFormatter struct {
	templates *TemplateManager
}

func (HTMLFormatter) FileExtension() string { return "html" }

func (h *HTMLFormatter) Format(doc *Document) ([]byte, error) {
	tm := h.templates
	if tm == nil {
		tm = NewTemplateManager()
	}
	return tm.Execute(htmlReportTemplate, doc)
}

type JSONFormatter struct{}

func (JSONFormatter) FileExtension() string { return "json" }

func (JSONFormatter) Format(doc *Document) ([]byte, error) {
	out := *doc
	if out.Findings == nil {
		out.Findings = []models.Finding{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

func payloadJSON(p models.Payload) string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", p)
	}
	return string(data)
}

func formatStamp(t time.Time) string {
	return t.Format(stampLayout)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
