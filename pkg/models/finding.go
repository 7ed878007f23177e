package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "NONE"
}

func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	case "", "NONE":
		return SeverityNone, nil
	default:
		return SeverityNone, fmt.Errorf("invalid severity: %s", s)
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if s == SeverityNone {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SeverityNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Finding is one normalized observation. Payload holds the schema that
// belongs to Kind; the JSON form keeps the {"type","source","data","risk"}
// layout so cache files and reports stay interchangeable.
type Finding struct {
	Kind     Kind     `json:"type"`
	Source   string   `json:"source"`
	Payload  Payload  `json:"data"`
	Severity Severity `json:"risk,omitempty"`
}

func NewFinding(source string, severity Severity, payload Payload) Finding {
	return Finding{
		Kind:     payload.Kind(),
		Source:   source,
		Payload:  payload,
		Severity: severity,
	}
}

func (f Finding) IsSynthesis() bool {
	return f.Kind == KindAISummary
}

func (f Finding) Validate() error {
	if f.Kind == "" {
		return fmt.Errorf("finding type is required")
	}
	if f.Payload == nil {
		return fmt.Errorf("finding %s has no payload", f.Kind)
	}
	if f.Payload.Kind() != f.Kind {
		return fmt.Errorf("finding type %s does not match payload %s", f.Kind, f.Payload.Kind())
	}
	if f.IsSynthesis() {
		return nil
	}
	if f.Source == "" {
		return fmt.Errorf("finding %s source is required", f.Kind)
	}
	if f.Severity == SeverityNone {
		return fmt.Errorf("finding %s severity is required", f.Kind)
	}
	return nil
}

type findingJSON struct {
	Kind     Kind            `json:"type"`
	Source   string          `json:"source"`
	Data     json.RawMessage `json:"data"`
	Severity Severity        `json:"risk,omitempty"`
}

func (f *Finding) UnmarshalJSON(data []byte) error {
	var aux findingJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	decode, ok := payloadDecoders[aux.Kind]
	if !ok {
		return fmt.Errorf("unknown finding type %q", aux.Kind)
	}
	payload, err := decode(aux.Data)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", aux.Kind, err)
	}
	f.Kind = aux.Kind
	f.Source = aux.Source
	f.Payload = payload
	f.Severity = aux.Severity
	return nil
}

type SeverityCounts struct {
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high" yaml:"high"`
	Medium   int `json:"medium" yaml:"medium"`
	Low      int `json:"low" yaml:"low"`
}

func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// CountFindings buckets every finding except the synthesis record.
func CountFindings(findings []Finding) (total int, counts SeverityCounts) {
	for _, f := range findings {
		if f.IsSynthesis() {
			continue
		}
		total++
		switch f.Severity {
		case SeverityCritical:
			counts.Critical++
		case SeverityHigh:
			counts.High++
		case SeverityMedium:
			counts.Medium++
		case SeverityLow:
			counts.Low++
		}
	}
	return total, counts
}

func SynthesisOf(findings []Finding) (SynthesisRecord, bool) {
	for i := len(findings) - 1; i >= 0; i-- {
		if rec, ok := findings[i].Payload.(SynthesisRecord); ok {
			return rec, true
		}
	}
	return SynthesisRecord{}, false
}

func WithoutSynthesis(findings []Finding) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if !f.IsSynthesis() {
			out = append(out, f)
		}
	}
	return out
}
