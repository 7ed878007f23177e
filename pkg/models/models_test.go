package models

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// -- Finding JSON -------------------------------------------------------------

func TestFindingJSONDispatchesOnType(t *testing.T) {
	in := []Finding{
		NewFinding("HaveIBeenPwned", SeverityHigh, BreachRecord{Name: "Adobe", Domain: "adobe.com", BreachDate: "2013-10-04", PwnCount: 152445165, IsVerified: true}),
		NewFinding("AWS S3", SeverityCritical, BucketExposure{Bucket: "prod-example.com", Status: "PUBLICLY ACCESSIBLE"}),
		NewFinding("Instagram", SeverityLow, InstagramProfile{URL: "https://instagram.com/jdoe", Followers: "12"}),
		{Kind: KindAISummary, Source: "AI_SYNTHESIS", Payload: SynthesisRecord{EthicalInsight: "x"}},
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out []Finding
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("decoded findings differ:\n got %#v\nwant %#v", out, in)
	}
	if _, ok := out[1].Payload.(BucketExposure); !ok {
		t.Errorf("payload type = %T, want BucketExposure", out[1].Payload)
	}
}

func TestFindingJSONLayout(t *testing.T) {
	f := NewFinding("PSBDMP", SeverityMedium, PasteLeak{URL: "u", Date: "d", Text: "t..."})
	data, _ := json.Marshal(f)
	got := string(data)
	for _, want := range []string{`"type":"PASTEBIN_LEAK"`, `"source":"PSBDMP"`, `"risk":"MEDIUM"`, `"data":{"url":"u"`} {
		if !strings.Contains(got, want) {
			t.Errorf("json %s missing %s", got, want)
		}
	}

	summary := Finding{Kind: KindAISummary, Source: "AI_SYNTHESIS", Payload: SynthesisRecord{}}
	data, _ = json.Marshal(summary)
	if strings.Contains(string(data), `"risk"`) {
		t.Errorf("synthesis record should not carry a risk: %s", data)
	}
}

func TestFindingUnknownType(t *testing.T) {
	var f Finding
	err := json.Unmarshal([]byte(`{"type":"NOPE","source":"x","data":{},"risk":"LOW"}`), &f)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestFindingValidate(t *testing.T) {
	ok := NewFinding("crt.sh", SeverityLow, CertSubdomain{Subdomain: "a.example.com"})
	if err := ok.Validate(); err != nil {
		t.Errorf("valid finding rejected: %v", err)
	}
	noSource := NewFinding("", SeverityLow, CertSubdomain{})
	if err := noSource.Validate(); err == nil {
		t.Error("finding without source accepted")
	}
	noRisk := NewFinding("crt.sh", SeverityNone, CertSubdomain{})
	if err := noRisk.Validate(); err == nil {
		t.Error("finding without severity accepted")
	}
	summary := Finding{Kind: KindAISummary, Payload: SynthesisRecord{}}
	if err := summary.Validate(); err != nil {
		t.Errorf("synthesis record rejected: %v", err)
	}
}

func TestCountFindingsExcludesSynthesis(t *testing.T) {
	findings := []Finding{
		NewFinding("a", SeverityCritical, CodeSecret{}),
		NewFinding("b", SeverityHigh, BreachRecord{}),
		{Kind: KindAISummary, Payload: SynthesisRecord{}},
	}
	total, counts := CountFindings(findings)
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if counts.Critical != 1 || counts.High != 1 || counts.Medium != 0 || counts.Low != 0 {
		t.Errorf("counts = %+v", counts)
	}
	if _, ok := SynthesisOf(findings); !ok {
		t.Error("synthesis record not found")
	}
	if n := len(WithoutSynthesis(findings)); n != 2 {
		t.Errorf("WithoutSynthesis len = %d", n)
	}
}

// -- Target --------------------------------------------------------------------

func TestParseTarget(t *testing.T) {
	cases := []struct {
		raw  string
		want TargetType
		err  bool
	}{
		{"jane.smith@company.com", TargetEmail, false},
		{"+14155552671", TargetPhone, false},
		{"+1 415-555-2671", TargetPhone, false},
		{"+999", "", true},
		{"jane_doe", TargetUsername, false},
		{"acme-corp-leak!", TargetKeyword, false},
		{"", "", true},
		{"two words", "", true},
	}
	for _, tc := range cases {
		got, err := ParseTarget(tc.raw)
		if tc.err {
			if !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("ParseTarget(%q) err = %v, want ErrInvalidTarget", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTarget(%q) unexpected error %v", tc.raw, err)
			continue
		}
		if got.Type != tc.want {
			t.Errorf("ParseTarget(%q) type = %s, want %s", tc.raw, got.Type, tc.want)
		}
	}
}

func TestTargetParts(t *testing.T) {
	tg := Target{Raw: "jane.smith@company.com", Type: TargetEmail}
	if tg.Handle() != "jane.smith" || tg.Domain() != "company.com" {
		t.Errorf("handle/domain = %q/%q", tg.Handle(), tg.Domain())
	}
	if tg.SafeName() != "jane.smith_at_company.com" {
		t.Errorf("SafeName = %q", tg.SafeName())
	}
	plain := Target{Raw: "jdoe", Type: TargetUsername}
	if plain.Handle() != "jdoe" || plain.Domain() != "jdoe" {
		t.Errorf("plain handle/domain = %q/%q", plain.Handle(), plain.Domain())
	}
}

func TestParseAggressionLevel(t *testing.T) {
	for in, want := range map[string]AggressionLevel{
		"GENTLE": LevelGentle, "normal": LevelNormal, "aggressive": LevelAggressive, "BLACK": LevelAggressive,
	} {
		got, err := ParseAggressionLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseAggressionLevel(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAggressionLevel("loud"); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("expected ErrInvalidLevel, got %v", err)
	}
}

// -- Config --------------------------------------------------------------------

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidateCollectsErrors(t *testing.T) {
	c := DefaultConfig()
	c.Level = "loud"
	c.Export = "pdf"
	c.MaxRetries = -1
	c.SchemaVersion = "3.1.0"
	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"level", "export", "max_retries", "schema_version"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	c := DefaultConfig()
	c.APIKeys[KeyGitHub] = "ghp_secret"
	c.RetryDelayBase = 3 * time.Second
	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded := DefaultConfig()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Credential(KeyGitHub) != "ghp_secret" || loaded.RetryDelayBase != 3*time.Second {
		t.Errorf("loaded config = %+v", loaded)
	}
	if loaded.Masked().APIKeys[KeyGitHub] == "ghp_secret" {
		t.Error("Masked leaked the credential")
	}
}
