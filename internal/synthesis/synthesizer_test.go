package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleFindings() []models.Finding {
	return []models.Finding{
		models.NewFinding("HaveIBeenPwned", models.SeverityHigh, models.BreachRecord{Email: "jane@example.com", Name: "Adobe"}),
		models.NewFinding("HaveIBeenPwned", models.SeverityHigh, models.BreachRecord{Email: "jane@example.com", Name: "LinkedIn"}),
		models.NewFinding("GitHub", models.SeverityCritical, models.CodeSecret{File: ".env"}),
		models.NewFinding("GitHub", models.SeverityLow, models.HandleFound{URL: "https://github.com/janedoe"}),
		models.NewFinding("Twitter/X", models.SeverityLow, models.TwitterProfile{URL: "https://x.com/janedoe"}),
		models.NewFinding("NumVerify", models.SeverityLow, models.PhoneValidation{Number: "+14155552671"}),
	}
}

func enabledConfig() *models.Config {
	cfg := models.DefaultConfig()
	cfg.AI.SummaryEnabled = true
	cfg.MaxRetries = 0
	return cfg
}

type stubBackend struct {
	name  string
	out   Narrative
	err   error
	calls int
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Generate(context.Context, string) (Narrative, error) {
	b.calls++
	return b.out, b.err
}

func TestSynthesizeDisabledMakesNoCalls(t *testing.T) {
	stub := &stubBackend{name: "stub"}
	s := NewSynthesizer(models.DefaultConfig(), nil, quietLogger()).WithBackends(stub)
	f := s.Synthesize(context.Background(), sampleFindings())

	rec := f.Payload.(models.SynthesisRecord)
	if stub.calls != 0 {
		t.Errorf("backend called %d times", stub.calls)
	}
	if rec.EthicalInsight != "" || rec.UnethicalAwareness != "" || rec.DigitalTwin.Exposure.Breaches != 0 {
		t.Errorf("disabled record = %+v", rec)
	}
	if f.Kind != models.KindAISummary || f.Validate() != nil {
		t.Errorf("finding = %+v", f)
	}
}

func TestDigitalTwinRollUp(t *testing.T) {
	twin, _ := buildDigitalTwin(sampleFindings())
	if !reflect.DeepEqual(twin.Identity.Emails, []string{"jane@example.com"}) {
		t.Errorf("emails = %v", twin.Identity.Emails)
	}
	if !reflect.DeepEqual(twin.Identity.Usernames, []string{"janedoe"}) {
		t.Errorf("usernames = %v", twin.Identity.Usernames)
	}
	if twin.Exposure != (models.ExposureCounts{Breaches: 2, Secrets: 1, SocialProfiles: 1}) {
		t.Errorf("exposure = %+v", twin.Exposure)
	}
	if twin.Behavior.TechExposure != "High" || twin.Behavior.PublicPresence != "Active" {
		t.Errorf("behavior = %+v", twin.Behavior)
	}

	quiet, _ := buildDigitalTwin(nil)
	if quiet.Behavior.TechExposure != "Low" || quiet.Behavior.PublicPresence != "Minimal" || quiet.Identity.Emails == nil {
		t.Errorf("empty twin = %+v", quiet)
	}
}

func TestSynthesizeFallsThroughBackends(t *testing.T) {
	failing := &stubBackend{name: "local", err: errors.New("connection refused")}
	blank := &stubBackend{name: "blank"}
	good := &stubBackend{name: "hosted", out: Narrative{EthicalInsight: "rotate passwords", UnethicalAwareness: "phishing"}}
	s := NewSynthesizer(enabledConfig(), nil, quietLogger()).WithBackends(failing, blank, good)

	rec := s.Synthesize(context.Background(), sampleFindings()).Payload.(models.SynthesisRecord)
	if rec.EthicalInsight != "rotate passwords" || rec.UnethicalAwareness != "phishing" {
		t.Errorf("record = %+v", rec)
	}
	if failing.calls != 1 || blank.calls != 1 || good.calls != 1 {
		t.Errorf("calls = %d %d %d", failing.calls, blank.calls, good.calls)
	}
}

func TestSynthesizeStaticFallback(t *testing.T) {
	s := NewSynthesizer(enabledConfig(), nil, quietLogger()).WithBackends(&stubBackend{name: "down", err: errors.New("boom")})
	rec := s.Synthesize(context.Background(), sampleFindings()).Payload.(models.SynthesisRecord)
	if rec.EthicalInsight != StaticEthicalInsight || rec.UnethicalAwareness != StaticUnethicalAwareness {
		t.Errorf("record = %+v", rec)
	}
	if rec.DigitalTwin.Exposure.Breaches != 2 {
		t.Errorf("roll-up missing from fallback: %+v", rec.DigitalTwin)
	}
}

func TestLocalBackendParsesLooseOutput(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{
			"response": "ethical_insight: \"Turn on MFA\"\nunethical_awareness: \"Credential stuffing\"",
		})
	}))
	defer srv.Close()

	cfg := enabledConfig()
	cfg.AI.LocalMode = true
	cfg.AI.LocalEndpoint = srv.URL
	s := NewSynthesizer(cfg, httpclient.New(cfg, quietLogger()), quietLogger())

	rec := s.Synthesize(context.Background(), sampleFindings()).Payload.(models.SynthesisRecord)
	if rec.EthicalInsight != "Turn on MFA" || rec.UnethicalAwareness != "Credential stuffing" {
		t.Errorf("record = %+v", rec)
	}
	if body["model"] != "llama3" || body["stream"] != false {
		t.Errorf("request body = %v", body)
	}
	if prompt, _ := body["prompt"].(string); !strings.Contains(prompt, `"Adobe"`) {
		t.Errorf("prompt missing breach names: %q", prompt)
	}
}

func TestHostedBackendExtractsJSON(t *testing.T) {
	var auth string
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		auth = r.Header.Get("Authorization")
		content := "Here you go:\n{\"ethical_insight\": \"Freeze credit\", \"unethical_awareness\": \"SIM swap\"}"
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": content}}},
		})
	}))
	defer srv.Close()

	cfg := enabledConfig()
	cfg.AI.Endpoint = srv.URL + "/v1/chat/completions"
	cfg.AI.APIKey = "sk-test"
	s := NewSynthesizer(cfg, httpclient.New(cfg, quietLogger()), quietLogger())

	rec := s.Synthesize(context.Background(), nil).Payload.(models.SynthesisRecord)
	if rec.EthicalInsight != "Freeze credit" || rec.UnethicalAwareness != "SIM swap" {
		t.Errorf("record = %+v", rec)
	}
	if n := atomic.LoadInt32(&calls); auth != "Bearer sk-test" || n != 1 {
		t.Errorf("auth = %q, calls = %d", auth, n)
	}
}

func TestParseNarrativeRejectsProse(t *testing.T) {
	if _, err := parseNarrative("no json here"); err == nil {
		t.Error("expected an error for prose")
	}
}
