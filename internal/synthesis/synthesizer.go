package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/pkg/models"
)

const (
	backendTimeout = 15 * time.Second
	sourceLabel    = "AI Synthesis"

	StaticEthicalInsight     = "Review all exposed credentials. Enable MFA everywhere. Monitor for new breaches."
	StaticUnethicalAwareness = "Attackers may combine breached passwords with social profiles to launch targeted phishing or credential stuffing attacks."
)

var ErrNoNarrative = errors.New("response carried no narrative fields")

// Narrative is the pair of free-text fields a backend produces.
type Narrative struct {
	EthicalInsight     string `json:"ethical_insight"`
	UnethicalAwareness string `json:"unethical_awareness"`
}

func (n Narrative) empty() bool {
	return n.EthicalInsight == "" && n.UnethicalAwareness == ""
}

// Backend turns a prompt into a narrative pair.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (Narrative, error)
}

type Synthesizer struct {
	cfg      *models.Config
	backends []Backend
	logger   *logrus.Logger
}

// NewSynthesizer selects backends from cfg: the local service when local
// mode is on, then the hosted service when a key is configured.
func NewSynthesizer(cfg *models.Config, client *httpclient.Client, logger *logrus.Logger) *Synthesizer {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	if client == nil {
		client = httpclient.New(cfg, logger)
	}
	s := &Synthesizer{cfg: cfg, logger: logger}
	if cfg.AI.LocalMode {
		s.backends = append(s.backends, &LocalBackend{
			Endpoint: cfg.AI.LocalEndpoint,
			Model:    cfg.AI.LocalModelName,
			client:   client,
		})
	}
	if strings.TrimSpace(cfg.AI.APIKey) != "" {
		s.backends = append(s.backends, &HostedBackend{
			Endpoint:    cfg.AI.Endpoint,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			MaxTokens:   cfg.AI.MaxTokens,
			Temperature: cfg.AI.Temperature,
			client:      client,
		})
	}
	return s
}

// WithBackends replaces the configured backends.
func (s *Synthesizer) WithBackends(backends ...Backend) *Synthesizer {
	s.backends = backends
	return s
}

// Synthesize never fails: when every backend errors the static narrative
// pair is used, and when the feature is off the record is left empty.
func (s *Synthesizer) Synthesize(ctx context.Context, findings []models.Finding) models.Finding {
	if !s.cfg.AI.SummaryEnabled {
		return models.Finding{Kind: models.KindAISummary, Source: sourceLabel, Payload: models.SynthesisRecord{
			DigitalTwin: emptyTwin(),
		}}
	}

	twin, f := buildDigitalTwin(findings)
	record := models.SynthesisRecord{DigitalTwin: twin}
	prompt := buildPrompt(f)

	for _, b := range s.backends {
		if ctx.Err() != nil {
			break
		}
		n, err := b.Generate(ctx, prompt)
		if err == nil && n.empty() {
			err = ErrNoNarrative
		}
		if err != nil {
			s.logger.WithField("backend", b.Name()).Warnf("narrative generation failed: %v", err)
			continue
		}
		record.EthicalInsight = n.EthicalInsight
		record.UnethicalAwareness = n.UnethicalAwareness
		return models.Finding{Kind: models.KindAISummary, Source: sourceLabel, Payload: record}
	}

	record.EthicalInsight = StaticEthicalInsight
	record.UnethicalAwareness = StaticUnethicalAwareness
	return models.Finding{Kind: models.KindAISummary, Source: sourceLabel, Payload: record}
}

// facts are the raw lists the prompt is built from. Identity lists in the
// twin are deduplicated; these keep every occurrence.
type facts struct {
	Emails         []string
	Phones         []string
	Usernames      []string
	Breaches       []string
	Secrets        []string
	SocialProfiles []string
}

func buildDigitalTwin(findings []models.Finding) (models.DigitalTwin, facts) {
	var f facts
	for _, finding := range findings {
		switch p := finding.Payload.(type) {
		case models.BreachRecord:
			if p.Email != "" {
				f.Emails = append(f.Emails, p.Email)
			}
			f.Breaches = append(f.Breaches, p.Name)
		case models.PhoneValidation:
			f.Phones = append(f.Phones, p.Number)
		case models.HandleFound:
			f.Usernames = append(f.Usernames, lastSegment(p.URL))
		case models.GitHubProfile:
			f.Usernames = append(f.Usernames, lastSegment(p.URL))
		case models.CodeSecret:
			f.Secrets = append(f.Secrets, p.File)
		case models.LinkedInProfile:
			f.SocialProfiles = append(f.SocialProfiles, p.URL)
		case models.TwitterProfile:
			f.SocialProfiles = append(f.SocialProfiles, p.URL)
		case models.InstagramProfile:
			f.SocialProfiles = append(f.SocialProfiles, p.URL)
		case models.FacebookProfile:
			f.SocialProfiles = append(f.SocialProfiles, p.URL)
		}
	}

	twin := models.DigitalTwin{
		Identity: models.IdentityFacts{
			Emails:    uniqueSorted(f.Emails),
			Phones:    uniqueSorted(f.Phones),
			Usernames: uniqueSorted(f.Usernames),
		},
		Exposure: models.ExposureCounts{
			Breaches:       len(f.Breaches),
			Secrets:        len(f.Secrets),
			SocialProfiles: len(f.SocialProfiles),
		},
		Behavior: models.BehaviorTags{TechExposure: "Low", PublicPresence: "Minimal"},
	}
	if len(f.Secrets) > 0 {
		twin.Behavior.TechExposure = "High"
	}
	if len(f.SocialProfiles) > 0 {
		twin.Behavior.PublicPresence = "Active"
	}
	return twin, f
}

func emptyTwin() models.DigitalTwin {
	return models.DigitalTwin{
		Identity: models.IdentityFacts{Emails: []string{}, Phones: []string{}, Usernames: []string{}},
	}
}

func buildPrompt(f facts) string {
	list := func(v []string) string {
		b, _ := json.Marshal(nonNil(v))
		return string(b)
	}
	var b strings.Builder
	b.WriteString("You are an AI security analyst. Analyze the following digital footprint:\n\n")
	fmt.Fprintf(&b, "Emails: %s\n", list(f.Emails))
	fmt.Fprintf(&b, "Phones: %s\n", list(f.Phones))
	fmt.Fprintf(&b, "Usernames: %s\n", list(f.Usernames))
	fmt.Fprintf(&b, "Breaches: %s\n", list(f.Breaches))
	fmt.Fprintf(&b, "Exposed Secrets: %s\n", list(f.Secrets))
	fmt.Fprintf(&b, "Social Profiles: %s\n\n", list(f.SocialProfiles))
	b.WriteString("Generate two responses:\n\n")
	b.WriteString("1. Ethical Insight: What should the target do to protect themselves? Be concise, actionable.\n")
	b.WriteString("2. Unethical Awareness: How might an attacker exploit this information? Describe tactics without giving instructions.\n\n")
	b.WriteString(`Format output as JSON with keys: "ethical_insight" and "unethical_awareness".` + "\n")
	b.WriteString("Do not include any other text.\n")
	return b.String()
}

// LocalBackend talks to a self-hosted generation service.
type LocalBackend struct {
	Endpoint string
	Model    string
	client   *httpclient.Client
}

func (l *LocalBackend) Name() string { return "local" }

func (l *LocalBackend) Generate(ctx context.Context, prompt string) (Narrative, error) {
	var res struct {
		Response string `json:"response"`
	}
	err := l.client.JSON(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         strings.TrimRight(l.Endpoint, "/") + "/api/generate",
		JSONBody:    map[string]interface{}{"model": l.Model, "prompt": prompt, "stream": false},
		Timeout:     backendTimeout,
		MaxAttempts: 1,
	}, &res)
	if err != nil {
		return Narrative{}, err
	}
	if n, err := parseNarrative(res.Response); err == nil {
		return n, nil
	}
	return parseNarrativeLines(res.Response), nil
}

// HostedBackend talks to an OpenAI-style chat completion endpoint.
type HostedBackend struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	client      *httpclient.Client
}

func (h *HostedBackend) Name() string { return "hosted" }

func (h *HostedBackend) Generate(ctx context.Context, prompt string) (Narrative, error) {
	var res struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	err := h.client.JSON(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    h.Endpoint,
		Header: http.Header{"Authorization": {"Bearer " + h.APIKey}},
		JSONBody: map[string]interface{}{
			"model":       h.Model,
			"messages":    []map[string]string{{"role": "user", "content": prompt}},
			"max_tokens":  h.MaxTokens,
			"temperature": h.Temperature,
		},
		Timeout:     backendTimeout,
		MaxAttempts: 1,
	}, &res)
	if err != nil {
		return Narrative{}, err
	}
	if len(res.Choices) == 0 {
		return Narrative{}, fmt.Errorf("completion has no choices")
	}
	return parseNarrative(res.Choices[0].Message.Content)
}

// parseNarrative decodes the outermost JSON object found in content.
func parseNarrative(content string) (Narrative, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Narrative{}, fmt.Errorf("no JSON object in response")
	}
	var n Narrative
	if err := json.Unmarshal([]byte(content[start:end+1]), &n); err != nil {
		return Narrative{}, fmt.Errorf("decode narrative: %w", err)
	}
	return n, nil
}

// parseNarrativeLines recovers "key: value" lines from loosely formatted
// output.
func parseNarrativeLines(content string) Narrative {
	var n Narrative
	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(line)
		i := strings.Index(line, ":")
		if i < 0 {
			continue
		}
		value := strings.Trim(strings.TrimSpace(line[i+1:]), `",`)
		switch {
		case strings.Contains(lower, "unethical_awareness"):
			n.UnethicalAwareness = value
		case strings.Contains(lower, "ethical_insight"):
			n.EthicalInsight = value
		}
	}
	return n
}

func lastSegment(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := []string{}
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
