package collectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const (
	defaultHIBP   = "https://haveibeenpwned.com/api/v3"
	defaultPSBDMP = "https://psbdmp.ws/api"
	defaultHunter = "https://api.hunter.io/v2"
	defaultIntelX = "https://intelx.io/api"
)

// BreachStage looks the target up in breach directories, paste dumps, code
// search, mail verification and a leak index.
type BreachStage struct{}

func NewBreachStage() *BreachStage { return &BreachStage{} }

func (s *BreachStage) Name() string { return "breach" }

func (s *BreachStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("email_cache", storage.SanitizeKeyPart(t.Raw)+".json")
}

func (s *BreachStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	hc := rc.client()
	log := rc.stageLog(s.Name(), t)
	log.Info("starting breach lookups")

	findings := runLookups(ctx, log, []lookup{
		{"haveibeenpwned", func(ctx context.Context) ([]models.Finding, error) { return s.breaches(ctx, t, hc, rc) }},
		{"psbdmp", func(ctx context.Context) ([]models.Finding, error) { return s.pastes(ctx, t, hc, rc) }},
		{"github", func(ctx context.Context) ([]models.Finding, error) { return s.codeSecrets(ctx, t, hc, rc) }},
		{"hunter.io", func(ctx context.Context) ([]models.Finding, error) { return s.mailVerification(ctx, t, hc, rc) }},
		{"intelx", func(ctx context.Context) ([]models.Finding, error) { return s.leakIndex(ctx, t, hc, rc) }},
	})
	log.Infof("breach lookups finished with %d findings", len(findings))
	return findings
}

type hibpBreach struct {
	Name       string `json:"Name"`
	Domain     string `json:"Domain"`
	BreachDate string `json:"BreachDate"`
	PwnCount   int64  `json:"PwnCount"`
	IsVerified bool   `json:"IsVerified"`
}

func (s *BreachStage) breaches(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyHIBP) {
		return nil, fmt.Errorf("%s: %w", models.KeyHIBP, ErrNoCredential)
	}
	resp, err := hc.Do(ctx, &httpclient.Request{
		URL:        rc.endpoint("haveibeenpwned", defaultHIBP) + "/breachedaccount/" + url.PathEscape(t.Raw),
		Credential: models.KeyHIBP,
		Auth:       httpclient.AuthHeader,
		AuthName:   "hibp-api-key",
		Params:     url.Values{"truncateResponse": {"false"}},
		Accept:     []int{http.StatusOK, http.StatusNotFound},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	var breaches []hibpBreach
	if err := resp.DecodeJSON(&breaches); err != nil {
		return nil, err
	}
	var out []models.Finding
	for _, b := range breaches {
		out = append(out, models.NewFinding("HaveIBeenPwned", models.SeverityHigh, models.BreachRecord{
			Email:      t.Raw,
			Name:       b.Name,
			Domain:     b.Domain,
			BreachDate: b.BreachDate,
			PwnCount:   b.PwnCount,
			IsVerified: b.IsVerified,
		}))
	}
	return out, nil
}

type pasteSearch struct {
	Count int `json:"count"`
	Data  []struct {
		ID   string `json:"id"`
		URL  string `json:"url"`
		Date string `json:"date"`
		Time string `json:"time"`
		Text string `json:"text"`
	} `json:"data"`
}

func (s *BreachStage) pastes(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	var res pasteSearch
	err := hc.JSON(ctx, &httpclient.Request{
		URL: rc.endpoint("psbdmp", defaultPSBDMP) + "/search/" + url.PathEscape(t.Raw),
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Count == 0 {
		return nil, nil
	}
	var out []models.Finding
	for _, p := range res.Data {
		link := p.URL
		if link == "" && p.ID != "" {
			link = "https://pastebin.com/" + p.ID
		}
		date := p.Date
		if date == "" {
			date = p.Time
		}
		out = append(out, models.NewFinding("PSBDMP", models.SeverityMedium, models.PasteLeak{
			URL:  link,
			Date: date,
			Text: utils.Truncate(p.Text, 100, "..."),
		}))
	}
	return out, nil
}

func (s *BreachStage) codeSecrets(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	gh, err := newCodeSearch(ctx, rc, hc)
	if err != nil {
		return nil, err
	}
	hits, err := searchCode(ctx, gh, fmt.Sprintf("%q in:file", t.Raw), 5)
	if err != nil {
		return nil, err
	}
	var out []models.Finding
	for _, h := range hits {
		out = append(out, models.NewFinding("GitHub", models.SeverityCritical, models.CodeSecret{
			File: h.Name,
			Path: h.Path,
			Repo: h.Repo,
			URL:  h.URL,
		}))
	}
	return out, nil
}

type hunterDomainSearch struct {
	Data struct {
		Emails []struct {
			Value      string `json:"value"`
			Confidence int    `json:"confidence"`
			FirstName  string `json:"first_name"`
			LastName   string `json:"last_name"`
			Position   string `json:"position"`
		} `json:"emails"`
	} `json:"data"`
}

func (s *BreachStage) mailVerification(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !t.IsEmail() {
		return nil, errSkipped
	}
	if !hc.HasCredential(models.KeyHunter) {
		return nil, fmt.Errorf("%s: %w", models.KeyHunter, ErrNoCredential)
	}
	var res hunterDomainSearch
	err := hc.JSON(ctx, &httpclient.Request{
		URL:        rc.endpoint("hunterio", defaultHunter) + "/domain-search",
		Credential: models.KeyHunter,
		Auth:       httpclient.AuthQuery,
		AuthName:   "api_key",
		Params:     url.Values{"domain": {t.Domain()}},
	}, &res)
	if err != nil {
		return nil, err
	}
	var out []models.Finding
	for _, e := range res.Data.Emails {
		if e.Value != t.Raw {
			continue
		}
		out = append(out, models.NewFinding("Hunter.io", models.SeverityLow, models.MailVerification{
			Email:      e.Value,
			Confidence: e.Confidence,
			FirstName:  e.FirstName,
			LastName:   e.LastName,
			Role:       e.Position,
		}))
	}
	return out, nil
}

type leakIndexSearch struct {
	Results []struct {
		Title  string `json:"title"`
		Date   string `json:"date"`
		Source string `json:"source"`
		Count  int    `json:"count"`
	} `json:"results"`
}

func (s *BreachStage) leakIndex(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyIntelX) {
		return nil, fmt.Errorf("%s: %w", models.KeyIntelX, ErrNoCredential)
	}
	var res leakIndexSearch
	err := hc.JSON(ctx, &httpclient.Request{
		Method:     http.MethodPost,
		URL:        rc.endpoint("intelx", defaultIntelX) + "/search",
		Credential: models.KeyIntelX,
		Auth:       httpclient.AuthHeader,
		AuthName:   "x-key",
		JSONBody:   map[string]interface{}{"term": t.Raw, "type": "email", "limit": 5},
	}, &res)
	if err != nil {
		return nil, err
	}
	var out []models.Finding
	for _, r := range res.Results {
		out = append(out, models.NewFinding("IntelX", models.SeverityHigh, models.LeakIndexHit{
			Title:  r.Title,
			Date:   r.Date,
			Origin: r.Source,
			Count:  r.Count,
		}))
	}
	return out, nil
}
