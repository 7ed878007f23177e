package collectors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

var codeQueries = []string{
	"%s in:file repo:openstack",
	"%s in:file repo:github",
	"%s type:commit",
	"%s extension:env",
	"%s extension:yaml",
	"%s extension:yml",
	"%s extension:conf",
	"%s extension:ini",
	"%s extension:json",
	"%s password",
	"%s token",
	"%s key",
	"%s secret",
}

var sensitiveKeyword = regexp.MustCompile(`(?i)key|token|secret|password|api|auth`)

const codeSnippetLen = 200

// CodeRepoStage searches public code for the target with a fixed query
// battery, or through a public search engine when no code-host credential
// is configured.
type CodeRepoStage struct{}

func NewCodeRepoStage() *CodeRepoStage { return &CodeRepoStage{} }

func (s *CodeRepoStage) Name() string { return "coderepo" }

func (s *CodeRepoStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("username_cache", storage.SanitizeKeyPart(t.Raw)+"_git.json")
}

func (s *CodeRepoStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	hc := rc.client()
	log := rc.stageLog(s.Name(), t)

	if hc.HasCredential(models.KeyGitHub) {
		log.Infof("running %d code search queries", len(codeQueries))
		findings := runLookups(ctx, log, s.queryLookups(t, hc, rc))
		log.Infof("code search finished with %d findings", len(findings))
		return findings
	}
	if !level.IsAggressive() {
		log.Info("no code-host credential, skipping code search")
		return nil
	}
	log.Info("no code-host credential, falling back to a public search dork")
	return runLookups(ctx, log, []lookup{
		{"code search dork", func(ctx context.Context) ([]models.Finding, error) { return s.searchFallback(ctx, t, hc, rc) }},
	})
}

func (s *CodeRepoStage) queryLookups(t models.Target, hc *httpclient.Client, rc *RunContext) []lookup {
	lookups := make([]lookup, 0, len(codeQueries))
	for _, pattern := range codeQueries {
		query := fmt.Sprintf(pattern, t.Raw)
		lookups = append(lookups, lookup{
			name: "github " + query,
			run: func(ctx context.Context) ([]models.Finding, error) {
				gh, err := newCodeSearch(ctx, rc, hc)
				if err != nil {
					return nil, err
				}
				hits, err := searchCode(ctx, gh, query, 5)
				if err != nil {
					return nil, err
				}
				var out []models.Finding
				for _, h := range hits {
					snippet := utils.Truncate(h.Snippet, codeSnippetLen, "")
					out = append(out, models.NewFinding("GitHub", classifySnippet(snippet), models.CodeLeak{
						File:      h.Path,
						Repo:      h.Repo,
						URL:       h.URL,
						Snippet:   snippet,
						CommitSHA: h.SHA,
						Query:     query,
					}))
				}
				return out, nil
			},
		})
	}
	return lookups
}

func classifySnippet(snippet string) models.Severity {
	if sensitiveKeyword.MatchString(snippet) {
		return models.SeverityCritical
	}
	return models.SeverityHigh
}

func (s *CodeRepoStage) searchFallback(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	resp, err := hc.Do(ctx, &httpclient.Request{
		URL:    rc.endpoint("search", defaultSearch) + "/search",
		Params: url.Values{"q": {t.Raw + " site:github.com"}},
	})
	if err != nil {
		return nil, err
	}
	if !strings.Contains(resp.Text(), "github.com") {
		return nil, nil
	}

	var hosted []string
	for _, link := range resultLinks(resp.Body) {
		if strings.Contains(link, "github.com/") {
			hosted = append(hosted, link)
		}
	}
	var out []models.Finding
	for _, link := range firstN(hosted, 3) {
		if !strings.Contains(link, "/blob/") && !strings.Contains(link, "/tree/") {
			continue
		}
		out = append(out, models.NewFinding("Google Search", models.SeverityMedium, models.CodeSearchMatch{
			URL:  link,
			Note: "Public exposure detected via Google index",
		}))
	}
	return out, nil
}
