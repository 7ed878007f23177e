package collectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/pkg/models"
)

const defaultGitHubAPI = "https://api.github.com"

// codeHit is the part of a code search result the stages record.
type codeHit struct {
	Name    string
	Path    string
	Repo    string
	URL     string
	SHA     string
	Snippet string
}

// newCodeSearch returns a code-host client authenticated with the github
// credential and bound to the stage's egress route.
func newCodeSearch(ctx context.Context, rc *RunContext, hc *httpclient.Client) (*github.Client, error) {
	token := hc.Credential(models.KeyGitHub)
	if token == "" {
		return nil, fmt.Errorf("%s: %w", models.KeyGitHub, ErrNoCredential)
	}
	octx := context.WithValue(ctx, oauth2.HTTPClient, hc.HTTPClient())
	gh := github.NewClient(oauth2.NewClient(octx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))

	base := rc.endpoint("github_api", defaultGitHubAPI)
	u, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("github api endpoint: %w", err)
	}
	gh.BaseURL = u
	gh.UserAgent = hc.UserAgent()
	return gh, nil
}

func searchCode(ctx context.Context, gh *github.Client, query string, limit int) ([]codeHit, error) {
	res, _, err := gh.Search.Code(ctx, query, &github.SearchOptions{
		TextMatch:   true,
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("code search %q: %w", query, err)
	}
	var hits []codeHit
	for _, r := range res.CodeResults {
		if len(hits) == limit {
			break
		}
		hit := codeHit{
			Name: r.GetName(),
			Path: r.GetPath(),
			Repo: r.GetRepository().GetFullName(),
			URL:  r.GetHTMLURL(),
			SHA:  r.GetSHA(),
		}
		for _, tm := range r.TextMatches {
			if frag := tm.GetFragment(); frag != "" {
				hit.Snippet = frag
				break
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
