package collectors

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const (
	defaultLinkedIn  = "https://www.linkedin.com"
	defaultTwitter   = "https://x.com"
	defaultInstagram = "https://www.instagram.com"
	defaultFacebook  = "https://www.facebook.com"
	defaultGitHubWeb = "https://github.com"
	defaultTikTok    = "https://www.tiktok.com"
)

var (
	followersPattern   = regexp.MustCompile(`([\d.,]+[KkMm]?)\s+Followers`)
	followingPattern   = regexp.MustCompile(`([\d.,]+[KkMm]?)\s+Following`)
	igFollowersPattern = regexp.MustCompile(`"edge_followed_by":\{"count":(\d+)\}`)
	igBiographyPattern = regexp.MustCompile(`"biography":"((?:[^"\\]|\\.)*)"`)
)

// SocialStage probes the major social platforms for a profile under the
// target's handle.
type SocialStage struct{}

func NewSocialStage() *SocialStage { return &SocialStage{} }

func (s *SocialStage) Name() string { return "social" }

func (s *SocialStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("username_cache", storage.SanitizeKeyPart(t.Raw)+"_social.json")
}

func (s *SocialStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	log := rc.stageLog(s.Name(), t)
	handle := strings.TrimSpace(t.Handle())
	if handle == "" {
		return nil
	}
	hc := rc.client()
	log.Infof("checking social platforms for %s", handle)

	paced := func(fn func(context.Context) ([]models.Finding, error)) func(context.Context) ([]models.Finding, error) {
		return func(ctx context.Context) ([]models.Finding, error) {
			rc.pace(ctx, level)
			return fn(ctx)
		}
	}
	lookups := []lookup{
		{"linkedin", paced(func(ctx context.Context) ([]models.Finding, error) { return s.linkedIn(ctx, handle, hc, rc) })},
		{"twitter", paced(func(ctx context.Context) ([]models.Finding, error) { return s.twitter(ctx, handle, hc, rc) })},
		{"instagram", paced(func(ctx context.Context) ([]models.Finding, error) { return s.instagram(ctx, handle, hc, rc) })},
		{"facebook", paced(func(ctx context.Context) ([]models.Finding, error) { return s.facebook(ctx, handle, hc, rc) })},
		{"github", paced(func(ctx context.Context) ([]models.Finding, error) {
			// a bare username was already checked against GitHub by the handle stage
			if handle == t.Raw {
				return nil, errSkipped
			}
			return s.github(ctx, handle, hc, rc)
		})},
		{"tiktok", paced(func(ctx context.Context) ([]models.Finding, error) { return s.tiktok(ctx, handle, hc, rc) })},
	}
	findings := runLookups(ctx, log, lookups)
	log.Infof("found %d social profiles", len(findings))
	return findings
}

func (s *SocialStage) fetch(ctx context.Context, hc *httpclient.Client, target string, params url.Values) (*httpclient.Response, error) {
	return hc.Do(ctx, &httpclient.Request{
		URL:         target,
		Params:      params,
		Accept:      []int{http.StatusOK, http.StatusNotFound},
		MaxAttempts: 1,
	})
}

func (s *SocialStage) linkedIn(ctx context.Context, handle string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	base := rc.endpoint("linkedin", defaultLinkedIn)
	resp, err := s.fetch(ctx, hc, base+"/search/results/all/", url.Values{"keywords": {handle}})
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, err
	}
	var profiles []string
	for _, link := range pageLinks(resp.Body) {
		if strings.Contains(link, "/in/") {
			profiles = append(profiles, strings.SplitN(link, "?", 2)[0])
		}
	}
	title := cases.Title(language.English)
	var out []models.Finding
	for _, link := range firstN(utils.RemoveDuplicates(profiles), 3) {
		slug := link[strings.LastIndex(strings.TrimRight(link, "/"), "/")+1:]
		slug = strings.TrimRight(slug, "/")
		out = append(out, models.NewFinding("LinkedIn", models.SeverityLow, models.LinkedInProfile{
			URL:    link,
			Name:   title.String(strings.ReplaceAll(slug, "-", " ")),
			Status: "Public profile found",
		}))
	}
	return out, nil
}

func (s *SocialStage) twitter(ctx context.Context, handle string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	profile := rc.endpoint("twitter", defaultTwitter) + "/" + url.PathEscape(handle)
	resp, err := s.fetch(ctx, hc, profile, nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, err
	}
	if _, ok := pageTitle(resp.Body); !ok || !containsFold(resp.Text(), handle) {
		return nil, nil
	}
	p := models.TwitterProfile{
		URL: profile,
		Bio: metaContent(resp.Body, "description", "og:description"),
	}
	text := documentText(resp.Body)
	if m := followersPattern.FindStringSubmatch(text); m != nil {
		p.Followers = m[1]
	}
	if m := followingPattern.FindStringSubmatch(text); m != nil {
		p.Following = m[1]
	}
	return []models.Finding{models.NewFinding("Twitter/X", models.SeverityLow, p)}, nil
}

func (s *SocialStage) instagram(ctx context.Context, handle string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	profile := rc.endpoint("instagram", defaultInstagram) + "/" + url.PathEscape(handle) + "/"
	resp, err := s.fetch(ctx, hc, profile, nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, err
	}
	body := resp.Text()
	if !strings.Contains(body, `"edge_followed_by"`) {
		return nil, nil
	}
	p := models.InstagramProfile{URL: profile}
	if m := igFollowersPattern.FindStringSubmatch(body); m != nil {
		p.Followers = m[1]
	}
	if m := igBiographyPattern.FindStringSubmatch(body); m != nil {
		p.Bio = m[1]
	}
	return []models.Finding{models.NewFinding("Instagram", models.SeverityLow, p)}, nil
}

func (s *SocialStage) facebook(ctx context.Context, handle string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	base := rc.endpoint("facebook", defaultFacebook)
	resp, err := s.fetch(ctx, hc, base+"/public/"+url.PathEscape(handle), nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, err
	}
	// a search landing page that never mentions the handle is not a match
	if !containsFold(resp.Text(), handle) {
		return nil, nil
	}
	host := hostOf(base)
	var profiles []string
	for _, link := range pageLinks(resp.Body) {
		if !strings.Contains(link, host) || strings.Contains(link, "profile.php") || strings.Contains(link, "/pages/") {
			continue
		}
		if strings.TrimRight(link, "/") == strings.TrimRight(base, "/") {
			continue
		}
		profiles = append(profiles, link)
	}
	var out []models.Finding
	for _, link := range firstN(profiles, 3) {
		out = append(out, models.NewFinding("Facebook", models.SeverityMedium, models.FacebookProfile{
			URL:  link,
			Note: "Public profile found via search, may require mutual connection to view full details",
		}))
	}
	return out, nil
}

func (s *SocialStage) github(ctx context.Context, handle string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	profile := rc.endpoint("github_web", defaultGitHubWeb) + "/" + url.PathEscape(handle)
	resp, err := s.fetch(ctx, hc, profile, nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse github profile: %w", err)
	}
	p := models.GitHubProfile{
		URL:  profile,
		Name: strings.TrimSpace(doc.Find(".p-name").First().Text()),
		Bio:  strings.TrimSpace(doc.Find(".p-note").First().Text()),
	}
	if src, ok := doc.Find("img.avatar-user").First().Attr("src"); ok {
		p.Avatar = src
	}
	p.Repos = strings.TrimSpace(doc.Find(`a[href$="?tab=repositories"] .Counter`).First().Text())
	p.Followers = strings.TrimSpace(doc.Find(`a[href$="?tab=followers"] .text-bold`).First().Text())
	return []models.Finding{models.NewFinding("GitHub", models.SeverityLow, p)}, nil
}

func (s *SocialStage) tiktok(ctx context.Context, handle string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	profile := rc.endpoint("tiktok", defaultTikTok) + "/@" + url.PathEscape(handle)
	resp, err := s.fetch(ctx, hc, profile, nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, err
	}
	if !strings.Contains(resp.Text(), `"userId"`) {
		return nil, nil
	}
	return []models.Finding{models.NewFinding("TikTok", models.SeverityLow, models.TikTokProfile{
		URL:    profile,
		Status: "Profile exists",
	})}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
