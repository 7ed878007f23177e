package collectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const (
	defaultWayback = "https://web.archive.org"
	defaultSearch  = "https://www.google.com"

	siteCheckConcurrency = 8
)

// Site describes how to tell whether a handle exists on one platform. URL
// is a format string taking the handle. A site with NotFoundMessage is
// judged by body content, otherwise by status code.
type Site struct {
	Name            string
	URL             string
	NotFoundMessage string
}

var DefaultSites = []Site{
	{Name: "GitHub", URL: "https://github.com/%s"},
	{Name: "GitLab", URL: "https://gitlab.com/%s"},
	{Name: "Reddit", URL: "https://www.reddit.com/user/%s", NotFoundMessage: "Sorry, nobody on Reddit goes by that name"},
	{Name: "Twitter", URL: "https://x.com/%s"},
	{Name: "Instagram", URL: "https://www.instagram.com/%s/"},
	{Name: "TikTok", URL: "https://www.tiktok.com/@%s"},
	{Name: "Medium", URL: "https://medium.com/@%s"},
	{Name: "DEV Community", URL: "https://dev.to/%s"},
	{Name: "Keybase", URL: "https://keybase.io/%s"},
	{Name: "HackerNews", URL: "https://news.ycombinator.com/user?id=%s", NotFoundMessage: "No such user."},
	{Name: "Pinterest", URL: "https://www.pinterest.com/%s/"},
	{Name: "Twitch", URL: "https://www.twitch.tv/%s"},
	{Name: "SoundCloud", URL: "https://soundcloud.com/%s"},
	{Name: "Steam", URL: "https://steamcommunity.com/id/%s", NotFoundMessage: "The specified profile could not be found"},
	{Name: "Docker Hub", URL: "https://hub.docker.com/u/%s"},
	{Name: "npm", URL: "https://www.npmjs.com/~%s"},
	{Name: "PyPI", URL: "https://pypi.org/user/%s/"},
	{Name: "Replit", URL: "https://replit.com/@%s"},
	{Name: "Patreon", URL: "https://www.patreon.com/%s"},
	{Name: "Vimeo", URL: "https://vimeo.com/%s"},
	{Name: "About.me", URL: "https://about.me/%s"},
}

// archivePlatforms are checked for snapshots of /{target} in the web archive.
var archivePlatforms = []string{"facebook.com", "instagram.com", "twitter.com", "linkedin.com", "github.com"}

var searchDorks = []string{
	`intitle:"%s"`,
	`site:github.com "%s"`,
	`site:twitter.com "%s"`,
	`site:instagram.com "%s"`,
	`"%s" "email"`,
	`"%s" "phone"`,
}

// HandleStage checks handle existence across a site table and, at the
// aggressive level, archives found profiles and searches the public web.
type HandleStage struct {
	Sites []Site
}

func NewHandleStage() *HandleStage { return &HandleStage{Sites: DefaultSites} }

func (s *HandleStage) Name() string { return "handle" }

func (s *HandleStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("username_cache", storage.SanitizeKeyPart(t.Raw)+".json")
}

func (s *HandleStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	hc := rc.client()
	log := rc.stageLog(s.Name(), t)
	log.Infof("checking handle %q on %d sites", t.Handle(), len(s.Sites))

	findings := s.checkSites(ctx, t.Handle(), level, hc, rc)

	if level.IsAggressive() {
		for i := range findings {
			found, ok := findings[i].Payload.(models.HandleFound)
			if !ok {
				continue
			}
			archived, err := s.saveSnapshot(ctx, found.URL, hc, rc)
			if err != nil {
				log.Warnf("archive of %s failed: %v", found.URL, err)
				continue
			}
			found.ArchivedURL = archived
			findings[i].Payload = found
		}

		findings = append(findings, runLookups(ctx, log, []lookup{
			{"wayback", func(ctx context.Context) ([]models.Finding, error) { return s.archiveHistory(ctx, t, hc, rc) }},
			{"search dorks", func(ctx context.Context) ([]models.Finding, error) { return s.searchDorks(ctx, t, hc, rc) }},
		})...)
	}

	log.Infof("handle checks finished with %d findings", len(findings))
	return findings
}

// checkSites probes every site concurrently and returns results in table
// order.
func (s *HandleStage) checkSites(ctx context.Context, handle string, level models.AggressionLevel, hc *httpclient.Client, rc *RunContext) []models.Finding {
	log := rc.logger().WithField("stage", s.Name())
	results := make([]*models.Finding, len(s.Sites))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(siteCheckConcurrency)
	for i, site := range s.Sites {
		i, site := i, site
		g.Go(func() error {
			rc.pace(gctx, level)
			f, err := s.checkSite(gctx, site, handle, hc)
			if err != nil {
				log.Debugf("%s check inconclusive: %v", site.Name, err)
				return nil
			}
			results[i] = f
			return nil
		})
	}
	_ = g.Wait()

	var out []models.Finding
	for _, f := range results {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

func (s *HandleStage) checkSite(ctx context.Context, site Site, handle string, hc *httpclient.Client) (*models.Finding, error) {
	profile := fmt.Sprintf(site.URL, url.PathEscape(handle))
	resp, err := hc.Do(ctx, &httpclient.Request{
		URL:         profile,
		Accept:      []int{http.StatusOK, http.StatusNotFound, http.StatusGone},
		MaxAttempts: 1,
	})
	if err != nil {
		return nil, err
	}

	exists := resp.StatusCode == http.StatusOK
	if exists && site.NotFoundMessage != "" && strings.Contains(resp.Text(), site.NotFoundMessage) {
		exists = false
	}
	if !exists {
		f := models.NewFinding(site.Name, models.SeverityLow, models.HandleNotFound{
			Site:   site.Name,
			Status: "deleted",
			Reason: "Profile not found on site",
		})
		return &f, nil
	}

	f := models.NewFinding(site.Name, models.SeverityLow, models.HandleFound{
		Site:     site.Name,
		URL:      profile,
		Status:   "active",
		LastSeen: "Unknown",
		Bio:      utils.Truncate(metaContent(resp.Body, "description", "og:description"), 160, "..."),
	})
	return &f, nil
}

func (s *HandleStage) saveSnapshot(ctx context.Context, profile string, hc *httpclient.Client, rc *RunContext) (string, error) {
	base := rc.endpoint("wayback", defaultWayback)
	resp, err := hc.Do(ctx, &httpclient.Request{
		URL:         base + "/save/" + profile,
		MaxAttempts: 1,
	})
	if err != nil {
		return "", err
	}
	if loc := resp.Header.Get("Content-Location"); loc != "" {
		return base + loc, nil
	}
	if strings.Contains(resp.FinalURL, "/web/") {
		return resp.FinalURL, nil
	}
	return "", fmt.Errorf("archive response for %s carried no snapshot location", profile)
}

func (s *HandleStage) archiveHistory(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	base := rc.endpoint("wayback", defaultWayback)
	var out []models.Finding
	for _, platform := range archivePlatforms {
		page := platform + "/" + t.Raw
		var rows [][]string
		err := hc.JSON(ctx, &httpclient.Request{
			URL:    base + "/cdx/search/cdx",
			Params: url.Values{"url": {page}, "output": {"json"}, "limit": {"3"}},
		}, &rows)
		if err != nil {
			rc.logger().Debugf("no archive history for %s: %v", page, err)
			continue
		}
		if len(rows) < 2 {
			continue
		}
		for _, row := range firstRows(rows[1:], 3) {
			if len(row) < 3 {
				continue
			}
			ts, original := row[1], row[2]
			out = append(out, models.NewFinding("Wayback Machine", models.SeverityMedium, models.ArchivedSnapshot{
				URL:         original,
				Timestamp:   ts,
				ArchiveLink: fmt.Sprintf("%s/web/%s/%s", base, ts, original),
			}))
		}
	}
	return out, nil
}

func (s *HandleStage) searchDorks(ctx context.Context, t models.Target, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	base := rc.endpoint("search", defaultSearch)
	var out []models.Finding
	for _, pattern := range searchDorks {
		dork := fmt.Sprintf(pattern, t.Raw)
		resp, err := hc.Do(ctx, &httpclient.Request{
			URL:    base + "/search",
			Params: url.Values{"q": {dork}},
		})
		if err != nil {
			rc.logger().Debugf("dork %s failed: %v", dork, err)
			continue
		}
		if !strings.Contains(resp.Text(), t.Raw) {
			continue
		}
		snippet := snippetFrom(documentText(resp.Body), t.Raw, 200)
		for _, link := range firstN(resultLinks(resp.Body), 3) {
			out = append(out, models.NewFinding("Google Dork", models.SeverityLow, models.SearchMatch{
				Dork:    dork,
				URL:     link,
				Snippet: snippet,
			}))
		}
	}
	return out, nil
}

func firstRows(rows [][]string, n int) [][]string {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
