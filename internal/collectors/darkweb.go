package collectors

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bl4ck0w1/idlynx/internal/evasion/proxies"
	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const (
	darkWebTimeout  = 15 * time.Second
	darkWebPause    = 2 * time.Second
	darkWebMinBody  = 100
	darkWebSnippet  = 150
	darkWebMaxLinks = 3
)

// DefaultMirrors are search endpoints reachable only through the relay.
// The encoded target is appended to each.
var DefaultMirrors = []string{
	"http://pastebinsxq3l3o.onion/search?q=",
	"http://breachforum24n6z.onion/search?q=",
	"http://leakbase2v3y4g.onion/search?q=",
	"http://darksearchio2u5m.onion/search?q=",
}

var darkWebQueryEscaper = strings.NewReplacer("@", "%40", ".", "%2E")

// DarkWebStage searches relay-only mirrors for the target.
type DarkWebStage struct {
	Mirrors []string
}

func NewDarkWebStage() *DarkWebStage { return &DarkWebStage{Mirrors: DefaultMirrors} }

func (s *DarkWebStage) Name() string { return "darkweb" }

func (s *DarkWebStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("darkweb_cache", storage.SanitizeKeyPart(t.Raw)+".json")
}

func (s *DarkWebStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	log := rc.stageLog(s.Name(), t)
	cfg := rc.config()
	if !cfg.UseTor {
		log.Info("relay disabled, skipping dark web mirrors")
		return nil
	}

	hc := rc.client()
	if cfg.TorSocksAddr != "" {
		hc = hc.WithRoute(proxies.RelayRoute(cfg.TorSocksAddr))
	}

	mirrors := s.Mirrors
	if override := rc.endpoint("darkweb", ""); override != "" {
		mirrors = strings.Split(override, ",")
	}

	query := darkWebQueryEscaper.Replace(t.Raw)
	var out []models.Finding
	for _, mirror := range mirrors {
		if ctx.Err() != nil {
			break
		}
		mirror = strings.TrimSpace(mirror)
		found, answered, err := s.searchMirror(ctx, hc, mirror, query)
		if err != nil {
			log.Warnf("mirror %s unreachable: %v", utils.MaskURLSecrets(mirror), err)
			continue
		}
		if !answered {
			continue
		}
		out = append(out, found...)

		// every answering mirror gets a fresh circuit before the next one
		if rc.Relay != nil {
			if err := rc.Relay.NewIdentity(ctx); err != nil {
				log.Warnf("relay identity rotation failed: %v", err)
			}
		}
		if err := rc.sleep(ctx, darkWebPause); err != nil {
			break
		}
	}
	log.Infof("dark web search finished with %d findings", len(out))
	return out
}

// searchMirror reports answered when the mirror returned a usable page,
// whether or not it carried any links.
func (s *DarkWebStage) searchMirror(ctx context.Context, hc *httpclient.Client, mirror, query string) ([]models.Finding, bool, error) {
	resp, err := hc.Do(ctx, &httpclient.Request{
		URL:     mirror + query,
		Timeout: darkWebTimeout,
		Accept:  []int{http.StatusOK, http.StatusNotFound},
	})
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) <= darkWebMinBody {
		return nil, false, nil
	}

	snippet := textByClass(resp.Body, "snippet")
	if snippet != "" {
		snippet = utils.Truncate(snippet, darkWebSnippet, "...")
	}
	source := mirrorHost(mirror)

	var out []models.Finding
	for _, link := range firstN(pageLinks(resp.Body), darkWebMaxLinks) {
		out = append(out, models.NewFinding(source, models.SeverityCritical, models.DarkWebLeak{
			Link:        link,
			Snippet:     snippet,
			ContentHash: utils.ContentHash([]byte(link + "\n" + snippet)),
		}))
	}
	return out, true, nil
}

func mirrorHost(mirror string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(mirror, "http://"), "https://")
	if i := strings.IndexAny(host, "/?"); i >= 0 {
		host = host[:i]
	}
	return host
}
