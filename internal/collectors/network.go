package collectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"github.com/bl4ck0w1/idlynx/internal/discovery/ctlogs"
	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/internal/validation/dns"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const (
	defaultShodan = "https://api.shodan.io"
	defaultCensys = "https://search.censys.io/api/v2"

	bucketProbeTimeout = 5 * time.Second
	certLookupLimit    = 5
	whoisTimeout       = 15 * time.Second
)

var bucketPrefixes = []string{"", "prod-", "staging-", "dev-", "backup-", "static-", "cdn-"}

// WhoisFunc returns the raw registration record for a domain.
type WhoisFunc func(ctx context.Context, domain string) (string, error)

// NetworkStage maps the infrastructure behind the target's domain.
type NetworkStage struct {
	Whois WhoisFunc
}

func NewNetworkStage() *NetworkStage { return &NetworkStage{Whois: defaultWhois} }

func (s *NetworkStage) Name() string { return "network" }

func (s *NetworkStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("phone_cache", storage.SanitizeKeyPart(t.Raw)+"_network.json")
}

func (s *NetworkStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	log := rc.stageLog(s.Name(), t)
	domain := strings.ToLower(strings.TrimSpace(t.Domain()))
	if !utils.IsValidDomain(domain) {
		log.Debugf("%q is not a domain, skipping network recon", domain)
		return nil
	}
	hc := rc.client()
	log.Infof("starting network recon for %s", domain)

	findings := runLookups(ctx, log, []lookup{
		{"shodan", func(ctx context.Context) ([]models.Finding, error) { return s.shodan(ctx, domain, hc, rc) }},
		{"censys", func(ctx context.Context) ([]models.Finding, error) { return s.censys(ctx, domain, hc, rc) }},
		{"crt.sh", func(ctx context.Context) ([]models.Finding, error) { return s.certificates(ctx, domain, level, hc, rc) }},
		{"s3", func(ctx context.Context) ([]models.Finding, error) { return s.buckets(ctx, domain, hc, rc) }},
		{"mail dns", func(ctx context.Context) ([]models.Finding, error) { return s.mailPosture(ctx, ctlogs.RootDomain(domain), rc) }},
		{"whois", func(ctx context.Context) ([]models.Finding, error) {
			if level == models.LevelGentle {
				return nil, errSkipped
			}
			return s.whoisRecord(ctx, ctlogs.RootDomain(domain))
		}},
	})
	log.Infof("network recon finished with %d findings", len(findings))
	return findings
}

type shodanDomain struct {
	Subdomains []string `json:"subdomains"`
	Data       []struct {
		Subdomain string `json:"subdomain"`
		Type      string `json:"type"`
		Value     string `json:"value"`
		Ports     []int  `json:"ports"`
	} `json:"data"`
}

func (s *NetworkStage) shodan(ctx context.Context, domain string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyShodan) {
		return nil, fmt.Errorf("%s: %w", models.KeyShodan, ErrNoCredential)
	}
	var res shodanDomain
	err := hc.JSON(ctx, &httpclient.Request{
		URL:        rc.endpoint("shodan", defaultShodan) + "/dns/domain/" + url.PathEscape(domain),
		Credential: models.KeyShodan,
		Auth:       httpclient.AuthQuery,
		AuthName:   "key",
	}, &res)
	if err != nil {
		return nil, err
	}

	var order []string
	hosts := make(map[string]*models.ShodanSubdomain)
	add := func(label string) *models.ShodanSubdomain {
		name := domain
		if label != "" {
			name = label + "." + domain
		}
		if h, ok := hosts[name]; ok {
			return h
		}
		h := &models.ShodanSubdomain{Subdomain: name, Ports: []int{}, Service: "DNS Record"}
		hosts[name] = h
		order = append(order, name)
		return h
	}
	for _, rec := range res.Data {
		h := add(rec.Subdomain)
		if rec.Type == "A" && h.IP == "" {
			h.IP = rec.Value
		}
		h.Ports = append(h.Ports, rec.Ports...)
	}
	for _, label := range res.Subdomains {
		add(label)
	}

	var out []models.Finding
	for _, name := range order {
		out = append(out, models.NewFinding("Shodan", models.SeverityLow, *hosts[name]))
	}
	return out, nil
}

type censysHit struct {
	IP    string   `json:"ip"`
	Names []string `json:"names"`
	DNS   struct {
		Names []string `json:"names"`
	} `json:"dns"`
	Services []struct {
		ServiceName string `json:"service_name"`
		Port        int    `json:"port"`
		Certificate string `json:"certificate"`
	} `json:"services"`
}

type censysSearch struct {
	Result struct {
		Hits []censysHit `json:"hits"`
	} `json:"result"`
}

func (s *NetworkStage) censys(ctx context.Context, domain string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyCensys) {
		return nil, fmt.Errorf("%s: %w", models.KeyCensys, ErrNoCredential)
	}
	var res censysSearch
	err := hc.JSON(ctx, &httpclient.Request{
		URL:        rc.endpoint("censys", defaultCensys) + "/hosts/search",
		Credential: models.KeyCensys,
		Auth:       httpclient.AuthBasic,
		Params:     url.Values{"q": {"names:" + domain}, "per_page": {"5"}},
	}, &res)
	if err != nil {
		return nil, err
	}

	var out []models.Finding
	for _, hit := range res.Result.Hits {
		services := []string{}
		certs := []string{}
		for _, svc := range hit.Services {
			services = append(services, fmt.Sprintf("%s/%d", svc.ServiceName, svc.Port))
			if svc.Certificate != "" {
				certs = append(certs, svc.Certificate)
			}
		}
		names := append(append([]string{}, hit.Names...), hit.DNS.Names...)
		for _, name := range utils.RemoveDuplicates(names) {
			out = append(out, models.NewFinding("Censys", models.SeverityMedium, models.CensysSubdomain{
				Subdomain:    name,
				IP:           hit.IP,
				Services:     services,
				Certificates: certs,
			}))
		}
	}
	return out, nil
}

// certificates lists names from the certificate logs. At the aggressive
// level the first few certificates are downloaded and their SANs added.
func (s *NetworkStage) certificates(ctx context.Context, domain string, level models.AggressionLevel, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	searcher := ctlogs.NewSearcher(rc.endpoint("crtsh", ctlogs.DefaultSearchBase), hc, rc.logger())
	records, err := searcher.Subdomains(ctx, domain)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(records))
	var out []models.Finding
	for _, r := range records {
		seen[r.Name] = true
		out = append(out, models.NewFinding("crt.sh", models.SeverityLow, models.CertSubdomain{
			Subdomain: r.Name,
			Issued:    r.Issued,
			Issuer:    r.Issuer,
		}))
	}
	if !level.IsAggressive() {
		return out, nil
	}

	fetched := make(map[int64]bool)
	for _, r := range records {
		if len(fetched) == certLookupLimit || ctx.Err() != nil {
			break
		}
		if fetched[r.CertID] || r.CertID == 0 {
			continue
		}
		fetched[r.CertID] = true
		info, err := searcher.Certificate(ctx, r.CertID, domain)
		if err != nil {
			rc.logger().Debugf("certificate %d unavailable: %v", r.CertID, err)
			continue
		}
		for _, name := range info.Names {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, models.NewFinding("crt.sh", models.SeverityLow, models.CertSubdomain{
				Subdomain: name,
				Issued:    info.NotBefore.UTC().Format("2006-01-02T15:04:05"),
				Issuer:    info.Issuer,
			}))
		}
	}
	return out, nil
}

func (s *NetworkStage) buckets(ctx context.Context, domain string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	override := rc.endpoint("s3", "")
	var out []models.Finding
	for _, prefix := range bucketPrefixes {
		bucket := prefix + domain
		target := "https://" + bucket + ".s3.amazonaws.com"
		if override != "" {
			target = override + "/" + bucket
		}
		resp, err := hc.Do(ctx, &httpclient.Request{
			Method:      http.MethodHead,
			URL:         target,
			Timeout:     bucketProbeTimeout,
			Accept:      []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound},
			MaxAttempts: 1,
		})
		if err != nil {
			rc.logger().Debugf("bucket %s probe failed: %v", bucket, err)
			continue
		}
		switch resp.StatusCode {
		case http.StatusForbidden:
			out = append(out, models.NewFinding("AWS S3", models.SeverityHigh, models.BucketProbe{
				Bucket: bucket,
				Status: "Access Denied (likely exists)",
			}))
		case http.StatusOK:
			out = append(out, models.NewFinding("AWS S3", models.SeverityCritical, models.BucketExposure{
				Bucket: bucket,
				Status: "PUBLICLY ACCESSIBLE",
			}))
		}
	}
	return out, nil
}

func (s *NetworkStage) mailPosture(ctx context.Context, domain string, rc *RunContext) ([]models.Finding, error) {
	var servers []string
	if addr := rc.endpoint("dns", ""); addr != "" {
		servers = strings.Split(addr, ",")
	}
	res := dns.NewResolver(servers, rc.config().RequestTimeout, rc.config().MaxRetries, 2, rc.logger())
	p, err := dns.NewRecordAnalyzer(rc.logger()).MailPosture(ctx, res, domain)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, nil
	}
	sev := models.SeverityLow
	if p.Weak() {
		sev = models.SeverityMedium
	}
	mx := p.MX
	if mx == nil {
		mx = []string{}
	}
	return []models.Finding{models.NewFinding("DNS", sev, models.DNSPosture{
		Domain: domain,
		MX:     mx,
		SPF:    p.SPF,
		DMARC:  p.DMARC,
		Issue:  strings.Join(p.Issues, "; "),
	})}, nil
}

func (s *NetworkStage) whoisRecord(ctx context.Context, domain string) ([]models.Finding, error) {
	if s.Whois == nil {
		return nil, errSkipped
	}
	raw, err := s.Whois(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("whois %s: %w", domain, err)
	}
	info, err := whoisparser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse whois for %s: %w", domain, err)
	}

	rec := models.WhoisRecord{Domain: domain, NameServers: []string{}}
	if info.Domain != nil {
		rec.Created = info.Domain.CreatedDate
		rec.Expires = info.Domain.ExpirationDate
		if info.Domain.NameServers != nil {
			rec.NameServers = info.Domain.NameServers
		}
	}
	if info.Registrar != nil {
		rec.Registrar = info.Registrar.Name
	}
	if info.Registrant != nil {
		rec.Organization = info.Registrant.Organization
		rec.Country = info.Registrant.Country
		rec.Email = info.Registrant.Email
	}
	return []models.Finding{models.NewFinding("WHOIS", models.SeverityLow, rec)}, nil
}

func defaultWhois(ctx context.Context, domain string) (string, error) {
	type result struct {
		raw string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := whois.NewClient().SetTimeout(whoisTimeout).Whois(domain)
		ch <- result{raw, err}
	}()
	select {
	case r := <-ch:
		return r.raw, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
