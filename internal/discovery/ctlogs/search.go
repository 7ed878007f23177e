package ctlogs

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
)

const DefaultSearchBase = "https://crt.sh"

// Entry is one row of the certificate search service's JSON output.
type Entry struct {
	ID             int64  `json:"id"`
	IssuerName     string `json:"issuer_name"`
	CommonName     string `json:"common_name"`
	NameValue      string `json:"name_value"`
	NotBefore      string `json:"not_before"`
	EntryTimestamp string `json:"entry_timestamp"`
}

// SubdomainRecord is a name seen in the logs together with the first
// certificate that carried it.
type SubdomainRecord struct {
	Name   string
	Issued string
	Issuer string
	CertID int64
}

// Searcher queries a crt.sh-compatible certificate search service.
type Searcher struct {
	base   string
	client *httpclient.Client
	logger *logrus.Logger
}

func NewSearcher(base string, client *httpclient.Client, logger *logrus.Logger) *Searcher {
	if logger == nil {
		logger = logrus.New()
	}
	if base == "" {
		base = DefaultSearchBase
	}
	return &Searcher{
		base:   strings.TrimRight(base, "/"),
		client: client,
		logger: logger,
	}
}

func (s *Searcher) Entries(ctx context.Context, domain string) ([]Entry, error) {
	var entries []Entry
	err := s.client.JSON(ctx, &httpclient.Request{
		URL:    s.base + "/",
		Params: url.Values{"q": {"%." + domain}, "output": {"json"}},
	}, &entries)
	if err != nil {
		return nil, fmt.Errorf("certificate search for %s: %w", domain, err)
	}
	return entries, nil
}

// Subdomains returns every distinct name under domain, in the order the
// service listed them.
func (s *Searcher) Subdomains(ctx context.Context, domain string) ([]SubdomainRecord, error) {
	entries, err := s.Entries(ctx, domain)
	if err != nil {
		return nil, err
	}
	domain = normalizeName(domain)
	seen := make(map[string]bool)
	var out []SubdomainRecord
	for _, e := range entries {
		for _, name := range strings.Split(e.NameValue, "\n") {
			name = normalizeName(name)
			if name == "" || seen[name] {
				continue
			}
			if name != domain && !strings.HasSuffix(name, "."+domain) {
				continue
			}
			seen[name] = true
			issued := e.NotBefore
			if issued == "" {
				issued = e.EntryTimestamp
			}
			out = append(out, SubdomainRecord{Name: name, Issued: issued, Issuer: e.IssuerName, CertID: e.ID})
		}
	}
	return out, nil
}

// Certificate downloads and parses one logged certificate, keeping only
// names under domain.
func (s *Searcher) Certificate(ctx context.Context, id int64, domain string) (*CertInfo, error) {
	resp, err := s.client.Do(ctx, &httpclient.Request{
		URL:    s.base + "/",
		Params: url.Values{"d": {strconv.FormatInt(id, 10)}},
	})
	if err != nil {
		return nil, fmt.Errorf("certificate %d: %w", id, err)
	}
	p := NewParser(s.logger)
	p.SetDomainFilters(domain)
	info, err := p.ParsePEM(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("certificate %d: %w", id, err)
	}
	return info, nil
}
