package dns

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// MailPosture summarizes how well a domain protects its mail from spoofing.
type MailPosture struct {
	Domain string
	MX     []string
	SPF    string
	DMARC  string
	Issues []string
}

// Weak reports a missing SPF or DMARC record.
func (p *MailPosture) Weak() bool {
	return p.SPF == "" || p.DMARC == ""
}

// Empty reports that the domain published none of the records looked at.
func (p *MailPosture) Empty() bool {
	return len(p.MX) == 0 && p.SPF == "" && p.DMARC == ""
}

type RecordAnalyzer struct {
	logger     *logrus.Logger
	spfRegex   *regexp.Regexp
	dmarcRegex *regexp.Regexp
}

func NewRecordAnalyzer(logger *logrus.Logger) *RecordAnalyzer {
	if logger == nil {
		logger = logrus.New()
	}
	return &RecordAnalyzer{
		logger:     logger,
		spfRegex:   regexp.MustCompile(`(?i)^v=spf1\b`),
		dmarcRegex: regexp.MustCompile(`(?i)^v=DMARC1\b`),
	}
}

// MailPosture resolves MX and TXT for domain and TXT for its _dmarc label.
func (r *RecordAnalyzer) MailPosture(ctx context.Context, res *Resolver, domain string) (*MailPosture, error) {
	records, err := res.Resolve(ctx, domain, []uint16{mdns.TypeMX, mdns.TypeTXT})
	if err != nil {
		return nil, fmt.Errorf("mail records for %s: %w", domain, err)
	}
	dmarc, err := res.Resolve(ctx, "_dmarc."+domain, []uint16{mdns.TypeTXT})
	if err != nil {
		return nil, fmt.Errorf("dmarc record for %s: %w", domain, err)
	}
	return r.Analyze(domain, append(records, dmarc...)), nil
}

func (r *RecordAnalyzer) Analyze(domain string, records []Record) *MailPosture {
	p := &MailPosture{Domain: domain}
	type mx struct {
		pref int
		host string
	}
	var exchangers []mx
	for _, rec := range records {
		switch rec.Type {
		case "MX":
			parts := strings.Fields(rec.Value)
			if len(parts) == 2 {
				pref, _ := strconv.Atoi(parts[0])
				exchangers = append(exchangers, mx{pref, parts[1]})
			}
		case "TXT":
			if strings.HasPrefix(rec.Domain, "_dmarc.") {
				if r.dmarcRegex.MatchString(rec.Value) && p.DMARC == "" {
					p.DMARC = rec.Value
				}
			} else if r.spfRegex.MatchString(rec.Value) && p.SPF == "" {
				p.SPF = rec.Value
			}
		}
	}
	sort.SliceStable(exchangers, func(i, j int) bool { return exchangers[i].pref < exchangers[j].pref })
	for _, e := range exchangers {
		p.MX = append(p.MX, e.host)
	}

	if p.SPF == "" {
		p.Issues = append(p.Issues, "no SPF record")
	} else {
		r.analyzeSPFRecord(p)
	}
	if p.DMARC == "" {
		p.Issues = append(p.Issues, "no DMARC record")
	} else {
		r.analyzeDMARCRecord(p)
	}
	return p
}

func (r *RecordAnalyzer) analyzeSPFRecord(p *MailPosture) {
	s := strings.ToLower(p.SPF)
	if strings.Contains(s, "+all") {
		p.Issues = append(p.Issues, "SPF uses +all")
	}
	if !strings.Contains(s, "-all") && !strings.Contains(s, "~all") {
		p.Issues = append(p.Issues, "SPF has no fail mechanism")
	}
}

func (r *RecordAnalyzer) analyzeDMARCRecord(p *MailPosture) {
	s := strings.ToLower(p.DMARC)
	if !strings.Contains(s, "p=reject") && !strings.Contains(s, "p=quarantine") {
		p.Issues = append(p.Issues, "DMARC policy does not reject or quarantine")
	}
}
