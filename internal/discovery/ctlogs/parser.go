package ctlogs

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var ErrNoCertificate = errors.New("no certificate in input")

// CertInfo is what the recon stage keeps from one logged certificate.
type CertInfo struct {
	Names     []string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	SHA256    string
	Status    string
}

type Parser struct {
	logger        *logrus.Logger
	domainFilters []string
	now           func() time.Time
}

func NewParser(logger *logrus.Logger) *Parser {
	if logger == nil {
		logger = logrus.New()
	}
	return &Parser{logger: logger, now: time.Now}
}

// SetDomainFilters restricts returned names to the filters and their
// subdomains.
func (p *Parser) SetDomainFilters(filters ...string) {
	p.domainFilters = filters
}

// ParsePEM parses the first CERTIFICATE block in data.
func (p *Parser) ParsePEM(data []byte) (*CertInfo, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type == "CERTIFICATE" {
			return p.ParseDER(block.Bytes)
		}
	}
}

func (p *Parser) ParseDER(der []byte) (*CertInfo, error) {
	cert, err := ctx509.ParseCertificate(der)
	if err != nil && ctx509.IsFatal(err) {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if cert == nil {
		return nil, ErrNoCertificate
	}

	sum := sha256.Sum256(cert.Raw)
	info := &CertInfo{
		Names:     p.filterRelevantDomains(extractDomainsFromCert(cert)),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		SHA256:    hex.EncodeToString(sum[:]),
		Status:    p.validateCertificate(cert),
	}
	if len(cert.Issuer.Organization) > 0 && cert.Issuer.Organization[0] != "" {
		info.Issuer = cert.Issuer.Organization[0]
	} else {
		info.Issuer = cert.Issuer.CommonName
	}
	return info, nil
}

func extractDomainsFromCert(cert *ctx509.Certificate) []string {
	set := make(map[string]struct{}, 1+len(cert.DNSNames))
	if cn := normalizeName(cert.Subject.CommonName); cn != "" && strings.Contains(cn, ".") {
		set[cn] = struct{}{}
	}
	for _, d := range cert.DNSNames {
		if d = normalizeName(d); d != "" {
			set[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (p *Parser) filterRelevantDomains(domains []string) []string {
	if len(p.domainFilters) == 0 {
		return domains
	}
	var result []string
	for _, d := range domains {
		for _, f := range p.domainFilters {
			if strings.EqualFold(d, f) || IsSubdomainOf(d, f) {
				result = append(result, d)
				break
			}
		}
	}
	return result
}

func (p *Parser) validateCertificate(cert *ctx509.Certificate) string {
	now := p.now().UTC()
	if now.After(cert.NotAfter) {
		return "expired"
	}
	if now.Before(cert.NotBefore) {
		return "not_yet_valid"
	}
	if cert.PublicKeyAlgorithm == ctx509.RSA {
		pk, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return "unknown_rsa_key"
		}
		if pk.N.BitLen() < 2048 {
			return "weak_key"
		}
	}
	switch cert.SignatureAlgorithm {
	case ctx509.MD2WithRSA, ctx509.MD5WithRSA, ctx509.SHA1WithRSA, ctx509.DSAWithSHA1, ctx509.ECDSAWithSHA1:
		return "weak_signature"
	}
	return "valid"
}

// normalizeName lower-cases a certificate name and strips wildcard labels
// and the trailing dot.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".")
	return strings.TrimPrefix(s, "*.")
}

// RootDomain returns the registrable domain (eTLD+1) of name, or name itself
// when it has none.
func RootDomain(name string) string {
	name = normalizeName(name)
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		name = ascii
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil || etld1 == "" {
		return name
	}
	return etld1
}

// IsSubdomainOf reports whether name lies strictly below parent.
func IsSubdomainOf(name, parent string) bool {
	normalize := func(s string) (string, error) {
		p := idna.New(idna.MapForLookup(), idna.RemoveLeadingDots(true))
		ascii, err := p.ToASCII(normalizeName(s))
		if err != nil {
			return "", err
		}
		return strings.ToLower(ascii), nil
	}
	d, err1 := normalize(name)
	t, err2 := normalize(parent)
	if err1 != nil || err2 != nil || d == "" || t == "" || d == t {
		return false
	}
	if ps, _ := publicsuffix.PublicSuffix(t); ps == t {
		return false
	}
	return strings.HasSuffix(d, "."+t)
}
