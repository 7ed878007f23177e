package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"
)

const ednsSize = 1232

// Record is one answer in presentation form.
type Record struct {
	Domain string
	Type   string
	Value  string
}

// Resolver answers the MX and TXT lookups behind the mail posture check.
// Servers are tried in order; one that cannot be reached hands the query to
// the next.
type Resolver struct {
	servers     []string
	retries     int
	backoff     time.Duration
	concurrency int
	udp         *mdns.Client
	tcp         *mdns.Client
	logger      *logrus.Logger
}

func NewResolver(servers []string, timeout time.Duration, maxRetries, concurrency int, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	var addrs []string
	for _, s := range servers {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs = append(addrs, s)
	}
	if len(addrs) == 0 {
		addrs = systemResolvers()
	}

	return &Resolver{
		servers:     addrs,
		retries:     maxRetries,
		backoff:     timeout / 10,
		concurrency: concurrency,
		udp:         &mdns.Client{Net: "udp", Timeout: timeout, UDPSize: ednsSize},
		tcp:         &mdns.Client{Net: "tcp", Timeout: timeout},
		logger:      logger,
	}
}

// Resolve queries every record type in parallel and returns the answers in
// the order the types were asked for. Types that fail are logged and left
// out; the error return is reserved for bad input.
func (r *Resolver) Resolve(ctx context.Context, domain string, recordTypes []uint16) ([]Record, error) {
	ascii, err := idna.ToASCII(strings.TrimSpace(domain))
	if err != nil || ascii == "" {
		return nil, fmt.Errorf("invalid domain %q: %w", domain, err)
	}

	byType := make([][]Record, len(recordTypes))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, rt := range recordTypes {
		i, rt := i, rt
		g.Go(func() error {
			err := retryTransient(ctx, r.retries, r.backoff, r.logger, func() error {
				recs, err := r.query(ctx, ascii, rt)
				byType[i] = recs
				return err
			})
			if err != nil {
				r.logger.Debugf("failed to resolve %s %s: %v", ascii, mdns.TypeToString[rt], err)
				byType[i] = nil
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []Record
	for _, recs := range byType {
		out = append(out, recs...)
	}
	return dedupeRecords(out), nil
}

func (r *Resolver) query(ctx context.Context, domain string, qtype uint16) ([]Record, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(domain), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(ednsSize, false)

	var lastErr error
	for _, server := range r.servers {
		recs, err := r.exchange(ctx, msg, server)
		if err == nil {
			return recs, nil
		}
		var rerr *rcodeError
		if errors.As(err, &rerr) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// exchange asks one server over UDP, repeating over TCP when the UDP answer
// is lost or truncated. NXDOMAIN is an empty answer.
func (r *Resolver) exchange(ctx context.Context, msg *mdns.Msg, server string) ([]Record, error) {
	resp, _, err := r.udp.ExchangeContext(ctx, msg, server)
	if err != nil || resp == nil || resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", server, err)
		}
	}
	switch resp.Rcode {
	case mdns.RcodeSuccess:
		return answers(resp.Answer, strings.TrimSuffix(msg.Question[0].Name, ".")), nil
	case mdns.RcodeNameError:
		return nil, nil
	default:
		return nil, &rcodeError{server: server, rcode: resp.Rcode}
	}
}

func answers(rrs []mdns.RR, domain string) []Record {
	out := make([]Record, 0, len(rrs))
	for _, rr := range rrs {
		switch rr := rr.(type) {
		case *mdns.MX:
			out = append(out, Record{Domain: domain, Type: "MX", Value: fmt.Sprintf("%d %s", rr.Preference, strings.TrimSuffix(rr.Mx, "."))})
		case *mdns.TXT:
			out = append(out, Record{Domain: domain, Type: "TXT", Value: strings.Join(rr.Txt, "")})
		}
	}
	return out
}

func systemResolvers() []string {
	cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"1.1.1.1:53", "8.8.8.8:53"}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}

func dedupeRecords(in []Record) []Record {
	type key struct{ t, v string }
	seen := make(map[key]bool, len(in))
	out := make([]Record, 0, len(in))
	for _, r := range in {
		k := key{t: r.Type, v: strings.ToLower(strings.TrimSpace(r.Value))}
		if !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}
