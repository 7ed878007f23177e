package proxies

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

const RouteDirect = "direct"

// Route is one configured egress path. A Route with a nil URL means direct.
type Route struct {
	URL         *url.URL
	Type        string
	Credentials *ProxyAuth
}

type ProxyAuth struct {
	Username string
	Password string
}

func ParseRoute(raw string) (*Route, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, RouteDirect) {
		return &Route{Type: RouteDirect}, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse route %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("route %q has no host", raw)
	}

	r := &Route{URL: u, Type: strings.ToLower(u.Scheme)}
	switch r.Type {
	case "http", "https", "socks5", "socks5h":
	case "socks":
		r.Type = "socks5"
	default:
		return nil, fmt.Errorf("route %q: unsupported scheme %s", raw, u.Scheme)
	}
	if u.User != nil {
		pw, _ := u.User.Password()
		r.Credentials = &ProxyAuth{Username: u.User.Username(), Password: pw}
	}
	return r, nil
}

func (r *Route) IsDirect() bool {
	return r == nil || r.URL == nil
}

func (r *Route) IsSOCKS() bool {
	return r != nil && strings.HasPrefix(r.Type, "socks")
}

// String renders the route without its password, suitable for logs and
// transport cache keys.
func (r *Route) String() string {
	if r.IsDirect() {
		return RouteDirect
	}
	cp := *r.URL
	if cp.User != nil {
		cp.User = url.User(cp.User.Username())
	}
	return cp.String()
}

// Transport clones base and points it at this route.
func (r *Route) Transport(base *http.Transport) (*http.Transport, error) {
	var tr *http.Transport
	if base != nil {
		tr = base.Clone()
	} else {
		tr = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	if r.IsDirect() {
		return tr, nil
	}

	switch r.Type {
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if r.Credentials != nil {
			auth = &xproxy.Auth{User: r.Credentials.Username, Password: r.Credentials.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", r.URL.Host, auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", r, err)
		}
		tr.Proxy = nil
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.Dial(network, address)
			}
		}
		// The TLS override for direct egress must not bypass the proxy dialer.
		tr.DialTLSContext = nil
	default:
		tr.Proxy = http.ProxyURL(r.URL)
		tr.DialTLSContext = nil
		if r.Credentials != nil {
			if tr.ProxyConnectHeader == nil {
				tr.ProxyConnectHeader = http.Header{}
			}
			tr.ProxyConnectHeader.Set("Proxy-Authorization",
				"Basic "+basicAuth(r.Credentials.Username, r.Credentials.Password))
		}
	}
	return tr, nil
}

// RelayRoute is the SOCKS route into a local anonymizing relay.
func RelayRoute(socksAddr string) *Route {
	return &Route{
		URL:  &url.URL{Scheme: "socks5h", Host: socksAddr},
		Type: "socks5h",
	}
}

func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
