package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/evasion/fingerprinting"
	"github.com/bl4ck0w1/idlynx/internal/evasion/proxies"
	"github.com/bl4ck0w1/idlynx/internal/evasion/stealth"
	"github.com/bl4ck0w1/idlynx/internal/evasion/timing"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const defaultMaxBody = 10 << 20

var ErrRetriesExhausted = errors.New("retries exhausted")

// AuthStyle selects how a credential is attached to a request.
type AuthStyle int

const (
	// AuthAuto picks bearer, x-key header or query parameter from the URL.
	AuthAuto AuthStyle = iota
	AuthNone
	AuthBearer
	AuthToken
	AuthHeader
	AuthQuery
	AuthBasic
)

type Request struct {
	Method     string
	URL        string
	Credential string
	Auth       AuthStyle
	// AuthName is the header or query parameter name for AuthHeader and
	// AuthQuery.
	AuthName string
	Params   url.Values
	Header   http.Header
	JSONBody interface{}
	FormBody url.Values
	Timeout  time.Duration
	// Accept lists status codes returned as final answers. Defaults to 200.
	Accept []int
	// MaxAttempts caps the attempts for this request below the client's
	// retry budget when positive.
	MaxAttempts int
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	FinalURL   string
	Attempts   int
}

func (r *Response) Text() string {
	return string(r.Body)
}

func (r *Response) DecodeJSON(out interface{}) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", utils.MaskURLSecrets(r.URL), err)
	}
	return nil
}

type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Client executes outbound requests with retry, backoff and credential
// injection. It is safe for concurrent use; WithRoute returns a sibling
// bound to another egress path.
type Client struct {
	credentials map[string]string
	maxRetries  int
	backoffBase time.Duration
	timeout     time.Duration
	maxBody     int64
	headers     http.Header
	userAgent   string

	sleep   utils.Sleeper
	limiter *timing.HostLimiter
	metrics *utils.MetricsCollector
	logger  *logrus.Logger

	pool       *transportPool
	route      *proxies.Route
	httpClient *http.Client
}

type Option func(*Client)

func WithSleeper(s utils.Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

func WithMetrics(m *utils.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTLSFingerprint dials direct egress with a browser ClientHello.
func WithTLSFingerprint(name string, fp *fingerprinting.TLSFingerprinter) Option {
	return func(c *Client) {
		if name == "" || fp == nil {
			return
		}
		tr := c.pool.base.Clone()
		if err := fp.Apply(tr, name); err != nil {
			c.logger.Warnf("TLS fingerprint disabled: %v", err)
			return
		}
		c.pool.base = tr
	}
}

// WithLimiter shares one per-host limiter across clients so the request
// rate holds for the whole process.
func WithLimiter(l *timing.HostLimiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

func New(cfg *models.Config, logger *logrus.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = models.DefaultConfig()
	}

	creds := make(map[string]string, len(cfg.APIKeys))
	for k, v := range cfg.APIKeys {
		creds[k] = strings.TrimSpace(v)
	}

	c := &Client{
		credentials: creds,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.RetryDelayBase,
		timeout:     cfg.RequestTimeout,
		maxBody:     defaultMaxBody,
		sleep:       utils.SleepContext,
		limiter:     timing.NewHostLimiter(cfg.RequestsPerSecond, 1, logger),
		logger:      logger,
		pool:        newTransportPool(),
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.timeout <= 0 {
		c.timeout = 8 * time.Second
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.userAgent == "" {
		c.userAgent = stealth.NewUserAgentPool().Random()
	}
	c.headers = stealth.BrowserHeaders(c.userAgent)
	c.httpClient = c.pool.clientFor(nil, c.logger)
	return c
}

// WithRoute returns a client that sends through route. A nil route means
// default egress.
func (c *Client) WithRoute(route *proxies.Route) *Client {
	cp := *c
	cp.route = route
	cp.httpClient = c.pool.clientFor(route, c.logger)
	return &cp
}

func (c *Client) Route() *proxies.Route {
	return c.route
}

func (c *Client) UserAgent() string {
	return c.userAgent
}

// HTTPClient exposes the route-bound client for SDKs that manage their own
// request cycle.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) HasCredential(name string) bool {
	return c.credentials[name] != ""
}

func (c *Client) Credential(name string) string {
	return c.credentials[name]
}

// Do runs the request with up to maxRetries additional attempts. Status
// codes in Accept end the loop; everything else, 429 included, backs off by
// base*2^attempt before the next attempt.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target, header, err := c.prepare(r)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(r)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	accept := r.Accept
	if len(accept) == 0 {
		accept = []int{http.StatusOK}
	}
	masked := utils.MaskURLSecrets(target)

	attempts := c.maxRetries + 1
	if r.MaxAttempts > 0 && r.MaxAttempts < attempts {
		attempts = r.MaxAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx, hostOf(target)); err != nil {
			return nil, err
		}

		resp, err := c.once(ctx, method, target, header, body, timeout)
		if err != nil {
			c.countAttempt("error")
			lastErr = err
		} else {
			c.countAttempt(strconv.Itoa(resp.StatusCode))
			if containsStatus(accept, resp.StatusCode) {
				resp.Attempts = attempt + 1
				return resp, nil
			}
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: masked}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts-1 {
			wait := c.backoffBase * time.Duration(1<<uint(attempt))
			c.logger.WithFields(logrus.Fields{
				"url":     masked,
				"attempt": attempt + 1,
				"wait":    wait.String(),
			}).Debugf("request failed, backing off: %v", lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %s %s after %d attempts: %v", ErrRetriesExhausted, method, masked, attempts, lastErr)
}

// JSON runs the request and decodes a successful body into out.
func (c *Client) JSON(ctx context.Context, r *Request, out interface{}) error {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	return resp.DecodeJSON(out)
}

// Request is the never-failing form: it returns the parsed body of a 200
// response, or nil and false after logging a warning.
func (c *Client) Request(ctx context.Context, method, rawURL, credentialName string, params url.Values, body interface{}, timeout time.Duration) (json.RawMessage, bool) {
	resp, err := c.Do(ctx, &Request{
		Method:     method,
		URL:        rawURL,
		Credential: credentialName,
		Params:     params,
		JSONBody:   body,
		Timeout:    timeout,
	})
	if err != nil {
		c.logger.Warnf("API request failed: %v", err)
		return nil, false
	}
	if !json.Valid(resp.Body) {
		c.logger.Warnf("API request to %s returned a non-JSON body", utils.MaskURLSecrets(resp.URL))
		return nil, false
	}
	return json.RawMessage(resp.Body), true
}

func (c *Client) once(ctx context.Context, method, target string, header http.Header, body []byte, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", scrubURLError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        target,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// prepare builds the final URL and a private header set. The shared
// defaults are copied, never written.
func (c *Client) prepare(r *Request) (string, http.Header, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}
	header := c.headers.Clone()
	for k, vs := range r.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	params := url.Values{}
	for k, vs := range r.Params {
		params[k] = append([]string(nil), vs...)
	}

	if secret := c.credentials[r.Credential]; r.Credential != "" && secret != "" {
		style, name := resolveAuth(r)
		switch style {
		case AuthBearer:
			header.Set("Authorization", "Bearer "+secret)
		case AuthToken:
			header.Set("Authorization", "token "+secret)
		case AuthHeader:
			header.Set(name, secret)
		case AuthQuery:
			params.Set(name, secret)
		case AuthBasic:
			// user:password credentials are sent as-is, a bare key as the user
			if !strings.Contains(secret, ":") {
				secret += ":"
			}
			header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(secret)))
		}
	}

	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), header, nil
}

func resolveAuth(r *Request) (AuthStyle, string) {
	switch r.Auth {
	case AuthAuto:
		lower := strings.ToLower(r.URL)
		switch {
		case strings.Contains(lower, "authorization") || strings.Contains(lower, "token"):
			return AuthBearer, ""
		case strings.Contains(lower, "x-key"):
			return AuthHeader, "x-key"
		default:
			return AuthQuery, strings.Replace(r.Credential, "_key", "", 1)
		}
	case AuthHeader:
		if r.AuthName == "" {
			return AuthHeader, "x-key"
		}
	case AuthQuery:
		if r.AuthName == "" {
			return AuthQuery, strings.Replace(r.Credential, "_key", "", 1)
		}
	}
	return r.Auth, r.AuthName
}

func encodeBody(r *Request) ([]byte, string, error) {
	switch {
	case r.JSONBody != nil:
		data, err := json.Marshal(r.JSONBody)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return data, "application/json", nil
	case r.FormBody != nil:
		return []byte(r.FormBody.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

func (c *Client) countAttempt(status string) {
	c.metrics.IncCounter(utils.MetricHTTPAttempts, 1, prometheus.Labels{"status": status})
}

// scrubURLError drops the URL from *url.Error so query credentials do not
// end up in logs.
func scrubURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s %s: %w", ue.Op, utils.MaskURLSecrets(ue.URL), ue.Err)
	}
	return err
}

func containsStatus(list []int, code int) bool {
	for _, c := range list {
		if c == code {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Hostname()
}

// transportPool caches one *http.Client per egress route so connection
// reuse survives rotation.
type transportPool struct {
	base    *http.Transport
	mu      sync.Mutex
	clients map[string]*http.Client
}

func newTransportPool() *transportPool {
	return &transportPool{
		base: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		clients: make(map[string]*http.Client),
	}
}

func (p *transportPool) clientFor(route *proxies.Route, logger *logrus.Logger) *http.Client {
	key := route.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if hc, ok := p.clients[key]; ok {
		return hc
	}

	tr, err := route.Transport(p.base)
	if err != nil {
		logger.Warnf("egress route %s unusable, falling back to direct: %v", route, err)
		tr = p.base
	}
	hc := &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
	p.clients[key] = hc
	return hc
}
