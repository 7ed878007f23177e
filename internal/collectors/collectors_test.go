package collectors

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/evasion/proxies"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

// newRunContext points every named endpoint at base and caches under a
// temp dir.
func newRunContext(t *testing.T, base string, mutate func(*models.Config)) (*RunContext, *sleepRecorder) {
	t.Helper()
	cfg := models.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.RequestTimeout = 2 * time.Second
	for _, name := range []string{
		"haveibeenpwned", "psbdmp", "hunterio", "intelx", "github_api",
		"numverify", "twilio", "riskseal", "trestle", "truecaller",
		"wayback", "search", "shodan", "censys", "crtsh", "s3",
		"linkedin", "twitter", "instagram", "facebook", "github_web", "tiktok",
	} {
		cfg.Endpoints[name] = base
	}
	cfg.Endpoints["dns"] = "127.0.0.1:1"
	if mutate != nil {
		mutate(cfg)
	}
	rec := &sleepRecorder{}
	logger := quietLogger()
	return &RunContext{
		RunID:  "test-run",
		Config: cfg,
		Cache:  storage.NewStageCache(t.TempDir(), true, logger),
		Sleep:  rec.sleep,
		Logger: logger,
	}, rec
}

func kinds(findings []models.Finding) []models.Kind {
	out := make([]models.Kind, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Kind)
	}
	return out
}

func target(t *testing.T, raw string) models.Target {
	t.Helper()
	tg, err := models.ParseTarget(raw)
	if err != nil {
		t.Fatalf("ParseTarget(%q): %v", raw, err)
	}
	return tg
}

// -- cache policy ----------------------------------------------------------------

func TestRunCacheHitSkipsNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"count":0}`))
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, nil)
	stage := NewBreachStage()
	tg := target(t, "jane@example.com")
	cached := []models.Finding{models.NewFinding("PSBDMP", models.SeverityMedium, models.PasteLeak{URL: "https://pastebin.com/x"})}
	if err := rc.Cache.Store(stage.CacheKey(tg), cached); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, hit := Run(context.Background(), stage, tg, models.LevelNormal, rc)
	if !hit {
		t.Fatal("expected a cache hit")
	}
	if len(got) != 1 || got[0].Kind != models.KindPasteLeak {
		t.Errorf("cached findings = %v", kinds(got))
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("cache hit made %d network calls", n)
	}
}

func TestRunAggressiveStoresEmptyList(t *testing.T) {
	rc, _ := newRunContext(t, "http://127.0.0.1:1", nil)
	stage := NewDarkWebStage()
	tg := target(t, "jane@example.com")

	got, hit := Run(context.Background(), stage, tg, models.LevelAggressive, rc)
	if hit || got == nil || len(got) != 0 {
		t.Fatalf("Run = %v, %v", got, hit)
	}
	data, err := os.ReadFile(rc.Cache.Path(stage.CacheKey(tg)))
	if err != nil {
		t.Fatalf("cache entry not written: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("cache entry = %q", data)
	}
}

// interruptedStage cancels the run from inside Collect, the way SIGINT or
// the scan timeout lands mid-stage.
type interruptedStage struct {
	cancel context.CancelFunc
}

func (s interruptedStage) Name() string { return "interrupted" }

func (s interruptedStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("interrupted_cache", storage.SanitizeKeyPart(t.Raw)+".json")
}

func (s interruptedStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	s.cancel()
	return nil
}

func TestRunCancelledAggressiveKeepsCache(t *testing.T) {
	rc, _ := newRunContext(t, "http://127.0.0.1:1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stage := interruptedStage{cancel: cancel}
	tg := target(t, "jane@example.com")
	seeded := []models.Finding{models.NewFinding("LinkedIn", models.SeverityLow, models.LinkedInProfile{URL: "https://linkedin.example/in/jane"})}
	if err := rc.Cache.Store(stage.CacheKey(tg), seeded); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, hit := Run(ctx, stage, tg, models.LevelAggressive, rc)
	if hit || len(got) != 0 {
		t.Fatalf("Run = %v, %v", kinds(got), hit)
	}
	kept, err := rc.Cache.Load(stage.CacheKey(tg))
	if err != nil || len(kept) != 1 {
		t.Errorf("cache after interrupted run = %d findings (err=%v), want 1", len(kept), err)
	}
}

func TestSelectKeepsPipelineOrder(t *testing.T) {
	got := Select(All(), []string{"social", "breach", "network"})
	var names []string
	for _, s := range got {
		names = append(names, s.Name())
	}
	if strings.Join(names, ",") != "breach,network,social" {
		t.Errorf("Select = %v", names)
	}
	if len(StageNames()) != 8 {
		t.Errorf("StageNames = %v", StageNames())
	}
}

// -- breach ----------------------------------------------------------------------

func TestBreachStageOrderAndAuth(t *testing.T) {
	var hibpKey, intelKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/breachedaccount/"):
			hibpKey = r.Header.Get("hibp-api-key")
			w.Write([]byte(`[{"Name":"Adobe","Domain":"adobe.com","BreachDate":"2013-10-04","PwnCount":152445165,"IsVerified":true}]`))
		case strings.HasPrefix(r.URL.Path, "/search/"):
			w.Write([]byte(`{"count":1,"data":[{"id":"abc","text":"` + strings.Repeat("x", 150) + `"}]}`))
		case r.URL.Path == "/search" && r.Method == http.MethodPost:
			intelKey = r.Header.Get("x-key")
			w.Write([]byte(`{"results":[{"title":"combo list","date":"2021-01-01","source":"forum","count":3}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, func(c *models.Config) {
		c.APIKeys[models.KeyHIBP] = "hibp-secret"
		c.APIKeys[models.KeyIntelX] = "intel-secret"
	})
	got := NewBreachStage().Collect(context.Background(), target(t, "jane@example.com"), models.LevelNormal, rc)

	want := []models.Kind{models.KindEmailBreach, models.KindPasteLeak, models.KindLeakIndex}
	if len(got) != len(want) {
		t.Fatalf("findings = %v, want %v", kinds(got), want)
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("finding %d = %s, want %s", i, got[i].Kind, want[i])
		}
	}
	if hibpKey != "hibp-secret" || intelKey != "intel-secret" {
		t.Errorf("auth headers = %q, %q", hibpKey, intelKey)
	}
	breach := got[0].Payload.(models.BreachRecord)
	if breach.Email != "jane@example.com" || got[0].Severity != models.SeverityHigh {
		t.Errorf("breach = %+v %s", breach, got[0].Severity)
	}
	paste := got[1].Payload.(models.PasteLeak)
	if paste.URL != "https://pastebin.com/abc" || len(paste.Text) != 103 {
		t.Errorf("paste = %+v", paste)
	}
}

// -- phone -----------------------------------------------------------------------

func TestPhoneStageInvalidNumberMakesNoCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, func(c *models.Config) {
		for _, k := range models.KnownCredentials {
			c.APIKeys[k] = "key"
		}
	})
	got := NewPhoneStage().Collect(context.Background(), models.Target{Raw: "+1000", Type: models.TargetPhone}, models.LevelAggressive, rc)
	if len(got) != 0 {
		t.Errorf("findings = %v", kinds(got))
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("invalid number made %d calls", n)
	}
}

func TestPhoneStageFraudThreshold(t *testing.T) {
	for _, tc := range []struct {
		score float64
		want  int
	}{
		{85, 1},
		{70, 0},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer rs" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"risk_score": tc.score, "sim_swap_risk": true})
		}))
		rc, _ := newRunContext(t, srv.URL, func(c *models.Config) { c.APIKeys[models.KeyRiskSeal] = "rs" })
		got := NewPhoneStage().Collect(context.Background(), target(t, "+14155552671"), models.LevelNormal, rc)
		srv.Close()

		if len(got) != tc.want {
			t.Fatalf("score %v: findings = %v", tc.score, kinds(got))
		}
		if tc.want == 1 {
			risk := got[0].Payload.(models.FraudRisk)
			if got[0].Severity != models.SeverityCritical || risk.FraudIndicators == nil {
				t.Errorf("risk finding = %+v %s", risk, got[0].Severity)
			}
		}
	}
}

// -- handle ----------------------------------------------------------------------

func TestHandleStageKeepsTableOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/a/"):
			w.Write([]byte(`<html><head><meta name="description" content="Builder of things"></head></html>`))
		case strings.HasPrefix(r.URL.Path, "/c/"):
			w.Write([]byte(`<html><body>nope, no such user</body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, nil)
	stage := &HandleStage{Sites: []Site{
		{Name: "Alpha", URL: srv.URL + "/a/%s"},
		{Name: "Beta", URL: srv.URL + "/b/%s"},
		{Name: "Gamma", URL: srv.URL + "/c/%s", NotFoundMessage: "no such user"},
	}}
	got := stage.Collect(context.Background(), target(t, "johndoe"), models.LevelNormal, rc)

	want := []models.Kind{models.KindHandleFound, models.KindHandleNotFound, models.KindHandleNotFound}
	if len(got) != len(want) {
		t.Fatalf("findings = %v", kinds(got))
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("finding %d = %s, want %s", i, got[i].Kind, want[i])
		}
	}
	found := got[0].Payload.(models.HandleFound)
	if found.Bio != "Builder of things" || found.URL != srv.URL+"/a/johndoe" || found.Status != "active" {
		t.Errorf("found = %+v", found)
	}
	if got[2].Source != "Gamma" {
		t.Errorf("source = %s", got[2].Source)
	}
}

// -- dark web --------------------------------------------------------------------

func TestDarkWebStageRequiresRelay(t *testing.T) {
	rc, _ := newRunContext(t, "http://127.0.0.1:1", nil)
	if got := NewDarkWebStage().Collect(context.Background(), target(t, "jane@example.com"), models.LevelNormal, rc); got != nil {
		t.Errorf("findings without relay = %v", kinds(got))
	}
}

func TestDarkWebStageParsesMirror(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`<html><body>
<div class="snippet">jane@example.com:hunter2 found in combo dump</div>
<a href="http://leakmirror.onion/dump/1">dump 1</a>
<a href="http://leakmirror.onion/dump/2">dump 2</a>
<a href="http://leakmirror.onion/dump/3">dump 3</a>
<a href="http://leakmirror.onion/dump/4">dump 4</a>
</body></html>`))
	}))
	defer srv.Close()

	rc, rec := newRunContext(t, srv.URL, func(c *models.Config) {
		c.UseTor = true
		c.TorSocksAddr = ""
		c.Endpoints["darkweb"] = srv.URL + "/search?q="
	})
	got := NewDarkWebStage().Collect(context.Background(), target(t, "jane@example.com"), models.LevelNormal, rc)

	if len(got) != 3 {
		t.Fatalf("findings = %d, want 3", len(got))
	}
	if query != "q=jane%40example%2Ecom" {
		t.Errorf("query = %q", query)
	}
	leak := got[0].Payload.(models.DarkWebLeak)
	if got[0].Severity != models.SeverityCritical || leak.Link != "http://leakmirror.onion/dump/1" || leak.ContentHash == "" {
		t.Errorf("leak = %+v", leak)
	}
	if !strings.Contains(leak.Snippet, "combo dump") {
		t.Errorf("snippet = %q", leak.Snippet)
	}
	if len(rec.waits) != 1 || rec.waits[0] != darkWebPause {
		t.Errorf("pauses = %v", rec.waits)
	}
}

// controlPort answers a relay control session and counts NEWNYM signals.
func controlPort(t *testing.T) (string, *int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	var newnym int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				tc := textproto.NewConn(c)
				for {
					line, err := tc.ReadLine()
					if err != nil {
						return
					}
					if line == "SIGNAL NEWNYM" {
						atomic.AddInt32(&newnym, 1)
					}
					if err := tc.PrintfLine("250 OK"); err != nil || line == "QUIT" {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), &newnym
}

func TestDarkWebStageRotatesRelayPerMirror(t *testing.T) {
	filler := strings.Repeat("x", 120)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/m1", "/m2", "/m3":
			w.Write([]byte(`<html><body><p>` + filler + `</p><a href="http://leak.onion` + r.URL.Path + `">hit</a></body></html>`))
		case "/m4":
			// answers, but carries no links
			w.Write([]byte(`<html><body><p>` + filler + `</p></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var mirrors []string
	for _, m := range []string{"m1", "m2", "m3", "m4", "m5"} {
		mirrors = append(mirrors, srv.URL+"/"+m+"?q=")
	}
	rc, rec := newRunContext(t, srv.URL, func(c *models.Config) {
		c.UseTor = true
		c.TorSocksAddr = ""
		c.Endpoints["darkweb"] = strings.Join(mirrors, ",")
	})
	addr, newnym := controlPort(t)
	relay := proxies.NewRelayController(addr, "secret", quietLogger())
	relay.Sleep = func(context.Context, time.Duration) error { return nil }
	rc.Relay = relay
	rotator, err := proxies.NewRotator(nil, 30*time.Second, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rc.Rotator = rotator

	got := NewDarkWebStage().Collect(context.Background(), target(t, "jane@example.com"), models.LevelNormal, rc)

	if len(got) != 3 {
		t.Fatalf("findings = %d, want 3", len(got))
	}
	if n := atomic.LoadInt32(newnym); n != 4 {
		t.Errorf("NEWNYM signals = %d, want one per answering mirror (4)", n)
	}
	if len(rec.waits) != 4 {
		t.Errorf("pauses = %v, want 4", rec.waits)
	}
	for _, d := range rec.waits {
		if d != darkWebPause {
			t.Errorf("pause = %s, want %s", d, darkWebPause)
		}
	}
}

// -- code repository -------------------------------------------------------------

func TestCodeRepoStageClassifiesSnippets(t *testing.T) {
	var auth string
	var queries int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/code" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		atomic.AddInt32(&queries, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total_count":2,"items":[
{"name":".env","path":"deploy/.env","sha":"abc123","html_url":"https://github.com/acme/app/blob/main/deploy/.env","repository":{"full_name":"acme/app"},"text_matches":[{"fragment":"API_TOKEN=s3cr3t"}]},
{"name":"README.md","path":"README.md","sha":"def456","html_url":"https://github.com/acme/app/blob/main/README.md","repository":{"full_name":"acme/app"},"text_matches":[{"fragment":"maintained by johndoe"}]}]}`))
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, func(c *models.Config) { c.APIKeys[models.KeyGitHub] = "ghp_test" })
	got := NewCodeRepoStage().Collect(context.Background(), target(t, "johndoe"), models.LevelNormal, rc)

	if int(atomic.LoadInt32(&queries)) != len(codeQueries) {
		t.Errorf("queries = %d, want %d", queries, len(codeQueries))
	}
	if len(got) != 2*len(codeQueries) {
		t.Fatalf("findings = %d", len(got))
	}
	if auth != "Bearer ghp_test" {
		t.Errorf("authorization = %q", auth)
	}
	leak := got[0].Payload.(models.CodeLeak)
	if got[0].Severity != models.SeverityCritical || leak.File != "deploy/.env" || leak.CommitSHA != "abc123" || leak.Repo != "acme/app" {
		t.Errorf("first leak = %+v %s", leak, got[0].Severity)
	}
	if got[1].Severity != models.SeverityHigh {
		t.Errorf("plain snippet severity = %s", got[1].Severity)
	}
}

func TestCodeRepoStageWithoutCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<a href="/url?q=https://github.com/acme/app/blob/main/config.yml">config</a>
<a href="https://github.com/johndoe">profile</a>
</body></html>`))
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, nil)
	if got := NewCodeRepoStage().Collect(context.Background(), target(t, "johndoe"), models.LevelNormal, rc); len(got) != 0 {
		t.Errorf("normal level without credential = %v", kinds(got))
	}
	got := NewCodeRepoStage().Collect(context.Background(), target(t, "johndoe"), models.LevelAggressive, rc)
	if len(got) != 1 || got[0].Kind != models.KindCodeSearchMatch {
		t.Fatalf("fallback findings = %v", kinds(got))
	}
	if m := got[0].Payload.(models.CodeSearchMatch); m.URL != "https://github.com/acme/app/blob/main/config.yml" {
		t.Errorf("match = %+v", m)
	}
}

// -- network ---------------------------------------------------------------------

func TestNetworkStageBucketSeverity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.Write([]byte(`[]`))
			return
		}
		switch r.URL.Path {
		case "/prod-example.com":
			w.WriteHeader(http.StatusForbidden)
		case "/backup-example.com":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, nil)
	stage := &NetworkStage{}
	got := stage.Collect(context.Background(), target(t, "jane@example.com"), models.LevelNormal, rc)

	if len(got) != 2 {
		t.Fatalf("findings = %v", kinds(got))
	}
	bucket := got[0].Payload.(models.BucketProbe)
	if got[0].Severity != models.SeverityHigh || bucket.Bucket != "prod-example.com" {
		t.Errorf("bucket = %+v %s", bucket, got[0].Severity)
	}
	exposed := got[1].Payload.(models.BucketExposure)
	if got[1].Severity != models.SeverityCritical || exposed.Bucket != "backup-example.com" || exposed.Status != "PUBLICLY ACCESSIBLE" {
		t.Errorf("exposure = %+v %s", exposed, got[1].Severity)
	}
}

func TestNetworkStageShodanAndCertificates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(r.URL.Path, "/dns/domain/"):
			if r.URL.Query().Get("key") != "sh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"subdomains":["www","mail"],"data":[
{"subdomain":"www","type":"A","value":"93.184.216.34","ports":[80,443]}]}`))
		default:
			w.Write([]byte(`[{"id":7,"issuer_name":"C=US, O=Let's Encrypt","name_value":"example.com\nwww.example.com\nevil.test","not_before":"2024-01-01T00:00:00"}]`))
		}
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, func(c *models.Config) { c.APIKeys[models.KeyShodan] = "sh" })
	got := (&NetworkStage{}).Collect(context.Background(), target(t, "example.com"), models.LevelNormal, rc)

	want := []models.Kind{models.KindShodanSubdomain, models.KindShodanSubdomain, models.KindCertSubdomain, models.KindCertSubdomain}
	if len(got) != len(want) {
		t.Fatalf("findings = %v", kinds(got))
	}
	www := got[0].Payload.(models.ShodanSubdomain)
	if www.Subdomain != "www.example.com" || www.IP != "93.184.216.34" || len(www.Ports) != 2 {
		t.Errorf("shodan www = %+v", www)
	}
	if got[1].Payload.(models.ShodanSubdomain).Subdomain != "mail.example.com" {
		t.Errorf("shodan mail = %+v", got[1].Payload)
	}
	cert := got[3].Payload.(models.CertSubdomain)
	if cert.Subdomain != "www.example.com" || cert.Issued != "2024-01-01T00:00:00" {
		t.Errorf("cert = %+v", cert)
	}
}

const sampleWhois = `Domain Name: EXAMPLE.COM
Registry Domain ID: 2336799_DOMAIN_COM-VRSN
Registrar WHOIS Server: whois.iana.org
Updated Date: 2024-08-14T07:01:34Z
Creation Date: 1995-08-14T04:00:00Z
Registry Expiry Date: 2025-08-13T04:00:00Z
Registrar: RESERVED-Internet Assigned Numbers Authority
Registrant Organization: Example Org
Registrant Country: US
Name Server: A.IANA-SERVERS.NET
Name Server: B.IANA-SERVERS.NET
`

func TestNetworkStageWhois(t *testing.T) {
	stage := &NetworkStage{Whois: func(_ context.Context, domain string) (string, error) {
		if domain != "example.com" {
			t.Errorf("whois domain = %q", domain)
		}
		return sampleWhois, nil
	}}
	got, err := stage.whoisRecord(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("whoisRecord: %v", err)
	}
	rec := got[0].Payload.(models.WhoisRecord)
	if !strings.Contains(rec.Registrar, "Internet Assigned Numbers Authority") {
		t.Errorf("registrar = %q", rec.Registrar)
	}
	if rec.Domain != "example.com" || got[0].Severity != models.SeverityLow {
		t.Errorf("record = %+v", rec)
	}
}

func TestNetworkStageSkipsNonDomains(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	rc, _ := newRunContext(t, srv.URL, nil)
	if got := NewNetworkStage().Collect(context.Background(), target(t, "johndoe"), models.LevelNormal, rc); got != nil {
		t.Errorf("findings = %v", kinds(got))
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("calls = %d", n)
	}
}

// -- social ----------------------------------------------------------------------

func TestSocialStageProfiles(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/results/all/":
			w.Write([]byte(`<a href="` + srvURL + `/in/jane-doe?trk=x">Jane</a><a href="` + srvURL + `/company/acme">Acme</a>`))
		case "/tw/jdoe":
			w.Write([]byte(`<html><head><title>Jane (@jdoe) / X</title><meta name="description" content="Security person"></head>
<body><span>1,204 Followers</span> <span>87 Following</span></body></html>`))
		case "/gh/jdoe":
			w.Write([]byte(`<html><body><span class="p-name vcard-fullname">Jane Doe</span>
<img class="avatar avatar-user" src="https://avatars.example/u/1"></body></html>`))
		case "/@jdoe":
			w.Write([]byte(`<script>{"userId":"6712"}</script>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	rc, _ := newRunContext(t, srv.URL, func(c *models.Config) {
		c.Endpoints["twitter"] = srv.URL + "/tw"
		c.Endpoints["github_web"] = srv.URL + "/gh"
	})
	got := NewSocialStage().Collect(context.Background(), target(t, "jdoe@example.com"), models.LevelNormal, rc)

	want := []models.Kind{models.KindLinkedInProfile, models.KindTwitterProfile, models.KindGitHubProfile, models.KindTikTokProfile}
	if len(got) != len(want) {
		t.Fatalf("findings = %v", kinds(got))
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("finding %d = %s, want %s", i, got[i].Kind, want[i])
		}
	}
	if li := got[0].Payload.(models.LinkedInProfile); li.Name != "Jane Doe" || li.URL != srv.URL+"/in/jane-doe" {
		t.Errorf("linkedin = %+v", li)
	}
	if tw := got[1].Payload.(models.TwitterProfile); tw.Followers != "1,204" || tw.Following != "87" || tw.Bio != "Security person" {
		t.Errorf("twitter = %+v", tw)
	}
	if gh := got[2].Payload.(models.GitHubProfile); gh.Name != "Jane Doe" || gh.Avatar != "https://avatars.example/u/1" {
		t.Errorf("github = %+v", gh)
	}
}

func TestSocialFacebookRequiresHandleOnPage(t *testing.T) {
	var srvURL string
	var mentions atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := `<a href="` + srvURL + `/someone.else">Someone</a><a href="` + srvURL + `/another.person">Another</a>`
		if mentions.Load() {
			page += `<a href="` + srvURL + `/jdoe">jdoe</a>`
		}
		w.Write([]byte(page))
	}))
	defer srv.Close()
	srvURL = srv.URL

	rc, _ := newRunContext(t, srv.URL, nil)
	s := NewSocialStage()
	got, err := s.facebook(context.Background(), "jdoe", rc.client(), rc)
	if err != nil || len(got) != 0 {
		t.Fatalf("landing page without handle = %v, %v", kinds(got), err)
	}

	mentions.Store(true)
	got, err = s.facebook(context.Background(), "jdoe", rc.client(), rc)
	if err != nil || len(got) != 3 {
		t.Fatalf("findings = %v, %v", kinds(got), err)
	}
	if got[0].Severity != models.SeverityMedium || got[0].Kind != models.KindFacebookPublic {
		t.Errorf("finding = %+v", got[0])
	}
}

// -- credential ------------------------------------------------------------------

func TestCredentialStageEmailPatterns(t *testing.T) {
	rc, _ := newRunContext(t, "http://127.0.0.1:1", nil)
	got := NewCredentialStage().Collect(context.Background(), target(t, "jane.smith@company.com"), models.LevelNormal, rc)

	var withHandle, withDomain, variants int
	for _, f := range got {
		switch p := f.Payload.(type) {
		case models.SimulatedCrack:
			if f.Severity != models.SeverityCritical {
				t.Errorf("crack severity = %s", f.Severity)
			}
			if strings.Contains(p.Password, "janesmith") {
				withHandle++
				if p.ReuseScore != 0.9 {
					t.Errorf("reuse for %q = %v", p.Password, p.ReuseScore)
				}
			}
			if strings.Contains(p.Password, "company") {
				withDomain++
			}
		case models.CredentialVariant:
			variants++
			if strings.Contains(p.Guess, "janesmith") || strings.Contains(p.Guess, "JANESMITH") || strings.Contains(p.Guess, "Janesmith") {
				withHandle++
			}
		}
	}
	if withHandle < 5 {
		t.Errorf("guesses containing the handle = %d", withHandle)
	}
	if withDomain < 1 {
		t.Errorf("guesses containing the domain label = %d", withDomain)
	}
	if variants != 10 {
		t.Errorf("variants = %d, want 10", variants)
	}
}

func TestCredentialStageUsernameHasNoVariants(t *testing.T) {
	rc, _ := newRunContext(t, "http://127.0.0.1:1", nil)
	got := NewCredentialStage().Collect(context.Background(), target(t, "johndoe"), models.LevelNormal, rc)
	for _, f := range got {
		if f.Kind == models.KindCredentialVariant {
			t.Fatalf("username target produced a variant: %+v", f.Payload)
		}
	}
	if len(got) != 2*(len(commonPasswords)+3) {
		t.Errorf("findings = %d", len(got))
	}
}
