package collectors

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/evasion/proxies"
	"github.com/bl4ck0w1/idlynx/internal/evasion/timing"
	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

var ErrNoCredential = errors.New("credential not configured")

// errSkipped marks a lookup that did not apply to this target or level.
var errSkipped = errors.New("lookup skipped")

// Stage is one independent lookup battery against a target.
type Stage interface {
	Name() string
	CacheKey(t models.Target) storage.Key
	Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding
}

// RunContext carries everything a stage needs for one run.
type RunContext struct {
	RunID   string
	Config  *models.Config
	HTTP    *httpclient.Client
	Rotator *proxies.Rotator
	Relay   *proxies.RelayController
	Cache   *storage.StageCache
	Metrics *utils.MetricsCollector
	Delayer *timing.RandomDelayer
	Sleep   utils.Sleeper
	Logger  *logrus.Logger
}

func (rc *RunContext) config() *models.Config {
	if rc.Config == nil {
		rc.Config = models.DefaultConfig()
	}
	return rc.Config
}

func (rc *RunContext) logger() *logrus.Logger {
	if rc.Logger == nil {
		rc.Logger = logrus.New()
	}
	return rc.Logger
}

// client binds the shared HTTP client to the rotator's current route. Each
// stage calls it once so a stage's lookups share one egress path.
func (rc *RunContext) client() *httpclient.Client {
	if rc.HTTP == nil {
		rc.HTTP = httpclient.New(rc.config(), rc.logger(), httpclient.WithSleeper(rc.Sleep), httpclient.WithMetrics(rc.Metrics))
	}
	if route := rc.Rotator.CurrentRoute(); route != nil && !route.IsDirect() {
		return rc.HTTP.WithRoute(route)
	}
	return rc.HTTP
}

func (rc *RunContext) endpoint(name, fallback string) string {
	return rc.config().Endpoint(name, fallback)
}

func (rc *RunContext) sleep(ctx context.Context, d time.Duration) error {
	if rc.Sleep != nil {
		return rc.Sleep(ctx, d)
	}
	return utils.SleepContext(ctx, d)
}

// pace inserts a jittered pause between scraping probes at the gentle level.
func (rc *RunContext) pace(ctx context.Context, level models.AggressionLevel) {
	if level == models.LevelGentle {
		_ = rc.Delayer.DelayCtx(ctx)
	}
}

func (rc *RunContext) stageLog(stage string, t models.Target) *logrus.Entry {
	entry := rc.logger().WithFields(logrus.Fields{"stage": stage, "target": t.Raw})
	if rc.RunID != "" {
		entry = entry.WithField("run_id", rc.RunID)
	}
	return entry
}

// Run applies the common cache policy around a stage. Below the aggressive
// level a cached entry is returned verbatim without touching the network; at
// the aggressive level the cache is bypassed and the fresh list, empty or
// not, overwrites the entry. A list cut short by cancellation is returned
// but never stored.
func Run(ctx context.Context, s Stage, t models.Target, level models.AggressionLevel, rc *RunContext) ([]models.Finding, bool) {
	key := s.CacheKey(t)
	log := rc.stageLog(s.Name(), t)

	if !level.IsAggressive() {
		if cached, err := rc.Cache.Load(key); err == nil {
			log.Debugf("loaded %d findings from cache %s", len(cached), key)
			rc.Metrics.IncCounter(utils.MetricCacheHits, 1, prometheus.Labels{"stage": s.Name()})
			return cached, true
		}
	}

	findings := s.Collect(ctx, t, level, rc)
	if findings == nil {
		findings = []models.Finding{}
	}

	if level.IsAggressive() {
		if ctx.Err() != nil {
			log.Warnf("stage interrupted, keeping cache %s: %v", key, ctx.Err())
			return findings, false
		}
		if err := rc.Cache.Store(key, findings); err != nil {
			log.Warnf("cache write failed: %v", err)
		}
	}
	return findings, false
}

// lookup is one external query inside a stage. A failing lookup is logged
// and the stage moves on; whatever it returned before failing is kept.
type lookup struct {
	name string
	run  func(ctx context.Context) ([]models.Finding, error)
}

func runLookups(ctx context.Context, log *logrus.Entry, lookups []lookup) []models.Finding {
	var out []models.Finding
	for _, l := range lookups {
		if ctx.Err() != nil {
			log.Debugf("context done, skipping remaining lookups from %s", l.name)
			break
		}
		found, err := l.run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoCredential), errors.Is(err, errSkipped):
			log.Debugf("%s: %v", l.name, err)
		default:
			log.Warnf("%s lookup failed: %v", l.name, err)
		}
		out = append(out, found...)
	}
	return out
}

// All returns the eight stages in pipeline order.
func All() []Stage {
	return []Stage{
		NewBreachStage(),
		NewPhoneStage(),
		NewHandleStage(),
		NewDarkWebStage(),
		NewCodeRepoStage(),
		NewNetworkStage(),
		NewSocialStage(),
		NewCredentialStage(),
	}
}

// Select keeps the stages named in names, preserving pipeline order. An
// empty selection keeps everything.
func Select(stages []Stage, names []string) []Stage {
	if len(names) == 0 {
		return stages
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Stage
	for _, s := range stages {
		if want[s.Name()] {
			out = append(out, s)
		}
	}
	return out
}

func StageNames() []string {
	var names []string
	for _, s := range All() {
		names = append(names, s.Name())
	}
	return names
}

func cacheKey(dir, file string) storage.Key {
	return storage.Key{Dir: dir, File: file}
}
