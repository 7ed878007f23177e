package orchestration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/collectors"
	"github.com/bl4ck0w1/idlynx/internal/evasion/fingerprinting"
	"github.com/bl4ck0w1/idlynx/internal/evasion/proxies"
	"github.com/bl4ck0w1/idlynx/internal/evasion/timing"
	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/internal/synthesis"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const (
	gentleDelayMin = 1 * time.Second
	gentleDelayMax = 3 * time.Second
)

// Pipeline runs the collector stages for one target in their fixed order,
// then appends the synthesis record.
type Pipeline struct {
	cfg     *models.Config
	stages  []collectors.Stage
	synth   *synthesis.Synthesizer
	client  *httpclient.Client
	cache   *storage.StageCache
	limiter *timing.HostLimiter
	tls     *fingerprinting.TLSFingerprinter
	metrics *utils.MetricsCollector
	sleep   utils.Sleeper
	logger  *logrus.Logger
	newID   func() string

	mu         sync.RWMutex
	active     map[string]*RunState
	completed  int
	lastRun    time.Time
	lastEgress map[string]interface{}
	lastPacing map[string]interface{}
}

// RunState is the live view of an in-flight run.
type RunState struct {
	RunID     string
	Target    string
	Stage     string
	StartTime time.Time
}

type Option func(*Pipeline)

func WithStages(stages ...collectors.Stage) Option {
	return func(p *Pipeline) { p.stages = stages }
}

func WithMetrics(m *utils.MetricsCollector) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithSleeper(s utils.Sleeper) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sleep = s
		}
	}
}

func WithHTTPClient(c *httpclient.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

func WithSynthesizer(s *synthesis.Synthesizer) Option {
	return func(p *Pipeline) { p.synth = s }
}

func NewPipeline(cfg *models.Config, logger *logrus.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	p := &Pipeline{
		cfg:    cfg,
		stages: collectors.All(),
		sleep:  utils.SleepContext,
		logger: logger,
		newID:  uuid.NewString,
		active: make(map[string]*RunState),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cache = storage.NewStageCache(cfg.CacheDir, cfg.CacheEnabled, logger)
	if p.client == nil {
		p.limiter = timing.NewHostLimiter(cfg.RequestsPerSecond, 1, logger)
		p.tls = fingerprinting.NewTLSFingerprinter(logger)
		p.client = httpclient.New(cfg, logger,
			httpclient.WithSleeper(p.sleep),
			httpclient.WithMetrics(p.metrics),
			httpclient.WithLimiter(p.limiter),
			httpclient.WithTLSFingerprint(cfg.TLSFingerprint, p.tls),
		)
	}
	if p.synth == nil {
		p.synth = synthesis.NewSynthesizer(cfg, p.client, logger)
	}
	return p
}

// SelectStages restricts the pipeline to the named stages. Pipeline order
// is kept whatever order the names are given in.
func (p *Pipeline) SelectStages(names []string) error {
	if len(names) == 0 {
		return nil
	}
	known := make(map[string]bool)
	for _, s := range p.stages {
		known[s.Name()] = true
	}
	for _, n := range names {
		if !known[n] {
			return fmt.Errorf("unknown stage %q (have %v)", n, collectors.StageNames())
		}
	}
	p.stages = collectors.Select(p.stages, names)
	return nil
}

func (p *Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// NewRunContext builds the collaborators shared by every stage of one run.
func (p *Pipeline) NewRunContext(runID string) (*collectors.RunContext, error) {
	routes := p.cfg.ProxyList
	if !p.cfg.ProxyRotationEnabled && len(routes) > 1 {
		routes = routes[:1]
	}
	rotator, err := proxies.NewRotator(routes, p.cfg.RotationInterval, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build egress rotator: %w", err)
	}

	rc := &collectors.RunContext{
		RunID:   runID,
		Config:  p.cfg,
		HTTP:    p.client,
		Rotator: rotator,
		Cache:   p.cache,
		Metrics: p.metrics,
		Delayer: timing.NewRandomDelayer(gentleDelayMin, gentleDelayMax, p.sleep),
		Sleep:   p.sleep,
		Logger:  p.logger,
	}
	if p.cfg.UseTor {
		relay := proxies.NewRelayController(p.cfg.TorControlAddr, p.cfg.TorControlPassword, p.logger)
		relay.Sleep = p.sleep
		rc.Relay = relay
	}
	return rc, nil
}

// Run executes every selected stage against target. A failing stage adds
// zero findings and never stops the run; the returned error covers only
// setup failures.
func (p *Pipeline) Run(ctx context.Context, target models.Target, level models.AggressionLevel) (*models.RunResult, error) {
	runID := p.newID()
	rc, err := p.NewRunContext(runID)
	if err != nil {
		return nil, err
	}

	result := &models.RunResult{
		RunID:     runID,
		Target:    target,
		Level:     level,
		StartTime: time.Now(),
		Findings:  []models.Finding{},
	}
	state := &RunState{RunID: runID, Target: target.Raw, StartTime: result.StartTime}
	p.mu.Lock()
	p.active[runID] = state
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, runID)
		p.completed++
		p.lastRun = time.Now()
		p.mu.Unlock()
	}()

	log := p.logger.WithFields(logrus.Fields{"run_id": runID, "target": target.Raw, "level": level})
	log.Infof("starting run with %d stages", len(p.stages))

	for _, stage := range p.stages {
		if ctx.Err() != nil {
			result.Stages = append(result.Stages, models.StageReport{Name: stage.Name(), Status: models.StageStatusSkipped})
			continue
		}
		p.mu.Lock()
		state.Stage = stage.Name()
		p.mu.Unlock()

		report, findings := p.runStage(ctx, stage, target, level, rc)
		result.Stages = append(result.Stages, report)
		result.Findings = append(result.Findings, findings...)

		if p.cfg.ProxyRotationEnabled {
			rc.Rotator.ForceRotate()
		}
		p.rotateRelay(ctx, rc, log)
	}

	result.Findings = append(result.Findings, p.synth.Synthesize(ctx, result.Findings))
	result.EndTime = time.Now()

	p.mu.Lock()
	p.lastEgress = rc.Rotator.GetStats()
	p.lastPacing = rc.Delayer.GetStats()
	p.mu.Unlock()

	total, counts := result.Counts()
	log.WithFields(logrus.Fields{
		"total":    total,
		"critical": counts.Critical,
		"high":     counts.High,
		"failed":   result.FailedStages(),
	}).Infof("run finished in %s", utils.HumanizeDuration(result.EndTime.Sub(result.StartTime)))
	return result, nil
}

// rotateRelay asks the relay for a fresh identity between stages, no more
// often than the rotation interval allows.
func (p *Pipeline) rotateRelay(ctx context.Context, rc *collectors.RunContext, log *logrus.Entry) {
	if rc.Relay == nil || ctx.Err() != nil || !rc.Rotator.RelayDue() {
		return
	}
	if err := rc.Relay.NewIdentity(ctx); err != nil {
		log.Warnf("relay identity rotation failed: %v", err)
	}
}

func (p *Pipeline) runStage(ctx context.Context, stage collectors.Stage, target models.Target, level models.AggressionLevel, rc *collectors.RunContext) (report models.StageReport, findings []models.Finding) {
	name := stage.Name()
	labels := prometheus.Labels{"stage": name}
	start := time.Now()
	report.Name = name

	defer func() {
		report.Duration = time.Since(start)
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{"stage": name, "run_id": rc.RunID}).Errorf("stage panicked: %v", r)
			report.Status = models.StageStatusFailed
			report.Error = fmt.Sprintf("panic: %v", r)
			report.Findings = 0
			findings = nil
			p.metrics.IncCounter(utils.MetricStageFailures, 1, labels)
		}
		p.metrics.ObserveHistogram(utils.MetricStageDuration, report.Duration.Seconds(), labels)
	}()

	found, cached := collectors.Run(ctx, stage, target, level, rc)
	report.Status = models.StageStatusCompleted
	if cached {
		report.Status = models.StageStatusCached
	}
	report.Findings = len(found)
	p.metrics.IncCounter(utils.MetricStageFindings, float64(len(found)), labels)
	return report, found
}

// ListActiveRuns returns a copy of the in-flight runs, oldest first.
func (p *Pipeline) ListActiveRuns() []RunState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RunState, 0, len(p.active))
	for _, s := range p.active {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (p *Pipeline) GetStats() map[string]interface{} {
	active := p.ListActiveRuns()
	stats := map[string]interface{}{
		"active_runs": len(active),
		"active":      active,
		"stages":      p.StageNames(),
		"cache":       p.cache.GetStats(),
	}
	if p.limiter != nil {
		stats["rate_limiter"] = p.limiter.GetStats()
	}
	if p.tls != nil {
		stats["tls"] = p.tls.GetFingerprintStats()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	stats["completed_runs"] = p.completed
	stats["last_run"] = p.lastRun
	if p.lastEgress != nil {
		stats["egress"] = p.lastEgress
		stats["pacing"] = p.lastPacing
	}
	return stats
}
