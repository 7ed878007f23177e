package orchestration

import (
	"context"
	"io"
	"net"
	"net/textproto"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/collectors"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func noSleep(context.Context, time.Duration) error { return nil }

func testConfig(t *testing.T) *models.Config {
	cfg := models.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.MaxRetries = 0
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

type fakeStage struct {
	name     string
	findings []models.Finding
	panics   bool
	calls    int
	routes   []string
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) CacheKey(t models.Target) storage.Key {
	return storage.Key{Dir: "fake", File: s.name + "_" + storage.SanitizeKeyPart(t.Raw) + ".json"}
}

func (s *fakeStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *collectors.RunContext) []models.Finding {
	s.calls++
	if route := rc.Rotator.CurrentRoute(); route != nil {
		s.routes = append(s.routes, route.String())
	}
	if s.panics {
		panic("boom")
	}
	return s.findings
}

func low(source string) models.Finding {
	return models.NewFinding(source, models.SeverityLow, models.HandleFound{URL: "https://example.com/" + source})
}

func mustTarget(t *testing.T, raw string) models.Target {
	t.Helper()
	target, err := models.ParseTarget(raw)
	if err != nil {
		t.Fatal(err)
	}
	return target
}

func TestPipelineContainsStageFailures(t *testing.T) {
	a := &fakeStage{name: "a", findings: []models.Finding{low("a1"), low("a2")}}
	b := &fakeStage{name: "b", panics: true}
	c := &fakeStage{name: "c", findings: []models.Finding{low("c1")}}
	metrics := utils.NewPipelineMetrics()
	p := NewPipeline(testConfig(t), quietLogger(), WithStages(a, b, c), WithSleeper(noSleep), WithMetrics(metrics))

	run, err := p.Run(context.Background(), mustTarget(t, "janedoe"), models.LevelNormal)
	if err != nil {
		t.Fatal(err)
	}
	var statuses []string
	for _, s := range run.Stages {
		statuses = append(statuses, s.Name+":"+s.Status)
	}
	want := []string{"a:completed", "b:failed", "c:completed"}
	if !reflect.DeepEqual(statuses, want) {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
	if len(run.Findings) != 4 || !run.Findings[3].IsSynthesis() {
		t.Fatalf("findings = %+v", run.Findings)
	}
	if run.Findings[0].Source != "a1" || run.Findings[2].Source != "c1" {
		t.Errorf("merge order broken: %+v", run.Findings)
	}
	if total, _ := run.Counts(); total != 3 {
		t.Errorf("total = %d", total)
	}
	if !reflect.DeepEqual(run.FailedStages(), []string{"b"}) || run.RunID == "" {
		t.Errorf("failed = %v, run id = %q", run.FailedStages(), run.RunID)
	}

	snap, err := metrics.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap[utils.MetricStageFailures+"{stage=b}"] != 1 || snap[utils.MetricStageFindings+"{stage=a}"] != 2 {
		t.Errorf("metrics = %v", snap)
	}
	stats := p.GetStats()
	if stats["completed_runs"] != 1 || stats["active_runs"] != 0 {
		t.Errorf("stats = %v", stats)
	}
	if active, ok := stats["active"].([]RunState); !ok || len(active) != 0 {
		t.Errorf("active = %#v", stats["active"])
	}
	for _, key := range []string{"cache", "rate_limiter", "tls", "egress", "pacing"} {
		if _, ok := stats[key].(map[string]interface{}); !ok {
			t.Errorf("stats[%q] = %#v", key, stats[key])
		}
	}
}

func TestPipelineUsesCacheBelowAggressive(t *testing.T) {
	cfg := testConfig(t)
	stage := &fakeStage{name: "a", findings: []models.Finding{low("fresh")}}
	target := mustTarget(t, "jane@example.com")

	cache := storage.NewStageCache(cfg.CacheDir, true, quietLogger())
	if err := cache.Store(stage.CacheKey(target), []models.Finding{low("cached")}); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(cfg, quietLogger(), WithStages(stage), WithSleeper(noSleep))
	run, err := p.Run(context.Background(), target, models.LevelNormal)
	if err != nil {
		t.Fatal(err)
	}
	if stage.calls != 0 || run.Stages[0].Status != models.StageStatusCached || run.Findings[0].Source != "cached" {
		t.Errorf("calls = %d, stages = %+v", stage.calls, run.Stages)
	}

	run, err = p.Run(context.Background(), target, models.LevelAggressive)
	if err != nil {
		t.Fatal(err)
	}
	if stage.calls != 1 || run.Findings[0].Source != "fresh" {
		t.Errorf("aggressive run did not bypass cache: %+v", run.Findings)
	}
}

func TestPipelineRotatesEgressBetweenStages(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProxyList = []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080"}
	cfg.ProxyRotationEnabled = true
	a, b := &fakeStage{name: "a"}, &fakeStage{name: "b"}

	if _, err := NewPipeline(cfg, quietLogger(), WithStages(a, b), WithSleeper(noSleep)).
		Run(context.Background(), mustTarget(t, "janedoe"), models.LevelNormal); err != nil {
		t.Fatal(err)
	}
	if a.routes[0] == b.routes[0] {
		t.Errorf("expected different routes, got %v and %v", a.routes, b.routes)
	}

	cfg.ProxyRotationEnabled = false
	a, b = &fakeStage{name: "a"}, &fakeStage{name: "b"}
	if _, err := NewPipeline(cfg, quietLogger(), WithStages(a, b), WithSleeper(noSleep)).
		Run(context.Background(), mustTarget(t, "janedoe"), models.LevelNormal); err != nil {
		t.Fatal(err)
	}
	if a.routes[0] != "http://10.0.0.1:8080" || b.routes[0] != a.routes[0] {
		t.Errorf("expected a fixed first route, got %v and %v", a.routes, b.routes)
	}
}

func TestPipelineRejectsBadRoute(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProxyList = []string{"ftp://nope"}
	_, err := NewPipeline(cfg, quietLogger(), WithStages(&fakeStage{name: "a"})).
		Run(context.Background(), mustTarget(t, "janedoe"), models.LevelNormal)
	if err == nil {
		t.Fatal("expected a setup error")
	}
}

func TestPipelineSkipsStagesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeStage{name: "a"}
	run, err := NewPipeline(testConfig(t), quietLogger(), WithStages(a), WithSleeper(noSleep)).
		Run(ctx, mustTarget(t, "janedoe"), models.LevelNormal)
	if err != nil {
		t.Fatal(err)
	}
	if a.calls != 0 || run.Stages[0].Status != models.StageStatusSkipped {
		t.Errorf("stages = %+v", run.Stages)
	}
	if len(run.Findings) != 1 || !run.Findings[0].IsSynthesis() {
		t.Errorf("findings = %+v", run.Findings)
	}
}

func TestSelectStagesKeepsPipelineOrder(t *testing.T) {
	p := NewPipeline(testConfig(t), quietLogger())
	if err := p.SelectStages([]string{"social", "breach", "network"}); err != nil {
		t.Fatal(err)
	}
	if got := p.StageNames(); !reflect.DeepEqual(got, []string{"breach", "network", "social"}) {
		t.Errorf("stages = %v", got)
	}
	if err := p.SelectStages([]string{"nope"}); err == nil {
		t.Error("expected an error for an unknown stage")
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

func TestPipelineThrottlesRelayBetweenStages(t *testing.T) {
	addr, newnym := controlPort(t)
	cfg := testConfig(t)
	cfg.UseTor = true
	cfg.TorControlAddr = addr
	cfg.RotationInterval = time.Hour
	cfg.ProxyRotationEnabled = false
	stages := []collectors.Stage{&fakeStage{name: "a"}, &fakeStage{name: "b"}, &fakeStage{name: "c"}}

	if _, err := NewPipeline(cfg, quietLogger(), WithStages(stages...), WithSleeper(noSleep)).
		Run(context.Background(), mustTarget(t, "janedoe"), models.LevelNormal); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(newnym); n != 1 {
		t.Errorf("throttled NEWNYM signals = %d, want 1", n)
	}

	cfg.ProxyRotationEnabled = true
	if _, err := NewPipeline(cfg, quietLogger(), WithStages(stages...), WithSleeper(noSleep)).
		Run(context.Background(), mustTarget(t, "janedoe"), models.LevelNormal); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(newnym); n != 4 {
		t.Errorf("NEWNYM signals with forced rotation = %d, want 4", n)
	}
}
