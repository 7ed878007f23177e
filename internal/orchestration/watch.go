package orchestration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/internal/collectors"
	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const (
	defaultTelegram = "https://api.telegram.org"
	notifyTimeout   = 5 * time.Second
)

// Notifier delivers a watch alert.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type TelegramNotifier struct {
	Endpoint string
	Token    string
	ChatID   string
	client   *httpclient.Client
}

// NewTelegramNotifier returns nil when the bot token or chat id is missing.
func NewTelegramNotifier(cfg *models.Config, client *httpclient.Client) *TelegramNotifier {
	if cfg.Watch.TelegramBotToken == "" || cfg.Watch.TelegramChatID == "" {
		return nil
	}
	return &TelegramNotifier{
		Endpoint: cfg.Endpoint("telegram", defaultTelegram),
		Token:    cfg.Watch.TelegramBotToken,
		ChatID:   cfg.Watch.TelegramChatID,
		client:   client,
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	_, err := t.client.Do(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         strings.TrimRight(t.Endpoint, "/") + "/bot" + t.Token + "/sendMessage",
		FormBody:    url.Values{"chat_id": {t.ChatID}, "text": {text}},
		Timeout:     notifyTimeout,
		MaxAttempts: 1,
	})
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

type watchState struct {
	Target    string    `json:"target"`
	Breaches  []string  `json:"breaches"`
	CheckedAt time.Time `json:"checked_at"`
}

// Watcher re-runs the identity-breach stage for each watched target and
// alerts on breach names it has not seen before. The first check of a
// target records a baseline without alerting.
type Watcher struct {
	targets  []models.Target
	pipeline *Pipeline
	stage    collectors.Stage
	notifier Notifier
	schedule *WatchSchedule
	stateDir string
	sleep    utils.Sleeper
	now      func() time.Time
	logger   *logrus.Logger
}

type WatchOption func(*Watcher)

func WithNotifier(n Notifier) WatchOption {
	return func(w *Watcher) { w.notifier = n }
}

func WithWatchSleeper(s utils.Sleeper) WatchOption {
	return func(w *Watcher) {
		if s != nil {
			w.sleep = s
		}
	}
}

func NewWatcher(cfg *models.Config, logger *logrus.Logger, opts ...WatchOption) (*Watcher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	if cfg.Watch.Interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive")
	}

	var targets []models.Target
	for _, raw := range utils.RemoveDuplicates(cfg.Watch.Targets) {
		t, err := models.ParseTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("watch target %q: %w", raw, err)
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no watch targets configured")
	}

	// the watch loop always queries live sources
	live := *cfg
	live.CacheEnabled = false

	w := &Watcher{
		targets:  targets,
		stage:    collectors.NewBreachStage(),
		schedule: NewWatchSchedule(cfg.Watch.Interval),
		stateDir: cfg.Watch.StateDir,
		sleep:    utils.SleepContext,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.pipeline = NewPipeline(&live, logger, WithSleeper(w.sleep), WithStages(w.stage))
	if w.notifier == nil {
		if tg := NewTelegramNotifier(&live, w.pipeline.client); tg != nil {
			w.notifier = tg
		} else {
			logger.Warn("telegram alerts disabled: bot token or chat id missing")
		}
	}
	return w, nil
}

// Run checks every target immediately, then on the configured interval,
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	start := w.now()
	for _, t := range w.targets {
		w.schedule.Add(t.Raw, start)
	}
	w.logger.Infof("watching %d targets every %s", len(w.targets), w.schedule.interval)

	for {
		for _, job := range w.schedule.Ready(w.now()) {
			if ctx.Err() != nil {
				return nil
			}
			t, _ := models.ParseTarget(job.Target)
			fresh, err := w.CheckTarget(ctx, t)
			if err != nil {
				w.logger.WithField("target", job.Target).Errorf("watch check failed: %v", err)
			} else if len(fresh) > 0 {
				w.logger.WithField("target", job.Target).Warnf("new breaches: %s", strings.Join(fresh, ", "))
			}
			w.schedule.Done(job, w.now(), err != nil)
		}

		next, ok := w.schedule.Next()
		if !ok {
			return nil
		}
		wait := next.Sub(w.now())
		if err := w.sleep(ctx, wait); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// CheckTarget runs one breach check and returns the names not seen before.
func (w *Watcher) CheckTarget(ctx context.Context, t models.Target) ([]string, error) {
	rc, err := w.pipeline.NewRunContext(uuid.NewString())
	if err != nil {
		return nil, err
	}
	findings, _ := collectors.Run(ctx, w.stage, t, models.LevelNormal, rc)
	current := breachNames(findings)

	path := w.statePath(t)
	var prev watchState
	baseline := true
	if utils.FileExists(path) {
		if err := utils.ReadFileJSON(path, &prev); err != nil {
			return nil, fmt.Errorf("read watch state: %w", err)
		}
		baseline = false
	}

	seen := make(map[string]bool, len(prev.Breaches))
	for _, b := range prev.Breaches {
		seen[b] = true
	}
	var fresh []string
	for _, b := range current {
		if !seen[b] {
			fresh = append(fresh, b)
		}
	}

	if !baseline && len(fresh) > 0 && w.notifier != nil {
		msg := fmt.Sprintf("[ALERT] New breach detected: %s in %s", t.Raw, strings.Join(fresh, ", "))
		// state is left untouched so the next check alerts again
		if err := w.notifier.Notify(ctx, msg); err != nil {
			return fresh, err
		}
		w.logger.Infof("alert sent: %s", msg)
	}

	next := watchState{
		Target:    t.Raw,
		Breaches:  mergeSorted(prev.Breaches, current),
		CheckedAt: w.now(),
	}
	if err := utils.WriteFileJSON(path, next); err != nil {
		return fresh, fmt.Errorf("write watch state: %w", err)
	}
	if baseline {
		w.logger.WithField("target", t.Raw).Infof("baseline recorded with %d breaches", len(current))
		return nil, nil
	}
	return fresh, nil
}

func (w *Watcher) statePath(t models.Target) string {
	return filepath.Join(w.stateDir, models.ReportDirName(t)+".json")
}

// GetStats reports the targets, the schedule and the pipeline behind it.
func (w *Watcher) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"targets":  len(w.targets),
		"schedule": w.schedule.GetStats(),
		"pipeline": w.pipeline.GetStats(),
	}
}

func breachNames(findings []models.Finding) []string {
	var names []string
	for _, f := range findings {
		if b, ok := f.Payload.(models.BreachRecord); ok && b.Name != "" {
			names = append(names, b.Name)
		}
	}
	return mergeSorted(nil, names)
}

func mergeSorted(a, b []string) []string {
	out := utils.RemoveDuplicates(append(append([]string{}, a...), b...))
	sort.Strings(out)
	return out
}
