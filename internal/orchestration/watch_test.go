package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, text)
	return nil
}

// breachServer answers the breach lookup with the names in *names and
// 404s everything else.
func breachServer(t *testing.T, names *[]string, mu *sync.Mutex) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/breachedaccount/") {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		var out []map[string]string
		for _, n := range *names {
			out = append(out, map[string]string{"Name": n})
		}
		mu.Unlock()
		json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func watchConfig(t *testing.T, base string) *models.Config {
	cfg := testConfig(t)
	cfg.APIKeys[models.KeyHIBP] = "hibp-test"
	for _, name := range []string{"haveibeenpwned", "psbdmp", "github_api", "hunterio", "intelx"} {
		cfg.Endpoints[name] = base
	}
	cfg.Watch.Enabled = true
	cfg.Watch.Targets = []string{"jane@example.com"}
	cfg.Watch.StateDir = t.TempDir()
	return cfg
}

func TestWatcherAlertsOnlyOnNewBreaches(t *testing.T) {
	var mu sync.Mutex
	names := []string{"Adobe"}
	srv := breachServer(t, &names, &mu)
	cfg := watchConfig(t, srv.URL)
	notifier := &recordingNotifier{}
	w, err := NewWatcher(cfg, quietLogger(), WithNotifier(notifier), WithWatchSleeper(noSleep))
	if err != nil {
		t.Fatal(err)
	}
	target := mustTarget(t, "jane@example.com")
	ctx := context.Background()

	fresh, err := w.CheckTarget(ctx, target)
	if err != nil || fresh != nil || len(notifier.msgs) != 0 {
		t.Fatalf("baseline: fresh = %v, err = %v, msgs = %v", fresh, err, notifier.msgs)
	}

	mu.Lock()
	names = []string{"Canva", "Adobe"}
	mu.Unlock()
	fresh, err = w.CheckTarget(ctx, target)
	if err != nil || !reflect.DeepEqual(fresh, []string{"Canva"}) {
		t.Fatalf("fresh = %v, err = %v", fresh, err)
	}
	if len(notifier.msgs) != 1 || !strings.Contains(notifier.msgs[0], "jane@example.com in Canva") {
		t.Errorf("msgs = %v", notifier.msgs)
	}

	fresh, err = w.CheckTarget(ctx, target)
	if err != nil || len(fresh) != 0 || len(notifier.msgs) != 1 {
		t.Errorf("repeat check: fresh = %v, msgs = %v", fresh, notifier.msgs)
	}

	var state watchState
	if err := utils.ReadFileJSON(filepath.Join(cfg.Watch.StateDir, "jane_at_example.com.json"), &state); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(state.Breaches, []string{"Adobe", "Canva"}) {
		t.Errorf("state = %+v", state)
	}
}

func TestWatcherRetriesAlertAfterNotifyFailure(t *testing.T) {
	var mu sync.Mutex
	names := []string{}
	srv := breachServer(t, &names, &mu)
	notifier := &recordingNotifier{}
	w, err := NewWatcher(watchConfig(t, srv.URL), quietLogger(), WithNotifier(notifier), WithWatchSleeper(noSleep))
	if err != nil {
		t.Fatal(err)
	}
	target := mustTarget(t, "jane@example.com")
	ctx := context.Background()
	if _, err := w.CheckTarget(ctx, target); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	names = []string{"Dropbox"}
	mu.Unlock()
	notifier.err = errors.New("telegram down")
	if _, err := w.CheckTarget(ctx, target); err == nil {
		t.Fatal("expected the notify error")
	}

	notifier.err = nil
	fresh, err := w.CheckTarget(ctx, target)
	if err != nil || !reflect.DeepEqual(fresh, []string{"Dropbox"}) || len(notifier.msgs) != 1 {
		t.Errorf("fresh = %v, err = %v, msgs = %v", fresh, err, notifier.msgs)
	}
}

func TestWatcherRunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	names := []string{"Adobe"}
	srv := breachServer(t, &names, &mu)
	cfg := watchConfig(t, srv.URL)
	cfg.Watch.Targets = []string{"jane@example.com", "john@example.com"}

	ctx, cancel := context.WithCancel(context.Background())
	var waits []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		cancel()
		return ctx.Err()
	}
	w, err := NewWatcher(cfg, quietLogger(), WithNotifier(&recordingNotifier{}), WithWatchSleeper(sleeper))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(ctx); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"jane_at_example.com.json", "john_at_example.com.json"} {
		if !utils.FileExists(filepath.Join(cfg.Watch.StateDir, f)) {
			t.Errorf("missing state %s", f)
		}
	}
	if len(waits) != 1 || waits[0] <= 0 || waits[0] > cfg.Watch.Interval {
		t.Errorf("waits = %v", waits)
	}
	if w.schedule.Len() != 2 {
		t.Errorf("schedule len = %d", w.schedule.Len())
	}
}

func TestNewWatcherValidatesTargets(t *testing.T) {
	cfg := models.DefaultConfig()
	if _, err := NewWatcher(cfg, quietLogger()); err == nil {
		t.Error("expected an error without targets")
	}
	cfg.Watch.Targets = []string{"has space"}
	if _, err := NewWatcher(cfg, quietLogger()); err == nil {
		t.Error("expected an error for an invalid target")
	}
}

func TestTelegramNotifierPostsForm(t *testing.T) {
	var path, chat, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		r.ParseForm()
		chat, text = r.PostForm.Get("chat_id"), r.PostForm.Get("text")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	if NewTelegramNotifier(cfg, nil) != nil {
		t.Fatal("notifier without credentials should be nil")
	}
	cfg.Watch.TelegramBotToken = "123:abc"
	cfg.Watch.TelegramChatID = "42"
	cfg.Endpoints["telegram"] = srv.URL
	n := NewTelegramNotifier(cfg, httpclient.New(cfg, quietLogger()))
	if err := n.Notify(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if path != "/bot123:abc/sendMessage" || chat != "42" || text != "hello" {
		t.Errorf("path = %q, chat = %q, text = %q", path, chat, text)
	}
}

func TestWatchScheduleBackoff(t *testing.T) {
	s := NewWatchSchedule(time.Hour)
	now := time.Now()
	s.Add("b", now)
	s.Add("a", now)
	s.Add("a", now.Add(time.Minute))
	s.Add("c", now.Add(2*time.Hour))

	ready := s.Ready(now)
	if len(ready) != 2 || ready[0].Target != "a" || ready[1].Target != "b" {
		t.Fatalf("ready = %+v", ready)
	}
	s.Done(ready[0], now, true)
	s.Done(ready[1], now, false)
	if ready[0].Failures != 1 || ready[0].Due.Sub(now) > 72*time.Second || ready[0].Due.Sub(now) < 48*time.Second {
		t.Errorf("failed job due in %v", ready[0].Due.Sub(now))
	}
	if !ready[1].Due.Equal(now.Add(time.Hour)) {
		t.Errorf("ok job due in %v", ready[1].Due.Sub(now))
	}
	if next, ok := s.Next(); !ok || !next.Equal(ready[0].Due) {
		t.Errorf("next = %v", next)
	}
	if d := s.backoff(20); d > time.Hour {
		t.Errorf("backoff %v exceeds interval", d)
	}
}
