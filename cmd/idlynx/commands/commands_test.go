package commands

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/bl4ck0w1/idlynx/pkg/models"
)

func TestParseValueForKey(t *testing.T) {
	cases := []struct {
		key, raw string
		want     interface{}
	}{
		{"cache_enabled", "false", false},
		{"max_retries", "5", 5},
		{"max_retries", "1", 1},
		{"ai_temperature", "0.3", 0.3},
		{"request_timeout", "15s", "15s"},
		{"watch.interval", "2h", "2h0m0s"},
		{"proxy_list", "http://a:1, socks5://b:2", []string{"http://a:1", "socks5://b:2"}},
		{"watch.targets", "jane@example.com", []string{"jane@example.com"}},
		{"api_keys.github", "12345", "12345"},
		{"watch.telegram_chat_id", "42", "42"},
	}
	for _, tc := range cases {
		if got := parseValueForKey(tc.key, tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseValueForKey(%q, %q) = %#v, want %#v", tc.key, tc.raw, got, tc.want)
		}
	}
}

func TestSetNestedCreatesIntermediateMaps(t *testing.T) {
	doc := map[string]interface{}{"level": "normal"}
	setNested(doc, []string{"api_keys", "hunterio"}, "secret")
	setNested(doc, []string{"api_keys", "github"}, "ghp")
	keys, ok := doc["api_keys"].(map[string]interface{})
	if !ok || keys["hunterio"] != "secret" || keys["github"] != "ghp" || doc["level"] != "normal" {
		t.Errorf("doc = %#v", doc)
	}
}

func TestLoadConfigAppliesFileAndOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := models.DefaultConfig()
	cfg.Level = "gentle"
	cfg.Watch.Interval = 45 * time.Minute
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	viper.Set("api_keys.haveibeenpwned", "hibp-key")
	viper.Set("output_dir", "/tmp/idlynx-reports")

	got, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if got.Level != "gentle" || got.Watch.Interval != 45*time.Minute {
		t.Errorf("file values lost: level=%s interval=%s", got.Level, got.Watch.Interval)
	}
	if got.Credential(models.KeyHIBP) != "hibp-key" || got.OutputDir != "/tmp/idlynx-reports" {
		t.Errorf("overrides lost: %+v", got)
	}
}

func TestFindReportFilesReadsJSONHeader(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "jane_at_example.com")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(target, "report.json"), []byte(`{"target":"jane@example.com","run_id":"r-1"}`), 0o644)
	os.WriteFile(filepath.Join(target, "report.md"), []byte("# idlynx Report\n"), 0o644)
	os.WriteFile(filepath.Join(target, "notes.txt"), []byte("ignored"), 0o644)

	files, err := findReportFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %+v", files)
	}
	for _, f := range files {
		switch f.Format {
		case "json":
			if f.Target != "jane@example.com" || f.RunID != "r-1" {
				t.Errorf("json report = %+v", f)
			}
		case "md":
			if f.Target != "jane_at_example.com" || f.RunID != "" {
				t.Errorf("md report = %+v", f)
			}
		default:
			t.Errorf("unexpected format %q", f.Format)
		}
	}

	if files, err := findReportFiles(filepath.Join(dir, "missing")); err != nil || files != nil {
		t.Errorf("missing dir: files = %v, err = %v", files, err)
	}
}

func TestHumanizeBytes(t *testing.T) {
	for n, want := range map[int64]string{512: "512 B", 2048: "2.0 KiB", 5 << 20: "5.0 MiB"} {
		if got := humanizeBytes(n); got != want {
			t.Errorf("humanizeBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
