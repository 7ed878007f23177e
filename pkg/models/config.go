package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const (
	CurrentSchemaVersion      = "2.0.0"
	supportedSchemaConstraint = ">= 2.0.0, < 3.0.0"
)

// Credential table keys.
const (
	KeyHIBP      = "haveibeenpwned"
	KeyGitHub    = "github"
	KeyHunter    = "hunterio"
	KeyIntelX    = "intelx"
	KeyNumVerify = "numverify"
	KeyTwilio    = "twilio"
	KeyRiskSeal  = "riskseal"
	KeyTrestle   = "trestle"
	KeyShodan    = "shodan"
	KeyCensys    = "censys"
)

var KnownCredentials = []string{
	KeyHIBP, KeyGitHub, KeyHunter, KeyIntelX, KeyNumVerify,
	KeyTwilio, KeyRiskSeal, KeyTrestle, KeyShodan, KeyCensys,
}

type Config struct {
	SchemaVersion string            `yaml:"schema_version" json:"schema_version"`
	Level         string            `yaml:"level" json:"level"`
	Export        string            `yaml:"export" json:"export"`
	APIKeys       map[string]string `yaml:"api_keys" json:"api_keys"`

	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelayBase    time.Duration `yaml:"retry_delay_base" json:"retry_delay_base"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`

	ProxyList            []string      `yaml:"proxy_list" json:"proxy_list"`
	ProxyRotationEnabled bool          `yaml:"proxy_rotation_enabled" json:"proxy_rotation_enabled"`
	RotationInterval     time.Duration `yaml:"rotation_interval" json:"rotation_interval"`
	UseTor               bool          `yaml:"use_tor" json:"use_tor"`
	TorSocksAddr         string        `yaml:"tor_socks_addr" json:"tor_socks_addr"`
	TorControlAddr       string        `yaml:"tor_control_addr" json:"tor_control_addr"`
	TorControlPassword   string        `yaml:"tor_control_password" json:"tor_control_password"`
	TLSFingerprint       string        `yaml:"tls_fingerprint" json:"tls_fingerprint"`

	AI AIConfig `yaml:",inline" json:"ai"`

	CacheEnabled bool   `yaml:"cache_enabled" json:"cache_enabled"`
	CacheDir     string `yaml:"cache_dir" json:"cache_dir"`
	OutputDir    string `yaml:"output_dir" json:"output_dir"`
	LogFile      string `yaml:"log_file" json:"log_file"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`

	Watch     WatchConfig       `yaml:"watch" json:"watch"`
	Endpoints map[string]string `yaml:"endpoints" json:"endpoints"`
}

type AIConfig struct {
	SummaryEnabled bool    `yaml:"ai_summary_enabled" json:"ai_summary_enabled"`
	LocalMode      bool    `yaml:"ai_local_mode" json:"ai_local_mode"`
	LocalEndpoint  string  `yaml:"ai_local_endpoint" json:"ai_local_endpoint"`
	LocalModelName string  `yaml:"ai_local_model_name" json:"ai_local_model_name"`
	Endpoint       string  `yaml:"ai_endpoint" json:"ai_endpoint"`
	APIKey         string  `yaml:"ai_api_key" json:"ai_api_key"`
	Model          string  `yaml:"ai_model" json:"ai_model"`
	MaxTokens      int     `yaml:"ai_max_tokens" json:"ai_max_tokens"`
	Temperature    float64 `yaml:"ai_temperature" json:"ai_temperature"`
}

type WatchConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	Targets          []string      `yaml:"targets" json:"targets"`
	StateDir         string        `yaml:"state_dir" json:"state_dir"`
	TelegramBotToken string        `yaml:"telegram_bot_token" json:"telegram_bot_token"`
	TelegramChatID   string        `yaml:"telegram_chat_id" json:"telegram_chat_id"`
}

func DefaultConfig() *Config {
	keys := make(map[string]string, len(KnownCredentials))
	for _, k := range KnownCredentials {
		keys[k] = ""
	}
	return &Config{
		SchemaVersion:     CurrentSchemaVersion,
		Level:             string(LevelNormal),
		Export:            "all",
		APIKeys:           keys,
		MaxRetries:        3,
		RetryDelayBase:    2 * time.Second,
		RequestTimeout:    8 * time.Second,
		RequestsPerSecond: 0,
		ProxyList:         []string{},
		RotationInterval:  30 * time.Second,
		TorSocksAddr:      "127.0.0.1:9050",
		TorControlAddr:    "127.0.0.1:9051",
		AI: AIConfig{
			SummaryEnabled: false,
			LocalEndpoint:  "http://localhost:11434",
			LocalModelName: "llama3",
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o",
			MaxTokens:      1500,
			Temperature:    0.7,
		},
		CacheEnabled: true,
		CacheDir:     "./data/cache",
		OutputDir:    "./reports",
		LogFile:      "./data/logs/idlynx.log",
		Watch: WatchConfig{
			Interval: 120 * time.Minute,
			Targets:  []string{},
			StateDir: "./data/watch",
		},
		Endpoints: map[string]string{},
	}
}

func (c *Config) Credential(name string) string {
	if c.APIKeys == nil {
		return ""
	}
	return strings.TrimSpace(c.APIKeys[name])
}

func (c *Config) Endpoint(name, fallback string) string {
	if v := strings.TrimSpace(c.Endpoints[name]); v != "" {
		return strings.TrimRight(v, "/")
	}
	return fallback
}

func (c *Config) Validate() error {
	var errs []string

	if c.SchemaVersion != "" {
		v, err := semver.NewVersion(c.SchemaVersion)
		if err != nil {
			errs = append(errs, fmt.Sprintf("schema_version %q is not a version", c.SchemaVersion))
		} else {
			constraint, _ := semver.NewConstraint(supportedSchemaConstraint)
			if !constraint.Check(v) {
				errs = append(errs, fmt.Sprintf("schema_version %s is not supported (want %s)", v, supportedSchemaConstraint))
			}
		}
	}
	if _, err := ParseAggressionLevel(c.Level); err != nil {
		errs = append(errs, "level must be one of gentle|normal|aggressive")
	}
	switch c.Export {
	case "md", "html", "json", "all":
	default:
		errs = append(errs, fmt.Sprintf("export %q is not supported (md|html|json|all)", c.Export))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "max_retries must be >= 0")
	}
	if c.RetryDelayBase < 0 {
		errs = append(errs, "retry_delay_base must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "request_timeout must be > 0")
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, "requests_per_second must be >= 0")
	}
	if c.ProxyRotationEnabled && len(c.ProxyList) == 0 {
		errs = append(errs, "proxy_list must not be empty when proxy_rotation_enabled is true")
	}
	if c.UseTor && c.TorSocksAddr == "" {
		errs = append(errs, "tor_socks_addr must be set when use_tor is true")
	}
	if c.AI.SummaryEnabled {
		if c.AI.LocalMode && c.AI.LocalModelName == "" {
			errs = append(errs, "ai_local_model_name must be set when ai_local_mode is true")
		}
		if c.AI.MaxTokens <= 0 {
			errs = append(errs, "ai_max_tokens must be > 0")
		}
		if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
			errs = append(errs, "ai_temperature must be in [0,2]")
		}
	}
	if c.CacheEnabled && c.CacheDir == "" {
		errs = append(errs, "cache_dir must not be empty when cache_enabled is true")
	}
	if c.OutputDir == "" {
		errs = append(errs, "output_dir must not be empty")
	}
	if c.Watch.Enabled {
		if c.Watch.Interval <= 0 {
			errs = append(errs, "watch.interval must be > 0 when watch is enabled")
		}
		if len(c.Watch.Targets) == 0 {
			errs = append(errs, "watch.targets must not be empty when watch is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	}
	if c.APIKeys == nil {
		c.APIKeys = map[string]string{}
	}
	return c.Validate()
}

// Masked returns a copy safe for printing.
func (c *Config) Masked() *Config {
	cp := *c
	cp.APIKeys = make(map[string]string, len(c.APIKeys))
	for k, v := range c.APIKeys {
		cp.APIKeys[k] = maskSecret(v)
	}
	cp.AI.APIKey = maskSecret(c.AI.APIKey)
	cp.TorControlPassword = maskSecret(c.TorControlPassword)
	cp.Watch.TelegramBotToken = maskSecret(c.Watch.TelegramBotToken)
	return &cp
}

func (c *Config) ConfiguredCredentials() []string {
	var names []string
	for k, v := range c.APIKeys {
		if strings.TrimSpace(v) != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
