package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

var ErrNotAuthorized = errors.New("refusing to run: pass --authorized to confirm you are permitted to investigate this target")

// loadConfig builds the effective configuration: defaults, then the config
// file viper found, then credential and path overrides from the environment.
func loadConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	if path := viper.ConfigFileUsed(); path != "" && utils.FileExists(path) {
		if err := cfg.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	for _, name := range models.KnownCredentials {
		if v := strings.TrimSpace(viper.GetString("api_keys." + name)); v != "" {
			cfg.APIKeys[name] = v
		}
	}
	overrides := map[string]*string{
		"output_dir":               &cfg.OutputDir,
		"cache_dir":                &cfg.CacheDir,
		"metrics_addr":             &cfg.MetricsAddr,
		"ai_api_key":               &cfg.AI.APIKey,
		"tor_control_password":     &cfg.TorControlPassword,
		"watch.telegram_bot_token": &cfg.Watch.TelegramBotToken,
		"watch.telegram_chat_id":   &cfg.Watch.TelegramChatID,
		"watch.state_dir":          &cfg.Watch.StateDir,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logrus.AddHook(utils.NewRedactHook(secretsOf(cfg)...))
	return cfg, nil
}

func secretsOf(cfg *models.Config) []string {
	var out []string
	for _, v := range cfg.APIKeys {
		if v != "" {
			out = append(out, v)
		}
	}
	for _, v := range []string{cfg.AI.APIKey, cfg.TorControlPassword, cfg.Watch.TelegramBotToken} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func dataDir() string {
	if d := viper.GetString("data_directory"); d != "" {
		return d
	}
	return "./data"
}
