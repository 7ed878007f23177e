package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/idlynx/pkg/models"
)

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage idlynx configuration",
		Long: `Initialize, inspect, edit and validate the idlynx configuration document
(API credentials, egress routes, synthesis backend, cache and watch settings).`,
	}

	cmd.AddCommand(newConfigureInitCommand())
	cmd.AddCommand(newConfigureShowCommand())
	cmd.AddCommand(newConfigureSetCommand())
	cmd.AddCommand(newConfigureValidateCommand())
	return cmd
}

func newConfigureInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long:  `Write the default configuration document (YAML, or JSON for a .json path). Defaults to $HOME/.idlynx/config.yaml.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureInit,
	}
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing file without asking")
	_ = viper.BindPFlag("configure.force", cmd.Flags().Lookup("force"))
	return cmd
}

func newConfigureShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration idlynx would run with, secrets masked.`,
		RunE:  runConfigureShow,
	}
}

func newConfigureSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a value in the configuration file and validate the result.
Supports dotted keys (e.g. "api_keys.haveibeenpwned", "watch.targets") and basic type parsing:
- booleans: true/false
- integers/floats: 10, 0.7
- durations (for keys containing timeout|interval|delay|base): "30s", "2h"
- string lists: "a,b,c" -> ["a","b","c"]`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigureSet,
	}
}

func newConfigureValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureValidate,
	}
}

func defaultConfigPath() (string, error) {
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".idlynx", "config.yaml"), nil
}

func configPathArg(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	return defaultConfigPath()
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	path, err := configPathArg(args)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !viper.GetBool("configure.force") {
		logrus.Warnf("Configuration file already exists: %s", path)
		ok, ierr := confirmOverwrite()
		if ierr != nil {
			return ierr
		}
		if !ok {
			logrus.Info("Configuration initialization cancelled")
			return nil
		}
	}

	if err := models.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	logrus.Infof("Configuration initialized: %s", path)
	logrus.Info("Add API credentials under api_keys; run `idlynx configure show` to view the result.")
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	source := viper.ConfigFileUsed()
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Printf("Effective configuration (%s)\n", source)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Print(string(out))
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Enabled credentials: %s\n", strings.Join(orNone(cfg.ConfiguredCredentials()), ", "))
	return nil
}

func runConfigureSet(cmd *cobra.Command, args []string) error {
	key := strings.TrimSpace(args[0])
	path, err := defaultConfigPath()
	if err != nil {
		return err
	}
	doc, err := loadConfigFile(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	val := parseValueForKey(key, args[1])
	setNested(doc, strings.Split(key, "."), val)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// validate the edited document before replacing the file
	cfg := models.DefaultConfig()
	if err := yaml.Unmarshal(out, cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	shown := val
	if strings.HasPrefix(key, "api_keys.") || strings.Contains(key, "token") || strings.Contains(key, "password") {
		shown = "****"
	}
	logrus.Infof("Set %s = %v in %s", key, shown, path)
	return nil
}

func runConfigureValidate(cmd *cobra.Command, args []string) error {
	path, err := configPathArg(args)
	if err != nil {
		return err
	}
	cfg := models.DefaultConfig()
	if err := cfg.Load(path); err != nil {
		return err
	}
	fmt.Printf("%s is valid (schema %s, %d credentials set)\n", path, cfg.SchemaVersion, len(cfg.ConfiguredCredentials()))
	return nil
}

func loadConfigFile(path string) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// start from the defaults so the rewritten file stays complete
		b, err = yaml.Marshal(models.DefaultConfig())
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return doc, nil
}

func setNested(dst map[string]interface{}, keys []string, val interface{}) {
	if len(keys) == 0 {
		return
	}
	if len(keys) == 1 {
		dst[keys[0]] = val
		return
	}
	k := keys[0]
	child, ok := dst[k].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
	}
	setNested(child, keys[1:], val)
	dst[k] = child
}

func parseValueForKey(key, s string) interface{} {
	trim := strings.TrimSpace(s)
	lower := strings.ToLower(key)

	if strings.HasPrefix(lower, "api_keys.") || strings.Contains(lower, "token") || strings.Contains(lower, "chat_id") {
		return trim
	}

	if strings.Contains(trim, ",") || strings.HasSuffix(lower, "targets") || strings.HasSuffix(lower, "proxy_list") {
		out := []string{}
		for _, p := range strings.Split(trim, ",") {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		return out
	}

	switch strings.ToLower(trim) {
	case "true":
		return true
	case "false":
		return false
	}

	if containsAny(lower, []string{"timeout", "interval", "delay", "base"}) {
		if d, err := time.ParseDuration(trim); err == nil {
			return d.String()
		}
	}

	if i, err := strconv.Atoi(trim); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(trim, 64); err == nil {
		return f
	}
	return trim
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func orNone(items []string) []string {
	if len(items) == 0 {
		return []string{"none"}
	}
	return items
}

func confirmOverwrite() (bool, error) {
	fmt.Print("Configuration file already exists. Overwrite? (y/N): ")
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	resp = strings.TrimSpace(resp)
	return resp == "y" || resp == "Y", nil
}
