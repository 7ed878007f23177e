package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/idlynx/cmd/idlynx/commands"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

var (
	version   = "2.0.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// appLogger owns the rotating log file for the lifetime of the command.
var appLogger *utils.Logger

var rootCmd = &cobra.Command{
	Use:           "idlynx",
	Short:         "idlynx - identity exposure reconnaissance",
	Long:          "idlynx aggregates breach, phone, handle, dark-web, code, network, social and credential exposure for one identity into a single report.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := initLogging(); err != nil {
			return err
		}

		if err := ensureDirs(); err != nil {
			logrus.Warnf("Failed to ensure directories: %v", err)
		}

		if !viper.GetBool("quiet") {
			printBanner()
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if appLogger != nil {
		_ = appLogger.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.idlynx/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet mode (no banner output)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (default ./data/logs/idlynx.log)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(commands.NewConfigureCommand())
	rootCmd.AddCommand(commands.NewReportsCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, buildDate))
	rootCmd.AddCommand(commands.NewCompletionCommand())
	rootCmd.AddCommand(commands.NewStatsCommand())

	installConsolidatedHelp(rootCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("idlynx %s (commit %s, built %s)\n", version, commit, buildDate))
}

func initConfig() error {
	setDefaults()
	viper.SetEnvPrefix("IDLYNX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(home, ".idlynx"))
		viper.AddConfigPath("/etc/idlynx/")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	} else {
		logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_file", "./data/logs/idlynx.log")
	viper.SetDefault("quiet", false)
	viper.SetDefault("data_directory", "./data")
}

func initLogging() error {
	logConfig := utils.LogConfig{
		Level:         viper.GetString("log_level"),
		Format:        viper.GetString("log_format"),
		FileLocation:  viper.GetString("log_file"),
		MaxSize:       10,
		MaxBackups:    3,
		EnableConsole: true,
	}

	logger, err := utils.NewLogger(logConfig, "idlynx", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize structured logger, falling back: %v\n", err)
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	}

	appLogger = logger
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.Level)
	logrus.SetFormatter(logger.Formatter)

	for _, hooks := range logger.Hooks {
		for _, h := range hooks {
			logrus.AddHook(h)
		}
	}
	return nil
}

func ensureDirs() error {
	dirs := []string{
		viper.GetString("data_directory"),
		filepath.Dir(viper.GetString("log_file")),
	}
	for _, d := range dirs {
		if d == "" || d == "." {
			continue
		}
		if err := utils.EnsureDir(d); err != nil {
			return fmt.Errorf("ensure dir %s: %w", d, err)
		}
	}
	return nil
}

func printBanner() {
	const banner = `
  _     _  _
 (_) __| || |_   _ _ __ __  __
 | |/ _  || | | | | '_ \ \/ /
 | | (_| || | |_| | | | |>  <
 |_|\__,_||_|\__, |_| |_/_/\_\
             |___/            v%s

        Identity Exposure Reconnaissance
   ____________________________________________
`
	fmt.Fprintf(os.Stderr, banner, version)
	fmt.Fprintf(os.Stderr, "Build: %s (%s) | %s/%s\n\n", commit, buildDate, runtime.GOOS, runtime.GOARCH)
}

func installConsolidatedHelp(root *cobra.Command) {
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}

		if !viper.GetBool("quiet") {
			printBanner()
		}

		fmt.Println("USAGE:")
		fmt.Println("  idlynx [command] [global flags]")
		fmt.Println()
		fmt.Println("GLOBAL FLAGS:")
		root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			if f.Shorthand != "" {
				fmt.Printf("  -%s, --%-12s %s\n", f.Shorthand, f.Name, f.Usage)
			} else {
				fmt.Printf("      --%-12s %s\n", f.Name, f.Usage)
			}
		})
		fmt.Println()

		cmds := []*cobra.Command{}
		for _, c := range root.Commands() {
			if c.IsAvailableCommand() && !c.Hidden {
				cmds = append(cmds, c)
			}
		}
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })
		fmt.Println("COMMANDS:")
		for _, c := range cmds {
			fmt.Printf("  %-12s %s\n", c.Name(), c.Short)
		}
		fmt.Println()

		for _, c := range cmds {
			fmt.Printf("\n%s\n", c.Name())
			fmt.Println(strings.Repeat("-", len(c.Name())))
			if c.Long != "" {
				fmt.Println(c.Long)
			} else {
				fmt.Println(c.Short)
			}
			fmt.Printf("\nUsage:\n  idlynx %s\n\n", c.UseLine())
			if c.Flags().HasAvailableFlags() {
				fmt.Println("Flags:")
				c.Flags().PrintDefaults()
				fmt.Println()
			}
			for _, sc := range c.Commands() {
				if !sc.IsAvailableCommand() || sc.Hidden {
					continue
				}
				fmt.Printf("  %s %-10s %s\n", c.Name(), sc.Name(), sc.Short)
			}
		}

		fmt.Println("\nNOTES:")
		fmt.Println("  Scans only run with --authorized: you confirm you may investigate the target.")
		fmt.Println("  Use \"idlynx [command] --help\" for focused help on any command.")
	})
}

func main() {
	startTime := time.Now()
	Execute()
	if strings.EqualFold(viper.GetString("log_level"), "debug") {
		logrus.Debugf("Execution completed in %v", time.Since(startTime))
	}
}
