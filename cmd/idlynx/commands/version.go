package commands

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/idlynx/pkg/models"
)

func NewVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print detailed version information about idlynx and the configuration schema it reads.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("idlynx Version: %s\n", version)
			if v, err := semver.NewVersion(version); err == nil && v.Prerelease() != "" {
				fmt.Printf("Pre-release: %s\n", v.Prerelease())
			}
			fmt.Printf("Config Schema: %s\n", models.CurrentSchemaVersion)
			fmt.Printf("Git Commit: %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
			fmt.Printf("Go Version: %s\n", runtime.Version())
			fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
