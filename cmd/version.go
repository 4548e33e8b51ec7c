package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/voice-analysis/scoring"
)

var (
	Version   = "0.1.0"
	GitCommit = "development"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voice-analysis v%s\n", Version)
		fmt.Printf("  Git Commit:     %s\n", GitCommit)
		fmt.Printf("  Build Date:     %s\n", BuildDate)
		fmt.Printf("  Scoring Policy: %s\n", scoring.PolicyV1.Version)
		fmt.Printf("  Go Version:     %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
