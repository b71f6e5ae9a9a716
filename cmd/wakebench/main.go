package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cstatelab/wakebench/internal/version"
)

var (
	// Build variables set by ldflags
	buildVersion string
	buildCommit  string
	buildTime    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wakebench",
		Short: "wakebench - CPU idle-state wake latency measurement",
		Long: `wakebench measures the wake latency of CPU idle states (C-states) by
scheduling a delayed hardware event, letting the CPU go idle, and
timestamping how long it takes the CPU to resume execution.`,
		Version: version.GetVersion(buildVersion, buildCommit, buildTime),
	}

	rootCmd.AddCommand(createMeasureCmd())
	rootCmd.AddCommand(createDevicesCmd())
	rootCmd.AddCommand(createExportCmd())
	rootCmd.AddCommand(createVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show detailed version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.GetDetailedVersion(buildVersion, buildCommit, buildTime))
		},
	}
}
