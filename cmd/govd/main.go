// Package main is the CLI entry point for govd.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "govd",
	Short: "Resource governor - keeps runaway processes in check",
	Long: `govd is a daemon that watches configured process families and
intervenes when they exceed their CPU or memory budget: it lowers their
priority, suspends them, restarts their service or kills them.

Under memory pressure it terminates processes from a ranked sacrifice
list until the system recovers.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	RunE:  runVersion,
}

var (
	configPath  string
	jsonOutput  bool
	replaceFlag bool
	auditLimit  int
	outputPath  string
	formatFlag  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default depends on exec mode)")

	runCmd.Flags().BoolVar(&replaceFlag, "replace", false, "Stop a running instance before starting")
	startCmd.Flags().BoolVar(&replaceFlag, "replace", false, "Stop a running instance before starting")
	checkCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw stats as JSON")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of entries to show")
	auditCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	generateConfigCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write to file instead of stdout")
	generateConfigCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "toml or yaml (default from --output extension, else toml)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(generateConfigCmd)
	rootCmd.AddCommand(restartServiceCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return json.NewEncoder(out).Encode(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
	}
	fmt.Fprintf(out, "govd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	return nil
}
