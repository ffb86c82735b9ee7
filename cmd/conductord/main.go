// Command conductord runs the conductor job engine and offers a small CLI
// to submit jobs and inspect queue status against the same store.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile  string
	noColor  bool
	logLevel string

	// setFlags records the flags given on the command line, logged at
	// debug level once the logger exists.
	setFlags []string
)

var rootCmd = &cobra.Command{
	Use:   "conductord",
	Short: "Multi-queue job orchestration daemon",
	Long: `conductord runs prioritized worker pools over a shared queue store,
tracks parent/child job fan-in, and retries failed jobs with backoff.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		cmd.Flags().Visit(func(f *pflag.Flag) {
			setFlags = append(setFlags, "--"+f.Name+"="+f.Value.String())
		})
	},
}

func commandLine() string { return strings.Join(setFlags, " ") }

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overriding config and "+envLogLevel)

	rootCmd.AddCommand(serveCmd, submitCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
