package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// simpleCLILogger implements calculation.Logger using the standard log package
type simpleCLILogger struct{}

func (simpleCLILogger) Debugf(format string, args ...any) { log.Printf("DEBUG: "+format, args...) }
func (simpleCLILogger) Infof(format string, args ...any)  { log.Printf("INFO: "+format, args...) }
func (simpleCLILogger) Warnf(format string, args ...any)  { log.Printf("WARN: "+format, args...) }
func (simpleCLILogger) Errorf(format string, args ...any) { log.Printf("ERROR: "+format, args...) }

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cohortsim %s (commit %s, built %s)\n", version, commit, date)
			if info := buildInfo(); info != "" {
				fmt.Fprintln(cmd.OutOrStdout(), info)
			}
		},
	}
}

func buildInfo() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		return bi.Main.Path + " " + bi.GoVersion
	}
	return ""
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cohortsim",
		Short: "Markov cohort simulator for health economic evaluation",
		Long: "Runs discrete-time Markov cohort models described in YAML: deterministic runs, " +
			"probabilistic and one-way sensitivity analysis, threshold analysis and strategy comparison.",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("debug", false, "Log every cycle of every run")
	root.PersistentFlags().StringP("format", "f", "console", "Output format (see 'cohortsim formats')")
	root.PersistentFlags().StringP("output-dir", "o", "", "Write output to a file in this directory instead of stdout")
	root.PersistentFlags().String("db", "", "Save the report to this SQLite database (env COHORTSIM_DB)")

	root.AddCommand(
		runCmd(),
		psaCmd(),
		dsaCmd(),
		compareCmd(),
		thresholdCmd(),
		validateCmd(),
		runsCmd(),
		formatsCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	// A missing .env file is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARN: could not load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
