// Command agentbridge runs coding-agent backends through the uniform
// adapter runtime: one-shot runs, streamed canonical event output, and
// session inspection.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	providerName string
	model        string
	resumeID     string
	workDir      string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "agentbridge",
	Short: "Uniform runner for coding-agent backends",
	Long: `Agentbridge drives heterogeneous coding-agent backends (gemini,
claude, codex) through one adapter contract: start or resume a thread,
run a prompt, and consume a canonical event stream regardless of how the
backend speaks.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		slog.SetDefault(newLogger())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.agentbridge.yaml)")
	rootCmd.PersistentFlags().StringVarP(&providerName, "provider", "p", "gemini", "Backend provider (gemini, claude, codex)")
	rootCmd.PersistentFlags().StringVarP(&model, "model", "m", "", "Model override")
	rootCmd.PersistentFlags().StringVar(&resumeID, "resume", "", "Resume an existing session by id")
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", "", "Working directory for backend execution")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger: human-readable on a terminal,
// JSON when piped.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. Cancellation
// flows into the run's token, which starts graceful teardown.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
