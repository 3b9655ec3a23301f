// Package cli provides the command-line interface for etikett.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"etikett/internal/batch"
	"etikett/internal/config"
	"etikett/internal/direct"
	"etikett/internal/llm"
	"etikett/internal/openai"
	"etikett/internal/prompt"
	"etikett/internal/service"
	"etikett/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool
	plain   bool

	// Global config and state
	cfg      config.Config
	st       *store.Store
	logClose func() error

	// interactive is true when stdout is a terminal and the command drives
	// a live progress view.
	interactive bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "etikett",
	Short: "Classify product catalogs through the OpenAI Batch API",
	Long: `Etikett turns messy German product titles into clean product types.

A catalog is split into shards, serialized into batch request files and
handed to the OpenAI Batch API. Jobs are polled until every one settles,
then each input row comes back classified, errored or missing - never
silently dropped. Interrupted runs are persisted and resume where they
left off.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Nothing to set up for version and help
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}

		// The progress view owns the terminal during a run; logs go to
		// the file only.
		interactive = !plain &&
			term.IsTerminal(int(os.Stdout.Fd())) &&
			(cmd.Name() == "run" || cmd.Name() == "resume")

		var logger *slog.Logger
		if interactive {
			logger, logClose = config.SetupFileLogger(cfg.LogFile, level)
		} else {
			logger, logClose = config.SetupLogger(cfg.LogFile, level)
		}
		slog.SetDefault(logger)

		if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}

		var err error
		st, err = store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open run database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if st != nil {
			if err := st.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close run database: %v\n", err)
			}
		}
		if logClose != nil {
			_ = logClose()
		}
	},
}

// newPipeline builds a pipeline for the given backend, with the prompt
// template and model overrides applied.
func newPipeline(ctx context.Context, backend string) (*service.Pipeline, error) {
	tmpl := prompt.Default()
	if cfg.PromptPath != "" {
		var err error
		tmpl, err = prompt.Load(cfg.PromptPath)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Model != "" {
		tmpl.Model = cfg.Model
	}

	c := cfg
	c.Backend = backend

	svc, err := newBackend(ctx, c, tmpl)
	if err != nil {
		return nil, err
	}
	return service.NewPipeline(c, svc, st, tmpl), nil
}

func newBackend(ctx context.Context, c config.Config, tmpl prompt.Template) (batch.Service, error) {
	switch c.Backend {
	case config.BackendBatch:
		client, err := openai.NewClient(c.OpenAIAPIKey, c.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		return openai.NewService(client), nil
	case config.BackendDirect:
		model, err := llm.NewModel(ctx, c, tmpl.Model)
		if err != nil {
			return nil, fmt.Errorf("init model: %w", err)
		}
		return direct.NewService(model), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// defaultOutputPath derives the results file name from the catalog name.
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	if ext == "" {
		ext = ".csv"
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + "_classified" + ext
}

// printReport renders a finished run for non-interactive sessions.
func printReport(report *service.Report) {
	fmt.Printf("Run %s finished in %s\n", report.RunID, report.Duration.Round(time.Second))
	fmt.Printf("  Records:    %d\n", report.Records)
	fmt.Printf("  Shards:     %d\n", report.Shards)
	fmt.Printf("  Classified: %d\n", report.Classified)
	fmt.Printf("  Errors:     %d\n", report.Errors)
	fmt.Printf("  Missing:    %d\n", report.Missing)
	fmt.Printf("  Results:    %s\n", report.OutputPath)
	if report.Missing > 0 || report.Errors > 0 {
		fmt.Printf("\nUse 'etikett missing' to collect unclassified products for another run.\n")
	}
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "disable the interactive progress view")
}
