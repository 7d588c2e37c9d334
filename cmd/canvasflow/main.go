package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/canvasflow/internal/config"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"

	// Register all LLM providers via their init() functions.
	_ "github.com/ravi-parthasarathy/canvasflow/pkg/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel   string
	logFormat  string
	configPath string
	envFile    string
}

func rootCmd() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:   "canvasflow",
		Short: "Canvasflow runs generative-AI canvases as dependency graphs",
		Long: `Canvasflow executes DOT-graph canvases of generation steps.

Each node is a typed step (text, image, audio, video, music) and each edge
feeds one node's output into another. Nodes run in parallel as soon as all
of their upstream nodes have completed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := initLogger(gf.logLevel, gf.logFormat); err != nil {
				return err
			}
			return config.LoadEnv(gf.envFile, gf.envFile != "")
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&gf.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&gf.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&gf.configPath, "config", "", "path to a YAML run configuration (optional)")
	pf.StringVar(&gf.envFile, "env-file", "", "path to a .env file with provider keys (default .env if present)")

	root.AddCommand(runCmd(&gf))
	root.AddCommand(lintCmd(&gf))
	root.AddCommand(graphCmd())
	return root
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint <canvas.dot>",
		Short: "Validate a canvas DOT file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.configPath)
			if err != nil {
				return err
			}
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			if lintErr := workflow.LintErr(g, buildRegistry(cfg)); lintErr != nil {
				return lintErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: canvas %q is valid (%d nodes, %d edges)\n",
				g.Name, len(g.Nodes), len(g.Edges))
			return nil
		},
	}
	return cmd
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// loadGraph reads and parses a DOT canvas and applies its model stylesheet.
func loadGraph(path string) (*workflow.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read canvas file: %w", err)
	}
	g, err := workflow.ParseDOT(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse canvas: %w", err)
	}
	workflow.ApplyStylesheet(g)
	return g, nil
}

// initLogger installs the default slog logger writing to stderr.
func initLogger(level, format string) error {
	h, err := newLogHandler(os.Stderr, level, format)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func newLogHandler(w io.Writer, level, format string) (slog.Handler, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: use debug, info, warn or error", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: use text or json", format)
	}
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[canvasflow] interrupted, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
