package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/canvasflow/internal/config"
	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
	"github.com/ravi-parthasarathy/canvasflow/pkg/llm/providers"
	"github.com/ravi-parthasarathy/canvasflow/pkg/observers/mqtt"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow/executors"
)

type runFlags struct {
	model       string
	trigger     string
	selection   []string
	maxParallel int
	outDir      string
	output      string
	mqttBroker  string
	mqttPrefix  string
}

func runCmd(gf *globalFlags) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "run <canvas.dot>",
		Short: "Execute a canvas",
		Long: `Execute a canvas.

Without --trigger or --select every auto-run entry node starts and completions
cascade downstream. --trigger starts from a single node. --select re-runs only
the listed nodes (or groups), reusing the outputs of their upstream nodes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.configPath)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, rf)
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return executeCanvas(ctx, cmd.OutOrStdout(), args[0], cfg, rf)
		},
	}

	f := cmd.Flags()
	f.StringVar(&rf.model, "model", "", "default text model (provider:model-id)")
	f.StringVar(&rf.trigger, "trigger", "", "start the run from this node only")
	f.StringSliceVar(&rf.selection, "select", nil, "re-run only these nodes or groups (comma separated)")
	f.IntVar(&rf.maxParallel, "max-parallel", 0, "maximum executors in flight (0 = unbounded)")
	f.StringVar(&rf.outDir, "out-dir", "", "directory for generated audio files")
	f.StringVar(&rf.output, "output", "", "write the run result and node outputs as JSON to this path")
	f.StringVar(&rf.mqttBroker, "mqtt-broker", "", "mirror node statuses to this MQTT broker (e.g. tcp://localhost:1883)")
	f.StringVar(&rf.mqttPrefix, "mqtt-prefix", "", "MQTT topic prefix")
	cmd.MarkFlagsMutuallyExclusive("trigger", "select")
	return cmd
}

// applyRunFlags overrides configuration values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, rf runFlags) {
	f := cmd.Flags()
	if f.Changed("model") {
		cfg.Text.Model = rf.model
	}
	if f.Changed("max-parallel") {
		cfg.MaxParallel = rf.maxParallel
	}
	if f.Changed("out-dir") {
		cfg.Speech.OutDir = rf.outDir
	}
	if f.Changed("mqtt-broker") {
		cfg.MQTT.Broker = rf.mqttBroker
	}
	if f.Changed("mqtt-prefix") {
		cfg.MQTT.Prefix = rf.mqttPrefix
	}
}

func executeCanvas(ctx context.Context, out io.Writer, path string, cfg *config.Config, rf runFlags) error {
	g, err := loadGraph(path)
	if err != nil {
		return err
	}
	reg := buildRegistry(cfg)
	for _, finding := range workflow.Lint(g, reg) {
		slog.Warn("lint", "finding", finding.Error())
	}

	progress := newProgressPrinter(out)
	var obs workflow.StatusObserver = workflow.NewMemoryObserver(progress.update)
	if cfg.MQTT.Broker != "" {
		mobs, disconnect, err := mqtt.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID, mqtt.Options{
			Prefix:   cfg.MQTT.Prefix,
			QoS:      cfg.MQTT.QoS,
			OnUpdate: progress.update,
		})
		if err != nil {
			return err
		}
		defer disconnect()
		obs = mobs
	}
	store := workflow.NewStatusStore(workflow.WithObserver(obs))

	opts := []workflow.Option{
		workflow.WithStatusStore(store),
		workflow.WithMaxConcurrency(cfg.MaxParallel),
		workflow.WithOutputCallback(func(id string, o workflow.Output) {
			slog.Debug("node output", "node", id, "keys", len(o))
		}),
	}
	eng, err := workflow.NewEngine(g, reg, opts...)
	if err != nil {
		store.Close()
		return fmt.Errorf("build engine: %w", err)
	}

	var res *workflow.RunResult
	if len(rf.selection) > 0 {
		res, err = eng.RunSelection(ctx, rf.selection)
		if err != nil {
			store.Close()
			return fmt.Errorf("select: %w", err)
		}
	} else {
		res = eng.Run(ctx, rf.trigger)
	}
	store.Close()

	if err := writeRunResult(rf.output, res, outputs(eng)); err != nil {
		return err
	}
	printSummary(out, res)
	if !res.Success {
		return fmt.Errorf("run %s failed: %d error(s)", res.RunID, len(res.Errors))
	}
	return nil
}

// buildRegistry constructs an executor registry with all built-in executors.
// Executors whose provider credentials are missing are still registered and
// fail when a node of that type runs.
func buildRegistry(cfg *config.Config) *executors.Registry {
	reg := executors.NewRegistry()
	reg.Register(workflow.NodeTypeGroup, executors.GroupExecutor{})
	reg.Register(workflow.NodeTypeText, &executors.TextExecutor{
		DefaultModel: cfg.Text.Model,
		MaxTokens:    cfg.Text.MaxTokens,
		NewClient:    llm.NewPool(nil).Client,
	})

	image := &executors.ImageExecutor{Model: cfg.Image.Model, Size: cfg.Image.Size, Quality: cfg.Image.Quality}
	speech := &executors.SpeechExecutor{
		OutDir: cfg.Speech.OutDir,
		Model:  cfg.Speech.Model,
		Voice:  cfg.Speech.Voice,
		Format: cfg.Speech.Format,
	}
	if client, err := providers.NewOpenAISDK(); err == nil {
		image.Client = client
		speech.Client = client
	} else {
		slog.Debug("image and audio nodes disabled", "reason", err)
	}
	reg.Register(workflow.NodeTypeImage, image)
	reg.Register(workflow.NodeTypeAudio, speech)

	reg.Register(workflow.NodeTypeVideo, jobExecutor("video", cfg.Video))
	reg.Register(workflow.NodeTypeMusic, jobExecutor("music", cfg.Music))
	return reg
}

func jobExecutor(kind string, jc config.JobConfig) *executors.JobExecutor {
	return &executors.JobExecutor{
		Kind:         kind,
		Endpoint:     jc.Endpoint,
		APIKey:       jc.APIKey(),
		PollInterval: jc.PollInterval,
		Timeout:      jc.Timeout,
	}
}

func outputs(eng *workflow.Engine) map[string]workflow.Output {
	out := make(map[string]workflow.Output)
	for _, id := range eng.Graph().NodeIDs() {
		if o := eng.Output(id); len(o) > 0 {
			out[id] = o
		}
	}
	return out
}

// runReport is the JSON document written by --output.
type runReport struct {
	*workflow.RunResult
	Outputs map[string]workflow.Output `json:"outputs"`
}

// writeRunResult serialises the run result and node outputs as JSON to path.
// An empty path is a no-op.
func writeRunResult(path string, res *workflow.RunResult, outs map[string]workflow.Output) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(runReport{RunResult: res, Outputs: outs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run result: %w", err)
	}
	return nil
}

// progressPrinter prints one line per status transition.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) update(u workflow.StatusUpdate) {
	if u.Record.Status == workflow.StatusIdle {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch u.Record.Status {
	case workflow.StatusFailed:
		fmt.Fprintf(p.out, "[%s] %s: %s\n", u.Record.Status, u.NodeID, u.Record.Error)
	case workflow.StatusCompleted:
		fmt.Fprintf(p.out, "[%s] %s (%s)\n", u.Record.Status, u.NodeID, u.Record.ExecutionTime.Round(time.Millisecond))
	default:
		fmt.Fprintf(p.out, "[%s] %s\n", u.Record.Status, u.NodeID)
	}
}

func printSummary(out io.Writer, res *workflow.RunResult) {
	counts := map[workflow.NodeStatus]int{}
	for _, rec := range res.NodeStates {
		counts[rec.Status]++
	}
	fmt.Fprintf(out, "run %s: %d completed, %d failed, %d idle\n", res.RunID,
		counts[workflow.StatusCompleted], counts[workflow.StatusFailed], counts[workflow.StatusIdle])
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  %s: %s\n", e.NodeID, e.Error)
	}
}
