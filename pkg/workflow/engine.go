package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Engine schedules the nodes of a Graph in dependency order. Independent
// branches run concurrently; every completion re-evaluates only the
// completed node's direct dependents.
type Engine struct {
	graph    *Graph
	registry Registry
	store    *StatusStore
	onOutput OutputFunc

	maxConcurrency int64
	sem            *semaphore.Weighted

	baseLogger *slog.Logger
	logger     *slog.Logger
	runID      string

	// mu guards deps and the Output field of every node in graph.
	mu   sync.RWMutex
	deps DependencyGraph

	internalMu   sync.Mutex
	internalErrs []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithStatusStore makes the engine record statuses in s instead of a private
// in-memory store.
func WithStatusStore(s *StatusStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithOutputCallback registers fn to be called after every successful node
// execution with the node's merged output.
func WithOutputCallback(fn OutputFunc) Option {
	return func(e *Engine) { e.onOutput = fn }
}

// WithMaxConcurrency caps how many executors may be in flight at once.
// A value <= 0 leaves fan-out unbounded, which is the default.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = int64(n)
		}
	}
}

// WithLogger sets the logger. Every line carries the run id.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.baseLogger = l
		}
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// NewEngine creates an Engine for g using reg to resolve executors.
func NewEngine(g *Graph, reg Registry, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("executor registry must not be nil")
	}
	e := &Engine{
		graph:      g,
		registry:   reg,
		baseLogger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.logger = e.baseLogger.With("run_id", e.runID)
	if e.store == nil {
		e.store = NewStatusStore(WithStoreLogger(e.logger))
	}
	if e.maxConcurrency > 0 {
		e.sem = semaphore.NewWeighted(e.maxConcurrency)
	}
	e.deps = BuildDependencies(g.Nodes, g.Edges, e.logger)
	return e, nil
}

// RunID returns the id attached to this engine's log lines and results.
func (e *Engine) RunID() string { return e.runID }

// Store returns the status store the engine writes to.
func (e *Engine) Store() *StatusStore { return e.store }

// Graph returns the graph the engine schedules.
func (e *Engine) Graph() *Graph { return e.graph }

// Dependencies returns a copy of the current dependency graph.
func (e *Engine) Dependencies() DependencyGraph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(DependencyGraph, len(e.deps))
	for id, ups := range e.deps {
		out[id] = append([]string{}, ups...)
	}
	return out
}

// Output returns a copy of a node's current output.
func (e *Engine) Output(id string) Output {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.graph.Nodes[id]
	if !ok {
		return nil
	}
	return maps.Clone(n.Output)
}

// Initialize rebuilds the dependency graph from the current edge list and
// seeds every node as idle with its auto-run flag. Nodes that are already
// processing, completed or failed keep their status, so calling Initialize
// again never loses progress. Pinned nodes are not seeded.
func (e *Engine) Initialize() {
	deps := BuildDependencies(e.graph.Nodes, e.graph.Edges, e.logger)
	e.mu.Lock()
	e.deps = deps
	e.mu.Unlock()

	for _, id := range e.graph.NodeIDs() {
		n := e.graph.Nodes[id]
		if n.Pinned {
			continue
		}
		e.store.seedIfIdle(id, n.AutoRun)
	}
}

// CanExecute reports whether id is idle and all of its dependencies have
// completed. Pinned dependencies count as completed.
func (e *Engine) CanExecute(id string) bool {
	n, ok := e.graph.Nodes[id]
	if !ok || n.Pinned {
		return false
	}
	if rec, ok := e.store.Get(id); ok && rec.Status.Started() {
		return false
	}
	return e.depsCompleted(id)
}

// DisplayStatus returns the status an observer should show for id: idle
// nodes are refined into pending (dependencies outstanding) or paused
// (auto-run disabled, dependencies done).
func (e *Engine) DisplayStatus(id string) NodeStatus {
	rec, ok := e.store.Get(id)
	if !ok {
		return StatusIdle
	}
	if rec.Status != StatusIdle {
		return rec.Status
	}
	if !e.depsCompleted(id) {
		return StatusPending
	}
	if !rec.Auto {
		return StatusPaused
	}
	return StatusIdle
}

// TriggerNode executes id regardless of its auto-run flag and then cascades
// to its dependents. It returns *NotExecutableError when the node has
// already started or a dependency has not completed, and the node's own
// execution error if it fails.
func (e *Engine) TriggerNode(ctx context.Context, id string) error {
	if _, ok := e.graph.Nodes[id]; !ok {
		return &UnknownNodeError{NodeID: id}
	}
	if !e.CanExecute(id) {
		rec, _ := e.store.Get(id)
		return &NotExecutableError{NodeID: id, Status: rec.Status}
	}
	err := e.executeNode(ctx, id)
	var notExec *NotExecutableError
	if errors.As(err, &notExec) {
		return err
	}
	e.ScheduleDownstream(ctx, id)
	return err
}

// ScheduleDownstream launches, concurrently, every dependent of completedID
// that has auto-run enabled and can execute, and cascades from each of them
// once it finishes. It returns when the whole cascade is done.
func (e *Engine) ScheduleDownstream(ctx context.Context, completedID string) {
	var wg sync.WaitGroup
	for _, id := range e.dependents(completedID) {
		if !e.autoRunnable(id) {
			continue
		}
		e.launch(ctx, &wg, id)
	}
	wg.Wait()
}

// Run executes the graph. With a trigger id it behaves like TriggerNode;
// otherwise every auto-run entry node starts concurrently. Node failures are
// reported in the result, never returned or panicked.
func (e *Engine) Run(ctx context.Context, triggerID string) (result *RunResult) {
	e.resetInternal()
	defer func() {
		if r := recover(); r != nil {
			e.recordInternal(r)
			result = e.collect()
		}
	}()

	e.Initialize()
	e.logger.Info("run started", "nodes", len(e.graph.Nodes), "edges", len(e.graph.Edges), "trigger", triggerID)

	if triggerID != "" {
		if err := e.TriggerNode(ctx, triggerID); err != nil {
			var notExec *NotExecutableError
			var unknown *UnknownNodeError
			if errors.As(err, &notExec) || errors.As(err, &unknown) {
				e.recordInternal(err)
			}
		}
	} else {
		e.runFrom(ctx, e.entryNodes(), nil)
	}

	result = e.collect()
	e.logger.Info("run finished", "success", result.Success, "errors", len(result.Errors))
	return result
}

// runFrom starts every node in start and cascades from every node in
// cascadeFrom, all concurrently, and waits for everything to settle.
func (e *Engine) runFrom(ctx context.Context, start, cascadeFrom []string) {
	var wg sync.WaitGroup
	for _, id := range start {
		e.launch(ctx, &wg, id)
	}
	for _, id := range cascadeFrom {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.recoverInternal()
			e.ScheduleDownstream(ctx, id)
		}()
	}
	wg.Wait()
}

func (e *Engine) launch(ctx context.Context, wg *sync.WaitGroup, id string) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer e.recoverInternal()
		err := e.executeNode(ctx, id)
		var notExec *NotExecutableError
		if errors.As(err, &notExec) {
			// A sibling cascade claimed the node first.
			return
		}
		e.ScheduleDownstream(ctx, id)
	}()
}

// executeNode runs a single node: claim, resolve inputs, invoke the
// executor, record the outcome. A node failure is returned to the caller.
func (e *Engine) executeNode(ctx context.Context, id string) error {
	node, ok := e.graph.Nodes[id]
	if !ok {
		return &UnknownNodeError{NodeID: id}
	}
	if node.Pinned || !e.store.claim(id, e.gatingDeps(id)) {
		rec, _ := e.store.Get(id)
		return &NotExecutableError{NodeID: id, Status: rec.Status}
	}

	logger := e.logger.With("node", id, "type", node.Type)
	logger.Info("executing node")
	start := time.Now()

	res, err := e.invoke(ctx, node)
	elapsed := time.Since(start)
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	if res.ExecutionTime == 0 {
		res.ExecutionTime = elapsed
	}
	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "executor reported failure"
		}
		err = errors.New(msg)
	}
	if err != nil {
		patch := []Patch{WithError(err.Error()), WithExecutionTime(elapsed)}
		if res.Data != nil || res.Error != "" {
			patch = append(patch, WithResult(&res))
		}
		e.store.Set(id, StatusFailed, patch...)
		logger.Warn("node failed", "error", err, "elapsed", elapsed)
		return fmt.Errorf("node %q: %w", id, err)
	}

	out := e.mergeOutput(node, res.Data)
	e.notifyOutput(logger, id, out)
	e.store.Set(id, StatusCompleted, WithExecutionTime(elapsed), WithResult(&res))
	logger.Info("node completed", "elapsed", elapsed)
	return nil
}

func (e *Engine) invoke(ctx context.Context, node *Node) (res ExecutionResult, err error) {
	exec, err := e.registry.Get(node.Type)
	if err != nil {
		return res, err
	}
	in := ExecutionInput{
		NodeID:     node.ID,
		Type:       node.Type,
		Inputs:     e.inputs(node.ID),
		ActionData: maps.Clone(node.ActionData),
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return res, fmt.Errorf("acquire execution slot: %w", err)
		}
		defer e.sem.Release(1)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, in)
}

// inputs collects the current output of every upstream node of id.
func (e *Engine) inputs(id string) map[string]Output {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ups := e.deps[id]
	in := make(map[string]Output, len(ups))
	for _, up := range ups {
		in[up] = maps.Clone(e.graph.Nodes[up].Output)
	}
	return in
}

func (e *Engine) mergeOutput(node *Node, data Output) Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	node.Output = MergeOutput(node.Output, data)
	return maps.Clone(node.Output)
}

func (e *Engine) notifyOutput(logger *slog.Logger, id string, out Output) {
	if e.onOutput == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("output callback panicked", "panic", r)
		}
	}()
	e.onOutput(id, out)
}

func (e *Engine) dependents(id string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deps.Dependents(id)
}

// gatingDeps returns the dependencies of id whose status must be completed,
// which excludes pinned boundary nodes.
func (e *Engine) gatingDeps(id string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for _, up := range e.deps[id] {
		if !e.graph.Nodes[up].Pinned {
			out = append(out, up)
		}
	}
	return out
}

func (e *Engine) depsCompleted(id string) bool {
	for _, up := range e.gatingDeps(id) {
		rec, ok := e.store.Get(up)
		if !ok || rec.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (e *Engine) autoRunnable(id string) bool {
	rec, ok := e.store.Get(id)
	if !ok || !rec.Auto {
		return false
	}
	return e.CanExecute(id)
}

// entryNodes returns the auto-run nodes without dependencies that can start.
func (e *Engine) entryNodes() []string {
	e.mu.RLock()
	entries := e.deps.EntryNodes()
	e.mu.RUnlock()

	var out []string
	for _, id := range entries {
		if e.autoRunnable(id) {
			out = append(out, id)
		}
	}
	return out
}

// collect builds the aggregate result from the store. Pinned nodes are not
// part of the run and are left out.
func (e *Engine) collect() *RunResult {
	all := e.store.All()
	res := &RunResult{
		RunID:      e.runID,
		NodeStates: make(map[string]StatusRecord, len(e.graph.Nodes)),
		Errors:     []RunError{},
	}
	for _, id := range e.graph.NodeIDs() {
		if e.graph.Nodes[id].Pinned {
			continue
		}
		rec, ok := all[id]
		if !ok {
			continue
		}
		res.NodeStates[id] = rec
		if rec.Status == StatusFailed {
			res.Errors = append(res.Errors, RunError{NodeID: id, Error: rec.Error})
		}
	}

	e.internalMu.Lock()
	if len(e.internalErrs) > 0 {
		res.Errors = append(res.Errors, RunError{
			NodeID: unknownNodeID,
			Error:  strings.Join(e.internalErrs, "; "),
		})
	}
	e.internalMu.Unlock()

	res.Success = len(res.Errors) == 0
	return res
}

func (e *Engine) recoverInternal() {
	if r := recover(); r != nil {
		e.logger.Error("engine panic", "panic", r, "stack", string(debug.Stack()))
		e.recordInternal(r)
	}
}

func (e *Engine) recordInternal(v any) {
	e.internalMu.Lock()
	defer e.internalMu.Unlock()
	e.internalErrs = append(e.internalErrs, fmt.Sprint(v))
}

func (e *Engine) resetInternal() {
	e.internalMu.Lock()
	defer e.internalMu.Unlock()
	e.internalErrs = nil
}
