package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"etl-catalog/internal/dag"
	"etl-catalog/internal/dataset"
	"etl-catalog/internal/domain"
	"etl-catalog/internal/pathfinder"
	"etl-catalog/internal/snapshot"
)

const defaultWorkers = 4

// Config wires a Runner. Ledger and Store are optional.
type Config struct {
	Graph       *dag.Graph
	Registry    *Registry
	DataDir     string
	SnapshotDir string
	StepsDir    string
	Store       snapshot.Store
	Ledger      domain.RunRepository
	Logger      *slog.Logger
}

// Runner executes planned steps tier by tier.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Graph == nil {
		return nil, domain.ErrValidation("runner: graph is required")
	}
	if cfg.Registry == nil {
		return nil, domain.ErrValidation("runner: registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// RunOptions configures one run.
type RunOptions struct {
	// Selector picks steps, see dag.Graph.Select.
	Selector string
	// Force rebuilds steps even when their checksum is unchanged.
	Force bool
	// Workers bounds concurrent steps within a tier. Defaults to 4.
	Workers int
	// DryRun reports what would run without running it.
	DryRun bool
	// Only skips the upstream closure of the selection.
	Only bool
}

// StepResult is the outcome of one planned step.
type StepResult struct {
	URI      string
	Tier     int
	Checksum string
	Status   string
	Err      error
	Duration time.Duration
}

// Report is the outcome of a run, steps in execution order.
type Report struct {
	RunID string
	Steps []StepResult
}

// Count returns how many steps ended with status.
func (r *Report) Count(status string) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Step returns the result of uri.
func (r *Report) Step(uri string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.URI == uri {
			return s, true
		}
	}
	return StepResult{}, false
}

// StepError is a step failure.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s failed: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Plan returns the tiers a run with the given selection would execute. The
// graph must be valid and every planned step registered.
func (r *Runner) Plan(selector string, only bool) ([][]string, error) {
	if errs := r.cfg.Graph.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid dag: %w", errors.Join(errs...))
	}
	selected, err := r.cfg.Graph.Select(selector)
	if err != nil {
		return nil, err
	}
	if !only {
		selected = r.cfg.Graph.Upstream(selected...)
	}
	var unregistered []error
	for _, uri := range selected {
		if _, ok := r.cfg.Registry.Lookup(uri); !ok {
			unregistered = append(unregistered, domain.ErrValidation("step %s has no registered implementation", uri))
		}
	}
	if len(unregistered) > 0 {
		return nil, errors.Join(unregistered...)
	}
	return r.cfg.Graph.Tiers(selected)
}

// run holds the mutable state of one Run call.
type run struct {
	id     string
	opts   RunOptions
	logger *slog.Logger

	mu        sync.Mutex
	checksums map[string]string
	status    map[string]string
}

func (s *run) set(uri, status, checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[uri] = status
	if checksum != "" {
		s.checksums[uri] = checksum
	}
}

func (s *run) snapshotChecksums() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.checksums))
	for k, v := range s.checksums {
		out[k] = v
	}
	return out
}

// blockedBy returns the first planned dependency of uri that did not
// finish cleanly, or "".
func (s *run) blockedBy(deps []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deps {
		switch s.status[d] {
		case domain.StepStatusFailed, domain.StepStatusSkipped:
			return d
		}
	}
	return ""
}

// Run plans and executes the selection. Steps of one tier run concurrently;
// a failed step skips its dependents while independent steps finish. The
// returned error joins every step failure.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	tiers, err := r.Plan(opts.Selector, opts.Only)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	state := &run{
		id:        domain.NewID(),
		opts:      opts,
		checksums: make(map[string]string),
		status:    make(map[string]string),
	}
	state.logger = r.logger.With("run_id", state.id)

	ledger := r.cfg.Ledger
	if opts.DryRun {
		ledger = nil
	}
	if ledger != nil {
		if _, err := ledger.CreateRun(ctx, &domain.Run{
			ID:       state.id,
			Selector: opts.Selector,
			Force:    opts.Force,
			Status:   domain.RunStatusRunning,
		}); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}
	state.logger.Info("run started", "selector", opts.Selector, "tiers", len(tiers), "workers", workers, "dry_run", opts.DryRun)

	report := &Report{RunID: state.id}
	for tier, steps := range tiers {
		results := make([]StepResult, len(steps))
		g := new(errgroup.Group)
		g.SetLimit(workers)
		for i, uri := range steps {
			g.Go(func() error {
				results[i] = r.execute(ctx, state, tier, uri)
				state.set(uri, results[i].Status, results[i].Checksum)
				if ledger != nil {
					r.record(ctx, ledger, state, results[i])
				}
				return nil
			})
		}
		_ = g.Wait()
		report.Steps = append(report.Steps, results...)
	}

	var errs []error
	for _, s := range report.Steps {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	runErr := errors.Join(errs...)

	if ledger != nil {
		status, msg := domain.RunStatusSuccess, (*string)(nil)
		if runErr != nil {
			status = domain.RunStatusFailed
			m := runErr.Error()
			msg = &m
		}
		// The run row is closed even when ctx was cancelled.
		if err := ledger.FinishRun(context.WithoutCancel(ctx), state.id, status, msg); err != nil {
			state.logger.Warn("failed to finish run in ledger", "error", err)
		}
	}
	state.logger.Info("run finished",
		"saved", report.Count(domain.StepStatusSaved),
		"up_to_date", report.Count(domain.StepStatusUpToDate),
		"failed", report.Count(domain.StepStatusFailed),
		"skipped", report.Count(domain.StepStatusSkipped))
	return report, runErr
}

func (r *Runner) record(ctx context.Context, ledger domain.RunRepository, state *run, res StepResult) {
	var msg *string
	if res.Err != nil {
		m := res.Err.Error()
		msg = &m
	}
	if _, err := ledger.RecordStep(context.WithoutCancel(ctx), &domain.StepRun{
		RunID:      state.id,
		StepURI:    res.URI,
		Tier:       res.Tier,
		Checksum:   res.Checksum,
		Status:     res.Status,
		Error:      msg,
		DurationMs: res.Duration.Milliseconds(),
	}); err != nil {
		state.logger.Warn("failed to record step", "step", res.URI, "error", err)
	}
}

// execute takes one step from NOT_STARTED to a terminal status.
func (r *Runner) execute(ctx context.Context, state *run, tier int, uri string) (res StepResult) {
	start := time.Now()
	res = StepResult{URI: uri, Tier: tier, Status: domain.StepStatusNotStarted}
	logger := state.logger.With("step", uri, "tier", tier)
	defer func() { res.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		res.Status = domain.StepStatusSkipped
		return res
	}
	if dep := state.blockedBy(r.cfg.Graph.Dependencies(uri)); dep != "" {
		res.Status = domain.StepStatusSkipped
		logger.Warn("step skipped", "blocked_by", dep)
		return res
	}
	fail := func(err error) StepResult {
		res.Status = domain.StepStatusFailed
		res.Err = &StepError{Step: uri, Err: err}
		logger.Error("step failed", "error", err)
		return res
	}

	step, _ := r.cfg.Registry.Lookup(uri)
	res.Status = domain.StepStatusResolving
	sum, err := r.checksumFor(uri, step, state.snapshotChecksums())
	if err != nil {
		return fail(err)
	}
	res.Checksum = sum
	logger = logger.With("checksum", sum)

	pf, err := pathfinder.New(pathfinder.Config{
		StepURI:     uri,
		DataDir:     r.cfg.DataDir,
		SnapshotDir: r.cfg.SnapshotDir,
		StepsDir:    r.cfg.StepsDir,
		Graph:       r.cfg.Graph,
		Store:       r.cfg.Store,
		Logger:      state.logger,
	})
	if err != nil {
		return fail(err)
	}

	if !state.opts.Force {
		if m, err := dataset.ReadMeta(pf.OutputDir()); err == nil && m.SourceChecksum == sum {
			res.Status = domain.StepStatusUpToDate
			logger.Debug("step up to date")
			return res
		}
	}
	if state.opts.DryRun {
		res.Status = domain.StepStatusNotStarted
		logger.Info("step would run")
		return res
	}

	if err := pf.Resolve(ctx); err != nil {
		return fail(err)
	}
	res.Status = domain.StepStatusResolved
	logger.Debug("dependencies resolved", "count", len(pf.Dependencies()))

	res.Status = domain.StepStatusRunning
	logger.Info("step running", "deps", pf.String())
	ds, err := invoke(ctx, step.Run, pf)
	if err != nil {
		return fail(err)
	}
	if ds == nil {
		return fail(domain.ErrValidation("step returned no dataset"))
	}
	if ds.Dir() != pf.OutputDir() {
		return fail(domain.ErrValidation("step wrote to %s, expected %s", ds.Dir(), pf.OutputDir()))
	}
	m := ds.Meta()
	m.SourceChecksum = sum
	if err := ds.SetMeta(m); err != nil {
		return fail(fmt.Errorf("step must return its dataset unsaved: %w", err))
	}
	res.Status = domain.StepStatusValidated

	if err := ds.Save(ctx); err != nil {
		return fail(err)
	}
	res.Status = domain.StepStatusSaved
	logger.Info("step saved", "tables", len(ds.TableNames()), "duration", time.Since(start))
	return res
}

// invoke runs fn, turning a panic into an error.
func invoke(ctx context.Context, fn StepFunc, pf *pathfinder.PathFinder) (ds *dataset.Dataset, err error) {
	defer func() {
		if p := recover(); p != nil {
			ds, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, pf)
}
