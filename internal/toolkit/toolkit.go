package toolkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sprocket/internal/cache"
	"sprocket/internal/config"
	"sprocket/internal/fileutil"
	"sprocket/internal/jobs"
	"sprocket/internal/logging"
	"sprocket/internal/media/ffprobe"
	"sprocket/internal/recovery"
	"sprocket/internal/registry"
	"sprocket/internal/services"
	"sprocket/internal/services/ffmpeg"
)

// inspectMedia is a seam for probe stubbing in tests. It returns the raw
// probe report, which is the metadata document the analyze operation stores.
var inspectMedia = func(ctx context.Context, binary, path string) ([]byte, error) {
	report, err := ffprobe.Inspect(ctx, binary, path)
	if err != nil {
		return nil, err
	}
	return report.RawJSON(), nil
}

// Execution reports the result of a single Execute call.
type Execution struct {
	Outcome  cache.Outcome
	Cached   bool
	JobID    int64
	LogTail  []string
	Duration time.Duration
}

// plan is a remembered miss: everything needed to register the artifact once
// the engine delivers it.
type plan struct {
	op       Operation
	inputIDs []string
	params   map[string]any
}

// Toolkit answers operation requests against the cache and is the only
// component that runs the engine. The registry is never held locked across
// an engine run; registration happens strictly at commit time, so a failed
// or cancelled run leaves the registry untouched.
type Toolkit struct {
	cfg    *config.Config
	reg    *registry.Registry
	cache  *cache.Manager
	engine ffmpeg.Client
	store  *jobs.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]plan
}

// New wires a toolkit over the given collaborators. The jobs store may be
// nil, in which case runs are not audited.
func New(cfg *config.Config, reg *registry.Registry, engine ffmpeg.Client, store *jobs.Store, logger *slog.Logger) *Toolkit {
	return &Toolkit{
		cfg:     cfg,
		reg:     reg,
		cache:   cache.NewManager(reg, logger),
		engine:  engine,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "toolkit"),
		pending: make(map[string]plan),
	}
}

// Registry exposes the underlying registry for read-side callers.
func (t *Toolkit) Registry() *registry.Registry {
	return t.reg
}

// LookupOrPlan answers a cache query for one operation. A miss is a planning
// signal, never an error: the returned outcome carries the ID the artifact
// will be registered under, and the toolkit remembers the plan so a later
// Commit can complete it.
func (t *Toolkit) LookupOrPlan(ctx context.Context, operation string, inputIDs []string, params map[string]any) (cache.Outcome, error) {
	op, normalized, err := t.prepare(operation, inputIDs, params)
	if err != nil {
		return cache.Outcome{}, err
	}

	outcome, err := t.cache.GetOrPlan(inputIDs, operation, normalized)
	if err != nil {
		return cache.Outcome{}, err
	}
	if !outcome.Hit {
		t.mu.Lock()
		t.pending[outcome.ID] = plan{op: op, inputIDs: append([]string(nil), inputIDs...), params: normalized}
		t.mu.Unlock()
	}
	return outcome, nil
}

// prepare validates the request shape: known operation, legal arity, known
// inputs, parameters matching the schema with defaults applied.
func (t *Toolkit) prepare(operation string, inputIDs []string, params map[string]any) (Operation, map[string]any, error) {
	op, ok := LookupOperation(operation)
	if !ok {
		return Operation{}, nil, services.Wrap(services.ErrValidation, "toolkit", operation, "unknown operation", nil)
	}
	if err := op.ValidateInputCount(len(inputIDs)); err != nil {
		return Operation{}, nil, err
	}
	normalized, err := op.NormalizeParams(params)
	if err != nil {
		return Operation{}, nil, err
	}
	for _, id := range inputIDs {
		if _, err := t.reg.Resolve(id); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return Operation{}, nil, services.Wrap(services.ErrNotFound, "toolkit", operation, fmt.Sprintf("input %q is not registered", id), nil)
			}
			return Operation{}, nil, err
		}
	}
	return op, normalized, nil
}

// Execute runs the full miss path: lookup, engine run into a temp file,
// atomic move into place, provenance sidecar, registry commit. Cache hits
// return immediately without touching the engine.
func (t *Toolkit) Execute(ctx context.Context, operation string, inputIDs []string, params map[string]any) (Execution, error) {
	outcome, err := t.LookupOrPlan(ctx, operation, inputIDs, params)
	if err != nil {
		return Execution{}, err
	}
	if outcome.Hit {
		return Execution{Outcome: outcome, Cached: true}, nil
	}

	t.mu.Lock()
	pending, ok := t.pending[outcome.ID]
	t.mu.Unlock()
	if !ok {
		return Execution{}, services.Wrap(services.ErrNotFound, "toolkit", operation, "no pending plan for "+outcome.ID, nil)
	}

	inputPaths, err := t.resolvePaths(pending.inputIDs)
	if err != nil {
		return Execution{}, err
	}

	if pending.op.Output == OutputMetadata {
		return t.executeProbe(ctx, outcome, pending, inputPaths)
	}
	return t.executeEngine(ctx, outcome, pending, inputPaths)
}

func (t *Toolkit) resolvePaths(inputIDs []string) ([]string, error) {
	paths := make([]string, len(inputIDs))
	for i, id := range inputIDs {
		path, err := t.reg.Resolve(id)
		if err != nil {
			return nil, err
		}
		paths[i] = path
	}
	return paths, nil
}

func (t *Toolkit) executeEngine(ctx context.Context, outcome cache.Outcome, pending plan, inputPaths []string) (Execution, error) {
	ext := pending.op.OutputExt(inputPaths, pending.params)
	tempPath := filepath.Join(t.cfg.Paths.TempDir, outcome.ID+ext+".part")
	finalPath := filepath.Join(t.cfg.Paths.GeneratedDir, outcome.ID+ext)

	args, err := pending.op.BuildArgs(inputPaths, pending.params)
	if err != nil {
		return Execution{}, err
	}

	jobID := t.beginJob(ctx, pending.op.Name, outcome.ID, args)
	t.logger.Info("engine run",
		logging.String(logging.FieldOperation, pending.op.Name),
		logging.String(logging.FieldResourceID, outcome.ID))

	result, runErr := t.engine.Run(ctx, ffmpeg.Request{Args: args, OutputPath: tempPath}, nil)
	exec := Execution{Outcome: outcome, JobID: jobID, LogTail: result.LogTail, Duration: result.Duration}
	if runErr != nil {
		_ = os.Remove(tempPath)
		t.finishJob(ctx, jobID, statusFor(runErr), result.LogTail, runErr)
		return exec, runErr
	}

	if err := fileutil.MoveFile(tempPath, finalPath); err != nil {
		t.finishJob(ctx, jobID, jobs.StatusFailed, result.LogTail, err)
		return exec, fmt.Errorf("move artifact into place: %w", err)
	}
	if err := t.sealArtifact(outcome.ID, pending, finalPath); err != nil {
		t.finishJob(ctx, jobID, jobs.StatusFailed, result.LogTail, err)
		return exec, err
	}

	t.finishJob(ctx, jobID, jobs.StatusCompleted, result.LogTail, nil)
	exec.Outcome = cache.Outcome{Hit: false, ID: outcome.ID, Path: finalPath}
	return exec, nil
}

// executeProbe handles metadata-producing operations: the probe report is
// the artifact, persisted as a JSON document in the metadata directory.
func (t *Toolkit) executeProbe(ctx context.Context, outcome cache.Outcome, pending plan, inputPaths []string) (Execution, error) {
	finalPath := filepath.Join(t.cfg.Paths.MetadataDir, outcome.ID+".json")
	jobID := t.beginJob(ctx, pending.op.Name, outcome.ID, []string{t.cfg.FFprobeBinary(), inputPaths[0]})

	report, err := inspectMedia(ctx, t.cfg.FFprobeBinary(), inputPaths[0])
	exec := Execution{Outcome: outcome, JobID: jobID}
	if err != nil {
		wrapped := services.Wrap(services.ErrExternalTool, "toolkit", pending.op.Name, "probe failed", err)
		t.finishJob(ctx, jobID, statusFor(err), nil, wrapped)
		return exec, wrapped
	}

	if err := fileutil.WriteFileAtomic(finalPath, report, 0o644); err != nil {
		t.finishJob(ctx, jobID, jobs.StatusFailed, nil, err)
		return exec, fmt.Errorf("write metadata document: %w", err)
	}
	if err := t.sealArtifact(outcome.ID, pending, finalPath); err != nil {
		t.finishJob(ctx, jobID, jobs.StatusFailed, nil, err)
		return exec, err
	}

	t.finishJob(ctx, jobID, jobs.StatusCompleted, nil, nil)
	exec.Outcome = cache.Outcome{Hit: false, ID: outcome.ID, Path: finalPath}
	return exec, nil
}

// sealArtifact writes the provenance sidecar and commits the registration.
func (t *Toolkit) sealArtifact(outputID string, pending plan, path string) error {
	prov := recovery.Provenance{
		ID:         outputID,
		Operation:  pending.op.Name,
		InputIDs:   pending.inputIDs,
		Parameters: pending.params,
		CreatedAt:  time.Now().UTC(),
	}
	if err := recovery.WriteSidecar(path, prov); err != nil {
		return fmt.Errorf("write provenance sidecar: %w", err)
	}
	if _, err := t.Commit(outputID, path); err != nil {
		return err
	}
	return nil
}

// Commit registers the artifact for a previously planned miss and persists
// the registry. The registered ID must equal the planned one; the registry
// recomputes it from the plan's inputs and parameters.
func (t *Toolkit) Commit(outputID, path string) (string, error) {
	t.mu.Lock()
	pending, ok := t.pending[outputID]
	t.mu.Unlock()
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "toolkit", "commit", "no pending plan for "+outputID, nil)
	}

	var (
		id  string
		err error
	)
	if pending.op.Output == OutputMetadata {
		id, err = t.reg.RegisterMetadata(pending.inputIDs, pending.op.Name, pending.params, path)
	} else {
		id, err = t.reg.RegisterGenerated(pending.inputIDs, pending.op.Name, pending.params, path)
	}
	if err != nil {
		return "", err
	}
	if id != outputID {
		return "", fmt.Errorf("registered id %q does not match planned id %q", id, outputID)
	}

	t.mu.Lock()
	delete(t.pending, outputID)
	t.mu.Unlock()

	if err := t.reg.Save(); err != nil {
		return "", fmt.Errorf("persist registry: %w", err)
	}
	t.logger.Info("artifact committed",
		logging.String(logging.FieldOperation, pending.op.Name),
		logging.String(logging.FieldResourceID, id))
	return id, nil
}

// RegisterSource adds or refreshes a source file and persists the registry.
func (t *Toolkit) RegisterSource(path string) (string, error) {
	id, err := t.reg.RegisterSource(path)
	if err != nil {
		return "", err
	}
	if err := t.reg.Save(); err != nil {
		return "", fmt.Errorf("persist registry: %w", err)
	}
	return id, nil
}

// Resolve maps a resource ID to its filesystem path.
func (t *Toolkit) Resolve(id string) (string, error) {
	return t.reg.Resolve(id)
}

// InvalidateSinceChange re-stats one source and, when its signature changed,
// marks every transitive dependent stale.
func (t *Toolkit) InvalidateSinceChange(sourcePath string) (cache.Divergence, bool, error) {
	divergence, changed, err := t.cache.InvalidateSource(sourcePath)
	if err != nil {
		return cache.Divergence{}, false, err
	}
	if changed {
		if err := t.reg.Save(); err != nil {
			return divergence, true, fmt.Errorf("persist registry: %w", err)
		}
	}
	return divergence, changed, nil
}

// SweepSources checks every registered source for drift, propagating
// staleness for each divergence found.
func (t *Toolkit) SweepSources(ctx context.Context) ([]cache.Divergence, error) {
	divergences, err := t.cache.CheckSourceChanges(ctx)
	if err != nil {
		return nil, err
	}
	if len(divergences) > 0 {
		if err := t.reg.Save(); err != nil {
			return divergences, fmt.Errorf("persist registry: %w", err)
		}
	}
	return divergences, nil
}

// Rebuild reconstructs registry state from the managed directories.
func (t *Toolkit) Rebuild(ctx context.Context) (recovery.Report, error) {
	rec := recovery.New(t.reg, t.logger)
	report, err := rec.ScanAndRebuild(ctx, recovery.Directories{
		Source:    t.cfg.Paths.SourceDir,
		Generated: t.cfg.Paths.GeneratedDir,
		Metadata:  t.cfg.Paths.MetadataDir,
	})
	if err != nil {
		return report, err
	}
	if err := t.reg.Save(); err != nil {
		return report, fmt.Errorf("persist registry: %w", err)
	}
	return report, nil
}

// IntegrityReport lists registered IDs whose backing files are gone.
func (t *Toolkit) IntegrityReport() map[registry.Kind][]string {
	return recovery.New(t.reg, t.logger).ValidateIntegrity()
}

func (t *Toolkit) beginJob(ctx context.Context, operation, outputID string, argv []string) int64 {
	if t.store == nil {
		return 0
	}
	requestID, _ := services.RequestIDFromContext(ctx)
	id, err := t.store.Begin(ctx, jobs.Start{
		RequestID: requestID,
		Operation: operation,
		OutputID:  outputID,
		Argv:      argv,
	})
	if err != nil {
		t.logger.Warn("job audit begin failed", logging.Error(err))
		return 0
	}
	return id
}

func (t *Toolkit) finishJob(ctx context.Context, jobID int64, status jobs.Status, logTail []string, runErr error) {
	if t.store == nil || jobID == 0 {
		return
	}
	// Finish with a fresh context so cancellation of the run does not lose
	// the audit row recording that cancellation.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.store.Finish(finishCtx, jobID, status, logTail, runErr); err != nil {
		t.logger.Warn("job audit finish failed", logging.Error(err))
	}
}

func statusFor(err error) jobs.Status {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return jobs.StatusCanceled
	}
	return jobs.StatusFailed
}
