package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/latchbio/wf-core-guideseq/internal/domain"
	"github.com/latchbio/wf-core-guideseq/internal/manifest"
	"github.com/latchbio/wf-core-guideseq/internal/metrics"
	"github.com/latchbio/wf-core-guideseq/internal/pipeline"
	"github.com/latchbio/wf-core-guideseq/internal/service"
	"github.com/latchbio/wf-core-guideseq/internal/storage"
)

const manifestFile = "manifest.yaml"

// Manager executes runs: mirror inputs, run the pipeline, upload outputs.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, runID int64) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context, runID int64) error
}

type Config struct {
	WorkRoot      string
	MaxConcurrent int
	Tools         pipeline.Tools
	// KeepWorkDir leaves the staging directory behind after a successful run.
	KeepWorkDir bool
	Logger      *logrus.Logger
}

type manager struct {
	cfg     Config
	runs    service.RunService
	storage storage.Client
	exec    pipeline.Runner

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[int64]*runHandle
}

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, runs service.RunService, store storage.Client, exec pipeline.Runner) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Tools == (pipeline.Tools{}) {
		cfg.Tools = pipeline.DefaultTools()
	}
	return &manager{
		cfg:     cfg,
		runs:    runs,
		storage: store,
		exec:    exec,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		active:  make(map[int64]*runHandle),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.WorkRoot, 0o755); err != nil {
		return fmt.Errorf("create work root: %w", err)
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("run manager started, work dir: %s", m.cfg.WorkRoot)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("run manager stopped")
}

func (m *manager) Enqueue(ctx context.Context, runID int64) error {
	if m.ctx == nil {
		return errors.New("run manager not started")
	}
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	m.spawnRun(*run)
	return nil
}

// Resume restarts runs interrupted by a previous shutdown. Mirroring is
// idempotent, so every interrupted run starts over from fetching.
func (m *manager) Resume(ctx context.Context) error {
	if m.ctx == nil {
		return errors.New("run manager not started")
	}
	runs, err := m.runs.ListByStatuses(ctx, domain.ActiveStatuses...)
	if err != nil {
		return err
	}
	for i := range runs {
		m.spawnRun(runs[i])
	}
	return nil
}

func (m *manager) spawnRun(run domain.Run) {
	runCtx, cancel := context.WithCancel(m.ctx)
	handle := &runHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if !m.registerRun(run.ID, handle) {
		cancel()
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.unregisterRun(run.ID)
			close(handle.done)
		}()
		select {
		case <-runCtx.Done():
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.handleRun(runCtx, &run)
		}
	}()
}

// registerRun claims id for handle. It reports false when the run already has
// a live handle.
func (m *manager) registerRun(id int64, handle *runHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[id]; busy {
		return false
	}
	m.active[id] = handle
	return true
}

func (m *manager) unregisterRun(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) getRunHandle(id int64) (*runHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

// Cancel stops a queued or executing run and waits for its goroutine to exit.
func (m *manager) Cancel(ctx context.Context, runID int64) error {
	handle, ok := m.getRunHandle(runID)
	if !ok {
		return nil
	}
	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) handleRun(ctx context.Context, run *domain.Run) {
	logger := m.cfg.Logger.WithFields(logrus.Fields{"run_id": run.ID, "kind": run.Kind})
	if run.Status.Terminal() {
		logger.Debug("run already finished, skipping")
		return
	}

	metrics.RunsInProgress.Inc()
	defer metrics.RunsInProgress.Dec()
	started := time.Now()

	if err := m.runs.MarkStarted(ctx, run.ID); err != nil {
		logger.Errorf("mark started: %v", err)
		return
	}
	run.Status = domain.RunStatusFetching

	resultURI, err := m.execute(ctx, run, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("run interrupted")
			return
		}
		m.failRun(run, err, started)
		return
	}

	if err := m.runs.MarkCompleted(ctx, run.ID, resultURI); err != nil {
		logger.Errorf("mark completed: %v", err)
		return
	}
	run.Status = domain.RunStatusCompleted
	m.observe(run, started)

	if !m.cfg.KeepWorkDir {
		if err := os.RemoveAll(run.WorkDir); err != nil {
			logger.Warnf("cleanup work dir: %v", err)
		}
	}
	logger.Infof("run completed, outputs at %s", resultURI)
}

func (m *manager) execute(ctx context.Context, run *domain.Run, logger *logrus.Entry) (string, error) {
	in, err := storage.ParseURI(run.InputURI)
	if err != nil {
		return "", fmt.Errorf("input: %w", err)
	}
	out, err := storage.ParseURI(run.OutputURI)
	if err != nil {
		return "", fmt.Errorf("output: %w", err)
	}

	// Inputs land at WorkDir/<input prefix>; tools run from the parent of the
	// input directory so manifest paths of the form <input dir>/data/... resolve.
	workDir := filepath.Clean(run.WorkDir)
	prefix := in.Prefix
	if prefix != "" {
		prefix += "/"
	}
	inputDir := filepath.Join(workDir, filepath.FromSlash(in.Prefix))
	execDir := filepath.Join(workDir, filepath.FromSlash(path.Dir(in.Prefix)))

	res, err := storage.Mirror(ctx, m.storage, in.Bucket, prefix, workDir, storage.MirrorOptions{Logger: logger})
	if err != nil {
		return "", fmt.Errorf("fetch inputs: %w", err)
	}
	logger.Infof("fetched %d objects from %s", res.Objects, in)
	if err := os.MkdirAll(execDir, 0o755); err != nil {
		return "", fmt.Errorf("create exec dir: %w", err)
	}

	var (
		cmd          pipeline.Command
		outputFolder string
		verify       func()
	)
	switch run.Kind {
	case domain.RunKindGuideseq:
		var params pipeline.GuideseqParams
		if err := decodeParams(run.Params, &params); err != nil {
			return "", err
		}
		manifestPath, err := m.fetchManifest(ctx, run.ManifestURI, execDir)
		if err != nil {
			return "", err
		}
		outputFolder = pipeline.GuideseqOutputFolder
		cmd = m.cfg.Tools.Guideseq(execDir, manifestPath, params)
	case domain.RunKindCrispresso:
		var params pipeline.CrispressoParams
		if err := decodeParams(run.Params, &params); err != nil {
			return "", err
		}
		outputFolder = pipeline.CrispressoOutputFolder
		cmd = m.cfg.Tools.Crispresso(execDir, inputDir, params)
		verify = func() { checkCrispressoOutputs(filepath.Join(execDir, outputFolder), params.Name, logger) }
	default:
		return "", fmt.Errorf("unknown run kind %q", run.Kind)
	}

	if err := m.setStatus(ctx, run, domain.RunStatusRunning); err != nil {
		return "", err
	}
	if _, err := m.exec.Run(ctx, cmd); err != nil {
		return "", fmt.Errorf("run %s: %w", run.Kind, err)
	}
	if verify != nil {
		verify()
	}

	if err := m.setStatus(ctx, run, domain.RunStatusUploading); err != nil {
		return "", err
	}
	dest := out.Join(outputFolder)
	progressLogger := newUploadProgressLogger(logger)
	uri, err := storage.UploadDirectory(ctx, m.storage, dest.Scheme, filepath.Join(execDir, outputFolder), storage.UploadOptions{
		Bucket:           dest.Bucket,
		KeyPrefix:        dest.Prefix,
		ProgressCallback: progressLogger,
	})
	if err != nil {
		return "", fmt.Errorf("upload outputs: %w", err)
	}
	return uri, nil
}

// fetchManifest downloads the manifest next to the inputs and points its
// output folder at the directory that gets uploaded.
func (m *manager) fetchManifest(ctx context.Context, uri, dir string) (string, error) {
	loc, err := storage.ParseURI(uri)
	if err != nil {
		return "", fmt.Errorf("manifest: %w", err)
	}
	if loc.Prefix == "" {
		return "", fmt.Errorf("manifest %s does not name an object", uri)
	}
	dest := filepath.Join(dir, manifestFile)
	if err := m.storage.Download(ctx, loc.Bucket, storage.ObjectKey(loc.Prefix), storage.LocalPath(dest)); err != nil {
		return "", &storage.TransferError{Bucket: loc.Bucket, Key: storage.ObjectKey(loc.Prefix), Err: err}
	}

	mf, err := manifest.Load(dest)
	if err != nil {
		return "", err
	}
	if err := mf.Validate(); err != nil {
		return "", err
	}
	mf.SetOutputFolder(pipeline.GuideseqOutputFolder)
	if err := mf.Save(dest); err != nil {
		return "", err
	}
	return dest, nil
}

func checkCrispressoOutputs(dir, name string, logger *logrus.Entry) {
	html, report := pipeline.CrispressoOutputs(name)
	for _, p := range []string{html, report} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			logger.Warnf("expected CRISPResso output %s not found", p)
		}
	}
}

func (m *manager) setStatus(ctx context.Context, run *domain.Run, status domain.RunStatus) error {
	if err := m.runs.UpdateStatus(ctx, run.ID, status, nil); err != nil {
		return fmt.Errorf("set %s status: %w", status, err)
	}
	run.Status = status
	return nil
}

func (m *manager) failRun(run *domain.Run, failErr error, started time.Time) {
	logger := m.cfg.Logger.WithField("run_id", run.ID)
	msg := failErr.Error()
	// The run context may be cancelled already; the failure must still be recorded.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.runs.UpdateStatus(ctx, run.ID, domain.RunStatusFailed, &msg); err != nil {
		logger.Errorf("persist failure status: %v", err)
	}
	run.Status = domain.RunStatusFailed
	m.observe(run, started)
	logger.Error(msg)
}

func (m *manager) observe(run *domain.Run, started time.Time) {
	metrics.RunsTotal.WithLabelValues(string(run.Kind), string(run.Status)).Inc()
	metrics.RunDurationSeconds.WithLabelValues(string(run.Kind)).Observe(time.Since(started).Seconds())
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode run params: %w", err)
	}
	return nil
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total == 0 {
			logger.Info("upload progress: nothing to upload")
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, FormatBytes(done), FormatBytes(total))
	}
}

// FormatBytes renders b with binary unit suffixes.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

var _ Manager = (*manager)(nil)
