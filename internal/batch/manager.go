// Package batch fans a set of model files out to concurrent pipeline units
// and reports completion exactly once per batch.
package batch

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pipeline"
	"github.com/print-slicer/backend/internal/report"
	"github.com/print-slicer/backend/internal/settings"
)

// Runner processes one file to a terminal result.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) models.FileResult
}

// Lister enumerates the blob keys under a prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Completer sends the batch-completion signal and returns the endpoint that
// accepted it.
type Completer interface {
	Complete(ctx context.Context, report models.BatchReport) (string, error)
}

// Publisher broadcasts finished batch reports.
type Publisher interface {
	Publish(ctx context.Context, report models.BatchReport) error
}

// Listener receives progress events.
type Listener interface {
	FileFinished(batchID string, result models.FileResult)
	BatchFinished(report models.BatchReport)
}

// Options holds the optional collaborators of a Manager.
type Options struct {
	Completer Completer
	Publisher Publisher
	Listeners []Listener
	Logger    *zap.Logger
	// SignalTimeout bounds completion and publish calls.
	SignalTimeout time.Duration
}

// Request starts a batch over every key under Prefix.
type Request struct {
	Prefix   string
	CartID   string
	Limits   *models.DimensionLimits
	Settings settings.Source
	Sink     report.Sink
}

// SingleRequest starts a one-file run. It does not send a completion signal.
type SingleRequest struct {
	File     models.ModelFile
	Limits   *models.DimensionLimits
	Settings settings.Source
	Sink     report.Sink
}

// ErrShutdown is returned when starting work on a stopped manager.
var ErrShutdown = errors.New("batch manager is shut down")

type batchState struct {
	batch  *models.Batch
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs batches asynchronously and keeps a snapshot of each.
type Manager struct {
	batches map[string]*batchState
	mu      sync.RWMutex

	runner Runner
	lister Lister
	opts   Options
	logger *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewManager creates a batch manager.
func NewManager(runner Runner, lister Lister, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = time.Minute
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		batches: make(map[string]*batchState),
		runner:  runner,
		lister:  lister,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "batch")),
		baseCtx: ctx,
		stop:    stop,
	}
}

// StartBatch begins processing every file under req.Prefix and returns the
// initial snapshot.
func (m *Manager) StartBatch(req Request) (*models.Batch, error) {
	st, ctx, err := m.register(req.Prefix, req.CartID)
	if err != nil {
		return nil, err
	}
	go m.run(ctx, st, func(ctx context.Context) []models.ModelFile {
		return m.collect(ctx, st, req.Prefix)
	}, unitTemplate{limits: req.Limits, settings: req.Settings, sink: req.Sink}, true)
	return m.snapshot(st), nil
}

// StartSingle begins processing one file.
func (m *Manager) StartSingle(req SingleRequest) (*models.Batch, error) {
	st, ctx, err := m.register("", "")
	if err != nil {
		return nil, err
	}
	file := req.File
	go m.run(ctx, st, func(context.Context) []models.ModelFile {
		return []models.ModelFile{file}
	}, unitTemplate{limits: req.Limits, settings: req.Settings, sink: req.Sink}, false)
	return m.snapshot(st), nil
}

type unitTemplate struct {
	limits   *models.DimensionLimits
	settings settings.Source
	sink     report.Sink
}

func (m *Manager) register(prefix, cartID string) (*batchState, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrShutdown
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	st := &batchState{
		batch: &models.Batch{
			ID:        uuid.New().String(),
			Prefix:    prefix,
			CartID:    cartID,
			State:     models.BatchCollecting,
			Files:     []models.FileProgress{},
			CreatedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.batches[st.batch.ID] = st
	m.wg.Add(1)
	return st, ctx, nil
}

func (m *Manager) collect(ctx context.Context, st *batchState, prefix string) []models.ModelFile {
	if m.lister == nil {
		return nil
	}
	keys, err := m.lister.List(ctx, prefix)
	if err != nil {
		m.logger.Error("listing batch files failed, reporting empty batch",
			zap.String("batch_id", st.batch.ID),
			zap.String("prefix", prefix),
			zap.Error(err))
		m.mu.Lock()
		st.batch.Error = "could not list files: " + err.Error()
		m.mu.Unlock()
		return nil
	}
	files := make([]models.ModelFile, 0, len(keys))
	for _, key := range keys {
		files = append(files, models.ModelFile{
			ID:     key,
			Source: key,
			Name:   path.Base(key),
			Status: models.FileStatusPending,
		})
	}
	return files
}

// run drives one batch through collecting, dispatching, awaiting and
// reporting.
func (m *Manager) run(ctx context.Context, st *batchState, collect func(context.Context) []models.ModelFile, tmpl unitTemplate, signal bool) {
	defer m.wg.Done()
	defer close(st.done)
	defer st.cancel()

	id := st.batch.ID
	log := m.logger.With(zap.String("batch_id", id))
	started := time.Now()

	files := collect(ctx)
	for i := range files {
		files[i].BatchID = id
	}

	m.mu.Lock()
	st.batch.State = models.BatchDispatching
	st.batch.Files = make([]models.FileProgress, len(files))
	for i, f := range files {
		st.batch.Files[i] = models.FileProgress{File: f, State: models.UnitQueued}
	}
	m.mu.Unlock()
	log.Info("batch dispatching", zap.String("prefix", st.batch.Prefix), zap.Int("files", len(files)))

	results := make([]models.FileResult, len(files))
	var g errgroup.Group
	for i, f := range files {
		g.Go(func() error {
			m.setUnit(st, i, models.UnitRunning, nil)
			r := m.runner.Run(ctx, pipeline.Request{
				File:     f,
				Limits:   tmpl.limits,
				Settings: tmpl.settings,
				Sink:     tmpl.sink,
			})
			results[i] = r

			state := models.UnitSucceeded
			if !r.Succeeded() {
				state = models.UnitFailed
			}
			m.setUnit(st, i, state, &r)
			for _, l := range m.opts.Listeners {
				l.FileFinished(id, r)
			}
			// units never fail the group; siblings keep running
			return nil
		})
	}
	m.setState(st, models.BatchAwaiting)
	g.Wait()

	m.setState(st, models.BatchReporting)
	rep := models.NewBatchReport(id, st.batch.Prefix, st.batch.CartID, results, started, time.Now())
	completion := m.signal(ctx, rep, signal, log)

	for _, l := range m.opts.Listeners {
		l.BatchFinished(rep)
	}

	now := time.Now()
	m.mu.Lock()
	st.batch.State = models.BatchDone
	st.batch.Completion = completion
	st.batch.CompletedAt = &now
	m.mu.Unlock()

	log.Info("batch finished",
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.String("completion", completion),
		zap.Duration("elapsed", now.Sub(started)))
}

// signal sends the completion signal and publishes the report. Failures are
// logged only.
func (m *Manager) signal(ctx context.Context, rep models.BatchReport, complete bool, log *zap.Logger) string {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.SignalTimeout)
	defer cancel()

	var completion string
	if complete && m.opts.Completer != nil {
		name, err := m.opts.Completer.Complete(sctx, rep)
		if err != nil {
			log.Error("batch completion signal failed",
				zap.String("kind", string(models.FailureDelivery)),
				zap.Error(err))
		}
		completion = name
	}
	if m.opts.Publisher != nil {
		if err := m.opts.Publisher.Publish(sctx, rep); err != nil {
			log.Warn("publishing batch report failed",
				zap.String("kind", string(models.FailureDelivery)),
				zap.Error(err))
		}
	}
	return completion
}

func (m *Manager) setUnit(st *batchState, i int, state models.UnitState, r *models.FileResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp := &st.batch.Files[i]
	fp.State = state
	switch state {
	case models.UnitRunning:
		fp.File.Status = models.FileStatusProcessing
	case models.UnitSucceeded, models.UnitFailed:
		fp.File.Status = r.Status
		fp.Result = r
	}
}

func (m *Manager) setState(st *batchState, state models.BatchState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.batch.State = state
}

// GetBatch returns a copy of the batch snapshot.
func (m *Manager) GetBatch(id string) (*models.Batch, bool) {
	m.mu.RLock()
	st, ok := m.batches[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.snapshot(st), true
}

// Done returns a channel closed when the batch has reported.
func (m *Manager) Done(id string) (<-chan struct{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.batches[id]
	if !ok {
		return nil, false
	}
	return st.done, true
}

func (m *Manager) snapshot(st *batchState) *models.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := *st.batch
	b.Files = make([]models.FileProgress, len(st.batch.Files))
	for i, fp := range st.batch.Files {
		if fp.Result != nil {
			r := *fp.Result
			fp.Result = &r
		}
		b.Files[i] = fp
	}
	if st.batch.CompletedAt != nil {
		t := *st.batch.CompletedAt
		b.CompletedAt = &t
	}
	return &b
}

// Cancel cancels a running batch. Outstanding units finish as canceled and
// the batch still reports once. It returns false for unknown or finished
// batches.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.batches[id]
	if !ok || st.batch.State == models.BatchDone {
		return false
	}
	st.cancel()
	return true
}

// ListBatches returns snapshots of all known batches.
func (m *Manager) ListBatches() []*models.Batch {
	m.mu.RLock()
	states := make([]*batchState, 0, len(m.batches))
	for _, st := range m.batches {
		states = append(states, st)
	}
	m.mu.RUnlock()

	out := make([]*models.Batch, 0, len(states))
	for _, st := range states {
		out = append(out, m.snapshot(st))
	}
	return out
}

// CleanupOldBatches removes finished batches completed more than maxAge ago
// and returns how many were removed.
func (m *Manager) CleanupOldBatches(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, st := range m.batches {
		b := st.batch
		if b.State != models.BatchDone || b.CompletedAt == nil {
			continue
		}
		if b.CompletedAt.Before(cutoff) {
			delete(m.batches, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("cleaned up old batches", zap.Int("removed", removed))
	}
	return removed
}

// Shutdown stops accepting work, cancels running batches and waits for them
// to report or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
