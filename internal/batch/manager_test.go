package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pipeline"
)

type runnerFunc func(ctx context.Context, req pipeline.Request) models.FileResult

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request) models.FileResult {
	return f(ctx, req)
}

type staticLister struct {
	keys []string
	err  error
}

func (l staticLister) List(context.Context, string) ([]string, error) { return l.keys, l.err }

type recordingCompleter struct {
	mu      sync.Mutex
	reports []models.BatchReport
}

func (c *recordingCompleter) Complete(_ context.Context, r models.BatchReport) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return "prod", nil
}

func (c *recordingCompleter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

type recordingListener struct {
	files   atomic.Int32
	batches atomic.Int32
}

func (l *recordingListener) FileFinished(string, models.FileResult) { l.files.Add(1) }
func (l *recordingListener) BatchFinished(models.BatchReport)       { l.batches.Add(1) }

func succeed(_ context.Context, req pipeline.Request) models.FileResult {
	return models.FileResult{FileID: req.File.ID, Status: models.FileStatusSuccess}
}

func wait(t *testing.T, m *Manager, id string) *models.Batch {
	t.Helper()
	done, ok := m.Done(id)
	require.True(t, ok)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish")
	}
	b, ok := m.GetBatch(id)
	require.True(t, ok)
	return b
}

func TestStartBatch_OneFailingUnit(t *testing.T) {
	keys := []string{"order/a.stl", "order/b.stl", "order/c.stl", "order/d.stl"}
	runner := runnerFunc(func(ctx context.Context, req pipeline.Request) models.FileResult {
		if strings.HasSuffix(req.File.ID, "c.stl") {
			return models.FileResult{FileID: req.File.ID, Status: models.FileStatusError, FailureKind: models.FailureParse}
		}
		return succeed(ctx, req)
	})
	completer := &recordingCompleter{}
	listener := &recordingListener{}
	m := NewManager(runner, staticLister{keys: keys}, Options{Completer: completer, Listeners: []Listener{listener}})

	started, err := m.StartBatch(Request{Prefix: "order", CartID: "cart-1"})
	require.NoError(t, err)
	b := wait(t, m, started.ID)

	assert.Equal(t, models.BatchDone, b.State)
	assert.Equal(t, "prod", b.Completion)
	require.Len(t, b.Files, 4)
	for _, fp := range b.Files {
		assert.True(t, fp.State.IsTerminal())
		require.NotNil(t, fp.Result)
		assert.Equal(t, started.ID, fp.File.BatchID)
	}
	assert.Equal(t, models.UnitFailed, b.Files[2].State)

	require.Equal(t, 1, completer.count())
	rep := completer.reports[0]
	assert.Len(t, rep.Results, 4)
	assert.Equal(t, 3, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, "cart-1", rep.CartID)
	assert.Equal(t, int32(4), listener.files.Load())
	assert.Equal(t, int32(1), listener.batches.Load())
}

func TestStartBatch_Empty(t *testing.T) {
	completer := &recordingCompleter{}
	m := NewManager(runnerFunc(succeed), staticLister{}, Options{Completer: completer})

	started, err := m.StartBatch(Request{Prefix: "nothing"})
	require.NoError(t, err)
	b := wait(t, m, started.ID)

	assert.Empty(t, b.Files)
	require.Equal(t, 1, completer.count())
	assert.NotNil(t, completer.reports[0].Results)
	assert.Zero(t, completer.reports[0].Succeeded)
}

func TestStartBatch_ListingFailure(t *testing.T) {
	completer := &recordingCompleter{}
	m := NewManager(runnerFunc(succeed), staticLister{err: errors.New("bucket gone")}, Options{Completer: completer})

	started, err := m.StartBatch(Request{Prefix: "order"})
	require.NoError(t, err)
	b := wait(t, m, started.ID)

	assert.Empty(t, b.Files)
	assert.Contains(t, b.Error, "bucket gone")
	assert.Equal(t, 1, completer.count())
}

func TestCancel(t *testing.T) {
	keys := []string{"o/a.stl", "o/b.stl", "o/c.stl"}
	var running sync.WaitGroup
	running.Add(len(keys))
	runner := runnerFunc(func(ctx context.Context, req pipeline.Request) models.FileResult {
		running.Done()
		<-ctx.Done()
		return models.FileResult{FileID: req.File.ID, Status: models.FileStatusError, FailureKind: models.FailureCanceled}
	})
	completer := &recordingCompleter{}
	m := NewManager(runner, staticLister{keys: keys}, Options{Completer: completer})

	started, err := m.StartBatch(Request{Prefix: "o"})
	require.NoError(t, err)
	running.Wait()

	assert.True(t, m.Cancel(started.ID))
	b := wait(t, m, started.ID)

	assert.Equal(t, models.BatchDone, b.State)
	for _, fp := range b.Files {
		assert.Equal(t, models.FailureCanceled, fp.Result.FailureKind)
	}
	assert.Equal(t, 1, completer.count())
	assert.False(t, m.Cancel(started.ID))
	assert.False(t, m.Cancel("unknown"))
}

func TestStartSingle_NoCompletionSignal(t *testing.T) {
	completer := &recordingCompleter{}
	listener := &recordingListener{}
	m := NewManager(runnerFunc(succeed), nil, Options{Completer: completer, Listeners: []Listener{listener}})

	started, err := m.StartSingle(SingleRequest{File: models.ModelFile{ID: "f1", Source: "https://x/y.stl", Name: "y.stl"}})
	require.NoError(t, err)
	b := wait(t, m, started.ID)

	require.Len(t, b.Files, 1)
	assert.Equal(t, models.FileStatusSuccess, b.Files[0].File.Status)
	assert.Zero(t, completer.count())
	assert.Equal(t, int32(1), listener.batches.Load())
}

func TestCleanupOldBatches(t *testing.T) {
	m := NewManager(runnerFunc(succeed), staticLister{}, Options{})
	started, err := m.StartBatch(Request{Prefix: "x"})
	require.NoError(t, err)
	wait(t, m, started.ID)

	assert.Zero(t, m.CleanupOldBatches(time.Hour))
	assert.Equal(t, 1, m.CleanupOldBatches(-time.Second))
	_, ok := m.GetBatch(started.ID)
	assert.False(t, ok)
}

func TestShutdown(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, req pipeline.Request) models.FileResult {
		<-ctx.Done()
		return models.FileResult{FileID: req.File.ID, Status: models.FileStatusError, FailureKind: models.FailureCanceled}
	})
	completer := &recordingCompleter{}
	m := NewManager(runner, staticLister{keys: []string{"s/a.stl"}}, Options{Completer: completer})
	_, err := m.StartBatch(Request{Prefix: "s"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 1, completer.count())

	_, err = m.StartBatch(Request{Prefix: "s"})
	assert.ErrorIs(t, err, ErrShutdown)
}
