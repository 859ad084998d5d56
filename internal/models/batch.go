package models

import "time"

// UnitState is the state of one per-file pipeline unit.
type UnitState string

const (
	UnitQueued    UnitState = "queued"
	UnitRunning   UnitState = "running"
	UnitSucceeded UnitState = "succeeded"
	UnitFailed    UnitState = "failed"
)

// IsTerminal reports whether the unit has finished.
func (s UnitState) IsTerminal() bool {
	return s == UnitSucceeded || s == UnitFailed
}

// BatchState is the state of the batch orchestrator.
type BatchState string

const (
	BatchCollecting  BatchState = "collecting"
	BatchDispatching BatchState = "dispatching"
	BatchAwaiting    BatchState = "awaiting"
	BatchReporting   BatchState = "reporting"
	BatchDone        BatchState = "done"
)

// Timing records how long a unit spent overall and inside the engine.
type Timing struct {
	TotalMs int64 `json:"totalMs" msgpack:"totalMs"`
	SliceMs int64 `json:"sliceMs" msgpack:"sliceMs"`
}

// FileResult is the terminal outcome of one unit.
type FileResult struct {
	FileID      string        `json:"fileId" msgpack:"fileId"`
	Name        string        `json:"name" msgpack:"name"`
	Status      FileStatus    `json:"status" msgpack:"status"`
	Message     string        `json:"message,omitempty" msgpack:"message,omitempty"`
	FailureKind FailureKind   `json:"failureKind,omitempty" msgpack:"failureKind,omitempty"`
	MassGrams   float64       `json:"massGrams,omitempty" msgpack:"massGrams,omitempty"`
	Dimensions  *BoundingBox  `json:"dimensions,omitempty" msgpack:"dimensions,omitempty"`
	Pricing     *PricingTiers `json:"pricing,omitempty" msgpack:"pricing,omitempty"`
	Axis        string        `json:"axis,omitempty" msgpack:"axis,omitempty"`
	Scaled      bool          `json:"scaled,omitempty" msgpack:"scaled,omitempty"`
	Attempts    int           `json:"attempts,omitempty" msgpack:"attempts,omitempty"`
	Timing      Timing        `json:"timing" msgpack:"timing"`
}

// Succeeded reports whether the unit produced a price.
func (r FileResult) Succeeded() bool { return r.Status == FileStatusSuccess }

// FileProgress is the orchestrator's view of one unit.
type FileProgress struct {
	File   ModelFile   `json:"file" msgpack:"file"`
	State  UnitState   `json:"state" msgpack:"state"`
	Result *FileResult `json:"result,omitempty" msgpack:"result,omitempty"`
}

// Batch is an in-memory snapshot of one batch run.
type Batch struct {
	ID          string         `json:"id" msgpack:"id"`
	Prefix      string         `json:"prefix" msgpack:"prefix"`
	CartID      string         `json:"cartId,omitempty" msgpack:"cartId,omitempty"`
	State       BatchState     `json:"state" msgpack:"state"`
	Files       []FileProgress `json:"files" msgpack:"files"`
	Completion  string         `json:"completion,omitempty" msgpack:"completion,omitempty"` // endpoint that accepted the signal
	Error       string         `json:"error,omitempty" msgpack:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt" msgpack:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// BatchReport is the payload of the single batch-completion signal.
type BatchReport struct {
	BatchID    string       `json:"batchId" msgpack:"batchId"`
	Prefix     string       `json:"prefix" msgpack:"prefix"`
	CartID     string       `json:"cartId,omitempty" msgpack:"cartId,omitempty"`
	Results    []FileResult `json:"results" msgpack:"results"`
	Succeeded  int          `json:"succeeded" msgpack:"succeeded"`
	Failed     int          `json:"failed" msgpack:"failed"`
	StartedAt  time.Time    `json:"startedAt" msgpack:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt" msgpack:"finishedAt"`
}

// NewBatchReport tallies results into a report.
func NewBatchReport(batchID, prefix, cartID string, results []FileResult, started, finished time.Time) BatchReport {
	r := BatchReport{
		BatchID:    batchID,
		Prefix:     prefix,
		CartID:     cartID,
		Results:    results,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if r.Results == nil {
		r.Results = []FileResult{}
	}
	for _, res := range results {
		if res.Succeeded() {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
	return r
}
