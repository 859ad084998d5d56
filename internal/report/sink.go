// Package report delivers per-file results and batch-completion signals.
package report

import (
	"context"
	"fmt"

	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/records"
)

// Sink receives the terminal result of one file. Errors are for logging only;
// they never change the computed result.
type Sink interface {
	Deliver(ctx context.Context, result models.FileResult) error
}

// RecordSink writes results into the document store.
type RecordSink struct {
	store records.Store
}

// NewRecordSink creates a sink updating store.
func NewRecordSink(store records.Store) *RecordSink {
	return &RecordSink{store: store}
}

func (s *RecordSink) Deliver(ctx context.Context, result models.FileResult) error {
	if err := s.store.Update(ctx, result.FileID, models.PatchFromResult(result)); err != nil {
		return &DeliveryError{Target: "record " + result.FileID, Err: err}
	}
	return nil
}

// DeliveryError describes a failed delivery. Transport is true when no HTTP
// response was received; otherwise StatusCode holds the response status.
type DeliveryError struct {
	Target     string
	Transport  bool
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Transport:
		return fmt.Sprintf("delivering to %s: transport error: %v", e.Target, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("delivering to %s: unexpected status %d", e.Target, e.StatusCode)
	default:
		return fmt.Sprintf("delivering to %s: %v", e.Target, e.Err)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, result models.FileResult) error {
	var first error
	for _, s := range m {
		if err := s.Deliver(ctx, result); err != nil && first == nil {
			first = err
		}
	}
	return first
}
