package models

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a file could not be priced.
type FailureKind string

const (
	FailureDownload            FailureKind = "download_failure"
	FailureConversion          FailureKind = "conversion_failure"
	FailureTimeout             FailureKind = "timeout"
	FailureTooLargeForBed      FailureKind = "too_large_for_bed"
	FailureScaleRetryExhausted FailureKind = "scale_retry_exhausted"
	FailureParse               FailureKind = "parse_failure"
	FailureDimensionExceeded   FailureKind = "dimension_exceeded"
	FailureDelivery            FailureKind = "delivery_failure"
	FailureUnsupportedFormat   FailureKind = "unsupported_format"
	FailureCanceled            FailureKind = "canceled"
	FailureInternal            FailureKind = "internal"
)

// Failure is a classified pipeline error. Message is safe to show to callers.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

// NewFailure creates a Failure wrapping an optional cause.
func NewFailure(kind FailureKind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: cause}
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf returns the failure kind carried by err, or FailureInternal when
// err is not a *Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return err.Error()
}
