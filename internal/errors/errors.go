// Package errors provides the error taxonomy shared by the ingestion engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrTransient        = errors.New("transient failure")
	ErrFatal            = errors.New("fatal failure")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownTicker    = errors.New("unknown ticker")
	ErrUnknownInterval  = errors.New("unknown interval")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDataNotFound     = errors.New("data not found")
	ErrCorruptData      = errors.New("corrupt data")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Kind classifies a failure by how the engine reacts to it.
type Kind int

const (
	// KindTransient is logged and the job is skipped for this cycle.
	KindTransient Kind = iota
	// KindRateLimited means wait for the cooldown and retry the same request.
	KindRateLimited
	// KindFatal leaves prior state untouched and surfaces to the operator.
	KindFatal
	// KindMalformedEvent is dropped by the stream consumer.
	KindMalformedEvent
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	case KindMalformedEvent:
		return "malformed_event"
	default:
		return "transient"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindFatal:
		return ErrFatal
	case KindMalformedEvent:
		return ErrMalformedEvent
	default:
		return ErrTransient
	}
}

// FetchError is returned by the candle fetcher and the engines built on it.
type FetchError struct {
	Kind     Kind
	Ticker   string
	Interval string
	Op       string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s/%s [%s]: %v", e.Op, e.Ticker, e.Interval, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s/%s [%s]", e.Op, e.Ticker, e.Interval, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRateLimited) and friends match on the kind.
func (e *FetchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewFetchError creates a new FetchError.
func NewFetchError(kind Kind, op, ticker, interval string, err error) *FetchError {
	return &FetchError{
		Kind:     kind,
		Ticker:   ticker,
		Interval: interval,
		Op:       op,
		Err:      err,
	}
}

// StoreError represents a persistence failure for one artifact.
type StoreError struct {
	Path string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s] %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, path string, err error) *StoreError {
	return &StoreError{Op: op, Path: path, Err: err}
}

// EventError describes why a live event was rejected.
type EventError struct {
	InstrumentID string
	Reason       string
}

func (e *EventError) Error() string {
	return fmt.Sprintf("malformed event [%s]: %s", e.InstrumentID, e.Reason)
}

func (e *EventError) Is(target error) bool {
	return target == ErrMalformedEvent
}

// NewEventError creates a new EventError.
func NewEventError(instrumentID, reason string) *EventError {
	return &EventError{InstrumentID: instrumentID, Reason: reason}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RateLimited marks err as a rate-limit signal.
func RateLimited(err error) error {
	return &kindError{kind: KindRateLimited, err: err}
}

// Transient marks err as a recoverable failure.
func Transient(err error) error {
	return &kindError{kind: KindTransient, err: err}
}

// Fatal marks err as a structural failure.
func Fatal(err error) error {
	return &kindError{kind: KindFatal, err: err}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return e.kind.sentinel().Error()
	}
	return e.err.Error()
}

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool { return target == e.kind.sentinel() }

// KindOf classifies err. Unclassified errors are transient, except
// context cancellation which is never worth retrying and is reported fatal.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrMalformedEvent):
		return KindMalformedEvent
	case errors.Is(err, ErrFatal), errors.Is(err, ErrCorruptData), errors.Is(err, ErrNotAuthenticated):
		return KindFatal
	case errors.Is(err, context.Canceled):
		return KindFatal
	}
	if strings.Contains(strings.ToLower(err.Error()), "too many requests") {
		return KindRateLimited
	}
	return KindTransient
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == KindRateLimited
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
