package common

import (
	"errors"
	"fmt"
)

// InsufficientDataError reports a table too short to produce one whole batch.
type InsufficientDataError struct {
	Rows      int
	BatchSize int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d rows cannot fill one batch of %d", e.Rows, e.BatchSize)
}

// InvalidParameterError reports an out-of-range argument or hyperparameter.
type InvalidParameterError struct {
	Name   string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Name, e.Value, e.Reason)
}

// InvalidParam is a shorthand constructor for InvalidParameterError.
func InvalidParam(name string, value any, format string, args ...any) error {
	return &InvalidParameterError{Name: name, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// InvalidSequenceError reports windowing that produced no usable sequences.
type InvalidSequenceError struct {
	Inputs  int
	Outputs int
	Window  int
}

func (e *InvalidSequenceError) Error() string {
	return fmt.Sprintf("invalid sequence shapes: %d input windows, %d output windows (window size %d)",
		e.Inputs, e.Outputs, e.Window)
}

// UnknownModelError reports a model family identifier outside the supported set.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model: %q", e.Model)
}

// PersistenceError wraps an I/O or (de)serialization failure of the model store.
type PersistenceError struct {
	Op   string
	Name string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s model %q: %v", e.Op, e.Name, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NumericEdgeCaseWarning flags a metric computed under a numeric edge case.
// It is carried alongside valid results and is never fatal.
type NumericEdgeCaseWarning struct {
	Metric string `json:"metric"`
	Rows   int    `json:"rows"`
	Detail string `json:"detail"`
}

func (w *NumericEdgeCaseWarning) Error() string {
	return fmt.Sprintf("%s: %s (%d rows)", w.Metric, w.Detail, w.Rows)
}

// SchemaError reports a malformed input table.
type SchemaError struct {
	Column string
	Row    int
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("column %q row %d: %s", e.Column, e.Row, e.Reason)
	}
	if e.Column != "" {
		return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
	}
	return e.Reason
}

// Is* helpers keep call sites short.

func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

func IsInvalidParameter(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}

func IsInvalidSequence(err error) bool {
	var target *InvalidSequenceError
	return errors.As(err, &target)
}

func IsUnknownModel(err error) bool {
	var target *UnknownModelError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
