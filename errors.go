package main

import "fmt"

// ConfigurationError marks a turn that was rejected before any model call:
// unknown mode, unfilled role slot, duplicate model, bad parameters.
// Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// CallError is a single model call failure. It is recorded on the stage as
// a failure-marked output and excluded from aggregation; it never aborts
// sibling calls.
type CallError struct {
	Model string
	Kind  FailureKind
	Err   error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %s: %s: %v", e.Model, e.Kind, e.Err)
	}
	return fmt.Sprintf("model %s: %s", e.Model, e.Kind)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// failureKindOf extracts the failure kind from a gateway error, defaulting
// to transport-error for anything untyped.
func failureKindOf(err error) FailureKind {
	if ce, ok := err.(*CallError); ok {
		return ce.Kind
	}
	return FailureTransport
}

// StageFailure marks a stage that produced zero usable outputs. It aborts
// the turn; stages completed before it remain on the turn.
type StageFailure struct {
	Mode  string
	Stage string
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s of mode %s produced no usable output", e.Stage, e.Mode)
}
