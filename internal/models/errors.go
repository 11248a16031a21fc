package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. The set is closed — every error
// surfaced to an observer carries exactly one of these kinds.
type ErrorKind string

const (
	ErrKindValidation      ErrorKind = "ValidationError"
	ErrKindModelOutput     ErrorKind = "ModelOutputError"
	ErrKindExternalService ErrorKind = "ExternalServiceError"
	ErrKindRender          ErrorKind = "RenderError"
	ErrKindComposition     ErrorKind = "CompositionError"
	ErrKindStorage         ErrorKind = "StorageError"
	ErrKindCancelled       ErrorKind = "Cancelled"
)

// PipelineError is the typed error that crosses stage boundaries. Stage and
// SceneID are filled in by the stage entry point that observed the failure;
// SceneID is 0 when the error is not tied to a particular scene.
type PipelineError struct {
	Kind    ErrorKind
	Stage   string
	SceneID int
	Detail  string
	cause   error
}

func (e *PipelineError) Error() string {
	switch {
	case e.Stage != "" && e.SceneID > 0:
		return fmt.Sprintf("%s [stage=%s scene=%d]: %s", e.Kind, e.Stage, e.SceneID, e.Detail)
	case e.Stage != "":
		return fmt.Sprintf("%s [stage=%s]: %s", e.Kind, e.Stage, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.cause
}

// NewPipelineError builds a PipelineError wrapping cause (cause may be nil).
func NewPipelineError(kind ErrorKind, detail string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Detail: detail, cause: cause}
}

// ValidationErrorf builds a ValidationError from a format string.
func ValidationErrorf(format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: ErrKindValidation, Detail: fmt.Sprintf(format, args...)}
}

// TagStage annotates err with a stage name (and scene id when > 0). If err is
// not already a PipelineError it is wrapped as an ExternalServiceError so the
// kind set stays closed.
func TagStage(err error, stage string, sceneID int) *PipelineError {
	pe := AsPipelineError(err)
	if pe.Stage == "" {
		pe.Stage = stage
	}
	if pe.SceneID == 0 && sceneID > 0 {
		pe.SceneID = sceneID
	}
	return pe
}

// AsPipelineError returns err as a *PipelineError, wrapping foreign errors
// with kind ExternalServiceError. Context cancellation maps to Cancelled.
func AsPipelineError(err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	kind := ErrKindExternalService
	if errors.Is(err, ErrCancelled) {
		kind = ErrKindCancelled
	}
	return &PipelineError{Kind: kind, Detail: err.Error(), cause: err}
}

// KindOf extracts the error kind, defaulting to ExternalServiceError for
// errors that never passed through a stage boundary.
func KindOf(err error) ErrorKind {
	return AsPipelineError(err).Kind
}

// ErrCancelled is the sentinel for cooperative cancellation. Stage code that
// observes a cancelled context wraps it in a Cancelled PipelineError so the
// orchestrator can distinguish cancelled from failed.
var ErrCancelled = errors.New("job cancelled")
