package download

import (
	"context"
	"errors"

	"github.com/ytget/yt-audio/internal/model"
)

// Engine and registry errors
var (
	ErrItemNotFound = errors.New("item not found")
	ErrItemBusy     = errors.New("item is already being processed")
	ErrNotRetryable = errors.New("item is not in error state")
	ErrEngineClosed = errors.New("engine is shut down")
)

// PipelineError is the typed outcome of a failed pipeline stage
type PipelineError struct {
	Kind    model.ErrorKind
	Message string // stage description, e.g. "resolve metadata"
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func stageError(kind model.ErrorKind, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: cause}
}

// KindOf classifies err. Context cancellation wins over the stage kind.
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorKindNone
	}
	if errors.Is(err, context.Canceled) {
		return model.ErrorKindCancelled
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return model.ErrorKindTransfer
}
