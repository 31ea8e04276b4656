package routing

import (
	"errors"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
)

// Kind classifies a failed call.
type Kind string

const (
	KindEmptyInput            Kind = "EmptyInput"
	KindProviderNotConfigured Kind = "ProviderNotConfigured"
	KindProviderFailure       Kind = "ProviderFailure"
	KindCancelled             Kind = "Cancelled"
	KindInternalFailure       Kind = "InternalFailure"
)

// Error is the only error type returned by the gateway.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of a gateway error, or InternalFailure for any
// other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindInternalFailure
}

// ToResult turns a call outcome into the (success, result, error) triple.
func ToResult(text string, err error) models.GenerationResult {
	if err == nil {
		return models.GenerationResult{Success: true, Result: text}
	}
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		gwErr = newError(KindInternalFailure, err.Error(), err)
	}
	return models.GenerationResult{Success: false, Result: "", Error: gwErr.Error()}
}
