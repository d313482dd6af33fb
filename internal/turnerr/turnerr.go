// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turnerr

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// KINDS
// =============================================================================

// Kind is a stable, caller-visible classification of a turn failure.
type Kind string

const (
	InvalidInput      Kind = "InvalidInput"
	MissingCredential Kind = "MissingCredential"
	UnsupportedModel  Kind = "UnsupportedModel"
	TransportError    Kind = "TransportError"
	HTTPError         Kind = "HTTPError"
	MalformedResponse Kind = "MalformedResponse"
	SessionBusy       Kind = "SessionBusy"
	ConfigError       Kind = "ConfigError"
	StorageFailure    Kind = "StorageFailure"
	Unknown           Kind = "Unknown"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Attributes describe default handling for a kind.
type Attributes struct {
	// Retryable reports whether the caller may retry the same turn unchanged.
	Retryable bool

	// HTTPStatus is the status the API answers with for this kind.
	HTTPStatus int
}

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Attributes{
		InvalidInput:      {Retryable: false, HTTPStatus: http.StatusBadRequest},
		MissingCredential: {Retryable: false, HTTPStatus: http.StatusPreconditionFailed},
		UnsupportedModel:  {Retryable: false, HTTPStatus: http.StatusNotFound},
		TransportError:    {Retryable: true, HTTPStatus: http.StatusGatewayTimeout},
		HTTPError:         {Retryable: false, HTTPStatus: http.StatusBadGateway},
		MalformedResponse: {Retryable: false, HTTPStatus: http.StatusBadGateway},
		SessionBusy:       {Retryable: true, HTTPStatus: http.StatusConflict},
		ConfigError:       {Retryable: false, HTTPStatus: http.StatusInternalServerError},
		StorageFailure:    {Retryable: true, HTTPStatus: http.StatusInternalServerError},
		Unknown:           {Retryable: false, HTTPStatus: http.StatusInternalServerError},
	}
)

// AttributesOf returns the attributes registered for kind, falling back to Unknown.
func AttributesOf(kind Kind) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[kind]; ok {
		return attr
	}
	return registry[Unknown]
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the single error type surfaced by adapters, the registry and the engine.
type Error struct {
	Kind    Kind
	Message string

	// Status is the upstream HTTP status for HTTPError, zero otherwise.
	Status int

	// ModelID names the model involved, when known.
	ModelID string

	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("status %d: %s", e.Status, msg)
	}
	if e.ModelID != "" {
		msg = fmt.Sprintf("model %s: %s", e.ModelID, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any *Error with the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the caller may retry this failure unchanged.
func (e *Error) Retryable() bool {
	if e.Kind == HTTPError {
		switch {
		case e.Status == http.StatusRequestTimeout,
			e.Status == http.StatusTooEarly,
			e.Status == http.StatusTooManyRequests,
			e.Status >= 500:
			return true
		}
		return false
	}
	return AttributesOf(e.Kind).Retryable
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput      = &Error{Kind: InvalidInput}
	ErrMissingCredential = &Error{Kind: MissingCredential}
	ErrUnsupportedModel  = &Error{Kind: UnsupportedModel}
	ErrTransport         = &Error{Kind: TransportError}
	ErrHTTP              = &Error{Kind: HTTPError}
	ErrMalformedResponse = &Error{Kind: MalformedResponse}
	ErrSessionBusy       = &Error{Kind: SessionBusy}
	ErrConfig            = &Error{Kind: ConfigError}
	ErrStorage           = &Error{Kind: StorageFailure}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// HTTP creates an HTTPError carrying the upstream status and message.
func HTTP(status int, message string) *Error {
	return &Error{Kind: HTTPError, Status: status, Message: message}
}

// WithModel returns a copy of err annotated with modelID when err is an *Error.
func WithModel(err error, modelID string) error {
	var te *Error
	if !errors.As(err, &te) {
		return err
	}
	cp := *te
	cp.ModelID = modelID
	return &cp
}

// =============================================================================
// INSPECTION
// =============================================================================

// KindOf returns the kind of err, or Unknown if err is not a turn error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Unknown
}

// StatusOf returns the upstream HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// MessageOf returns the human-readable detail for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		msg := te.Message
		if te.ModelID != "" {
			msg = fmt.Sprintf("Error from model %s: %s", te.ModelID, msg)
		}
		return msg
	}
	return err.Error()
}
