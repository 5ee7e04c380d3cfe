package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds. Every error returned across a service boundary wraps exactly
// one of these; match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrTransaction  = errors.New("transaction failed")
	ErrCacheLoad    = errors.New("cache load failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInternal     = errors.New("internal error")
)

// AppError is a classified error. Message is a short title, Reason is the
// client-facing explanation.
type AppError struct {
	Kind    error
	Message string
	Reason  string
	Fields  map[string]string
	Err     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AppError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind an error was classified with, or ErrInternal.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrValidation, ErrTransaction, ErrCacheLoad, ErrUnauthorized, ErrForbidden, ErrInternal} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// IsClassified reports whether err already carries one of the kinds above.
func IsClassified(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// ReasonOf returns the client-facing reason of the AppError that carries the
// error's kind, so a NotFound raised inside a cache loader keeps its reason.
func ReasonOf(err error) string {
	if appErr := findAppError(err, KindOf(err)); appErr != nil {
		return appErr.Reason
	}
	return ""
}

// MessageOf is the short title matching ReasonOf.
func MessageOf(err error) string {
	if appErr := findAppError(err, KindOf(err)); appErr != nil && appErr.Message != "" {
		return appErr.Message
	}
	return KindOf(err).Error()
}

// FieldsOf returns validation field errors, if any.
func FieldsOf(err error) map[string]string {
	if appErr := findAppError(err, ErrValidation); appErr != nil {
		return appErr.Fields
	}
	return nil
}

func findAppError(err error, kind error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok && appErr.Kind == kind {
		return appErr
	}
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		return findAppError(x.Unwrap(), kind)
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if found := findAppError(inner, kind); found != nil {
				return found
			}
		}
	}
	return nil
}

func NewNotFound(resource string, id any) error {
	return &AppError{
		Kind:    ErrNotFound,
		Message: resource + " not found",
		Reason:  fmt.Sprintf("no %s exists with id %v", resource, id),
	}
}

func NewInvalidState(message string, reason string) error {
	return &AppError{Kind: ErrInvalidState, Message: message, Reason: reason}
}

func NewValidationError(reason string, fields map[string]string) error {
	return &AppError{Kind: ErrValidation, Message: "validation error", Reason: reason, Fields: fields}
}

func NewUnauthorized(reason string) error {
	return &AppError{Kind: ErrUnauthorized, Message: "unauthenticated", Reason: reason}
}

func NewForbidden(reason string) error {
	return &AppError{Kind: ErrForbidden, Message: "access denied", Reason: reason}
}

// WrapTransaction classifies a failure inside a transaction. Errors that
// already carry a kind pass through unchanged.
func WrapTransaction(op string, err error) error {
	if err == nil || IsClassified(err) {
		return err
	}
	return &AppError{Kind: ErrTransaction, Message: op + " failed", Reason: "the operation was rolled back", Err: err}
}

// WrapCacheLoad marks a loader failure seen by the cache. The loader's error
// stays reachable through errors.Is / errors.As.
func WrapCacheLoad(key string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Kind: ErrCacheLoad, Message: "cache load failed", Reason: "could not load " + key, Err: err}
}

func WrapInternal(op string, err error) error {
	if err == nil || IsClassified(err) {
		return err
	}
	return &AppError{Kind: ErrInternal, Message: op + " failed", Err: err}
}

// FieldsReason renders field errors deterministically ("amount: min, status: oneof").
func FieldsReason(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, ", ")
}
