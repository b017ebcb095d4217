package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyInput              = errors.New("input text is required")
	ErrOracleTransport         = errors.New("oracle transport error")
	ErrMalformedOracleResponse = errors.New("malformed oracle response")
	ErrSchemaMismatch          = errors.New("schema mismatch")
	ErrDanglingReference       = errors.New("dangling reference")
	ErrPersistence             = errors.New("persistence error")
)

// Error kinds as they appear in logs and metric labels.
const (
	KindEmptyInput        = "empty_input"
	KindOracleTransport   = "oracle_transport"
	KindMalformedResponse = "malformed_oracle_response"
	KindSchemaMismatch    = "schema_mismatch"
	KindDanglingReference = "dangling_reference"
	KindPersistence       = "persistence"
	KindCanceled          = "canceled"
	KindUnknown           = "unknown"
)

// OracleTransportError reports a failed remote call to the LLM provider.
type OracleTransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *OracleTransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("oracle transport (%s, status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("oracle transport (%s): %v", e.Provider, e.Err)
}
func (e *OracleTransportError) Unwrap() error        { return e.Err }
func (e *OracleTransportError) Is(target error) bool { return target == ErrOracleTransport }

// MalformedResponseError reports text that could not be parsed as JSON.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed oracle response: %v", e.Err)
}
func (e *MalformedResponseError) Unwrap() error        { return e.Err }
func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedOracleResponse }

// SchemaMismatchError names the first offending location, e.g. "tasks[3].priority".
type SchemaMismatchError struct {
	Path   string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch at %s: %s", e.Path, e.Reason)
}
func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// DanglingReferenceError names a cross-collection id that does not resolve.
type DanglingReferenceError struct {
	Path   string // e.g. "userStories[0].epicId"
	Ref    string // the id that was referenced
	Target string // the collection searched, e.g. "epics"
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("dangling reference at %s: %q not found in %s", e.Path, e.Ref, e.Target)
}
func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// PersistenceError reports a storage failure. The record is considered not saved.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence (%s): %v", e.Op, e.Err)
}
func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// KindOf classifies err into one of the Kind* constants.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput):
		return KindEmptyInput
	case errors.Is(err, ErrMalformedOracleResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrDanglingReference):
		return KindDanglingReference
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrOracleTransport):
		return KindOracleTransport
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnknown
}
