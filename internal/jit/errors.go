package jit

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialNotFound means an asset has no active admin account. Not
	// retryable until an operator provisions one.
	ErrCredentialNotFound = errors.New("no active admin account for asset")

	// ErrUnsupportedScope means the driver has no grant mapping for the
	// requested scope. Permanent, not retryable.
	ErrUnsupportedScope = errors.New("unsupported scope")

	// ErrUnsupportedEngine means no driver variant exists for the asset's
	// engine.
	ErrUnsupportedEngine = errors.New("unsupported database engine")

	// ErrQueryLoggingDisabled means query logs were requested from an engine
	// that never had logging enabled.
	ErrQueryLoggingDisabled = errors.New("query logging is not enabled")
)

// ConfigError reports a misconfiguration (unsupported engine, unresolvable
// connection database). The caller must fix configuration; retrying is
// pointless.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DriverError reports a failed driver operation against a remote engine.
// Transient marks connectivity-class failures worth retrying after backoff;
// unsupported-scope and grant-syntax failures are permanent.
type DriverError struct {
	Engine    Engine
	Op        string
	Err       error
	Transient bool
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s driver: %s: %v", e.Engine, e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// GenerationError wraps any failure encountered while generating credentials
// for an asset. Callers treat it as a single "could not provision" signal;
// the original cause is preserved for logging.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "credential generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient reports whether err is a retryable driver failure.
func Transient(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && de.Transient
}
