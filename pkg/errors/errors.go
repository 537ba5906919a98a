package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Source errors
	ErrSourceFetch  = errors.New("failed to fetch source")
	ErrSourceDecode = errors.New("failed to decode source content")
	ErrSourceEmpty  = errors.New("source contains no nodes")

	// Detection errors (per-node, non-fatal)
	ErrResolution    = errors.New("name resolution failed")
	ErrQuery         = errors.New("geolocation query failed")
	ErrSwitchTimeout = errors.New("outbound switch not confirmed")
	ErrUnreachable   = errors.New("node unreachable through proxy core")

	// Session errors (fatal for the precise run)
	ErrProcessLaunch = errors.New("proxy core failed to start")
	ErrProcessCrash  = errors.New("proxy core exited unexpectedly")

	// Link errors
	ErrLinkInvalid         = errors.New("invalid share link")
	ErrProtocolUnsupported = errors.New("protocol not supported")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// SourceError represents a failure to load one node source
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source '%s': %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NodeError represents a per-node detection failure
type NodeError struct {
	Name string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node '%s': %v", e.Name, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// QueryError represents a geolocation lookup failure for one IP
type QueryError struct {
	IP  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query for %s: %v", e.IP, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// SessionError represents a tester session failure with the state it died in
type SessionError struct {
	State string
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("tester session (%s): %v", e.State, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
