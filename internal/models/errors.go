package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies per-device failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConnection
	KindAuthentication
	KindRetrieval
	KindStorage
	KindGit
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindRetrieval:
		return "retrieval"
	case KindStorage:
		return "storage"
	case KindGit:
		return "git"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned when a command is sent on a closed connection.
	ErrNotConnected = errors.New("not connected")
	// ErrCommandTimeout is returned when a command does not complete in time.
	ErrCommandTimeout = errors.New("command timed out")
	// ErrCommandRejected is returned when the switch answers with an error banner.
	ErrCommandRejected = errors.New("command rejected by device")
	// ErrEmptyConfig is returned when a configuration is empty after normalization.
	ErrEmptyConfig = errors.New("configuration is empty")
	// ErrNoCredentials is returned when a switch has neither a password nor a key.
	ErrNoCredentials = errors.New("no password or private key configured")
)

// BackupError carries the failure kind and device context of a pipeline error.
type BackupError struct {
	Kind   ErrorKind
	Device string
	Op     string
	Err    error
}

// NewError builds a BackupError.
func NewError(kind ErrorKind, device, op string, err error) *BackupError {
	return &BackupError{Kind: kind, Device: device, Op: op, Err: err}
}

func (e *BackupError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s error on %s: %s: %v", e.Kind, e.Device, e.Op, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first BackupError in err's chain.
func KindOf(err error) ErrorKind {
	var be *BackupError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}
