package unread

import (
	"errors"
	"fmt"

	"github.com/l0p7/dashsync/internal/adminapi"
)

// ErrInactive is returned by operations that need an active reconciler.
var ErrInactive = errors.New("unread: reconciler inactive")

// FailureKind tells callers which stage of a refresh failed.
type FailureKind string

const (
	KindNetwork FailureKind = "network"
	KindStatus  FailureKind = "status"
	KindDecode  FailureKind = "decode"
	KindStorage FailureKind = "storage"
)

// FetchError wraps a refresh or mark-seen failure. Published counts are left
// untouched whenever one is returned.
type FetchError struct {
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unread: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchFailure(err error) *FetchError {
	var statusErr *adminapi.StatusError
	var decodeErr *adminapi.DecodeError
	switch {
	case errors.As(err, &statusErr):
		return &FetchError{Kind: KindStatus, Err: err}
	case errors.As(err, &decodeErr):
		return &FetchError{Kind: KindDecode, Err: err}
	default:
		return &FetchError{Kind: KindNetwork, Err: err}
	}
}

func storageFailure(err error) *FetchError {
	return &FetchError{Kind: KindStorage, Err: err}
}
