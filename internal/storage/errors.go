package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks failures of the remote listing call.
	ErrStoreUnavailable = errors.New("object store unavailable")
	// ErrLocalFS marks failures creating directories or files locally.
	ErrLocalFS = errors.New("local filesystem error")
	// ErrTransfer marks failures downloading a single object after listing succeeded.
	ErrTransfer = errors.New("object transfer failed")
)

// StoreUnavailableError is returned when a listing page cannot be fetched.
type StoreUnavailableError struct {
	Bucket string
	Prefix string
	Err    error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("list s3://%s/%s: %v", e.Bucket, e.Prefix, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// LocalFSError is returned when a directory or file cannot be created or
// written locally.
type LocalFSError struct {
	Path string
	Key  ObjectKey
	Err  error
}

func (e *LocalFSError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("local %s for key %q: %v", e.Path, e.Key, e.Err)
	}
	return fmt.Sprintf("local %s: %v", e.Path, e.Err)
}

func (e *LocalFSError) Unwrap() []error { return []error{ErrLocalFS, e.Err} }

// TransferError identifies the object whose download failed.
type TransferError struct {
	Bucket string
	Key    ObjectKey
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("download s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *TransferError) Unwrap() []error { return []error{ErrTransfer, e.Err} }
