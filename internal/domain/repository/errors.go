package repository

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// The failure of a blob store write.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload object %q: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// The failure of a relational store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
