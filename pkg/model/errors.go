package model

import (
	"errors"
	"fmt"
)

// FatalError invalidates the current page's capture session. It aborts the
// page, not the run.
type FatalError struct {
	Stage string // "connect", "navigate", "load-timeout", "setup"
	Err   error
}

func (e *FatalError) Error() string { return fmt.Sprintf("session fatal at %s: %v", e.Stage, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// TransientError covers element-level failures: stale element, selector
// miss, not clickable. It skips the affected probe or element only.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// MetadataError covers a single inaccessible stylesheet or listener probe.
type MetadataError struct {
	Source string
	Err    error
}

func (e *MetadataError) Error() string { return fmt.Sprintf("metadata %s: %v", e.Source, e.Err) }
func (e *MetadataError) Unwrap() error { return e.Err }

// ArchiveError signals a persist failure. Disk or permission problems are
// systemic, so this escalates and halts the run.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string { return fmt.Sprintf("archive %s: %v", e.Path, e.Err) }
func (e *ArchiveError) Unwrap() error { return e.Err }

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsArchive(err error) bool {
	var ae *ArchiveError
	return errors.As(err, &ae)
}
