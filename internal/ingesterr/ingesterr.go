// Package ingesterr classifies per-file ingestion failures.
//
// Every failure that reaches the pipeline's file boundary is an *Error carrying a
// Kind, the stage that produced it and the file path. The pipeline logs it,
// reports it and moves on to the next file.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind is the failure category of an ingestion error.
type Kind int

const (
	// KindInternal is anything not otherwise classified.
	KindInternal Kind = iota
	// KindDecode means the file could not be decoded with any supported encoding.
	KindDecode
	// KindParse means the content could not be turned into a table.
	KindParse
	// KindSchemaConflict means the header cannot form a table, such as two
	// column names that collide once lower-cased. The file fails before any DDL.
	KindSchemaConflict
	// KindLoad means the create-and-copy transaction failed.
	KindLoad
	// KindDirectory means the watched or output directory is missing or unusable.
	KindDirectory
	// KindUnsupported means the input kind cannot be handled.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindParse:
		return "parse"
	case KindSchemaConflict:
		return "schema_conflict"
	case KindLoad:
		return "load"
	case KindDirectory:
		return "directory"
	case KindUnsupported:
		return "unsupported"
	default:
		return "internal"
	}
}

// Error is a classified ingestion failure for one file.
type Error struct {
	Kind  Kind
	Stage string // pipeline stage, e.g. "normalize", "load"
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind, stage and path. It returns nil when err is nil.
// If err is already an *Error its kind is kept and only missing fields are filled in.
func New(kind Kind, stage, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		out := *existing
		if out.Stage == "" {
			out.Stage = stage
		}
		if out.Path == "" {
			out.Path = path
		}
		return &out
	}
	return &Error{Kind: kind, Stage: stage, Path: path, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
