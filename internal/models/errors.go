package models

import (
	"errors"
	"fmt"
)

// Malformed line reasons
const (
	ReasonFieldCount    = "field_count"
	ReasonMaxTemp       = "max_temp"
	ReasonMinTemp       = "min_temp"
	ReasonPrecipitation = "precipitation"
	ReasonDate          = "date"
)

// SkipReasons lists the malformed line reasons in reporting order
func SkipReasons() []string {
	return []string{ReasonFieldCount, ReasonDate, ReasonMaxTemp, ReasonMinTemp, ReasonPrecipitation}
}

var (
	// ErrInvalidDate marks a malformed or non-calendar date filter
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidYear marks a year filter that is not exactly four digits
	ErrInvalidYear = errors.New("invalid year")
)

// ParseError describes a malformed input line. The ingestion path counts
// these by Reason and never returns them to callers.
type ParseError struct {
	Line    int
	Reason  string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsTransient returns false; re-reading the same line fails the same way
func (e *ParseError) IsTransient() bool {
	return false
}

// ValidationError represents a caller supplied value that cannot be used
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// StorageError reports a failed store operation. Committed is the number of
// rows durably written before the failure.
type StorageError struct {
	Op        string
	Committed int
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed after %d committed rows: %v", e.Op, e.Committed, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsTransient returns true; the next run may succeed
func (e *StorageError) IsTransient() bool {
	return true
}

// NotFoundError reports a valid query that matched nothing
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("no %s found", e.Resource)
	}
	return fmt.Sprintf("no %s found for %s", e.Resource, e.ID)
}

// IsTransient returns false
func (e *NotFoundError) IsTransient() bool {
	return false
}

// IsTransient reports whether err, or anything it wraps, is marked transient
func IsTransient(err error) bool {
	var t interface{ IsTransient() bool }
	if errors.As(err, &t) {
		return t.IsTransient()
	}
	return false
}
