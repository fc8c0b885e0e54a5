package core

import (
	"errors"
	"fmt"
)

// Not-found class.
var (
	ErrNoSuchNamespace = errors.New("namespace does not exist")
	ErrNoSuchTable     = errors.New("table does not exist")
)

// Conflict class.
var (
	ErrNamespaceAlreadyExists = errors.New("namespace already exists")
	ErrTableAlreadyExists     = errors.New("table already exists")
	ErrNamespaceNotEmpty      = errors.New("namespace is not empty")
	ErrCommitFailed           = errors.New("commit failed")
)

// Malformed-input class.
var (
	ErrMalformedIdentifier = errors.New("malformed identifier")
	ErrInvalidUpdate       = errors.New("invalid metadata update")
	ErrInvalidRequest      = errors.New("invalid request")
)

// CommitFailedError describes why a commit lost: a requirement that did not
// hold, or a binding that moved before it could be swapped.
type CommitFailedError struct {
	Table TableIdentifier
	// Requirement is the requirement kind that failed, empty when the
	// commit lost the compare-and-swap race.
	Requirement string
	Reason      string
}

func (e *CommitFailedError) Error() string {
	if e.Requirement != "" {
		return fmt.Sprintf("commit failed for %s: requirement %s failed: %s", e.Table, e.Requirement, e.Reason)
	}
	return fmt.Sprintf("commit failed for %s: %s", e.Table, e.Reason)
}

func (e *CommitFailedError) Unwrap() error {
	return ErrCommitFailed
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoSuchNamespace) || errors.Is(err, ErrNoSuchTable)
}

// IsConflict reports whether err belongs to the conflict class.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNamespaceAlreadyExists) ||
		errors.Is(err, ErrTableAlreadyExists) ||
		errors.Is(err, ErrNamespaceNotEmpty) ||
		errors.Is(err, ErrCommitFailed)
}

// IsMalformed reports whether err belongs to the malformed-input class.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedIdentifier) ||
		errors.Is(err, ErrInvalidUpdate) ||
		errors.Is(err, ErrInvalidRequest)
}
