// Package common defines the sentinel errors shared across the sync core.
// Every operation returns errors from exactly one of the groups below plus,
// for invariant violations that indicate a bug, an *UnexpectedError.
// Callers should match sentinels with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	// Account errors.
	ErrUsernameTaken          = errors.New("username taken")
	ErrInvalidUsername        = errors.New("invalid username")
	ErrAccountStringCorrupted = errors.New("account string corrupted")
	ErrNoAccount              = errors.New("no account")
	ErrAccountAlreadyExists   = errors.New("account already exists")

	// Connectivity errors.
	ErrCouldNotReachServer = errors.New("could not reach server")

	// Tree-shape errors.
	ErrCyclicMove                    = errors.New("cannot move a folder into its own subtree")
	ErrDocumentTreatedAsFolder       = errors.New("document treated as folder")
	ErrFolderTreatedAsDocument       = errors.New("folder treated as document")
	ErrFileNameNotAvailable          = errors.New("file name not available")
	ErrFileNameContainsSlash         = errors.New("file name contains slash")
	ErrNewNameContainsSlash          = errors.New("new name contains slash")
	ErrFileNameEmpty                 = errors.New("file name empty")
	ErrTargetParentDoesNotExist      = errors.New("target parent does not exist")
	ErrTargetParentHasChildNamedThat = errors.New("target parent has a child named that")
	ErrCouldNotFindAParent           = errors.New("could not find a parent")
	ErrCannotOperateOnRoot           = errors.New("cannot rename, move or delete the root folder")

	// Existence errors.
	ErrFileDoesNotExist = errors.New("file does not exist")
	ErrNoRoot           = errors.New("no root folder")

	// Key-hierarchy errors.
	ErrKeyChainBroken = errors.New("key chain broken")
)

// UnexpectedError carries diagnostic detail for conditions that should be
// impossible given the tree invariants. It is surfaced verbatim and callers
// must not attempt automatic recovery from it.
type UnexpectedError struct {
	Detail string
}

func (e *UnexpectedError) Error() string {
	return "unexpected error: " + e.Detail
}

// Unexpectedf builds an *UnexpectedError from a format string.
func Unexpectedf(format string, args ...any) error {
	return &UnexpectedError{Detail: fmt.Sprintf(format, args...)}
}
