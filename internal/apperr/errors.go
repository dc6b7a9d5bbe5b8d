// Package apperr holds the reconciler's error taxonomy.
package apperr

import (
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeConfigIncomplete = "CONFIG_INCOMPLETE"
	TextCodeConnection       = "CONNECTION_ERROR"
	TextCodeFaultedIteration = "FAULTED_ITERATION"
	TextCodeAlreadyRunning   = "ALREADY_RUNNING"
	TextCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
)

// ConfigIncomplete reports required configuration keys that are blank.
func ConfigIncomplete(missing ...string) error {
	err := goerrors.New(
		fmt.Sprintf("configuration incomplete: %s", strings.Join(missing, ", ")),
		goerrors.CategoryValidation,
	).WithTextCode(TextCodeConfigIncomplete)
	err.WithMetadata(map[string]any{"missing": missing})
	return err
}

// Connection wraps a failure to reach or prepare the pending change store.
func Connection(source error, message string) error {
	return goerrors.Wrap(source, goerrors.CategoryOperation, message).
		WithTextCode(TextCodeConnection)
}

// FaultedIteration wraps an error that escaped a reconciliation iteration.
func FaultedIteration(source error, metadata map[string]any) error {
	err := goerrors.Wrap(source, goerrors.CategoryInternal, "reconciliation iteration faulted: "+source.Error()).
		WithTextCode(TextCodeFaultedIteration)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func AlreadyRunning() error {
	return goerrors.New("reconciler is already running", goerrors.CategoryConflict).
		WithTextCode(TextCodeAlreadyRunning)
}

func AccountNotFound(accountID string) error {
	err := goerrors.New("ledger account not found: "+accountID, goerrors.CategoryNotFound).
		WithTextCode(TextCodeAccountNotFound)
	err.WithMetadata(map[string]any{"account_id": accountID})
	return err
}

// HasTextCode reports whether err, or an error it wraps, carries textCode.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}
