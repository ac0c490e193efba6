package actions

import (
	"errors"
	"fmt"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// ErrorCode categorizes action failures.
type ErrorCode string

const (
	ErrCodeSeed         ErrorCode = "SEED_FAILED"
	ErrCodeMigrate      ErrorCode = "MIGRATION_FAILED"
	ErrCodeSchemaSwitch ErrorCode = "SCHEMA_SWITCH_FAILED"
	ErrCodeDrain        ErrorCode = "DRAIN_FAILED"
	ErrCodeSignOut      ErrorCode = "SIGN_OUT_FAILED"
)

// ActionError is the failure of one side effect. Its message becomes the
// reason carried by the resulting Failure event.
type ActionError struct {
	Code   ErrorCode
	State  lifecycle.Kind
	UserID string
	Err    error
}

func (e *ActionError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("%s: %v (state=%s, user=%s)", e.Code, e.Err, e.State, e.UserID)
	}
	return fmt.Sprintf("%s: %v (state=%s)", e.Code, e.Err, e.State)
}

func (e *ActionError) Unwrap() error { return e.Err }

// IsActionError reports whether err wraps an ActionError with code.
func IsActionError(err error, code ErrorCode) bool {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
