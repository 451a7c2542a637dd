package cmd

import (
	"errors"
	"fmt"
)

// SilentExitError signals an exit code without printing anything.
// Scripting-oriented commands use it when the outcome is already on
// stdout (or intentionally absent) and only the code matters.
type SilentExitError struct {
	Code int
}

func (e *SilentExitError) Error() string {
	return fmt.Sprintf("silent exit with code %d", e.Code)
}

// NewSilentExit returns an error that makes Execute exit with code
// without printing a message.
func NewSilentExit(code int) error {
	return &SilentExitError{Code: code}
}

// IsSilentExit reports whether err carries a silent exit code.
func IsSilentExit(err error) (int, bool) {
	var silent *SilentExitError
	if errors.As(err, &silent) {
		return silent.Code, true
	}
	return 0, false
}
