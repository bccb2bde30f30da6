package cmd

import (
	"errors"

	"github.com/AlfredBerg/rod-capture/internal/export"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitUsage      = 2
	ExitNavigation = 3
	ExitSelector   = 4
	ExitWrite      = 5
)

// usageError marks bad flags, arguments or configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		nav   *export.NavigationError
		sel   *export.SelectorTimeoutError
		write *export.ExportWriteError
		usage usageError
	)
	switch {
	case errors.As(err, &usage), errors.Is(err, export.ErrInvalidJob):
		return ExitUsage
	case errors.As(err, &nav):
		return ExitNavigation
	case errors.As(err, &sel):
		return ExitSelector
	case errors.As(err, &write):
		return ExitWrite
	default:
		return ExitError
	}
}
