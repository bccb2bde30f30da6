package export

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidJob        = errors.New("invalid export job")
	ErrUnsupportedLayout = errors.New("unsupported format/layout combination")
	ErrOutputDir         = errors.New("output directory does not exist")
)

// NavigationError means the target was unreachable or the page did not
// settle before the engine's navigation timeout.
type NavigationError struct {
	Target string
	Err    error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigating to %s: %v", e.Target, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// SelectorTimeoutError means the awaited element never appeared.
type SelectorTimeoutError struct {
	Target   string
	Selector string
	Err      error
}

func (e *SelectorTimeoutError) Error() string {
	return fmt.Sprintf("waiting for %q on %s: %v", e.Selector, e.Target, e.Err)
}

func (e *SelectorTimeoutError) Unwrap() error { return e.Err }

// ExportWriteError means the artifact could not be rendered or written to Path.
type ExportWriteError struct {
	Path string
	Err  error
}

func (e *ExportWriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *ExportWriteError) Unwrap() error { return e.Err }
