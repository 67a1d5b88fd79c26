package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrTimeout marks a run whose gather deadline passed before any branch
// reported an outcome. The caller may retry; the run still answers,
// just without context.
var ErrTimeout = errors.New("gather timed out before any context arrived")

// BranchError records one degraded branch. Branch failures never abort
// a run; they surface in the result's aggregate error field.
type BranchError struct {
	Branch string
	Err    error
}

func (e *BranchError) Error() string { return fmt.Sprintf("%s: %v", e.Branch, e.Err) }

func (e *BranchError) Unwrap() error { return e.Err }

// compactErrors renders the aggregate error field as a single line,
// entries joined by semicolons, empty when nothing degraded.
func compactErrors(merr *multierror.Error) string {
	if merr == nil || len(merr.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(merr.Errors))
	for _, err := range merr.Errors {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
