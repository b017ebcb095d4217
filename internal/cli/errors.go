package cli

import (
	"errors"
	"fmt"

	refinementrepo "refinery/internal/gateway/repository/refinement"
	"refinery/internal/gateway/service/refinement"
	"refinery/internal/types"
)

// CLIError wraps domain errors with user-facing messages and actionable hints.
type CLIError struct {
	Message  string
	Hint     string
	Err      error
	ExitCode int
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a CLIError with a default exit code of 1.
func NewCLIError(msg, hint string, err error) *CLIError {
	return &CLIError{
		Message:  msg,
		Hint:     hint,
		Err:      err,
		ExitCode: 1,
	}
}

// MapError converts refinement failures into CLIErrors. The message is the
// same one the web surfaces show; the hint names the failing kind.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return err
	}

	msg := refinement.UserMessage(err)
	switch {
	case errors.Is(err, types.ErrEmptyInput):
		e := NewCLIError(msg, "Pass the text as an argument, with -f <file>, or on stdin", err)
		e.ExitCode = 2
		return e
	case errors.Is(err, refinementrepo.ErrNotFound):
		return NewCLIError("input not found", "Run 'refinectl history' to list stored inputs", err)
	case errors.Is(err, types.ErrPersistence):
		return NewCLIError(msg, "Check DATABASE_URL or the S3 settings (kind: "+types.KindPersistence+")", err)
	case errors.Is(err, types.ErrOracleTransport):
		return NewCLIError(msg, "Check LLM_PROVIDER, LLM_API_KEY and network access (kind: "+types.KindOracleTransport+")", err)
	case errors.Is(err, types.ErrMalformedOracleResponse),
		errors.Is(err, types.ErrSchemaMismatch),
		errors.Is(err, types.ErrDanglingReference):
		return NewCLIError(msg, "The model answer was rejected (kind: "+types.KindOf(err)+"); run again", err)
	}
	return err
}

// ExitCode reports the process exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) && cliErr.ExitCode > 0 {
		return cliErr.ExitCode
	}
	return 1
}
