package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/roach88/subtrackr/internal/catalog"
	"github.com/roach88/subtrackr/internal/engine"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/schedule"
	"github.com/roach88/subtrackr/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (sync unavailable, scenarios failed, etc.)
	ExitCommandError = 2 // Command error (bad input, unknown id, bad config, etc.)
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric         = "E000"
	ErrCodeInvalidInput    = "E001"
	ErrCodeNotFound        = "E002"
	ErrCodeAlreadyExists   = "E003"
	ErrCodeStorage         = "E004"
	ErrCodeSyncUnavailable = "E005"
	ErrCodeSync            = "E006"
	ErrCodeConfig          = "E007"
	ErrCodeCatalog         = "E008"
	ErrCodeScenarioFailed  = "E009"
)

// ErrInvalidInput marks bad flag values and arguments.
var ErrInvalidInput = errors.New("invalid input")

// errConfig marks failures to load or apply settings.
var errConfig = errors.New("config")

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error was written through an OutputFormatter,
	// so main does not print it a second time.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already written to the user.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// Classify maps an error to its JSON error code and exit code.
func Classify(err error) (string, int) {
	var catErr *catalog.Error
	switch {
	case errors.As(err, &catErr):
		return ErrCodeCatalog, ExitCommandError
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, record.ErrInvalidRecord),
		errors.Is(err, schedule.ErrInvalidCycle),
		errors.Is(err, money.ErrUnknownCurrency):
		return ErrCodeInvalidInput, ExitCommandError
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound, ExitCommandError
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrCodeAlreadyExists, ExitCommandError
	case errors.Is(err, errConfig):
		return ErrCodeConfig, ExitCommandError
	case engine.IsUnavailable(err):
		return ErrCodeSyncUnavailable, ExitFailure
	case errors.As(err, new(*engine.SyncError)):
		return ErrCodeSync, ExitFailure
	case errors.Is(err, store.ErrStorageUnavailable):
		return ErrCodeStorage, ExitFailure
	}
	return ErrCodeGeneric, ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// IsJSON reports whether output is JSON.
func (f *OutputFormatter) IsJSON() bool { return f.Format == "json" }

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.IsJSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Result writes data as JSON, or calls textFn in text mode.
func (f *OutputFormatter) Result(data any, textFn func(w io.Writer)) error {
	if f.IsJSON() {
		return f.Success(data)
	}
	textFn(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.IsJSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.GetErrWriter(), "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(err error) error {
	code, exit := Classify(err)
	var details any
	var catErr *catalog.Error
	if errors.As(err, &catErr) && catErr.Key != "" {
		details = map[string]string{"key": catErr.Key}
	}
	if werr := f.Error(code, err.Error(), details); werr != nil {
		return werr
	}
	return &ExitError{Code: exit, Message: code, Err: err, Reported: true}
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// newTable returns a table writer mirrored to w. rightCols are 1-based
// column numbers to right-align.
func newTable(w io.Writer, header table.Row, rightCols ...int) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault

	cfgs := make([]table.ColumnConfig, 0, len(rightCols))
	for _, n := range rightCols {
		cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	t.SetColumnConfigs(cfgs)
	return t
}

// formatMoney renders m as "9.99 USD".
func formatMoney(m money.Money) string {
	return m.StringFixed() + " " + m.Currency()
}
