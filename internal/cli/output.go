package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/schema"
	"github.com/roach88/netstat/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Storage failure or failed scenarios
	ExitCommandError = 2 // Command error (bad request, unusable database, etc.)
)

// Error codes reported in CLIError.Code.
const (
	CodeInternal           = "E000"
	CodeValidation         = "E001"
	CodeUnsupportedAddress = "E002"
	CodeStorage            = "E003"
	CodeSchema             = "E004"
	CodeReadOnly           = "E005"
	CodeScenario           = "E006"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already printed its own error
	// response; Report then prints nothing.
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
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// storeError wraps an error returned by a store call. Rejected requests exit
// with ExitCommandError, storage failures with ExitFailure.
func storeError(op string, err error) error {
	switch {
	case store.IsValidation(err), store.IsUnsupportedAddress(err), errors.Is(err, store.ErrReadOnly):
		return WrapExitError(ExitCommandError, op+" rejected", err)
	default:
		return WrapExitError(ExitFailure, op+" failed", err)
	}
}

// ErrorCode classifies err for CLIError.Code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrReadOnly):
		return CodeReadOnly
	case store.IsUnsupportedAddress(err):
		return CodeUnsupportedAddress
	case store.IsValidation(err):
		return CodeValidation
	case schema.IsSchemaError(err):
		return CodeSchema
	case store.IsStorage(err):
		return CodeStorage
	default:
		return CodeInternal
	}
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

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	return f.Render(data, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, data)
		return err
	})
}

// Render outputs data as a JSON response, or calls text in text mode.
func (f *OutputFormatter) Render(data any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	return text(f.Writer)
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
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
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Table writes rows as aligned text columns with a header line.
func (f *OutputFormatter) Table(columns []string, rows []contract.Values) error {
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = formatValue(row[col])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// formatValue renders a column value for text output. Text is composed to
// NFC for display only, so combining marks do not throw off column widths.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return norm.NFC.String(v)
	default:
		return fmt.Sprint(v)
	}
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

// Report prints err as returned by Execute on root. JSON output goes to
// stdout as a CLIResponse; text goes to stderr.
func Report(root *cobra.Command, err error) {
	format, _ := root.PersistentFlags().GetString("format")
	verbose, _ := root.PersistentFlags().GetBool("verbose")

	f := &OutputFormatter{Format: format, Writer: root.ErrOrStderr(), Verbose: verbose}
	if format == "json" {
		f.Writer = root.OutOrStdout()
	}
	var details any
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Reported {
			return
		}
		if exitErr.Err != nil {
			details = exitErr.Err.Error()
		}
	}
	_ = f.Error(ErrorCode(err), err.Error(), details)
}
