package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// CompileError represents a structured compilation error with location information.
// Lexer and parser errors carry a position and a source excerpt; codegen
// errors only a message.
type CompileError struct {
	// Phase indicates which compilation phase generated the error.
	// Valid values: "lexer", "parser", "codegen"
	Phase string

	// Message is the human-readable error description.
	Message string

	// Line is the 1-indexed line number where the error occurred.
	Line int

	// Column is the 1-indexed column number where the error occurred.
	Column int

	// Context contains the source code around the error location.
	// This includes 2 lines before and after the error line,
	// with a pointer (^) indicating the error column.
	Context string

	// Err is the phase's own error value.
	Err error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s error: %s", e.Phase, e.Message)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s error at line %d, column %d: %s\n%s",
			e.Phase, e.Line, e.Column, e.Message, e.Context)
	}
	return fmt.Sprintf("%s error at line %d, column %d: %s",
		e.Phase, e.Line, e.Column, e.Message)
}

// Unwrap returns the phase error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// NewLexerErrorWithContext creates a CompileError for lexer phase errors with source context.
func NewLexerErrorWithContext(message string, line, column int, source string) *CompileError {
	return &CompileError{
		Phase:   "lexer",
		Message: message,
		Line:    line,
		Column:  column,
		Context: GenerateErrorContext(source, line, column),
	}
}

// NewParserErrorWithContext creates a CompileError for parser phase errors with source context.
func NewParserErrorWithContext(message string, line, column int, source string) *CompileError {
	return &CompileError{
		Phase:   "parser",
		Message: message,
		Line:    line,
		Column:  column,
		Context: GenerateErrorContext(source, line, column),
	}
}

// IsCompileError reports whether err is or wraps a *CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// GenerateErrorContext generates source code context around an error location.
// It includes 2 lines before and 2 lines after the error line, with line numbers
// and a pointer (^) indicating the error column.
//
// Example output:
//
//	  2 | $x = 5;
//	  3 | $y = 10;
//	> 4 | $z = ;
//	           ^
//	  5 | echo $x.PHP_EOL;
//	  6 | ?>
func GenerateErrorContext(source string, line, column int) string {
	if source == "" || line <= 0 {
		return ""
	}

	lines := strings.Split(source, "\n")
	if line > len(lines) {
		return ""
	}

	start := max(line-3, 0)
	end := min(line+2, len(lines))

	var buf strings.Builder
	lineNumWidth := len(fmt.Sprintf("%d", end))

	for i := start; i < end; i++ {
		lineNum := i + 1
		lineContent := strings.TrimRight(lines[i], "\r")

		if lineNum != line {
			fmt.Fprintf(&buf, "  %*d | %s\n", lineNumWidth, lineNum, lineContent)
			continue
		}

		// Error line - mark with >, then the pointer under the column
		fmt.Fprintf(&buf, "> %*d | %s\n", lineNumWidth, lineNum, lineContent)
		pointerIndent := 2 + lineNumWidth + 3 // "> " + lineNumWidth + " | "
		fmt.Fprintf(&buf, "%s^\n", strings.Repeat(" ", pointerIndent+max(column-1, 0)))
	}

	return buf.String()
}
