package compiler

import (
	"errors"
	"strings"
	"testing"
)

// TestCompileError_Error tests the Error() method of CompileError.
func TestCompileError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CompileError
		contains []string
	}{
		{
			name: "lexer error without context",
			err: &CompileError{
				Phase:   "lexer",
				Message: "illegal character '@'",
				Line:    5,
				Column:  10,
			},
			contains: []string{"lexer error", "line 5", "column 10", "illegal character '@'"},
		},
		{
			name: "parser error without context",
			err: &CompileError{
				Phase:   "parser",
				Message: "unexpected RBRACE; expected one of: [SEMI]",
				Line:    12,
				Column:  25,
			},
			contains: []string{"parser error", "line 12", "column 25", "unexpected RBRACE"},
		},
		{
			name: "codegen error without position",
			err: &CompileError{
				Phase:   "codegen",
				Message: "undeclared variable: $x",
			},
			contains: []string{"codegen error: undeclared variable: $x"},
		},
		{
			name: "error with context",
			err: &CompileError{
				Phase:   "parser",
				Message: "unexpected token",
				Line:    3,
				Column:  5,
				Context: "> 3 | $x = ;\n      ^",
			},
			contains: []string{"parser error", "line 3", "column 5", "unexpected token", "> 3 |"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("Error() = %q, want to contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestGenerateErrorContext(t *testing.T) {
	source := `$a = 1;
$b = 2;
$c = 3;
$d = ;
$e = 5;
$f = 6;
$g = 7;`

	tests := []struct {
		name        string
		source      string
		line        int
		column      int
		contains    []string
		notContains []string
	}{
		{
			name:   "error in middle of file",
			source: source,
			line:   4,
			column: 6,
			contains: []string{
				"2 |", "$b = 2;",
				"3 |", "$c = 3;",
				"> 4 |", "$d = ;",
				"^",
				"5 |", "$e = 5;",
				"6 |", "$f = 6;",
			},
			notContains: []string{"1 |", "7 |"},
		},
		{
			name:     "error at beginning of file",
			source:   source,
			line:     1,
			column:   5,
			contains: []string{"> 1 |", "$a = 1;", "^", "2 |", "3 |"},
			notContains: []string{
				"4 |",
			},
		},
		{
			name:        "error at end of file",
			source:      source,
			line:        7,
			column:      5,
			contains:    []string{"5 |", "6 |", "> 7 |", "$g = 7;", "^"},
			notContains: []string{"4 |"},
		},
		{name: "empty source", source: "", line: 1, column: 1},
		{name: "invalid line number", source: source, line: 0, column: 1},
		{name: "line number exceeds source", source: source, line: 100, column: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			context := GenerateErrorContext(tt.source, tt.line, tt.column)

			if len(tt.contains) == 0 && context != "" {
				t.Errorf("GenerateErrorContext() = %q, want empty", context)
			}
			for _, substr := range tt.contains {
				if !strings.Contains(context, substr) {
					t.Errorf("GenerateErrorContext() = %q, want to contain %q", context, substr)
				}
			}
			for _, substr := range tt.notContains {
				if strings.Contains(context, substr) {
					t.Errorf("GenerateErrorContext() = %q, should not contain %q", context, substr)
				}
			}
		})
	}
}

// TestGenerateErrorContext_PointerPosition checks that '^' sits under the
// reported column.
func TestGenerateErrorContext_PointerPosition(t *testing.T) {
	source := "$x = 5 @ 3;"

	for _, column := range []int{1, 5, 8, 11} {
		context := GenerateErrorContext(source, 1, column)
		lines := strings.Split(strings.TrimRight(context, "\n"), "\n")
		if len(lines) != 2 {
			t.Fatalf("column %d: context = %q, want 2 lines", column, context)
		}

		prefix := strings.Index(lines[0], "| ") + 2
		want := prefix + column - 1
		if got := strings.Index(lines[1], "^"); got != want {
			t.Errorf("column %d: pointer at %d, want %d\n%s", column, got, want, context)
		}
		if strings.Contains(lines[1], "|") {
			t.Errorf("pointer line should not contain '|': %q", lines[1])
		}
	}
}

func TestNewParserErrorWithContext(t *testing.T) {
	source := "<?php\n$x = ;\n?>"
	err := NewParserErrorWithContext("unexpected SEMI", 2, 6, source)

	if err.Phase != "parser" {
		t.Errorf("Phase = %q, want %q", err.Phase, "parser")
	}
	if err.Line != 2 || err.Column != 6 {
		t.Errorf("position = %d:%d, want 2:6", err.Line, err.Column)
	}
	if !strings.Contains(err.Context, "> 2 | $x = ;") {
		t.Errorf("Context = %q", err.Context)
	}
}

func TestNewLexerErrorWithContext(t *testing.T) {
	source := "<?php\n$x = @;\n?>"
	err := NewLexerErrorWithContext("illegal character '@'", 2, 6, source)

	if err.Phase != "lexer" {
		t.Errorf("Phase = %q, want %q", err.Phase, "lexer")
	}
	if err.Context == "" {
		t.Error("Context should not be empty")
	}
}

func TestIsCompileError(t *testing.T) {
	ce := &CompileError{Phase: "parser", Message: "x", Line: 1, Column: 1}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"CompileError", ce, true},
		{"wrapped CompileError", errors.Join(errors.New("ctx"), ce), true},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCompileError(tt.err); got != tt.want {
				t.Errorf("IsCompileError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := &CompileError{Phase: "codegen", Message: "m", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the phase error")
	}
}
