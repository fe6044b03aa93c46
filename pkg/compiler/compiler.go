// Package compiler provides the compilation pipeline for PHP-subset programs.
// It transforms source code into stack-machine code through four phases:
// 1. Lexer: Tokenization
// 2. Parser: LR parse driven by the embedded grammar, building the AST
// 3. Semantic: scope and call checks
// 4. Codegen: instruction generation and fixups
//
// The language grammar lives in lang.y and is turned into an LALR(1) table
// the first time DefaultTable is called.
package compiler

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/zurustar/phpstack/pkg/compiler/ast"
	"github.com/zurustar/phpstack/pkg/compiler/codegen"
	"github.com/zurustar/phpstack/pkg/compiler/grammar"
	"github.com/zurustar/phpstack/pkg/compiler/lexer"
	"github.com/zurustar/phpstack/pkg/compiler/parser"
	"github.com/zurustar/phpstack/pkg/compiler/semantic"
	"github.com/zurustar/phpstack/pkg/fileutil"
	"github.com/zurustar/phpstack/pkg/logger"
	"github.com/zurustar/phpstack/pkg/opcode"
)

//go:embed lang.y
var langGrammar string

// conflictSymbol is the lookahead of the two known shift/reduce conflicts:
// a leading `$x = ...;` may start either a declaration or a command. The
// shift makes it a declaration.
const conflictSymbol = "DOLLAR_IDENT"

var (
	tableOnce    sync.Once
	defaultTable *grammar.Table
	defaultErr   error
)

// GrammarSource returns the embedded grammar text.
func GrammarSource() string {
	return langGrammar
}

// BuildTable builds a fresh table from the embedded grammar and reports
// every conflict the builder resolved.
func BuildTable() (*grammar.Table, []grammar.Conflict, error) {
	g, err := grammar.ParseGrammar(langGrammar)
	if err != nil {
		return nil, nil, fmt.Errorf("language grammar: %w", err)
	}
	return grammar.Build(g)
}

// DefaultTable returns the table of the embedded grammar, built once per
// process. Conflicts other than the known declaration/command ones are an
// error.
func DefaultTable() (*grammar.Table, error) {
	tableOnce.Do(func() {
		t, conflicts, err := BuildTable()
		if err != nil {
			defaultErr = err
			return
		}
		for _, c := range conflicts {
			if c.Kind != grammar.ShiftReduce || c.Symbol != conflictSymbol {
				defaultErr = fmt.Errorf("language grammar: unexpected %s", c)
				return
			}
		}
		logger.GetLogger().Debug("grammar table built", "states", t.StateCount(), "conflicts", len(conflicts))
		defaultTable = t
	})
	return defaultTable, defaultErr
}

// VartanName is the grammar name written into vartan compiled grammars.
const VartanName = "phpstack"

// DecodeVartanTable reads a vartan compiled grammar and pairs its parsing
// table with the rules of the embedded grammar.
func DecodeVartanTable(r io.Reader) (*grammar.Table, error) {
	t, err := DefaultTable()
	if err != nil {
		return nil, err
	}
	return grammar.DecodeVartan(r, t.Rules)
}

// Result is the output of a successful compilation.
type Result struct {
	Program   *ast.Program
	Code      opcode.Program
	Globals   map[string]int
	Functions map[string]int
}

// Text renders the generated code in the instruction file format.
func (r *Result) Text(comments bool) (string, error) {
	return opcode.Format(r.Code, comments)
}

type options struct {
	table    *grammar.Table
	comments bool
	log      *slog.Logger
}

// Option configures Compile and ParseSource.
type Option func(*options)

// WithTable parses with t instead of the embedded grammar's table.
func WithTable(t *grammar.Table) Option {
	return func(o *options) {
		o.table = t
	}
}

// WithComments keeps or drops instruction comments. Default true.
func WithComments(on bool) Option {
	return func(o *options) {
		o.comments = on
	}
}

// WithLogger sets the logger passed down to every phase.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func newOptions(opts []Option) *options {
	o := &options{comments: true, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ParseSource runs the lexer and the parser and returns the AST.
func ParseSource(source string, opts ...Option) (*ast.Program, []error) {
	return parseSource(source, newOptions(opts))
}

func parseSource(source string, o *options) (*ast.Program, []error) {
	// Phase 1: Lexical analysis
	tokens, err := lexer.Tokenize(source)
	if err != nil {
		var le *lexer.Error
		if errors.As(err, &le) {
			ce := NewLexerErrorWithContext(fmt.Sprintf("illegal character '%s'", le.Char), le.Line, le.Column, source)
			ce.Err = err
			return nil, []error{ce}
		}
		return nil, []error{err}
	}

	table := o.table
	if table == nil {
		if table, err = DefaultTable(); err != nil {
			return nil, []error{err}
		}
	}

	// Phase 2: Syntax analysis
	builder := ast.NewBuilder()
	if _, err := parser.Parse(tokens, table, builder, parser.WithLogger(o.log)); err != nil {
		var se *parser.SyntaxError
		if errors.As(err, &se) {
			ce := NewParserErrorWithContext(syntaxMessage(se), se.Token.Line, se.Token.Col, source)
			ce.Err = err
			return nil, []error{ce}
		}
		return nil, []error{err}
	}
	return builder.Program(), nil
}

func syntaxMessage(se *parser.SyntaxError) string {
	msg := fmt.Sprintf("unexpected %s", se.Token.Type)
	if se.Token.Value != "" {
		msg += fmt.Sprintf(" '%s'", se.Token.Value)
	}
	if len(se.Expected) > 0 {
		msg += fmt.Sprintf("; expected one of: %v", se.Expected)
	}
	return msg
}

// Compile compiles source code to stack-machine code.
// It chains the lexer → parser → semantic → codegen pipeline and stops at
// the first phase that reports errors.
func Compile(source string, opts ...Option) (*Result, []error) {
	o := newOptions(opts)

	program, errs := parseSource(source, o)
	if len(errs) > 0 {
		return nil, errs
	}

	// Phase 3: Semantic analysis
	if errs := semantic.Analyze(program); len(errs) > 0 {
		return nil, errs
	}

	// Phase 4: Code generation
	gen := codegen.New(codegen.WithComments(o.comments), codegen.WithLogger(o.log))
	out, err := gen.Generate(program)
	if err != nil {
		return nil, []error{&CompileError{Phase: "codegen", Message: err.Error(), Err: err}}
	}

	o.log.Debug("compiled", "instructions", len(out.Code), "globals", len(out.Globals), "functions", len(out.Functions))
	return &Result{
		Program:   program,
		Code:      out.Code,
		Globals:   out.Globals,
		Functions: out.Functions,
	}, nil
}

// CompileFile reads a source file and compiles it. Non-UTF-8 files are
// decoded as Windows-1252.
func CompileFile(path string, opts ...Option) (*Result, []error) {
	content, err := fileutil.ReadSource(path)
	if err != nil {
		return nil, []error{err}
	}

	res, errs := Compile(content, opts...)
	for i, e := range errs {
		errs[i] = fmt.Errorf("%s: %w", path, e)
	}
	return res, errs
}
