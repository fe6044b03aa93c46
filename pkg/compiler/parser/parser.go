// Package parser implements the table-driven LR parse engine. It knows
// nothing about the language: the grammar arrives as a grammar.Table and
// every reduction is handed to caller-supplied Hooks, which build whatever
// tree they like.
package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zurustar/phpstack/pkg/compiler/grammar"
	"github.com/zurustar/phpstack/pkg/compiler/token"
	"github.com/zurustar/phpstack/pkg/logger"
)

// Symbol is one entry of the symbol stack. Terminals carry the shifted
// token; nonterminals carry the value their reduction hook returned.
type Symbol struct {
	Name  string
	Token token.Token
	Value any
}

// IsTerminal reports whether the symbol was shifted rather than reduced.
func (s Symbol) IsTerminal() bool {
	return s.Token.Type != ""
}

// Placeholder stands in for a nonterminal whose hook returned nil.
type Placeholder struct {
	Name string
}

// Hooks receives parse events. OnReduce is called once per reduction with
// the popped right-hand side in source order; its return value becomes the
// value of the new nonterminal.
type Hooks interface {
	OnReduce(ruleID int, rule grammar.Rule, rhs []Symbol) (any, error)
	OnAccept(result Symbol) error
}

// Shifter is implemented by hooks that also want to see every shift.
type Shifter interface {
	OnShift(tok token.Token)
}

// SyntaxError is returned when the table has no action for the lookahead.
type SyntaxError struct {
	State    int
	Token    token.Token
	Expected []string
}

func (e *SyntaxError) Error() string {
	msg := fmt.Sprintf("syntax error at line %d, column %d: unexpected %s", e.Token.Line, e.Token.Col, e.Token.Label())
	if len(e.Expected) > 0 {
		msg += "; expected one of: " + strings.Join(e.Expected, ", ")
	}
	return msg
}

// TableError reports an inconsistent grammar table: an undefined rule, a
// missing goto entry or an unknown action type.
type TableError struct {
	State   int
	Message string
}

func (e *TableError) Error() string {
	return fmt.Sprintf("grammar table error in state %d: %s", e.State, e.Message)
}

// Option configures a parse run.
type Option func(*engine)

// WithLogger sets the logger used for shift/reduce tracing.
func WithLogger(log *slog.Logger) Option {
	return func(e *engine) {
		e.log = log
	}
}

type engine struct {
	table  *grammar.Table
	hooks  Hooks
	tokens []token.Token
	pos    int
	log    *slog.Logger

	states  []int
	symbols []Symbol
}

// Parse runs the LR loop over tokens. A synthetic EOF token is supplied
// once the slice is exhausted, so callers may pass tokens with or without
// a trailing EOF. hooks may be nil, in which case every nonterminal is a
// Placeholder.
func Parse(tokens []token.Token, table *grammar.Table, hooks Hooks, opts ...Option) (Symbol, error) {
	if table == nil {
		return Symbol{}, &TableError{Message: "no grammar table"}
	}
	e := &engine{
		table:  table,
		hooks:  hooks,
		tokens: tokens,
		log:    logger.GetLogger(),
		states: []int{0},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e.run()
}

func (e *engine) lookahead() token.Token {
	if e.pos < len(e.tokens) {
		return e.tokens[e.pos]
	}
	eof := token.Token{Type: token.EOF}
	if n := len(e.tokens); n > 0 {
		eof.Line = e.tokens[n-1].Line
		eof.Col = e.tokens[n-1].Col
	}
	return eof
}

func (e *engine) run() (Symbol, error) {
	for {
		state := e.states[len(e.states)-1]
		tok := e.lookahead()

		act, ok := e.table.Lookup(state, string(tok.Type))
		if !ok {
			return Symbol{}, &SyntaxError{State: state, Token: tok, Expected: e.table.Expected(state)}
		}

		switch act.Type {
		case grammar.Shift:
			e.log.Debug("shift", "state", state, "token", tok.Label(), "to", act.To)
			e.states = append(e.states, act.To)
			e.symbols = append(e.symbols, Symbol{Name: string(tok.Type), Token: tok})
			if s, ok := e.hooks.(Shifter); ok {
				s.OnShift(tok)
			}
			e.pos++

		case grammar.Reduce:
			if err := e.reduce(state, act.Rule); err != nil {
				return Symbol{}, err
			}

		case grammar.Accept:
			return e.accept()

		default:
			return Symbol{}, &TableError{State: state, Message: fmt.Sprintf("unknown action type %q", act.Type)}
		}
	}
}

func (e *engine) reduce(state, ruleID int) error {
	rule, ok := e.table.RuleAt(ruleID)
	if !ok {
		return &TableError{State: state, Message: fmt.Sprintf("undefined rule %d", ruleID)}
	}
	n := rule.RHSLen
	if n > len(e.symbols) {
		return &TableError{State: state, Message: fmt.Sprintf("rule %d pops %d symbols from a stack of %d", ruleID, n, len(e.symbols))}
	}

	rhs := make([]Symbol, n)
	copy(rhs, e.symbols[len(e.symbols)-n:])
	e.symbols = e.symbols[:len(e.symbols)-n]
	e.states = e.states[:len(e.states)-n]

	top := e.states[len(e.states)-1]
	next, ok := e.table.GotoState(top, rule.LHS)
	if !ok {
		return &TableError{State: top, Message: fmt.Sprintf("no goto for %s", rule.LHS)}
	}

	var value any
	if e.hooks != nil {
		v, err := e.hooks.OnReduce(ruleID, rule, rhs)
		if err != nil {
			return fmt.Errorf("reducing %s: %w", rule.Signature(), err)
		}
		value = v
	}
	if value == nil {
		value = Placeholder{Name: rule.LHS}
	}

	e.log.Debug("reduce", "state", state, "rule", ruleID, "signature", rule.Signature(), "goto", next)
	e.states = append(e.states, next)
	e.symbols = append(e.symbols, Symbol{Name: rule.LHS, Value: value})
	return nil
}

func (e *engine) accept() (Symbol, error) {
	syms := e.symbols
	if n := len(syms); n > 0 && syms[n-1].Name == grammar.EndSymbol {
		syms = syms[:n-1]
	}
	if len(syms) == 0 {
		return Symbol{}, &TableError{State: e.states[len(e.states)-1], Message: "accept with empty symbol stack"}
	}
	result := syms[len(syms)-1]
	e.log.Debug("accept", "symbol", result.Name)
	if e.hooks != nil {
		if err := e.hooks.OnAccept(result); err != nil {
			return Symbol{}, err
		}
	}
	return result, nil
}
