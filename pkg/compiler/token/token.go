// Package token defines the terminal symbols shared by the lexer, the grammar
// tables and the parse engine.
package token

import "fmt"

// TokenType is the terminal name of a token. It is the key the parse engine
// uses to look up actions, so it must match the terminal names of the grammar.
type TokenType string

// Token is a single lexical unit.
type Token struct {
	Type  TokenType
	Value string
	Line  int
	Col   int
}

const (
	EOF TokenType = "EOF"

	PHP_OPEN  TokenType = "PHP_OPEN"  // <?php
	PHP_CLOSE TokenType = "PHP_CLOSE" // ?>

	// Identifiers + Literals
	DOLLAR_IDENT TokenType = "DOLLAR_IDENT" // $x
	IDENT        TokenType = "IDENT"        // soma
	NUM_REAL     TokenType = "NUM_REAL"     // 3.14

	// Operators
	ASSIGN TokenType = "ASSIGN"
	PLUS   TokenType = "PLUS"
	MINUS  TokenType = "MINUS"
	STAR   TokenType = "STAR"
	SLASH  TokenType = "SLASH"

	EQ TokenType = "EQ"
	NE TokenType = "NE"
	GE TokenType = "GE"
	LE TokenType = "LE"
	GT TokenType = "GT"
	LT TokenType = "LT"

	// Delimiters
	LPAREN TokenType = "LPAREN"
	RPAREN TokenType = "RPAREN"
	LBRACE TokenType = "LBRACE"
	RBRACE TokenType = "RBRACE"
	COMMA  TokenType = "COMMA"
	SEMI   TokenType = "SEMI"
	DOT    TokenType = "DOT"

	// Keywords
	FUNCTION TokenType = "FUNCTION"
	IF       TokenType = "IF"
	ELSE     TokenType = "ELSE"
	WHILE    TokenType = "WHILE"
	ECHO     TokenType = "ECHO"
	FLOATVAL TokenType = "FLOATVAL"
	READLINE TokenType = "READLINE"
	PHP_EOL  TokenType = "PHP_EOL"
)

var keywords = map[string]TokenType{
	"function": FUNCTION,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"echo":     ECHO,
	"floatval": FLOATVAL,
	"readline": READLINE,
	"PHP_EOL":  PHP_EOL,
}

// LookupKeyword returns the keyword type for word, or IDENT.
func LookupKeyword(word string) TokenType {
	if tt, ok := keywords[word]; ok {
		return tt
	}
	return IDENT
}

// Label formats a token for diagnostics, e.g. `DOLLAR_IDENT('$x') @3:5`.
func (t Token) Label() string {
	if t.Value != "" {
		return fmt.Sprintf("%s('%s') @%d:%d", t.Type, t.Value, t.Line, t.Col)
	}
	return fmt.Sprintf("%s @%d:%d", t.Type, t.Line, t.Col)
}

// String implements fmt.Stringer.
func (t Token) String() string {
	return t.Label()
}
