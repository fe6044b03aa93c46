// Package lexer turns source text into the normalized token stream the parse
// engine consumes.
package lexer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zurustar/phpstack/pkg/compiler/token"
)

// kind is the raw category a pattern matches before normalization.
type kind int

const (
	kindOpen kind = iota
	kindClose
	kindComment
	kindKeyword
	kindVar
	kindIdent
	kindNumber
	kindRelational
	kindArithmetic
	kindAssign
	kindDelimiter
	kindSpace
)

type pattern struct {
	kind kind
	re   *regexp.Regexp
}

// Patterns are tried in order; the first match wins.
var patterns = []pattern{
	{kindOpen, regexp.MustCompile(`^<\?php\b`)},
	{kindClose, regexp.MustCompile(`^\?>`)},
	{kindComment, regexp.MustCompile(`^//[^\n]*|^/\*[\s\S]*?\*/`)},
	{kindKeyword, regexp.MustCompile(`^(function|if|else|while|echo|floatval|readline|PHP_EOL)\b`)},
	{kindVar, regexp.MustCompile(`^\$[a-zA-Z_]\w*`)},
	{kindIdent, regexp.MustCompile(`^[a-zA-Z_]\w*`)},
	{kindNumber, regexp.MustCompile(`^\d+(\.\d+)?\b`)},
	{kindRelational, regexp.MustCompile(`^(==|!=|>=|<=|>|<)`)},
	{kindArithmetic, regexp.MustCompile(`^(\+|-|\*|/)`)},
	{kindAssign, regexp.MustCompile(`^=`)},
	{kindDelimiter, regexp.MustCompile(`^(\(|\)|\{|\}|,|;|\.)`)},
	{kindSpace, regexp.MustCompile(`^\s+`)},
}

var delimiters = map[string]token.TokenType{
	"(": token.LPAREN,
	")": token.RPAREN,
	"{": token.LBRACE,
	"}": token.RBRACE,
	",": token.COMMA,
	";": token.SEMI,
	".": token.DOT,
}

var arithmetic = map[string]token.TokenType{
	"+": token.PLUS,
	"-": token.MINUS,
	"*": token.STAR,
	"/": token.SLASH,
}

var relational = map[string]token.TokenType{
	"==": token.EQ,
	"!=": token.NE,
	">=": token.GE,
	"<=": token.LE,
	">":  token.GT,
	"<":  token.LT,
}

// Error reports a character no pattern accepts.
type Error struct {
	Char   string
	Line   int
	Column int
}

func (e *Error) Error() string {
	return fmt.Sprintf("lexical error at %d:%d: unexpected '%s'", e.Line, e.Column, e.Char)
}

// Tokenize splits input into tokens. Whitespace and comments are dropped and
// a trailing EOF token is always appended.
func Tokenize(input string) ([]token.Token, error) {
	var tokens []token.Token
	pos, line, col := 0, 1, 1

	for pos < len(input) {
		rest := input[pos:]
		matched := false

		for _, p := range patterns {
			value := p.re.FindString(rest)
			if value == "" {
				continue
			}
			matched = true

			startLine, startCol := line, col
			if n := strings.Count(value, "\n"); n > 0 {
				line += n
				col = len(value) - strings.LastIndex(value, "\n")
			} else {
				col += len(value)
			}
			pos += len(value)

			if p.kind != kindSpace && p.kind != kindComment {
				tokens = append(tokens, token.Token{
					Type:  normalize(p.kind, value),
					Value: value,
					Line:  startLine,
					Col:   startCol,
				})
			}
			break
		}

		if !matched {
			r := []rune(rest)
			return nil, &Error{Char: string(r[0]), Line: line, Column: col}
		}
	}

	tokens = append(tokens, token.Token{Type: token.EOF, Line: line, Col: col})
	return tokens, nil
}

// normalize maps a raw match to the terminal name used by the grammar.
func normalize(k kind, value string) token.TokenType {
	switch k {
	case kindOpen:
		return token.PHP_OPEN
	case kindClose:
		return token.PHP_CLOSE
	case kindKeyword:
		return token.LookupKeyword(value)
	case kindVar:
		return token.DOLLAR_IDENT
	case kindIdent:
		return token.IDENT
	case kindNumber:
		return token.NUM_REAL
	case kindRelational:
		return relational[value]
	case kindArithmetic:
		return arithmetic[value]
	case kindAssign:
		return token.ASSIGN
	case kindDelimiter:
		return delimiters[value]
	}
	return token.TokenType(value)
}
