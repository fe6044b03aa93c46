package grammar

import (
	"fmt"
	"strings"
	"unicode"
)

// Production is one alternative of a nonterminal. An empty RHS derives ε.
type Production struct {
	LHS string
	RHS []string
}

// Grammar is a context-free grammar. Productions keep their file order; the
// builder numbers them from 1, rule 0 being the augmented start rule.
type Grammar struct {
	Start       string
	Productions []Production
}

// Nonterminals returns the distinct left-hand sides in order of first use.
func (g *Grammar) Nonterminals() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range g.Productions {
		if !seen[p.LHS] {
			seen[p.LHS] = true
			names = append(names, p.LHS)
		}
	}
	return names
}

// SyntaxError reports a malformed grammar file.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("grammar line %d: %s", e.Line, e.Message)
}

type gtoken struct {
	text string
	line int
}

// ParseGrammar reads yacc-like rules:
//
//	%start programa
//	lista_dc
//	    : %empty
//	    | lista_dc declaracao
//	    ;
//
// `//` and `/* */` comments are ignored. Without %start the first rule's
// left-hand side is the start symbol.
func ParseGrammar(src string) (*Grammar, error) {
	toks, err := scanGrammar(src)
	if err != nil {
		return nil, err
	}

	g := &Grammar{}
	for i := 0; i < len(toks); {
		tok := toks[i]
		if tok.text == "%start" {
			if i+1 >= len(toks) || !isSymbol(toks[i+1].text) {
				return nil, &SyntaxError{Line: tok.line, Message: "%start needs a symbol"}
			}
			g.Start = toks[i+1].text
			i += 2
			continue
		}

		if !isSymbol(tok.text) {
			return nil, &SyntaxError{Line: tok.line, Message: fmt.Sprintf("expected rule name, got %q", tok.text)}
		}
		lhs := tok.text
		i++
		if i >= len(toks) || toks[i].text != ":" {
			return nil, &SyntaxError{Line: tok.line, Message: fmt.Sprintf("expected ':' after %s", lhs)}
		}
		i++

		rhs := []string{}
		for {
			if i >= len(toks) {
				return nil, &SyntaxError{Line: tok.line, Message: fmt.Sprintf("rule %s is not terminated by ';'", lhs)}
			}
			t := toks[i]
			i++
			switch {
			case t.text == "|" || t.text == ";":
				g.Productions = append(g.Productions, Production{LHS: lhs, RHS: rhs})
				rhs = []string{}
			case t.text == "%empty":
			case isSymbol(t.text):
				rhs = append(rhs, t.text)
			default:
				return nil, &SyntaxError{Line: t.line, Message: fmt.Sprintf("unexpected %q in rule %s", t.text, lhs)}
			}
			if t.text == ";" {
				break
			}
		}
	}

	if len(g.Productions) == 0 {
		return nil, &SyntaxError{Line: 1, Message: "no rules"}
	}
	if g.Start == "" {
		g.Start = g.Productions[0].LHS
	}
	return g, nil
}

func isSymbol(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func scanGrammar(src string) ([]gtoken, error) {
	var toks []gtoken
	line := 1

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &SyntaxError{Line: line, Message: "unterminated comment"}
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
		case c == ':' || c == '|' || c == ';':
			toks = append(toks, gtoken{text: string(c), line: line})
			i++
		default:
			start := i
			for i < len(src) && !strings.ContainsRune(" \t\r\n:|;", rune(src[i])) {
				i++
			}
			toks = append(toks, gtoken{text: src[start:i], line: line})
		}
	}
	return toks, nil
}
