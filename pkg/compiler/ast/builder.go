package ast

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zurustar/phpstack/pkg/compiler/grammar"
	"github.com/zurustar/phpstack/pkg/compiler/parser"
)

// ErrUnknownRule is returned for a reduction the builder has no action for.
// It means the grammar table and the builder disagree.
var ErrUnknownRule = errors.New("no tree action for rule")

// ErrUnexpectedValue is returned when a right-hand side symbol does not hold
// the value its rule action expects.
var ErrUnexpectedValue = errors.New("unexpected symbol value")

// Builder implements parser.Hooks and assembles a Program. Rule actions
// never modify the values they are given.
type Builder struct {
	program *Program
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Program returns the tree built by the last accepted parse, or nil.
func (b *Builder) Program() *Program {
	return b.program
}

// OnReduce dispatches on the rule signature.
func (b *Builder) OnReduce(_ int, rule grammar.Rule, rhs []parser.Symbol) (v any, err error) {
	action, ok := actions[rule.Signature()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, rule.Signature())
	}
	defer func() {
		if r := recover(); r != nil {
			m, ok := r.(mismatch)
			if !ok {
				panic(r)
			}
			v, err = nil, fmt.Errorf("%w: %s in %s", ErrUnexpectedValue, m, rule.Signature())
		}
	}()
	return action(rhs), nil
}

// OnAccept records the finished Program.
func (b *Builder) OnAccept(result parser.Symbol) error {
	p, ok := result.Value.(*Program)
	if !ok {
		return fmt.Errorf("%w: accepted %s holds %T", ErrUnexpectedValue, result.Name, result.Value)
	}
	b.program = p
	return nil
}

type mismatch string

// val extracts the value of rhs[i] as T.
func val[T any](rhs []parser.Symbol, i int) T {
	v, ok := rhs[i].Value.(T)
	if !ok {
		var zero T
		panic(mismatch(fmt.Sprintf("%s holds %T, want %T", rhs[i].Name, rhs[i].Value, zero)))
	}
	return v
}

func text(rhs []parser.Symbol, i int) string {
	if !rhs[i].IsTerminal() {
		panic(mismatch(fmt.Sprintf("%s is not a token", rhs[i].Name)))
	}
	return rhs[i].Token.Value
}

func varName(raw string) string {
	return strings.TrimPrefix(raw, "$")
}

// opTail is one "op operand" link of a left-associative chain.
type opTail struct {
	op string
	x  Expr
}

// decls is the value of lista_dc.
type decls struct {
	vars  []*VarDecl
	funcs []*FuncDecl
}

func fold(left Expr, tail []opTail) Expr {
	for _, t := range tail {
		left = &Bin{Op: t.op, Left: left, Right: t.x}
	}
	return left
}

func constant(v any) func([]parser.Symbol) any {
	return func([]parser.Symbol) any { return v }
}

var opSymbols = map[string]string{
	"EQ": "==", "NE": "!=", "GE": ">=", "LE": "<=", "GT": ">", "LT": "<",
	"PLUS": "+", "MINUS": "-", "STAR": "*", "SLASH": "/",
}

func operator(rhs []parser.Symbol) any {
	return opSymbols[rhs[0].Name]
}

var actions map[string]func([]parser.Symbol) any

func init() {
	actions = map[string]func([]parser.Symbol) any{
		"programa: PHP_OPEN corpo PHP_CLOSE": func(rhs []parser.Symbol) any {
			return &Program{Body: val[*Body](rhs, 1)}
		},
		"corpo: lista_dc lista_comandos": func(rhs []parser.Symbol) any {
			d := val[*decls](rhs, 0)
			return &Body{Decls: d.vars, Funcs: d.funcs, Main: val[*Seq](rhs, 1)}
		},

		"lista_dc:": func([]parser.Symbol) any {
			return &decls{vars: []*VarDecl{}, funcs: []*FuncDecl{}}
		},
		"lista_dc: lista_dc declaracao": func(rhs []parser.Symbol) any {
			d := val[*decls](rhs, 0)
			next := &decls{vars: slices.Clone(d.vars), funcs: slices.Clone(d.funcs)}
			switch n := rhs[1].Value.(type) {
			case *VarDecl:
				next.vars = append(next.vars, n)
			case *FuncDecl:
				next.funcs = append(next.funcs, n)
			default:
				panic(mismatch(fmt.Sprintf("declaracao holds %T", n)))
			}
			return next
		},
		"declaracao: dc_v": func(rhs []parser.Symbol) any { return val[*VarDecl](rhs, 0) },
		"declaracao: dc_f": func(rhs []parser.Symbol) any { return val[*FuncDecl](rhs, 0) },

		"dc_v: DOLLAR_IDENT ASSIGN expressao SEMI": func(rhs []parser.Symbol) any {
			return &VarDecl{Name: varName(text(rhs, 0)), Init: val[Expr](rhs, 2)}
		},
		"dc_v: DOLLAR_IDENT SEMI": func(rhs []parser.Symbol) any {
			return &VarDecl{Name: varName(text(rhs, 0))}
		},
		"dc_f: FUNCTION IDENT parametros LBRACE corpo_f RBRACE": func(rhs []parser.Symbol) any {
			return &FuncDecl{Name: text(rhs, 1), Params: val[[]string](rhs, 2), Body: val[*Seq](rhs, 4)}
		},

		"parametros: LPAREN RPAREN":           func([]parser.Symbol) any { return []string{} },
		"parametros: LPAREN lista_par RPAREN": func(rhs []parser.Symbol) any { return val[[]string](rhs, 1) },
		"lista_par: DOLLAR_IDENT mais_par": func(rhs []parser.Symbol) any {
			return append([]string{varName(text(rhs, 0))}, val[[]string](rhs, 1)...)
		},
		"mais_par: COMMA DOLLAR_IDENT mais_par": func(rhs []parser.Symbol) any {
			return append([]string{varName(text(rhs, 1))}, val[[]string](rhs, 2)...)
		},
		"mais_par:": func([]parser.Symbol) any { return []string{} },

		"corpo_f: lista_dcloc lista_comandos": func(rhs []parser.Symbol) any {
			return NewSeq(slices.Concat(val[[]Stmt](rhs, 0), []Stmt{val[*Seq](rhs, 1)})...)
		},
		"lista_dcloc:": func([]parser.Symbol) any { return []Stmt{} },
		"lista_dcloc: lista_dcloc dc_v": func(rhs []parser.Symbol) any {
			return slices.Concat(val[[]Stmt](rhs, 0), []Stmt{val[*VarDecl](rhs, 1)})
		},

		"lista_comandos:": func([]parser.Symbol) any { return NewSeq() },
		"lista_comandos: lista_comandos comando": func(rhs []parser.Symbol) any {
			return NewSeq(val[*Seq](rhs, 0), val[Stmt](rhs, 1))
		},

		"pfalsa: ELSE LBRACE lista_comandos RBRACE": func(rhs []parser.Symbol) any {
			return val[*Seq](rhs, 2)
		},
		// A typed nil keeps the hook result non-nil while meaning "no else".
		"pfalsa:": func([]parser.Symbol) any { return (*Seq)(nil) },

		"comando: DOLLAR_IDENT ASSIGN expressao SEMI": func(rhs []parser.Symbol) any {
			return &Assign{Name: varName(text(rhs, 0)), Value: val[Expr](rhs, 2)}
		},
		"comando: ECHO DOLLAR_IDENT DOT PHP_EOL SEMI": func(rhs []parser.Symbol) any {
			return &EchoVar{Name: varName(text(rhs, 1))}
		},
		"comando: IF LPAREN condicao RPAREN LBRACE lista_comandos RBRACE pfalsa": func(rhs []parser.Symbol) any {
			return &If{Cond: val[*Rel](rhs, 2), Then: val[*Seq](rhs, 5), Else: val[*Seq](rhs, 7)}
		},
		"comando: WHILE LPAREN condicao RPAREN LBRACE lista_comandos RBRACE": func(rhs []parser.Symbol) any {
			return &While{Cond: val[*Rel](rhs, 2), Body: val[*Seq](rhs, 5)}
		},
		"comando: IDENT lista_arg SEMI": func(rhs []parser.Symbol) any {
			return &Call{Name: text(rhs, 0), Args: val[[]Expr](rhs, 1)}
		},

		"lista_arg: LPAREN RPAREN":            func([]parser.Symbol) any { return []Expr{} },
		"lista_arg: LPAREN argumentos RPAREN": func(rhs []parser.Symbol) any { return val[[]Expr](rhs, 1) },
		"argumentos: expressao mais_ident": func(rhs []parser.Symbol) any {
			return append([]Expr{val[Expr](rhs, 0)}, val[[]Expr](rhs, 1)...)
		},
		"mais_ident: COMMA expressao mais_ident": func(rhs []parser.Symbol) any {
			return append([]Expr{val[Expr](rhs, 1)}, val[[]Expr](rhs, 2)...)
		},
		"mais_ident:": func([]parser.Symbol) any { return []Expr{} },

		"condicao: expressao relacao expressao": func(rhs []parser.Symbol) any {
			return &Rel{Op: val[string](rhs, 1), Left: val[Expr](rhs, 0), Right: val[Expr](rhs, 2)}
		},
		"relacao: EQ": operator,
		"relacao: NE": operator,
		"relacao: GE": operator,
		"relacao: LE": operator,
		"relacao: GT": operator,
		"relacao: LT": operator,

		"expressao: termo outros_termos": func(rhs []parser.Symbol) any {
			return fold(val[Expr](rhs, 0), val[[]opTail](rhs, 1))
		},
		"op_un: MINUS": operator,
		"op_un:":       constant(""),
		"termo: op_un fator mais_fatores": func(rhs []parser.Symbol) any {
			x := fold(val[Expr](rhs, 1), val[[]opTail](rhs, 2))
			if op := val[string](rhs, 0); op != "" {
				return &Un{Op: op, X: x}
			}
			return x
		},

		"fator: DOLLAR_IDENT": func(rhs []parser.Symbol) any {
			return &Var{Name: varName(text(rhs, 0))}
		},
		"fator: NUM_REAL": func(rhs []parser.Symbol) any {
			v, err := strconv.ParseFloat(text(rhs, 0), 64)
			if err != nil {
				panic(mismatch(fmt.Sprintf("bad number %q", text(rhs, 0))))
			}
			return &Num{Value: v}
		},
		"fator: LPAREN expressao RPAREN": func(rhs []parser.Symbol) any {
			return val[Expr](rhs, 1)
		},
		"fator: FLOATVAL LPAREN READLINE LPAREN RPAREN RPAREN": func([]parser.Symbol) any {
			return &ReadFloat{}
		},

		"mais_fatores: op_mul fator mais_fatores": func(rhs []parser.Symbol) any {
			return append([]opTail{{op: val[string](rhs, 0), x: val[Expr](rhs, 1)}}, val[[]opTail](rhs, 2)...)
		},
		"mais_fatores:": func([]parser.Symbol) any { return []opTail{} },
		"op_mul: STAR":  operator,
		"op_mul: SLASH": operator,

		"outros_termos: op_ad termo outros_termos": func(rhs []parser.Symbol) any {
			return append([]opTail{{op: val[string](rhs, 0), x: val[Expr](rhs, 1)}}, val[[]opTail](rhs, 2)...)
		},
		"outros_termos:": func([]parser.Symbol) any { return []opTail{} },
		"op_ad: PLUS":    operator,
		"op_ad: MINUS":   operator,
	}
}
