// Package ast defines the syntax tree of the PHP subset and the reduction
// hooks that build it from parse events.
package ast

import (
	"bytes"
	"strconv"
	"strings"
)

type Node interface {
	String() string
}

type Stmt interface {
	Node
	stmtNode()
}

type Expr interface {
	Node
	exprNode()
}

// Program is the root node
type Program struct {
	Body *Body
}

func (p *Program) String() string {
	var out bytes.Buffer
	out.WriteString("<?php\n")
	if p.Body != nil {
		out.WriteString(p.Body.String())
	}
	out.WriteString("?>\n")
	return out.String()
}

// Body is a declaration section followed by the main command list.
type Body struct {
	Decls []*VarDecl
	Funcs []*FuncDecl
	Main  *Seq
}

func (b *Body) String() string {
	var out bytes.Buffer
	for _, d := range b.Decls {
		out.WriteString(d.String())
		out.WriteString("\n")
	}
	for _, f := range b.Funcs {
		out.WriteString(f.String())
		out.WriteString("\n")
	}
	if b.Main != nil {
		out.WriteString(b.Main.String())
	}
	return out.String()
}

// Seq is an ordered statement list. It never holds a Seq directly.
type Seq struct {
	Items []Stmt
}

// NewSeq builds a Seq from items, splicing the members of nested Seqs and
// dropping nils.
func NewSeq(items ...Stmt) *Seq {
	s := &Seq{Items: []Stmt{}}
	for _, it := range items {
		switch v := it.(type) {
		case nil:
		case *Seq:
			if v != nil {
				s.Items = append(s.Items, v.Items...)
			}
		default:
			s.Items = append(s.Items, it)
		}
	}
	return s
}

func (s *Seq) stmtNode() {}
func (s *Seq) String() string {
	var out bytes.Buffer
	for _, it := range s.Items {
		out.WriteString(it.String())
		out.WriteString("\n")
	}
	return out.String()
}

// VarDecl: $x; or $x = expr;
type VarDecl struct {
	Name string
	Init Expr // nil without initializer
}

func (d *VarDecl) stmtNode() {}
func (d *VarDecl) String() string {
	if d.Init == nil {
		return "$" + d.Name + ";"
	}
	return "$" + d.Name + " = " + d.Init.String() + ";"
}

// Assign: $x = expr;
type Assign struct {
	Name  string
	Value Expr
}

func (a *Assign) stmtNode() {}
func (a *Assign) String() string {
	return "$" + a.Name + " = " + a.Value.String() + ";"
}

// EchoVar: echo $x.PHP_EOL;
type EchoVar struct {
	Name string
}

func (e *EchoVar) stmtNode() {}
func (e *EchoVar) String() string {
	return "echo $" + e.Name + ".PHP_EOL;"
}

// If has an empty Then when the source block is empty; Else is nil when
// there is no else arm.
type If struct {
	Cond *Rel
	Then *Seq
	Else *Seq
}

func (i *If) stmtNode() {}
func (i *If) String() string {
	var out bytes.Buffer
	out.WriteString("if (" + i.Cond.String() + ") {\n")
	out.WriteString(indent(i.Then.String()))
	out.WriteString("}")
	if i.Else != nil {
		out.WriteString(" else {\n")
		out.WriteString(indent(i.Else.String()))
		out.WriteString("}")
	}
	return out.String()
}

type While struct {
	Cond *Rel
	Body *Seq
}

func (w *While) stmtNode() {}
func (w *While) String() string {
	return "while (" + w.Cond.String() + ") {\n" + indent(w.Body.String()) + "}"
}

// FuncDecl: function name($a, $b) { locals; commands }
type FuncDecl struct {
	Name   string
	Params []string
	Body   *Seq
}

func (f *FuncDecl) stmtNode() {}
func (f *FuncDecl) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = "$" + p
	}
	return "function " + f.Name + "(" + strings.Join(params, ", ") + ") {\n" + indent(f.Body.String()) + "}"
}

// Call is a procedure call statement.
type Call struct {
	Name string
	Args []Expr
}

func (c *Call) stmtNode() {}
func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Name + "(" + strings.Join(args, ", ") + ");"
}

// Bin is an arithmetic operation; Op is one of + - * /.
type Bin struct {
	Op    string
	Left  Expr
	Right Expr
}

func (b *Bin) exprNode() {}
func (b *Bin) String() string {
	return "(" + b.Left.String() + " " + b.Op + " " + b.Right.String() + ")"
}

// Un is a unary operation; the only operator is "-".
type Un struct {
	Op string
	X  Expr
}

func (u *Un) exprNode() {}
func (u *Un) String() string {
	return "(" + u.Op + u.X.String() + ")"
}

type Num struct {
	Value float64
}

func (n *Num) exprNode() {}
func (n *Num) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

type Var struct {
	Name string
}

func (v *Var) exprNode() {}
func (v *Var) String() string {
	return "$" + v.Name
}

// ReadFloat: floatval(readline())
type ReadFloat struct{}

func (r *ReadFloat) exprNode() {}
func (r *ReadFloat) String() string {
	return "floatval(readline())"
}

// Rel is a comparison; Op is one of == != >= <= > <.
type Rel struct {
	Op    string
	Left  Expr
	Right Expr
}

func (r *Rel) exprNode() {}
func (r *Rel) String() string {
	return r.Left.String() + " " + r.Op + " " + r.Right.String()
}

func indent(s string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n") + "\n"
}
