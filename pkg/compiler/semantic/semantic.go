// Package semantic checks name usage in a syntax tree before code generation:
// every variable and function must be declared, and calls must match the
// callee's arity.
package semantic

import (
	"fmt"

	"github.com/zurustar/phpstack/pkg/compiler/ast"
)

// Kind classifies a diagnostic.
type Kind string

const (
	DuplicateFunction   Kind = "DUPLICATE_FUNCTION"
	UndeclaredFunction  Kind = "UNDECLARED_FUNCTION"
	ArityMismatch       Kind = "ARITY_MISMATCH"
	NonVariableArgument Kind = "NON_VARIABLE_ARGUMENT"
	UndeclaredVariable  Kind = "UNDECLARED_VARIABLE"
	MisplacedFunction   Kind = "MISPLACED_FUNCTION"
	InvalidTree         Kind = "INVALID_TREE"
)

// Diagnostic is one problem found by the checker.
type Diagnostic struct {
	Kind    Kind
	Name    string
	Message string
}

// Error implements the error interface.
func (d *Diagnostic) Error() string {
	return fmt.Sprintf("semantic error: %s", d.Message)
}

// Checker walks a Program with a stack of variable scopes.
type Checker struct {
	errors []error
	funcs  map[string]int
	scopes []map[string]bool
}

// New creates a new Checker.
func New() *Checker {
	return &Checker{
		errors: []error{},
		funcs:  make(map[string]int),
	}
}

// Analyze checks p and returns every diagnostic found.
func Analyze(p *ast.Program) []error {
	return New().Check(p)
}

// Check checks p. Functions are registered before any body is visited, so
// calls may precede the callee's declaration.
func (c *Checker) Check(p *ast.Program) []error {
	if p == nil || p.Body == nil {
		c.addError(InvalidTree, "", "program has no body")
		return c.errors
	}
	body := p.Body

	c.pushScope()
	defer c.popScope()

	for _, d := range body.Decls {
		c.visitVarDecl(d)
	}

	for _, f := range body.Funcs {
		if _, dup := c.funcs[f.Name]; dup {
			c.addError(DuplicateFunction, f.Name, "function '%s' is already declared", f.Name)
			continue
		}
		c.funcs[f.Name] = len(f.Params)
	}

	for _, f := range body.Funcs {
		c.visitFuncDecl(f)
	}

	c.visitSeq(body.Main)
	return c.errors
}

func (c *Checker) addError(kind Kind, name, format string, args ...any) {
	c.errors = append(c.errors, &Diagnostic{Kind: kind, Name: name, Message: fmt.Sprintf(format, args...)})
}

func (c *Checker) pushScope() {
	c.scopes = append(c.scopes, make(map[string]bool))
}

func (c *Checker) popScope() {
	c.scopes = c.scopes[:len(c.scopes)-1]
}

func (c *Checker) declare(name string) {
	c.scopes[len(c.scopes)-1][name] = true
}

func (c *Checker) declared(name string) bool {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if c.scopes[i][name] {
			return true
		}
	}
	return false
}

func (c *Checker) visitFuncDecl(f *ast.FuncDecl) {
	c.pushScope()
	defer c.popScope()

	for _, p := range f.Params {
		c.declare(p)
	}
	c.visitSeq(f.Body)
}

func (c *Checker) visitSeq(s *ast.Seq) {
	if s == nil {
		return
	}
	for _, st := range s.Items {
		c.visitStmt(st)
	}
}

func (c *Checker) visitVarDecl(d *ast.VarDecl) {
	c.declare(d.Name)
	if d.Init != nil {
		c.visitExpr(d.Init)
	}
}

func (c *Checker) visitStmt(st ast.Stmt) {
	switch s := st.(type) {
	case *ast.VarDecl:
		c.visitVarDecl(s)
	case *ast.Assign:
		if !c.declared(s.Name) {
			c.addError(UndeclaredVariable, s.Name, "variable '$%s' is not declared (assignment)", s.Name)
		}
		c.visitExpr(s.Value)
	case *ast.EchoVar:
		if !c.declared(s.Name) {
			c.addError(UndeclaredVariable, s.Name, "variable '$%s' is not declared (echo)", s.Name)
		}
	case *ast.If:
		c.visitExpr(s.Cond)
		c.visitSeq(s.Then)
		c.visitSeq(s.Else)
	case *ast.While:
		c.visitExpr(s.Cond)
		c.visitSeq(s.Body)
	case *ast.Call:
		c.visitCall(s)
	case *ast.Seq:
		c.visitSeq(s)
	case *ast.FuncDecl:
		c.addError(MisplacedFunction, s.Name, "function '%s' declared in an invalid place", s.Name)
	default:
		c.addError(InvalidTree, "", "unsupported statement %T", st)
	}
}

func (c *Checker) visitCall(call *ast.Call) {
	arity, ok := c.funcs[call.Name]
	switch {
	case !ok:
		c.addError(UndeclaredFunction, call.Name, "function '%s' is not declared", call.Name)
	case arity != len(call.Args):
		c.addError(ArityMismatch, call.Name, "call of '%s' with %d argument(s), but it expects %d", call.Name, len(call.Args), arity)
	}

	for _, a := range call.Args {
		v, isVar := a.(*ast.Var)
		if !isVar {
			c.addError(NonVariableArgument, call.Name, "call of '%s' requires variable arguments (use $var)", call.Name)
			c.visitExpr(a)
			continue
		}
		if !c.declared(v.Name) {
			c.addError(UndeclaredVariable, v.Name, "variable '$%s' is not declared (argument of '%s')", v.Name, call.Name)
		}
	}
}

func (c *Checker) visitExpr(e ast.Expr) {
	switch x := e.(type) {
	case *ast.Num, *ast.ReadFloat:
	case *ast.Var:
		if !c.declared(x.Name) {
			c.addError(UndeclaredVariable, x.Name, "variable '$%s' is not declared (expression)", x.Name)
		}
	case *ast.Un:
		c.visitExpr(x.X)
	case *ast.Bin:
		c.visitExpr(x.Left)
		c.visitExpr(x.Right)
	case *ast.Rel:
		c.visitExpr(x.Left)
		c.visitExpr(x.Right)
	default:
		c.addError(InvalidTree, "", "unsupported expression %T", e)
	}
}
