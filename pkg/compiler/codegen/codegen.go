// Package codegen lowers a syntax tree into stack-machine instructions.
//
// Globals occupy addresses 0..G-1 in declaration order. Every function's
// parameters and locals start at G, so all functions share one address
// window above the globals and at most one activation may be live at a time.
package codegen

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zurustar/phpstack/pkg/compiler/ast"
	"github.com/zurustar/phpstack/pkg/logger"
	"github.com/zurustar/phpstack/pkg/opcode"
)

// Contract violations. The scope checker rejects these programs before
// generation; reaching one here means the checker was skipped or is wrong.
var (
	ErrUndeclaredVariable  = errors.New("undeclared variable")
	ErrNonVariableArgument = errors.New("call argument is not a variable")
	ErrNoFunctionScope     = errors.New("local allocation outside a function")
	ErrUnsupportedNode     = errors.New("unsupported node")
)

// FixupError reports a label or function name still unresolved after
// generation.
type FixupError struct {
	Kind string // "label" or "function"
	Name string
	At   int
}

func (e *FixupError) Error() string {
	return fmt.Sprintf("undefined %s %s referenced at instruction %d", e.Kind, e.Name, e.At)
}

// mainLabel marks the first instruction of the main sequence.
const mainLabel = "L_main"

// Result is the output of Generate.
type Result struct {
	Code      opcode.Program
	Globals   map[string]int // variable -> address
	Functions map[string]int // function -> entry index
}

// Option configures a Generator.
type Option func(*Generator)

// WithComments keeps or drops instruction comments. Default true.
func WithComments(on bool) Option {
	return func(g *Generator) {
		g.comments = on
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Generator) {
		g.log = log
	}
}

// Generator converts a Program to an instruction sequence.
type Generator struct {
	comments bool
	log      *slog.Logger
}

// New creates a new code generator.
func New(opts ...Option) *Generator {
	g := &Generator{comments: true, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate lowers p. Each call uses a fresh address-resolution context, so
// a Generator may be reused.
func (g *Generator) Generate(p *ast.Program) (*Result, error) {
	if p == nil || p.Body == nil {
		return nil, fmt.Errorf("%w: program without body", ErrUnsupportedNode)
	}

	u := newUnit(g.comments)
	if err := u.genProgram(p.Body); err != nil {
		return nil, err
	}
	if err := u.resolve(); err != nil {
		return nil, err
	}

	g.log.Debug("code generated",
		"instructions", len(u.code),
		"globals", len(u.globals),
		"functions", len(u.funcAddrs))

	return &Result{Code: u.code, Globals: u.globals, Functions: u.funcAddrs}, nil
}

type fixup struct {
	at   int
	name string
}

// window is the local address range of the function being generated.
type window struct {
	addrs  map[string]int
	next   int
	allocs int
}

// unit holds the symbol tables of one compilation unit.
type unit struct {
	code     opcode.Program
	comments bool

	labels     map[string]int
	fixups     []fixup
	funcAddrs  map[string]int
	funcFixups []fixup
	labelSeq   int

	globals    map[string]int
	globalNext int
	local      *window
}

func newUnit(comments bool) *unit {
	return &unit{
		code:      opcode.Program{},
		comments:  comments,
		labels:    make(map[string]int),
		funcAddrs: make(map[string]int),
		globals:   make(map[string]int),
	}
}

func (u *unit) emit(cmd opcode.Cmd, comment string) int {
	op := opcode.OpCode{Cmd: cmd}
	if u.comments {
		op.Comment = comment
	}
	u.code = append(u.code, op)
	return len(u.code) - 1
}

func (u *unit) emitArg(cmd opcode.Cmd, arg float64, comment string) int {
	at := u.emit(cmd, comment)
	u.code[at].Arg = arg
	u.code[at].HasArg = true
	return at
}

// emitJump emits cmd with a symbolic target resolved by the fixup pass.
func (u *unit) emitJump(cmd opcode.Cmd, label, comment string) {
	at := u.emitArg(cmd, 0, comment)
	u.code[at].Label = label
	u.fixups = append(u.fixups, fixup{at: at, name: label})
}

func (u *unit) mark(label string) {
	u.labels[label] = len(u.code)
}

// newLabels returns one fresh label per prefix, sharing a sequence number.
func (u *unit) newLabels(prefixes ...string) []string {
	u.labelSeq++
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = fmt.Sprintf("%s_%d", p, u.labelSeq)
	}
	return out
}

// allocGlobal returns the cell of a global and whether it was just allocated.
func (u *unit) allocGlobal(name string) (int, bool) {
	if addr, ok := u.globals[name]; ok {
		return addr, false
	}
	addr := u.globalNext
	u.globalNext++
	u.globals[name] = addr
	u.emitArg(opcode.Alloc, 1, "$"+name)
	return addr, true
}

func (u *unit) allocLocal(name string) (int, bool, error) {
	if u.local == nil {
		return 0, false, fmt.Errorf("%w: $%s", ErrNoFunctionScope, name)
	}
	if addr, ok := u.local.addrs[name]; ok {
		return addr, false, nil
	}
	addr := u.local.next
	u.local.next++
	u.local.addrs[name] = addr
	u.local.allocs++
	u.emitArg(opcode.Alloc, 1, "$"+name)
	return addr, true, nil
}

func (u *unit) addr(name string) (int, error) {
	if u.local != nil {
		if addr, ok := u.local.addrs[name]; ok {
			return addr, nil
		}
	}
	if addr, ok := u.globals[name]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("%w: $%s", ErrUndeclaredVariable, name)
}

var arith = map[string]opcode.Cmd{
	"+": opcode.Add,
	"-": opcode.Sub,
	"*": opcode.Mul,
	"/": opcode.Div,
}

var compare = map[string]opcode.Cmd{
	"<=": opcode.CmpLE,
	">=": opcode.CmpGE,
	"==": opcode.CmpEQ,
	"!=": opcode.CmpNE,
	">":  opcode.CmpGT,
	"<":  opcode.CmpLT,
}

func (u *unit) genExpr(e ast.Expr) error {
	switch x := e.(type) {
	case *ast.Num:
		u.emitArg(opcode.PushConst, x.Value, "")
	case *ast.Var:
		a, err := u.addr(x.Name)
		if err != nil {
			return err
		}
		u.emitArg(opcode.Load, float64(a), "")
	case *ast.ReadFloat:
		u.emit(opcode.Read, "")
	case *ast.Un:
		if x.Op != "-" {
			return fmt.Errorf("%w: unary %q", ErrUnsupportedNode, x.Op)
		}
		u.emitArg(opcode.PushConst, 0, "")
		if err := u.genExpr(x.X); err != nil {
			return err
		}
		u.emit(opcode.Sub, "")
	case *ast.Bin:
		cmd, ok := arith[x.Op]
		if !ok {
			return fmt.Errorf("%w: operator %q", ErrUnsupportedNode, x.Op)
		}
		if err := u.genOperands(x.Left, x.Right); err != nil {
			return err
		}
		u.emit(cmd, "")
	case *ast.Rel:
		cmd, ok := compare[x.Op]
		if !ok {
			return fmt.Errorf("%w: relation %q", ErrUnsupportedNode, x.Op)
		}
		if err := u.genOperands(x.Left, x.Right); err != nil {
			return err
		}
		u.emit(cmd, "")
	default:
		return fmt.Errorf("%w: expression %T", ErrUnsupportedNode, e)
	}
	return nil
}

func (u *unit) genOperands(left, right ast.Expr) error {
	if err := u.genExpr(left); err != nil {
		return err
	}
	return u.genExpr(right)
}

// isZero reports whether e is the literal 0. Such an initializer needs no
// store on a freshly allocated cell, since allocation zero-fills.
func isZero(e ast.Expr) bool {
	n, ok := e.(*ast.Num)
	return ok && n.Value == 0
}

// genVarDecl allocates d's cell, globally for the declaration section and
// in the open window otherwise, then stores the initializer.
func (u *unit) genVarDecl(d *ast.VarDecl, global bool) error {
	var (
		a     int
		fresh bool
	)
	if global {
		a, fresh = u.allocGlobal(d.Name)
	} else {
		var err error
		if a, fresh, err = u.allocLocal(d.Name); err != nil {
			return err
		}
	}

	// A redeclared cell may hold a value, so only a new one can skip the store.
	if d.Init == nil || fresh && isZero(d.Init) {
		return nil
	}
	if err := u.genExpr(d.Init); err != nil {
		return err
	}
	u.emitArg(opcode.Store, float64(a), "")
	return nil
}

func (u *unit) genSeq(s *ast.Seq) error {
	if s == nil {
		return nil
	}
	for _, st := range s.Items {
		if err := u.genStmt(st); err != nil {
			return err
		}
	}
	return nil
}

func (u *unit) genStmt(st ast.Stmt) error {
	switch s := st.(type) {
	case *ast.VarDecl:
		return u.genVarDecl(s, false)

	case *ast.Assign:
		a, err := u.addr(s.Name)
		if err != nil {
			return err
		}
		if err := u.genExpr(s.Value); err != nil {
			return err
		}
		u.emitArg(opcode.Store, float64(a), "")

	case *ast.EchoVar:
		a, err := u.addr(s.Name)
		if err != nil {
			return err
		}
		u.emitArg(opcode.Load, float64(a), "")
		u.emit(opcode.Print, "")

	case *ast.If:
		l := u.newLabels("L_else", "L_end")
		elseLabel, endLabel := l[0], l[1]
		if s.Else == nil {
			elseLabel = endLabel
		}
		if err := u.genExpr(s.Cond); err != nil {
			return err
		}
		u.emitJump(opcode.JumpIfFalse, elseLabel, "")
		if err := u.genSeq(s.Then); err != nil {
			return err
		}
		u.emitJump(opcode.Jump, endLabel, "")
		if s.Else != nil {
			u.mark(elseLabel)
			if err := u.genSeq(s.Else); err != nil {
				return err
			}
		}
		u.mark(endLabel)

	case *ast.While:
		l := u.newLabels("L_w", "L_wend")
		startLabel, endLabel := l[0], l[1]
		u.mark(startLabel)
		if err := u.genExpr(s.Cond); err != nil {
			return err
		}
		u.emitJump(opcode.JumpIfFalse, endLabel, "")
		if err := u.genSeq(s.Body); err != nil {
			return err
		}
		u.emitJump(opcode.Jump, startLabel, "")
		u.mark(endLabel)

	case *ast.Call:
		return u.genCall(s)

	case *ast.Seq:
		return u.genSeq(s)

	case *ast.FuncDecl:
		return fmt.Errorf("%w: function %s outside the declaration section", ErrUnsupportedNode, s.Name)

	default:
		return fmt.Errorf("%w: statement %T", ErrUnsupportedNode, st)
	}
	return nil
}

// genCall emits PUSHER ret, one PARAM per argument, CHPR fn, ret:.
func (u *unit) genCall(c *ast.Call) error {
	ret := u.newLabels("L_ret")[0]
	u.emitJump(opcode.PushReturn, ret, "")

	for _, arg := range c.Args {
		v, ok := arg.(*ast.Var)
		if !ok {
			return fmt.Errorf("%w: %s in call of %s", ErrNonVariableArgument, arg, c.Name)
		}
		a, err := u.addr(v.Name)
		if err != nil {
			return err
		}
		u.emitArg(opcode.Param, float64(a), "")
	}

	if entry, ok := u.funcAddrs[c.Name]; ok {
		u.emitArg(opcode.Call, float64(entry), c.Name)
	} else {
		at := u.emitArg(opcode.Call, 0, c.Name)
		u.code[at].Label = c.Name
		u.funcFixups = append(u.funcFixups, fixup{at: at, name: c.Name})
	}

	u.mark(ret)
	return nil
}

func (u *unit) genFunc(f *ast.FuncDecl) error {
	if u.local != nil {
		return fmt.Errorf("%w: function %s inside another function", ErrUnsupportedNode, f.Name)
	}
	u.funcAddrs[f.Name] = len(u.code)

	u.local = &window{addrs: make(map[string]int), next: u.globalNext}
	defer func() { u.local = nil }()

	for _, p := range f.Params {
		if _, _, err := u.allocLocal(p); err != nil {
			return err
		}
	}
	if err := u.genSeq(f.Body); err != nil {
		return err
	}

	if n := u.local.allocs; n > 0 {
		u.emitArg(opcode.Dealloc, float64(n), "")
	}
	u.emit(opcode.Return, f.Name)
	return nil
}

func (u *unit) genProgram(b *ast.Body) error {
	u.emit(opcode.Start, "")

	for _, d := range b.Decls {
		if err := u.genVarDecl(d, true); err != nil {
			return err
		}
	}

	skip := "skip functions"
	if len(b.Funcs) > 0 {
		skip = "function " + b.Funcs[0].Name
	}
	u.emitJump(opcode.Jump, mainLabel, skip)

	for i, f := range b.Funcs {
		if err := u.genFunc(f); err != nil {
			return err
		}
		if i+1 < len(b.Funcs) {
			u.emitJump(opcode.Jump, mainLabel, "function "+b.Funcs[i+1].Name)
		}
	}

	u.mark(mainLabel)
	if err := u.genSeq(b.Main); err != nil {
		return err
	}
	u.emit(opcode.Halt, "")
	return nil
}

// resolve patches function references first, then labels.
func (u *unit) resolve() error {
	for _, f := range u.funcFixups {
		entry, ok := u.funcAddrs[f.name]
		if !ok {
			return &FixupError{Kind: "function", Name: f.name, At: f.at}
		}
		u.patch(f.at, entry)
	}
	for _, f := range u.fixups {
		target, ok := u.labels[f.name]
		if !ok {
			return &FixupError{Kind: "label", Name: f.name, At: f.at}
		}
		u.patch(f.at, target)
	}
	return nil
}

func (u *unit) patch(at, target int) {
	u.code[at].Arg = float64(target)
	u.code[at].Label = ""
}
