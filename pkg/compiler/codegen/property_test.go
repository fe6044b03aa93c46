package codegen_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zurustar/phpstack/pkg/compiler/ast"
	"github.com/zurustar/phpstack/pkg/compiler/codegen"
	"github.com/zurustar/phpstack/pkg/compiler/semantic"
	"github.com/zurustar/phpstack/pkg/opcode"
	"github.com/zurustar/phpstack/pkg/vm"
)

// counter is the only variable loop conditions test. It is reset right
// before each loop and decremented at the end of the body, so every
// generated program terminates.
const counter = "w"

var (
	arithOps = []string{"+", "-", "*", "/"}
	relOps   = []string{"==", "!=", ">=", "<=", ">", "<"}
)

// progGen builds random well-scoped programs from a seed.
type progGen struct {
	r       *rand.Rand
	globals []string
	funcs   []*ast.FuncDecl
}

type scope struct {
	vars       []string // readable
	assignable []string
	main       bool
	inLoop     bool
}

func (g *progGen) pick(names []string) string {
	return names[g.r.Intn(len(names))]
}

func (g *progGen) expr(vars []string, depth int) ast.Expr {
	n := g.r.Intn(9)
	if depth <= 0 {
		n %= 5
	}
	switch n {
	case 0, 1:
		return &ast.Num{Value: float64(g.r.Intn(9)-4) / 2}
	case 2, 3:
		return &ast.Var{Name: g.pick(vars)}
	case 4:
		return &ast.ReadFloat{}
	case 5:
		return &ast.Un{Op: "-", X: g.expr(vars, depth-1)}
	default:
		return &ast.Bin{Op: arithOps[g.r.Intn(len(arithOps))], Left: g.expr(vars, depth-1), Right: g.expr(vars, depth-1)}
	}
}

func (g *progGen) rel(vars []string) *ast.Rel {
	return &ast.Rel{Op: relOps[g.r.Intn(len(relOps))], Left: g.expr(vars, 1), Right: g.expr(vars, 1)}
}

func (g *progGen) stmts(sc scope, depth int) []ast.Stmt {
	var out []ast.Stmt
	for i := g.r.Intn(4); i > 0; i-- {
		switch k := g.r.Intn(6); {
		case k == 0:
			out = append(out, &ast.Assign{Name: g.pick(sc.assignable), Value: g.expr(sc.vars, 2)})
		case k == 1:
			out = append(out, &ast.EchoVar{Name: g.pick(sc.vars)})
		case k == 2 && depth > 0:
			s := &ast.If{Cond: g.rel(sc.vars), Then: ast.NewSeq(g.stmts(sc, depth-1)...)}
			if g.r.Intn(2) == 0 {
				s.Else = ast.NewSeq(g.stmts(sc, depth-1)...)
			}
			out = append(out, s)
		case k == 3 && depth > 0 && sc.main && !sc.inLoop:
			inner := sc
			inner.inLoop = true
			body := append(g.stmts(inner, depth-1), &ast.Assign{
				Name:  counter,
				Value: &ast.Bin{Op: "-", Left: &ast.Var{Name: counter}, Right: &ast.Num{Value: 1}},
			})
			out = append(out,
				&ast.Assign{Name: counter, Value: &ast.Num{Value: float64(g.r.Intn(4))}},
				&ast.While{
					Cond: &ast.Rel{Op: ">", Left: &ast.Var{Name: counter}, Right: &ast.Num{Value: 0}},
					Body: ast.NewSeq(body...),
				})
		case k >= 4 && sc.main && len(g.funcs) > 0:
			f := g.funcs[g.r.Intn(len(g.funcs))]
			call := &ast.Call{Name: f.Name, Args: []ast.Expr{}}
			for range f.Params {
				call.Args = append(call.Args, &ast.Var{Name: g.pick(g.globals)})
			}
			out = append(out, call)
		default:
			out = append(out, &ast.EchoVar{Name: g.pick(sc.vars)})
		}
	}
	return out
}

func (g *progGen) function(name string) *ast.FuncDecl {
	f := &ast.FuncDecl{Name: name, Params: []string{}}
	for i := g.r.Intn(3); i > 0; i-- {
		f.Params = append(f.Params, fmt.Sprintf("p%d", len(f.Params)))
	}

	visible := append(append([]string{}, f.Params...), g.globals...)
	var body []ast.Stmt
	for i := g.r.Intn(3); i > 0; i-- {
		d := &ast.VarDecl{Name: fmt.Sprintf("l%d", len(body))}
		if g.r.Intn(2) == 0 {
			d.Init = &ast.Num{Value: 0}
		} else {
			d.Init = g.expr(visible, 2)
		}
		body = append(body, d)
		visible = append(visible, d.Name)
	}
	if len(f.Params) > 0 && g.r.Intn(3) == 0 {
		// Redeclared parameter.
		body = append(body, &ast.VarDecl{Name: f.Params[0], Init: g.expr(visible, 1)})
	}

	var assignable []string
	for _, v := range visible {
		if v != counter {
			assignable = append(assignable, v)
		}
	}
	body = append(body, g.stmts(scope{vars: visible, assignable: assignable}, 2)...)
	f.Body = ast.NewSeq(body...)
	return f
}

func (g *progGen) program() *ast.Program {
	body := &ast.Body{Decls: []*ast.VarDecl{{Name: counter, Init: &ast.Num{Value: 3}}}}
	g.globals = []string{counter}
	for i := g.r.Intn(3) + 1; i > 0; i-- {
		d := &ast.VarDecl{Name: fmt.Sprintf("g%d", len(body.Decls)-1), Init: g.expr(g.globals, 2)}
		body.Decls = append(body.Decls, d)
		g.globals = append(g.globals, d.Name)
	}

	for i := g.r.Intn(3); i > 0; i-- {
		g.funcs = append(g.funcs, g.function(fmt.Sprintf("f%d", len(g.funcs))))
	}
	body.Funcs = g.funcs

	sc := scope{vars: g.globals, assignable: g.globals[1:], main: true}
	body.Main = ast.NewSeq(g.stmts(sc, 3)...)
	return &ast.Program{Body: body}
}

func randomProgram(seed int64) (*ast.Program, []float64) {
	g := &progGen{r: rand.New(rand.NewSource(seed))}
	p := g.program()
	input := make([]float64, 64)
	for i := range input {
		input[i] = float64(g.r.Intn(17)-8) / 4
	}
	return p, input
}

var errNoInput = errors.New("input exhausted")

// evaluator runs a tree directly. Parameters are copies of the arguments,
// locals start at zero and a literal-zero initializer only skips the store
// on a cell it creates.
type evaluator struct {
	globals map[string]float64
	funcs   map[string]*ast.FuncDecl
	input   []float64
	out     []float64
}

func evaluate(p *ast.Program, input []float64) ([]float64, error) {
	e := &evaluator{globals: map[string]float64{}, funcs: map[string]*ast.FuncDecl{}, input: input}
	for _, f := range p.Body.Funcs {
		e.funcs[f.Name] = f
	}
	for _, d := range p.Body.Decls {
		if err := e.declare(e.globals, d); err != nil {
			return e.out, err
		}
	}
	err := e.seq(p.Body.Main, nil)
	return e.out, err
}

func (e *evaluator) declare(cells map[string]float64, d *ast.VarDecl) error {
	if _, ok := cells[d.Name]; !ok {
		cells[d.Name] = 0
	}
	if d.Init == nil {
		return nil
	}
	v, err := e.expr(d.Init, cells)
	if err != nil {
		return err
	}
	cells[d.Name] = v
	return nil
}

func (e *evaluator) cells(name string, env map[string]float64) map[string]float64 {
	if _, ok := env[name]; ok {
		return env
	}
	return e.globals
}

func (e *evaluator) seq(s *ast.Seq, env map[string]float64) error {
	if s == nil {
		return nil
	}
	for _, st := range s.Items {
		if err := e.stmt(st, env); err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) stmt(st ast.Stmt, env map[string]float64) error {
	switch s := st.(type) {
	case *ast.VarDecl:
		return e.declare(env, s)
	case *ast.Assign:
		v, err := e.expr(s.Value, env)
		if err != nil {
			return err
		}
		e.cells(s.Name, env)[s.Name] = v
	case *ast.EchoVar:
		e.out = append(e.out, e.cells(s.Name, env)[s.Name])
	case *ast.If:
		ok, err := e.test(s.Cond, env)
		if err != nil {
			return err
		}
		if ok {
			return e.seq(s.Then, env)
		}
		return e.seq(s.Else, env)
	case *ast.While:
		for {
			ok, err := e.test(s.Cond, env)
			if err != nil || !ok {
				return err
			}
			if err := e.seq(s.Body, env); err != nil {
				return err
			}
		}
	case *ast.Call:
		f := e.funcs[s.Name]
		local := map[string]float64{}
		for i, a := range s.Args {
			name := a.(*ast.Var).Name
			local[f.Params[i]] = e.cells(name, env)[name]
		}
		return e.seq(f.Body, local)
	default:
		return fmt.Errorf("unexpected statement %T", st)
	}
	return nil
}

func (e *evaluator) test(r *ast.Rel, env map[string]float64) (bool, error) {
	a, err := e.expr(r.Left, env)
	if err != nil {
		return false, err
	}
	b, err := e.expr(r.Right, env)
	if err != nil {
		return false, err
	}
	switch r.Op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case ">=":
		return a >= b, nil
	case "<=":
		return a <= b, nil
	case ">":
		return a > b, nil
	default:
		return a < b, nil
	}
}

func (e *evaluator) expr(x ast.Expr, env map[string]float64) (float64, error) {
	switch n := x.(type) {
	case *ast.Num:
		return n.Value, nil
	case *ast.Var:
		return e.cells(n.Name, env)[n.Name], nil
	case *ast.ReadFloat:
		if len(e.input) == 0 {
			return 0, errNoInput
		}
		v := e.input[0]
		e.input = e.input[1:]
		return v, nil
	case *ast.Un:
		v, err := e.expr(n.X, env)
		return float64(0 - v), err
	case *ast.Bin:
		a, err := e.expr(n.Left, env)
		if err != nil {
			return 0, err
		}
		b, err := e.expr(n.Right, env)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case "+":
			return float64(a + b), nil
		case "-":
			return float64(a - b), nil
		case "*":
			return float64(a * b), nil
		default:
			return float64(a / b), nil
		}
	}
	return 0, fmt.Errorf("unexpected expression %T", x)
}

func sameValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(math.IsNaN(a[i]) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}

// execute runs code and reports its output and whether it ran out of input.
func execute(code opcode.Program, input []float64) ([]float64, bool, error) {
	m := vm.New(code, vm.WithInput(input), vm.WithMaxSteps(1_000_000))
	err := m.Run(context.Background())
	var re *vm.RuntimeError
	if errors.As(err, &re) && re.Type == vm.ErrorInputExhausted {
		return m.Output(), true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if m.FrameDepth() != 0 || len(m.Stack()) != 0 {
		return nil, false, fmt.Errorf("halted with %d frame(s) and %d stacked value(s)", m.FrameDepth(), len(m.Stack()))
	}
	return m.Output(), false, nil
}

func TestPropertyGeneratedCode(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("generated programs pass the scope checker", prop.ForAll(
		func(seed int64) bool {
			p, _ := randomProgram(seed)
			return len(semantic.Analyze(p)) == 0
		},
		gen.Int64(),
	))

	properties.Property("generation is deterministic", prop.ForAll(
		func(seed int64) bool {
			p, _ := randomProgram(seed)
			first, err1 := codegen.New().Generate(p)
			second, err2 := codegen.New().Generate(p)
			if err1 != nil || err2 != nil || len(first.Code) != len(second.Code) {
				return false
			}
			for i := range first.Code {
				if first.Code[i] != second.Code[i] {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("every branch target is resolved and in range", prop.ForAll(
		func(seed int64) bool {
			p, _ := randomProgram(seed)
			res, err := codegen.New().Generate(p)
			if err != nil {
				return false
			}
			for _, op := range res.Code {
				if !op.Cmd.IsBranch() {
					continue
				}
				if op.Label != "" || !op.HasArg || op.Arg != math.Trunc(op.Arg) {
					return false
				}
				if op.Arg < 0 || int(op.Arg) > len(res.Code) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("each function releases what it allocates", prop.ForAll(
		func(seed int64) bool {
			p, _ := randomProgram(seed)
			res, err := codegen.New().Generate(p)
			if err != nil {
				return false
			}
			for _, entry := range res.Functions {
				allocated, released := 0, -1
				for i := entry; i < len(res.Code) && res.Code[i].Cmd != opcode.Return; i++ {
					switch res.Code[i].Cmd {
					case opcode.Alloc:
						allocated += res.Code[i].Addr()
					case opcode.Dealloc:
						released = res.Code[i].Addr()
					}
				}
				if allocated == 0 && released != -1 || allocated > 0 && released != allocated {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("execution matches direct evaluation", prop.ForAll(
		func(seed int64) bool {
			p, input := randomProgram(seed)
			want, evalErr := evaluate(p, input)
			if evalErr != nil && !errors.Is(evalErr, errNoInput) {
				return false
			}

			res, err := codegen.New().Generate(p)
			if err != nil {
				return false
			}
			got, exhausted, err := execute(res.Code, input)
			if err != nil || exhausted != (evalErr != nil) {
				return false
			}
			return sameValues(got, want)
		},
		gen.Int64(),
	))

	properties.Property("instruction text executes like the generated code", prop.ForAll(
		func(seed int64) bool {
			p, input := randomProgram(seed)
			res, err := codegen.New().Generate(p)
			if err != nil {
				return false
			}
			text, err := opcode.Format(res.Code, true)
			if err != nil {
				return false
			}
			back, err := opcode.Parse(text)
			if err != nil {
				return false
			}

			want, wantExhausted, err1 := execute(res.Code, input)
			got, gotExhausted, err2 := execute(back, input)
			return err1 == nil && err2 == nil && wantExhausted == gotExhausted && sameValues(got, want)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
