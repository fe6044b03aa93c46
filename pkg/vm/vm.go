// Package vm provides the stack machine that executes generated code.
//
// State: an operand stack, a linear memory that grows at the high end, a
// return-address stack, a queue of pending parameter addresses and a stack
// of call frames. Parameters are copied in by value when the callee
// allocates their cells, not at call time.
package vm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/zurustar/phpstack/pkg/logger"
	"github.com/zurustar/phpstack/pkg/opcode"
)

// Frame is one active call.
type Frame struct {
	Return  int   // code index RTPR jumps to
	Params  []int // argument source addresses, in call order
	Pending int   // parameters not yet copied in
}

// DefaultMaxMemory is the memory size limit, in cells, of a new VM.
const DefaultMaxMemory = 1 << 24

// TraceFunc is called before each instruction executes.
type TraceFunc func(pc int, op opcode.OpCode, stack []float64)

// VM executes an opcode.Program.
type VM struct {
	program opcode.Program
	pc      int
	halted  bool

	stack  []float64
	mem    []float64
	rets   []int
	params []int
	frames []Frame

	input  []float64
	inPos  int
	out    io.Writer
	output []float64

	steps     int
	maxSteps  int
	maxMemory int
	trace     TraceFunc
	log       *slog.Logger
}

// Option is a functional option for configuring the VM.
type Option func(*VM)

// WithInput sets the values consumed by LEIT, in order.
func WithInput(values []float64) Option {
	return func(vm *VM) {
		vm.input = values
	}
}

// WithOutput sets where IMPR writes, one value per line.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) {
		vm.out = w
	}
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(vm *VM) {
		vm.log = log
	}
}

// WithMaxSteps stops execution with STEP_LIMIT after n instructions.
// Zero means no limit.
func WithMaxSteps(n int) Option {
	return func(vm *VM) {
		vm.maxSteps = n
	}
}

// WithMaxMemory limits memory to n cells. An address or allocation beyond
// the limit fails with INVALID_OPERAND. Zero means no limit.
func WithMaxMemory(n int) Option {
	return func(vm *VM) {
		vm.maxMemory = n
	}
}

// WithTrace installs a per-instruction trace callback.
func WithTrace(fn TraceFunc) Option {
	return func(vm *VM) {
		vm.trace = fn
	}
}

// New creates a VM for program.
func New(program opcode.Program, opts ...Option) *VM {
	vm := &VM{
		program:   program,
		stack:     make([]float64, 0, 64),
		mem:       make([]float64, 0, 64),
		maxMemory: DefaultMaxMemory,
		log:       logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Run executes until PARA, until pc leaves the program, or until an error.
// ctx is checked between instructions.
func (vm *VM) Run(ctx context.Context) error {
	vm.log.Debug("VM started", "instructions", len(vm.program), "inputs", len(vm.input))

	for !vm.halted {
		if err := ctx.Err(); err != nil {
			return &RuntimeError{Type: ErrorCancelled, Message: "execution cancelled", PC: vm.pc, Err: err}
		}
		if _, err := vm.Step(); err != nil {
			vm.log.Error("VM execution failed", "error", err)
			return err
		}
	}

	vm.log.Debug("VM halted", "pc", vm.pc, "steps", vm.steps, "printed", len(vm.output))
	return nil
}

// Step executes one instruction. It returns false once the machine has
// halted.
func (vm *VM) Step() (bool, error) {
	if vm.halted {
		return false, nil
	}
	if vm.pc < 0 || vm.pc >= len(vm.program) {
		vm.log.Warn("pc left the program", "pc", vm.pc, "length", len(vm.program))
		vm.halted = true
		return false, nil
	}
	if vm.maxSteps > 0 && vm.steps >= vm.maxSteps {
		return false, NewRuntimeError(ErrorStepLimit, fmt.Sprintf("step limit %d reached", vm.maxSteps), vm.pc, vm.program[vm.pc].Cmd)
	}

	op := vm.program[vm.pc]
	if vm.trace != nil {
		vm.trace(vm.pc, op, vm.stack)
	}
	vm.steps++

	if err := vm.exec(op); err != nil {
		return false, err
	}
	return !vm.halted, nil
}

func (vm *VM) exec(op opcode.OpCode) error {
	if !op.Cmd.Valid() {
		return NewRuntimeError(ErrorUnknownOpcode, fmt.Sprintf("unknown instruction %q", op.Cmd), vm.pc, op.Cmd)
	}
	if op.Cmd.HasOperand() && !op.HasArg {
		return vm.invalid(op, "missing argument")
	}

	switch op.Cmd {
	case opcode.Start:
	case opcode.Halt:
		vm.halted = true
		return nil

	case opcode.Alloc:
		n, err := vm.count(op)
		if err != nil {
			return err
		}
		if vm.maxMemory > 0 && n > vm.maxMemory-len(vm.mem) {
			return vm.invalid(op, fmt.Sprintf("allocating %d cells exceeds the %d-cell memory limit", n, vm.maxMemory))
		}
		vm.alloc(n)
	case opcode.Dealloc:
		n, err := vm.count(op)
		if err != nil {
			return err
		}
		vm.mem = vm.mem[:max(0, len(vm.mem)-n)]

	case opcode.PushConst:
		vm.push(op.Arg)
	case opcode.Load:
		a, err := vm.address(op)
		if err != nil {
			return err
		}
		vm.ensure(a)
		vm.push(vm.mem[a])
	case opcode.Store:
		a, err := vm.address(op)
		if err != nil {
			return err
		}
		v, err := vm.pop(op)
		if err != nil {
			return err
		}
		vm.ensure(a)
		vm.mem[a] = v

	case opcode.Add, opcode.Sub, opcode.Mul, opcode.Div,
		opcode.CmpLE, opcode.CmpGE, opcode.CmpEQ, opcode.CmpNE, opcode.CmpGT, opcode.CmpLT:
		right, err := vm.pop(op)
		if err != nil {
			return err
		}
		left, err := vm.pop(op)
		if err != nil {
			return err
		}
		vm.push(binary(op.Cmd, left, right))

	case opcode.JumpIfFalse:
		target, err := vm.target(op)
		if err != nil {
			return err
		}
		cond, err := vm.pop(op)
		if err != nil {
			return err
		}
		if cond == 0 {
			vm.pc = target
			return nil
		}
	case opcode.Jump:
		target, err := vm.target(op)
		if err != nil {
			return err
		}
		vm.pc = target
		return nil

	case opcode.Read:
		if vm.inPos >= len(vm.input) {
			return NewInputExhaustedError(vm.pc, vm.inPos)
		}
		vm.push(vm.input[vm.inPos])
		vm.inPos++
	case opcode.Print:
		if len(vm.stack) == 0 {
			return NewStackUnderflowError(vm.pc, op.Cmd)
		}
		vm.print(vm.stack[len(vm.stack)-1])
		vm.stack = vm.stack[:len(vm.stack)-1]

	case opcode.PushReturn:
		target, err := vm.target(op)
		if err != nil {
			return err
		}
		vm.rets = append(vm.rets, target)
	case opcode.Param:
		a, err := vm.address(op)
		if err != nil {
			return err
		}
		vm.params = append(vm.params, a)
	case opcode.Call:
		target, err := vm.target(op)
		if err != nil {
			return err
		}
		if len(vm.rets) == 0 {
			return NewRuntimeError(ErrorCallProtocol, "call without a pushed return address", vm.pc, op.Cmd)
		}
		ret := vm.rets[len(vm.rets)-1]
		vm.rets = vm.rets[:len(vm.rets)-1]
		params := vm.params
		vm.params = nil
		vm.frames = append(vm.frames, Frame{Return: ret, Params: params, Pending: len(params)})
		vm.pc = target
		return nil
	case opcode.Return:
		if len(vm.frames) == 0 {
			return NewRuntimeError(ErrorCallProtocol, "return without an active frame", vm.pc, op.Cmd)
		}
		f := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.pc = f.Return
		return nil
	}

	vm.pc++
	return nil
}

// alloc appends n zero cells. While the top frame has parameters left to
// fill, each new cell takes the value at the next argument address.
func (vm *VM) alloc(n int) {
	for i := 0; i < n; i++ {
		addr := len(vm.mem)
		vm.mem = append(vm.mem, 0)

		if len(vm.frames) == 0 {
			continue
		}
		f := &vm.frames[len(vm.frames)-1]
		if f.Pending == 0 {
			continue
		}
		src := f.Params[len(f.Params)-f.Pending]
		vm.ensure(src)
		vm.mem[addr] = vm.mem[src]
		f.Pending--
	}
}

// ensure grows memory so that addr is valid.
func (vm *VM) ensure(addr int) {
	for len(vm.mem) <= addr {
		vm.mem = append(vm.mem, 0)
	}
}

func (vm *VM) push(v float64) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop(op opcode.OpCode) (float64, error) {
	if len(vm.stack) == 0 {
		return 0, NewStackUnderflowError(vm.pc, op.Cmd)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) invalid(op opcode.OpCode, msg string) error {
	return NewRuntimeError(ErrorInvalidOperand, msg, vm.pc, op.Cmd)
}

// maxOperand bounds integer operands to values a float64 holds exactly.
const maxOperand = 1 << 53

func (vm *VM) integer(op opcode.OpCode) (int, error) {
	if op.Arg != math.Trunc(op.Arg) || math.IsInf(op.Arg, 0) {
		return 0, vm.invalid(op, fmt.Sprintf("%s is not an integer", opcode.FormatNumber(op.Arg)))
	}
	if math.Abs(op.Arg) > maxOperand {
		return 0, vm.invalid(op, fmt.Sprintf("%s is out of range", opcode.FormatNumber(op.Arg)))
	}
	return int(op.Arg), nil
}

func (vm *VM) address(op opcode.OpCode) (int, error) {
	a, err := vm.integer(op)
	if err != nil {
		return 0, err
	}
	if a < 0 {
		return 0, vm.invalid(op, fmt.Sprintf("negative address %d", a))
	}
	if vm.maxMemory > 0 && a >= vm.maxMemory {
		return 0, vm.invalid(op, fmt.Sprintf("address %d exceeds the %d-cell memory limit", a, vm.maxMemory))
	}
	return a, nil
}

func (vm *VM) count(op opcode.OpCode) (int, error) {
	n, err := vm.integer(op)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, vm.invalid(op, fmt.Sprintf("negative cell count %d", n))
	}
	return n, nil
}

// target reads a code index. Indices outside the program are allowed and
// halt the machine on the next step.
func (vm *VM) target(op opcode.OpCode) (int, error) {
	return vm.integer(op)
}

func binary(cmd opcode.Cmd, a, b float64) float64 {
	switch cmd {
	case opcode.Add:
		return a + b
	case opcode.Sub:
		return a - b
	case opcode.Mul:
		return a * b
	case opcode.Div:
		return a / b
	case opcode.CmpLE:
		return truth(a <= b)
	case opcode.CmpGE:
		return truth(a >= b)
	case opcode.CmpEQ:
		return truth(a == b)
	case opcode.CmpNE:
		return truth(a != b)
	case opcode.CmpGT:
		return truth(a > b)
	default:
		return truth(a < b)
	}
}

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (vm *VM) print(v float64) {
	vm.output = append(vm.output, v)
	if vm.out != nil {
		fmt.Fprintln(vm.out, FormatValue(v))
	}
}

// FormatValue renders a printed value: integral values without a fraction,
// infinities as INF and -INF, NaN as NAN.
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NAN"
	case math.IsInf(v, 1):
		return "INF"
	case math.IsInf(v, -1):
		return "-INF"
	}
	return opcode.FormatNumber(v)
}

// Output returns every value printed so far.
func (vm *VM) Output() []float64 {
	return append([]float64(nil), vm.output...)
}

// Memory returns a copy of linear memory.
func (vm *VM) Memory() []float64 {
	return append([]float64(nil), vm.mem...)
}

// Stack returns a copy of the operand stack, bottom first.
func (vm *VM) Stack() []float64 {
	return append([]float64(nil), vm.stack...)
}

// PC returns the program counter.
func (vm *VM) PC() int {
	return vm.pc
}

// Halted reports whether execution has finished.
func (vm *VM) Halted() bool {
	return vm.halted
}

// FrameDepth returns the number of active call frames.
func (vm *VM) FrameDepth() int {
	return len(vm.frames)
}

// Steps returns the number of instructions executed.
func (vm *VM) Steps() int {
	return vm.steps
}
