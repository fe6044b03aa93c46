// Package opcode defines the instruction set of the stack machine.
// This package is the foundation that both the code generator and the VM
// depend on. The generator emits OpCode sequences, and the VM executes them.
package opcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Cmd is an instruction mnemonic. The string value is the wire form.
type Cmd string

// The instruction set. Arguments are addresses into linear memory, code
// indices or literal values depending on the command.
const (
	// Start marks the program start. No-op.
	Start Cmd = "INPP"

	// Halt stops the machine.
	Halt Cmd = "PARA"

	// Alloc appends n zero cells to memory. Inside a freshly called frame
	// the new cells first receive the pending argument values.
	// Arg: n
	Alloc Cmd = "ALME"

	// Dealloc removes the top n memory cells.
	// Arg: n
	Dealloc Cmd = "DESM"

	// PushConst pushes a literal.
	// Arg: value
	PushConst Cmd = "CRCT"

	// Load pushes mem[a].
	// Arg: address
	Load Cmd = "CRVL"

	// Store pops into mem[a].
	// Arg: address
	Store Cmd = "ARMZ"

	// Arithmetic pops the right operand, then the left, and pushes the result.
	Add Cmd = "SOMA"
	Sub Cmd = "SUBT"
	Mul Cmd = "MULT"
	Div Cmd = "DIVI"

	// Comparisons push 1 when the relation holds and 0 otherwise.
	CmpLE Cmd = "CPMI"
	CmpGE Cmd = "CMAI"
	CmpEQ Cmd = "CPIG"
	CmpNE Cmd = "CDES"
	CmpGT Cmd = "CMMA"
	CmpLT Cmd = "CMME"

	// JumpIfFalse pops a value and jumps when it is exactly 0.
	// Arg: code index
	JumpIfFalse Cmd = "DSVF"

	// Jump jumps unconditionally.
	// Arg: code index
	Jump Cmd = "DSVI"

	// Read pushes the next input value.
	Read Cmd = "LEIT"

	// Print writes the top of the stack, then pops it.
	Print Cmd = "IMPR"

	// PushReturn pushes the address a call returns to.
	// Arg: code index
	PushReturn Cmd = "PUSHER"

	// Param queues the memory address of the next argument.
	// Arg: address
	Param Cmd = "PARAM"

	// Call opens a frame from the pushed return address and the queued
	// arguments, then jumps to the callee.
	// Arg: code index
	Call Cmd = "CHPR"

	// Return closes the top frame and jumps to its return address.
	Return Cmd = "RTPR"
)

type cmdInfo struct {
	operand bool
	target  bool
}

var cmds = map[Cmd]cmdInfo{
	Start:       {},
	Halt:        {},
	Alloc:       {operand: true},
	Dealloc:     {operand: true},
	PushConst:   {operand: true},
	Load:        {operand: true},
	Store:       {operand: true},
	Add:         {},
	Sub:         {},
	Mul:         {},
	Div:         {},
	CmpLE:       {},
	CmpGE:       {},
	CmpEQ:       {},
	CmpNE:       {},
	CmpGT:       {},
	CmpLT:       {},
	JumpIfFalse: {operand: true, target: true},
	Jump:        {operand: true, target: true},
	Read:        {},
	Print:       {},
	PushReturn:  {operand: true, target: true},
	Param:       {operand: true},
	Call:        {operand: true, target: true},
	Return:      {},
}

// Valid reports whether c is part of the instruction set.
func (c Cmd) Valid() bool {
	_, ok := cmds[c]
	return ok
}

// HasOperand reports whether c takes an argument.
func (c Cmd) HasOperand() bool {
	return cmds[c].operand
}

// IsBranch reports whether c's argument is a code index.
func (c Cmd) IsBranch() bool {
	return cmds[c].target
}

// OpCode is a single instruction. Label names a jump target or function
// while code is being generated; the fixup pass replaces it with Arg.
type OpCode struct {
	Cmd     Cmd
	Arg     float64
	HasArg  bool
	Label   string
	Comment string
}

// Addr returns the argument as a memory address or code index.
func (o OpCode) Addr() int {
	return int(o.Arg)
}

// String formats the instruction without its comment.
func (o OpCode) String() string {
	if o.Label != "" {
		return string(o.Cmd) + " " + o.Label
	}
	if o.HasArg {
		return string(o.Cmd) + " " + FormatNumber(o.Arg)
	}
	return string(o.Cmd)
}

// Program is an instruction sequence.
type Program []OpCode

// ErrUnresolvedLabel is returned when formatting code that still has symbolic
// targets.
var ErrUnresolvedLabel = errors.New("unresolved label")

// FormatNumber renders v in the shortest form that parses back to v.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Format renders p one instruction per line. With comments, each
// instruction's comment follows a '#'.
func Format(p Program, comments bool) (string, error) {
	var sb strings.Builder
	for i, op := range p {
		if op.Label != "" {
			return "", fmt.Errorf("%w: instruction %d (%s)", ErrUnresolvedLabel, i, op)
		}
		sb.WriteString(op.String())
		if comments && op.Comment != "" {
			sb.WriteString(" #")
			sb.WriteString(op.Comment)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// ParseError reports a malformed line of instruction text.
type ParseError struct {
	Line    int
	Text    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Message, e.Text)
}

// Parse reads instruction text as written by Format. Blank lines are
// skipped and everything after '#' is kept as the instruction's comment.
func Parse(text string) (Program, error) {
	prog := Program{}
	for i, raw := range strings.Split(text, "\n") {
		code, comment, _ := strings.Cut(raw, "#")
		fields := strings.Fields(code)
		if len(fields) == 0 {
			continue
		}

		cmd := Cmd(fields[0])
		if !cmd.Valid() {
			return nil, &ParseError{Line: i + 1, Text: raw, Message: "unknown opcode"}
		}
		op := OpCode{Cmd: cmd, Comment: strings.TrimRight(comment, " \t\r")}

		switch {
		case cmd.HasOperand() && len(fields) != 2:
			return nil, &ParseError{Line: i + 1, Text: raw, Message: fmt.Sprintf("%s takes one argument", cmd)}
		case !cmd.HasOperand() && len(fields) != 1:
			return nil, &ParseError{Line: i + 1, Text: raw, Message: fmt.Sprintf("%s takes no argument", cmd)}
		}
		if cmd.HasOperand() {
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, &ParseError{Line: i + 1, Text: raw, Message: "bad argument"}
			}
			op.Arg, op.HasArg = v, true
		}
		prog = append(prog, op)
	}
	return prog, nil
}
