package opcode

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allCmds = []Cmd{
	Start, Halt, Alloc, Dealloc, PushConst, Load, Store,
	Add, Sub, Mul, Div, CmpLE, CmpGE, CmpEQ, CmpNE, CmpGT, CmpLT,
	JumpIfFalse, Jump, Read, Print, PushReturn, Param, Call, Return,
}

func TestCmdClassification(t *testing.T) {
	tests := []struct {
		cmd     Cmd
		operand bool
		branch  bool
	}{
		{Start, false, false},
		{Alloc, true, false},
		{PushConst, true, false},
		{Store, true, false},
		{Add, false, false},
		{JumpIfFalse, true, true},
		{Jump, true, true},
		{PushReturn, true, true},
		{Param, true, false},
		{Call, true, true},
		{Return, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.cmd), func(t *testing.T) {
			if !tt.cmd.Valid() {
				t.Fatalf("%s should be valid", tt.cmd)
			}
			if got := tt.cmd.HasOperand(); got != tt.operand {
				t.Errorf("HasOperand() = %v, want %v", got, tt.operand)
			}
			if got := tt.cmd.IsBranch(); got != tt.branch {
				t.Errorf("IsBranch() = %v, want %v", got, tt.branch)
			}
		})
	}

	if Cmd("NOPE").Valid() {
		t.Error("unknown mnemonic reported as valid")
	}
	if len(allCmds) != len(cmds) {
		t.Errorf("instruction table has %d entries, want %d", len(cmds), len(allCmds))
	}
}

func TestFormat(t *testing.T) {
	p := Program{
		{Cmd: Start},
		{Cmd: Alloc, Arg: 1, HasArg: true, Comment: "$x"},
		{Cmd: PushConst, Arg: 2.5, HasArg: true},
		{Cmd: Store, Arg: 0, HasArg: true},
		{Cmd: Halt},
	}

	got, err := Format(p, false)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "INPP\nALME 1\nCRCT 2.5\nARMZ 0\nPARA\n"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}

	got, err = Format(p, true)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want = "INPP\nALME 1 #$x\nCRCT 2.5\nARMZ 0\nPARA\n"
	if got != want {
		t.Errorf("Format(comments) = %q, want %q", got, want)
	}
}

func TestFormatUnresolvedLabel(t *testing.T) {
	_, err := Format(Program{{Cmd: Jump, Label: "L_end_1", HasArg: true}}, false)
	if !errors.Is(err, ErrUnresolvedLabel) {
		t.Errorf("Format() error = %v, want ErrUnresolvedLabel", err)
	}
}

func TestParse(t *testing.T) {
	src := `
# header comment
INPP
  ALME 1   # $x
CRCT -3.25
ARMZ 0

DSVI 7
PARA
`
	p, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := Program{
		{Cmd: Start},
		{Cmd: Alloc, Arg: 1, HasArg: true, Comment: " $x"},
		{Cmd: PushConst, Arg: -3.25, HasArg: true},
		{Cmd: Store, Arg: 0, HasArg: true},
		{Cmd: Jump, Arg: 7, HasArg: true},
		{Cmd: Halt},
	}
	if len(p) != len(want) {
		t.Fatalf("Parse() returned %d instructions, want %d", len(p), len(want))
	}
	for i := range want {
		if p[i] != want[i] {
			t.Errorf("instruction %d = %+v, want %+v", i, p[i], want[i])
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown opcode", "INPP\nJUMP 3", 2},
		{"missing argument", "CRCT", 1},
		{"extra argument", "SOMA 1", 1},
		{"bad number", "INPP\n\nCRVL x", 3},
		{"too many fields", "ARMZ 1 2", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse() error = %v, want *ParseError", err)
			}
			if pe.Line != tt.line {
				t.Errorf("ParseError.Line = %d, want %d", pe.Line, tt.line)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{2, "2"},
		{-0.5, "-0.5"},
		{1e21, "1000000000000000000000"},
		{0.1, "0.1"},
		{math.Inf(1), "+Inf"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.v); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

// genOpCode generates resolved instructions with optional comments.
func genOpCode() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, len(allCmds)-1),
		gen.Float64Range(-1e6, 1e6),
		gen.OneConstOf("", "$x", "function f", "L_end_3"),
	).Map(func(vals []interface{}) OpCode {
		cmd := allCmds[vals[0].(int)]
		op := OpCode{Cmd: cmd, Comment: vals[2].(string)}
		if cmd.HasOperand() {
			op.Arg, op.HasArg = vals[1].(float64), true
		}
		return op
	})
}

// Property: Parse inverts Format for every resolved program.
func TestPropertyFormatParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Parse(Format(p)) == p", prop.ForAll(
		func(p []OpCode) bool {
			text, err := Format(p, true)
			if err != nil {
				return false
			}
			back, err := Parse(text)
			if err != nil || len(back) != len(p) {
				return false
			}
			for i := range p {
				if back[i] != p[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genOpCode()),
	))

	properties.Property("Format is stable across a round trip", prop.ForAll(
		func(p []OpCode) bool {
			first, _ := Format(p, false)
			back, err := Parse(first)
			if err != nil {
				return false
			}
			second, _ := Format(back, false)
			return first == second
		},
		gen.SliceOf(genOpCode()),
	))

	properties.TestingRun(t)
}
