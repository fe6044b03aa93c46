package vm

import (
	"fmt"

	"github.com/zurustar/phpstack/pkg/opcode"
)

// ErrorType represents the type of runtime error. Every runtime error is
// fatal: execution stops at the faulting instruction.
type ErrorType string

const (
	ErrorStackUnderflow ErrorType = "STACK_UNDERFLOW"
	ErrorUnknownOpcode  ErrorType = "UNKNOWN_OPCODE"
	ErrorCallProtocol   ErrorType = "CALL_PROTOCOL"
	ErrorInputExhausted ErrorType = "INPUT_EXHAUSTED"
	ErrorInvalidOperand ErrorType = "INVALID_OPERAND"
	ErrorStepLimit      ErrorType = "STEP_LIMIT"
	ErrorCancelled      ErrorType = "CANCELLED"
)

// RuntimeError represents a runtime error in the VM.
type RuntimeError struct {
	Type    ErrorType
	Message string
	PC      int
	Op      opcode.Cmd
	Err     error // underlying cause, if any
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s at pc=%d (%s)", e.Type, e.Message, e.PC, e.Op)
	}
	return fmt.Sprintf("[%s] %s at pc=%d", e.Type, e.Message, e.PC)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(errType ErrorType, message string, pc int, op opcode.Cmd) *RuntimeError {
	return &RuntimeError{
		Type:    errType,
		Message: message,
		PC:      pc,
		Op:      op,
	}
}

// NewStackUnderflowError creates an operand stack underflow error.
func NewStackUnderflowError(pc int, op opcode.Cmd) *RuntimeError {
	return NewRuntimeError(ErrorStackUnderflow, "operand stack underflow", pc, op)
}

// NewInputExhaustedError creates an error for a read past the end of input.
func NewInputExhaustedError(pc int, consumed int) *RuntimeError {
	return NewRuntimeError(ErrorInputExhausted, fmt.Sprintf("no input left after %d value(s)", consumed), pc, opcode.Read)
}
