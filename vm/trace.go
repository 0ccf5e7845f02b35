package vm

import (
	"fmt"
	"io"
)

// ExecutionTrace writes one line per executed instruction: the PC, the raw
// word, and its disassembly.
type ExecutionTrace struct {
	Enabled bool
	Writer  io.Writer

	count uint64
}

// NewExecutionTrace creates a trace writing to w
func NewExecutionTrace(w io.Writer) *ExecutionTrace {
	return &ExecutionTrace{
		Enabled: true,
		Writer:  w,
	}
}

// Record emits a trace line for the instruction at pc
func (t *ExecutionTrace) Record(pc uint32, word uint32) {
	if !t.Enabled || t.Writer == nil {
		return
	}
	t.count++
	fmt.Fprintf(t.Writer, "%8d  PC %5d  %08x  %s\n", t.count, pc, word, Disassemble(word))
}

// Count returns the number of recorded entries
func (t *ExecutionTrace) Count() uint64 {
	return t.count
}
