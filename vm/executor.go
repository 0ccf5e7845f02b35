package vm

import (
	"fmt"
	"io"
	"os"
)

// ExecutionState represents the current state of execution
type ExecutionState int

const (
	StateReady ExecutionState = iota
	StateRunning
	StateHalted
	StateError
)

// TranslationBackend turns a guest instruction range into native code and
// runs it. The interpreter hands over the live machine: emitted code reads
// and writes the register cells and memory directly, then returns the guest
// PC at which interpretation resumes.
type TranslationBackend interface {
	Run(machine *VM, start, end, defaultPC uint32) (uint32, error)
}

// VM represents the complete IMPS virtual machine
type VM struct {
	CPU    *CPU
	Memory *Memory
	State  ExecutionState

	// ProgramSize is the byte length of the loaded image. Translation
	// ranges must end inside it.
	ProgramSize uint32

	// MaxCycles guards against runaway guest loops
	MaxCycles uint64

	// Backend handles the JIT meta-instruction. When nil the meta
	// instruction validates its range and falls through to PC+12, leaving
	// the range to ordinary interpretation.
	Backend TranslationBackend

	// Trace, when non-nil, receives one entry per executed instruction
	Trace *ExecutionTrace

	// OutputWriter receives the HALT state dump (defaults to os.Stdout)
	OutputWriter io.Writer

	LastError error
}

// NewVM creates a new virtual machine instance
func NewVM() *VM {
	return &VM{
		CPU:          NewCPU(),
		Memory:       NewMemory(),
		State:        StateReady,
		MaxCycles:    DefaultMaxCycles,
		OutputWriter: os.Stdout,
	}
}

// Reset returns the machine to its power-on state. The register file and
// memory are zeroed in place, never reallocated.
func (m *VM) Reset() {
	m.CPU.Reset()
	m.Memory.Reset()
	m.State = StateReady
	m.LastError = nil
}

// Run executes instructions until HALT or a fatal error
func (m *VM) Run() error {
	m.State = StateRunning
	for m.State == StateRunning {
		if err := m.Step(); err != nil {
			m.State = StateError
			m.LastError = err
			return err
		}
	}
	return nil
}

// Step fetches, decodes and executes a single instruction. Branches and
// jumps set PC themselves; every other instruction advances PC by 4.
func (m *VM) Step() error {
	if m.CPU.Cycles >= m.MaxCycles {
		return Errorf(CycleLimitExceeded, "executed %d cycles without halting", m.CPU.Cycles).WithPC(m.CPU.PC)
	}
	m.CPU.Cycles++

	pc := m.CPU.PC
	word, err := m.Memory.ReadWord(pc)
	if err != nil {
		return wrapWithPC(err, pc)
	}
	inst := Decode(word)

	if m.Trace != nil {
		m.Trace.Record(pc, word)
	}

	switch inst.Op {
	case OpHALT:
		// The PC increments past the HALT before the dump; the reference
		// result files depend on it.
		m.CPU.PC = pc + 4
		m.DumpState(m.outputWriter())
		m.State = StateHalted
		return nil

	case OpADD:
		m.CPU.R[inst.R1] = m.CPU.R[inst.R2] + m.CPU.R[inst.R3]
	case OpADDI:
		m.CPU.R[inst.R1] = m.CPU.R[inst.R2] + inst.SignedImm()
	case OpSUB:
		m.CPU.R[inst.R1] = m.CPU.R[inst.R2] - m.CPU.R[inst.R3]
	case OpSUBI:
		m.CPU.R[inst.R1] = m.CPU.R[inst.R2] - inst.SignedImm()
	case OpMUL:
		m.CPU.R[inst.R1] = m.CPU.R[inst.R2] * m.CPU.R[inst.R3]
	case OpMULI:
		m.CPU.R[inst.R1] = m.CPU.R[inst.R2] * inst.SignedImm()

	case OpLW:
		addr := uint32(m.CPU.R[inst.R2] + inst.SignedImm())
		value, err := m.Memory.ReadWord(addr)
		if err != nil {
			return wrapWithPC(err, pc)
		}
		m.CPU.R[inst.R1] = int32(value)
	case OpSW:
		addr := uint32(m.CPU.R[inst.R2] + inst.SignedImm())
		if err := m.Memory.WriteWord(addr, uint32(m.CPU.R[inst.R1])); err != nil {
			return wrapWithPC(err, pc)
		}

	case OpBEQ:
		return m.branch(inst, m.CPU.R[inst.R1] == m.CPU.R[inst.R2])
	case OpBNE:
		return m.branch(inst, m.CPU.R[inst.R1] != m.CPU.R[inst.R2])
	case OpBLT:
		return m.branch(inst, m.CPU.R[inst.R1] < m.CPU.R[inst.R2])
	case OpBGT:
		return m.branch(inst, m.CPU.R[inst.R1] > m.CPU.R[inst.R2])
	case OpBLE:
		return m.branch(inst, m.CPU.R[inst.R1] <= m.CPU.R[inst.R2])
	case OpBGE:
		return m.branch(inst, m.CPU.R[inst.R1] >= m.CPU.R[inst.R2])

	case OpJMP:
		m.CPU.PC = inst.Addr
		return nil
	case OpJR:
		m.CPU.PC = uint32(m.CPU.R[inst.R1])
		return nil
	case OpJAL:
		m.CPU.R[LinkRegister] = int32(pc + 4)
		m.CPU.PC = inst.Addr
		return nil

	case OpJIT:
		return m.translateAndRun(pc)

	default:
		return Errorf(UnknownOpcode, "opcode %d is not part of the instruction set", uint32(inst.Op)).WithPC(pc)
	}

	m.CPU.PC = pc + 4
	return nil
}

// branch applies conditional-branch PC semantics: a taken branch adds the
// displacement (in instructions) to the PC of the branch itself, not PC+4.
func (m *VM) branch(inst Instruction, taken bool) error {
	if taken {
		m.CPU.PC += uint32(inst.SignedImm() * InstructionSize)
	} else {
		m.CPU.PC += InstructionSize
	}
	return nil
}

// translateAndRun handles the JIT meta-instruction at pc. The two words
// after the opcode are its operands, the inclusive [start, end] byte range
// to translate; they are never themselves translated or executed. Control
// resumes at the continuation PC the translated code returns, or at PC+12
// when no backend is installed.
func (m *VM) translateAndRun(pc uint32) error {
	if pc+12 > m.ProgramSize {
		return Errorf(BadTranslationRange, "JIT instruction lacks following start and end addresses").WithPC(pc)
	}

	start, err := m.Memory.ReadWord(pc + 4)
	if err != nil {
		return wrapWithPC(err, pc)
	}
	end, err := m.Memory.ReadWord(pc + 8)
	if err != nil {
		return wrapWithPC(err, pc)
	}

	if err := m.checkTranslationRange(start, end); err != nil {
		return wrapWithPC(err, pc)
	}

	defaultPC := pc + 12
	if m.Backend == nil {
		m.CPU.PC = defaultPC
		return nil
	}

	continuation, err := m.Backend.Run(m, start, end, defaultPC)
	if err != nil {
		return wrapWithPC(err, pc)
	}
	m.CPU.PC = continuation
	return nil
}

// checkTranslationRange validates a [start, end] translation request
func (m *VM) checkTranslationRange(start, end uint32) error {
	if start%4 != 0 || end%4 != 0 {
		return Errorf(BadTranslationRange, "range [%d, %d] is not 4-aligned", start, end)
	}
	if start > end {
		return Errorf(BadTranslationRange, "start address %d is beyond end address %d", start, end)
	}
	if end+4 > m.ProgramSize {
		return Errorf(BadTranslationRange, "end address %d reaches out of program size %d", end, m.ProgramSize)
	}
	return nil
}

// DumpState prints the PC and all registers in the reference format
func (m *VM) DumpState(w io.Writer) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Registers:\n")
	fmt.Fprintf(w, "PC : %10d (0x%.8x)\n", m.CPU.PC, m.CPU.PC)
	for i := 0; i < NumRegisters; i++ {
		fmt.Fprintf(w, "$%-2d: %10d (0x%.8x)\n", i, m.CPU.R[i], uint32(m.CPU.R[i]))
	}
}

func (m *VM) outputWriter() io.Writer {
	if m.OutputWriter != nil {
		return m.OutputWriter
	}
	return os.Stdout
}

// wrapWithPC stamps an EmulatorError with the offending PC if it does not
// already carry one
func wrapWithPC(err error, pc uint32) error {
	if emuErr, ok := err.(*EmulatorError); ok && !emuErr.HasPC {
		return emuErr.WithPC(pc)
	}
	return err
}
