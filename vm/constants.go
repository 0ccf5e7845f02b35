package vm

// Machine dimensions
const (
	MemorySize      = 65536 // 64KB flat guest address space
	NumRegisters    = 32
	InstructionSize = 4
)

// Register aliases
const (
	LinkRegister = 31 // written by JAL
)

// Execution limits
const (
	DefaultMaxCycles = 1000000
)
