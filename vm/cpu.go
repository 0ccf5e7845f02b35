package vm

// CPU represents the IMPS processor state
type CPU struct {
	// General purpose registers $0-$31, signed 32-bit.
	// $31 doubles as the link register for JAL. $0 is an ordinary
	// register: writes to it are visible, unlike MIPS.
	R [NumRegisters]int32

	// Program Counter, a byte index into memory. Always a multiple of 4
	// at instruction boundaries.
	PC uint32

	// Cycle counter for the run limit and statistics
	Cycles uint64
}

// NewCPU creates and initializes a new CPU instance.
//
// The returned CPU must not be copied or relocated once a translation has
// been emitted against it: generated code bakes the absolute addresses of
// the register cells.
func NewCPU() *CPU {
	return &CPU{}
}

// Reset resets the CPU to initial state
func (c *CPU) Reset() {
	for i := range c.R {
		c.R[i] = 0
	}
	c.PC = 0
	c.Cycles = 0
}
