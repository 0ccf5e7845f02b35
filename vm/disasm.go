package vm

import "fmt"

// Disassemble renders an instruction word as one line of assembly-like text
func Disassemble(word uint32) string {
	inst := Decode(word)

	switch inst.Op {
	case OpHALT:
		return "HALT"
	case OpADD, OpSUB, OpMUL:
		return fmt.Sprintf("%s $%d, $%d, $%d", inst.Op, inst.R1, inst.R2, inst.R3)
	case OpADDI, OpSUBI, OpMULI:
		return fmt.Sprintf("%s $%d, $%d, #%d", inst.Op, inst.R1, inst.R2, inst.SignedImm())
	case OpLW:
		return fmt.Sprintf("LW $%d, [$%d + %d]", inst.R1, inst.R2, inst.SignedImm())
	case OpSW:
		return fmt.Sprintf("SW [$%d + %d], $%d", inst.R2, inst.SignedImm(), inst.R1)
	case OpBEQ, OpBNE, OpBLT, OpBGT, OpBLE, OpBGE:
		return fmt.Sprintf("%s $%d, $%d, #%d", inst.Op, inst.R1, inst.R2, inst.SignedImm())
	case OpJMP:
		return fmt.Sprintf("JMP %d", inst.Addr)
	case OpJR:
		return fmt.Sprintf("JR $%d", inst.R1)
	case OpJAL:
		return fmt.Sprintf("JAL %d", inst.Addr)
	case OpJIT:
		return "JIT"
	}
	return fmt.Sprintf(".word 0x%08X", word)
}
