// Package jit translates ranges of guest instructions to host x86-64 code
// and runs them against the live register file and memory.
package jit

import (
	"unsafe"

	"github.com/lookbusy1344/imps-emulator/emitter"
	"github.com/lookbusy1344/imps-emulator/vm"
)

// escapeStubLen is the fixed size of an escape stub: overwrite the
// continuation slot, then jump to the shared epilogue.
const escapeStubLen = emitter.StoreContinuationLen + emitter.JumpLen

// translator lowers the inclusive guest byte range [start, end] in two
// passes over identical dispatch logic. The sizing pass records, per source
// instruction index, the native offset its translation begins at; the
// writing pass consumes those offsets to resolve intra-range jumps. Both
// passes must emit byte-identical counts per instruction, which holds
// because no lowering's length depends on operand values.
type translator struct {
	machine *vm.VM
	start   uint32
	end     uint32
	count   int

	insnMap  []int // source instruction index -> native byte offset
	epilogue int   // native byte offset of the shared epilogue
	size     int   // total emitted length, set by the sizing pass
}

func newTranslator(machine *vm.VM, start, end uint32) *translator {
	count := int((end-start)/vm.InstructionSize) + 1
	return &translator{
		machine: machine,
		start:   start,
		end:     end,
		count:   count,
		insnMap: make([]int, count),
	}
}

// measure runs the sizing pass and returns the buffer size the writing pass
// will need
func (t *translator) measure() (int, error) {
	e := emitter.NewSizing()
	if err := t.lower(e, true); err != nil {
		return 0, err
	}
	t.size = e.Pos()
	return t.size, nil
}

// emit runs the writing pass into buf. measure must have run first.
func (t *translator) emit(buf []byte) error {
	e := emitter.NewWriting(buf)
	if err := t.lower(e, false); err != nil {
		return err
	}
	if e.Err() != nil {
		return vm.Errorf(vm.TranslationBufferExhausted, "emitting %d bytes into a %d byte buffer", e.Pos(), len(buf)).Wrap(e.Err())
	}
	if e.Pos() != t.size {
		return vm.Errorf(vm.TranslationBufferExhausted, "writing pass emitted %d bytes, sizing pass counted %d", e.Pos(), t.size)
	}
	return nil
}

// lower runs one pass over the source range. When sizing is true it fills
// insnMap and the epilogue offset; when false it resolves jump
// displacements from them.
func (t *translator) lower(e *emitter.Emitter, sizing bool) error {
	regs := t.machine.CPU
	memBase := uint64(uintptr(unsafe.Pointer(&t.machine.Memory.Data[0])))
	cell := func(r int) uint64 {
		return uint64(uintptr(unsafe.Pointer(&regs.R[r])))
	}

	e.Prologue()

	for i := 0; i < t.count; i++ {
		guestPC := t.start + uint32(i)*vm.InstructionSize
		if sizing {
			t.insnMap[i] = e.Pos()
		}

		word, err := t.machine.Memory.ReadWord(guestPC)
		if err != nil {
			return err
		}
		inst := vm.Decode(word)

		switch inst.Op {
		case vm.OpADD, vm.OpSUB, vm.OpMUL:
			e.MovRegFromAddr(emitter.EAX, cell(inst.R2))
			e.MovRegFromAddr(emitter.EBX, cell(inst.R3))
			switch inst.Op {
			case vm.OpADD:
				e.AddRegReg(emitter.EAX, emitter.EBX)
			case vm.OpSUB:
				e.SubRegReg(emitter.EAX, emitter.EBX)
			case vm.OpMUL:
				e.MulRegReg(emitter.EAX, emitter.EBX)
			}
			e.MovAddrFromReg(cell(inst.R1), emitter.EAX)

		case vm.OpADDI, vm.OpSUBI, vm.OpMULI:
			e.MovRegFromAddr(emitter.EAX, cell(inst.R2))
			switch inst.Op {
			case vm.OpADDI:
				e.AddAccImm(inst.SignedImm())
			case vm.OpSUBI:
				e.SubAccImm(inst.SignedImm())
			case vm.OpMULI:
				e.MulAccImm(inst.SignedImm())
			}
			e.MovAddrFromReg(cell(inst.R1), emitter.EAX)

		case vm.OpLW:
			// Guest address in EAX; no bounds check in the native path
			e.MovRegFromAddr(emitter.EAX, cell(inst.R2))
			e.AddAccImm(inst.SignedImm())
			e.LoadIndexed(emitter.EAX, memBase, emitter.EAX)
			e.MovAddrFromReg(cell(inst.R1), emitter.EAX)

		case vm.OpSW:
			e.MovRegFromAddr(emitter.EAX, cell(inst.R1))
			e.MovRegFromAddr(emitter.EBX, cell(inst.R2))
			e.AddRegImm(emitter.EBX, inst.SignedImm())
			e.StoreIndexed(memBase, emitter.EBX, emitter.EAX)

		case vm.OpBEQ, vm.OpBNE, vm.OpBLT, vm.OpBGT, vm.OpBLE, vm.OpBGE:
			if err := t.lowerBranch(e, sizing, i, inst); err != nil {
				return err
			}

		case vm.OpJMP:
			if err := t.lowerJump(e, sizing, i, inst.Addr); err != nil {
				return err
			}

		case vm.OpJAL:
			e.MovAddrImm32(cell(vm.LinkRegister), guestPC+vm.InstructionSize)
			if err := t.lowerJump(e, sizing, i, inst.Addr); err != nil {
				return err
			}

		case vm.OpHALT:
			// Sentinel continuation: hand the HALT back to the
			// interpreter, which performs the dump and exit
			t.escape(e, sizing, guestPC)

		case vm.OpJR:
			return vm.Errorf(vm.UnsupportedInTranslation, "JR has a runtime-dependent target").WithIndex(i)

		case vm.OpJIT:
			return vm.Errorf(vm.UnsupportedInTranslation, "nested JIT translation").WithIndex(i)

		default:
			return vm.Errorf(vm.UnknownOpcode, "opcode %d is not translatable", uint32(inst.Op)).WithIndex(i)
		}
	}

	if sizing {
		t.epilogue = e.Pos()
	}
	e.Epilogue()
	return nil
}

// lowerBranch emits a conditional branch. An in-range target becomes a
// native conditional jump to the mapped offset; anything else becomes a
// negated short jump over an escape stub carrying the would-be guest PC.
func (t *translator) lowerBranch(e *emitter.Emitter, sizing bool, i int, inst vm.Instruction) error {
	cc := branchCond(inst.Op)
	regs := t.machine.CPU
	e.MovRegFromAddr(emitter.EAX, uint64(uintptr(unsafe.Pointer(&regs.R[inst.R1]))))
	e.MovRegFromAddr(emitter.EBX, uint64(uintptr(unsafe.Pointer(&regs.R[inst.R2]))))
	e.CmpRegReg(emitter.EAX, emitter.EBX)

	target := i + int(inst.SignedImm())
	if target >= 0 && target < t.count {
		var rel int32
		if !sizing {
			rel = int32(t.insnMap[target] - (e.Pos() + emitter.JumpCondLen))
		}
		e.JumpCond(cc, rel)
		return nil
	}

	continuation := int64(t.start) + vm.InstructionSize*int64(target)
	if continuation < 0 {
		return vm.Errorf(vm.BadTranslationRange, "branch target is below address zero").WithIndex(i)
	}
	e.JumpCondShort(cc.Negate(), escapeStubLen)
	t.escape(e, sizing, uint32(continuation))
	return nil
}

// lowerJump emits an unconditional jump to an absolute guest byte address
func (t *translator) lowerJump(e *emitter.Emitter, sizing bool, i int, addr uint32) error {
	if addr%vm.InstructionSize != 0 {
		return vm.Errorf(vm.UnalignedJumpTarget, "jump address %d is not a multiple of 4", addr).WithIndex(i)
	}

	target := (int64(addr) - int64(t.start)) / vm.InstructionSize
	if target >= 0 && target < int64(t.count) {
		var rel int32
		if !sizing {
			rel = int32(t.insnMap[target] - (e.Pos() + emitter.JumpLen))
		}
		e.Jump(rel)
		return nil
	}

	t.escape(e, sizing, addr)
	return nil
}

// escape emits the fixed-length exit stub: overwrite the continuation slot
// with the guest PC, then jump to the shared epilogue.
func (t *translator) escape(e *emitter.Emitter, sizing bool, continuation uint32) {
	e.StoreContinuation(continuation)
	var rel int32
	if !sizing {
		rel = int32(t.epilogue - (e.Pos() + emitter.JumpLen))
	}
	e.Jump(rel)
}

// branchCond maps a guest branch opcode to the host condition code for the
// signed register comparison
func branchCond(op vm.Opcode) emitter.Cond {
	switch op {
	case vm.OpBEQ:
		return emitter.CondE
	case vm.OpBNE:
		return emitter.CondNE
	case vm.OpBLT:
		return emitter.CondL
	case vm.OpBGT:
		return emitter.CondG
	case vm.OpBLE:
		return emitter.CondLE
	default:
		return emitter.CondGE
	}
}
