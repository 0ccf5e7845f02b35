// Package emitter serializes x86-64 machine code for the translator. It is
// the only package that knows the host instruction format.
//
// The emitter is stateless beyond its write cursor and performs no
// optimization. Every mnemonic emits a fixed byte count, independent of its
// operand values, so that a sizing pass and a writing pass over the same
// instruction stream produce identical cursors.
package emitter

import (
	"encoding/binary"
	"errors"
)

// ErrBufferExhausted reports that the emit cursor ran past the end of the
// output buffer.
var ErrBufferExhausted = errors.New("emit cursor ran past the output buffer")

// Emitter writes host instructions at a byte cursor. In sizing mode (nil
// buffer) writes advance the cursor without storing anything; the final
// cursor is the exact byte count a writing pass will produce.
type Emitter struct {
	buf []byte // nil in sizing mode
	pos int
	err error
}

// NewSizing returns an emitter that counts bytes without writing them
func NewSizing() *Emitter {
	return &Emitter{}
}

// NewWriting returns an emitter that writes into buf
func NewWriting(buf []byte) *Emitter {
	return &Emitter{buf: buf}
}

// Pos returns the current cursor
func (e *Emitter) Pos() int {
	return e.pos
}

// Err returns the first write failure, if any
func (e *Emitter) Err() error {
	return e.err
}

func (e *Emitter) byte(b byte) {
	if e.buf != nil {
		if e.pos >= len(e.buf) {
			if e.err == nil {
				e.err = ErrBufferExhausted
			}
		} else {
			e.buf[e.pos] = b
		}
	}
	e.pos++
}

func (e *Emitter) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	for _, b := range tmp {
		e.byte(b)
	}
}

func (e *Emitter) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	for _, b := range tmp {
		e.byte(b)
	}
}

// movAddrToRDX materializes a 64-bit host address in RDX.
// MOV RDX, imm64 (REX.W B8+rd), 10 bytes.
func (e *Emitter) movAddrToRDX(addr uint64) {
	e.byte(0x48)
	e.byte(0xB8 + byte(EDX))
	e.u64(addr)
}

// MovRegFromAddr loads the 32-bit cell at a host address into dst.
// MOV RDX, imm64; MOV r32, [RDX]. 12 bytes.
func (e *Emitter) MovRegFromAddr(dst Reg, addr uint64) {
	e.movAddrToRDX(addr)
	e.byte(0x8B)
	e.byte(modRM(0, byte(dst), byte(EDX)))
}

// MovAddrFromReg stores src into the 32-bit cell at a host address.
// MOV RDX, imm64; MOV [RDX], r32. 12 bytes.
func (e *Emitter) MovAddrFromReg(addr uint64, src Reg) {
	e.movAddrToRDX(addr)
	e.byte(0x89)
	e.byte(modRM(0, byte(src), byte(EDX)))
}

// MovAddrImm32 stores a 32-bit immediate into the cell at a host address.
// MOV RDX, imm64; MOV dword [RDX], imm32. 16 bytes.
func (e *Emitter) MovAddrImm32(addr uint64, imm uint32) {
	e.movAddrToRDX(addr)
	e.byte(0xC7)
	e.byte(modRM(0, 0, byte(EDX)))
	e.u32(imm)
}

// AddRegReg emits ADD dst, src (01 /r). 2 bytes.
func (e *Emitter) AddRegReg(dst, src Reg) {
	e.byte(0x01)
	e.byte(modRM(3, byte(src), byte(dst)))
}

// SubRegReg emits SUB dst, src (29 /r). 2 bytes.
func (e *Emitter) SubRegReg(dst, src Reg) {
	e.byte(0x29)
	e.byte(modRM(3, byte(src), byte(dst)))
}

// MulRegReg emits IMUL dst, src (0F AF /r), keeping the low 32 bits.
// 3 bytes.
func (e *Emitter) MulRegReg(dst, src Reg) {
	e.byte(0x0F)
	e.byte(0xAF)
	e.byte(modRM(3, byte(dst), byte(src)))
}

// AddAccImm emits ADD EAX, imm32 (05 id). 5 bytes.
func (e *Emitter) AddAccImm(imm int32) {
	e.byte(0x05)
	e.u32(uint32(imm))
}

// SubAccImm emits SUB EAX, imm32 (2D id). 5 bytes.
func (e *Emitter) SubAccImm(imm int32) {
	e.byte(0x2D)
	e.u32(uint32(imm))
}

// MulAccImm emits IMUL EAX, EAX, imm32 (69 /r id). 6 bytes.
func (e *Emitter) MulAccImm(imm int32) {
	e.byte(0x69)
	e.byte(modRM(3, byte(EAX), byte(EAX)))
	e.u32(uint32(imm))
}

// AddRegImm emits ADD r32, imm32 (81 /0 id). 6 bytes.
func (e *Emitter) AddRegImm(reg Reg, imm int32) {
	e.byte(0x81)
	e.byte(modRM(3, 0, byte(reg)))
	e.u32(uint32(imm))
}

// CmpRegReg emits CMP a, b (39 /r). 2 bytes.
func (e *Emitter) CmpRegReg(a, b Reg) {
	e.byte(0x39)
	e.byte(modRM(3, byte(b), byte(a)))
}

// LoadIndexed loads a 32-bit word at base+index into dst, where base is a
// baked host address and index a register holding a zero-extended guest
// address. MOV RDX, imm64; MOV r32, [RDX+r]. 13 bytes.
func (e *Emitter) LoadIndexed(dst Reg, base uint64, index Reg) {
	e.movAddrToRDX(base)
	e.byte(0x8B)
	e.byte(modRM(0, byte(dst), 4))
	e.byte(sib(0, byte(index), byte(EDX)))
}

// StoreIndexed stores src as a 32-bit word at base+index.
// MOV RDX, imm64; MOV [RDX+r], r32. 13 bytes.
func (e *Emitter) StoreIndexed(base uint64, index Reg, src Reg) {
	e.movAddrToRDX(base)
	e.byte(0x89)
	e.byte(modRM(0, byte(src), 4))
	e.byte(sib(0, byte(index), byte(EDX)))
}

// JumpCond emits a near conditional jump with a 32-bit relative
// displacement (0F 80+cc id). The displacement is relative to the end of
// this instruction. 6 bytes.
func (e *Emitter) JumpCond(cc Cond, rel int32) {
	e.byte(0x0F)
	e.byte(0x80 + byte(cc))
	e.u32(uint32(rel))
}

// JumpCondShort emits a short conditional jump with an 8-bit relative
// displacement (70+cc ib). 2 bytes.
func (e *Emitter) JumpCondShort(cc Cond, rel int8) {
	e.byte(0x70 + byte(cc))
	e.byte(byte(rel))
}

// Jump emits an unconditional near jump with a 32-bit relative
// displacement (E9 id). 5 bytes.
func (e *Emitter) Jump(rel int32) {
	e.byte(0xE9)
	e.u32(uint32(rel))
}

// Prologue emits the buffer entry sequence. The caller passes the default
// continuation PC in EDI; the prologue parks it in the frame slot [RBP-8]
// that every escape stub and the epilogue address.
// PUSH RBP; MOV RBP, RSP; PUSH RDI. 5 bytes.
func (e *Emitter) Prologue() {
	e.byte(0x55)
	e.byte(0x48)
	e.byte(0x89)
	e.byte(modRM(3, byte(ESP), byte(EBP)))
	e.byte(0x57)
}

// StoreContinuation overwrites the continuation slot with a guest PC.
// MOV dword [RBP-8], imm32. 7 bytes.
func (e *Emitter) StoreContinuation(pc uint32) {
	e.byte(0xC7)
	e.byte(modRM(1, 0, byte(EBP)))
	e.byte(0xF8)
	e.u32(pc)
}

// Epilogue emits the single exit sequence: the continuation slot becomes
// the return value. MOV EAX, [RBP-8]; LEAVE; RET. 5 bytes.
func (e *Emitter) Epilogue() {
	e.byte(0x8B)
	e.byte(modRM(1, byte(EAX), byte(EBP)))
	e.byte(0xF8)
	e.byte(0xC9)
	e.byte(0xC3)
}
