package jit

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookbusy1344/imps-emulator/emitter"
	"github.com/lookbusy1344/imps-emulator/vm"
)

// Expected lowering lengths, derived from the emitter's documented
// per-mnemonic sizes
const (
	aluRegLen    = 2*emitter.MovRegFromAddrLen + emitter.AluRegRegLen + emitter.MovAddrFromRegLen
	mulRegLen    = 2*emitter.MovRegFromAddrLen + emitter.MulRegRegLen + emitter.MovAddrFromRegLen
	addImmLen    = emitter.MovRegFromAddrLen + emitter.AluAccImmLen + emitter.MovAddrFromRegLen
	mulImmLen    = emitter.MovRegFromAddrLen + emitter.MulAccImmLen + emitter.MovAddrFromRegLen
	compareLen   = 2*emitter.MovRegFromAddrLen + emitter.CmpRegRegLen
	haltLen      = escapeStubLen
	branchOutLen = compareLen + emitter.JumpCondShortLen + escapeStubLen
	branchInLen  = compareLen + emitter.JumpCondLen
)

// newRangeMachine loads words at byte address start and returns a machine
// whose program covers them
func newRangeMachine(t *testing.T, start uint32, words ...uint32) *vm.VM {
	t.Helper()
	machine := vm.NewVM()
	machine.OutputWriter = &bytes.Buffer{}
	for i, w := range words {
		binary.LittleEndian.PutUint32(machine.Memory.Data[start+uint32(i)*4:], w)
	}
	machine.ProgramSize = start + uint32(len(words)*4)
	return machine
}

// translate runs both passes over [start, start+4*(n-1)]
func translate(t *testing.T, machine *vm.VM, start uint32, n int) (*translator, []byte) {
	t.Helper()
	tr := newTranslator(machine, start, start+uint32(n-1)*4)
	size, err := tr.measure()
	require.NoError(t, err)

	code := make([]byte, size)
	require.NoError(t, tr.emit(code))
	return tr, code
}

func TestTwoPassConsistency(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.EncodeImm(vm.OpADDI, 1, 0, 3),
		vm.EncodeImm(vm.OpADDI, 2, 0, 4),
		vm.Encode(vm.OpMUL, 3, 1, 2),
	)

	tr, code := translate(t, machine, start, 3)

	// The map entries fall out of the fixed per-opcode lengths
	assert.Equal(t, []int{
		emitter.PrologueLen,
		emitter.PrologueLen + addImmLen,
		emitter.PrologueLen + 2*addImmLen,
	}, tr.insnMap)
	assert.Equal(t, emitter.PrologueLen+2*addImmLen+mulRegLen, tr.epilogue)
	assert.Equal(t, tr.epilogue+emitter.EpilogueLen, tr.size)
	assert.Len(t, code, tr.size)

	// Every arithmetic lowering starts by materializing a cell address
	for _, off := range tr.insnMap {
		assert.Equal(t, byte(0x48), code[off])
		assert.Equal(t, byte(0xBA), code[off+1])
	}
}

func TestSingleEpilogue(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.EncodeImm(vm.OpADDI, 1, 0, 3),
		vm.Encode(vm.OpADD, 2, 1, 1),
	)

	tr, code := translate(t, machine, start, 2)

	epilogue := []byte{0x8B, 0x45, 0xF8, 0xC9, 0xC3}
	assert.Equal(t, epilogue, code[tr.epilogue:])
	assert.Equal(t, 1, bytes.Count(code, epilogue))
}

func TestOutwardBranchEscapeStub(t *testing.T) {
	start := uint32(100)
	machine := newRangeMachine(t, start,
		vm.EncodeImm(vm.OpBEQ, 1, 2, 10), // target index 10, outside a 1-instruction window
	)

	tr, code := translate(t, machine, start, 1)
	require.Equal(t, emitter.PrologueLen+branchOutLen+emitter.EpilogueLen, tr.size)

	// Negated short jump skips exactly the escape stub
	off := emitter.PrologueLen + compareLen
	assert.Equal(t, byte(0x75), code[off], "BEQ escapes under JNE")
	assert.Equal(t, byte(escapeStubLen), code[off+1])

	// The stub parks the would-be guest PC: start + 4*(0+10)
	stub := off + emitter.JumpCondShortLen
	assert.Equal(t, []byte{0xC7, 0x45, 0xF8}, code[stub:stub+3])
	assert.Equal(t, start+40, binary.LittleEndian.Uint32(code[stub+3:]))

	// Its tail jump lands on the shared epilogue
	jmp := stub + emitter.StoreContinuationLen
	assert.Equal(t, byte(0xE9), code[jmp])
	rel := int32(binary.LittleEndian.Uint32(code[jmp+1:]))
	assert.Equal(t, tr.epilogue, jmp+emitter.JumpLen+int(rel))
}

func TestInwardBranchDisplacement(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.Encode(vm.OpADD, 1, 1, 2),         // index 0
		vm.EncodeImm(vm.OpBGT, 1, 2, 0xFFFF), // index 1, displacement -1
	)

	tr, code := translate(t, machine, start, 2)

	jcc := tr.insnMap[1] + compareLen
	assert.Equal(t, []byte{0x0F, 0x8F}, code[jcc:jcc+2], "BGT uses JG")
	rel := int32(binary.LittleEndian.Uint32(code[jcc+2:]))
	assert.Equal(t, tr.insnMap[0], jcc+emitter.JumpCondLen+int(rel))
}

func TestInwardJumpDisplacement(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.EncodeImm(vm.OpADDI, 1, 1, 1), // index 0
		vm.EncodeJump(vm.OpJMP, start),   // index 1, back to index 0
	)

	tr, code := translate(t, machine, start, 2)

	jmp := tr.insnMap[1]
	assert.Equal(t, byte(0xE9), code[jmp])
	rel := int32(binary.LittleEndian.Uint32(code[jmp+1:]))
	assert.Equal(t, tr.insnMap[0], jmp+emitter.JumpLen+int(rel))
}

func TestOutwardJumpEscapes(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.EncodeJump(vm.OpJMP, 256),
	)

	tr, code := translate(t, machine, start, 1)
	require.Equal(t, emitter.PrologueLen+escapeStubLen+emitter.EpilogueLen, tr.size)

	stub := emitter.PrologueLen
	assert.Equal(t, []byte{0xC7, 0x45, 0xF8}, code[stub:stub+3])
	assert.Equal(t, uint32(256), binary.LittleEndian.Uint32(code[stub+3:]))
}

func TestJALWritesLinkThenJumps(t *testing.T) {
	start := uint32(20)
	machine := newRangeMachine(t, start,
		vm.EncodeJump(vm.OpJAL, 256),
	)

	tr, code := translate(t, machine, start, 1)
	require.Equal(t, emitter.PrologueLen+emitter.MovAddrImm32Len+escapeStubLen+emitter.EpilogueLen, tr.size)

	// The link value is the guest address after the JAL itself
	link := tr.insnMap[0]
	assert.Equal(t, start+4, binary.LittleEndian.Uint32(code[link+12:link+16]))
}

func TestHaltEscapesToItself(t *testing.T) {
	start := uint32(32)
	machine := newRangeMachine(t, start,
		vm.Encode(vm.OpHALT, 0, 0, 0),
	)

	tr, code := translate(t, machine, start, 1)
	require.Equal(t, emitter.PrologueLen+haltLen+emitter.EpilogueLen, tr.size)

	stub := emitter.PrologueLen
	assert.Equal(t, start, binary.LittleEndian.Uint32(code[stub+3:]),
		"the interpreter re-executes the HALT at its own address")
}

func TestTranslationFailures(t *testing.T) {
	cases := []struct {
		name string
		word uint32
		kind vm.ErrorKind
	}{
		{"JR", vm.Encode(vm.OpJR, 1, 0, 0), vm.UnsupportedInTranslation},
		{"nested JIT", vm.EncodeJump(vm.OpJIT, 0), vm.UnsupportedInTranslation},
		{"unknown opcode", uint32(25) << 26, vm.UnknownOpcode},
		{"unaligned jump", vm.EncodeJump(vm.OpJMP, 6), vm.UnalignedJumpTarget},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			start := uint32(12)
			machine := newRangeMachine(t, start,
				vm.EncodeImm(vm.OpADDI, 1, 0, 1),
				c.word,
			)

			tr := newTranslator(machine, start, start+4)
			_, err := tr.measure()
			require.Error(t, err)
			assert.True(t, vm.IsKind(err, c.kind))

			var emuErr *vm.EmulatorError
			require.ErrorAs(t, err, &emuErr)
			assert.Equal(t, 1, emuErr.Index, "failure reports the source index")
		})
	}
}

// recordingAllocator wraps HeapAllocator and counts buffer lifecycle calls
type recordingAllocator struct {
	HeapAllocator
	allocated int
	freed     int
}

func (a *recordingAllocator) Allocate(minBytes int) (*ExecutableBuffer, error) {
	a.allocated++
	return a.HeapAllocator.Allocate(minBytes)
}

func (a *recordingAllocator) Free(b *ExecutableBuffer) error {
	a.freed++
	return a.HeapAllocator.Free(b)
}

func TestDispatcherReleasesBufferOnEveryPath(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.EncodeImm(vm.OpADDI, 1, 0, 1),
	)

	alloc := &recordingAllocator{}
	d := NewDispatcher(alloc)

	// Heap buffers cannot be entered, so the dispatch fails after emission;
	// the buffer must still be freed
	_, err := d.Run(machine, start, start, start)
	require.Error(t, err)
	assert.True(t, vm.IsKind(err, vm.UnsupportedInTranslation))
	assert.Equal(t, 1, alloc.allocated)
	assert.Equal(t, 1, alloc.freed)
}

func TestDispatcherPropagatesTranslationFailure(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.Encode(vm.OpJR, 1, 0, 0),
	)

	alloc := &recordingAllocator{}
	d := NewDispatcher(alloc)

	_, err := d.Run(machine, start, start, start)
	require.Error(t, err)
	assert.True(t, vm.IsKind(err, vm.UnsupportedInTranslation))
	assert.Zero(t, alloc.allocated, "sizing fails before any buffer exists")
}

func TestDumpCode(t *testing.T) {
	start := uint32(12)
	machine := newRangeMachine(t, start,
		vm.EncodeImm(vm.OpADDI, 1, 0, 1),
	)

	var dump bytes.Buffer
	d := NewDispatcher(&HeapAllocator{})
	d.DumpWriter = &dump

	_, _ = d.Run(machine, start, start, start)
	assert.Contains(t, dump.String(), "translation of [12, 12]")
}
