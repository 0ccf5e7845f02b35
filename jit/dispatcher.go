package jit

import (
	"fmt"
	"io"

	"github.com/lookbusy1344/imps-emulator/vm"
)

// Dispatcher implements vm.TranslationBackend. For each request it sizes
// the translation, allocates an executable buffer, emits into it, enters it
// with the default continuation PC, and frees the buffer before handing the
// returned continuation PC back to the interpreter.
type Dispatcher struct {
	Allocator BufferAllocator

	// DumpWriter, when non-nil, receives a hex dump of every emitted
	// buffer before it runs
	DumpWriter io.Writer
}

// NewDispatcher creates a dispatcher over the given allocator
func NewDispatcher(alloc BufferAllocator) *Dispatcher {
	return &Dispatcher{Allocator: alloc}
}

// New creates a dispatcher over the host's native allocator
func New() (*Dispatcher, error) {
	alloc, err := NewNativeAllocator()
	if err != nil {
		return nil, err
	}
	return NewDispatcher(alloc), nil
}

// Run translates the inclusive guest range [start, end] and executes it.
// The buffer is released on every exit path.
func (d *Dispatcher) Run(machine *vm.VM, start, end, defaultPC uint32) (uint32, error) {
	t := newTranslator(machine, start, end)

	size, err := t.measure()
	if err != nil {
		return 0, err
	}

	buf, err := d.Allocator.Allocate(size)
	if err != nil {
		return 0, vm.Errorf(vm.TranslationBufferExhausted, "allocating %d bytes", size).Wrap(err)
	}
	defer d.Allocator.Free(buf)

	if err := t.emit(buf.Code()[:size]); err != nil {
		return 0, err
	}

	if d.DumpWriter != nil {
		dumpCode(d.DumpWriter, start, end, buf.Code()[:size])
	}

	if err := d.Allocator.Finalize(buf); err != nil {
		return 0, err
	}

	return enterBuffer(buf, defaultPC)
}

// dumpCode prints an emitted buffer as hex, 16 bytes per line
func dumpCode(w io.Writer, start, end uint32, code []byte) {
	fmt.Fprintf(w, "translation of [%d, %d], %d bytes:\n", start, end, len(code))
	for off := 0; off < len(code); off += 16 {
		line := code[off:min(off+16, len(code))]
		fmt.Fprintf(w, "  +%-4d % x\n", off, line)
	}
}
