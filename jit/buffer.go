package jit

import "errors"

// ExecutableBuffer is a region of host memory holding one translation. The
// writable view is Code; Entry is the executable address of its first byte,
// or zero when the region cannot be entered (heap allocator). The base is
// stable for the buffer's lifetime.
type ExecutableBuffer struct {
	code  []byte
	entry uintptr
}

// Code returns the writable view of the buffer
func (b *ExecutableBuffer) Code() []byte {
	return b.code
}

// Entry returns the executable entry address, or zero
func (b *ExecutableBuffer) Entry() uintptr {
	return b.entry
}

// Len returns the buffer capacity in bytes
func (b *ExecutableBuffer) Len() int {
	return len(b.code)
}

// BufferAllocator is the host capability the dispatcher needs: hand out a
// writable region that can be executed, optionally flip it live, and
// release it. Each buffer is scoped to a single dispatch.
type BufferAllocator interface {
	Allocate(minBytes int) (*ExecutableBuffer, error)
	// Finalize performs any write-to-exec transition or icache flush the
	// host requires before the buffer may be entered
	Finalize(*ExecutableBuffer) error
	Free(*ExecutableBuffer) error
}

// HeapAllocator hands out ordinary heap memory that can never be entered.
// Tests use it to assert emitted bytes without executing them.
type HeapAllocator struct{}

// Allocate returns a plain writable buffer with a zero entry address
func (HeapAllocator) Allocate(minBytes int) (*ExecutableBuffer, error) {
	if minBytes < 1 {
		return nil, errors.New("buffer size must be positive")
	}
	return &ExecutableBuffer{code: make([]byte, minBytes)}, nil
}

// Finalize is a no-op for heap buffers
func (HeapAllocator) Finalize(*ExecutableBuffer) error {
	return nil
}

// Free is a no-op for heap buffers
func (HeapAllocator) Free(*ExecutableBuffer) error {
	return nil
}
