//go:build linux || darwin

package jit

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapAllocator maps anonymous read+write+execute regions. The writable and
// executable views coincide, so Finalize has nothing to flip.
type MmapAllocator struct{}

// Allocate maps a fresh W+X region of at least minBytes
func (MmapAllocator) Allocate(minBytes int) (*ExecutableBuffer, error) {
	if minBytes < 1 {
		minBytes = 1
	}
	code, err := unix.Mmap(-1, 0, minBytes,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &ExecutableBuffer{
		code:  code,
		entry: uintptr(unsafe.Pointer(&code[0])),
	}, nil
}

// Finalize is a no-op: the mapping is already executable
func (MmapAllocator) Finalize(*ExecutableBuffer) error {
	return nil
}

// Free unmaps the region
func (MmapAllocator) Free(b *ExecutableBuffer) error {
	return unix.Munmap(b.code)
}

// NewNativeAllocator returns the host's executable-buffer allocator
func NewNativeAllocator() (BufferAllocator, error) {
	return MmapAllocator{}, nil
}
