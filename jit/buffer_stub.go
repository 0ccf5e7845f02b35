//go:build !(linux || darwin)

package jit

import "errors"

// NewNativeAllocator returns the host's executable-buffer allocator
func NewNativeAllocator() (BufferAllocator, error) {
	return nil, errors.New("no executable-buffer allocator for this platform")
}
