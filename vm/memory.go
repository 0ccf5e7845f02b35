package vm

import "encoding/binary"

// Memory represents the IMPS flat guest address space: a single 64KB
// byte-addressable array. 32-bit words are stored little-endian and may be
// read or written at any byte offset, aligned or not.
type Memory struct {
	Data []byte
}

// NewMemory creates and initializes a new Memory instance.
//
// Like the register file, the backing array must stay at a stable address
// for the lifetime of any translation emitted against it.
func NewMemory() *Memory {
	return &Memory{
		Data: make([]byte, MemorySize),
	}
}

// Reset zeroes all of memory
func (m *Memory) Reset() {
	for i := range m.Data {
		m.Data[i] = 0
	}
}

// InBounds reports whether a full 32-bit word at address is inside memory
func (m *Memory) InBounds(address uint32) bool {
	return uint64(address)+4 <= uint64(len(m.Data))
}

// ReadWord reads a little-endian 32-bit word at the given byte address
func (m *Memory) ReadWord(address uint32) (uint32, error) {
	if !m.InBounds(address) {
		return 0, Errorf(OutOfBoundsAccess, "read of word at %d is outside memory", address)
	}
	return binary.LittleEndian.Uint32(m.Data[address:]), nil
}

// WriteWord writes a little-endian 32-bit word at the given byte address
func (m *Memory) WriteWord(address uint32, value uint32) error {
	if !m.InBounds(address) {
		return Errorf(OutOfBoundsAccess, "write of word at %d is outside memory", address)
	}
	binary.LittleEndian.PutUint32(m.Data[address:], value)
	return nil
}
