// Package loader reads raw IMPS program images into guest memory.
package loader

import (
	"os"

	"github.com/lookbusy1344/imps-emulator/vm"
)

// LoadImageIntoVM reads a raw little-endian program image and places it at
// guest address 0. Memory beyond the image stays zero-initialized. The
// machine's ProgramSize is set to the image length.
func LoadImageIntoVM(machine *vm.VM, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return vm.Errorf(vm.IoOpenFailed, "reading program file %s", path).Wrap(err)
	}
	return LoadImage(machine, data)
}

// LoadImage places an in-memory program image at guest address 0
func LoadImage(machine *vm.VM, data []byte) error {
	if len(data) > vm.MemorySize {
		return vm.Errorf(vm.IoOpenFailed, "program image of %d bytes exceeds the %d byte address space", len(data), vm.MemorySize)
	}
	copy(machine.Memory.Data, data)
	machine.ProgramSize = uint32(len(data))
	return nil
}
