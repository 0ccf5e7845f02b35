//go:build amd64

package jit

import "github.com/lookbusy1344/imps-emulator/vm"

// jitcall enters generated code at entry with the default continuation PC
// in EDI and returns the continuation PC the code leaves in EAX.
// Implemented in native_amd64.s.
func jitcall(entry uintptr, pc uint32) uint32

// enterBuffer calls a finalized buffer as a host function
func enterBuffer(b *ExecutableBuffer, defaultPC uint32) (uint32, error) {
	if b.Entry() == 0 {
		return 0, vm.Errorf(vm.UnsupportedInTranslation, "buffer is not executable")
	}
	return jitcall(b.Entry(), defaultPC), nil
}
