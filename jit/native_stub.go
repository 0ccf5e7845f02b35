//go:build !amd64

package jit

import "github.com/lookbusy1344/imps-emulator/vm"

// enterBuffer calls a finalized buffer as a host function. Only the x86-64
// backend exists; other hosts cannot enter translations.
func enterBuffer(b *ExecutableBuffer, defaultPC uint32) (uint32, error) {
	return 0, vm.Errorf(vm.UnsupportedInTranslation, "no native backend for this host")
}
