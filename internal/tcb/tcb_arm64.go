//go:build linux && arm64

package tcb

import "github.com/xyproto/rtld/internal/arch"

// ARM64 is the AArch64 Arch TCB primitive: the thread pointer lives in
// tpidr_el0, readable and writable directly from EL0 with MRS/MSR — no
// syscall required (spec.md §4.A).
type ARM64 struct{}

func (ARM64) Arch() arch.Arch { return arch.ARM64 }

func native() Primitive { return ARM64{} }

// readTPIDR and writeTPIDR are implemented in tcb_arm64.s.
func readTPIDR() uintptr
func writeTPIDR(addr uintptr)

// ReadSelf returns the current thread's tpidr_el0, or NoTCB if it reads
// back as zero (thread pointer not yet installed).
func (ARM64) ReadSelf() uintptr {
	v := readTPIDR()
	if v == 0 {
		return NoTCB
	}
	return v
}

// Activate installs tcbAddr as tpidr_el0 for the calling thread. Unlike
// amd64's arch_prctl path this can never fail at the instruction level;
// the error return exists only to satisfy Primitive.
func (ARM64) Activate(tcbAddr uintptr) error {
	writeTPIDR(tcbAddr)
	return nil
}
