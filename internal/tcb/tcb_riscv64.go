//go:build linux && riscv64

package tcb

import "github.com/xyproto/rtld/internal/arch"

// RISCV64 is the RISC-V64 Arch TCB primitive: the thread pointer lives in
// the tp register (x4), a plain general-purpose register any EL0 code can
// read or overwrite directly (spec.md §4.A).
//
// Note: tp/x4 is also the register Go's own runtime reserves for g (the
// current goroutine) on this architecture. Activate must only run on a
// thread the Go scheduler does not otherwise manage — see the package
// doc comment.
type RISCV64 struct{}

func (RISCV64) Arch() arch.Arch { return arch.Riscv64 }

func native() Primitive { return RISCV64{} }

// readTP and writeTP are implemented in tcb_riscv64.s.
func readTP() uintptr
func writeTP(addr uintptr)

func (RISCV64) ReadSelf() uintptr {
	v := readTP()
	if v == 0 {
		return NoTCB
	}
	return v
}

func (RISCV64) Activate(tcbAddr uintptr) error {
	writeTP(tcbAddr)
	return nil
}
