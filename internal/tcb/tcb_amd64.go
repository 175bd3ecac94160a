//go:build linux && amd64

package tcb

import (
	"fmt"
	"unsafe"

	"github.com/xyproto/rtld/internal/arch"
	"golang.org/x/sys/unix"
)

// x86-64 identifies the thread-pointer register to arch_prctl(2) by these
// two request numbers (asm/prctl.h); there is no public constant for them
// in golang.org/x/sys/unix so they're declared directly, the same way
// filewatcher_unix.go reaches for raw unix.IN_* flag values.
const (
	archSetFS = 0x1002
	archGetFS = 0x1003
)

// AMD64 is the x86-64 Arch TCB primitive: the thread pointer lives in the
// fs segment base, read and written via arch_prctl(2) (spec.md §4.A).
type AMD64 struct{}

func (AMD64) Arch() arch.Arch { return arch.X86_64 }

func native() Primitive { return AMD64{} }

// ReadSelf returns the current thread's fs base, or NoTCB if arch_prctl
// fails or the base reads back as zero.
func (AMD64) ReadSelf() uintptr {
	var fsbase uint64
	_, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL, archGetFS, uintptr(unsafe.Pointer(&fsbase)), 0)
	if errno != 0 || fsbase == 0 {
		return NoTCB
	}
	return uintptr(fsbase)
}

// Activate installs tcbAddr as the fs base for the calling thread, per
// spec.md §4.A's "Activate(tcb_addr)" — the final step of thread startup
// before control reaches the loaded program's entry point.
func (AMD64) Activate(tcbAddr uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL, archSetFS, tcbAddr, 0)
	if errno != 0 {
		return fmt.Errorf("tcb: arch_prctl(ARCH_SET_FS, %#x): %w", tcbAddr, errno)
	}
	return nil
}
