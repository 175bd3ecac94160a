// Package tcb implements the Arch TCB primitive of spec.md §4.A: reading
// the current thread's TCB pointer out of the architecture-defined
// thread-pointer register, and installing a new one.
//
// Safety note (why this package exists the way it does): on every
// architecture this module supports, the Go runtime itself already uses
// the same thread-pointer register (fs base on amd64, tpidr_el0 on
// arm64's equivalent mechanism, and the tp/x4 register on riscv64) to hold
// its own per-goroutine/per-M state. Calling Activate from inside a
// normal goroutine would corrupt the Go scheduler, not just the loaded
// program's view of its own TLS. This package is meant to be invoked only
// from the dedicated bootstrap context spec.md §5 describes ("Startup is
// single-threaded, cooperative... no other thread exists until the
// program's entry point runs") — i.e. a freestanding driver that owns the
// thread before any Go-runtime goroutine scheduling touches it, exactly
// the out-of-scope entry stub spec.md §1 excludes. Tests in this package
// therefore exercise the pure decision logic (the "no TCB" sentinel rule)
// against injected values rather than the live register.
package tcb

import "github.com/xyproto/rtld/internal/arch"

// NoTCB is the sentinel ReadSelf returns when the thread-pointer register
// holds 0 — spec.md §4.A: "callers treat this as absence". ReadSelf does
// not read the pointed-to structure, so it does not check the length
// field; Valid applies that check to a Header the caller has read.
const NoTCB uintptr = 0

// HeaderSize is the minimum byte length a structure must report in its
// TCBLength field to be considered a valid, fully-initialized TCB rather
// than partially constructed memory.
const HeaderSize = 40 // self + length + tls_end + dtv ptr + dtv length, 8 bytes each

// Header is the architecture-independent prefix of every TCB, in the
// exact field order spec.md §3 fixes: self pointer, TCB length, tls_end,
// DTV pointer, DTV length. No OS-specific or platform-specific block
// follows it: the TCB this module allocates is exactly HeaderSize bytes
// (see internal/linker's allocateAndActivateTCB).
type Header struct {
	Self      uintptr
	Length    uint64
	TLSEnd    uintptr
	DTV       uintptr
	DTVLength uint64
}

// Valid reports whether raw, read directly from the thread-pointer
// register's target, looks like a fully-initialized TCB: nonzero self
// pointer and a reported length no smaller than HeaderSize (spec.md §4.A).
func Valid(h Header) bool {
	return h.Self != 0 && h.Length >= HeaderSize
}

// Primitive is the per-architecture Arch TCB primitive interface spec.md
// §4.A names: ReadSelf/Activate.
type Primitive interface {
	ReadSelf() uintptr
	Activate(tcbAddr uintptr) error
	Arch() arch.Arch
}
