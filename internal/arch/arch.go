// Package arch identifies the CPU architecture this build targets and the
// small set of facts the rest of rtld needs about it (ELF machine number,
// TLS variant, pointer size). Every other package keys its per-arch
// branches off the Arch values defined here.
package arch

import (
	"fmt"
	"strings"
)

// Arch is one of the three architectures the core relocation engine and TLS
// subsystem know how to handle.
type Arch int

const (
	Unknown Arch = iota
	X86_64
	ARM64
	Riscv64
)

func (a Arch) String() string {
	switch a {
	case X86_64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	case Riscv64:
		return "riscv64"
	default:
		return "unknown"
	}
}

// Parse accepts GOARCH-style spellings as well as the ELF/uname spellings.
func Parse(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86_64", "amd64", "x86-64":
		return X86_64, nil
	case "aarch64", "arm64":
		return ARM64, nil
	case "riscv64", "riscv", "rv64":
		return Riscv64, nil
	default:
		return Unknown, fmt.Errorf("arch: unsupported architecture %q (supported: amd64, arm64, riscv64)", s)
	}
}

// ELFMachine returns the e_machine value (EM_*) this architecture's ELF
// objects carry.
func (a Arch) ELFMachine() uint16 {
	switch a {
	case X86_64:
		return 62 // EM_X86_64
	case ARM64:
		return 183 // EM_AARCH64
	case Riscv64:
		return 243 // EM_RISCV
	default:
		return 0
	}
}

// TCBAbove reports whether this architecture's ABI places the static TLS
// block below the thread pointer (TCB "above" TLS, x86-64) as opposed to
// above the TCB (AArch64, RISC-V).
func (a Arch) TCBAbove() bool {
	return a == X86_64
}

// PointerSize is the architecture's native pointer width in bytes. All
// three supported architectures are 64-bit only (spec §1: "ELF64 little
// endian for the three architectures").
const PointerSize = 8

// MinTLSAlign is the minimum static-TLS block alignment the layout
// algorithm enforces regardless of any module's requested p_align
// (spec §4.D: "Track maximum align seen (minimum 16)").
const MinTLSAlign = 16
