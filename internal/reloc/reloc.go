// Package reloc implements the relocation engine of spec.md §4.B: a single
// per-record Apply entry point, dispatched by architecture, that patches
// one relocation's target in place.
package reloc

import (
	"fmt"

	"github.com/xyproto/rtld/internal/arch"
	"github.com/xyproto/rtld/internal/dso"
	"github.com/xyproto/rtld/internal/tcb"
	"github.com/xyproto/rtld/internal/tls"
)

// Class is the relocation semantics a raw reloc_type number maps to,
// independent of which architecture's numeric encoding produced it —
// spec.md §4.B's table groups three architectures' distinct type numbers
// into the same eight rows precisely because the semantics, not the
// numbers, are what the engine dispatches on.
type Class int

const (
	ClassUnknown Class = iota
	ClassAbsolute64
	ClassGlobDat // and JumpSlot: identical semantics, *addr = S
	ClassRelative
	ClassIRelative
	ClassCopy
	ClassTLSModID
	ClassTLSDTPRel
	ClassTLSTPRel
)

// Request carries everything apply(...) needs per spec.md §4.B's signature:
// reloc_type, resolved_sym_value, resolved_sym_size, reloc_addr, addend,
// base_addr, owner_module_id, owner_tls_offset, static_tls_size. Obj is the
// object the relocation's target word lives in (used only to reach the
// *Abs accessors); the rest of the fields are the scalar inputs spec.md
// names directly.
type Request struct {
	Type   uint32
	Obj    *dso.Object
	Addr   dso.VirtualAddr // reloc_addr: Obj.Base + record.Offset
	Addend int64

	SymValue uint64 // S: resolved symbol's runtime address (its raw st_value for TLS DTP-rel/TP-rel), 0 if unresolved
	SymSize  uint64 // resolved symbol's st_size (Copy class)

	Base dso.VirtualAddr // B: Obj.Base, the object's own load bias

	OwnerModuleID int    // owning module's tls_module_id (TLS classes)
	OwnerTLSOffset uint64 // owning module's static tls_offset (TLS classes)
	StaticTLSSize  uint64 // linker-wide static_tls_size (x86-64 TP-rel only)
	StaticAlign    uint64 // linker-wide static_tls_align (AArch64/RISC-V TP-rel only)

	// Resolved reports whether SymValue/SymSize came from an actual
	// symbol lookup. spec.md §4.B's driver calls apply() once before any
	// symbol resolution (base_addr-only inputs) and again after resolving
	// sym_idx against global_symbols; only the classes that genuinely
	// don't need a symbol at all (Relative, IRelative, TLS ModID) may be
	// applied on that first, unresolved call — every class whose
	// semantics read S (Absolute64, GlobDat/JumpSlot, Copy, TLS DTP-rel,
	// TLS TP-rel, and the AArch64/RISC-V instruction-patch classes, all
	// of which fold S into the patched value) must wait for Resolved to
	// report false otherwise, matching the driver's documented retry
	// sequence rather than writing a placeholder zero value.
	Resolved bool

	// IFuncResolver, if non-nil, is invoked for IRelative relocations with
	// B+A as its argument and must return the resolved function's runtime
	// address. A real loader calls the indirect function pointer itself;
	// this module never executes code out of a parsed object (see
	// DESIGN.md); tests wire it to a fake. linker.RelocateSingle does not
	// set it, so an IRelative record it drives makes Apply return an error.
	IFuncResolver func(uintptr) uintptr
}

// Outcome is apply(...)'s result: Handled mirrors spec.md's bool return
// (true = patched, false = "needs apply_copy or is unknown"); Err carries
// an out-of-range or similar failure that occurred while a class that
// otherwise matched was being applied.
type Outcome struct {
	Handled bool
	Err     error
}

// classifier maps one architecture's raw relocation type numbers onto
// Class. Supplied by the three types_*.go files.
type classifier func(uint32) Class

func classifierFor(a arch.Arch) (classifier, error) {
	switch a {
	case arch.X86_64:
		return classifyAMD64, nil
	case arch.ARM64:
		return classifyARM64, nil
	case arch.Riscv64:
		return classifyRISCV64, nil
	default:
		return nil, fmt.Errorf("reloc: unsupported architecture %s", a)
	}
}

// ClassOf exposes the same per-architecture classification Apply dispatches
// on internally, so a caller outside this package can decide how to
// resolve S before building a Request — TLS DTP-rel/TP-rel classes need
// the defining symbol's raw st_value, never base+value, unlike every
// other scalar class (see linker.RelocateSingle).
func ClassOf(a arch.Arch, t uint32) (Class, error) {
	classify, err := classifierFor(a)
	if err != nil {
		return ClassUnknown, err
	}
	return classify(t), nil
}

// Apply is the relocation engine's single entry point (spec.md §4.B). It
// classifies req.Type for a, then patches req.Obj's target word per the
// matched class's semantics. A Class that spec.md marks as needing the
// instruction-patching path (AArch64/RISC-V ADRP/ADD, MOVZ/MOVK, branch
// immediates) is handled inside the per-arch classify/patch pair instead
// of the generic switch below.
func Apply(a arch.Arch, req Request) Outcome {
	classify, err := classifierFor(a)
	if err != nil {
		return Outcome{Handled: false, Err: err}
	}
	class := classify(req.Type)

	switch class {
	case ClassAbsolute64:
		if !req.Resolved {
			return Outcome{Handled: false}
		}
		return writeAbs64(req, uint64(int64(req.SymValue)+req.Addend))
	case ClassGlobDat:
		if !req.Resolved {
			return Outcome{Handled: false}
		}
		return writeAbs64(req, req.SymValue)
	case ClassRelative:
		return writeAbs64(req, uint64(int64(req.Base)+req.Addend))
	case ClassIRelative:
		if req.IFuncResolver == nil {
			return Outcome{Handled: false, Err: fmt.Errorf("reloc: IRelative at %s: no resolver configured", req.Addr)}
		}
		resolved := req.IFuncResolver(uintptr(int64(req.Base) + req.Addend))
		return writeAbs64(req, uint64(resolved))
	case ClassTLSModID:
		return writeAbs64(req, uint64(req.OwnerModuleID))
	case ClassTLSDTPRel:
		if !req.Resolved {
			return Outcome{Handled: false}
		}
		return writeAbs64(req, uint64(int64(req.SymValue)+req.Addend))
	case ClassTLSTPRel:
		if !req.Resolved {
			return Outcome{Handled: false}
		}
		return writeAbs64(req, tpRelValue(a, req))
	case ClassCopy:
		// Copy relocations are never patched here — spec.md §4.B: "the
		// driver first calls apply(...); if it returns false and the
		// caller has a resolved symbol, it invokes apply_copy(...)".
		return Outcome{Handled: false}
	default:
		// AArch64/RISC-V instruction-patching classes land here and are
		// dispatched by tryInstructionPatch once the symbol is resolved;
		// any other type reaching default is unrecognized and reported
		// unhandled.
		if !req.Resolved {
			return Outcome{Handled: false}
		}
		if patched, ok := tryInstructionPatch(a, req); ok {
			return patched
		}
		return Outcome{Handled: false}
	}
}

// writeAbs64 performs the common *addr = val 8-byte store every scalar
// relocation class needs, translating req.Addr to a Mem index via the
// object's ReadWordAbs/WriteWordAbs accessors (see DESIGN.md's "Object.Mem
// indexing convention").
func writeAbs64(req Request, val uint64) Outcome {
	if err := req.Obj.WriteWordAbs(req.Addr, val); err != nil {
		return Outcome{Handled: false, Err: err}
	}
	return Outcome{Handled: true}
}

// tpRelValue computes the TLS TP-relative value per spec.md §4.B's two ABI
// formulas.
func tpRelValue(a arch.Arch, req Request) uint64 {
	s := int64(req.SymValue) + req.Addend
	if a.TCBAbove() {
		return uint64(int64(req.OwnerTLSOffset) + s - int64(req.StaticTLSSize))
	}
	return uint64(alignedTCBSize(req.StaticAlign) + req.OwnerTLSOffset + uint64(s))
}

// alignedTCBSize is the TCB-below architectures' (AArch64, RISC-V64) TCB
// size rounded up to the linker's static TLS alignment, matching
// tls.BlockStart's own alignUp(tcb.HeaderSize, StaticAlign) exactly — both
// must agree, since BlockStart fixes where internal/linker actually carves
// out the static TLS block and this formula computes where a TP-relative
// access expects to find it. A hardcoded constant here would silently
// diverge from BlockStart whenever StaticAlign exceeds tcb.HeaderSize's
// own 16-byte rounding (e.g. a 32- or 64-aligned .tbss section).
func alignedTCBSize(staticAlign uint64) uint64 {
	return tls.AlignUp(tcb.HeaderSize, staticAlign)
}

// ApplyCopy performs the memcpy(addr, S, sym_size) path spec.md §4.B
// describes for the three *_COPY relocation types, invoked by the linker
// only after Apply has returned Outcome{Handled:false} for a record whose
// resolved symbol is known. dst is the object carrying the copy
// relocation (almost always the executable); src is the defining object.
func ApplyCopy(a arch.Arch, req Request, src *dso.Object, srcAddr dso.VirtualAddr) Outcome {
	classify, err := classifierFor(a)
	if err != nil {
		return Outcome{Handled: false, Err: err}
	}
	if classify(req.Type) != ClassCopy {
		return Outcome{Handled: false, Err: fmt.Errorf("reloc: ApplyCopy called with non-copy type %d", req.Type)}
	}
	if err := dso.CopyBytesAbs(req.Obj, req.Addr, src, srcAddr, req.SymSize); err != nil {
		return Outcome{Handled: false, Err: err}
	}
	return Outcome{Handled: true}
}
