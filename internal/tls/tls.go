// Package tls implements the static TLS layout algorithm, the Dynamic
// Thread Vector, and per-thread TLS block initialization of spec.md §4.D.
package tls

import (
	"fmt"

	"github.com/xyproto/rtld/internal/arch"
	"github.com/xyproto/rtld/internal/dso"
	"github.com/xyproto/rtld/internal/tunables"
)

// Geometry is the linker-wide TLS layout state spec.md §3 "Linker state"
// lists: static_tls_size, static_tls_align, static_tls_end_offset,
// surplus_remaining, surplus_size.
type Geometry struct {
	StaticSize       uint64
	StaticAlign      uint64
	StaticEndOffset  uint64
	SurplusSize      uint64
	SurplusRemaining uint64
}

// alignUp rounds n up to a multiple of align (align must be a power of 2,
// or 0/1 which are treated as no alignment).
func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// AlignUp exposes alignUp to callers outside this package that must derive
// the same aligned size BlockStart computes internally — the TCB-below
// allocator (internal/linker.allocateAndActivateTCB) and the TP-rel
// relocation formula (internal/reloc.tpRelValue) both need the aligned TCB
// size to agree with BlockStart's own alignUp(tcbSize, StaticAlign), or
// the thread's TCB and its static TLS block land at different addresses
// than the relocation engine assumes.
func AlignUp(n, align uint64) uint64 {
	return alignUp(n, align)
}

// Layout runs the static TLS layout pass of spec.md §4.D step 1-2 over
// objs in load order, assigning tls_module_id and tls_offset on every
// TLS-bearing object. surplus is the configured surplus size (see
// tunables.StaticTLSSurplus); pass 0 to use the package default.
func Layout(objs []*dso.Object, surplus uint64) (*Geometry, error) {
	if surplus == 0 {
		surplus = uint64(tunables.DefaultStaticTLSSurplus)
	}
	g := &Geometry{StaticAlign: arch.MinTLSAlign}

	var running uint64
	for i, obj := range objs {
		if !obj.TLS.HasTLS() {
			continue
		}
		align := obj.TLS.Align
		if align == 0 {
			align = 1
		}
		if align > g.StaticAlign {
			g.StaticAlign = align
		}
		running = alignUp(running, align)
		obj.TLS.ModuleID = i + 1
		obj.TLS.Offset = running
		running += obj.TLS.Size
	}
	g.StaticEndOffset = running
	g.SurplusSize = surplus
	g.SurplusRemaining = surplus
	g.StaticSize = running + surplus
	return g, nil
}

// TryFitSurplus attempts to place a dlopen-ed module's TLS block inside
// the remaining static TLS surplus (an aligned bump allocation, spec.md
// §4.D "Surplus allocator"). On success it assigns obj.TLS.ModuleID and
// obj.TLS.Offset and returns true; on failure it returns false and leaves
// obj untouched so the caller can register it as a dynamic TLS module
// instead.
func (g *Geometry) TryFitSurplus(obj *dso.Object, moduleID int) bool {
	if !obj.TLS.HasTLS() {
		return false
	}
	align := obj.TLS.Align
	if align == 0 {
		align = 1
	}
	base := g.StaticSize - g.SurplusRemaining
	aligned := alignUp(base, align)
	pad := aligned - base
	if pad+obj.TLS.Size > g.SurplusRemaining {
		return false
	}
	obj.TLS.ModuleID = moduleID
	obj.TLS.Offset = aligned
	g.SurplusRemaining -= pad + obj.TLS.Size
	return true
}

// BlockStart computes BLOCK_START for one thread's static TLS block given
// that thread's TCB address, per spec.md §4.D's per-architecture formula:
// below the thread pointer on x86-64 (TCB-above), above a size-aligned TCB
// on AArch64/RISC-V (TCB-below).
func BlockStart(a arch.Arch, tcbAddr uint64, tcbSize uint64, g *Geometry) uint64 {
	if a.TCBAbove() {
		return tcbAddr - g.StaticSize
	}
	return tcbAddr + alignUp(tcbSize, g.StaticAlign)
}

// InitThread copies every TLS-bearing object's image into blockStart +
// tls_offset and zeroes the BSS tail, per spec.md §4.D "Static TLS
// initialization for one thread". dst is the destination thread's static
// TLS block, sized at least StaticSize bytes, addressable as dst[0] ==
// blockStart.
func InitThread(objs []*dso.Object, dst []byte, blockStart uint64, g *Geometry) error {
	if uint64(len(dst)) < g.StaticSize {
		return fmt.Errorf("tls: destination block too small: have %d, need %d", len(dst), g.StaticSize)
	}
	for _, obj := range objs {
		if !obj.TLS.HasTLS() {
			continue
		}
		off := obj.TLS.Offset
		if off+obj.TLS.Size > uint64(len(dst)) {
			return fmt.Errorf("tls: %s: offset %d size %d exceeds block of %d bytes", obj.Name, off, obj.TLS.Size, len(dst))
		}
		n := copy(dst[off:], obj.TLS.Image)
		for i := off + uint64(n); i < off+obj.TLS.Size; i++ {
			dst[i] = 0
		}
	}
	return nil
}
