// Package dso parses one ELF dynamic shared object — executable or
// library — into the in-memory view the linker orchestrator and
// relocation engine operate on (spec.md §3 "DSO", §4.C).
package dso

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/xyproto/rtld/internal/arch"
)

// State is a DSO's position in the non-revertible state machine spec.md
// §4.E describes: Unloaded -> Mapped -> DynamicParsed -> TlsAssigned ->
// Relocated -> Initialized.
type State int

const (
	Unloaded State = iota
	Mapped
	DynamicParsed
	TlsAssigned
	Relocated
	Initialized
)

// Sym is one entry of a DSO's dynamic symbol table, decoded from the raw
// Elf64_Sym into host-friendly fields.
type Sym struct {
	NameOff uint32
	Value   uint64
	Size    uint64
	Info    uint8
	Shndx   uint16
}

// Type returns the STT_* symbol type (low 4 bits of st_info).
func (s Sym) Type() elf.SymType { return elf.SymType(s.Info & 0xf) }

// Bind returns the STB_* symbol binding (high 4 bits of st_info).
func (s Sym) Bind() elf.SymBind { return elf.SymBind(s.Info >> 4) }

// Defined reports whether the symbol has a definition in this object
// (st_shndx != SHN_UNDEF), per spec.md §4.E step 4.
func (s Sym) Defined() bool { return s.Shndx != shnUndef }

// Rela is one relaxed relocation-with-addend record, already projected to
// the 4-tuple spec.md §4.C's relocation enumeration promises:
// (reloc_type, symbol_index, offset, addend).
type Rela struct {
	Type   uint32
	Sym    uint32
	Offset uint64
	Addend int64
}

// TLSDescriptor is the per-object TLS metadata of spec.md §3 "DSO",
// populated by parseTLS at load time and by internal/tls at layout time
// (ModuleID, Offset).
type TLSDescriptor struct {
	ModuleID int    // >=1 once assigned by internal/tls; 0 means no TLS
	Offset   uint64 // set during static TLS layout
	Size     uint64 // p_memsz
	Align    uint64 // p_align
	Image    []byte // initialized bytes; len(Image) may be < Size (BSS tail)
}

// HasTLS reports whether this object carries a PT_TLS segment.
func (t TLSDescriptor) HasTLS() bool { return t.Size > 0 || len(t.Image) > 0 }

// RelroRange is one PT_GNU_RELRO program header's [start, end) virtual
// address range, re-protected read-only once relocation completes
// (spec.md §4.E step 7).
type RelroRange struct {
	Start VirtualAddr
	End   VirtualAddr
}

// Object is one loaded ELF DSO: the executable (name == "main") or one of
// its transitive DT_NEEDED dependencies. Object is immutable after dynamic
// parsing except for the TLS fields ModuleID/Offset, which internal/tls
// assigns during layout (spec.md §3 invariants).
type Object struct {
	Name    string
	Arch    arch.Arch
	Base    VirtualAddr // runtime load delta; 0 for a non-PIE executable
	Entry   VirtualAddr // only meaningful for the executable
	State   State
	Phdrs   []elf.ProgHeader

	// Mem is the object's mapped image, indexed directly by the file's
	// virtual addresses (i.e. Mem[v] is the byte at vaddr v) — a
	// simplification over a real loader's multi-segment mmap, justified
	// because this module never loads binaries whose vaddr space is large
	// enough for the waste to matter (see DESIGN.md).
	Mem []byte

	Sym    []Sym
	Str    []byte
	GNU    *GNUHash
	SysV   *SysVHash
	RelaDyn []Rela
	RelaPlt []Rela
	RelaCount uint64 // DT_RELACOUNT hint: leading R_*_RELATIVE entries in RelaDyn

	PltGot VirtualAddr

	InitFunc  VirtualAddr
	FiniFunc  VirtualAddr
	InitArray []VirtualAddr
	FiniArray []VirtualAddr

	Versym  []uint16
	Verneed *Verneed
	Verdef  *Verdef
	Needed  []string // DT_NEEDED entries, in file order

	TLS TLSDescriptor

	Relro []RelroRange
}

// dynEntry is one raw Elf64_Dyn entry (d_tag, d_val/d_ptr).
type dynEntry struct {
	Tag int64
	Val uint64
}

// GetSymName returns the string-table entry for sym[idx].st_name, or
// ("", false) when st_name == 0 (spec.md §4.C get_sym_name).
func (o *Object) GetSymName(idx uint32) (string, bool) {
	if int(idx) >= len(o.Sym) {
		return "", false
	}
	s := o.Sym[idx]
	if s.NameOff == 0 {
		return "", false
	}
	return cstr(o.Str, s.NameOff), true
}

// cstr reads a NUL-terminated string starting at off within buf.
func cstr(buf []byte, off uint32) string {
	if int(off) >= len(buf) {
		return ""
	}
	end := off
	for int(end) < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}

// Relocations yields every relocation record from rela.dyn then rela.plt,
// in that order, per spec.md §4.C "Relocation enumeration".
func (o *Object) Relocations() []Rela {
	out := make([]Rela, 0, len(o.RelaDyn)+len(o.RelaPlt))
	out = append(out, o.RelaDyn...)
	out = append(out, o.RelaPlt...)
	return out
}

// ReadWordAt reads a little-endian 8-byte word at link-time vaddr v
// (i.e. relative to this object, not yet offset by Base) from the
// object's mapped image.
func (o *Object) ReadWordAt(v VirtualAddr) (uint64, error) {
	i := int(v)
	if i < 0 || i+8 > len(o.Mem) {
		return 0, fmt.Errorf("dso: %s: ReadWordAt out of range at %s", o.Name, v)
	}
	return binary.LittleEndian.Uint64(o.Mem[i : i+8]), nil
}

// WriteWordAt writes val as a little-endian 8-byte word at link-time vaddr
// v.
func (o *Object) WriteWordAt(v VirtualAddr, val uint64) error {
	i := int(v)
	if i < 0 || i+8 > len(o.Mem) {
		return fmt.Errorf("dso: %s: WriteWordAt out of range at %s", o.Name, v)
	}
	binary.LittleEndian.PutUint64(o.Mem[i:i+8], val)
	return nil
}

// ReadWordAbs and WriteWordAbs take a runtime address (Base + link-time
// vaddr, exactly what the relocation engine computes as reloc_addr per
// spec.md §4.E) and translate it back to an index into Mem. Mem is kept
// indexed by link-time vaddr rather than actually mapped at its runtime
// address — this module never installs objects at real fixed virtual
// addresses (see DESIGN.md) — so these are the entry points relocation
// code should use.
func (o *Object) ReadWordAbs(addr VirtualAddr) (uint64, error) {
	return o.ReadWordAt(addr - o.Base)
}

func (o *Object) WriteWordAbs(addr VirtualAddr, val uint64) error {
	return o.WriteWordAt(addr-o.Base, val)
}

// ReadWord32Abs and WriteWord32Abs operate on a single 4-byte
// little-endian instruction word at a runtime address — what the
// AArch64/RISC-V instruction-patching relocations (ADRP/ADD, MOVZ/MOVK,
// branch immediates) read-modify-write (spec.md §4.B).
func (o *Object) ReadWord32Abs(addr VirtualAddr) (uint32, error) {
	i := int(addr - o.Base)
	if i < 0 || i+4 > len(o.Mem) {
		return 0, fmt.Errorf("dso: %s: ReadWord32Abs out of range at %s", o.Name, addr)
	}
	return binary.LittleEndian.Uint32(o.Mem[i : i+4]), nil
}

func (o *Object) WriteWord32Abs(addr VirtualAddr, val uint32) error {
	i := int(addr - o.Base)
	if i < 0 || i+4 > len(o.Mem) {
		return fmt.Errorf("dso: %s: WriteWord32Abs out of range at %s", o.Name, addr)
	}
	binary.LittleEndian.PutUint32(o.Mem[i:i+4], val)
	return nil
}

// CopyBytesAbs copies n bytes from src's runtime address srcAddr (in src's
// own Mem) into dst's runtime address dstAddr — the memmove a copy
// relocation performs (spec.md §4.B "Copy" class).
func CopyBytesAbs(dst *Object, dstAddr VirtualAddr, src *Object, srcAddr VirtualAddr, n uint64) error {
	di := int(dstAddr - dst.Base)
	si := int(srcAddr - src.Base)
	if di < 0 || di+int(n) > len(dst.Mem) {
		return fmt.Errorf("dso: %s: copy destination out of range at %s", dst.Name, dstAddr)
	}
	if si < 0 || si+int(n) > len(src.Mem) {
		return fmt.Errorf("dso: %s: copy source out of range at %s", src.Name, srcAddr)
	}
	copy(dst.Mem[di:di+int(n)], src.Mem[si:si+int(n)])
	return nil
}
