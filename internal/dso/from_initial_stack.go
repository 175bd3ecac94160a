package dso

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/xyproto/rtld/internal/arch"
	"github.com/xyproto/rtld/internal/auxv"
)

// FromInitialStack parses argc/argv/envp/auxv from the kernel-provided
// initial stack pointer sp and constructs the executable's own DSO, per
// spec.md §4.C: locates AT_PHDR/AT_PHNUM/AT_ENTRY, derives base_addr as
// the virtual address of the first PT_LOAD with file offset 0 (0 for a
// non-PIE executable, the load delta for a PIE), then parses dynamic and
// TLS. Sets name="main".
//
// readWord reads one 8-byte word from the live process's own address
// space at the given address — in a real freestanding loader this is a
// direct pointer dereference; this module takes it as a function so tests
// can drive the same parsing logic against a synthetic stack image
// (internal/auxv's tests do exactly that) without touching real memory.
func FromInitialStack(sp uintptr, readWord func(uintptr) uint64, want arch.Arch) (*Object, error) {
	_, _, _, av, err := auxv.ParseInitialStack(sp, readWord)
	if err != nil {
		return nil, fmt.Errorf("dso: parse initial stack: %w", err)
	}
	phdrAddr, ok := av.Lookup(auxv.Phdr)
	if !ok {
		return nil, fmt.Errorf("dso: AT_PHDR missing from auxv")
	}
	phnum, ok := av.Lookup(auxv.Phnum)
	if !ok {
		return nil, fmt.Errorf("dso: AT_PHNUM missing from auxv")
	}
	entry, ok := av.Lookup(auxv.EntryPoint)
	if !ok {
		return nil, fmt.Errorf("dso: AT_ENTRY missing from auxv")
	}
	return FromPhdrPointer(uintptr(phdrAddr), int(phnum), uintptr(entry), want)
}

// FromPhdrPointer builds the executable's DSO directly from a live AT_PHDR
// pointer, AT_PHNUM count and AT_ENTRY value — the path a genuine
// freestanding bootstrap takes once it has decoded those three auxv
// entries. It reads the program header table (and everything the dynamic
// section subsequently points at) straight out of the running process's
// own already-mapped memory via unsafeByteSliceAt, exactly as a real
// ld.so relocates its own segments in place rather than copying them.
//
// Object.Mem is indexed starting at link-time vaddr 0 (matching FromBytes'
// convention), so the live-memory view spans [base, base+maxVaddr) even
// though bytes below the lowest PT_LOAD's vaddr are never touched.
func FromPhdrPointer(phdrAddr uintptr, phnum int, entry uintptr, want arch.Arch) (*Object, error) {
	const phentsize = 56
	phdrBytes := unsafeByteSliceAt(phdrAddr, phnum*phentsize)
	phdrs, err := decodeRawProgHeaders(phdrBytes, phnum)
	if err != nil {
		return nil, fmt.Errorf("dso: main: %w", err)
	}

	var maxVaddr uint64
	var base uint64
	haveBase := false
	for _, ph := range phdrs {
		if ph.Type != ptLoad {
			continue
		}
		if end := ph.Vaddr + ph.Memsz; end > maxVaddr {
			maxVaddr = end
		}
		if ph.Off == 0 && !haveBase {
			// AT_PHDR lies at base + e_phoff's vaddr; e_phoff is always
			// 64 (immediately after the fixed-size ELF header) for
			// binaries produced by a standard linker, so the phdr
			// table's link-time vaddr is ph.Vaddr+elfHeaderSize.
			base = uint64(phdrAddr) - (ph.Vaddr + elfHeaderSize)
			haveBase = true
		}
	}
	if !haveBase {
		return nil, fmt.Errorf("dso: main: no PT_LOAD segment with file offset 0")
	}

	mem := unsafeByteSliceAt(uintptr(base), int(maxVaddr))
	o := &Object{
		Name:  "main",
		Arch:  want,
		Base:  VirtualAddr(base),
		Phdrs: phdrs,
		Mem:   mem,
		Entry: VirtualAddr(entry) - VirtualAddr(base),
		State: Mapped,
	}

	var dynOff VirtualAddr
	haveDyn := false
	for _, ph := range phdrs {
		if ph.Type == ptDynamic {
			dynOff = VirtualAddr(ph.Vaddr)
			haveDyn = true
			break
		}
	}
	if haveDyn {
		if err := o.parseDynamic(dynOff); err != nil {
			return nil, err
		}
	} else {
		o.State = DynamicParsed
	}
	if err := o.parseTLS(); err != nil {
		return nil, err
	}
	o.parseRelro()
	return o, nil
}

// decodeRawProgHeaders decodes phnum Elf64_Phdr entries starting at the
// beginning of buf (buf is already sliced to exactly cover the table),
// used by FromPhdrPointer where there is no surrounding ELF file image to
// index into — only the live phdr table itself.
func decodeRawProgHeaders(buf []byte, phnum int) ([]elf.ProgHeader, error) {
	const phentsize = 56
	out := make([]elf.ProgHeader, phnum)
	for i := range out {
		off := i * phentsize
		if off+phentsize > len(buf) {
			return nil, fmt.Errorf("program header table runs past end of mapping")
		}
		b := buf[off:]
		out[i] = elf.ProgHeader{
			Type:   elf.ProgType(binary.LittleEndian.Uint32(b[0:])),
			Flags:  elf.ProgFlag(binary.LittleEndian.Uint32(b[4:])),
			Off:    binary.LittleEndian.Uint64(b[8:]),
			Vaddr:  binary.LittleEndian.Uint64(b[16:]),
			Paddr:  binary.LittleEndian.Uint64(b[24:]),
			Filesz: binary.LittleEndian.Uint64(b[32:]),
			Memsz:  binary.LittleEndian.Uint64(b[40:]),
			Align:  binary.LittleEndian.Uint64(b[48:]),
		}
	}
	return out, nil
}
