package dso

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"unsafe"

	rtldarch "github.com/xyproto/rtld/internal/arch"
)

const elfHeaderSize = 64
const elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7f, 'E', 'L', 'F'

// elfHeader is the subset of the ELF64 file header this module consumes.
type elfHeader struct {
	Type      uint16
	Machine   uint16
	Entry     uint64
	Phoff     uint64
	Phnum     uint16
	Phentsize uint16
}

// decodeELFHeader validates the magic/class/endianness/architecture and
// decodes the fields FromBytes (and so FromPath) needs.
func decodeELFHeader(buf []byte, want rtldarch.Arch) (*elfHeader, error) {
	if len(buf) < elfHeaderSize {
		return nil, fmt.Errorf("dso: file too small to be an ELF header")
	}
	if buf[0] != elfMagic0 || buf[1] != elfMagic1 || buf[2] != elfMagic2 || buf[3] != elfMagic3 {
		return nil, fmt.Errorf("dso: bad ELF magic")
	}
	if buf[4] != 2 { // ELFCLASS64
		return nil, fmt.Errorf("dso: not a 64-bit ELF object")
	}
	if buf[5] != 1 { // ELFDATA2LSB
		return nil, fmt.Errorf("dso: not a little-endian ELF object")
	}
	h := &elfHeader{
		Type:      binary.LittleEndian.Uint16(buf[16:]),
		Machine:   binary.LittleEndian.Uint16(buf[18:]),
		Entry:     binary.LittleEndian.Uint64(buf[24:]),
		Phoff:     binary.LittleEndian.Uint64(buf[32:]),
		Phentsize: binary.LittleEndian.Uint16(buf[54:]),
		Phnum:     binary.LittleEndian.Uint16(buf[56:]),
	}
	if want != rtldarch.Unknown && h.Machine != want.ELFMachine() {
		return nil, fmt.Errorf("dso: ELF machine %d does not match requested architecture %s", h.Machine, want)
	}
	return h, nil
}

func decodeProgHeaders(buf []byte, h *elfHeader) ([]elf.ProgHeader, error) {
	const phentsize = 56
	if h.Phentsize != 0 && h.Phentsize != phentsize {
		return nil, fmt.Errorf("dso: unexpected program header entry size %d", h.Phentsize)
	}
	out := make([]elf.ProgHeader, h.Phnum)
	for i := range out {
		off := int(h.Phoff) + i*phentsize
		if off+phentsize > len(buf) {
			return nil, fmt.Errorf("dso: program header table runs past end of file")
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

// layoutImage builds the Mem buffer this package indexes by link-time
// vaddr: every PT_LOAD segment's file bytes copied to its p_vaddr offset,
// with the p_filesz..p_memsz tail left zero (BSS). file is the object's
// full on-disk image.
func layoutImage(file []byte, phdrs []elf.ProgHeader) ([]byte, error) {
	var maxVaddr uint64
	for _, ph := range phdrs {
		if ph.Type != ptLoad {
			continue
		}
		if end := ph.Vaddr + ph.Memsz; end > maxVaddr {
			maxVaddr = end
		}
	}
	mem := make([]byte, maxVaddr)
	for _, ph := range phdrs {
		if ph.Type != ptLoad {
			continue
		}
		if ph.Off+ph.Filesz > uint64(len(file)) {
			return nil, fmt.Errorf("dso: PT_LOAD file range out of bounds")
		}
		copy(mem[ph.Vaddr:], file[ph.Off:ph.Off+ph.Filesz])
	}
	return mem, nil
}

// firstLoadBaseDelta returns the runtime-load delta: 0 for a non-PIE
// executable (ET_EXEC), or (as spec.md §4.C requires) the virtual address
// of the first PT_LOAD with file offset 0, subtracted from the address the
// object was actually mapped at.
func firstLoadBaseDelta(phdrs []elf.ProgHeader, mappedAt uint64) uint64 {
	for _, ph := range phdrs {
		if ph.Type == ptLoad && ph.Off == 0 {
			return mappedAt - ph.Vaddr
		}
	}
	return mappedAt
}

// FromBytes is the OS-agnostic parse step shared by FromPath's real
// mmap-backed loading path (loaders_linux.go) and by tests that hand it an
// in-memory file image directly. base is the runtime load delta spec.md
// §4.C describes: 0 for a non-PIE executable, otherwise the difference
// between where the object was actually mapped and its first PT_LOAD's
// p_vaddr — computing that delta is FromPath's job (it knows the real
// mmap address); FromBytes only records whatever it is told.
func FromBytes(name string, fileImage []byte, want rtldarch.Arch, base VirtualAddr) (*Object, error) {
	h, err := decodeELFHeader(fileImage, want)
	if err != nil {
		return nil, fmt.Errorf("dso: %s: %w", name, err)
	}
	phdrs, err := decodeProgHeaders(fileImage, h)
	if err != nil {
		return nil, fmt.Errorf("dso: %s: %w", name, err)
	}
	mem, err := layoutImage(fileImage, phdrs)
	if err != nil {
		return nil, fmt.Errorf("dso: %s: %w", name, err)
	}

	o := &Object{
		Name:  name,
		Arch:  want,
		Base:  base,
		Phdrs: phdrs,
		Mem:   mem,
		Entry: VirtualAddr(h.Entry),
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
		o.State = DynamicParsed // static object: nothing further to resolve
	}
	if err := o.parseTLS(); err != nil {
		return nil, err
	}
	o.parseRelro()
	return o, nil
}

// unsafeByteSliceAt builds a []byte view directly over length bytes of
// live process memory starting at ptr, with no copy. Used only by
// FromPhdrPointer (and so FromInitialStack), which models the self-relocating executable case: a
// real ld.so relocates its own already-mapped segments in place rather
// than copying them, and this function exists to let this module's
// Object.Mem-based write path do the same when asked to parse the
// *running* process's own DSO instead of a file on disk.
func unsafeByteSliceAt(ptr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length)
}
