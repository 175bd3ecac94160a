package dso

import (
	"encoding/binary"
	"fmt"
)

// parseDynamic walks the PT_DYNAMIC segment's Elf64_Dyn array and
// populates every dynamic-section-derived view of Object spec.md §4.C
// lists: symbol/string tables, hash tables, PLT/GOT, relocation arrays,
// the DT_RELACOUNT hint, init/fini entrypoints and arrays, and version
// structures. All tag values are resolved to link-time vaddrs (d_ptr);
// the caller (FromInitialStack/FromPath) is responsible for having
// already populated o.Mem so those vaddrs can be dereferenced directly.
func (o *Object) parseDynamic(dynOff VirtualAddr) error {
	entries, err := readDynEntries(o.Mem, int(dynOff))
	if err != nil {
		return fmt.Errorf("dso: %s: parse dynamic: %w", o.Name, err)
	}

	tags := make(map[int64]uint64, len(entries))
	for _, e := range entries {
		if _, exists := tags[e.Tag]; !exists {
			tags[e.Tag] = e.Val // first occurrence wins, matching a linear DT_* scan
		}
	}

	if v, ok := tags[int64(dtStrtab)]; ok {
		strOff := int(v)
		strsz := int(tags[int64(dtStrsz)])
		if strOff >= 0 && strOff+strsz <= len(o.Mem) {
			o.Str = o.Mem[strOff : strOff+strsz]
		}
	}

	if v, ok := tags[int64(dtGNUHash)]; ok {
		h, err := ParseGNUHash(o.Mem, int(v))
		if err != nil {
			return fmt.Errorf("dso: %s: %w", o.Name, err)
		}
		o.GNU = h
	}
	if v, ok := tags[int64(dtHash)]; ok {
		h, err := ParseSysVHash(o.Mem, int(v))
		if err != nil {
			return fmt.Errorf("dso: %s: %w", o.Name, err)
		}
		o.SysV = h
	}

	if v, ok := tags[int64(dtSymtab)]; ok {
		count, err := symtabCount(o.GNU, o.SysV)
		if err != nil {
			return fmt.Errorf("dso: %s: %w", o.Name, err)
		}
		syms, err := readSymtab(o.Mem, int(v), int(count))
		if err != nil {
			return fmt.Errorf("dso: %s: %w", o.Name, err)
		}
		o.Sym = syms
	}

	if v, ok := tags[int64(dtRela)]; ok {
		relasz := tags[int64(dtRelasz)]
		relaent := tags[int64(dtRelaent)]
		if relaent == 0 {
			relaent = 24
		}
		relas, err := readRelaArray(o.Mem, int(v), int(relasz/relaent))
		if err != nil {
			return fmt.Errorf("dso: %s: rela.dyn: %w", o.Name, err)
		}
		o.RelaDyn = relas
	}
	if v, ok := tags[int64(dtJmprel)]; ok {
		pltrelsz := tags[int64(dtPltrelsz)]
		relas, err := readRelaArray(o.Mem, int(v), int(pltrelsz/24))
		if err != nil {
			return fmt.Errorf("dso: %s: rela.plt: %w", o.Name, err)
		}
		o.RelaPlt = relas
	}
	o.RelaCount = tags[int64(dtRelacount)]

	if v, ok := tags[int64(dtPltgot)]; ok {
		o.PltGot = VirtualAddr(v)
	}
	if v, ok := tags[int64(dtInit)]; ok {
		o.InitFunc = VirtualAddr(v)
	}
	if v, ok := tags[int64(dtFini)]; ok {
		o.FiniFunc = VirtualAddr(v)
	}
	if v, ok := tags[int64(dtInitArray)]; ok {
		sz := tags[int64(dtInitArrSz)]
		o.InitArray, err = readAddrArray(o.Mem, int(v), int(sz/8))
		if err != nil {
			return fmt.Errorf("dso: %s: init_array: %w", o.Name, err)
		}
	}
	if v, ok := tags[int64(dtFiniArray)]; ok {
		sz := tags[int64(dtFiniArrSz)]
		o.FiniArray, err = readAddrArray(o.Mem, int(v), int(sz/8))
		if err != nil {
			return fmt.Errorf("dso: %s: fini_array: %w", o.Name, err)
		}
	}

	if v, ok := tags[int64(dtVersym)]; ok {
		o.Versym = readVersymArray(o.Mem, int(v), len(o.Sym))
	}
	if v, ok := tags[int64(dtVerneed)]; ok {
		o.Verneed = ParseVerneed(o.Mem, int(v), int(tags[int64(dtVerneednm)]), o.Str)
	}
	if v, ok := tags[int64(dtVerdef)]; ok {
		o.Verdef = ParseVerdef(o.Mem, int(v), int(tags[int64(dtVerdefnm)]), o.Str)
	}

	// DT_NEEDED entries resolve through Str, which must already be parsed.
	o.Needed = o.Needed[:0]
	for _, e := range entries {
		if e.Tag == int64(dtNeeded) {
			o.Needed = append(o.Needed, cstr(o.Str, uint32(e.Val)))
		}
	}

	o.State = DynamicParsed
	return nil
}

func readDynEntries(buf []byte, off int) ([]dynEntry, error) {
	var entries []dynEntry
	cursor := off
	for {
		if cursor+16 > len(buf) {
			return nil, fmt.Errorf("dynamic section runs past end of mapping")
		}
		tag := int64(binary.LittleEndian.Uint64(buf[cursor:]))
		val := binary.LittleEndian.Uint64(buf[cursor+8:])
		if tag == int64(dtNull) {
			break
		}
		entries = append(entries, dynEntry{Tag: tag, Val: val})
		cursor += 16
	}
	return entries, nil
}

func readSymtab(buf []byte, off, count int) ([]Sym, error) {
	const entSize = 24 // Elf64_Sym
	if off+count*entSize > len(buf) {
		return nil, fmt.Errorf("symbol table runs past end of mapping")
	}
	syms := make([]Sym, count)
	for i := 0; i < count; i++ {
		b := buf[off+i*entSize:]
		syms[i] = Sym{
			NameOff: binary.LittleEndian.Uint32(b[0:]),
			Info:    b[4],
			Shndx:   binary.LittleEndian.Uint16(b[6:]),
			Value:   binary.LittleEndian.Uint64(b[8:]),
			Size:    binary.LittleEndian.Uint64(b[16:]),
		}
	}
	return syms, nil
}

func readRelaArray(buf []byte, off, count int) ([]Rela, error) {
	const entSize = 24 // Elf64_Rela
	if count < 0 || off+count*entSize > len(buf) {
		return nil, fmt.Errorf("relocation array runs past end of mapping")
	}
	out := make([]Rela, count)
	for i := 0; i < count; i++ {
		b := buf[off+i*entSize:]
		info := binary.LittleEndian.Uint64(b[8:])
		out[i] = Rela{
			Offset: binary.LittleEndian.Uint64(b[0:]),
			Type:   uint32(info),
			Sym:    uint32(info >> 32),
			Addend: int64(binary.LittleEndian.Uint64(b[16:])),
		}
	}
	return out, nil
}

func readAddrArray(buf []byte, off, count int) ([]VirtualAddr, error) {
	if off+count*8 > len(buf) {
		return nil, fmt.Errorf("address array runs past end of mapping")
	}
	out := make([]VirtualAddr, count)
	for i := 0; i < count; i++ {
		out[i] = VirtualAddr(binary.LittleEndian.Uint64(buf[off+i*8:]))
	}
	return out, nil
}

func readVersymArray(buf []byte, off, count int) []uint16 {
	if off+count*2 > len(buf) {
		return nil
	}
	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		out[i] = binary.LittleEndian.Uint16(buf[off+i*2:])
	}
	return out
}
