package dso

import "encoding/binary"

// Verneed is a parsed DT_VERNEED table: the set of versioned symbols this
// object requires from its dependencies.
type Verneed struct {
	Entries []VerneedEntry
}

// VerneedEntry is one Elf64_Verneed plus its Elf64_Vernaux entries.
type VerneedEntry struct {
	File  string
	Auxes []VernauxEntry
}

// VernauxEntry maps a version index (as found in .gnu.version) to a name.
type VernauxEntry struct {
	Other uint16 // version index (matches versym entries needing this version)
	Name  string
}

// Verdef is a parsed DT_VERDEF table: the versions this object itself
// defines.
type Verdef struct {
	Entries []VerdefEntry
}

// VerdefEntry is one Elf64_Verdef: an index plus the name(s) it defines.
type VerdefEntry struct {
	Ndx   uint16
	Names []string
}

// ParseVerneed decodes count Elf64_Verneed records starting at byte offset
// off within buf, resolving names via str.
func ParseVerneed(buf []byte, off int, count int, str []byte) *Verneed {
	vn := &Verneed{}
	cursor := off
	for i := 0; i < count && cursor+16 <= len(buf); i++ {
		vernauxCount := binary.LittleEndian.Uint16(buf[cursor+2:])
		fileOff := binary.LittleEndian.Uint32(buf[cursor+4:])
		auxOff := binary.LittleEndian.Uint32(buf[cursor+8:])
		next := binary.LittleEndian.Uint32(buf[cursor+12:])

		entry := VerneedEntry{File: cstr(str, fileOff)}
		auxCursor := cursor + int(auxOff)
		for j := uint16(0); j < vernauxCount && auxCursor+16 <= len(buf); j++ {
			other := binary.LittleEndian.Uint16(buf[auxCursor+6:])
			nameOff := binary.LittleEndian.Uint32(buf[auxCursor+8:])
			entry.Auxes = append(entry.Auxes, VernauxEntry{Other: other, Name: cstr(str, nameOff)})
			nextAux := binary.LittleEndian.Uint32(buf[auxCursor+12:])
			if nextAux == 0 {
				break
			}
			auxCursor += int(nextAux)
		}
		vn.Entries = append(vn.Entries, entry)
		if next == 0 {
			break
		}
		cursor += int(next)
	}
	return vn
}

// ParseVerdef decodes count Elf64_Verdef records starting at byte offset
// off within buf, resolving names via str.
func ParseVerdef(buf []byte, off int, count int, str []byte) *Verdef {
	vd := &Verdef{}
	cursor := off
	for i := 0; i < count && cursor+20 <= len(buf); i++ {
		ndx := binary.LittleEndian.Uint16(buf[cursor+4:])
		auxCount := binary.LittleEndian.Uint16(buf[cursor+6:])
		auxOff := binary.LittleEndian.Uint32(buf[cursor+12:])
		next := binary.LittleEndian.Uint32(buf[cursor+16:])

		entry := VerdefEntry{Ndx: ndx}
		auxCursor := cursor + int(auxOff)
		for j := uint16(0); j < auxCount && auxCursor+8 <= len(buf); j++ {
			nameOff := binary.LittleEndian.Uint32(buf[auxCursor:])
			entry.Names = append(entry.Names, cstr(str, nameOff))
			nextAux := binary.LittleEndian.Uint32(buf[auxCursor+4:])
			if nextAux == 0 {
				break
			}
			auxCursor += int(nextAux)
		}
		vd.Entries = append(vd.Entries, entry)
		if next == 0 {
			break
		}
		cursor += int(next)
	}
	return vd
}

// VersionName resolves the version an indexed symbol requires or defines,
// by combining versym[idx] with the Verneed/Verdef tables (spec.md §4.C
// "Version query"). A symbol with versym entry 0 or 1 (no version info, or
// the "base" local/global version) has no version requirement and matches
// any definition, returning ("", true).
func VersionName(versym []uint16, idx uint32, verneed *Verneed, verdef *Verdef) (string, bool) {
	if int(idx) >= len(versym) {
		return "", true
	}
	ver := versym[idx] &^ 0x8000 // mask off the "hidden" bit
	if ver == 0 || ver == 1 {
		return "", true
	}
	if verneed != nil {
		for _, e := range verneed.Entries {
			for _, aux := range e.Auxes {
				if aux.Other&^0x8000 == ver {
					return aux.Name, true
				}
			}
		}
	}
	if verdef != nil {
		for _, e := range verdef.Entries {
			if e.Ndx == ver && len(e.Names) > 0 {
				return e.Names[0], true
			}
		}
	}
	return "", false
}
