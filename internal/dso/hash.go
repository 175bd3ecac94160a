package dso

import (
	"encoding/binary"
	"fmt"
)

// GNUHash is a parsed DT_GNU_HASH table. The dynamic symbol table's length
// is not derivable from any DT_* size tag (spec.md §9 open question); this
// type's SymCount walks the hash chains to find the highest symbol index
// actually hashed, which is how glibc's own ld.so sizes .dynsym when only
// DT_GNU_HASH is present.
type GNUHash struct {
	NBuckets  uint32
	SymOffset uint32 // index of the first symbol present in the hash table
	BloomSize uint32
	BloomShift uint32
	Buckets   []uint32
	Chain     []uint32 // chain[i] corresponds to symbol (maxChainIdx+i)

	maxChainIdx uint32 // highest bucket value; chain[0] is symbol maxChainIdx, not SymOffset
}

// ParseGNUHash decodes a DT_GNU_HASH table starting at byte offset off
// within buf. The chain array's length is unknown up front (that's the
// whole point of the open question), so this walks buckets to find the
// highest referenced chain index, then reads chain words one at a time
// until it has covered every bucket's tail.
func ParseGNUHash(buf []byte, off int) (*GNUHash, error) {
	if off+16 > len(buf) {
		return nil, fmt.Errorf("dso: GNU hash header out of range")
	}
	h := &GNUHash{
		NBuckets:   binary.LittleEndian.Uint32(buf[off:]),
		SymOffset:  binary.LittleEndian.Uint32(buf[off+4:]),
		BloomSize:  binary.LittleEndian.Uint32(buf[off+8:]),
		BloomShift: binary.LittleEndian.Uint32(buf[off+12:]),
	}
	cursor := off + 16 + int(h.BloomSize)*8 // bloom words are always 8 bytes (ELF64)
	if cursor+int(h.NBuckets)*4 > len(buf) {
		return nil, fmt.Errorf("dso: GNU hash buckets out of range")
	}
	h.Buckets = make([]uint32, h.NBuckets)
	maxChainIdx := uint32(0)
	haveAny := false
	for i := range h.Buckets {
		b := binary.LittleEndian.Uint32(buf[cursor+i*4:])
		h.Buckets[i] = b
		if b != 0 {
			haveAny = true
			if b > maxChainIdx {
				maxChainIdx = b
			}
		}
	}
	cursor += int(h.NBuckets) * 4
	h.maxChainIdx = maxChainIdx
	if !haveAny {
		h.Chain = nil
		return h, nil
	}
	// Walk the chain array starting at the highest bucket entry (not
	// SymOffset: chain[0] corresponds to symbol maxChainIdx, and maxChainIdx
	// is >= SymOffset but usually strictly greater once there's more than
	// one bucket/symbol) until we see the low bit set (terminator for that
	// chain), which bounds the total chain length.
	idx := uint32(0)
	for {
		wordOff := cursor + int(maxChainIdx-h.SymOffset+idx)*4
		if wordOff+4 > len(buf) {
			return nil, fmt.Errorf("dso: GNU hash chain out of range")
		}
		word := binary.LittleEndian.Uint32(buf[wordOff:])
		h.Chain = append(h.Chain, word)
		if word&1 != 0 {
			break
		}
		idx++
	}
	return h, nil
}

// SymCount returns the total number of dynamic symbols implied by this hash
// table. chain[0] corresponds to symbol maxChainIdx (the highest bucket
// value seen, not SymOffset — buckets can and usually do point past the
// first hashed symbol once there's more than one bucket), so the table
// covers symbol indices up to maxChainIdx+len(Chain)-1, and the count is
// one past that: maxChainIdx+len(Chain). Using SymOffset+len(Chain) here
// undercounts .dynsym whenever maxChainIdx > SymOffset, silently
// truncating off every symbol between them.
func (h *GNUHash) SymCount() uint32 {
	if h == nil {
		return 0
	}
	if len(h.Chain) == 0 {
		return h.SymOffset
	}
	return h.maxChainIdx + uint32(len(h.Chain))
}

// SysVHash is a parsed legacy DT_HASH table, whose nchain field directly
// gives the dynamic symbol table length (spec.md §9's fallback path when
// DT_GNU_HASH isn't present).
type SysVHash struct {
	NBucket uint32
	NChain  uint32
	Bucket  []uint32
	Chain   []uint32
}

// ParseSysVHash decodes a DT_HASH table at byte offset off within buf.
func ParseSysVHash(buf []byte, off int) (*SysVHash, error) {
	if off+8 > len(buf) {
		return nil, fmt.Errorf("dso: SysV hash header out of range")
	}
	h := &SysVHash{
		NBucket: binary.LittleEndian.Uint32(buf[off:]),
		NChain:  binary.LittleEndian.Uint32(buf[off+4:]),
	}
	cursor := off + 8
	need := int(h.NBucket+h.NChain) * 4
	if cursor+need > len(buf) {
		return nil, fmt.Errorf("dso: SysV hash tables out of range")
	}
	h.Bucket = make([]uint32, h.NBucket)
	for i := range h.Bucket {
		h.Bucket[i] = binary.LittleEndian.Uint32(buf[cursor+i*4:])
	}
	cursor += int(h.NBucket) * 4
	h.Chain = make([]uint32, h.NChain)
	for i := range h.Chain {
		h.Chain[i] = binary.LittleEndian.Uint32(buf[cursor+i*4:])
	}
	return h, nil
}

// SymCount returns nchain, the dynamic symbol table length.
func (h *SysVHash) SymCount() uint32 {
	if h == nil {
		return 0
	}
	return h.NChain
}

// symtabCount picks whichever hash table is present to size .dynsym,
// preferring DT_GNU_HASH per spec.md §9 (it's the one modern glibc
// binaries always carry; DT_HASH is the fallback for objects built
// without --hash-style=gnu).
func symtabCount(gnu *GNUHash, sysv *SysVHash) (uint32, error) {
	if gnu != nil {
		return gnu.SymCount(), nil
	}
	if sysv != nil {
		return sysv.SymCount(), nil
	}
	return 0, fmt.Errorf("dso: no DT_GNU_HASH or DT_HASH present; cannot size dynamic symbol table")
}
