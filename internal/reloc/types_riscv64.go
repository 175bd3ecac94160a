package reloc

// RISC-V64 relocation type numbers spec.md §4.B names, from the RISC-V
// ELF psABI.
const (
	rRISCV_64            = 2
	rRISCV_RELATIVE      = 3
	rRISCV_COPY          = 4
	rRISCV_JUMP_SLOT     = 5
	rRISCV_TLS_DTPMOD64  = 7
	rRISCV_TLS_DTPREL64  = 9
	rRISCV_TLS_TPREL64   = 11
	rRISCV_HI20          = 26 // U-type, bits [31:12] of (S+A)
	rRISCV_LO12_I        = 27 // I-type immediate, bits [11:0]
	rRISCV_LO12_S        = 28 // S-type immediate, bits [11:0]
	rRISCV_RVC_BRANCH    = 44 // compressed branch, 8-bit signed half-offset
	rRISCV_RVC_JUMP      = 45 // compressed jump, 11-bit signed half-offset
	rRISCV_IRELATIVE     = 58
)

func classifyRISCV64(t uint32) Class {
	switch t {
	case rRISCV_64:
		return ClassAbsolute64
	case rRISCV_JUMP_SLOT:
		return ClassGlobDat
	case rRISCV_RELATIVE:
		return ClassRelative
	case rRISCV_IRELATIVE:
		return ClassIRelative
	case rRISCV_COPY:
		return ClassCopy
	case rRISCV_TLS_DTPMOD64:
		return ClassTLSModID
	case rRISCV_TLS_DTPREL64:
		return ClassTLSDTPRel
	case rRISCV_TLS_TPREL64:
		return ClassTLSTPRel
	case rRISCV_HI20, rRISCV_LO12_I, rRISCV_LO12_S, rRISCV_RVC_BRANCH, rRISCV_RVC_JUMP:
		return classInstructionPatch
	default:
		return ClassUnknown
	}
}

// patchRISCV64 rewrites the 4-byte (or, for the two RVC classes, 2-byte
// treated as the low half of a 4-byte read) instruction word at req.Addr,
// inserting the appropriate split-immediate bits of (S+A) — or, for the
// two RVC classes, of the offset (S+A) minus req.Addr — mirroring
// riscv64_instructions.go's bitfield-insertion idiom applied to an
// existing word instead of a freshly emitted one.
func patchRISCV64(req Request) Outcome {
	word, err := req.Obj.ReadWord32Abs(req.Addr)
	if err != nil {
		return Outcome{Handled: false, Err: err}
	}
	value := int64(req.SymValue) + req.Addend

	switch req.Type {
	case rRISCV_HI20:
		// U-type: hi20 = (value + 0x800) >> 12, rounding so the matching
		// LO12 addition (which sign-extends its 12 bits) reconstructs
		// value exactly.
		hi20 := uint32((value+0x800)>>12) & 0xfffff
		word = (word & 0xfff) | (hi20 << 12)
	case rRISCV_LO12_I:
		lo12 := uint32(value) & 0xfff
		word = (word & 0xfffff) | (lo12 << 20)
	case rRISCV_LO12_S:
		lo12 := uint32(value) & 0xfff
		imm11_5 := (lo12 >> 5) & 0x7f
		imm4_0 := lo12 & 0x1f
		word = (word &^ (0x7f << 25)) | (imm11_5 << 25)
		word = (word &^ (0x1f << 7)) | (imm4_0 << 7)
	case rRISCV_RVC_BRANCH:
		off := uint32(value-int64(req.Addr)) & 0x1ff // 9-bit signed half-word offset, bit0 implied 0
		half := uint16(word)
		half = rvcPatchBranchOffset(half, off)
		word = (word &^ 0xffff) | uint32(half)
	case rRISCV_RVC_JUMP:
		off := uint32(value-int64(req.Addr)) & 0xfff // 12-bit signed half-word offset, bit0 implied 0
		half := uint16(word)
		half = rvcPatchJumpOffset(half, off)
		word = (word &^ 0xffff) | uint32(half)
	default:
		return Outcome{Handled: false}
	}

	if err := req.Obj.WriteWord32Abs(req.Addr, word); err != nil {
		return Outcome{Handled: false, Err: err}
	}
	return Outcome{Handled: true}
}

// rvcPatchBranchOffset scatters a 9-bit branch offset's bits into a
// C.BEQZ/C.BNEZ instruction's non-contiguous immediate field: offset bits
// 8, 4:3 land at instruction bits 12, 11:10, and offset bits 7:6, 2:1, 5
// at instruction bits 6:5, 4:3, 2.
func rvcPatchBranchOffset(half uint16, off uint32) uint16 {
	b := func(i uint) uint16 { return uint16((off >> i) & 1) }
	half &^= 0x1c7c
	half |= b(5) << 2
	half |= b(1) << 3
	half |= b(2) << 4
	half |= b(6) << 5
	half |= b(7) << 6
	half |= b(3) << 10
	half |= b(4) << 11
	half |= b(8) << 12
	return half
}

// rvcPatchJumpOffset scatters a 12-bit jump offset's bits into a C.J
// instruction's non-contiguous immediate field.
func rvcPatchJumpOffset(half uint16, off uint32) uint16 {
	b := func(i uint) uint16 { return uint16((off >> i) & 1) }
	half &^= 0x1ffc
	half |= b(5) << 2
	half |= b(1) << 3
	half |= b(2) << 4
	half |= b(3) << 5
	half |= b(7) << 6
	half |= b(6) << 7
	half |= b(10) << 8
	half |= b(8) << 9
	half |= b(9) << 10
	half |= b(4) << 11
	half |= b(11) << 12
	return half
}
