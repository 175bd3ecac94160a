package reloc

// AArch64 relocation type numbers spec.md §4.B names, from the ELF for the
// Arm 64-bit Architecture ABI.
const (
	rAARCH64_ABS64          = 257
	rAARCH64_ADR_PREL_PG_HI21 = 275 // ADRP
	rAARCH64_ADD_ABS_LO12_NC  = 277 // ADD Xd,Xn,#lo12
	rAARCH64_JUMP26           = 282
	rAARCH64_CALL26           = 283
	rAARCH64_MOVW_UABS_G0_NC  = 264 // MOVK, bits [15:0]
	rAARCH64_MOVW_UABS_G1_NC  = 266 // MOVK, bits [31:16]
	rAARCH64_MOVW_UABS_G2_NC  = 268 // MOVK, bits [47:32]
	rAARCH64_MOVW_UABS_G3     = 269 // MOVK, bits [63:48]
	rAARCH64_COPY             = 1024
	rAARCH64_GLOB_DAT         = 1025
	rAARCH64_JUMP_SLOT        = 1026
	rAARCH64_RELATIVE         = 1027
	rAARCH64_TLS_DTPMOD64     = 1028
	rAARCH64_TLS_DTPREL64     = 1029
	rAARCH64_TLS_TPREL64      = 1030
	rAARCH64_IRELATIVE        = 1032
)

func classifyARM64(t uint32) Class {
	switch t {
	case rAARCH64_ABS64:
		return ClassAbsolute64
	case rAARCH64_GLOB_DAT, rAARCH64_JUMP_SLOT:
		return ClassGlobDat
	case rAARCH64_RELATIVE:
		return ClassRelative
	case rAARCH64_IRELATIVE:
		return ClassIRelative
	case rAARCH64_COPY:
		return ClassCopy
	case rAARCH64_TLS_DTPMOD64:
		return ClassTLSModID
	case rAARCH64_TLS_DTPREL64:
		return ClassTLSDTPRel
	case rAARCH64_TLS_TPREL64:
		return ClassTLSTPRel
	case rAARCH64_ADR_PREL_PG_HI21, rAARCH64_ADD_ABS_LO12_NC,
		rAARCH64_JUMP26, rAARCH64_CALL26,
		rAARCH64_MOVW_UABS_G0_NC, rAARCH64_MOVW_UABS_G1_NC,
		rAARCH64_MOVW_UABS_G2_NC, rAARCH64_MOVW_UABS_G3:
		return classInstructionPatch
	default:
		return ClassUnknown
	}
}

// classInstructionPatch is an unexported extension of Class for the
// instruction-patching types. Apply's switch has no case for it, so it
// falls through to the default branch, which hands it to
// tryInstructionPatch (instr.go). ClassOf returns it unchanged.
const classInstructionPatch Class = 100

// patchARM64 rewrites the 4-byte instruction word at req.Addr in place,
// inserting sign-extended pieces of (S+A) into the fixed
// bitfields spec.md §4.B names, preserving every unrelated bit — the same
// read-modify-write-via-mask idiom arm64_instructions.go's encodeInstr
// helpers use to build instructions bit by bit, applied here to edit an
// existing word instead of emitting a new one.
func patchARM64(req Request) Outcome {
	word, err := req.Obj.ReadWord32Abs(req.Addr)
	if err != nil {
		return Outcome{Handled: false, Err: err}
	}
	value := int64(req.SymValue) + req.Addend

	switch req.Type {
	case rAARCH64_ADR_PREL_PG_HI21:
		pcPage := int64(req.Addr) &^ 0xfff
		targetPage := value &^ 0xfff
		rel := (targetPage - pcPage) >> 12
		immlo := uint32(rel & 0x3)
		immhi := uint32((rel >> 2) & 0x7ffff)
		word = (word &^ (0x3 << 29)) | (immlo << 29)
		word = (word &^ (0x7ffff << 5)) | (immhi << 5)
	case rAARCH64_ADD_ABS_LO12_NC:
		imm12 := uint32(value & 0xfff)
		word = (word &^ (0xfff << 10)) | (imm12 << 10)
	case rAARCH64_JUMP26, rAARCH64_CALL26:
		rel := (value - int64(req.Addr)) >> 2
		imm26 := uint32(rel) & 0x3ffffff
		word = (word &^ 0x3ffffff) | imm26
	case rAARCH64_MOVW_UABS_G0_NC:
		word = (word &^ (0xffff << 5)) | (uint32(value&0xffff) << 5)
	case rAARCH64_MOVW_UABS_G1_NC:
		word = (word &^ (0xffff << 5)) | (uint32((value>>16)&0xffff) << 5)
	case rAARCH64_MOVW_UABS_G2_NC:
		word = (word &^ (0xffff << 5)) | (uint32((value>>32)&0xffff) << 5)
	case rAARCH64_MOVW_UABS_G3:
		word = (word &^ (0xffff << 5)) | (uint32((value>>48)&0xffff) << 5)
	default:
		return Outcome{Handled: false}
	}

	if err := req.Obj.WriteWord32Abs(req.Addr, word); err != nil {
		return Outcome{Handled: false, Err: err}
	}
	return Outcome{Handled: true}
}
