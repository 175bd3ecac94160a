package reloc

// x86-64 relocation type numbers spec.md §4.B names, taken from the
// System V AMD64 ABI (the same numbering debug/elf.R_X86_64_* exposes;
// declared locally rather than imported so this package's classify tables
// read uniformly across all three architectures).
const (
	rX86_64_64        = 1
	rX86_64_COPY      = 5
	rX86_64_GLOB_DAT  = 6
	rX86_64_JUMP_SLOT = 7
	rX86_64_RELATIVE  = 8
	rX86_64_DTPMOD64  = 16
	rX86_64_DTPOFF64  = 17
	rX86_64_TPOFF64   = 18
	rX86_64_IRELATIVE = 37
)

// classifyAMD64 has no instruction-patching classes: x86-64 relocations
// are always plain 8-byte stores (spec.md §4.B: "AArch64 and RISC-V
// additionally require bit-exact instruction patching" — x86-64 does not).
func classifyAMD64(t uint32) Class {
	switch t {
	case rX86_64_64:
		return ClassAbsolute64
	case rX86_64_GLOB_DAT, rX86_64_JUMP_SLOT:
		return ClassGlobDat
	case rX86_64_RELATIVE:
		return ClassRelative
	case rX86_64_IRELATIVE:
		return ClassIRelative
	case rX86_64_COPY:
		return ClassCopy
	case rX86_64_DTPMOD64:
		return ClassTLSModID
	case rX86_64_DTPOFF64:
		return ClassTLSDTPRel
	case rX86_64_TPOFF64:
		return ClassTLSTPRel
	default:
		return ClassUnknown
	}
}
