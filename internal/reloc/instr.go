package reloc

import "github.com/xyproto/rtld/internal/arch"

// tryInstructionPatch dispatches the bit-exact instruction-patching
// relocations (ADRP/ADD, MOVZ/MOVK, branch immediates, RVC compressed
// branches) that only AArch64 and RISC-V64 require (spec.md §4.B). x86-64
// never reaches here: classifyAMD64 never returns classInstructionPatch.
func tryInstructionPatch(a arch.Arch, req Request) (Outcome, bool) {
	switch a {
	case arch.ARM64:
		if classifyARM64(req.Type) != classInstructionPatch {
			return Outcome{}, false
		}
		return patchARM64(req), true
	case arch.Riscv64:
		if classifyRISCV64(req.Type) != classInstructionPatch {
			return Outcome{}, false
		}
		return patchRISCV64(req), true
	default:
		return Outcome{}, false
	}
}
