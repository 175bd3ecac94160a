package dso

import "debug/elf"

// Dynamic tags not exposed by the standard library's debug/elf package
// (it covers the base + GNU versioning tags but not the GNU hash
// extension), defined locally so the rest of this package has one place to
// look up every DT_* value spec.md §6 names.
const (
	dtGNUHash = 0x6ffffef5 // DT_GNU_HASH
)

// Re-exported names so the rest of this package reads as a dynamic-linker
// vocabulary instead of a grab-bag of elf.* and local aliases. debug/elf
// remains the source of truth for every tag it does define (spec's open
// question about symbol-table sizing only concerns the *hash-table walk*,
// not the tag values themselves).
const (
	ptLoad      = elf.PT_LOAD
	ptDynamic   = elf.PT_DYNAMIC
	ptTLS       = elf.PT_TLS
	ptGNURelro  = elf.PT_GNU_RELRO
	ptInterp    = elf.PT_INTERP
	dtNull      = elf.DT_NULL
	dtNeeded    = elf.DT_NEEDED
	dtStrtab    = elf.DT_STRTAB
	dtSymtab    = elf.DT_SYMTAB
	dtStrsz     = elf.DT_STRSZ
	dtSyment    = elf.DT_SYMENT
	dtHash      = elf.DT_HASH
	dtRela      = elf.DT_RELA
	dtRelasz    = elf.DT_RELASZ
	dtRelaent   = elf.DT_RELAENT
	dtRelacount = elf.DT_RELACOUNT
	dtJmprel    = elf.DT_JMPREL
	dtPltrelsz  = elf.DT_PLTRELSZ
	dtPltgot    = elf.DT_PLTGOT
	dtInit      = elf.DT_INIT
	dtInitArray = elf.DT_INIT_ARRAY
	dtInitArrSz = elf.DT_INIT_ARRAYSZ
	dtFini      = elf.DT_FINI
	dtFiniArray = elf.DT_FINI_ARRAY
	dtFiniArrSz = elf.DT_FINI_ARRAYSZ
	dtVersym    = elf.DT_VERSYM
	dtVerneed   = elf.DT_VERNEED
	dtVerneednm = elf.DT_VERNEEDNUM
	dtVerdef    = elf.DT_VERDEF
	dtVerdefnm  = elf.DT_VERDEFNUM

	sttFile  = elf.STT_FILE
	shnUndef = elf.SHN_UNDEF
)
