package linker

import (
	"testing"

	"github.com/xyproto/rtld/internal/arch"
	"github.com/xyproto/rtld/internal/dso"
	"github.com/xyproto/rtld/internal/tls"
)

func newState(t *testing.T, a arch.Arch) *State {
	t.Helper()
	s := &State{
		Arch:          a,
		SearchDir:     t.TempDir(),
		LoadedNames:   make(map[string]int),
		GlobalSymbols: make(map[string]resolvedSym),
	}
	return s
}

// newObj builds a minimal Object with a zeroed Mem buffer, bypassing ELF
// parsing, so orchestration logic (BFS, symbol composition, relocation
// driving) can be exercised directly against hand-built objects.
func newObj(name string, base dso.VirtualAddr, size int) *dso.Object {
	return &dso.Object{Name: name, Base: base, Mem: make([]byte, size)}
}

func TestBuildGlobalSymbolsFirstDefinitionWins(t *testing.T) {
	s := newState(t, arch.X86_64)

	main := newObj("main", 0x400000, 0x10)
	main.Str = []byte("\x00foo\x00")
	main.Sym = []dso.Sym{
		{}, // null symbol
		{NameOff: 1, Value: 0x1000, Shndx: 1, Info: 1<<4 | 1},
	}

	lib := newObj("libfoo.so", 0x7f0000, 0x10)
	lib.Str = []byte("\x00foo\x00")
	lib.Sym = []dso.Sym{
		{},
		{NameOff: 1, Value: 0x500, Shndx: 1, Info: 1<<4 | 1},
	}

	s.Objects = []*dso.Object{main, lib}
	s.buildGlobalSymbols(0, len(s.Objects))

	got, ok := s.GlobalSymbols["foo"]
	if !ok {
		t.Fatal("expected foo in global symbol table")
	}
	if got.Owner != main {
		t.Fatalf("expected main (first-definition) to win, got %s", got.Owner.Name)
	}
}

func TestRelocateSingleSelfRelative(t *testing.T) {
	s := newState(t, arch.X86_64)
	obj := newObj("main", 0x400000, 0x4000)
	obj.RelaDyn = []dso.Rela{{Type: 8 /* R_X86_64_RELATIVE */, Offset: 0x3000, Addend: 0x2000}}
	s.Objects = []*dso.Object{obj}

	if err := s.RelocateSingle(obj); err != nil {
		t.Fatalf("RelocateSingle: %v", err)
	}
	got, err := obj.ReadWordAbs(0x403000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x402000 {
		t.Fatalf("got %#x, want 0x402000", got)
	}
}

func TestRelocateSingleSymbolInDependency(t *testing.T) {
	s := newState(t, arch.X86_64)

	main := newObj("main", 0x400000, 0x4000)
	main.Str = []byte("\x00foo\x00")
	main.Sym = []dso.Sym{{}, {NameOff: 1}} // undefined reference to foo
	main.RelaDyn = []dso.Rela{{Type: 1 /* R_X86_64_64 */, Sym: 1, Offset: 0x3000}}

	lib := newObj("libfoo.so", 0x7f0000, 0x1000)
	lib.Str = []byte("\x00foo\x00")
	lib.Sym = []dso.Sym{{}, {NameOff: 1, Value: 0x500, Shndx: 1, Info: 1<<4 | 1}}

	s.Objects = []*dso.Object{main, lib}
	s.buildGlobalSymbols(0, len(s.Objects))

	if err := s.RelocateSingle(main); err != nil {
		t.Fatalf("RelocateSingle: %v", err)
	}
	got, err := main.ReadWordAbs(0x403000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x7f0500 {
		t.Fatalf("got %#x, want 0x7f0500", got)
	}
}

func TestRelocateSingleTLSTPRelUsesRawSymValueNotBase(t *testing.T) {
	s := newState(t, arch.X86_64)
	s.TLSGeometry = &tls.Geometry{StaticSize: 0x100}

	main := newObj("main", 0x400000, 0x4000)
	main.Str = []byte("\x00counter\x00")
	main.Sym = []dso.Sym{{}, {NameOff: 1}} // undefined reference to "counter"
	main.RelaDyn = []dso.Rela{{Type: 18 /* R_X86_64_TPOFF64 */, Sym: 1, Offset: 0x3000}}

	// lib defines "counter" at TLS offset 0x18, but is itself loaded at a
	// large nonzero runtime base: S must stay 0x18 (the raw st_value), not
	// base+0x18, or the TP-relative offset comes out as a garbage address
	// instead of a small offset from the thread pointer.
	lib := newObj("libfoo.so", 0x7f0000, 0x1000)
	lib.Str = []byte("\x00counter\x00")
	lib.Sym = []dso.Sym{{}, {NameOff: 1, Value: 0x18, Shndx: 1, Info: 1<<4 | 6 /* STT_TLS */}}
	lib.TLS.ModuleID = 1
	lib.TLS.Offset = 0x40

	s.Objects = []*dso.Object{main, lib}
	s.buildGlobalSymbols(0, len(s.Objects))

	if err := s.RelocateSingle(main); err != nil {
		t.Fatalf("RelocateSingle: %v", err)
	}
	got, err := main.ReadWordAbs(0x403000)
	if err != nil {
		t.Fatal(err)
	}
	// tpRelValue (TCBAbove, x86-64) = OwnerTLSOffset + S + Addend - StaticTLSSize.
	want := uint64(int64(0x40+0x18) - 0x100)
	if got != want {
		t.Fatalf("got %#x, want %#x (S must be the raw st_value 0x18, not base+value)", got, want)
	}
}

// fakeTCB is a no-op tcb.Primitive so allocateAndActivateTCB can be tested
// without touching a real thread-pointer register.
type fakeTCB struct{}

func (fakeTCB) ReadSelf() uintptr      { return 0 }
func (fakeTCB) Activate(uintptr) error { return nil }
func (fakeTCB) Arch() arch.Arch        { return arch.ARM64 }

func TestAllocateAndActivateTCBHonorsStaticAlignOnTCBBelowArch(t *testing.T) {
	s := newState(t, arch.ARM64)
	s.TCB = fakeTCB{}
	// StaticAlign (64) exceeds tcb.HeaderSize's own 16-byte rounding, the
	// exact case that used to desync the hardcoded 48-byte TCB size from
	// BlockStart's alignUp(tcbSize, StaticAlign) and trip the "TLS block
	// start mismatch" error unconditionally.
	s.TLSGeometry = &tls.Geometry{StaticSize: 0x20, StaticAlign: 64}

	if _, _, tlsBlock, err := s.allocateAndActivateTCB(); err != nil {
		t.Fatalf("allocateAndActivateTCB: %v", err)
	} else if len(tlsBlock) != 0x20 {
		t.Fatalf("tlsBlock len = %d, want 0x20", len(tlsBlock))
	}
}

func TestRelocateSingleUnresolvedSkippedSilently(t *testing.T) {
	s := newState(t, arch.X86_64)
	main := newObj("main", 0x400000, 0x4000)
	main.Str = []byte("\x00missing\x00")
	main.Sym = []dso.Sym{{}, {NameOff: 1}}
	main.RelaDyn = []dso.Rela{{Type: 1, Sym: 1, Offset: 0x3000}}
	s.Objects = []*dso.Object{main}

	if err := s.RelocateSingle(main); err != nil {
		t.Fatalf("RelocateSingle should skip unresolved symbols, not fail: %v", err)
	}
	got, _ := main.ReadWordAbs(0x403000)
	if got != 0 {
		t.Fatalf("expected target to stay untouched, got %#x", got)
	}
}

func TestDlsymGlobalLookup(t *testing.T) {
	s := newState(t, arch.X86_64)
	lib := newObj("libfoo.so", 0x7f0000, 0x10)
	s.GlobalSymbols["foo"] = resolvedSym{Owner: lib, Sym: dso.Sym{Value: 0x500}}

	if got := s.Dlsym(0, "foo"); got != 0x7f0500 {
		t.Fatalf("Dlsym(0, foo) = %#x, want 0x7f0500", got)
	}
	if got := s.Dlsym(0, "bar"); got != 0 {
		t.Fatalf("Dlsym(0, bar) = %#x, want 0", got)
	}
}

func TestDlopenDedup(t *testing.T) {
	s := newState(t, arch.X86_64)
	s.Objects = []*dso.Object{newObj("libfoo.so", 0x7f0000, 0x10)}
	s.LoadedNames["libfoo.so"] = 0

	h := s.Dlopen("libfoo.so")
	if h != 1 {
		t.Fatalf("Dlopen dedup: got handle %d, want 1", h)
	}
	if len(s.Objects) != 1 {
		t.Fatalf("Dlopen dedup should not reload, got %d objects", len(s.Objects))
	}
}
