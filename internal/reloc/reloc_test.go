package reloc

import (
	"testing"

	"github.com/xyproto/rtld/internal/arch"
	"github.com/xyproto/rtld/internal/dso"
)

// newObj builds a minimal Object with a zeroed Mem buffer big enough to
// exercise a handful of relocation writes, without going through ELF
// parsing — reloc only ever touches Mem through the *Abs accessors.
func newObj(base dso.VirtualAddr, size int) *dso.Object {
	return &dso.Object{Name: "t", Base: base, Mem: make([]byte, size)}
}

func TestApplyRelativeX86_64(t *testing.T) {
	obj := newObj(0x400000, 0x4000)
	req := Request{
		Type:   rX86_64_RELATIVE,
		Obj:    obj,
		Addr:   0x403000,
		Addend: 0x2000,
		Base:   obj.Base,
	}
	out := Apply(arch.X86_64, req)
	if !out.Handled || out.Err != nil {
		t.Fatalf("Apply Relative: %+v", out)
	}
	got, err := obj.ReadWordAbs(0x403000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x402000 {
		t.Fatalf("got %#x, want 0x402000", got)
	}
}

func TestApplyAbsolute64SymbolInDependency(t *testing.T) {
	obj := newObj(0x600000, 0x2000)
	req := Request{
		Type:     rX86_64_64,
		Obj:      obj,
		Addr:     0x601000,
		Addend:   0,
		SymValue: 0x7f0000_1234,
		Resolved: true,
	}
	out := Apply(arch.X86_64, req)
	if !out.Handled || out.Err != nil {
		t.Fatalf("Apply Absolute64: %+v", out)
	}
	got, _ := obj.ReadWordAbs(0x601000)
	if got != 0x7f0000_1234 {
		t.Fatalf("got %#x, want 0x7f0000_1234", got)
	}
}

func TestApplyCopyRelocation(t *testing.T) {
	dst := newObj(0x400000, 0x4000)
	src := newObj(0x7f0000, 0x4000)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	copy(src.Mem[0x100:], payload)

	req := Request{Type: rX86_64_COPY, Obj: dst, Addr: 0x403000, SymSize: uint64(len(payload))}
	first := Apply(arch.X86_64, req)
	if first.Handled {
		t.Fatalf("Apply(COPY) should report unhandled so the driver takes the apply_copy path")
	}

	out := ApplyCopy(arch.X86_64, req, src, 0x7f0100)
	if !out.Handled || out.Err != nil {
		t.Fatalf("ApplyCopy: %+v", out)
	}
	for i, want := range payload {
		if dst.Mem[0x3000+i] != want {
			t.Fatalf("byte %d = %d, want %d", i, dst.Mem[0x3000+i], want)
		}
	}
}

func TestApplyTLSTPRelX86_64(t *testing.T) {
	obj := newObj(0x400000, 0x4000)
	req := Request{
		Type:           rX86_64_TPOFF64,
		Obj:            obj,
		Addr:           0x403000,
		SymValue:       0x10,
		OwnerTLSOffset: 0x40,
		StaticTLSSize:  0x100,
		Resolved:       true,
	}
	out := Apply(arch.X86_64, req)
	if !out.Handled || out.Err != nil {
		t.Fatalf("Apply TPOFF64: %+v", out)
	}
	got, _ := obj.ReadWordAbs(0x403000)
	want := uint64(int64(0x40+0x10) - 0x100)
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestApplyTLSTPRelARM64AgreesWithAlignedTCBSize(t *testing.T) {
	obj := newObj(0x400000, 0x4000)
	req := Request{
		Type:           rAARCH64_TLS_TPREL64,
		Obj:            obj,
		Addr:           0x403000,
		SymValue:       0x8,
		OwnerTLSOffset: 0x10,
		StaticAlign:    64, // forces alignUp(tcb.HeaderSize=40, 64) = 64, not the old hardcoded 48
		Resolved:       true,
	}
	out := Apply(arch.ARM64, req)
	if !out.Handled || out.Err != nil {
		t.Fatalf("Apply TLS_TPREL64: %+v", out)
	}
	got, _ := obj.ReadWordAbs(0x403000)
	want := uint64(64 + 0x10 + 0x8)
	if got != want {
		t.Fatalf("got %#x, want %#x (aligned TCB size must track StaticAlign)", got, want)
	}
}

func TestApplyTLSDTPMod(t *testing.T) {
	obj := newObj(0x400000, 0x4000)
	req := Request{Type: rX86_64_DTPMOD64, Obj: obj, Addr: 0x403008, OwnerModuleID: 3}
	out := Apply(arch.X86_64, req)
	if !out.Handled || out.Err != nil {
		t.Fatalf("Apply DTPMOD64: %+v", out)
	}
	got, _ := obj.ReadWordAbs(0x403008)
	if got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestApplyIRelativeInvokesResolver(t *testing.T) {
	obj := newObj(0x400000, 0x4000)
	called := false
	req := Request{
		Type:   rX86_64_IRELATIVE,
		Obj:    obj,
		Addr:   0x403000,
		Addend: 0x55,
		Base:   obj.Base,
		IFuncResolver: func(addr uintptr) uintptr {
			called = true
			if addr != uintptr(obj.Base)+0x55 {
				t.Fatalf("resolver called with %#x, want %#x", addr, uintptr(obj.Base)+0x55)
			}
			return 0xcafebabe
		},
	}
	out := Apply(arch.X86_64, req)
	if !out.Handled || out.Err != nil {
		t.Fatalf("Apply IRelative: %+v", out)
	}
	if !called {
		t.Fatal("resolver was not invoked")
	}
	got, _ := obj.ReadWordAbs(0x403000)
	if got != 0xcafebabe {
		t.Fatalf("got %#x, want 0xcafebabe", got)
	}
}

func TestApplyARM64ADRPPreservesOpcodeBits(t *testing.T) {
	obj := newObj(0x1000000, 0x5000)
	// ADRP x0, #0 placeholder at a page-aligned address.
	if err := obj.WriteWord32Abs(0x1002000, 0x90000000); err != nil {
		t.Fatal(err)
	}
	req := Request{
		Type:     rAARCH64_ADR_PREL_PG_HI21,
		Obj:      obj,
		Addr:     0x1002000,
		SymValue: 0x1010000,
		Resolved: true,
	}
	out := Apply(arch.ARM64, req)
	if !out.Handled || out.Err != nil {
		t.Fatalf("Apply ADRP: %+v", out)
	}
	word, _ := obj.ReadWord32Abs(0x1002000)
	if word&0x9f000000 != 0x90000000 {
		t.Fatalf("ADRP opcode bits corrupted: %#x", word)
	}
}

func TestApplyUnknownTypeReportsUnhandled(t *testing.T) {
	obj := newObj(0x400000, 0x100)
	out := Apply(arch.X86_64, Request{Type: 9999, Obj: obj, Addr: 0x400010})
	if out.Handled {
		t.Fatal("expected unhandled for an unknown relocation type")
	}
	if out.Err != nil {
		t.Fatalf("unexpected error for merely-unknown type: %v", out.Err)
	}
}
