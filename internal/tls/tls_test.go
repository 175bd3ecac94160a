package tls

import (
	"testing"

	"github.com/xyproto/rtld/internal/arch"
	"github.com/xyproto/rtld/internal/dso"
)

func tlsObj(name string, size, align uint64, image []byte) *dso.Object {
	return &dso.Object{Name: name, TLS: dso.TLSDescriptor{Size: size, Align: align, Image: image}}
}

func TestLayoutAssignsModuleIDsAndOffsets(t *testing.T) {
	a := tlsObj("a.so", 0x18, 8, []byte{1, 2, 3})
	b := tlsObj("b.so", 0x10, 16, []byte{4, 5, 6, 7})
	objs := []*dso.Object{a, b}

	geo, err := Layout(objs, 0x100)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if a.TLS.ModuleID != 1 || b.TLS.ModuleID != 2 {
		t.Fatalf("module ids = %d, %d, want 1, 2", a.TLS.ModuleID, b.TLS.ModuleID)
	}
	// b's align (16) forces a's 0x18-byte block to be padded up before b
	// starts, since offsets accumulate in load order.
	if a.TLS.Offset != 0 {
		t.Fatalf("a.Offset = %#x, want 0", a.TLS.Offset)
	}
	wantBOffset := alignUp(0x18, 16)
	if b.TLS.Offset != wantBOffset {
		t.Fatalf("b.Offset = %#x, want %#x", b.TLS.Offset, wantBOffset)
	}
	if geo.StaticAlign != 16 {
		t.Fatalf("StaticAlign = %d, want 16 (max of 8, 16, and the 16-byte floor)", geo.StaticAlign)
	}
	wantEnd := wantBOffset + 0x10
	if geo.StaticEndOffset != wantEnd {
		t.Fatalf("StaticEndOffset = %#x, want %#x", geo.StaticEndOffset, wantEnd)
	}
	if geo.StaticSize != wantEnd+0x100 {
		t.Fatalf("StaticSize = %#x, want %#x", geo.StaticSize, wantEnd+0x100)
	}
	if geo.SurplusRemaining != 0x100 {
		t.Fatalf("SurplusRemaining = %#x, want 0x100", geo.SurplusRemaining)
	}
}

func TestLayoutSkipsObjectsWithoutTLS(t *testing.T) {
	plain := &dso.Object{Name: "plain.so"}
	tlsed := tlsObj("has-tls.so", 8, 8, nil)

	geo, err := Layout([]*dso.Object{plain, tlsed}, 0)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if plain.TLS.ModuleID != 0 {
		t.Fatalf("plain object got a module id: %d", plain.TLS.ModuleID)
	}
	if tlsed.TLS.ModuleID != 2 {
		t.Fatalf("tlsed.ModuleID = %d, want 2 (load-order index, not TLS-only index)", tlsed.TLS.ModuleID)
	}
	if geo.SurplusSize != uint64(defaultSurplusForTest()) {
		t.Fatalf("zero surplus should fall back to the package default, got %d", geo.SurplusSize)
	}
}

func defaultSurplusForTest() uint64 {
	geo, _ := Layout(nil, 0)
	return geo.SurplusSize
}

func TestTryFitSurplusFitsWithinRemainingSpace(t *testing.T) {
	geo, err := Layout([]*dso.Object{tlsObj("main.so", 0x10, 8, nil)}, 0x40)
	if err != nil {
		t.Fatal(err)
	}
	dyn := tlsObj("plugin.so", 0x20, 8, nil)
	if !geo.TryFitSurplus(dyn, 2) {
		t.Fatal("expected TryFitSurplus to succeed within a 0x40 surplus")
	}
	if dyn.TLS.ModuleID != 2 {
		t.Fatalf("ModuleID = %d, want 2", dyn.TLS.ModuleID)
	}
	if geo.SurplusRemaining != 0x40-0x20 {
		t.Fatalf("SurplusRemaining = %#x, want %#x", geo.SurplusRemaining, 0x40-0x20)
	}
}

func TestTryFitSurplusFailsWhenTooLarge(t *testing.T) {
	geo, err := Layout([]*dso.Object{tlsObj("main.so", 0x10, 8, nil)}, 0x10)
	if err != nil {
		t.Fatal(err)
	}
	dyn := tlsObj("plugin.so", 0x40, 8, nil)
	if geo.TryFitSurplus(dyn, 2) {
		t.Fatal("expected TryFitSurplus to fail when the block exceeds the surplus")
	}
	if dyn.TLS.ModuleID != 0 {
		t.Fatalf("a failed fit must not assign a module id, got %d", dyn.TLS.ModuleID)
	}
}

func TestBlockStartTCBAbove(t *testing.T) {
	geo := &Geometry{StaticSize: 0x100}
	got := BlockStart(arch.X86_64, 0x7fff0000, 48, geo)
	if want := uint64(0x7fff0000 - 0x100); got != want {
		t.Fatalf("BlockStart = %#x, want %#x", got, want)
	}
}

func TestBlockStartTCBBelow(t *testing.T) {
	geo := &Geometry{StaticSize: 0x100, StaticAlign: 16}
	got := BlockStart(arch.ARM64, 0x400000, 40, geo)
	if want := uint64(0x400000 + alignUp(40, 16)); got != want {
		t.Fatalf("BlockStart = %#x, want %#x", got, want)
	}
}

func TestInitThreadCopiesImageAndZeroesBSSTail(t *testing.T) {
	obj := tlsObj("a.so", 8, 8, []byte{0xaa, 0xbb, 0xcc})
	obj.TLS.Offset = 0
	geo := &Geometry{StaticSize: 16}

	dst := make([]byte, 16)
	for i := range dst {
		dst[i] = 0xff
	}
	if err := InitThread([]*dso.Object{obj}, dst, 0, geo); err != nil {
		t.Fatalf("InitThread: %v", err)
	}
	if dst[0] != 0xaa || dst[1] != 0xbb || dst[2] != 0xcc {
		t.Fatalf("image bytes not copied: %x", dst[:3])
	}
	for i := 3; i < 8; i++ {
		if dst[i] != 0 {
			t.Fatalf("BSS tail byte %d = %#x, want 0", i, dst[i])
		}
	}
}

func TestInitThreadRejectsUndersizedBlock(t *testing.T) {
	geo := &Geometry{StaticSize: 0x20}
	err := InitThread(nil, make([]byte, 0x10), 0, geo)
	if err == nil {
		t.Fatal("expected an error for a destination block smaller than StaticSize")
	}
}
