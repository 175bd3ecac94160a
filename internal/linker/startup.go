package linker

import (
	"fmt"
	"unsafe"

	"github.com/xyproto/rtld/internal/tcb"
	"github.com/xyproto/rtld/internal/tls"
)

// rawTCBSize is this module's unaligned TCB size (tcb.HeaderSize: no
// OS-specific or platform-specific block is appended — see the Open
// Question resolution in DESIGN.md). On a TCB-below architecture the
// actual space reserved for it must be rounded up to the linker's static
// TLS alignment, exactly as tls.BlockStart does internally, or the TCB and
// the static TLS block that follows it land at different offsets than
// BlockStart (and the TP-rel relocation formula) expect.
const rawTCBSize = tcb.HeaderSize

// allocateAndActivateTCB builds the calling thread's TCB plus its static
// TLS block as one contiguous allocation, writes the TCB header fields,
// calls the architecture's Activate primitive, and returns the installed
// TCB address and a slice view of the static TLS block for InitThread to
// populate — spec.md §4.E step 5.
//
// The allocation's layout mirrors BlockStart's two ABI shapes: on a
// TCB-above architecture (x86-64) the TLS block comes first and the TCB
// sits at the end; on a TCB-below architecture (AArch64, RISC-V) the TCB
// comes first, rounded up to the static TLS alignment, and the TLS block
// follows.
func (s *State) allocateAndActivateTCB() (tcbAddr uintptr, blockStart uint64, tlsBlock []byte, err error) {
	alignedTCB := int(tls.AlignUp(rawTCBSize, s.TLSGeometry.StaticAlign))
	total := alignedTCB + int(s.TLSGeometry.StaticSize)
	buf := make([]byte, total)
	bufAddr := uintptr(unsafe.Pointer(&buf[0]))

	var tcbOff, tlsOff int
	if s.Arch.TCBAbove() {
		tlsOff, tcbOff = 0, int(s.TLSGeometry.StaticSize)
	} else {
		tcbOff, tlsOff = 0, alignedTCB
	}

	tcbAddr = bufAddr + uintptr(tcbOff)
	tlsBlock = buf[tlsOff : tlsOff+int(s.TLSGeometry.StaticSize)]
	blockStart = tls.BlockStart(s.Arch, uint64(tcbAddr), rawTCBSize, s.TLSGeometry)
	if blockStart != uint64(bufAddr)+uint64(tlsOff) {
		// BlockStart is derived independently from tcbAddr by the formula
		// spec.md §4.D fixes; it must land exactly at the TLS region this
		// function already carved out, or relocation would write to the
		// wrong place.
		return 0, 0, nil, fmt.Errorf("linker: TLS block start mismatch: got %#x, computed %#x", bufAddr+uintptr(tlsOff), blockStart)
	}

	writeHeader(buf[tcbOff:tcbOff+rawTCBSize], tcbAddr)

	if err := s.TCB.Activate(tcbAddr); err != nil {
		return 0, 0, nil, fmt.Errorf("linker: activate TCB: %w", err)
	}
	return tcbAddr, blockStart, tlsBlock, nil
}

// writeHeader populates the architecture-independent TCB header fields
// (tcb.Header) into dst, which must be at least tcb.HeaderSize bytes.
// Self points at the TCB's own address (the self-referential pointer
// every TP-based ABI relies on so `*tp == tp`); TLSEnd/DTV/DTVLength are
// left zero here and filled in once a DTV exists (spec.md §4.E only
// requires TCB allocation and activation before relocation, not DTV
// population for the static-only case this module's Link exercises).
func writeHeader(dst []byte, self uintptr) {
	putPtr(dst[0:8], uint64(self))
	putPtr(dst[8:16], uint64(tcb.HeaderSize))
}

func putPtr(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
