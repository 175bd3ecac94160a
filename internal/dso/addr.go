package dso

import "fmt"

// VirtualAddr, FileOffset and friends prevent mixing address spaces the way
// a raw uint64 would let you — the same pitfall the teacher's
// address_types.go exists to avoid, here applied to a parser instead of a
// writer: an ELF consumer has just as much opportunity to add a file offset
// to a virtual address by mistake as a producer does.
type VirtualAddr uint64

// FileOffset is an offset inside the ELF file's byte stream.
type FileOffset uint64

func (v VirtualAddr) String() string { return fmt.Sprintf("0x%x", uint64(v)) }
func (f FileOffset) String() string  { return fmt.Sprintf("file:0x%x", uint64(f)) }

// Add returns the virtual address offset by n bytes.
func (v VirtualAddr) Add(n uint64) VirtualAddr { return v + VirtualAddr(n) }
