package auxv

import (
	"encoding/binary"
	"testing"
)

// buildStack encodes a synthetic initial-stack image in the kernel's
// [argc][argv...][NULL][envp...][NULL][auxv...][AT_NULL] layout (spec.md
// §6), as a flat []byte addressed by offset from a fake base so
// ParseInitialStack can be exercised without a real process stack.
func buildStack(argv, envp []uint64, av []Entry) []byte {
	var buf []byte
	putWord := func(w uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], w)
		buf = append(buf, b[:]...)
	}
	putWord(uint64(len(argv)))
	for _, a := range argv {
		putWord(a)
	}
	putWord(0)
	for _, e := range envp {
		putWord(e)
	}
	putWord(0)
	for _, e := range av {
		putWord(e.Tag)
		putWord(e.Value)
	}
	putWord(Null)
	putWord(0)
	return buf
}

func readerFor(buf []byte) func(uintptr) uint64 {
	return func(addr uintptr) uint64 {
		if int(addr)+8 > len(buf) {
			return 0
		}
		return binary.LittleEndian.Uint64(buf[addr : addr+8])
	}
}

func TestParseInitialStackDecodesArgvEnvpAuxv(t *testing.T) {
	buf := buildStack(
		[]uint64{0x1000, 0x1008},
		[]uint64{0x2000},
		[]Entry{{Tag: Phdr, Value: 0x400040}, {Tag: Phnum, Value: 9}, {Tag: EntryPoint, Value: 0x401000}},
	)

	argc, argv, envp, av, err := ParseInitialStack(0, readerFor(buf))
	if err != nil {
		t.Fatalf("ParseInitialStack: %v", err)
	}
	if argc != 2 {
		t.Fatalf("argc = %d, want 2", argc)
	}
	if len(argv) != 2 || argv[0] != 0x1000 || argv[1] != 0x1008 {
		t.Fatalf("argv = %v, want [0x1000 0x1008]", argv)
	}
	if len(envp) != 1 || envp[0] != 0x2000 {
		t.Fatalf("envp = %v, want [0x2000]", envp)
	}

	phdr, ok := av.Lookup(Phdr)
	if !ok || phdr != 0x400040 {
		t.Fatalf("av[Phdr] = %#x, ok=%v, want 0x400040, true", phdr, ok)
	}
	if got, _ := av.Lookup(EntryPoint); got != 0x401000 {
		t.Fatalf("av[Entry] = %#x, want 0x401000", got)
	}
}

func TestParseInitialStackRejectsMissingArgvTerminator(t *testing.T) {
	// A hand-built image with no NULL after argv: argc says 1 element but
	// the slot right after it is nonzero, which ParseInitialStack must
	// reject rather than silently treating as an envp pointer.
	var buf []byte
	put := func(w uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], w)
		buf = append(buf, b[:]...)
	}
	put(1)      // argc
	put(0x1000) // argv[0]
	put(0x2000) // should be NULL, isn't

	_, _, _, _, err := ParseInitialStack(0, readerFor(buf))
	if err == nil {
		t.Fatal("expected an error for a missing argv NULL terminator")
	}
}

func TestMustPhdrMissing(t *testing.T) {
	v := ParseFromEntries([]Entry{{Tag: Phnum, Value: 9}})
	if _, err := v.MustPhdr(); err == nil {
		t.Fatal("expected MustPhdr to fail when AT_PHDR is absent")
	}
}

func TestMustPhdrPresent(t *testing.T) {
	v := ParseFromEntries([]Entry{{Tag: Phdr, Value: 0x400040}})
	got, err := v.MustPhdr()
	if err != nil {
		t.Fatalf("MustPhdr: %v", err)
	}
	if got != 0x400040 {
		t.Fatalf("MustPhdr() = %#x, want 0x400040", got)
	}
}

func TestParseFromEntriesStopsAtNull(t *testing.T) {
	v := ParseFromEntries([]Entry{
		{Tag: Phdr, Value: 1},
		{Tag: Null, Value: 0},
		{Tag: EntryPoint, Value: 2}, // must never be reached
	})
	if _, ok := v.Lookup(EntryPoint); ok {
		t.Fatal("entries after AT_NULL must not be recorded")
	}
	if got, ok := v.Lookup(Phdr); !ok || got != 1 {
		t.Fatalf("Lookup(Phdr) = %d, %v, want 1, true", got, ok)
	}
}
