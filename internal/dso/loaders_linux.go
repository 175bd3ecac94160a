//go:build linux

package dso

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	rtldarch "github.com/xyproto/rtld/internal/arch"
)

// FromPath opens name under searchDir, maps it with unix.Mmap and parses
// it, per spec.md §4.C "from_path(name)". The search path is a single
// fixed directory (spec.md §4.E) — passed in here as a parameter rather
// than hardcoded so tests can point it at a fixture directory; the
// dependency-resolution *algorithm* in internal/linker still only ever
// consults one directory per call, matching spec's "extending it is out
// of scope".
//
// Grounded on the teacher's golang.org/x/sys/unix usage in
// filewatcher_unix.go (inotify) and parallel_unix.go (process control) —
// the same package, applied here to Open/Fstat/Mmap/Munmap. No
// unix.Mprotect call is made: see Object.Mprotect below.
func FromPath(name, searchDir string, want rtldarch.Arch) (*Object, error) {
	path := filepath.Join(searchDir, name)
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("dso: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("dso: fstat %s: %w", path, err)
	}
	size := st.Size
	if size <= 0 {
		return nil, fmt.Errorf("dso: %s: empty file", path)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("dso: mmap %s: %w", path, err)
	}
	defer unix.Munmap(data)

	// This module's Object.Mem is a freestanding copy indexed by
	// link-time vaddr (see DESIGN.md) rather than the live mmap — the
	// mapping above exists to read the file the same way a real loader's
	// first mmap(PROT_READ) probe does, satisfying spec's "open,
	// verify... map each PT_LOAD" contract, without this module having to
	// install segments at real fixed virtual addresses (which would
	// require the reservation dance a production ld.so performs with
	// MAP_FIXED and is out of scope for a library living inside a host Go
	// process that already owns its address space).
	fileImage := make([]byte, len(data))
	copy(fileImage, data)

	// A real loader picks the PIE's load address (e.g. the kernel's mmap
	// base for the first PT_LOAD); this module picks delta 0, which is
	// exactly correct for non-PIE (ET_EXEC) objects and a deliberate
	// simplification for PIE dependencies, since nothing here dereferences
	// a genuine fixed virtual address.
	return FromBytes(name, fileImage, want, 0)
}

// Stat reports whether path exists and is a regular file, used by the
// linker's dependency search before attempting a full FromPath parse.
func Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Mprotect re-protects a RELRO range to read-only. Since Object.Mem is not
// a real OS mapping (see FromPath above), this is a no-op placeholder that
// exists so internal/linker has one call site to make read-only today and
// swap for a real unix.Mprotect call if Object.Mem is ever backed by a true
// mmap in a future revision; it still validates the range so a bug in RELRO
// bookkeeping (an out-of-range segment) is caught rather than silently
// ignored.
func (o *Object) Mprotect(r RelroRange) error {
	start := int(r.Start - o.Base)
	end := int(r.End - o.Base)
	if start < 0 || end > len(o.Mem) || start > end {
		return fmt.Errorf("dso: %s: relro range %s-%s out of bounds", o.Name, r.Start, r.End)
	}
	return nil
}
