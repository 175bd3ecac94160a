package linker

import "github.com/xyproto/rtld/internal/rtlderr"

// reprotectRelro passes every PT_GNU_RELRO range of Objects[from:to] to
// Object.Mprotect, after relocation and before initializers (spec.md §4.E
// step 7). Object.Mprotect only checks that the range lies inside the
// object's Mem; it does not change any memory protection, so the ranges
// stay writable. An out-of-range entry is logged and skipped.
func (s *State) reprotectRelro(from, to int) {
	for i := from; i < to; i++ {
		obj := s.Objects[i]
		for _, r := range obj.Relro {
			if err := obj.Mprotect(r); err != nil {
				rtlderr.LogSkip(rtlderr.FatalStartup, "linker.reprotectRelro", obj.Name)
			}
		}
	}
}
