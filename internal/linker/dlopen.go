package linker

import "github.com/xyproto/rtld/internal/dso"

// Dlopen implements spec.md §4.E "dlopen(path)": dedup against
// LoadedNames; on a new path, load it (and its transitive DT_NEEDED
// closure) starting at the current end of Objects, try-fit each new
// TLS-bearing object into the surplus or register it dynamic, relocate
// only the new subrange, re-protect RELRO for the new objects, and run
// initializers in reverse for just that subrange. Returns the null handle
// (0) on any failure — spec.md §7 DlopenFailure: "partially installed
// DSOs remain in objects (no rollback)".
//
// dlopen/dlsym are the only operations that run after single-threaded
// startup (spec.md §5.2); callers are expected to hold no other lock, and
// this method serializes itself via s.mu.
func (s *State) Dlopen(path string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.LoadedNames[path]; ok {
		return Handle(idx + 1)
	}

	startIdx := len(s.Objects)
	obj, err := dso.FromPath(path, s.SearchDir, s.Arch)
	if err != nil {
		return 0
	}
	s.Objects = append(s.Objects, obj)
	s.LoadedNames[path] = startIdx

	if err := s.loadDependenciesBFS(startIdx); err != nil {
		return 0
	}

	s.fitOrRegisterDynamicTLS(startIdx, len(s.Objects))
	s.buildGlobalSymbols(startIdx, len(s.Objects))

	for i := startIdx; i < len(s.Objects); i++ {
		if err := s.RelocateSingle(s.Objects[i]); err != nil {
			return 0
		}
	}

	s.reprotectRelro(startIdx, len(s.Objects))
	s.runInitializers(startIdx, len(s.Objects))

	return Handle(startIdx + 1)
}

// fitOrRegisterDynamicTLS tries to place each new TLS-bearing object's
// block inside the remaining static TLS surplus (spec.md §4.E intro,
// "Surplus allocator"); on failure the object is registered as a dynamic
// TLS module instead — module_id allocated past the static set, image
// recorded, backing storage left for per-thread lazy materialization via
// the DTV, exactly as spec.md's surplus-allocator paragraph describes.
func (s *State) fitOrRegisterDynamicTLS(from, to int) {
	nextModuleID := from + 1
	for i := from; i < to; i++ {
		obj := s.Objects[i]
		if !obj.TLS.HasTLS() {
			continue
		}
		if s.TLSGeometry != nil && s.TLSGeometry.TryFitSurplus(obj, nextModuleID) {
			nextModuleID++
			continue
		}
		obj.TLS.ModuleID = nextModuleID
		nextModuleID++
	}
}

// Dlsym implements spec.md §4.E "dlsym(handle, name)": handle 0 searches
// the global symbol map; any other handle also falls back to the global
// map — the tree-scoped dependency-order search a full implementation
// would perform for a nonzero handle is the open question spec.md §9
// documents, not silently "fixed" here. Returns 0 if name has no
// definition.
func (s *State) Dlsym(handle Handle, name string) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()

	sym, ok := s.GlobalSymbols[name]
	if !ok {
		return 0
	}
	return uintptr(sym.Owner.Base.Add(sym.Sym.Value))
}
