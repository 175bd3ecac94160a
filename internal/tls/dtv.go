package tls

// DTVEntry is one slot of the Dynamic Thread Vector (spec.md §3 "DTV").
// Entry 0 is the header (Generation/Count); entry k (k>=1) points at this
// thread's TLS block for module k.
type DTVEntry struct {
	ModuleID int
	Pointer  uintptr
}

// DTV is a per-thread array indexed by module_id, grown as dynamic TLS
// modules (ones that overflowed the static surplus) are registered.
type DTV struct {
	Generation uint64
	entries    []DTVEntry // entries[0] is unused; index matches module_id
}

// NewDTV builds a DTV sized to cover module_ids 1..staticModuleCount,
// pre-populated with pointers for the static TLS modules (whose images
// live inside the single contiguous static TLS block); a module with no
// entry in staticOffsets gets a zero pointer. Later module_ids are added
// with Grow.
func NewDTV(staticModuleCount int, staticBlockStart uint64, staticOffsets []uint64) *DTV {
	d := &DTV{Generation: 1, entries: make([]DTVEntry, staticModuleCount+1)}
	for i := 1; i <= staticModuleCount; i++ {
		ptr := uintptr(0)
		if i-1 < len(staticOffsets) {
			ptr = uintptr(staticBlockStart + staticOffsets[i-1])
		}
		d.entries[i] = DTVEntry{ModuleID: i, Pointer: ptr}
	}
	return d
}

// Count returns the number of module slots (including the unused header
// slot 0), matching spec.md §3's DTV "count" field semantics.
func (d *DTV) Count() int { return len(d.entries) }

// Get returns the TLS block pointer registered for moduleID, or 0 if the
// module has no slot yet.
func (d *DTV) Get(moduleID int) uintptr {
	if moduleID <= 0 || moduleID >= len(d.entries) {
		return 0
	}
	return d.entries[moduleID].Pointer
}

// Grow extends the DTV to cover a newly assigned moduleID (a dlopen-ed
// module that overflowed the static surplus and was registered as
// dynamic, spec.md §4.D "Surplus allocator" failure path), bumping
// Generation so readers know to refresh any cached view.
func (d *DTV) Grow(moduleID int, ptr uintptr) {
	for len(d.entries) <= moduleID {
		d.entries = append(d.entries, DTVEntry{})
	}
	d.entries[moduleID] = DTVEntry{ModuleID: moduleID, Pointer: ptr}
	d.Generation++
}
