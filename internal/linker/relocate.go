package linker

import (
	"github.com/xyproto/rtld/internal/dso"
	"github.com/xyproto/rtld/internal/reloc"
	"github.com/xyproto/rtld/internal/rtlderr"
)

// RelocateSingle drives every relocation record belonging to obj, per
// spec.md §4.E "relocate_single(obj)": first try apply with no resolved
// symbol (covers Relative/IRelative/TLS ModID, which need no symbol
// lookup at all); if that reports unhandled, resolve the symbol name
// against the global table and retry with the owning object's
// module_id/tls_offset; if still unhandled, try the copy-relocation path;
// an unresolved non-weak symbol is skipped silently (spec.md §7
// UnresolvedSymbol).
func (s *State) RelocateSingle(obj *dso.Object) error {
	staticSize := uint64(0)
	staticAlign := uint64(0)
	if s.TLSGeometry != nil {
		staticSize = s.TLSGeometry.StaticSize
		staticAlign = s.TLSGeometry.StaticAlign
	}

	for _, rec := range obj.Relocations() {
		req := reloc.Request{
			Type:           rec.Type,
			Obj:            obj,
			Addr:           obj.Base.Add(rec.Offset),
			Addend:         rec.Addend,
			Base:           obj.Base,
			OwnerModuleID:  obj.TLS.ModuleID,
			OwnerTLSOffset: obj.TLS.Offset,
			StaticTLSSize:  staticSize,
			StaticAlign:    staticAlign,
		}

		out := reloc.Apply(s.Arch, req)
		if out.Err != nil {
			return out.Err
		}
		if out.Handled {
			continue
		}

		name, ok := obj.GetSymName(rec.Sym)
		if !ok {
			rtlderr.LogSkip(rtlderr.UnknownRelocation, "linker.RelocateSingle", obj.Name)
			continue
		}
		owner, ok := s.GlobalSymbols[name]
		if !ok {
			rtlderr.LogSkip(rtlderr.UnresolvedSymbol, "linker.RelocateSingle", name)
			continue
		}

		// TLS DTP-rel/TP-rel classes want S = the symbol's raw st_value (its
		// offset within the defining module's TLS segment), never
		// base+value — spec.md §4.B scenario 4. Every other scalar class
		// wants a real runtime address.
		class, err := reloc.ClassOf(s.Arch, rec.Type)
		if err != nil {
			return err
		}
		switch class {
		case reloc.ClassTLSDTPRel, reloc.ClassTLSTPRel:
			req.SymValue = owner.Sym.Value
		default:
			req.SymValue = uint64(owner.Owner.Base.Add(owner.Sym.Value))
		}
		req.SymSize = owner.Sym.Size
		req.OwnerModuleID = owner.Owner.TLS.ModuleID
		req.OwnerTLSOffset = owner.Owner.TLS.Offset
		req.Resolved = true

		out = reloc.Apply(s.Arch, req)
		if out.Err != nil {
			return out.Err
		}
		if out.Handled {
			continue
		}

		copyOut := reloc.ApplyCopy(s.Arch, req, owner.Owner, owner.Owner.Base.Add(uint64(owner.Sym.Value)))
		if copyOut.Err != nil {
			// Not every unhandled-after-resolution record is a copy
			// relocation; ApplyCopy's own "non-copy type" error just
			// means this one genuinely has no handler.
			rtlderr.LogSkip(rtlderr.UnknownRelocation, "linker.RelocateSingle", name)
			continue
		}
	}
	return nil
}
