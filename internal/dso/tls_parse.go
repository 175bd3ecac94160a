package dso

import "fmt"

// parseTLS finds the (at most one) PT_TLS program header and records the
// TLS descriptor fields spec.md §4.C requires: image = [p_vaddr,
// p_vaddr+p_filesz), tls_size = p_memsz, tls_align = p_align. ModuleID and
// Offset are left zero; internal/tls assigns them during layout.
func (o *Object) parseTLS() error {
	for _, ph := range o.Phdrs {
		if ph.Type != ptTLS {
			continue
		}
		if o.TLS.Size != 0 {
			return fmt.Errorf("dso: %s: more than one PT_TLS segment", o.Name)
		}
		start := int(ph.Vaddr)
		end := start + int(ph.Filesz)
		if start < 0 || end > len(o.Mem) {
			return fmt.Errorf("dso: %s: PT_TLS image out of range", o.Name)
		}
		image := make([]byte, ph.Filesz)
		copy(image, o.Mem[start:end])
		align := ph.Align
		if align == 0 {
			align = 1
		}
		o.TLS = TLSDescriptor{
			Size:  ph.Memsz,
			Align: align,
			Image: image,
		}
	}
	return nil
}

// parseRelro records every PT_GNU_RELRO range, re-protected read-only once
// relocation completes (spec.md §4.E step 7).
func (o *Object) parseRelro() {
	o.Relro = o.Relro[:0]
	for _, ph := range o.Phdrs {
		if ph.Type != ptGNURelro {
			continue
		}
		o.Relro = append(o.Relro, RelroRange{
			Start: VirtualAddr(ph.Vaddr),
			End:   VirtualAddr(ph.Vaddr + ph.Memsz),
		})
	}
}
