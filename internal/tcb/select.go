package tcb

import (
	"fmt"

	"github.com/xyproto/rtld/internal/arch"
)

// For selects the Arch TCB primitive matching a, used by internal/linker to
// pick the right implementation for the running architecture rather than
// hard-coding one. Only the primitive matching the build's GOARCH is ever
// backed by real register access; asking for a different one is always a
// configuration error, not something a cross-compiled binary can act on.
func For(a arch.Arch) (Primitive, error) {
	p := native()
	if p.Arch() != a {
		return nil, fmt.Errorf("tcb: requested %s primitive but this build targets %s", a, p.Arch())
	}
	return p, nil
}
