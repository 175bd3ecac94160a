package linker

import "github.com/xyproto/rtld/internal/dso"

// CallFunc invokes a zero-argument function at a resolved runtime address
// — DT_INIT or one DT_INIT_ARRAY entry. Actually jumping to native code from a parsed ELF object is
// the same kind of "external collaborator" spec.md §1 carves out for the
// freestanding entry stub: this module computes every address that must
// be called and in what order, but the call itself is injected so the
// orchestration logic stays testable without executing arbitrary machine
// code inside the test binary. cmd/rtld leaves State.Call nil, so its Link
// run computes the initializer addresses but calls none of them.
type CallFunc func(addr uintptr)

// runInitializers calls every DT_INIT then DT_INIT_ARRAY entry of
// Objects[from:to], in reverse load order (spec.md §4.E step 8: "run
// initializers in reverse load order — each DSO's DT_INIT first, then
// each entry of DT_INIT_ARRAY in index order"). A nil s.Call is a no-op —
// orchestration still runs, nothing is invoked, matching a build that
// hasn't wired a real trampoline yet.
func (s *State) runInitializers(from, to int) {
	if s.Call == nil {
		return
	}
	for i := to - 1; i >= from; i-- {
		obj := s.Objects[i]
		callInitializers(s.Call, obj)
	}
}

func callInitializers(call CallFunc, obj *dso.Object) {
	if obj.InitFunc != 0 {
		call(uintptr(obj.Base.Add(uint64(obj.InitFunc))))
	}
	for _, entry := range obj.InitArray {
		call(uintptr(obj.Base.Add(uint64(entry))))
	}
}
