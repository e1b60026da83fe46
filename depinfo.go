package taskrt

import "sync"

// regionOp is the shape every named registration symbol implements: given
// the registry to register against, the task declaring the access, the
// region, and whether the access is weak, perform the registration and
// report whether it's already satisfied.
type regionOp func(r *Registry, h *Task, region Region, weak bool) bool

func registerAs(t AccessType) regionOp {
	return func(r *Registry, h *Task, region Region, weak bool) bool {
		_, satisfied := r.RegisterAccess(h, h.Parent(), t, weak, region)
		return satisfied
	}
}

// symbolTable is the late-bound set of registration implementations a
// Registry resolves by name, the Go analogue of the original's dlsym-based
// lookup of a runtime's optional nanos6_register_region_* symbols. Built
// once via sync.OnceValue since the set of implementations never changes
// at runtime.
var symbolTable = sync.OnceValue(func() map[string]regionOp {
	return map[string]regionOp{
		"read":        registerAs(Read),
		"write":       registerAs(Write),
		"readwrite":   registerAs(ReadWrite),
		"concurrent":  registerAs(Concurrent),
		"commutative": registerAs(Commutative),
	}
})

// resolveSymbol looks up name, falling back to fallback if r's Registry was
// constructed without support for name (spec.md §6 "may fall back to
// readwrite if unsupported").
func resolveSymbol(r *Registry, name, fallback string) regionOp {
	if r.reductionSupport || (name != "concurrent" && name != "commutative") {
		if op, ok := symbolTable()[name]; ok {
			return op
		}
	}
	return symbolTable()[fallback]
}

// RegisterRead declares a Read access of [start, start+length) by h,
// returning whether it's already satisfied.
func (r *Registry) RegisterRead(h *Task, start, length uintptr) bool {
	return resolveSymbol(r, "read", "read")(r, h, NewRegion(start, length), false)
}

// RegisterWrite declares a Write access.
func (r *Registry) RegisterWrite(h *Task, start, length uintptr) bool {
	return resolveSymbol(r, "write", "write")(r, h, NewRegion(start, length), false)
}

// RegisterReadWrite declares a ReadWrite access.
func (r *Registry) RegisterReadWrite(h *Task, start, length uintptr) bool {
	return resolveSymbol(r, "readwrite", "readwrite")(r, h, NewRegion(start, length), false)
}

// RegisterConcurrent declares a Concurrent (reduction-like) access,
// falling back to ReadWrite if r's Registry has reduction support
// disabled.
func (r *Registry) RegisterConcurrent(h *Task, start, length uintptr) bool {
	return resolveSymbol(r, "concurrent", "readwrite")(r, h, NewRegion(start, length), false)
}

// RegisterCommutative declares a Commutative access, falling back to
// ReadWrite if r's Registry has reduction support disabled.
func (r *Registry) RegisterCommutative(h *Task, start, length uintptr) bool {
	return resolveSymbol(r, "commutative", "readwrite")(r, h, NewRegion(start, length), false)
}

// RegisterWeakRead declares a weak Read access: region is reserved for a
// subtask h is about to create, without h itself reading it.
func (r *Registry) RegisterWeakRead(h *Task, start, length uintptr) {
	resolveSymbol(r, "read", "read")(r, h, NewRegion(start, length), true)
}

// RegisterWeakWrite declares a weak Write access.
func (r *Registry) RegisterWeakWrite(h *Task, start, length uintptr) {
	resolveSymbol(r, "write", "write")(r, h, NewRegion(start, length), true)
}

// RegisterWeakReadWrite declares a weak ReadWrite access.
func (r *Registry) RegisterWeakReadWrite(h *Task, start, length uintptr) {
	resolveSymbol(r, "readwrite", "readwrite")(r, h, NewRegion(start, length), true)
}

// RegisterWeakConcurrent declares a weak Concurrent access.
func (r *Registry) RegisterWeakConcurrent(h *Task, start, length uintptr) {
	resolveSymbol(r, "concurrent", "readwrite")(r, h, NewRegion(start, length), true)
}

// RegisterWeakCommutative declares a weak Commutative access.
func (r *Registry) RegisterWeakCommutative(h *Task, start, length uintptr) {
	resolveSymbol(r, "commutative", "readwrite")(r, h, NewRegion(start, length), true)
}
