package instrument

// HookKind is one entry in the closed enumeration of instrumentation
// points this instrumenter supports. Absent entries suppress hook
// emission. At the if, call/call_indirect and return sites they also
// suppress the related local-saving boilerplate; the numeric, load,
// store, memory.grow, br_if, br_table, drop and select sites route their
// operands through fresh locals whether or not their hook is enabled.
type HookKind string

const (
	HookStart       HookKind = "start"
	HookNop         HookKind = "nop"
	HookUnreachable HookKind = "unreachable"
	HookBr          HookKind = "br"
	HookBrIf        HookKind = "br_if"
	HookBrTable     HookKind = "br_table"
	HookIf          HookKind = "if"
	HookBegin       HookKind = "begin"
	HookEnd         HookKind = "end"
	HookCall        HookKind = "call"
	HookReturn      HookKind = "return"
	HookDrop        HookKind = "drop"
	HookSelect      HookKind = "select"
	HookConst       HookKind = "const"
	HookUnary       HookKind = "unary"
	HookBinary      HookKind = "binary"
	HookLoad        HookKind = "load"
	HookStore       HookKind = "store"
	HookMemorySize  HookKind = "memory_size"
	HookMemoryGrow  HookKind = "memory_grow"
	HookLocal       HookKind = "local"
	HookGlobal      HookKind = "global"
)

// allHookKinds enumerates the full closed set, used by AllHooks and
// AllHooksExcept. NewHookSet does not check its arguments against it.
var allHookKinds = []HookKind{
	HookStart, HookNop, HookUnreachable, HookBr, HookBrIf, HookBrTable,
	HookIf, HookBegin, HookEnd, HookCall, HookReturn, HookDrop, HookSelect,
	HookConst, HookUnary, HookBinary, HookLoad, HookStore, HookMemorySize,
	HookMemoryGrow, HookLocal, HookGlobal,
}

// HookSet selects which instrumentation points are active for a run.
type HookSet map[HookKind]bool

// NewHookSet builds a HookSet containing exactly the given kinds.
func NewHookSet(kinds ...HookKind) HookSet {
	hs := make(HookSet, len(kinds))
	for _, k := range kinds {
		hs[k] = true
	}
	return hs
}

// AllHooks returns a HookSet with every known hook kind enabled; this is
// what a full dynamic-analysis instrumentation run normally wants.
func AllHooks() HookSet {
	return NewHookSet(allHookKinds...)
}

// AllHooksExcept returns a HookSet with every known hook kind enabled
// except those named, mirroring the original's config.rs
// EnabledHooks::from_no_hooks "instrument everything except these" CLI
// mode (the dual of NewHookSet's "instrument only these", which matches
// EnabledHooks::from_hooks).
func AllHooksExcept(excluded ...HookKind) HookSet {
	skip := NewHookSet(excluded...)
	hs := make(HookSet, len(allHookKinds))
	for _, k := range allHookKinds {
		if !skip[k] {
			hs[k] = true
		}
	}
	return hs
}

// Has reports whether kind is enabled. A nil HookSet has nothing enabled.
func (hs HookSet) Has(kind HookKind) bool {
	return hs != nil && hs[kind]
}

// Empty reports whether no hook kind is enabled.
func (hs HookSet) Empty() bool {
	return len(hs) == 0
}
