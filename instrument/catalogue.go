package instrument

import (
	"strings"
	"sync"

	"github.com/wasabi-go/wasabi/wasm"
)

// HooksModuleName is the import module name every generated hook function
// shares.
const HooksModuleName = "__wasabi_hooks"

// TableExportName is the name the rewriter guarantees table 0 is exported
// under, adding the export if the original module lacked one.
const TableExportName = "__wasabi_table"

// hookSpec is one monomorphised hook: the Wasm import the catalogue
// appended to the module, and the low-level JavaScript shim that
// reassembles i64 halves and forwards to the user analysis.
type hookSpec struct {
	FuncIdx    uint32
	MangledKey string
	Kind       HookKind
	Types      []wasm.ValType
	JSShim     string
}

// HookCatalogue lazily creates each required hook exactly once, keyed by
// (kind, type-tuple). On first request it appends a new imported function
// to the module (claiming the next function index) and records a
// JavaScript shim string; subsequent requests for the same key reuse the
// same function index, so each distinct monomorphised hook shape gets
// exactly one import.
type HookCatalogue struct {
	mu      sync.Mutex
	module  *wasm.Module
	byKey   map[string]*hookSpec
	ordered []*hookSpec
}

// NewHookCatalogue returns a catalogue that will append newly created hook
// import functions to module.
func NewHookCatalogue(module *wasm.Module) *HookCatalogue {
	return &HookCatalogue{module: module, byKey: make(map[string]*hookSpec)}
}

// mangle implements the hook name-mangling rule: append "_" followed
// by one character per argument type, lowercase i/f for 32-bit, uppercase
// I/F for 64-bit, in argument order. A monomorphic hook (no type tuple)
// gets no suffix.
func mangle(kind HookKind, types []wasm.ValType) string {
	if len(types) == 0 {
		return string(kind)
	}
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte('_')
	for _, t := range types {
		switch t {
		case wasm.ValI32:
			b.WriteByte('i')
		case wasm.ValI64:
			b.WriteByte('I')
		case wasm.ValF32:
			b.WriteByte('f')
		case wasm.ValF64:
			b.WriteByte('F')
		}
	}
	return b.String()
}

// lowLevelParams computes the Wasm import signature's parameter types: two
// leading i32 location arguments, then each payload argument with every
// i64 split into two i32s (low, high), since the JS boundary can't carry a
// 64-bit integer directly.
func lowLevelParams(payload []wasm.ValType) []wasm.ValType {
	params := []wasm.ValType{wasm.ValI32, wasm.ValI32}
	for _, t := range payload {
		if t == wasm.ValI64 {
			params = append(params, wasm.ValI32, wasm.ValI32)
		} else {
			params = append(params, t)
		}
	}
	return params
}

// Request returns the function index of the hook for (kind, types),
// creating it (a new Wasm import plus a JS shim) on first request.
func (c *HookCatalogue) Request(kind HookKind, types []wasm.ValType) uint32 {
	key := mangle(kind, types)

	c.mu.Lock()
	defer c.mu.Unlock()
	if spec, ok := c.byKey[key]; ok {
		return spec.FuncIdx
	}

	params := lowLevelParams(types)
	ft := wasm.FuncType{Params: params}
	idx := uint32(len(c.module.Functions))
	c.module.Functions = append(c.module.Functions, &wasm.Function{
		Type:   ft,
		Import: &wasm.Import{Module: HooksModuleName, Name: key},
	})

	spec := &hookSpec{
		FuncIdx:    idx,
		MangledKey: key,
		Kind:       kind,
		Types:      append([]wasm.ValType(nil), types...),
		JSShim:     renderShim(key, kind, types),
	}
	c.byKey[key] = spec
	c.ordered = append(c.ordered, spec)
	debugf("catalogue: created hook %s -> func %d", key, idx)
	return idx
}

// Specs returns every hook created so far, in creation order (which, for a
// single-threaded rewrite of one function, is deterministic; across the
// module's fork-joined functions it reflects whichever goroutine asked
// first — see instrument.go).
func (c *HookCatalogue) Specs() []*hookSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*hookSpec, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// renderShim produces the low-level JavaScript function that wazero-style
// imports call into: it reassembles i64 halves into the runtime's Long
// helper and forwards a more ergonomic call to the high-level hook on
// Wasabi.analysis.
func renderShim(mangledName string, kind HookKind, types []wasm.ValType) string {
	var params []string
	params = append(params, "func", "instr")
	var forwardArgs []string
	argN := 0
	for _, t := range types {
		if t == wasm.ValI64 {
			lo := argNameN(argN)
			hi := argNameN(argN + 1)
			params = append(params, lo, hi)
			forwardArgs = append(forwardArgs, "new Long("+lo+", "+hi+")")
			argN += 2
		} else {
			p := argNameN(argN)
			params = append(params, p)
			forwardArgs = append(forwardArgs, p)
			argN++
		}
	}

	var b strings.Builder
	b.WriteString(mangledName)
	b.WriteString(": function (")
	b.WriteString(strings.Join(params, ", "))
	b.WriteString(") {\n")
	b.WriteString("    Wasabi.analysis.")
	b.WriteString(string(kind))
	b.WriteString("({func: func, instr: instr}")
	for _, a := range forwardArgs {
		b.WriteString(", ")
		b.WriteString(a)
	}
	b.WriteString(");\n  }")
	return b.String()
}

func argNameN(n int) string {
	names := [...]string{"a", "b", "c", "d", "e", "f", "g", "h"}
	if n < len(names) {
		return names[n]
	}
	return "arg" + string(rune('0'+n))
}
