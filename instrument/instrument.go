package instrument

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/wasabi-go/wasabi/errs"
	"github.com/wasabi-go/wasabi/wasm"
)

// Result bundles everything Instrument produces: the mutated module (ready
// to re-encode with Module.Encode), the companion JavaScript source, and
// the static info object that JS embeds, kept separately in case a caller
// wants to serialize it elsewhere.
type Result struct {
	Module *wasm.Module
	JS     string
	Info   *StaticInfo
}

// Options configures one instrumentation run.
type Options struct {
	Hooks HookSet

	// NodeExports appends a CommonJS module.exports footer to the emitted
	// JS, for targets running under Node rather than a browser <script>.
	NodeExports bool
}

// Instrument rewrites every locally defined function in module to call the
// hooks Options.Hooks selects, in place, and returns the companion
// JavaScript alongside the mutated module. module's Functions/Globals/
// Tables are extended as needed (hook imports, an optional start guard
// global, an optional table export); callers should treat the passed-in
// module as consumed and use the returned one.
//
// Per-function rewriting runs fork-join: one goroutine per locally defined
// function, synchronized with a WaitGroup, with errors collected through
// multierr rather than the first one winning, so a single malformed
// function doesn't hide problems in the rest of the module.
func Instrument(module *wasm.Module, opts Options) (*Result, error) {
	if opts.Hooks.Empty() {
		return nil, errs.New(errs.PhaseCompile, errs.KindInvalidInput).
			Detail("instrument: hook set is empty, nothing to do").Build()
	}

	cat := NewHookCatalogue(module)
	info := NewStaticInfo(module)

	startGuard, hasStartGuard := ensureStartGuard(module, opts.Hooks)
	ensureTableExport(module)

	n := len(module.Functions)
	errsCh := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if module.Functions[i].IsImported() {
			info.SetFunction(i, FunctionInfo{
				Type:   module.Functions[i].Type,
				Import: &ImportInfo{Module: module.Functions[i].Import.Module, Name: module.Functions[i].Import.Name},
			})
			continue
		}
		wg.Add(1)
		go func(fi int) {
			defer wg.Done()
			if err := RewriteFunction(module, fi, opts.Hooks, cat, info, startGuard, hasStartGuard); err != nil {
				errsCh[fi] = err
			}
		}(i)
	}
	wg.Wait()

	var agg error
	for _, e := range errsCh {
		agg = multierr.Append(agg, e)
	}
	if agg != nil {
		return nil, errs.New(errs.PhaseCompile, errs.KindInvalidData).
			Detail("instrument: rewrite failed").Cause(agg).Build()
	}

	info.Start = moduleStartIndex(module)

	js, err := EmitJS(info, cat, opts.NodeExports)
	if err != nil {
		return nil, errs.New(errs.PhaseCompile, errs.KindInvalidData).
			Detail("instrument: emit JS").Cause(err).Build()
	}

	return &Result{Module: module, JS: js, Info: info}, nil
}

func moduleStartIndex(module *wasm.Module) *int {
	if module.Start == nil {
		return nil
	}
	v := int(*module.Start)
	return &v
}

// ensureStartGuard adds a mutable i32 global initialized to 1 when the
// module declares a start function and the start hook is requested; the
// rewriter reads and clears this guard so the start hook fires exactly
// once even though Wasm lets the start function be any regular function
// (and thus, in principle, be called again later).
func ensureStartGuard(module *wasm.Module, hooks HookSet) (uint32, bool) {
	if module.Start == nil || !hooks.Has(HookStart) {
		return 0, false
	}
	idx := uint32(len(module.Globals))
	module.Globals = append(module.Globals, &wasm.Global{
		Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
		Init: []wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 1}},
			{Opcode: wasm.OpEnd},
		},
	})
	return idx, true
}

// ensureTableExport guarantees table 0 is exported under TableExportName,
// which the JS runtime needs to read indirect-call targets out of; if the
// module already exports table 0 under some other name that export is left
// alone and the guaranteed name is added alongside it.
func ensureTableExport(module *wasm.Module) {
	if len(module.Tables) == 0 {
		return
	}
	t := module.Tables[0]
	for _, name := range t.Export {
		if name == TableExportName {
			return
		}
	}
	t.Export = append(t.Export, TableExportName)
}

// ValidateWithWazero compiles (but does not instantiate) the encoded
// instrumented module through wazero as an independent check that the
// byte-level output is well-formed, catching rewriter bugs a structural
// check over the in-memory AST wouldn't: malformed LEB128, bad section
// ordering, or a type mismatch introduced by the rewrite.
func ValidateWithWazero(wasmBytes []byte) error {
	return validateWithWazero(wasmBytes)
}
