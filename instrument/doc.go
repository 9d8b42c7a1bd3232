// Package instrument rewrites a parsed Wasm module (see package wasm) so
// that it calls a family of imported hook functions at every instruction
// the caller's HookSet names, plus emits the companion static metadata and
// low-level JavaScript shims a host-side analysis consumes.
//
// The pipeline is: build a BlockStack per function (matching block begins
// to ends), walk the function body once with a TypeStack tracking operand
// types, and emit an instrumented body interleaving the original
// instructions with hook-call sequences produced by a HookCatalogue that
// monomorphises polymorphic hooks (drop, select, local/global access,
// call, return) over the concrete value types observed at each site.
//
// Instrument is the package's single entry point:
//
//	result, err := instrument.Instrument(module, instrument.Options{Hooks: instrument.AllHooks()})
//
// result.Module is ready for result.Module.Encode(); result.JS is the
// companion JavaScript source.
package instrument
