// Package wasm provides a binary codec for a deliberately narrow slice of
// the WebAssembly format: MVP Wasm 1.0, the sign-extension operators, and
// the multi-value extension to block types. Every other post-MVP proposal
// (GC, exception handling, tail calls, SIMD, threads, bulk memory,
// reference types, multi-memory, memory64) is detected during parsing and
// reported as a *DecodeError with Extension set, rather than decoded.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse with structural validation:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded, err := module.Encode()
//
// Round-tripping preserves semantics but not necessarily byte-for-byte
// layout (custom sections aside from "name" are preserved verbatim; the
// name section itself is re-emitted from Function/Local.Name rather than
// copied).
//
// # Module structure
//
// Index spaces are merged: imports and local definitions of a given kind
// share one slice, imports first, matching the binary format's numbering.
//
//	module.Types      []FuncType   // interned function signatures
//	module.Functions  []*Function  // imports first, then locally defined
//	module.Tables     []*Table
//	module.Memories   []*Memory
//	module.Globals    []*Global
//
// # Instructions
//
//	instrs, err := wasm.DecodeInstructions(r)
//	err = wasm.EncodeInstructions(w, instrs)
package wasm
