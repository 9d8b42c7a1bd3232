// Package errs provides the structured error type the instrumenter raises
// for its own failures: an empty hook set, a rewrite that leaves a
// function ill-typed, or a wazero validation failure on the encoded
// output. Binary codec failures (malformed LEB128, bad section layout,
// unsupported extensions) are reported by the wasm package's own
// DecodeError/EncodeError instead, which carry byte offsets and section
// names rather than a Phase/Kind pair.
//
// Errors are categorized by Phase (where in the instrumentation pipeline
// the error occurred) and Kind (the error category). Use the Builder for
// structured construction:
//
//	err := errs.New(errs.PhaseValidate, errs.KindTypeMismatch).
//		Path(fmt.Sprintf("func[%d]", fnIdx), fmt.Sprintf("instr[%d]", idx)).
//		Detail("expected %s, got %s", want, got).
//		Build()
//
// All errors implement the standard error interface and support
// errors.Is/As.
package errs
