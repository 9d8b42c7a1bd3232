package instrument

import (
	"context"

	"github.com/tetratelabs/wazero"

	"github.com/wasabi-go/wasabi/errs"
)

// validateWithWazero compiles wasmBytes with wazero and releases the
// compiled module immediately without instantiating it, giving an
// independent second opinion on the rewriter's byte-level output. It
// deliberately stops short of instantiation: the hook imports the
// catalogue generated aren't resolvable without an analysis supplying
// them, and compilation alone already validates section layout, LEB128
// encoding, and type consistency.
func validateWithWazero(wasmBytes []byte) error {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errs.New(errs.PhaseValidate, errs.KindInvalidData).
			Detail("instrumented module failed wazero compilation").
			Cause(err).Build()
	}
	return compiled.Close(ctx)
}
