package instrument_test

import (
	"strings"
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
	"github.com/wasabi-go/wasabi/wasm"
)

func TestHookCatalogueDedupesByTypeTuple(t *testing.T) {
	module := &wasm.Module{}
	cat := instrument.NewHookCatalogue(module)

	idx1 := cat.Request(instrument.HookSelect, []wasm.ValType{wasm.ValI32})
	idx2 := cat.Request(instrument.HookSelect, []wasm.ValType{wasm.ValI32})
	if idx1 != idx2 {
		t.Fatalf("requesting the same (kind, types) twice should reuse the function index, got %d and %d", idx1, idx2)
	}

	idx3 := cat.Request(instrument.HookSelect, []wasm.ValType{wasm.ValI64})
	if idx3 == idx1 {
		t.Fatalf("a distinct type tuple must get its own hook, got the same index %d", idx1)
	}
	if len(module.Functions) != 2 {
		t.Fatalf("expected exactly 2 imported hook functions, got %d", len(module.Functions))
	}
	for _, fn := range module.Functions {
		if fn.Import == nil || fn.Import.Module != instrument.HooksModuleName {
			t.Fatalf("hook function should be imported from %q, got %+v", instrument.HooksModuleName, fn.Import)
		}
	}
}

func TestHookCatalogueSplitsI64ParamsForJSBoundary(t *testing.T) {
	module := &wasm.Module{}
	cat := instrument.NewHookCatalogue(module)

	cat.Request(instrument.HookUnary, []wasm.ValType{wasm.ValI64, wasm.ValI32})

	fn := module.Functions[0]
	// 2 leading location args + 2 i32 halves for the i64 + 1 i32 == 5.
	want := []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32}
	if len(fn.Type.Params) != len(want) {
		t.Fatalf("got %d params, want %d: %v", len(fn.Type.Params), len(want), fn.Type.Params)
	}
	for i, p := range fn.Type.Params {
		if p != want[i] {
			t.Fatalf("param %d = %v, want %v", i, p, want[i])
		}
	}
}

func TestHookCatalogueSpecsReflectRequests(t *testing.T) {
	module := &wasm.Module{}
	cat := instrument.NewHookCatalogue(module)
	cat.Request(instrument.HookBegin, nil)

	specs := cat.Specs()
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	if specs[0].Kind != instrument.HookBegin {
		t.Fatalf("got kind %v, want HookBegin", specs[0].Kind)
	}
	if !strings.Contains(specs[0].JSShim, "Wasabi.analysis.") {
		t.Fatalf("JS shim should forward to Wasabi.analysis.*, got %q", specs[0].JSShim)
	}
	if !strings.Contains(specs[0].JSShim, string(instrument.HookBegin)) {
		t.Fatalf("JS shim should reference the hook kind %q, got %q", instrument.HookBegin, specs[0].JSShim)
	}
}
