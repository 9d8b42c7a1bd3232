package instrument_test

import (
	"strings"
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
	"github.com/wasabi-go/wasabi/wasm"
)

func TestEmitJSIncludesHookShimsAndStaticInfo(t *testing.T) {
	module := &wasm.Module{}
	cat := instrument.NewHookCatalogue(module)
	cat.Request(instrument.HookBinary, []wasm.ValType{wasm.ValI64, wasm.ValI64})

	info := instrument.NewStaticInfo(module)
	info.SetFunction(0, instrument.FunctionInfo{InstrCount: 3})

	js, err := instrument.EmitJS(info, cat, false)
	if err != nil {
		t.Fatalf("EmitJS: %v", err)
	}
	if !strings.Contains(js, "function Long(") {
		t.Fatal("emitted JS should define the Long helper")
	}
	if !strings.Contains(js, "Wasabi.module.info = ") {
		t.Fatal("emitted JS should embed the static info object")
	}
	if !strings.Contains(js, instrument.HooksModuleName) {
		t.Fatal("emitted JS should reference the hooks import module name")
	}
	if !strings.Contains(js, "binary_II") {
		t.Fatalf("expected the mangled binary_II shim key in emitted JS, got:\n%s", js)
	}
	if strings.Contains(js, "module.exports") {
		t.Fatal("browser target should not emit a CommonJS export footer")
	}
}

func TestEmitJSNodeTargetAddsExportsFooter(t *testing.T) {
	module := &wasm.Module{}
	cat := instrument.NewHookCatalogue(module)
	info := instrument.NewStaticInfo(module)

	js, err := instrument.EmitJS(info, cat, true)
	if err != nil {
		t.Fatalf("EmitJS: %v", err)
	}
	if !strings.Contains(js, "module.exports = Wasabi;") {
		t.Fatal("node target should emit a CommonJS export footer")
	}
}
