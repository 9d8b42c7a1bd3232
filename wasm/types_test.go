package wasm_test

import (
	"testing"

	"github.com/wasabi-go/wasabi/wasm"
)

func TestFuncTypeEqual(t *testing.T) {
	a := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI64}, Results: []wasm.ValType{wasm.ValF32}}
	b := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI64}, Results: []wasm.ValType{wasm.ValF32}}
	c := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValF32}}

	if !a.Equal(b) {
		t.Errorf("expected %v to equal %v", a, b)
	}
	if a.Equal(c) {
		t.Errorf("expected %v to not equal %v", a, c)
	}
}

func TestModuleAddTypeInterns(t *testing.T) {
	m := &wasm.Module{}
	ft := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}

	idx1 := m.AddType(ft)
	idx2 := m.AddType(ft)
	if idx1 != idx2 {
		t.Errorf("AddType should intern equal signatures, got %d and %d", idx1, idx2)
	}
	if len(m.Types) != 1 {
		t.Errorf("expected 1 interned type, got %d", len(m.Types))
	}

	other := wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}}
	idx3 := m.AddType(other)
	if idx3 == idx1 {
		t.Errorf("distinct signatures must not collapse to the same type index")
	}
}

func TestFunctionLocalType(t *testing.T) {
	f := &wasm.Function{
		Type:   wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI64}},
		Locals: []wasm.Local{{Type: wasm.ValF32}, {Type: wasm.ValF64}},
	}

	cases := []struct {
		idx  uint32
		want wasm.ValType
		ok   bool
	}{
		{0, wasm.ValI32, true},
		{1, wasm.ValI64, true},
		{2, wasm.ValF32, true},
		{3, wasm.ValF64, true},
		{4, 0, false},
	}
	for _, c := range cases {
		got, ok := f.LocalType(c.idx)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("LocalType(%d) = (%v, %v), want (%v, %v)", c.idx, got, ok, c.want, c.ok)
		}
	}
	if f.NumLocals() != 2 {
		t.Errorf("NumLocals() = %d, want 2", f.NumLocals())
	}
}

func TestFunctionIsImported(t *testing.T) {
	imported := &wasm.Function{Import: &wasm.Import{Module: "env", Name: "log"}}
	local := &wasm.Function{}
	if !imported.IsImported() {
		t.Error("expected imported function to report IsImported() == true")
	}
	if local.IsImported() {
		t.Error("expected local function to report IsImported() == false")
	}
}

func TestModuleFuncIndexing(t *testing.T) {
	m := &wasm.Module{Functions: []*wasm.Function{
		{Import: &wasm.Import{Module: "env", Name: "a"}},
		{Name: "local_one"},
	}}
	if m.NumImportedFuncs() != 1 {
		t.Errorf("NumImportedFuncs() = %d, want 1", m.NumImportedFuncs())
	}
	if got := m.Func(1); got == nil || got.Name != "local_one" {
		t.Errorf("Func(1) = %v, want local_one", got)
	}
	if m.Func(5) != nil {
		t.Error("Func out of range should return nil")
	}
}
