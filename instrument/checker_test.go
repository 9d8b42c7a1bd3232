package instrument_test

import (
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
	"github.com/wasabi-go/wasabi/wasm"
)

func TestCheckFunctionInfersConstAndBinaryOp(t *testing.T) {
	fn := &wasm.Function{
		Type: wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
		Body: []wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 1}},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 2}},
			{Opcode: wasm.OpI32Add},
			{Opcode: wasm.OpEnd},
		},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}

	types, err := instrument.CheckFunction(module, fn)
	if err != nil {
		t.Fatalf("CheckFunction: %v", err)
	}
	if len(types) != len(fn.Body) {
		t.Fatalf("got %d inferred types, want %d", len(types), len(fn.Body))
	}
	add := types[2]
	if !add.Reachable {
		t.Fatal("i32.add should be reachable")
	}
	if len(add.Type.Params) != 2 || add.Type.Params[0] != wasm.ValI32 || add.Type.Params[1] != wasm.ValI32 {
		t.Fatalf("got params %v, want [i32 i32]", add.Type.Params)
	}
	if len(add.Type.Results) != 1 || add.Type.Results[0] != wasm.ValI32 {
		t.Fatalf("got results %v, want [i32]", add.Type.Results)
	}
}

func TestCheckFunctionRejectsTypeMismatch(t *testing.T) {
	fn := &wasm.Function{
		Type: wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
		Body: []wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 1}},
			{Opcode: wasm.OpF64Const, Imm: wasm.F64ConstImm{Value: 2}},
			{Opcode: wasm.OpI32Add},
			{Opcode: wasm.OpEnd},
		},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}

	if _, err := instrument.CheckFunction(module, fn); err == nil {
		t.Fatal("expected a type error adding an i32 to an f64")
	}
}

func TestCheckFunctionMonomorphisesSelect(t *testing.T) {
	fn := &wasm.Function{
		Type: wasm.FuncType{Results: []wasm.ValType{wasm.ValF32}},
		Body: []wasm.Instruction{
			{Opcode: wasm.OpF32Const, Imm: wasm.F32ConstImm{Value: 1}},
			{Opcode: wasm.OpF32Const, Imm: wasm.F32ConstImm{Value: 2}},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 1}},
			{Opcode: wasm.OpSelect},
			{Opcode: wasm.OpEnd},
		},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}

	types, err := instrument.CheckFunction(module, fn)
	if err != nil {
		t.Fatalf("CheckFunction: %v", err)
	}
	sel := types[3]
	if !sel.Reachable {
		t.Fatal("select over two known f32 operands should resolve to a concrete, reachable type")
	}
	if len(sel.Type.Results) != 1 || sel.Type.Results[0] != wasm.ValF32 {
		t.Fatalf("got select result type %v, want [f32]", sel.Type.Results)
	}
}

func TestCheckFunctionRejectsGlobalSetOnImmutableGlobal(t *testing.T) {
	fn := &wasm.Function{
		Body: []wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 1}},
			{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{Idx: 0}},
			{Opcode: wasm.OpEnd},
		},
	}
	module := &wasm.Module{
		Functions: []*wasm.Function{fn},
		Globals:   []*wasm.Global{{Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: false}}},
	}

	if _, err := instrument.CheckFunction(module, fn); err == nil {
		t.Fatal("expected an error setting an immutable global")
	}
}

func TestCheckFunctionPropagatesUnreachableAfterBr(t *testing.T) {
	fn := &wasm.Function{
		Body: []wasm.Instruction{
			{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
			{Opcode: wasm.OpBr, Imm: wasm.BranchImm{Label: 0}},
			{Opcode: wasm.OpUnreachable}, // dead code following an unconditional br
			{Opcode: wasm.OpEnd},
			{Opcode: wasm.OpEnd},
		},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}

	types, err := instrument.CheckFunction(module, fn)
	if err != nil {
		t.Fatalf("CheckFunction: %v", err)
	}
	if types[1].Reachable {
		t.Fatal("br itself ends the current instruction sequence and should be marked unreachable (falls through to dead code)")
	}
	if types[2].Reachable {
		t.Fatal("the instruction following an unconditional br is dead code")
	}
}
