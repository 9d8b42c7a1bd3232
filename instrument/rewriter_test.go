package instrument_test

import (
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
	"github.com/wasabi-go/wasabi/wasm"
)

func TestRewriteFunctionInsertsHooksAndRecordsInfo(t *testing.T) {
	fn := &wasm.Function{
		Type: wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
		Body: []wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 42}},
			{Opcode: wasm.OpEnd},
		},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}
	hooks := instrument.NewHookSet(instrument.HookConst, instrument.HookBegin, instrument.HookEnd, instrument.HookReturn)
	cat := instrument.NewHookCatalogue(module)
	info := instrument.NewStaticInfo(module)

	if err := instrument.RewriteFunction(module, 0, hooks, cat, info, 0, false); err != nil {
		t.Fatalf("RewriteFunction: %v", err)
	}

	if len(fn.Body) <= 2 {
		t.Fatalf("expected the rewritten body to grow past the original 2 instructions, got %d", len(fn.Body))
	}
	if len(module.Functions) <= 1 {
		t.Fatalf("expected hook imports to be appended to module.Functions, got %d total functions", len(module.Functions))
	}
	if info.Functions[0].InstrCount != len(fn.Body) {
		t.Fatalf("got recorded InstrCount %d, want %d", info.Functions[0].InstrCount, len(fn.Body))
	}
}

func TestRewriteFunctionSplitsI64LocalAcrossHookBoundary(t *testing.T) {
	fn := &wasm.Function{
		Type: wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}, Results: []wasm.ValType{wasm.ValI64}},
		Body: []wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{Idx: 0}},
			{Opcode: wasm.OpEnd},
		},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}
	hooks := instrument.NewHookSet(instrument.HookLocal)
	cat := instrument.NewHookCatalogue(module)
	info := instrument.NewStaticInfo(module)

	if err := instrument.RewriteFunction(module, 0, hooks, cat, info, 0, false); err != nil {
		t.Fatalf("RewriteFunction: %v", err)
	}

	if len(fn.Locals) == 0 {
		t.Fatal("expected a scratch local for re-reading the i64 value before splitting it")
	}

	hookFn := module.Functions[1]
	if hookFn.Import == nil {
		t.Fatal("expected the local hook to be appended as an imported function")
	}
	// 2 leading location i32s + 1 i32 local index + 2 i32 halves for the i64 value.
	if len(hookFn.Type.Params) != 5 {
		t.Fatalf("got %d hook params, want 5 (location x2, local index, i64 halves x2): %v", len(hookFn.Type.Params), hookFn.Type.Params)
	}
}

func TestRewriteFunctionRecordsBrTableDescriptor(t *testing.T) {
	fn := &wasm.Function{
		Body: []wasm.Instruction{
			{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}}, // 0: outer
			{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}}, // 1: inner
			{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 0}},           // 2: selector
			{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0}, Default: 1}}, // 3
			{Opcode: wasm.OpEnd}, // 4: closes inner
			{Opcode: wasm.OpEnd}, // 5: closes outer
			{Opcode: wasm.OpEnd}, // 6: function end
		},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}
	hooks := instrument.NewHookSet(instrument.HookBrTable)
	cat := instrument.NewHookCatalogue(module)
	info := instrument.NewStaticInfo(module)

	if err := instrument.RewriteFunction(module, 0, hooks, cat, info, 0, false); err != nil {
		t.Fatalf("RewriteFunction: %v", err)
	}

	if len(info.BrTables) != 1 {
		t.Fatalf("got %d br_table descriptors, want 1", len(info.BrTables))
	}
	desc := info.BrTables[0]
	if len(desc.Table) != 1 || desc.Table[0].Location.Instr != 4 {
		t.Fatalf("label 0 should resolve to the inner block's end (4), got %+v", desc.Table)
	}
	if desc.Default.Location.Instr != 5 {
		t.Fatalf("default label should resolve to the outer block's end (5), got %+v", desc.Default)
	}
	if len(desc.Default.EndBlocks) != 1 || desc.Default.EndBlocks[0].Instr != 4 {
		t.Fatalf("branching to the outer block should list the inner block's end as exited, got %+v", desc.Default.EndBlocks)
	}
}

func TestRewriteFunctionSkipsImportedFunctions(t *testing.T) {
	fn := &wasm.Function{
		Type:   wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}},
		Import: &wasm.Import{Module: "env", Name: "foo"},
	}
	module := &wasm.Module{Functions: []*wasm.Function{fn}}
	cat := instrument.NewHookCatalogue(module)
	info := instrument.NewStaticInfo(module)

	if err := instrument.RewriteFunction(module, 0, instrument.AllHooks(), cat, info, 0, false); err != nil {
		t.Fatalf("RewriteFunction: %v", err)
	}
	got := info.Functions[0]
	if got.Import == nil || got.Import.Module != "env" || got.Import.Name != "foo" {
		t.Fatalf("got import info %+v, want {env foo}", got.Import)
	}
}
