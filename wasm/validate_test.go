package wasm_test

import (
	"testing"

	"github.com/wasabi-go/wasabi/wasm"
)

func TestValidateAcceptsMinimalModule(t *testing.T) {
	m, err := wasm.ParseModule(buildMinimalModule())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadStartSignature(t *testing.T) {
	idx := uint32(0)
	m := &wasm.Module{
		Functions: []*wasm.Function{
			{Type: wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, Body: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 0}}, {Opcode: wasm.OpEnd}}},
		},
		Start: &idx,
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error: start function must have signature [] -> []")
	}
}

func TestValidateRejectsOutOfRangeStart(t *testing.T) {
	idx := uint32(3)
	m := &wasm.Module{Start: &idx}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for start index exceeding function count")
	}
}

func TestValidateRejectsDuplicateExportNames(t *testing.T) {
	m := &wasm.Module{
		Functions: []*wasm.Function{
			{Body: []wasm.Instruction{{Opcode: wasm.OpEnd}}, Export: []string{"dup"}},
			{Body: []wasm.Instruction{{Opcode: wasm.OpEnd}}, Export: []string{"dup"}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for duplicate export names")
	}
}

func TestValidateRejectsOversizedMemory(t *testing.T) {
	tooMany := wasm.MemoryMaxPages + 1
	m := &wasm.Module{
		Memories: []*wasm.Memory{{Type: wasm.MemoryType{Limits: wasm.Limits{Min: tooMany}}}},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for memory limits exceeding MemoryMaxPages")
	}
}

func TestValidateRejectsInvalidCallIndirectType(t *testing.T) {
	m := &wasm.Module{
		Functions: []*wasm.Function{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 9}},
				{Opcode: wasm.OpEnd},
			}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for call_indirect referencing a missing type index")
	}
}
