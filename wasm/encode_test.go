package wasm_test

import (
	"bytes"
	"testing"

	"github.com/wasabi-go/wasabi/wasm"
)

func TestEncodeRoundTripsMinimalModule(t *testing.T) {
	m, err := wasm.ParseModule(buildMinimalModule())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(encoded, []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}) {
		t.Fatalf("encoded module missing header: %x", encoded[:8])
	}

	roundTripped, err := wasm.ParseModule(encoded)
	if err != nil {
		t.Fatalf("ParseModule(re-encoded): %v", err)
	}
	if len(roundTripped.Functions) != len(m.Functions) {
		t.Fatalf("function count changed across round-trip: %d vs %d", len(roundTripped.Functions), len(m.Functions))
	}
	rf, of := roundTripped.Functions[0], m.Functions[0]
	if !rf.Type.Equal(of.Type) {
		t.Errorf("function type changed across round-trip: %+v vs %+v", rf.Type, of.Type)
	}
	if len(rf.Export) != 1 || rf.Export[0] != "main" {
		t.Errorf("export lost across round-trip: %v", rf.Export)
	}
	if len(rf.Body) != len(of.Body) {
		t.Errorf("body length changed across round-trip: %d vs %d", len(rf.Body), len(of.Body))
	}
}

func TestEncodeImportsAndGlobals(t *testing.T) {
	maxPages := uint32(10)
	m := &wasm.Module{
		Functions: []*wasm.Function{
			{Type: wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, Import: &wasm.Import{Module: "env", Name: "log"}},
			{Type: wasm.FuncType{}, Body: []wasm.Instruction{{Opcode: wasm.OpEnd}}, Export: []string{"run"}},
		},
		Memories: []*wasm.Memory{
			{Type: wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &maxPages}}},
		},
		Globals: []*wasm.Global{
			{
				Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
				Init: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: 5}}, {Opcode: wasm.OpEnd}},
			},
		},
	}

	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := wasm.ParseModule(encoded)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(decoded.Functions) != 2 {
		t.Fatalf("expected 2 functions, got %d", len(decoded.Functions))
	}
	if !decoded.Functions[0].IsImported() || decoded.Functions[0].Import.Module != "env" {
		t.Errorf("expected imported function 0 from module env, got %+v", decoded.Functions[0])
	}
	if len(decoded.Memories) != 1 || decoded.Memories[0].Type.Limits.Min != 1 {
		t.Errorf("memory not round-tripped correctly: %+v", decoded.Memories)
	}
	if len(decoded.Globals) != 1 || !decoded.Globals[0].Type.Mutable {
		t.Errorf("global not round-tripped correctly: %+v", decoded.Globals)
	}
}

func TestEncodePreservesNames(t *testing.T) {
	m := &wasm.Module{
		Functions: []*wasm.Function{
			{
				Type:   wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}},
				Name:   "add_one",
				Locals: []wasm.Local{{Type: wasm.ValI32, Name: "tmp"}},
				Body: []wasm.Instruction{
					{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{Idx: 0}},
					{Opcode: wasm.OpEnd},
				},
			},
		},
	}
	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := wasm.ParseModule(encoded)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if decoded.Functions[0].Name != "add_one" {
		t.Errorf("function name not preserved: %q", decoded.Functions[0].Name)
	}
	if len(decoded.Functions[0].Locals) != 1 || decoded.Functions[0].Locals[0].Name != "tmp" {
		t.Errorf("local name not preserved: %+v", decoded.Functions[0].Locals)
	}
}
