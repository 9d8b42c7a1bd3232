package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wasabi-go/wasabi/wasm"
	"github.com/wasabi-go/wasabi/wasm/internal/binary"
)

func decode(t *testing.T, data []byte) []wasm.Instruction {
	t.Helper()
	r := binary.NewReader(bytes.NewReader(data))
	instrs, err := wasm.DecodeInstructions(r)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	return instrs
}

func TestDecodeInstructionsSimpleBody(t *testing.T) {
	// i32.const 1; i32.const 2; i32.add; end
	data := []byte{wasm.OpI32Const, 0x01, wasm.OpI32Const, 0x02, wasm.OpI32Add, wasm.OpEnd}
	instrs := decode(t, data)
	if len(instrs) != 4 { // includes the terminating End
		t.Fatalf("expected 4 instructions, got %d", len(instrs))
	}
	if instrs[0].Opcode != wasm.OpI32Const {
		t.Errorf("instrs[0].Opcode = 0x%02x, want i32.const", instrs[0].Opcode)
	}
	c, ok := instrs[0].Imm.(wasm.I32ConstImm)
	if !ok || c.Value != 1 {
		t.Errorf("instrs[0].Imm = %#v, want I32ConstImm{1}", instrs[0].Imm)
	}
}

func TestDecodeInstructionsNestedBlocks(t *testing.T) {
	// block (empty) { i32.const 0; if (empty) { nop } end } end; end
	data := []byte{
		wasm.OpBlock, byte(wasm.BlockTypeVoid & 0x7f),
		wasm.OpI32Const, 0x00,
		wasm.OpIf, byte(wasm.BlockTypeVoid & 0x7f),
		wasm.OpNop,
		wasm.OpEnd,
		wasm.OpEnd,
		wasm.OpEnd,
	}
	instrs := decode(t, data)
	if len(instrs) != 7 { // block, const, if, nop, end-if, end-block, end-body
		t.Fatalf("expected 7 instructions, got %d: %+v", len(instrs), instrs)
	}
}

func TestEncodeInstructionsRoundTrip(t *testing.T) {
	original := []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: -7}},
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{Idx: 2}},
		{Opcode: wasm.OpI32Add},
		{Opcode: wasm.OpEnd},
	}
	w := binary.NewWriter()
	if err := wasm.EncodeInstructions(w, original); err != nil {
		t.Fatalf("EncodeInstructions: %v", err)
	}
	r := binary.NewReader(bytes.NewReader(w.Bytes()))
	got, err := wasm.DecodeInstructions(r)
	if err != nil {
		t.Fatalf("DecodeInstructions after encode: %v", err)
	}
	if len(got) != len(original) {
		t.Fatalf("expected %d instructions back, got %d", len(original), len(got))
	}
	c, ok := got[0].Imm.(wasm.I32ConstImm)
	if !ok || c.Value != -7 {
		t.Errorf("round-tripped const = %#v, want I32ConstImm{-7}", got[0].Imm)
	}
}

func TestDecodeRejectsSIMDPrefix(t *testing.T) {
	data := []byte{wasm.OpPrefixSIMD, 0x00, wasm.OpEnd}
	r := binary.NewReader(bytes.NewReader(data))
	_, err := wasm.DecodeInstructions(r)
	var ue *wasm.UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnsupportedError decoding a SIMD opcode, got %v", err)
	}
}

func TestDecodeRejectsMultiMemoryLoad(t *testing.T) {
	// i32.load with align byte's reserved bit set (multi-memory encoding)
	data := []byte{wasm.OpI32Load, 0x40, 0x00, wasm.OpEnd}
	r := binary.NewReader(bytes.NewReader(data))
	_, err := wasm.DecodeInstructions(r)
	var ue *wasm.UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnsupportedError for a multi-memory load, got %v", err)
	}
}

func TestDecodeRejectsMultiTableCallIndirect(t *testing.T) {
	data := []byte{wasm.OpCallIndirect, 0x00, 0x01, wasm.OpEnd}
	r := binary.NewReader(bytes.NewReader(data))
	_, err := wasm.DecodeInstructions(r)
	var ue *wasm.UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnsupportedError for call_indirect with nonzero table index, got %v", err)
	}
}

func TestOpFuncTypeNumeric(t *testing.T) {
	ft, ok := wasm.OpFuncType(wasm.OpI32Add)
	if !ok {
		t.Fatal("expected i32.add to have a known signature")
	}
	want := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	if !ft.Equal(want) {
		t.Errorf("OpFuncType(i32.add) = %+v, want %+v", ft, want)
	}

	if _, ok := wasm.OpFuncType(wasm.OpCall); ok {
		t.Error("call should not have a fixed signature (it's context-dependent)")
	}
}
