package instrument_test

import (
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
	"github.com/wasabi-go/wasabi/wasm"
)

func TestBlockStackMatchesSimpleBlock(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}}, // 0
		{Opcode: wasm.OpNop},                                                // 1
		{Opcode: wasm.OpEnd},                                                // 2
		{Opcode: wasm.OpEnd},                                                // 3 (function end)
	}
	bs, err := instrument.NewBlockStack(body)
	if err != nil {
		t.Fatalf("NewBlockStack: %v", err)
	}
	bs.PushFunction(3, nil)
	bs.Begin(0, instrument.FrameBlock, nil)

	closed, err := bs.Close(2)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Begin != 0 || closed.End != 2 {
		t.Fatalf("got begin=%d end=%d, want begin=0 end=2", closed.Begin, closed.End)
	}
}

func TestBlockStackMatchesIfElse(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}}, // 0
		{Opcode: wasm.OpNop},                                             // 1
		{Opcode: wasm.OpElse},                                            // 2
		{Opcode: wasm.OpNop},                                             // 3
		{Opcode: wasm.OpEnd},                                             // 4
		{Opcode: wasm.OpEnd},                                             // 5
	}
	bs, err := instrument.NewBlockStack(body)
	if err != nil {
		t.Fatalf("NewBlockStack: %v", err)
	}
	bs.PushFunction(5, nil)
	bs.Begin(0, instrument.FrameIf, nil)

	ifFrame, err := bs.CloseElse(2)
	if err != nil {
		t.Fatalf("CloseElse: %v", err)
	}
	if ifFrame.Else != 2 || ifFrame.End != 4 {
		t.Fatalf("got else=%d end=%d, want else=2 end=4", ifFrame.Else, ifFrame.End)
	}

	closed, err := bs.Close(4)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Kind != instrument.FrameElse {
		t.Fatalf("expected frame closed by matching end to be FrameElse, got %v", closed.Kind)
	}
}

func TestBlockStackRejectsUnmatchedElse(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpElse},
		{Opcode: wasm.OpEnd},
	}
	if _, err := instrument.NewBlockStack(body); err == nil {
		t.Fatal("expected error for else with no matching if")
	}
}

func TestBlockStackRejectsUnclosedBlock(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
		{Opcode: wasm.OpEnd},
	}
	if _, err := instrument.NewBlockStack(body); err == nil {
		t.Fatal("expected error for unclosed block")
	}
}

func TestResolveLabelTargetsLoopBeginAndBlockEnd(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}}, // 0
		{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},  // 1
		{Opcode: wasm.OpBr, Imm: wasm.BranchImm{Label: 0}},                  // 2: branches to loop begin
		{Opcode: wasm.OpEnd},                                                // 3: closes loop
		{Opcode: wasm.OpEnd},                                                // 4: closes block
		{Opcode: wasm.OpEnd},                                                // 5: function end
	}
	bs, err := instrument.NewBlockStack(body)
	if err != nil {
		t.Fatalf("NewBlockStack: %v", err)
	}
	bs.PushFunction(5, nil)
	bs.Begin(0, instrument.FrameBlock, nil)
	bs.Begin(1, instrument.FrameLoop, nil)

	target, exited, err := bs.ResolveLabel(0)
	if err != nil {
		t.Fatalf("ResolveLabel: %v", err)
	}
	if target != 1 {
		t.Fatalf("loop branch should target the loop's Begin (1), got %d", target)
	}
	if len(exited) != 0 {
		t.Fatalf("branching to the innermost frame exits nothing, got %d frames", len(exited))
	}

	target, exited, err = bs.ResolveLabel(1)
	if err != nil {
		t.Fatalf("ResolveLabel: %v", err)
	}
	if target != 4 {
		t.Fatalf("branch to the outer block should target its End (4), got %d", target)
	}
	if len(exited) != 1 || exited[0].Kind != instrument.FrameLoop {
		t.Fatalf("expected to exit exactly the loop frame, got %+v", exited)
	}
}
