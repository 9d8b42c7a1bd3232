package wasm

import (
	"fmt"

	"github.com/wasabi-go/wasabi/wasm/internal/binary"
)

// EncodeInstructions writes a sequence of instructions (as produced by
// DecodeInstructions, or synthesized by the instrument package) to w.
func EncodeInstructions(w *binary.Writer, instrs []Instruction) error {
	for _, instr := range instrs {
		if err := EncodeInstruction(w, instr); err != nil {
			return err
		}
	}
	return nil
}

// EncodeInstruction writes a single instruction, mirroring decodeOne.
func EncodeInstruction(w *binary.Writer, instr Instruction) error {
	w.Byte(instr.Opcode)
	switch imm := instr.Imm.(type) {
	case nil:
		if instr.Opcode == OpMemorySize || instr.Opcode == OpMemoryGrow {
			w.Byte(0x00) // reserved memory index, always 0 in this scope
		}
		return nil
	case BlockImm:
		w.WriteS32(imm.Type)
	case BranchImm:
		w.WriteU32(imm.Label)
	case BrTableImm:
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(0) // reserved table index, always 0 in this scope
	case LocalImm:
		w.WriteU32(imm.Idx)
	case GlobalImm:
		w.WriteU32(imm.Idx)
	case MemArg:
		w.WriteU32(imm.Align)
		w.WriteU32(imm.Offset)
	case I32ConstImm:
		w.WriteS32(imm.Value)
	case I64ConstImm:
		w.WriteS64(imm.Value)
	case F32ConstImm:
		w.WriteU32LE(float32Bits(imm.Value))
	case F64ConstImm:
		lo, hi := float64BitsLoHi(imm.Value)
		w.WriteU32LE(lo)
		w.WriteU32LE(hi)
	default:
		return fmt.Errorf("wasm: encode: unhandled immediate type %T for opcode 0x%02x", imm, instr.Opcode)
	}
	return nil
}
