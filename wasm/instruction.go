package wasm

import (
	"fmt"

	"github.com/wasabi-go/wasabi/wasm/internal/binary"
)

// Instruction is a single decoded Wasm instruction: an opcode plus its
// (possibly absent) immediate, following the same tagged-union shape as
// the rest of this package's AST.
type Instruction struct {
	Opcode byte
	Imm    any
}

// BlockImm is the immediate of block/loop/if: a block type, either one of
// the compact void/single-value sentinels in constants.go or a type index
// (the multi-value extension).
type BlockImm struct {
	Type int32
}

// BranchImm is the immediate of br and br_if: a relative label depth.
type BranchImm struct {
	Label uint32
}

// BrTableImm is the immediate of br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm is the immediate of call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm is the immediate of call_indirect. The table index is
// always 0 in this parser's scope (see decodeOne's multi-table rejection).
type CallIndirectImm struct {
	TypeIdx uint32
}

// LocalImm is the immediate of local.get/set/tee.
type LocalImm struct {
	Idx uint32
}

// GlobalImm is the immediate of global.get/set.
type GlobalImm struct {
	Idx uint32
}

// MemArg is the immediate of a load or store: a byte offset and an
// alignment hint encoded as its base-2 exponent.
type MemArg struct {
	Align  uint32
	Offset uint32
}

type I32ConstImm struct{ Value int32 }
type I64ConstImm struct{ Value int64 }
type F32ConstImm struct{ Value float32 }
type F64ConstImm struct{ Value float64 }

// loadStoreValType returns the Wasm value type a load/store opcode
// transfers to or from the stack.
func loadStoreValType(op byte) ValType {
	switch op {
	case OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI32Store, OpI32Store8, OpI32Store16:
		return ValI32
	case OpI64Load, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32:
		return ValI64
	case OpF32Load, OpF32Store:
		return ValF32
	case OpF64Load, OpF64Store:
		return ValF64
	}
	panic(fmt.Sprintf("wasm: opcode 0x%02x is not a load or store", op))
}

// DecodeInstructions decodes a straight-line sequence of instructions from
// r, stopping after the `end` that closes the enclosing body (a function
// body or a constant expression) and including that terminating `end` in
// the result. Unsupported extensions (reference types, bulk memory, SIMD,
// threads, GC, tail calls, multi-table/multi-memory) are reported as
// *UnsupportedError rather than decoded.
func DecodeInstructions(r *binary.Reader) ([]Instruction, error) {
	var out []Instruction
	depth := 0
	for {
		startPos := r.Position()
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		instr, err := decodeOne(r, op, startPos)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
		switch op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth == 0 {
				return out, nil
			}
			depth--
		}
	}
}

func decodeOne(r *binary.Reader, op byte, pos int) (Instruction, error) {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect:
		return Instruction{Opcode: op}, nil

	case OpBlock, OpLoop, OpIf:
		bt, err := r.ReadS32()
		if err != nil {
			return Instruction{}, err
		}
		if bt >= 0 {
			// Type-index block type: the multi-value extension.
			return Instruction{Opcode: op, Imm: BlockImm{Type: bt}}, nil
		}
		switch bt {
		case BlockTypeVoid, BlockTypeI32, BlockTypeI64, BlockTypeF32, BlockTypeF64:
			return Instruction{Opcode: op, Imm: BlockImm{Type: bt}}, nil
		}
		return Instruction{}, &UnsupportedError{Feature: "reference-typed block result", Position: pos}

	case OpBr, OpBrIf:
		l, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: BranchImm{Label: l}}, nil

	case OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		labels := make([]uint32, count)
		for i := range labels {
			labels[i], err = r.ReadU32()
			if err != nil {
				return Instruction{}, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: BrTableImm{Labels: labels, Default: def}}, nil

	case OpCall:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: CallImm{FuncIdx: idx}}, nil

	case OpCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		if tableIdx != 0 {
			return Instruction{}, &UnsupportedError{Feature: "multiple tables", Position: pos}
		}
		return Instruction{Opcode: op, Imm: CallIndirectImm{TypeIdx: typeIdx}}, nil

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: LocalImm{Idx: idx}}, nil

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: GlobalImm{Idx: idx}}, nil

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		align, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		if align&0x40 != 0 {
			return Instruction{}, &UnsupportedError{Feature: "multiple memories", Position: pos}
		}
		offset, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: MemArg{Align: align, Offset: offset}}, nil

	case OpMemorySize, OpMemoryGrow:
		memIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		if memIdx != 0 {
			return Instruction{}, &UnsupportedError{Feature: "multiple memories", Position: pos}
		}
		return Instruction{Opcode: op}, nil

	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: I32ConstImm{Value: v}}, nil

	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: I64ConstImm{Value: v}}, nil

	case OpF32Const:
		v, err := r.ReadU32LE()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: F32ConstImm{Value: float32FromBits(v)}}, nil

	case OpF64Const:
		lo, err := r.ReadU32LE()
		if err != nil {
			return Instruction{}, err
		}
		hi, err := r.ReadU32LE()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: F64ConstImm{Value: float64FromBits(lo, hi)}}, nil

	case OpPrefixGC:
		return Instruction{}, &UnsupportedError{Feature: "GC proposal", Position: pos}
	case OpPrefixMisc:
		return Instruction{}, &UnsupportedError{Feature: "bulk-memory / saturating truncation", Position: pos}
	case OpPrefixSIMD:
		return Instruction{}, &UnsupportedError{Feature: "SIMD", Position: pos}
	case OpPrefixAtomic:
		return Instruction{}, &UnsupportedError{Feature: "threads / atomics", Position: pos}
	}

	if isPlainNumeric(op) {
		return Instruction{Opcode: op}, nil
	}

	return Instruction{}, &UnsupportedError{Feature: fmt.Sprintf("opcode 0x%02x", op), Position: pos}
}

// isPlainNumeric reports whether op is one of the no-immediate comparison,
// arithmetic, conversion, or sign-extension instructions: everything from
// i32.eqz (0x45) through i64.extend32_s (0xC4) except the memory/const
// opcodes handled explicitly above.
func isPlainNumeric(op byte) bool {
	return op >= OpI32Eqz && op <= OpI64Extend32S &&
		op != OpMemorySize && op != OpMemoryGrow
}

// UnsupportedError reports a Wasm feature outside this instrumenter's
// scope (MVP 1.0 + sign-extension + multi-value). The decoder always
// wraps it in a *DecodeError so position information reaches the caller.
type UnsupportedError struct {
	Feature  string
	Position int
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported extension %q at byte %d", e.Feature, e.Position)
}
