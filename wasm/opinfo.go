package wasm

// opSignatures gives the fixed operand/result types for every instruction
// whose type never depends on context: constants, comparisons, arithmetic,
// conversions, sign-extension ops, and loads/stores/memory.size/grow.
// Control-flow, call, local/global, drop, and select are stack-polymorphic
// or context-dependent and are typed by the instrument package's type
// checker instead.
var opSignatures = buildOpSignatures()

type opSig struct {
	ins  []ValType
	outs []ValType
}

func sig(ins, outs []ValType) opSig { return opSig{ins: ins, outs: outs} }

func buildOpSignatures() map[byte]opSig {
	i32, i64, f32, f64 := ValI32, ValI64, ValF32, ValF64
	m := map[byte]opSig{
		OpI32Const: sig(nil, []ValType{i32}),
		OpI64Const: sig(nil, []ValType{i64}),
		OpF32Const: sig(nil, []ValType{f32}),
		OpF64Const: sig(nil, []ValType{f64}),

		OpMemorySize: sig(nil, []ValType{i32}),
		OpMemoryGrow: sig([]ValType{i32}, []ValType{i32}),

		OpI32Eqz: sig([]ValType{i32}, []ValType{i32}),
		OpI64Eqz: sig([]ValType{i64}, []ValType{i32}),

		OpI32Clz: sig([]ValType{i32}, []ValType{i32}), OpI32Ctz: sig([]ValType{i32}, []ValType{i32}), OpI32Popcnt: sig([]ValType{i32}, []ValType{i32}),
		OpI64Clz: sig([]ValType{i64}, []ValType{i64}), OpI64Ctz: sig([]ValType{i64}, []ValType{i64}), OpI64Popcnt: sig([]ValType{i64}, []ValType{i64}),

		OpF32Abs: sig([]ValType{f32}, []ValType{f32}), OpF32Neg: sig([]ValType{f32}, []ValType{f32}),
		OpF32Ceil: sig([]ValType{f32}, []ValType{f32}), OpF32Floor: sig([]ValType{f32}, []ValType{f32}),
		OpF32Trunc: sig([]ValType{f32}, []ValType{f32}), OpF32Nearest: sig([]ValType{f32}, []ValType{f32}), OpF32Sqrt: sig([]ValType{f32}, []ValType{f32}),

		OpF64Abs: sig([]ValType{f64}, []ValType{f64}), OpF64Neg: sig([]ValType{f64}, []ValType{f64}),
		OpF64Ceil: sig([]ValType{f64}, []ValType{f64}), OpF64Floor: sig([]ValType{f64}, []ValType{f64}),
		OpF64Trunc: sig([]ValType{f64}, []ValType{f64}), OpF64Nearest: sig([]ValType{f64}, []ValType{f64}), OpF64Sqrt: sig([]ValType{f64}, []ValType{f64}),

		OpI32WrapI64:        sig([]ValType{i64}, []ValType{i32}),
		OpI64ExtendI32S:     sig([]ValType{i32}, []ValType{i64}),
		OpI64ExtendI32U:     sig([]ValType{i32}, []ValType{i64}),
		OpI32TruncF32S:      sig([]ValType{f32}, []ValType{i32}),
		OpI32TruncF32U:      sig([]ValType{f32}, []ValType{i32}),
		OpI32TruncF64S:      sig([]ValType{f64}, []ValType{i32}),
		OpI32TruncF64U:      sig([]ValType{f64}, []ValType{i32}),
		OpI64TruncF32S:      sig([]ValType{f32}, []ValType{i64}),
		OpI64TruncF32U:      sig([]ValType{f32}, []ValType{i64}),
		OpI64TruncF64S:      sig([]ValType{f64}, []ValType{i64}),
		OpI64TruncF64U:      sig([]ValType{f64}, []ValType{i64}),
		OpF32ConvertI32S:    sig([]ValType{i32}, []ValType{f32}),
		OpF32ConvertI32U:    sig([]ValType{i32}, []ValType{f32}),
		OpF32ConvertI64S:    sig([]ValType{i64}, []ValType{f32}),
		OpF32ConvertI64U:    sig([]ValType{i64}, []ValType{f32}),
		OpF32DemoteF64:      sig([]ValType{f64}, []ValType{f32}),
		OpF64ConvertI32S:    sig([]ValType{i32}, []ValType{f64}),
		OpF64ConvertI32U:    sig([]ValType{i32}, []ValType{f64}),
		OpF64ConvertI64S:    sig([]ValType{i64}, []ValType{f64}),
		OpF64ConvertI64U:    sig([]ValType{i64}, []ValType{f64}),
		OpF64PromoteF32:     sig([]ValType{f32}, []ValType{f64}),
		OpI32ReinterpretF32: sig([]ValType{f32}, []ValType{i32}),
		OpI64ReinterpretF64: sig([]ValType{f64}, []ValType{i64}),
		OpF32ReinterpretI32: sig([]ValType{i32}, []ValType{f32}),
		OpF64ReinterpretI64: sig([]ValType{i64}, []ValType{f64}),

		OpI32Extend8S:  sig([]ValType{i32}, []ValType{i32}),
		OpI32Extend16S: sig([]ValType{i32}, []ValType{i32}),
		OpI64Extend8S:  sig([]ValType{i64}, []ValType{i64}),
		OpI64Extend16S: sig([]ValType{i64}, []ValType{i64}),
		OpI64Extend32S: sig([]ValType{i64}, []ValType{i64}),
	}

	for _, op := range []byte{OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU, OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU} {
		m[op] = sig([]ValType{i32, i32}, []ValType{i32})
	}
	for _, op := range []byte{OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU, OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU} {
		m[op] = sig([]ValType{i64, i64}, []ValType{i32})
	}
	for _, op := range []byte{OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge} {
		m[op] = sig([]ValType{f32, f32}, []ValType{i32})
	}
	for _, op := range []byte{OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge} {
		m[op] = sig([]ValType{f64, f64}, []ValType{i32})
	}
	for _, op := range []byte{OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr} {
		m[op] = sig([]ValType{i32, i32}, []ValType{i32})
	}
	for _, op := range []byte{OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr} {
		m[op] = sig([]ValType{i64, i64}, []ValType{i64})
	}
	for _, op := range []byte{OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign} {
		m[op] = sig([]ValType{f32, f32}, []ValType{f32})
	}
	for _, op := range []byte{OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign} {
		m[op] = sig([]ValType{f64, f64}, []ValType{f64})
	}

	for _, op := range []byte{OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U} {
		m[op] = sig(nil, []ValType{i32})
	}
	for _, op := range []byte{OpI64Load, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U} {
		m[op] = sig(nil, []ValType{i64})
	}
	m[OpF32Load] = sig(nil, []ValType{f32})
	m[OpF64Load] = sig(nil, []ValType{f64})
	for _, op := range []byte{OpI32Store, OpI32Store8, OpI32Store16} {
		m[op] = sig([]ValType{i32}, nil)
	}
	for _, op := range []byte{OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32} {
		m[op] = sig([]ValType{i64}, nil)
	}
	m[OpF32Store] = sig([]ValType{f32}, nil)
	m[OpF64Store] = sig([]ValType{f64}, nil)
	// Loads take an i32 memory address operand in addition to the result
	// type assigned above.
	for _, op := range []byte{OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U} {
		s := m[op]
		s.ins = []ValType{i32}
		m[op] = s
	}
	// Stores take an i32 address followed by the value being stored.
	for op, s := range m {
		switch op {
		case OpI32Store, OpI32Store8, OpI32Store16, OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32, OpF32Store, OpF64Store:
			m[op] = sig(append([]ValType{i32}, s.ins...), s.outs)
		}
	}
	return m
}

// OpFuncType returns the fixed operand/result signature of a monomorphic
// instruction. The second return value is false for control flow, call,
// local/global access, drop, and select, whose type depends on context.
func OpFuncType(op byte) (FuncType, bool) {
	s, ok := opSignatures[op]
	if !ok {
		return FuncType{}, false
	}
	return FuncType{Params: s.ins, Results: s.outs}, true
}
