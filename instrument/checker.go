package instrument

import (
	"fmt"

	"github.com/wasabi-go/wasabi/errs"
	"github.com/wasabi-go/wasabi/wasm"
)

// chkVal is one entry on a checkFrame's value stack: a concrete value
// type, or "unknown" once the frame has gone unreachable and run out of
// statically-known values to pop.
type chkVal struct {
	known bool
	typ   wasm.ValType
}

func knownVal(t wasm.ValType) chkVal { return chkVal{known: true, typ: t} }

var unknownVal = chkVal{known: false}

// join implements the value-stack join rule: join(t,t)=t,
// join(t,unknown)=t, join(unknown,unknown)=unknown, and incompatible
// concretes fail.
func join(a, b chkVal) (chkVal, error) {
	if !a.known {
		return b, nil
	}
	if !b.known {
		return a, nil
	}
	if a.typ != b.typ {
		return chkVal{}, fmt.Errorf("incompatible types %s and %s", a.typ, b.typ)
	}
	return a, nil
}

// checkFrame is one entry in the checker's control-frame stack, replacing
// the WebAssembly validation algorithm's combined value-stack-plus-
// numerical-heights with a per-frame value stack whose underflow is
// caught locally.
type checkFrame struct {
	kind        BlockFrameKind
	stack       []chkVal
	unreachable bool
	results     []wasm.ValType // this block's value-stack type on End
	labelTypes  []wasm.ValType // branch-target types: results for block/if/else, params for loop
}

func (f *checkFrame) push(v chkVal)  { f.stack = append(f.stack, v) }
func (f *checkFrame) pushConcrete(t wasm.ValType) { f.push(knownVal(t)) }

func (f *checkFrame) pop() (chkVal, error) {
	if len(f.stack) == 0 {
		if f.unreachable {
			return unknownVal, nil
		}
		return chkVal{}, fmt.Errorf("value stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// popExpect pops a value and checks it unifies with want.
func (f *checkFrame) popExpect(want wasm.ValType) error {
	v, err := f.pop()
	if err != nil {
		return err
	}
	if v.known && v.typ != want {
		return fmt.Errorf("expected %s, got %s", want, v.typ)
	}
	return nil
}

func (f *checkFrame) setUnreachable() {
	f.unreachable = true
	f.stack = nil
}

// InstrType is the inferrer's output for one instruction: either a
// concrete FuncType (the instruction is reachable and its input/output
// types are fully known) or an indication that the instruction sits in
// dead code and no concrete type could be assigned: a streaming algorithm
// cannot assign a fully concrete type to dead code without widening the
// type language.
type InstrType struct {
	Reachable bool
	Type      wasm.FuncType
}

// CheckFunction streams a stack-polymorphism-aware type-checking pass over
// fn's body, returning one InstrType per instruction in fn.Body or the
// first violation found, wrapped in an *errs.Error tagged PhaseValidate.
func CheckFunction(module *wasm.Module, fn *wasm.Function) ([]InstrType, error) {
	c := &checker{module: module, fn: fn}
	return c.run()
}

type checker struct {
	module *wasm.Module
	fn     *wasm.Function
	frames []*checkFrame
}

func (c *checker) fail(idx int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return errs.New(errs.PhaseValidate, errs.KindTypeMismatch).
		Path(fmt.Sprintf("func[%s]", c.funcLabel()), fmt.Sprintf("instr[%d]", idx)).
		Detail("%s", msg).
		Build()
}

func (c *checker) funcLabel() string {
	if c.fn.Name != "" {
		return c.fn.Name
	}
	return "<anonymous>"
}

func (c *checker) top() *checkFrame { return c.frames[len(c.frames)-1] }

func (c *checker) push(f *checkFrame) { c.frames = append(c.frames, f) }

func (c *checker) popFrame() *checkFrame {
	f := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	return f
}

func (c *checker) run() ([]InstrType, error) {
	fnFrame := &checkFrame{kind: FrameFunction, results: c.fn.Type.Results, labelTypes: c.fn.Type.Results}
	c.push(fnFrame)

	out := make([]InstrType, len(c.fn.Body))
	for i, instr := range c.fn.Body {
		ty, err := c.step(i, instr)
		if err != nil {
			return nil, c.fail(i, "%v", err)
		}
		out[i] = ty
	}
	return out, nil
}

// step type-checks one instruction against the current top frame and
// returns its inferred type.
func (c *checker) step(idx int, instr wasm.Instruction) (InstrType, error) {
	f := c.top()

	if ft, ok := wasm.OpFuncType(instr.Opcode); ok {
		for i := len(ft.Params) - 1; i >= 0; i-- {
			if err := f.popExpect(ft.Params[i]); err != nil {
				return InstrType{}, err
			}
		}
		for _, r := range ft.Results {
			f.pushConcrete(r)
		}
		if f.unreachable {
			return InstrType{Reachable: false}, nil
		}
		return InstrType{Reachable: true, Type: ft}, nil
	}

	switch instr.Opcode {
	case wasm.OpUnreachable:
		f.setUnreachable()
		return InstrType{Reachable: false}, nil

	case wasm.OpNop:
		return InstrType{Reachable: !f.unreachable, Type: wasm.FuncType{}}, nil

	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		bt := instr.Imm.(wasm.BlockImm)
		ft := c.blockFuncType(bt)
		if instr.Opcode == wasm.OpIf {
			if err := f.popExpect(wasm.ValI32); err != nil {
				return InstrType{}, err
			}
		}
		for i := len(ft.Params) - 1; i >= 0; i-- {
			if err := f.popExpect(ft.Params[i]); err != nil {
				return InstrType{}, err
			}
		}
		nf := &checkFrame{kind: blockKindOf(instr.Opcode), results: ft.Results}
		if instr.Opcode == wasm.OpLoop {
			nf.labelTypes = ft.Params
		} else {
			nf.labelTypes = ft.Results
		}
		for _, p := range ft.Params {
			nf.pushConcrete(p)
		}
		c.push(nf)
		return InstrType{Reachable: true, Type: ft}, nil

	case wasm.OpElse:
		closed := c.popFrame()
		for i := len(closed.results) - 1; i >= 0; i-- {
			if err := closed.popExpect(closed.results[i]); err != nil {
				return InstrType{}, err
			}
		}
		nf := &checkFrame{kind: FrameElse, results: closed.results, labelTypes: closed.results}
		c.push(nf)
		return InstrType{Reachable: true}, nil

	case wasm.OpEnd:
		closed := c.popFrame()
		for i := len(closed.results) - 1; i >= 0; i-- {
			if err := closed.popExpect(closed.results[i]); err != nil {
				return InstrType{}, err
			}
		}
		if len(c.frames) > 0 {
			c.top().stack = append(c.top().stack, toVals(closed.results)...)
		}
		return InstrType{Reachable: true}, nil

	case wasm.OpBr:
		l := instr.Imm.(wasm.BranchImm).Label
		target, err := c.labelTypes(l)
		if err != nil {
			return InstrType{}, err
		}
		for i := len(target) - 1; i >= 0; i-- {
			if err := f.popExpect(target[i]); err != nil {
				return InstrType{}, err
			}
		}
		f.setUnreachable()
		return InstrType{Reachable: false}, nil

	case wasm.OpBrIf:
		l := instr.Imm.(wasm.BranchImm).Label
		target, err := c.labelTypes(l)
		if err != nil {
			return InstrType{}, err
		}
		if err := f.popExpect(wasm.ValI32); err != nil {
			return InstrType{}, err
		}
		for i := len(target) - 1; i >= 0; i-- {
			if err := f.popExpect(target[i]); err != nil {
				return InstrType{}, err
			}
		}
		for _, r := range target {
			f.pushConcrete(r)
		}
		return InstrType{Reachable: !f.unreachable}, nil

	case wasm.OpBrTable:
		bt := instr.Imm.(wasm.BrTableImm)
		defTarget, err := c.labelTypes(bt.Default)
		if err != nil {
			return InstrType{}, err
		}
		for _, l := range bt.Labels {
			if _, err := c.labelTypes(l); err != nil {
				return InstrType{}, err
			}
		}
		if err := f.popExpect(wasm.ValI32); err != nil {
			return InstrType{}, err
		}
		for i := len(defTarget) - 1; i >= 0; i-- {
			if err := f.popExpect(defTarget[i]); err != nil {
				return InstrType{}, err
			}
		}
		f.setUnreachable()
		return InstrType{Reachable: false}, nil

	case wasm.OpReturn:
		for i := len(c.fn.Type.Results) - 1; i >= 0; i-- {
			if err := f.popExpect(c.fn.Type.Results[i]); err != nil {
				return InstrType{}, err
			}
		}
		f.setUnreachable()
		return InstrType{Reachable: false}, nil

	case wasm.OpCall:
		fi := instr.Imm.(wasm.CallImm).FuncIdx
		callee := c.module.Func(fi)
		if callee == nil {
			return InstrType{}, fmt.Errorf("call target %d out of range", fi)
		}
		ft := callee.Type
		for i := len(ft.Params) - 1; i >= 0; i-- {
			if err := f.popExpect(ft.Params[i]); err != nil {
				return InstrType{}, err
			}
		}
		for _, r := range ft.Results {
			f.pushConcrete(r)
		}
		return InstrType{Reachable: !f.unreachable, Type: ft}, nil

	case wasm.OpCallIndirect:
		ci := instr.Imm.(wasm.CallIndirectImm)
		if int(ci.TypeIdx) >= len(c.module.Types) {
			return InstrType{}, fmt.Errorf("call_indirect type index %d out of range", ci.TypeIdx)
		}
		ft := c.module.Types[ci.TypeIdx]
		if err := f.popExpect(wasm.ValI32); err != nil {
			return InstrType{}, err
		}
		for i := len(ft.Params) - 1; i >= 0; i-- {
			if err := f.popExpect(ft.Params[i]); err != nil {
				return InstrType{}, err
			}
		}
		for _, r := range ft.Results {
			f.pushConcrete(r)
		}
		return InstrType{Reachable: !f.unreachable, Type: ft}, nil

	case wasm.OpDrop:
		if _, err := f.pop(); err != nil {
			return InstrType{}, err
		}
		return InstrType{Reachable: !f.unreachable}, nil

	case wasm.OpSelect:
		if err := f.popExpect(wasm.ValI32); err != nil {
			return InstrType{}, err
		}
		b, err := f.pop()
		if err != nil {
			return InstrType{}, err
		}
		a, err := f.pop()
		if err != nil {
			return InstrType{}, err
		}
		v, err := join(a, b)
		if err != nil {
			return InstrType{}, err
		}
		f.push(v)
		if v.known {
			return InstrType{Reachable: !f.unreachable, Type: wasm.FuncType{Params: []wasm.ValType{v.typ, v.typ, wasm.ValI32}, Results: []wasm.ValType{v.typ}}}, nil
		}
		return InstrType{Reachable: false}, nil

	case wasm.OpLocalGet:
		idx := instr.Imm.(wasm.LocalImm).Idx
		t, ok := c.fn.LocalType(idx)
		if !ok {
			return InstrType{}, fmt.Errorf("local index %d out of range", idx)
		}
		f.pushConcrete(t)
		return InstrType{Reachable: !f.unreachable, Type: wasm.FuncType{Results: []wasm.ValType{t}}}, nil

	case wasm.OpLocalSet:
		idx := instr.Imm.(wasm.LocalImm).Idx
		t, ok := c.fn.LocalType(idx)
		if !ok {
			return InstrType{}, fmt.Errorf("local index %d out of range", idx)
		}
		if err := f.popExpect(t); err != nil {
			return InstrType{}, err
		}
		return InstrType{Reachable: !f.unreachable, Type: wasm.FuncType{Params: []wasm.ValType{t}}}, nil

	case wasm.OpLocalTee:
		idx := instr.Imm.(wasm.LocalImm).Idx
		t, ok := c.fn.LocalType(idx)
		if !ok {
			return InstrType{}, fmt.Errorf("local index %d out of range", idx)
		}
		if err := f.popExpect(t); err != nil {
			return InstrType{}, err
		}
		f.pushConcrete(t)
		return InstrType{Reachable: !f.unreachable, Type: wasm.FuncType{Params: []wasm.ValType{t}, Results: []wasm.ValType{t}}}, nil

	case wasm.OpGlobalGet:
		idx := instr.Imm.(wasm.GlobalImm).Idx
		if int(idx) >= len(c.module.Globals) {
			return InstrType{}, fmt.Errorf("global index %d out of range", idx)
		}
		t := c.module.Globals[idx].Type.Type
		f.pushConcrete(t)
		return InstrType{Reachable: !f.unreachable, Type: wasm.FuncType{Results: []wasm.ValType{t}}}, nil

	case wasm.OpGlobalSet:
		idx := instr.Imm.(wasm.GlobalImm).Idx
		if int(idx) >= len(c.module.Globals) {
			return InstrType{}, fmt.Errorf("global index %d out of range", idx)
		}
		g := c.module.Globals[idx]
		if !g.Type.Mutable {
			return InstrType{}, fmt.Errorf("global.set targets immutable global %d", idx)
		}
		if err := f.popExpect(g.Type.Type); err != nil {
			return InstrType{}, err
		}
		return InstrType{Reachable: !f.unreachable, Type: wasm.FuncType{Params: []wasm.ValType{g.Type.Type}}}, nil
	}

	return InstrType{}, fmt.Errorf("unhandled opcode 0x%02x in type checker", instr.Opcode)
}

func toVals(ts []wasm.ValType) []chkVal {
	out := make([]chkVal, len(ts))
	for i, t := range ts {
		out[i] = knownVal(t)
	}
	return out
}

func blockKindOf(op byte) BlockFrameKind {
	switch op {
	case wasm.OpBlock:
		return FrameBlock
	case wasm.OpLoop:
		return FrameLoop
	case wasm.OpIf:
		return FrameIf
	}
	panic("not a block opcode")
}

// labelTypes resolves a branch label to its target frame's branch-target
// types: block/if/else use the frame's results, loop uses its params.
func (c *checker) labelTypes(label uint32) ([]wasm.ValType, error) {
	depth := len(c.frames)
	if int(label) >= depth {
		return nil, fmt.Errorf("branch label %d exceeds block depth %d", label, depth)
	}
	return c.frames[depth-1-int(label)].labelTypes, nil
}

// blockFuncType resolves a block-type immediate to a concrete FuncType,
// either one of the MVP compact sentinels or a pool type index (the
// multi-value extension).
func (c *checker) blockFuncType(bt wasm.BlockImm) wasm.FuncType {
	switch bt.Type {
	case wasm.BlockTypeVoid:
		return wasm.FuncType{}
	case wasm.BlockTypeI32:
		return wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
	case wasm.BlockTypeI64:
		return wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}}
	case wasm.BlockTypeF32:
		return wasm.FuncType{Results: []wasm.ValType{wasm.ValF32}}
	case wasm.BlockTypeF64:
		return wasm.FuncType{Results: []wasm.ValType{wasm.ValF64}}
	}
	if int(bt.Type) < len(c.module.Types) {
		return c.module.Types[bt.Type]
	}
	return wasm.FuncType{}
}
