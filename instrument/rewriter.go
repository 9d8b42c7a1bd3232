package instrument

import (
	"fmt"

	"github.com/wasabi-go/wasabi/wasm"
)

// rewriteCtx carries the per-function state the rewriter threads through
// a single pass over the original body: the block stack and type stack
// plus the output buffer and freshly allocated locals.
type rewriteCtx struct {
	module *wasm.Module
	fn     *wasm.Function
	funcIdx int
	hooks  HookSet
	cat    *HookCatalogue
	info   *StaticInfo

	bs *BlockStack
	ts *TypeStack

	out       []wasm.Instruction
	newLocals []wasm.Local

	paramCount       int
	unreachableDepth int

	isStartFn        bool
	startGuardGlobal uint32
}

// RewriteFunction instruments module.Functions[funcIdx] in place, replacing
// its body with the instrumented stream and appending any new locals the
// rewrite needed. Imported functions have no body and are left untouched
// beyond recording their static-info entry.
func RewriteFunction(module *wasm.Module, funcIdx int, hooks HookSet, cat *HookCatalogue, info *StaticInfo, startGuardGlobal uint32, hasStartGuard bool) error {
	fn := module.Functions[funcIdx]

	if fn.IsImported() {
		info.SetFunction(funcIdx, FunctionInfo{
			Type:   fn.Type,
			Import: &ImportInfo{Module: fn.Import.Module, Name: fn.Import.Name},
		})
		return nil
	}

	bs, err := NewBlockStack(fn.Body)
	if err != nil {
		return fmt.Errorf("instrument: function %d: %w", funcIdx, err)
	}

	rc := &rewriteCtx{
		module:      module,
		fn:          fn,
		funcIdx:     funcIdx,
		hooks:       hooks,
		cat:         cat,
		info:        info,
		bs:          bs,
		ts:          NewTypeStack(),
		paramCount:  len(fn.Type.Params),
		out:         make([]wasm.Instruction, 0, len(fn.Body)*6),
		isStartFn:   hasStartGuard && module.Start != nil && int(*module.Start) == funcIdx,
		startGuardGlobal: startGuardGlobal,
	}

	if len(fn.Body) == 0 {
		return fmt.Errorf("instrument: function %d has empty body (missing implicit end)", funcIdx)
	}
	endIdx := len(fn.Body) - 1
	rc.bs.PushFunction(endIdx, fn.Type.Results)
	rc.ts.PushFunctionBegin()

	rc.emitPrelude()

	hasImplicitReturn := !endsInExplicitReturn(fn.Body)

	for idx, instr := range fn.Body {
		isFuncEnd := instr.Opcode == wasm.OpEnd && idx == endIdx
		if err := rc.handle(idx, instr, isFuncEnd, hasImplicitReturn); err != nil {
			return fmt.Errorf("instrument: function %d instr %d: %w", funcIdx, idx, err)
		}
	}

	origLen := len(fn.Body)
	fn.Locals = append(fn.Locals, rc.newLocals...)
	fn.Body = rc.out

	export := ""
	if len(fn.Export) > 0 {
		export = fn.Export[0]
	}
	info.SetFunction(funcIdx, FunctionInfo{
		Type:       fn.Type,
		Export:     export,
		Locals:     localTypes(fn.Locals),
		InstrCount: len(fn.Body),
	})
	debugf("rewrote function %d: %d -> %d instructions", funcIdx, origLen, len(rc.out))
	return nil
}

func localTypes(locals []wasm.Local) []wasm.ValType {
	out := make([]wasm.ValType, len(locals))
	for i, l := range locals {
		out[i] = l.Type
	}
	return out
}

func endsInExplicitReturn(body []wasm.Instruction) bool {
	if len(body) < 2 {
		return false
	}
	return body[len(body)-2].Opcode == wasm.OpReturn
}

// --- emission helpers -------------------------------------------------

func (rc *rewriteCtx) emit(instrs ...wasm.Instruction) {
	rc.out = append(rc.out, instrs...)
}

func (rc *rewriteCtx) allocLocal(t wasm.ValType) uint32 {
	idx := uint32(rc.paramCount + len(rc.fn.Locals) + len(rc.newLocals))
	rc.newLocals = append(rc.newLocals, wasm.Local{Type: t})
	return idx
}

func (rc *rewriteCtx) emitI32Const(v int32) {
	rc.emit(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32ConstImm{Value: v}})
}

func (rc *rewriteCtx) emitLocalGet(idx uint32) {
	rc.emit(wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{Idx: idx}})
}

func (rc *rewriteCtx) emitLocalSet(idx uint32) {
	rc.emit(wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{Idx: idx}})
}

func (rc *rewriteCtx) emitLocalTee(idx uint32) {
	rc.emit(wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{Idx: idx}})
}

func (rc *rewriteCtx) emitCall(funcIdx uint32) {
	rc.emit(wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: funcIdx}})
}

func (rc *rewriteCtx) emitLocation(instrIdx int) {
	rc.emitI32Const(int32(rc.funcIdx))
	rc.emitI32Const(int32(instrIdx))
}

// reloadValue pushes the value of local idx, which holds a value of type
// t, splitting i64 into (low, high) i32 halves: low is i32.wrap_i64 of the
// value; high is i32.wrap_i64 of the value shifted right 32 bits.
func (rc *rewriteCtx) reloadValue(idx uint32, t wasm.ValType) {
	if t != wasm.ValI64 {
		rc.emitLocalGet(idx)
		return
	}
	rc.emitLocalGet(idx)
	rc.emit(wasm.Instruction{Opcode: wasm.OpI32WrapI64})
	rc.emitLocalGet(idx)
	rc.emit(wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64ConstImm{Value: 32}})
	rc.emit(wasm.Instruction{Opcode: wasm.OpI64ShrS})
	rc.emit(wasm.Instruction{Opcode: wasm.OpI32WrapI64})
}

// saveToFreshLocals pops len(types) values off the logical Wasm stack (by
// emitting local.set in reverse order so the first type corresponds to the
// deepest value) and returns their fresh local indices in argument order.
func (rc *rewriteCtx) saveToFreshLocals(types []wasm.ValType) []uint32 {
	idxs := make([]uint32, len(types))
	for i := len(types) - 1; i >= 0; i-- {
		idxs[i] = rc.allocLocal(types[i])
		rc.emitLocalSet(idxs[i])
	}
	return idxs
}

// hookCall emits the standard trailer for a non-replacing hook: location
// constants, the reloaded locals for each payload type, and the call
// itself, provided the hook kind is enabled.
func (rc *rewriteCtx) hookCall(kind HookKind, instrIdx int, payloadTypes []wasm.ValType, payloadLocals []uint32) {
	if !rc.hooks.Has(kind) {
		return
	}
	hookIdx := rc.cat.Request(kind, payloadTypes)
	rc.emitLocation(instrIdx)
	for i, t := range payloadTypes {
		rc.reloadValue(payloadLocals[i], t)
	}
	rc.emitCall(hookIdx)
}

// --- prelude / finalisation --------------------------------------------

func (rc *rewriteCtx) emitPrelude() {
	if rc.isStartFn && rc.hooks.Has(HookStart) {
		// if (guard) { guard = 0; start_hook(func, -1) }
		rc.emit(wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{Idx: rc.startGuardGlobal}})
		rc.emit(wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
		rc.emitI32Const(0)
		rc.emit(wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{Idx: rc.startGuardGlobal}})
		hookIdx := rc.cat.Request(HookStart, nil)
		rc.emitLocation(-1)
		rc.emitCall(hookIdx)
		rc.emit(wasm.Instruction{Opcode: wasm.OpEnd})
	}
	if rc.hooks.Has(HookBegin) {
		hookIdx := rc.cat.Request(HookBegin, nil)
		rc.emitLocation(-1)
		rc.emitCall(hookIdx)
	}
}

// emitReturnHook emits the monomorphised return/implicit-return hook: save
// the function's result values (already on the stack at this point) into
// fresh locals, push location, reload them, call the hook, then push the
// saved values back so the instruction that follows (End or Return itself)
// still finds them on the stack.
func (rc *rewriteCtx) emitReturnHook(instrIdx int) {
	if !rc.hooks.Has(HookReturn) {
		return
	}
	results := rc.fn.Type.Results
	locals := rc.saveToFreshLocals(results)
	hookIdx := rc.cat.Request(HookReturn, results)
	rc.emitLocation(instrIdx)
	for i, t := range results {
		rc.reloadValue(locals[i], t)
	}
	rc.emitCall(hookIdx)
	for _, idx := range locals {
		rc.emitLocalGet(idx)
	}
}

// frameKindHookName returns the kind-qualified end-hook name for f, one of
// end_function/end_block/end_loop/end_if/end_else, mirroring the five
// distinct begin_* names already requested on the Begin side and the
// original's hook_map.rs HookMap::end, which matches on BlockStackElement
// to pick one of exactly these five hooks.
func frameKindHookName(kind BlockFrameKind) HookKind {
	switch kind {
	case FrameFunction:
		return "end_function"
	case FrameBlock:
		return "end_block"
	case FrameLoop:
		return "end_loop"
	case FrameIf:
		return "end_if"
	case FrameElse:
		return "end_else"
	default:
		return "end"
	}
}

// endHookPayload is the i32 location payload carried by the kind-qualified
// end hooks: a single beginLoc for Function/Block/Loop/If, or both the
// else and the matching if's begin location for Else, since an Else
// reopens a fresh frame distinct from the If it continues.
func endHookPayload(kind BlockFrameKind) []wasm.ValType {
	if kind == FrameElse {
		return []wasm.ValType{wasm.ValI32, wasm.ValI32}
	}
	return []wasm.ValType{wasm.ValI32}
}

// emitEndHookFor emits the end-hook for the block frame f, closing at
// instrIdx, dispatching to the kind-qualified hook so the JS side can tell
// which kind of block closed. end_function/end_block/end_loop/end_if take
// a single beginLoc argument; end_else takes both the else and the
// matching if's begin location, since Else reopens a fresh frame.
func (rc *rewriteCtx) emitEndHookFor(f BlockFrame, instrIdx int) {
	if !rc.hooks.Has(HookEnd) {
		return
	}
	hookIdx := rc.cat.Request(frameKindHookName(f.Kind), endHookPayload(f.Kind))
	rc.emitLocation(instrIdx)
	if f.Kind == FrameElse {
		rc.emitI32Const(int32(f.Else))
		rc.emitI32Const(int32(f.Begin))
	} else {
		rc.emitI32Const(int32(f.Begin))
	}
	rc.emitCall(hookIdx)
}

// --- per-instruction dispatch -------------------------------------------

func (rc *rewriteCtx) handle(idx int, instr wasm.Instruction, isFuncEnd bool, hasImplicitReturn bool) error {
	if rc.unreachableDepth > 0 {
		switch instr.Opcode {
		case wasm.OpElse, wasm.OpEnd:
			rc.unreachableDepth--
		}
		if rc.unreachableDepth > 0 {
			switch instr.Opcode {
			case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
				rc.unreachableDepth++
			}
			rc.emit(instr)
			return nil
		}
		// Falls through: this Else/End re-enters reachable code and is
		// handled by the normal cases below to keep the block/type
		// stacks consistent.
	}

	switch instr.Opcode {
	case wasm.OpNop:
		if rc.hooks.Has(HookNop) {
			hookIdx := rc.cat.Request(HookNop, nil)
			rc.emitLocation(idx)
			rc.emitCall(hookIdx)
		} else {
			rc.emit(instr)
		}
		return nil

	case wasm.OpUnreachable:
		if rc.hooks.Has(HookUnreachable) {
			hookIdx := rc.cat.Request(HookUnreachable, nil)
			rc.emitLocation(idx)
			rc.emitCall(hookIdx)
		}
		rc.emit(instr)
		rc.unreachableDepth = 1
		return nil

	case wasm.OpBlock, wasm.OpLoop:
		bt := instr.Imm.(wasm.BlockImm)
		results := rc.blockResults(bt)
		rc.emit(instr)
		kind := FrameBlock
		if instr.Opcode == wasm.OpLoop {
			kind = FrameLoop
		}
		rc.bs.Begin(idx, kind, results)
		rc.ts.PushBlockBegin(results)
		if rc.hooks.Has(HookBegin) {
			kindHook := HookKind("begin_block")
			if instr.Opcode == wasm.OpLoop {
				kindHook = "begin_loop"
			}
			hookIdx := rc.cat.Request(kindHook, nil)
			rc.emitLocation(idx)
			rc.emitCall(hookIdx)
		}
		return nil

	case wasm.OpIf:
		bt := instr.Imm.(wasm.BlockImm)
		results := rc.blockResults(bt)
		if rc.hooks.Has(HookIf) {
			condLocal := rc.allocLocal(wasm.ValI32)
			rc.emitLocalSet(condLocal)
			hookIdx := rc.cat.Request(HookIf, []wasm.ValType{wasm.ValI32})
			rc.emitLocation(idx)
			rc.reloadValue(condLocal, wasm.ValI32)
			rc.emitCall(hookIdx)
			rc.emitLocalGet(condLocal)
		}
		rc.emit(instr)
		rc.bs.Begin(idx, FrameIf, results)
		rc.ts.PushBlockBegin(results)
		if rc.hooks.Has(HookBegin) {
			hookIdx := rc.cat.Request("begin_if", nil)
			rc.emitLocation(idx)
			rc.emitCall(hookIdx)
		}
		return nil

	case wasm.OpElse:
		closed, err := rc.bs.CloseElse(idx)
		if err != nil {
			return err
		}
		rc.emitEndHookFor(closed, idx)
		if err := rc.ts.End(); err != nil {
			return err
		}
		rc.ts.PushBlockBegin(closed.ResultType)
		rc.emit(instr)
		if rc.hooks.Has(HookBegin) {
			hookIdx := rc.cat.Request("begin_else", nil)
			rc.emitLocation(idx)
			rc.emitCall(hookIdx)
		}
		return nil

	case wasm.OpEnd:
		closed, err := rc.bs.Close(idx)
		if err != nil {
			return err
		}
		if isFuncEnd {
			if hasImplicitReturn {
				rc.emitReturnHook(-1)
			}
			rc.emitEndHookFor(closed, -1)
			rc.emit(instr)
			return nil
		}
		rc.emitEndHookFor(closed, idx)
		if err := rc.ts.End(); err != nil {
			return err
		}
		rc.emit(instr)
		return nil

	case wasm.OpBr:
		label := instr.Imm.(wasm.BranchImm).Label
		target, exited, err := rc.bs.ResolveLabel(label)
		if err != nil {
			return err
		}
		if rc.hooks.Has(HookBr) {
			hookIdx := rc.cat.Request(HookBr, nil)
			rc.emitLocation(idx)
			rc.emitI32Const(int32(label))
			rc.emitI32Const(int32(target))
			rc.emitCall(hookIdx)
		}
		for _, f := range exited {
			rc.emitEndHookFor(f, idx)
		}
		rc.emit(instr)
		rc.unreachableDepth = 1
		return nil

	case wasm.OpBrIf:
		label := instr.Imm.(wasm.BranchImm).Label
		target, exited, err := rc.bs.ResolveLabel(label)
		if err != nil {
			return err
		}
		condLocal := rc.allocLocal(wasm.ValI32)
		rc.emitLocalSet(condLocal)
		if rc.hooks.Has(HookBrIf) {
			hookIdx := rc.cat.Request(HookBrIf, []wasm.ValType{wasm.ValI32})
			rc.emitLocation(idx)
			rc.emitI32Const(int32(label))
			rc.emitI32Const(int32(target))
			rc.reloadValue(condLocal, wasm.ValI32)
			rc.emitCall(hookIdx)
		}
		if rc.hooks.Has(HookEnd) && len(exited) > 0 {
			rc.emitLocalGet(condLocal)
			rc.emit(wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
			for _, f := range exited {
				rc.emitEndHookFor(f, idx)
			}
			rc.emit(wasm.Instruction{Opcode: wasm.OpEnd})
		}
		rc.emitLocalGet(condLocal)
		rc.emit(instr)
		return nil

	case wasm.OpBrTable:
		bt := instr.Imm.(wasm.BrTableImm)
		desc, err := rc.buildBrTableDescriptor(idx, bt)
		if err != nil {
			return err
		}
		brTableIdx := rc.info.AddBrTable(desc)
		selLocal := rc.allocLocal(wasm.ValI32)
		rc.emitLocalSet(selLocal)
		if rc.hooks.Has(HookBrTable) {
			hookIdx := rc.cat.Request(HookBrTable, []wasm.ValType{wasm.ValI32})
			rc.emitLocation(idx)
			rc.reloadValue(selLocal, wasm.ValI32)
			rc.emitI32Const(int32(brTableIdx))
			rc.emitCall(hookIdx)
		}
		rc.emitLocalGet(selLocal)
		rc.emit(instr)
		rc.unreachableDepth = 1
		return nil

	case wasm.OpReturn:
		rc.emitReturnHook(idx)
		if rc.hooks.Has(HookEnd) {
			for i := rc.bs.Depth() - 1; i >= 0; i-- {
				rc.emitEndHookFor(rc.bs.Frames()[i], idx)
			}
		}
		rc.emit(instr)
		rc.unreachableDepth = 1
		return nil

	case wasm.OpCall:
		return rc.handleCall(idx, instr)

	case wasm.OpCallIndirect:
		return rc.handleCallIndirect(idx, instr)

	case wasm.OpDrop:
		return rc.handleDrop(idx)

	case wasm.OpSelect:
		return rc.handleSelect(idx, instr)

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		return rc.handleLocal(idx, instr)

	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		return rc.handleGlobal(idx, instr)

	case wasm.OpMemorySize:
		rc.emit(instr)
		if rc.hooks.Has(HookMemorySize) {
			hookIdx := rc.cat.Request(HookMemorySize, []wasm.ValType{wasm.ValI32})
			rc.emitLocation(idx)
			rc.emit(wasm.Instruction{Opcode: wasm.OpMemorySize})
			rc.emitCall(hookIdx)
		}
		rc.ts.PushValue(wasm.ValI32)
		return nil

	case wasm.OpMemoryGrow:
		inLocal := rc.allocLocal(wasm.ValI32)
		rc.emitLocalTee(inLocal)
		rc.emit(instr)
		resLocal := rc.allocLocal(wasm.ValI32)
		rc.emitLocalTee(resLocal)
		rc.hookCall(HookMemoryGrow, idx, []wasm.ValType{wasm.ValI32, wasm.ValI32}, []uint32{inLocal, resLocal})
		if _, err := rc.ts.PopVal(); err != nil {
			return err
		}
		rc.ts.PushValue(wasm.ValI32)
		return nil

	case wasm.OpI32Const, wasm.OpI64Const, wasm.OpF32Const, wasm.OpF64Const:
		return rc.handleConst(idx, instr)
	}

	if isLoad(instr.Opcode) {
		return rc.handleLoad(idx, instr)
	}
	if isStore(instr.Opcode) {
		return rc.handleStore(idx, instr)
	}

	ft, ok := wasm.OpFuncType(instr.Opcode)
	if !ok {
		return fmt.Errorf("unhandled opcode 0x%02x", instr.Opcode)
	}
	return rc.handleUnaryBinary(idx, instr, ft)
}

func (rc *rewriteCtx) blockResults(bt wasm.BlockImm) []wasm.ValType {
	switch bt.Type {
	case wasm.BlockTypeVoid:
		return nil
	case wasm.BlockTypeI32:
		return []wasm.ValType{wasm.ValI32}
	case wasm.BlockTypeI64:
		return []wasm.ValType{wasm.ValI64}
	case wasm.BlockTypeF32:
		return []wasm.ValType{wasm.ValF32}
	case wasm.BlockTypeF64:
		return []wasm.ValType{wasm.ValF64}
	}
	if int(bt.Type) < len(rc.module.Types) {
		return rc.module.Types[bt.Type].Results
	}
	return nil
}

func (rc *rewriteCtx) handleCall(idx int, instr wasm.Instruction) error {
	ci := instr.Imm.(wasm.CallImm)
	callee := rc.module.Func(ci.FuncIdx)
	if callee == nil {
		return fmt.Errorf("call target %d out of range", ci.FuncIdx)
	}
	ft := callee.Type

	if !rc.hooks.Has(HookCall) {
		rc.emit(instr)
		for range ft.Params {
			rc.ts.PopVal()
		}
		rc.ts.PushValues(ft.Results)
		return nil
	}

	argLocals := rc.saveToFreshLocals(ft.Params)
	preHookIdx := rc.cat.Request(HookCall, append([]wasm.ValType{wasm.ValI32}, ft.Params...))
	rc.emitLocation(idx)
	rc.emitI32Const(int32(ci.FuncIdx))
	for i, t := range ft.Params {
		rc.reloadValue(argLocals[i], t)
	}
	rc.emitCall(preHookIdx)

	for _, l := range argLocals {
		rc.emitLocalGet(l)
	}
	rc.emit(instr)

	resLocals := rc.saveToFreshLocals(ft.Results)
	postHookIdx := rc.cat.Request("return_call", ft.Results)
	rc.emitLocation(idx)
	for i, t := range ft.Results {
		rc.reloadValue(resLocals[i], t)
	}
	rc.emitCall(postHookIdx)
	for _, l := range resLocals {
		rc.emitLocalGet(l)
	}
	for range ft.Params {
		rc.ts.PopVal()
	}
	rc.ts.PushValues(ft.Results)
	return nil
}

func (rc *rewriteCtx) handleCallIndirect(idx int, instr wasm.Instruction) error {
	ci := instr.Imm.(wasm.CallIndirectImm)
	if int(ci.TypeIdx) >= len(rc.module.Types) {
		return fmt.Errorf("call_indirect type index %d out of range", ci.TypeIdx)
	}
	ft := rc.module.Types[ci.TypeIdx]

	if !rc.hooks.Has(HookCall) {
		rc.emit(instr)
		rc.ts.PopVal() // table index operand
		for range ft.Params {
			rc.ts.PopVal()
		}
		rc.ts.PushValues(ft.Results)
		return nil
	}

	tableLocal := rc.allocLocal(wasm.ValI32)
	rc.emitLocalSet(tableLocal)
	argLocals := rc.saveToFreshLocals(ft.Params)

	payload := append([]wasm.ValType{wasm.ValI32}, ft.Params...)
	preHookIdx := rc.cat.Request(HookCall, payload)
	rc.emitLocation(idx)
	rc.reloadValue(tableLocal, wasm.ValI32)
	for i, t := range ft.Params {
		rc.reloadValue(argLocals[i], t)
	}
	rc.emitCall(preHookIdx)

	for _, l := range argLocals {
		rc.emitLocalGet(l)
	}
	rc.reloadValue(tableLocal, wasm.ValI32)
	rc.emit(instr)

	resLocals := rc.saveToFreshLocals(ft.Results)
	postHookIdx := rc.cat.Request("return_call", ft.Results)
	rc.emitLocation(idx)
	for i, t := range ft.Results {
		rc.reloadValue(resLocals[i], t)
	}
	rc.emitCall(postHookIdx)
	for _, l := range resLocals {
		rc.emitLocalGet(l)
	}
	rc.ts.PopVal()
	for range ft.Params {
		rc.ts.PopVal()
	}
	rc.ts.PushValues(ft.Results)
	return nil
}

func (rc *rewriteCtx) handleDrop(idx int) error {
	t, err := rc.ts.PopVal()
	if err != nil {
		return err
	}
	valLocal := rc.allocLocal(t)
	rc.emitLocalSet(valLocal)
	rc.hookCall(HookDrop, idx, []wasm.ValType{t}, []uint32{valLocal})
	return nil
}

func (rc *rewriteCtx) handleSelect(idx int, instr wasm.Instruction) error {
	if _, err := rc.ts.PopVal(); err != nil { // condition, i32
		return err
	}
	bT, err := rc.ts.PopVal()
	if err != nil {
		return err
	}
	aT, err := rc.ts.PopVal()
	if err != nil {
		return err
	}
	if aT != bT {
		return fmt.Errorf("select operands disagree: %s vs %s", aT, bT)
	}
	t := aT

	condLocal := rc.allocLocal(wasm.ValI32)
	bLocal := rc.allocLocal(t)
	aLocal := rc.allocLocal(t)
	rc.emitLocalSet(condLocal)
	rc.emitLocalSet(bLocal)
	rc.emitLocalSet(aLocal)
	rc.emitLocalGet(aLocal)
	rc.emitLocalGet(bLocal)
	rc.emitLocalGet(condLocal)
	rc.emit(instr)
	rc.hookCall(HookSelect, idx, []wasm.ValType{t, t, wasm.ValI32}, []uint32{aLocal, bLocal, condLocal})
	rc.ts.PushValue(t)
	return nil
}

func (rc *rewriteCtx) handleLocal(idx int, instr wasm.Instruction) error {
	li := instr.Imm.(wasm.LocalImm)
	t, ok := rc.fn.LocalType(li.Idx)
	if !ok {
		return fmt.Errorf("local index %d out of range", li.Idx)
	}
	switch instr.Opcode {
	case wasm.OpLocalGet:
		rc.emit(instr)
		rc.ts.PushValue(t)
	case wasm.OpLocalSet:
		if _, err := rc.ts.PopVal(); err != nil {
			return err
		}
		rc.emit(instr)
	case wasm.OpLocalTee:
		if _, err := rc.ts.PopVal(); err != nil {
			return err
		}
		rc.emit(instr)
		rc.ts.PushValue(t)
	}
	if rc.hooks.Has(HookLocal) {
		hookIdx := rc.cat.Request(HookLocal, []wasm.ValType{wasm.ValI32, t})
		rc.emitLocation(idx)
		rc.emitI32Const(int32(li.Idx))
		rc.emitLocalGet(li.Idx)
		rc.splitTrailingI64(t)
		rc.emitCall(hookIdx)
	}
	return nil
}

// splitTrailingI64 is used by handleLocal/handleGlobal, which push the
// current value with a bare local.get/global.get (re-reading rather than
// saving to a fresh local) rather than routing through a saved local; if
// that value is i64 it still needs low/high splitting,
// which requires re-reading it once more for the high half.
func (rc *rewriteCtx) splitTrailingI64(t wasm.ValType) {
	if t != wasm.ValI64 {
		return
	}
	// The low half is exactly the i64 value just pushed, wrapped; the
	// high half needs the value again, shifted. Since we can't "unpush"
	// cheaply, stash it in a scratch local instead for this one case.
	scratch := rc.allocLocal(wasm.ValI64)
	rc.emitLocalSet(scratch)
	rc.reloadValue(scratch, wasm.ValI64)
}

func (rc *rewriteCtx) handleGlobal(idx int, instr wasm.Instruction) error {
	gi := instr.Imm.(wasm.GlobalImm)
	if int(gi.Idx) >= len(rc.module.Globals) {
		return fmt.Errorf("global index %d out of range", gi.Idx)
	}
	t := rc.module.Globals[gi.Idx].Type.Type
	switch instr.Opcode {
	case wasm.OpGlobalGet:
		rc.emit(instr)
		rc.ts.PushValue(t)
	case wasm.OpGlobalSet:
		if _, err := rc.ts.PopVal(); err != nil {
			return err
		}
		rc.emit(instr)
	}
	if rc.hooks.Has(HookGlobal) {
		hookIdx := rc.cat.Request(HookGlobal, []wasm.ValType{wasm.ValI32, t})
		rc.emitLocation(idx)
		rc.emitI32Const(int32(gi.Idx))
		rc.emit(wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{Idx: gi.Idx}})
		rc.splitTrailingI64(t)
		rc.emitCall(hookIdx)
	}
	return nil
}

func (rc *rewriteCtx) handleConst(idx int, instr wasm.Instruction) error {
	t := constType(instr)
	rc.emit(instr)
	rc.hookCallConst(idx, t, instr)
	rc.ts.PushValue(t)
	return nil
}

// hookCallConst re-emits the constant (T.const v again, rather than
// saving it to a local) so the hook payload carries the value without
// disturbing the original stack.
func (rc *rewriteCtx) hookCallConst(idx int, t wasm.ValType, instr wasm.Instruction) {
	if !rc.hooks.Has(HookConst) {
		return
	}
	hookIdx := rc.cat.Request(HookConst, []wasm.ValType{t})
	rc.emitLocation(idx)
	if t == wasm.ValI64 {
		scratch := rc.allocLocal(wasm.ValI64)
		rc.emit(instr)
		rc.emitLocalSet(scratch)
		rc.reloadValue(scratch, wasm.ValI64)
	} else {
		rc.emit(instr)
	}
	rc.emitCall(hookIdx)
}

func constType(instr wasm.Instruction) wasm.ValType {
	switch instr.Opcode {
	case wasm.OpI32Const:
		return wasm.ValI32
	case wasm.OpI64Const:
		return wasm.ValI64
	case wasm.OpF32Const:
		return wasm.ValF32
	case wasm.OpF64Const:
		return wasm.ValF64
	}
	panic("not a const opcode")
}

func (rc *rewriteCtx) handleUnaryBinary(idx int, instr wasm.Instruction, ft wasm.FuncType) error {
	inLocals := make([]uint32, len(ft.Params))
	for i := len(ft.Params) - 1; i >= 0; i-- {
		if _, err := rc.ts.PopVal(); err != nil {
			return err
		}
		inLocals[i] = rc.allocLocal(ft.Params[i])
		rc.emitLocalSet(inLocals[i])
	}
	for _, l := range inLocals {
		rc.emitLocalGet(l)
	}
	rc.emit(instr)

	outLocals := rc.saveToFreshLocals(ft.Results)
	kind := HookUnary
	if len(ft.Params) == 2 {
		kind = HookBinary
	}
	if rc.hooks.Has(kind) {
		payload := append(append([]wasm.ValType(nil), ft.Params...), ft.Results...)
		locals := append(append([]uint32(nil), inLocals...), outLocals...)
		hookIdx := rc.cat.Request(kind, payload)
		rc.emitLocation(idx)
		for i, t := range payload {
			rc.reloadValue(locals[i], t)
		}
		rc.emitCall(hookIdx)
	}
	for _, l := range outLocals {
		rc.emitLocalGet(l)
	}
	rc.ts.PushValues(ft.Results)
	return nil
}

func (rc *rewriteCtx) handleLoad(idx int, instr wasm.Instruction) error {
	ma := instr.Imm.(wasm.MemArg)
	resultType := loadResultType(instr.Opcode)

	addrLocal := rc.allocLocal(wasm.ValI32)
	if _, err := rc.ts.PopVal(); err != nil {
		return err
	}
	rc.emitLocalTee(addrLocal)
	rc.emit(instr)
	valLocal := rc.allocLocal(resultType)
	rc.emitLocalTee(valLocal)

	if rc.hooks.Has(HookLoad) {
		hookIdx := rc.cat.Request(HookLoad, []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, resultType})
		rc.emitLocation(idx)
		rc.emitI32Const(int32(ma.Offset))
		rc.emitI32Const(int32(ma.Align))
		rc.reloadValue(addrLocal, wasm.ValI32)
		rc.reloadValue(valLocal, resultType)
		rc.emitCall(hookIdx)
	}
	rc.ts.PushValue(resultType)
	return nil
}

func (rc *rewriteCtx) handleStore(idx int, instr wasm.Instruction) error {
	ma := instr.Imm.(wasm.MemArg)
	valType := storeValType(instr.Opcode)

	valLocal := rc.allocLocal(valType)
	addrLocal := rc.allocLocal(wasm.ValI32)
	if _, err := rc.ts.PopVal(); err != nil { // value
		return err
	}
	if _, err := rc.ts.PopVal(); err != nil { // address
		return err
	}
	rc.emitLocalSet(valLocal)
	rc.emitLocalSet(addrLocal)
	rc.emitLocalGet(addrLocal)
	rc.emitLocalGet(valLocal)
	rc.emit(instr)

	if rc.hooks.Has(HookStore) {
		hookIdx := rc.cat.Request(HookStore, []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, valType})
		rc.emitLocation(idx)
		rc.emitI32Const(int32(ma.Offset))
		rc.emitI32Const(int32(ma.Align))
		rc.reloadValue(addrLocal, wasm.ValI32)
		rc.reloadValue(valLocal, valType)
		rc.emitCall(hookIdx)
	}
	return nil
}

// --- br_table static-info construction -----------------------------------

func (rc *rewriteCtx) buildBrTableDescriptor(idx int, bt wasm.BrTableImm) (BrTableDescriptor, error) {
	mk := func(label uint32) (BrTableEntry, error) {
		target, exited, err := rc.bs.ResolveLabel(label)
		if err != nil {
			return BrTableEntry{}, err
		}
		ends := make([]Location, len(exited))
		for i, f := range exited {
			ends[i] = Location{Func: rc.funcIdx, Instr: f.End}
		}
		return BrTableEntry{Label: label, Location: Location{Func: rc.funcIdx, Instr: target}, EndBlocks: ends}, nil
	}

	var desc BrTableDescriptor
	for _, l := range bt.Labels {
		e, err := mk(l)
		if err != nil {
			return BrTableDescriptor{}, err
		}
		desc.Table = append(desc.Table, e)
	}
	def, err := mk(bt.Default)
	if err != nil {
		return BrTableDescriptor{}, err
	}
	desc.Default = def
	return desc, nil
}

// --- opcode classification -----------------------------------------------

func isLoad(op byte) bool {
	switch op {
	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
		wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
		wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI64Load32S, wasm.OpI64Load32U:
		return true
	}
	return false
}

func isStore(op byte) bool {
	switch op {
	case wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
		wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		return true
	}
	return false
}

func loadResultType(op byte) wasm.ValType {
	switch op {
	case wasm.OpI32Load, wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U:
		return wasm.ValI32
	case wasm.OpI64Load, wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U, wasm.OpI64Load32S, wasm.OpI64Load32U:
		return wasm.ValI64
	case wasm.OpF32Load:
		return wasm.ValF32
	case wasm.OpF64Load:
		return wasm.ValF64
	}
	panic("not a load opcode")
}

func storeValType(op byte) wasm.ValType {
	switch op {
	case wasm.OpI32Store, wasm.OpI32Store8, wasm.OpI32Store16:
		return wasm.ValI32
	case wasm.OpI64Store, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		return wasm.ValI64
	case wasm.OpF32Store:
		return wasm.ValF32
	case wasm.OpF64Store:
		return wasm.ValF64
	}
	panic("not a store opcode")
}
