package instrument

import (
	"fmt"

	"github.com/wasabi-go/wasabi/wasm"
)

// BlockFrameKind distinguishes the five kinds of frame the block stack
// tracks. FrameFunction is the implicit outermost block pushed at function
// entry, whose End is the body's final `end`.
type BlockFrameKind int

const (
	FrameFunction BlockFrameKind = iota
	FrameBlock
	FrameLoop
	FrameIf
	FrameElse
)

// BlockFrame describes one nested block as resolved by BlockStack. Begin
// and End are indices into the function's original instruction slice;
// Else is -1 unless the frame is an If whose matching Else was found.
type BlockFrame struct {
	Kind  BlockFrameKind
	Begin int
	End   int
	Else  int

	// ResultType holds the block's declared result types, used by
	// TypeStack to know what to push when the frame closes.
	ResultType []wasm.ValType
}

// BlockStack precomputes, for a single function body, the matching end
// (and else, for ifs) of every block begin via one forward scan, then
// offers label resolution and push/pop operations the rewriter drives in
// instruction order.
type BlockStack struct {
	body []wasm.Instruction

	beginEnd map[int]int // begin index -> end index
	beginTo  map[int]int // begin index -> else index, if any (If only)
	elseEnd  map[int]int // else index -> end index

	frames []BlockFrame
}

// NewBlockStack scans body once, matching every Block/Loop/If begin to its
// End (and, for If, its optional Else), and returns a BlockStack ready for
// the rewriter to drive through the same body in order.
func NewBlockStack(body []wasm.Instruction) (*BlockStack, error) {
	bs := &BlockStack{
		body:     body,
		beginEnd: make(map[int]int),
		beginTo:  make(map[int]int),
		elseEnd:  make(map[int]int),
	}

	type openBlock struct {
		begin int
		elseAt int
	}
	var stack []openBlock
	funcClosed := false

	for i, instr := range body {
		switch instr.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			stack = append(stack, openBlock{begin: i, elseAt: -1})
		case wasm.OpElse:
			if len(stack) == 0 {
				return nil, fmt.Errorf("instrument: else at instruction %d has no matching if", i)
			}
			top := &stack[len(stack)-1]
			top.elseAt = i
		case wasm.OpEnd:
			if len(stack) == 0 {
				// The function-level implicit block's end; recorded by
				// the caller (see PushFunction), not here.
				funcClosed = true
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			bs.beginEnd[top.begin] = i
			if top.elseAt >= 0 {
				bs.beginTo[top.begin] = top.elseAt
				bs.elseEnd[top.elseAt] = i
			}
		}
	}
	unclosed := len(stack)
	if !funcClosed {
		unclosed++ // the function's implicit block never saw its end
	}
	if unclosed != 0 {
		return nil, fmt.Errorf("instrument: %d unclosed block(s) at end of function body", unclosed)
	}
	return bs, nil
}

// PushFunction installs the implicit outermost frame representing the
// function body itself, whose End is the index of the body's final `end`.
func (bs *BlockStack) PushFunction(end int, results []wasm.ValType) {
	bs.frames = append(bs.frames, BlockFrame{Kind: FrameFunction, Begin: -1, End: end, Else: -1, ResultType: results})
}

// Begin pushes a new frame for a Block/Loop/If instruction encountered at
// idx, looking up its precomputed End (and Else, for If).
func (bs *BlockStack) Begin(idx int, kind BlockFrameKind, results []wasm.ValType) BlockFrame {
	end, ok := bs.beginEnd[idx]
	if !ok {
		// Only the function's implicit block is allowed to lack a
		// precomputed end; anything else indicates caller misuse.
		panic(fmt.Sprintf("instrument: no precomputed end for block begin at %d", idx))
	}
	elseIdx := -1
	if kind == FrameIf {
		if e, ok := bs.beginTo[idx]; ok {
			elseIdx = e
		}
	}
	f := BlockFrame{Kind: kind, Begin: idx, End: end, Else: elseIdx, ResultType: results}
	bs.frames = append(bs.frames, f)
	return f
}

// CloseElse converts the top If frame (which must be the current frame) to
// an Else frame, sharing the If's result types, and returns the original
// If frame so the caller can emit an end-hook referencing its Begin.
func (bs *BlockStack) CloseElse(elseIdx int) (BlockFrame, error) {
	if len(bs.frames) == 0 {
		return BlockFrame{}, fmt.Errorf("instrument: else at %d with empty block stack", elseIdx)
	}
	top := bs.frames[len(bs.frames)-1]
	if top.Kind != FrameIf {
		return BlockFrame{}, fmt.Errorf("instrument: else at %d does not close an if frame", elseIdx)
	}
	bs.frames[len(bs.frames)-1] = BlockFrame{Kind: FrameElse, Begin: top.Begin, End: top.End, Else: elseIdx, ResultType: top.ResultType}
	return top, nil
}

// Close pops the current frame, which must end at idx, and returns it.
func (bs *BlockStack) Close(idx int) (BlockFrame, error) {
	if len(bs.frames) == 0 {
		return BlockFrame{}, fmt.Errorf("instrument: end at %d with empty block stack", idx)
	}
	top := bs.frames[len(bs.frames)-1]
	if top.End != idx {
		return BlockFrame{}, fmt.Errorf("instrument: end at %d does not match open frame ending at %d", idx, top.End)
	}
	bs.frames = bs.frames[:len(bs.frames)-1]
	return top, nil
}

// Depth returns the number of currently open frames, including the
// function's implicit outermost one.
func (bs *BlockStack) Depth() int { return len(bs.frames) }

// Top returns the currently innermost open frame.
func (bs *BlockStack) Top() BlockFrame { return bs.frames[len(bs.frames)-1] }

// Frames returns a snapshot of the current open-frame stack, outermost
// first. Callers must not mutate the returned slice.
func (bs *BlockStack) Frames() []BlockFrame { return bs.frames }

// ResolveLabel resolves a relative branch label to the absolute target
// instruction index (the loop's Begin for a loop target, otherwise the
// matching End) and the list of frames the branch exits, outermost of the
// exited set last, i.e. innermost-exited-first, the order end hooks fire
// as the branch unwinds.
func (bs *BlockStack) ResolveLabel(label uint32) (target int, exited []BlockFrame, err error) {
	depth := len(bs.frames)
	if int(label) >= depth {
		return 0, nil, fmt.Errorf("instrument: branch label %d exceeds block depth %d", label, depth)
	}
	targetFrame := bs.frames[depth-1-int(label)]
	if targetFrame.Kind == FrameLoop {
		target = targetFrame.Begin
	} else {
		target = targetFrame.End
	}
	// Frames strictly above (innermost of) the target, top-down.
	exited = make([]BlockFrame, label)
	for i := 0; i < int(label); i++ {
		exited[i] = bs.frames[depth-1-i]
	}
	return target, exited, nil
}
