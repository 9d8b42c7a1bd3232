package instrument

import (
	"fmt"

	"github.com/wasabi-go/wasabi/wasm"
)

// tsEntryKind distinguishes a concrete pushed value from a block/function
// boundary marker in TypeStack's flat representation.
type tsEntryKind int

const (
	tsValue tsEntryKind = iota
	tsMarker
)

type tsEntry struct {
	kind    tsEntryKind
	val     wasm.ValType
	results []wasm.ValType // marker only: what End() pushes once popped to
}

// TypeStack is the rewriter's lightweight companion to BlockStack: a flat
// list of pushed value types punctuated by block/function markers. It
// answers "what concrete type(s) does this polymorphic instruction
// consume right here" for Drop and Select. It assumes its input already
// passed validation and is not required to handle unreachable code; the
// rewriter simply doesn't drive it for dead instructions (see
// rewriter.go).
type TypeStack struct {
	stack []tsEntry
}

// NewTypeStack returns an empty TypeStack.
func NewTypeStack() *TypeStack { return &TypeStack{} }

// PushFunctionBegin installs the outermost marker, with no associated
// result type (a function's "end" is handled specially by the rewriter,
// not by a generic End() call).
func (ts *TypeStack) PushFunctionBegin() {
	ts.stack = append(ts.stack, tsEntry{kind: tsMarker})
}

// PushBlockBegin installs a marker for a Block/Loop/If/Else, remembering
// the result types to push once the block closes.
func (ts *TypeStack) PushBlockBegin(results []wasm.ValType) {
	ts.stack = append(ts.stack, tsEntry{kind: tsMarker, results: results})
}

// PushValue records that an instruction pushed a value of type t.
func (ts *TypeStack) PushValue(t wasm.ValType) {
	ts.stack = append(ts.stack, tsEntry{kind: tsValue, val: t})
}

// PushValues is a convenience wrapper for PushValue over a slice.
func (ts *TypeStack) PushValues(ts2 []wasm.ValType) {
	for _, t := range ts2 {
		ts.PushValue(t)
	}
}

// PopVal returns and removes the nearest value entry. It is an error to
// call this when the stack is empty or the next entry is a block marker;
// a validated input module never triggers this for the sites the rewriter
// consults it at (Drop, Select).
func (ts *TypeStack) PopVal() (wasm.ValType, error) {
	if len(ts.stack) == 0 {
		return 0, fmt.Errorf("instrument: type stack underflow")
	}
	top := ts.stack[len(ts.stack)-1]
	if top.kind == tsMarker {
		return 0, fmt.Errorf("instrument: type stack pop hit a block boundary")
	}
	ts.stack = ts.stack[:len(ts.stack)-1]
	return top.val, nil
}

// End unwinds to the nearest block marker, discarding every value entry
// above it (the block body's own result values, plus anything left
// behind before a branch made the rest of the block dead), and pushes
// that marker's result types.
func (ts *TypeStack) End() error {
	for i := len(ts.stack) - 1; i >= 0; i-- {
		if ts.stack[i].kind == tsMarker {
			results := ts.stack[i].results
			ts.stack = ts.stack[:i]
			ts.PushValues(results)
			return nil
		}
	}
	return fmt.Errorf("instrument: type stack End() found no enclosing marker")
}
