package wasm

// ValType is a WebAssembly value type. Only the four MVP numeric types are
// representable; see constants.go for the byte encodings.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// FuncType is a function signature: a list of parameter types mapped to a
// list of result types. Wasm 1.0 allows at most one result; the multi-value
// extension lifts that limit, which is why Results is a slice here rather
// than an *optional single type.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// Limits bounds the size of a table or memory, in pages (memory) or
// elements (table).
type Limits struct {
	Min uint32
	Max *uint32 // nil means unbounded
}

// Import identifies the two-level namespace an imported item is bound to.
// A nil Import on a Function/Table/Memory/Global means the item is defined
// locally in this module rather than imported.
type Import struct {
	Module string
	Name   string
}

// Local is one declared local variable slot of a function body. Name is
// populated from the custom "name" section's local subsection when present.
type Local struct {
	Type ValType
	Name string
}

// Function is a single entry in the function index space: imported
// functions and locally defined functions share one list, imports first,
// matching the binary format's index-space layout (see Module docs).
type Function struct {
	Type   FuncType
	Import *Import // non-nil for an imported function; Locals/Body unused then
	Name   string  // from the name section, if present
	Export []string

	Locals []Local
	Body   []Instruction
}

func (f *Function) IsImported() bool { return f.Import != nil }

// NumLocals returns the number of local variable slots, not counting
// parameters; local.get/set/tee indices address params first, then these.
func (f *Function) NumLocals() int { return len(f.Locals) }

// LocalType returns the type of local slot idx, where indices 0..len(Params)-1
// address parameters and the rest address f.Locals.
func (f *Function) LocalType(idx uint32) (ValType, bool) {
	n := uint32(len(f.Type.Params))
	if idx < n {
		return f.Type.Params[idx], true
	}
	li := idx - n
	if int(li) >= len(f.Locals) {
		return 0, false
	}
	return f.Locals[li].Type, true
}

type GlobalType struct {
	Type    ValType
	Mutable bool
}

type Global struct {
	Type   GlobalType
	Import *Import
	Export []string
	Init   []Instruction // constant expression; empty for imports
}

type TableType struct {
	Limits Limits
}

type Table struct {
	Type     TableType
	Import   *Import
	Export   []string
	Elements []Element
}

type MemoryType struct {
	Limits Limits
}

type Memory struct {
	Type   MemoryType
	Import *Import
	Export []string
	Data   []DataSegment
}

// Element is an active element segment: it initializes a range of a table
// with function indices computed at instantiation time. Passive and
// declarative segments (bulk-memory) are out of scope; see decode.go.
type Element struct {
	TableIdx uint32
	Offset   []Instruction
	FuncIdxs []uint32
}

// DataSegment is an active data segment initializing a range of memory.
// Passive segments (bulk-memory) are out of scope.
type DataSegment struct {
	MemIdx uint32
	Offset []Instruction
	Init   []byte
}

// CustomSection preserves a named custom section verbatim, except for
// "name", which is parsed into the Function/Local Name fields above
// and therefore is not retained as a CustomSection.
type CustomSection struct {
	Name string
	Data []byte
}

// Extension flags a non-MVP feature the parser chose to permit. Currently
// only multi-value block types are recognized; every other extension is a
// hard decode error rather than something the module reports using.
type Extension int

const (
	ExtMultiValue Extension = iota
)

// Module is the merged in-memory representation of a parsed Wasm binary:
// a single index space per item kind (imports first, then local
// definitions), matching the binary format's numbering, with imports and
// exports folded into the owning item rather than kept as separate lists.
type Module struct {
	Types     []FuncType
	Functions []*Function
	Globals   []*Global
	Tables    []*Table
	Memories  []*Memory
	Start     *uint32 // index into Functions

	CustomSections []CustomSection

	// Extensions records which non-MVP features this module actually used,
	// as permitted by the parser (see decode.go).
	Extensions map[Extension]bool

	// Warnings accumulates non-fatal problems found while parsing the name
	// section (malformed name subsections don't abort decoding).
	Warnings []string
}

func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, f := range m.Functions {
		if f.IsImported() {
			n++
		}
	}
	return n
}

func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, g := range m.Globals {
		if g.Import != nil {
			n++
		}
	}
	return n
}

func (m *Module) NumImportedTables() int {
	n := 0
	for _, t := range m.Tables {
		if t.Import != nil {
			n++
		}
	}
	return n
}

func (m *Module) NumImportedMemories() int {
	n := 0
	for _, mem := range m.Memories {
		if mem.Import != nil {
			n++
		}
	}
	return n
}

// Func returns the function at absolute index idx in the function index
// space, or nil if out of range.
func (m *Module) Func(idx uint32) *Function {
	if int(idx) >= len(m.Functions) {
		return nil
	}
	return m.Functions[idx]
}

// AddType interns a function type, reusing an existing equal entry.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}

func (m *Module) markExtension(ext Extension) {
	if m.Extensions == nil {
		m.Extensions = make(map[Extension]bool)
	}
	m.Extensions[ext] = true
}
