package instrument

import (
	"encoding/json"
	"sync"

	"github.com/wasabi-go/wasabi/wasm"
)

// Location pairs a function index with an instruction index inside it; -1
// is used for the synthetic start/begin_function/implicit-return/end
// hooks that don't correspond to one original instruction.
type Location struct {
	Func  int `json:"func"`
	Instr int `json:"instr"`
}

// BrTableEntry is one row of a BrTableDescriptor's table: a branch label
// together with the absolute instruction location it resolves to and the
// list of block-end locations that branch exits, used by the JS runtime
// to dispatch end-hooks for br_table at runtime.
type BrTableEntry struct {
	Label     uint32     `json:"label"`
	Location  Location   `json:"location"`
	EndBlocks []Location `json:"endBlocks"`
}

// BrTableDescriptor is the static-info entry registered for one br_table
// instruction.
type BrTableDescriptor struct {
	Table   []BrTableEntry `json:"table"`
	Default BrTableEntry   `json:"default"`
}

// FunctionInfo is the static-info JSON schema's per-function entry.
type FunctionInfo struct {
	Type      wasm.FuncType `json:"type"`
	Import    *ImportInfo   `json:"import,omitempty"`
	Export    string        `json:"export,omitempty"`
	Locals    []wasm.ValType `json:"locals"`
	InstrCount int          `json:"instrCount"`
}

// ImportInfo names the two-level import namespace a function was imported
// under.
type ImportInfo struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

// StaticInfo is the module-wide metadata object serialized into the
// companion JS file as `Wasabi.module.info`. It is mutated during
// rewriting under a single mutex, which SetFunction, AddBrTable and
// MarshalJSON all take; there are no separate read locks.
type StaticInfo struct {
	mu sync.Mutex

	Functions       []FunctionInfo      `json:"functions"`
	Globals         []wasm.GlobalType   `json:"globals"`
	Start           *int                `json:"start"`
	TableExportName string              `json:"tableExportName"`
	BrTables        []BrTableDescriptor `json:"brTables"`
}

// NewStaticInfo pre-sizes Functions/Globals to module's current counts;
// call it before rewriting begins so every function index is already a
// valid slot (functions fill in their own entry as they finish, and hook
// imports appended afterward are out of the original range and don't need
// an entry here).
func NewStaticInfo(module *wasm.Module) *StaticInfo {
	si := &StaticInfo{
		Functions:       make([]FunctionInfo, len(module.Functions)),
		TableExportName: TableExportName,
	}
	for _, g := range module.Globals {
		si.Globals = append(si.Globals, g.Type)
	}
	if module.Start != nil {
		v := int(*module.Start)
		si.Start = &v
	}
	return si
}

// SetFunction installs function index fi's metadata. Safe to call
// concurrently from the per-function rewrite goroutines.
func (si *StaticInfo) SetFunction(fi int, info FunctionInfo) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.Functions[fi] = info
}

// AddBrTable appends a BrTableDescriptor and returns its index, the value
// the rewriter embeds in the br_table hook call's payload.
func (si *StaticInfo) AddBrTable(d BrTableDescriptor) int {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.BrTables = append(si.BrTables, d)
	return len(si.BrTables) - 1
}

// MarshalJSON renders the static info object exactly as
// `Wasabi.module.info = <JSON>;` expects it.
func (si *StaticInfo) MarshalJSON() ([]byte, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	type alias StaticInfo
	return json.Marshal((*alias)(si))
}
