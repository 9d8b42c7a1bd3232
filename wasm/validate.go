package wasm

import "fmt"

// Validate checks the module for structural validity beyond what ParseModule
// already enforces while decoding (index spaces are mostly self-consistent
// by construction in the merged AST; this catches the cross-references that
// aren't).
func (m *Module) Validate() error {
	if err := m.validateCallIndirectTypes(); err != nil {
		return err
	}
	if err := m.validateFunctionIndices(); err != nil {
		return err
	}
	if err := m.validateGlobalIndices(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateMemoryLimits(); err != nil {
		return err
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// validateCallIndirectTypes checks that every call_indirect instruction
// references a type index that exists in m.Types.
func (m *Module) validateCallIndirectTypes() error {
	numTypes := uint32(len(m.Types))
	var walkErr error
	walkBody := func(instrs []Instruction) {
		for _, instr := range instrs {
			ci, ok := instr.Imm.(CallIndirectImm)
			if !ok {
				continue
			}
			if ci.TypeIdx >= numTypes && walkErr == nil {
				walkErr = fmt.Errorf("call_indirect references invalid type index %d (have %d types)", ci.TypeIdx, numTypes)
			}
		}
	}
	for _, f := range m.Functions {
		walkBody(f.Body)
	}
	return walkErr
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(len(m.Functions))

	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}

	for _, t := range m.Tables {
		for i, elem := range t.Elements {
			for j, funcIdx := range elem.FuncIdxs {
				if funcIdx >= numFuncs {
					return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
				}
			}
		}
	}

	return nil
}

func (m *Module) validateGlobalIndices() error {
	numGlobals := uint32(len(m.Globals))
	var walkErr error
	walk := func(instrs []Instruction) {
		for _, instr := range instrs {
			gi, ok := instr.Imm.(GlobalImm)
			if !ok {
				continue
			}
			if gi.Idx >= numGlobals && walkErr == nil {
				walkErr = fmt.Errorf("global instruction references invalid global index %d (have %d globals)", gi.Idx, numGlobals)
			}
		}
	}
	for _, f := range m.Functions {
		walk(f.Body)
	}
	for _, g := range m.Globals {
		walk(g.Init)
	}
	return walkErr
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool)
	check := func(names []string) error {
		for _, name := range names {
			if seen[name] {
				return fmt.Errorf("duplicate export name %q", name)
			}
			seen[name] = true
		}
		return nil
	}
	for _, f := range m.Functions {
		if err := check(f.Export); err != nil {
			return err
		}
	}
	for _, t := range m.Tables {
		if err := check(t.Export); err != nil {
			return err
		}
	}
	for _, mem := range m.Memories {
		if err := check(mem.Export); err != nil {
			return err
		}
	}
	for _, g := range m.Globals {
		if err := check(g.Export); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	f := m.Func(*m.Start)
	if f == nil {
		return fmt.Errorf("start function %d does not exist", *m.Start)
	}
	if len(f.Type.Params) != 0 || len(f.Type.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(f.Type.Params), len(f.Type.Results))
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	for i, mem := range m.Memories {
		if err := validateMemoryType(&mem.Type, i, mem.Import != nil); err != nil {
			return err
		}
	}
	return nil
}

func validateMemoryType(mt *MemoryType, idx int, isImport bool) error {
	prefix := "memory"
	if isImport {
		prefix = "imported memory"
	}
	if mt.Limits.Min > MemoryMaxPages {
		return fmt.Errorf("%s %d: min pages %d exceeds maximum %d", prefix, idx, mt.Limits.Min, MemoryMaxPages)
	}
	if mt.Limits.Max != nil && *mt.Limits.Max > MemoryMaxPages {
		return fmt.Errorf("%s %d: max pages %d exceeds maximum %d", prefix, idx, *mt.Limits.Max, MemoryMaxPages)
	}
	return nil
}
