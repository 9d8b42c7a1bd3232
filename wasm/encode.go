package wasm

import (
	"sync"

	"github.com/wasabi-go/wasabi/wasm/internal/binary"
)

// Encode serializes the module back to the Wasm binary format.
func (m *Module) Encode() ([]byte, error) {
	m.internFunctionTypes()

	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if err := m.encodeTypeSection(w); err != nil {
		return nil, err
	}
	if err := m.encodeImportSection(w); err != nil {
		return nil, err
	}
	if err := m.encodeFunctionSection(w); err != nil {
		return nil, err
	}
	if err := m.encodeTableSection(w); err != nil {
		return nil, err
	}
	if err := m.encodeMemorySection(w); err != nil {
		return nil, err
	}
	if err := m.encodeGlobalSection(w); err != nil {
		return nil, err
	}
	if err := m.encodeExportSection(w); err != nil {
		return nil, err
	}
	m.encodeStartSection(w)
	if err := m.encodeElementSection(w); err != nil {
		return nil, err
	}
	if err := m.encodeCodeSection(w); err != nil {
		return nil, err
	}
	if err := m.encodeDataSection(w); err != nil {
		return nil, err
	}
	m.encodeNameSection(w)
	for _, cs := range m.CustomSections {
		name, data := cs.Name, cs.Data
		writeSection(w, SectionCustom, func(sw *binary.Writer) {
			sw.WriteName(name)
			sw.WriteBytes(data)
		})
	}
	return w.Bytes(), nil
}

// writeSection writes a section as id, u32 byte-length, body.
func writeSection(w *binary.Writer, id byte, body func(*binary.Writer)) {
	sw := binary.NewWriter()
	body(sw)
	w.Byte(id)
	w.WriteU32(uint32(sw.Len()))
	w.WriteBytes(sw.Bytes())
}

func writeValType(w *binary.Writer, vt ValType) { w.Byte(byte(vt)) }

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(LimitsHasMax)
		w.WriteU32(l.Min)
		w.WriteU32(*l.Max)
	} else {
		w.Byte(LimitsNoMax)
		w.WriteU32(l.Min)
	}
}

func (m *Module) encodeTypeSection(w *binary.Writer) error {
	if len(m.Types) == 0 {
		return nil
	}
	writeSection(w, SectionType, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sw.Byte(FuncTypeByte)
			sw.WriteU32(uint32(len(ft.Params)))
			for _, p := range ft.Params {
				writeValType(sw, p)
			}
			sw.WriteU32(uint32(len(ft.Results)))
			for _, r := range ft.Results {
				writeValType(sw, r)
			}
		}
	})
	return nil
}

func (m *Module) encodeImportSection(w *binary.Writer) error {
	type entry struct {
		mod, name string
		kind      byte
		write     func(*binary.Writer)
	}
	var entries []entry
	for _, f := range m.Functions {
		if f.Import == nil {
			continue
		}
		typeIdx := m.AddType(f.Type)
		entries = append(entries, entry{f.Import.Module, f.Import.Name, KindFunc, func(sw *binary.Writer) { sw.WriteU32(typeIdx) }})
	}
	for _, t := range m.Tables {
		if t.Import == nil {
			continue
		}
		tt := t.Type
		entries = append(entries, entry{t.Import.Module, t.Import.Name, KindTable, func(sw *binary.Writer) {
			sw.Byte(byte(ValFuncRef))
			writeLimits(sw, tt.Limits)
		}})
	}
	for _, mem := range m.Memories {
		if mem.Import == nil {
			continue
		}
		mt := mem.Type
		entries = append(entries, entry{mem.Import.Module, mem.Import.Name, KindMemory, func(sw *binary.Writer) { writeLimits(sw, mt.Limits) }})
	}
	for _, g := range m.Globals {
		if g.Import == nil {
			continue
		}
		gt := g.Type
		entries = append(entries, entry{g.Import.Module, g.Import.Name, KindGlobal, func(sw *binary.Writer) {
			writeValType(sw, gt.Type)
			if gt.Mutable {
				sw.Byte(1)
			} else {
				sw.Byte(0)
			}
		}})
	}
	if len(entries) == 0 {
		return nil
	}
	writeSection(w, SectionImport, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(entries)))
		for _, e := range entries {
			sw.WriteName(e.mod)
			sw.WriteName(e.name)
			sw.Byte(e.kind)
			e.write(sw)
		}
	})
	return nil
}

// internFunctionTypes ensures every function's signature is present in
// m.Types before the type section is serialized. Functions built up
// in-memory (as opposed to parsed from a binary, which already populates
// Types directly) only carry their FuncType inline; AddType is idempotent,
// so re-running this over an already-parsed module is a no-op.
func (m *Module) internFunctionTypes() {
	for _, f := range m.Functions {
		m.AddType(f.Type)
	}
}

func (m *Module) localFunctions() []*Function {
	var out []*Function
	for _, f := range m.Functions {
		if !f.IsImported() {
			out = append(out, f)
		}
	}
	return out
}

func (m *Module) encodeFunctionSection(w *binary.Writer) error {
	locals := m.localFunctions()
	if len(locals) == 0 {
		return nil
	}
	writeSection(w, SectionFunction, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(locals)))
		for _, f := range locals {
			sw.WriteU32(m.AddType(f.Type))
		}
	})
	return nil
}

func (m *Module) encodeTableSection(w *binary.Writer) error {
	var locals []*Table
	for _, t := range m.Tables {
		if t.Import == nil {
			locals = append(locals, t)
		}
	}
	if len(locals) == 0 {
		return nil
	}
	writeSection(w, SectionTable, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(locals)))
		for _, t := range locals {
			sw.Byte(byte(ValFuncRef))
			writeLimits(sw, t.Type.Limits)
		}
	})
	return nil
}

func (m *Module) encodeMemorySection(w *binary.Writer) error {
	var locals []*Memory
	for _, mem := range m.Memories {
		if mem.Import == nil {
			locals = append(locals, mem)
		}
	}
	if len(locals) == 0 {
		return nil
	}
	writeSection(w, SectionMemory, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(locals)))
		for _, mem := range locals {
			writeLimits(sw, mem.Type.Limits)
		}
	})
	return nil
}

func (m *Module) encodeGlobalSection(w *binary.Writer) error {
	var locals []*Global
	for _, g := range m.Globals {
		if g.Import == nil {
			locals = append(locals, g)
		}
	}
	if len(locals) == 0 {
		return nil
	}
	var encErr error
	writeSection(w, SectionGlobal, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(locals)))
		for i, g := range locals {
			writeValType(sw, g.Type.Type)
			if g.Type.Mutable {
				sw.Byte(1)
			} else {
				sw.Byte(0)
			}
			if err := EncodeInstructions(sw, g.Init); err != nil && encErr == nil {
				encErr = &EncodeError{Component: "global init", Index: i, Err: err}
			}
		}
	})
	return encErr
}

func (m *Module) encodeExportSection(w *binary.Writer) error {
	type entry struct {
		name string
		kind byte
		idx  uint32
	}
	var entries []entry
	for i, f := range m.Functions {
		for _, name := range f.Export {
			entries = append(entries, entry{name, KindFunc, uint32(i)})
		}
	}
	for i, t := range m.Tables {
		for _, name := range t.Export {
			entries = append(entries, entry{name, KindTable, uint32(i)})
		}
	}
	for i, mem := range m.Memories {
		for _, name := range mem.Export {
			entries = append(entries, entry{name, KindMemory, uint32(i)})
		}
	}
	for i, g := range m.Globals {
		for _, name := range g.Export {
			entries = append(entries, entry{name, KindGlobal, uint32(i)})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	writeSection(w, SectionExport, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(entries)))
		for _, e := range entries {
			sw.WriteName(e.name)
			sw.Byte(e.kind)
			sw.WriteU32(e.idx)
		}
	})
	return nil
}

func (m *Module) encodeStartSection(w *binary.Writer) {
	if m.Start == nil {
		return
	}
	start := *m.Start
	writeSection(w, SectionStart, func(sw *binary.Writer) { sw.WriteU32(start) })
}

func (m *Module) encodeElementSection(w *binary.Writer) error {
	var segs []Element
	for _, t := range m.Tables {
		segs = append(segs, t.Elements...)
	}
	if len(segs) == 0 {
		return nil
	}
	var encErr error
	writeSection(w, SectionElement, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(segs)))
		for i, e := range segs {
			sw.WriteU32(0) // flags: active, table 0
			if err := EncodeInstructions(sw, e.Offset); err != nil && encErr == nil {
				encErr = &EncodeError{Component: "element offset", Index: i, Err: err}
			}
			sw.WriteU32(uint32(len(e.FuncIdxs)))
			for _, idx := range e.FuncIdxs {
				sw.WriteU32(idx)
			}
		}
	})
	return encErr
}

// encodeCodeSection encodes every local function body concurrently, one
// goroutine per function, then writes the resulting blocks out sequentially
// in index order so the section stays byte-deterministic regardless of
// goroutine scheduling.
func (m *Module) encodeCodeSection(w *binary.Writer) error {
	locals := m.localFunctions()
	if len(locals) == 0 {
		return nil
	}

	blocks := make([][]byte, len(locals))
	errs := make([]error, len(locals))
	var wg sync.WaitGroup
	for i, f := range locals {
		wg.Add(1)
		go func(i int, f *Function) {
			defer wg.Done()
			body := binary.NewWriter()
			runs := runLengthLocals(f.Locals)
			body.WriteU32(uint32(len(runs)))
			for _, run := range runs {
				body.WriteU32(run.count)
				writeValType(body, run.typ)
			}
			if err := EncodeInstructions(body, f.Body); err != nil {
				errs[i] = &EncodeError{Component: "function body", Index: i, Err: err}
				return
			}
			blocks[i] = body.Bytes()
		}(i, f)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	writeSection(w, SectionCode, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(blocks)))
		for _, b := range blocks {
			sw.WriteU32(uint32(len(b)))
			sw.WriteBytes(b)
		}
	})
	return nil
}

type localRun struct {
	count uint32
	typ   ValType
}

func runLengthLocals(locals []Local) []localRun {
	var runs []localRun
	for _, l := range locals {
		if len(runs) > 0 && runs[len(runs)-1].typ == l.Type {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, localRun{count: 1, typ: l.Type})
	}
	return runs
}

func (m *Module) encodeDataSection(w *binary.Writer) error {
	var segs []DataSegment
	for _, mem := range m.Memories {
		segs = append(segs, mem.Data...)
	}
	if len(segs) == 0 {
		return nil
	}
	var encErr error
	writeSection(w, SectionData, func(sw *binary.Writer) {
		sw.WriteU32(uint32(len(segs)))
		for i, d := range segs {
			sw.WriteU32(0) // flags: active, memory 0
			if err := EncodeInstructions(sw, d.Offset); err != nil && encErr == nil {
				encErr = &EncodeError{Component: "data offset", Index: i, Err: err}
			}
			sw.WriteU32(uint32(len(d.Init)))
			sw.WriteBytes(d.Init)
		}
	})
	return encErr
}

// encodeNameSection re-emits function and local names gathered at parse
// time (plus any assigned by instrumentation) so tools and stack traces
// downstream keep readable names.
func (m *Module) encodeNameSection(w *binary.Writer) {
	type namedFunc struct {
		idx  uint32
		name string
	}
	var funcEntries []namedFunc
	for i, f := range m.Functions {
		if f.Name != "" {
			funcEntries = append(funcEntries, namedFunc{uint32(i), f.Name})
		}
	}
	var funcsWithLocalNames []int
	for i, f := range m.Functions {
		for _, l := range f.Locals {
			if l.Name != "" {
				funcsWithLocalNames = append(funcsWithLocalNames, i)
				break
			}
		}
	}
	if len(funcEntries) == 0 && len(funcsWithLocalNames) == 0 {
		return
	}
	writeSection(w, SectionCustom, func(sw *binary.Writer) {
		sw.WriteName("name")
		if len(funcEntries) > 0 {
			sub := binary.NewWriter()
			sub.WriteU32(uint32(len(funcEntries)))
			for _, e := range funcEntries {
				sub.WriteU32(e.idx)
				sub.WriteName(e.name)
			}
			sw.Byte(nameSubsectionFunction)
			sw.WriteU32(uint32(sub.Len()))
			sw.WriteBytes(sub.Bytes())
		}
		if len(funcsWithLocalNames) > 0 {
			sub := binary.NewWriter()
			sub.WriteU32(uint32(len(funcsWithLocalNames)))
			for _, fi := range funcsWithLocalNames {
				f := m.Functions[fi]
				sub.WriteU32(uint32(fi))
				n := uint32(len(f.Type.Params))
				var named []namedFunc
				for li, l := range f.Locals {
					if l.Name != "" {
						named = append(named, namedFunc{n + uint32(li), l.Name})
					}
				}
				sub.WriteU32(uint32(len(named)))
				for _, ln := range named {
					sub.WriteU32(ln.idx)
					sub.WriteName(ln.name)
				}
			}
			sw.Byte(nameSubsectionLocal)
			sw.WriteU32(uint32(sub.Len()))
			sw.WriteBytes(sub.Bytes())
		}
	})
}
