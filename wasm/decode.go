package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wasabi-go/wasabi/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module into the merged AST. It
// accepts MVP Wasm 1.0, the sign-extension operators, and the multi-value
// extension to block types; every other post-MVP proposal is detected and
// rejected with a *DecodeError carrying Extension set, rather than decoded.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(bytes.NewReader(data))

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, &DecodeError{Section: "header", Offset: r.Position(), Err: err}
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, &DecodeError{Section: "header", Offset: r.Position(), Err: err}
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	d := &decoder{m: &Module{}}

	var lastOrder int
	for {
		sectionPos := r.Position()
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &DecodeError{Section: "section header", Offset: r.Position(), Err: err}
		}
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if sectionID == 12 || sectionID == 13 {
				// Data count (bulk memory) and tag (exception handling) sections.
				feature := "bulk memory (data count section)"
				if sectionID == 13 {
					feature = "exception handling (tag section)"
				}
				ue := &UnsupportedError{Feature: feature, Position: sectionPos}
				return nil, &DecodeError{Section: sectionName(sectionID), Offset: sectionPos, Extension: feature, Err: ue}
			}
			if order == 0 || order <= lastOrder {
				return nil, &DecodeError{Section: "module", Offset: sectionPos, Err: fmt.Errorf("section id %d out of order", sectionID)}
			}
			lastOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, &DecodeError{Section: "section size", Offset: r.Position(), Err: err}
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, &DecodeError{Section: "section data", Offset: r.Position(), Err: err}
		}
		sr := binary.NewReader(bytes.NewReader(body))

		name := sectionName(sectionID)
		if err := d.parseSection(sectionID, sr); err != nil {
			var ue *UnsupportedError
			if errors.As(err, &ue) {
				return nil, &DecodeError{Section: name, Offset: sectionPos + ue.Position, Extension: ue.Feature, Err: ue}
			}
			return nil, &DecodeError{Section: name, Offset: sectionPos + sr.Position(), Err: err}
		}
	}

	d.resolveExports()
	d.scanExtensions()
	return d.m, nil
}

// scanExtensions records which optional extensions this module actually
// exercises, by looking for type-index block types (the only extension
// this parser permits beyond MVP 1.0 + sign-extension).
func (d *decoder) scanExtensions() {
	mark := func(instrs []Instruction) {
		for _, in := range instrs {
			if b, ok := in.Imm.(BlockImm); ok && b.Type >= 0 {
				d.m.markExtension(ExtMultiValue)
			}
		}
	}
	for _, f := range d.m.Functions {
		mark(f.Body)
	}
	for _, g := range d.m.Globals {
		mark(g.Init)
	}
	for _, t := range d.m.Tables {
		for _, e := range t.Elements {
			mark(e.Offset)
		}
	}
	for _, mem := range d.m.Memories {
		for _, ds := range mem.Data {
			mark(ds.Offset)
		}
	}
}

// decoder accumulates module state across sections that must cross-reference
// each other (exports reference functions/tables/etc. parsed earlier; code
// section bodies attach to functions already created by the function
// section).
type decoder struct {
	m *Module

	// funcTypeIdxs holds the declared type index for each *local* (non-
	// imported) function, in declaration order, used to validate the code
	// section's entry count against the function section's.
	funcTypeIdxs []uint32

	pendingExports []pendingExport
}

type pendingExport struct {
	name string
	kind byte
	idx  uint32
}

func (d *decoder) parseSection(id byte, r *binary.Reader) error {
	switch id {
	case SectionCustom:
		return d.parseCustomSection(r)
	case SectionType:
		return d.parseTypeSection(r)
	case SectionImport:
		return d.parseImportSection(r)
	case SectionFunction:
		return d.parseFunctionSection(r)
	case SectionTable:
		return d.parseTableSection(r)
	case SectionMemory:
		return d.parseMemorySection(r)
	case SectionGlobal:
		return d.parseGlobalSection(r)
	case SectionExport:
		return d.parseExportSection(r)
	case SectionStart:
		return d.parseStartSection(r)
	case SectionElement:
		return d.parseElementSection(r)
	case SectionCode:
		return d.parseCodeSection(r)
	case SectionData:
		return d.parseDataSection(r)
	default:
		return fmt.Errorf("unknown section id 0x%02x", id)
	}
}

func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionCode:
		return 10
	case SectionData:
		return 11
	default:
		return 0
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom section"
	case SectionType:
		return "type section"
	case SectionImport:
		return "import section"
	case SectionFunction:
		return "function section"
	case SectionTable:
		return "table section"
	case SectionMemory:
		return "memory section"
	case SectionGlobal:
		return "global section"
	case SectionExport:
		return "export section"
	case SectionStart:
		return "start section"
	case SectionElement:
		return "element section"
	case SectionCode:
		return "code section"
	case SectionData:
		return "data section"
	default:
		return fmt.Sprintf("section 0x%02x", id)
	}
}

func (d *decoder) parseCustomSection(r *binary.Reader) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	if name == "name" {
		d.parseNameSection(rest)
		return nil
	}
	d.m.CustomSections = append(d.m.CustomSections, CustomSection{Name: name, Data: rest})
	return nil
}

func (d *decoder) parseTypeSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	d.m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		pos := r.Position()
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return &UnsupportedError{Feature: "non-function composite type", Position: pos}
		}
		ft, err := readFuncType(r)
		if err != nil {
			return err
		}
		d.m.Types[i] = ft
	}
	return nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	params, err := readValTypeVec(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypeVec(r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypeVec(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		pos := r.Position()
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		if vt == 0 {
			return nil, &UnsupportedError{Feature: "reference value type", Position: pos}
		}
		out[i] = vt
	}
	return out, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	pos := r.Position()
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64:
		return ValType(b), nil
	case ValFuncRef, ValExtern:
		return 0, &UnsupportedError{Feature: "reference types", Position: pos}
	}
	return 0, &UnsupportedError{Feature: fmt.Sprintf("value type 0x%02x", b), Position: pos}
}

func (d *decoder) parseImportSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mod, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		pos := r.Position()
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := &Import{Module: mod, Name: name}
		switch kind {
		case KindFunc:
			typeIdx, err := r.ReadU32()
			if err != nil {
				return err
			}
			if int(typeIdx) >= len(d.m.Types) {
				return fmt.Errorf("import %q.%q: type index %d out of range", mod, name, typeIdx)
			}
			d.m.Functions = append(d.m.Functions, &Function{Type: d.m.Types[typeIdx], Import: imp})
		case KindTable:
			tt, err := readTableType(r)
			if err != nil {
				return err
			}
			d.m.Tables = append(d.m.Tables, &Table{Type: tt, Import: imp})
		case KindMemory:
			mt, err := readMemoryType(r)
			if err != nil {
				return err
			}
			d.m.Memories = append(d.m.Memories, &Memory{Type: mt, Import: imp})
		case KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			d.m.Globals = append(d.m.Globals, &Global{Type: gt, Import: imp})
		default:
			return &UnsupportedError{Feature: fmt.Sprintf("import kind 0x%02x", kind), Position: pos}
		}
	}
	return nil
}

func (d *decoder) parseFunctionSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	d.funcTypeIdxs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if int(typeIdx) >= len(d.m.Types) {
			return fmt.Errorf("function #%d: type index %d out of range", i, typeIdx)
		}
		d.funcTypeIdxs[i] = typeIdx
		d.m.Functions = append(d.m.Functions, &Function{Type: d.m.Types[typeIdx]})
	}
	return nil
}

func (d *decoder) parseTableSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tt, err := readTableType(r)
		if err != nil {
			return err
		}
		d.m.Tables = append(d.m.Tables, &Table{Type: tt})
	}
	return nil
}

func (d *decoder) parseMemorySection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mt, err := readMemoryType(r)
		if err != nil {
			return err
		}
		d.m.Memories = append(d.m.Memories, &Memory{Type: mt})
	}
	return nil
}

func (d *decoder) parseGlobalSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := DecodeInstructions(r)
		if err != nil {
			return err
		}
		d.m.Globals = append(d.m.Globals, &Global{Type: gt, Init: init})
	}
	return nil
}

func (d *decoder) parseExportSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("duplicate export name %q", name)
		}
		seen[name] = true
		pos := r.Position()
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return &UnsupportedError{Feature: fmt.Sprintf("export kind 0x%02x", kind), Position: pos}
		}
		d.pendingExports = append(d.pendingExports, pendingExport{name: name, kind: kind, idx: idx})
	}
	return nil
}

// resolveExports attaches pending exports once the whole index space for
// their kind is known. Exports can legally precede the code section that
// still needs to fill in function bodies, so this only needs to run after
// the full section loop in ParseModule.
func (d *decoder) resolveExports() {
	for _, pe := range d.pendingExports {
		switch pe.kind {
		case KindFunc:
			if f := d.m.Func(pe.idx); f != nil {
				f.Export = append(f.Export, pe.name)
			}
		case KindTable:
			if int(pe.idx) < len(d.m.Tables) {
				d.m.Tables[pe.idx].Export = append(d.m.Tables[pe.idx].Export, pe.name)
			}
		case KindMemory:
			if int(pe.idx) < len(d.m.Memories) {
				d.m.Memories[pe.idx].Export = append(d.m.Memories[pe.idx].Export, pe.name)
			}
		case KindGlobal:
			if int(pe.idx) < len(d.m.Globals) {
				d.m.Globals[pe.idx].Export = append(d.m.Globals[pe.idx].Export, pe.name)
			}
		}
	}
}

func (d *decoder) parseStartSection(r *binary.Reader) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	d.m.Start = &idx
	return nil
}

func (d *decoder) parseElementSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		pos := r.Position()
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return &UnsupportedError{Feature: "passive or declarative element segment", Position: pos}
		}
		offset, err := DecodeInstructions(r)
		if err != nil {
			return err
		}
		vecCount, err := r.ReadU32()
		if err != nil {
			return err
		}
		idxs := make([]uint32, vecCount)
		for j := range idxs {
			idxs[j], err = r.ReadU32()
			if err != nil {
				return err
			}
		}
		if int(0) >= len(d.m.Tables) {
			return fmt.Errorf("element segment #%d: no table 0 declared", i)
		}
		d.m.Tables[0].Elements = append(d.m.Tables[0].Elements, Element{TableIdx: 0, Offset: offset, FuncIdxs: idxs})
	}
	return nil
}

// parseCodeSection reads the size-prefixed raw bytes of every function body
// sequentially (the section is a single stream, so the framing itself can't
// be parallelized) and then decodes each self-contained body concurrently,
// one goroutine per function, reattaching results in deterministic order
// by index.
func (d *decoder) parseCodeSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) != len(d.funcTypeIdxs) {
		return fmt.Errorf("code section has %d entries, function section declared %d", count, len(d.funcTypeIdxs))
	}
	numImported := d.m.NumImportedFuncs()

	bodies := make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		bodies[i] = body
	}

	type decoded struct {
		locals []Local
		instrs []Instruction
		err    error
	}
	results := make([]decoded, count)
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int, body []byte) {
			defer wg.Done()
			br := binary.NewReader(bytes.NewReader(body))

			localCount, err := br.ReadU32()
			if err != nil {
				results[i] = decoded{err: err}
				return
			}
			var locals []Local
			for j := uint32(0); j < localCount; j++ {
				n, err := br.ReadU32()
				if err != nil {
					results[i] = decoded{err: err}
					return
				}
				vt, err := readValType(br)
				if err != nil {
					results[i] = decoded{err: err}
					return
				}
				for k := uint32(0); k < n; k++ {
					locals = append(locals, Local{Type: vt})
				}
			}
			instrs, err := DecodeInstructions(br)
			if err != nil {
				results[i] = decoded{err: err}
				return
			}
			results[i] = decoded{locals: locals, instrs: instrs}
		}(i, bodies[i])
	}
	wg.Wait()

	for i, res := range results {
		if res.err != nil {
			return res.err
		}
		f := d.m.Functions[numImported+i]
		f.Locals = res.locals
		f.Body = res.instrs
	}
	return nil
}

func (d *decoder) parseDataSection(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		pos := r.Position()
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return &UnsupportedError{Feature: "passive data segment", Position: pos}
		}
		offset, err := DecodeInstructions(r)
		if err != nil {
			return err
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		init, err := r.ReadBytes(int(n))
		if err != nil {
			return err
		}
		if len(d.m.Memories) == 0 {
			return fmt.Errorf("data segment #%d: no memory 0 declared", i)
		}
		d.m.Memories[0].Data = append(d.m.Memories[0].Data, DataSegment{MemIdx: 0, Offset: offset, Init: init})
	}
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags != LimitsNoMax && flags != LimitsHasMax {
		return Limits{}, &UnsupportedError{Feature: "shared or 64-bit memory limits", Position: r.Position() - 1}
	}
	min, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: min}
	if flags == LimitsHasMax {
		max, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		if min > max {
			return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", min, max)
		}
		l.Max = &max
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	pos := r.Position()
	elemType, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if ValType(elemType) != ValFuncRef {
		return TableType{}, &UnsupportedError{Feature: "non-funcref table element type", Position: pos}
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	if limits.Min > MemoryMaxPages || (limits.Max != nil && *limits.Max > MemoryMaxPages) {
		return MemoryType{}, fmt.Errorf("memory limits exceed %d pages", MemoryMaxPages)
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{Type: vt, Mutable: mut != 0}, nil
}
