package wasm

import (
	"bytes"
	"fmt"

	"github.com/wasabi-go/wasabi/wasm/internal/binary"
)

const (
	nameSubsectionModule   byte = 0
	nameSubsectionFunction byte = 1
	nameSubsectionLocal    byte = 2
)

// parseNameSection decodes the custom "name" section's function-name and
// local-name subsections, attaching them directly to the Function/Local
// AST nodes rather than keeping a separate name table. A malformed
// subsection is recorded as a warning and skipped; it never aborts the
// surrounding module parse, since names are debugging metadata only.
func (d *decoder) parseNameSection(data []byte) {
	r := binary.NewReader(bytes.NewReader(data))
	for {
		id, err := r.ReadByte()
		if err != nil {
			return // clean EOF: done
		}
		size, err := r.ReadU32()
		if err != nil {
			d.warnf("name section: truncated subsection header")
			return
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			d.warnf("name section: subsection %d truncated", id)
			return
		}
		sr := binary.NewReader(bytes.NewReader(payload))
		switch id {
		case nameSubsectionFunction:
			if err := d.parseFunctionNames(sr); err != nil {
				d.warnf("name section: malformed function name subsection: %v", err)
			}
		case nameSubsectionLocal:
			if err := d.parseLocalNames(sr); err != nil {
				d.warnf("name section: malformed local name subsection: %v", err)
			}
		default:
			// Module-name and vendor subsections are not modeled; skip.
		}
	}
}

func (d *decoder) parseFunctionNames(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if f := d.m.Func(idx); f != nil {
			f.Name = name
		}
	}
	return nil
}

func (d *decoder) parseLocalNames(r *binary.Reader) error {
	funcCount, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < funcCount; i++ {
		funcIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		localCount, err := r.ReadU32()
		if err != nil {
			return err
		}
		f := d.m.Func(funcIdx)
		for j := uint32(0); j < localCount; j++ {
			localIdx, err := r.ReadU32()
			if err != nil {
				return err
			}
			name, err := r.ReadName()
			if err != nil {
				return err
			}
			if f == nil {
				continue
			}
			n := uint32(len(f.Type.Params))
			if localIdx < n {
				continue // parameter names aren't modeled on Local
			}
			li := localIdx - n
			if int(li) < len(f.Locals) {
				f.Locals[li].Name = name
			}
		}
	}
	return nil
}

func (d *decoder) warnf(format string, args ...any) {
	d.m.Warnings = append(d.m.Warnings, fmt.Sprintf(format, args...))
}
