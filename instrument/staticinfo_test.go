package instrument_test

import (
	"encoding/json"
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
	"github.com/wasabi-go/wasabi/wasm"
)

func TestNewStaticInfoPresizesFunctionsAndCopiesStart(t *testing.T) {
	start := uint32(2)
	module := &wasm.Module{
		Functions: []*wasm.Function{{}, {}, {}},
		Globals:   []*wasm.Global{{Type: wasm.GlobalType{Type: wasm.ValI32}}},
		Start:     &start,
	}
	si := instrument.NewStaticInfo(module)

	if len(si.Functions) != 3 {
		t.Fatalf("got %d preallocated function slots, want 3", len(si.Functions))
	}
	if len(si.Globals) != 1 {
		t.Fatalf("got %d globals, want 1", len(si.Globals))
	}
	if si.Start == nil || *si.Start != 2 {
		t.Fatalf("expected Start to be copied as 2, got %v", si.Start)
	}
	if si.TableExportName != instrument.TableExportName {
		t.Fatalf("got TableExportName %q, want %q", si.TableExportName, instrument.TableExportName)
	}
}

func TestStaticInfoAddBrTableReturnsIndex(t *testing.T) {
	si := instrument.NewStaticInfo(&wasm.Module{})
	first := si.AddBrTable(instrument.BrTableDescriptor{})
	second := si.AddBrTable(instrument.BrTableDescriptor{})
	if first != 0 || second != 1 {
		t.Fatalf("got indices %d, %d, want 0, 1", first, second)
	}
}

func TestStaticInfoMarshalsFunctionSlots(t *testing.T) {
	module := &wasm.Module{Functions: []*wasm.Function{{}}}
	si := instrument.NewStaticInfo(module)
	si.SetFunction(0, instrument.FunctionInfo{
		Type:       wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}},
		Locals:     []wasm.ValType{wasm.ValF64},
		InstrCount: 5,
	})

	data, err := json.Marshal(si)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded struct {
		Functions []struct {
			InstrCount int `json:"instrCount"`
		} `json:"functions"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded.Functions) != 1 || decoded.Functions[0].InstrCount != 5 {
		t.Fatalf("got %+v, want one function with instrCount 5", decoded.Functions)
	}
}
