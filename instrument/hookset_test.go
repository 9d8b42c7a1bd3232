package instrument_test

import (
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
)

func TestAllHooksEnablesEveryKind(t *testing.T) {
	hs := instrument.AllHooks()
	for _, kind := range []instrument.HookKind{
		instrument.HookStart, instrument.HookNop, instrument.HookBrTable,
		instrument.HookSelect, instrument.HookLoad, instrument.HookGlobal,
	} {
		if !hs.Has(kind) {
			t.Fatalf("AllHooks() should enable %q", kind)
		}
	}
}

func TestNewHookSetEnablesOnlyGivenKinds(t *testing.T) {
	hs := instrument.NewHookSet(instrument.HookCall, instrument.HookReturn)
	if !hs.Has(instrument.HookCall) || !hs.Has(instrument.HookReturn) {
		t.Fatal("expected both requested kinds to be enabled")
	}
	if hs.Has(instrument.HookBr) {
		t.Fatal("expected an unrequested kind to be disabled")
	}
}

func TestAllHooksExceptEnablesEverythingButGiven(t *testing.T) {
	hs := instrument.AllHooksExcept(instrument.HookBr, instrument.HookBrIf)
	if hs.Has(instrument.HookBr) || hs.Has(instrument.HookBrIf) {
		t.Fatal("excluded kinds should be disabled")
	}
	for _, kind := range []instrument.HookKind{
		instrument.HookStart, instrument.HookCall, instrument.HookGlobal,
	} {
		if !hs.Has(kind) {
			t.Fatalf("AllHooksExcept should leave %q enabled", kind)
		}
	}
	if len(hs) != len(instrument.AllHooks())-2 {
		t.Fatalf("expected all-but-2 kinds enabled, got %d", len(hs))
	}
}

func TestAllHooksExceptNoArgsEqualsAllHooks(t *testing.T) {
	if len(instrument.AllHooksExcept()) != len(instrument.AllHooks()) {
		t.Fatal("AllHooksExcept() with no exclusions should enable everything")
	}
}

func TestHookSetEmptyAndNilHaveNothingEnabled(t *testing.T) {
	var nilSet instrument.HookSet
	if !nilSet.Empty() || nilSet.Has(instrument.HookNop) {
		t.Fatal("a nil HookSet should be empty and have nothing enabled")
	}

	empty := instrument.NewHookSet()
	if !empty.Empty() {
		t.Fatal("NewHookSet() with no kinds should be Empty()")
	}
}
