package instrument_test

import (
	"testing"

	"github.com/wasabi-go/wasabi/instrument"
)

func TestValidateWithWazeroRejectsGarbage(t *testing.T) {
	if err := instrument.ValidateWithWazero([]byte("not a wasm module")); err == nil {
		t.Fatal("expected an error validating non-Wasm bytes")
	}
}

func TestValidateWithWazeroAcceptsEmptyModule(t *testing.T) {
	// The minimal valid Wasm module: magic number + version, no sections.
	emptyModule := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if err := instrument.ValidateWithWazero(emptyModule); err != nil {
		t.Fatalf("expected the empty module to compile cleanly, got: %v", err)
	}
}
