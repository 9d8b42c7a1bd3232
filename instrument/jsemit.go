package instrument

import (
	"encoding/json"
	"fmt"
	"strings"
)

// longHelperJS is a minimal 64-bit integer helper good enough for carrying
// a split i64 across the hook boundary and handing it back to analysis
// code; it is not a full bignum library, since JS numbers already
// losslessly cover everything analyses realistically need out of a
// function index, counter, or memory offset.
const longHelperJS = `function Long(low, high) {
  this.low = low | 0;
  this.high = high | 0;
}
Long.prototype.toString = function () {
  return (BigInt(this.high) << 32n | (BigInt(this.low) & 0xffffffffn)).toString();
};
`

// runtimePlaceholderJS stubs the high-level Wasabi.analysis dispatch table
// so the emitted file runs standalone; a real analysis overwrites
// Wasabi.analysis with its own hook implementations before instantiating
// the module.
const runtimePlaceholderJS = `var Wasabi = Wasabi || {};
Wasabi.analysis = Wasabi.analysis || {};
Wasabi.module = Wasabi.module || {};
`

// EmitJS assembles the companion JavaScript file for an instrumented
// module: the Long helper, the runtime placeholder, the low-level hook
// import object the Wasm module's imports resolve against
// (Wasabi.module.lowlevelHooks), and the static info object consumed by
// analyses to map instruction locations back to source structure.
func EmitJS(info *StaticInfo, cat *HookCatalogue, nodeExports bool) (string, error) {
	var b strings.Builder

	b.WriteString(longHelperJS)
	b.WriteString("\n")
	b.WriteString(runtimePlaceholderJS)
	b.WriteString("\n")

	infoJSON, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("instrument: marshal static info: %w", err)
	}
	b.WriteString("Wasabi.module.info = ")
	b.Write(infoJSON)
	b.WriteString(";\n\n")

	b.WriteString(fmt.Sprintf("Wasabi.module.lowlevelHookModule = %q;\n\n", HooksModuleName))

	b.WriteString("Wasabi.module.lowlevelHooks = {\n")
	specs := cat.Specs()
	for i, spec := range specs {
		b.WriteString("  ")
		b.WriteString(spec.JSShim)
		if i != len(specs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("};\n")

	if nodeExports {
		b.WriteString("\nif (typeof module !== 'undefined' && module.exports) {\n")
		b.WriteString("  module.exports = Wasabi;\n")
		b.WriteString("}\n")
	}

	return b.String(), nil
}
