package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wasabi-go/wasabi/instrument"
	"github.com/wasabi-go/wasabi/wasm"
)

func main() {
	var (
		wasmFile     = flag.String("wasm", "", "Path to input .wasm file")
		outDir       = flag.String("out", "", "Output directory (default: alongside input)")
		target       = flag.String("target", "browser", "Output target for the companion JS: browser|node")
		hooks        = flag.String("hooks", "all", "Comma-separated hook kinds to instrument, or \"all\"")
		excludeHooks = flag.String("exclude-hooks", "", "Comma-separated hook kinds to instrument everything except (mutually exclusive with -hooks)")
		validate     = flag.Bool("validate", true, "Validate the instrumented module with wazero before writing it out")
		debug        = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasabi -wasm <file.wasm> [-out dir] [-target browser|node] [-hooks all|nop,br,...] [-exclude-hooks nop,br,...]")
		os.Exit(1)
	}

	if *debug {
		l, err := zap.NewDevelopment()
		if err == nil {
			instrument.SetLogger(l)
			instrument.SetDebug(true)
		}
	}

	if err := run(*wasmFile, *outDir, *target, *hooks, *excludeHooks, *validate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, outDir, target, hooksFlag, excludeHooksFlag string, doValidate bool) error {
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	module, err := wasm.ParseModule(data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := module.Validate(); err != nil {
		return fmt.Errorf("validate input module: %w", err)
	}
	for _, w := range module.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	hookSet, err := resolveHooks(hooksFlag, excludeHooksFlag)
	if err != nil {
		return err
	}

	nodeExports := target == "node"
	if target != "browser" && target != "node" {
		return fmt.Errorf("unknown target %q (want browser or node)", target)
	}

	result, err := instrument.Instrument(module, instrument.Options{
		Hooks:       hookSet,
		NodeExports: nodeExports,
	})
	if err != nil {
		return fmt.Errorf("instrument: %w", err)
	}

	out, err := result.Module.Encode()
	if err != nil {
		return fmt.Errorf("encode instrumented module: %w", err)
	}

	if doValidate {
		if err := instrument.ValidateWithWazero(out); err != nil {
			return fmt.Errorf("wazero validation of instrumented module: %w", err)
		}
	}

	base := strings.TrimSuffix(filepath.Base(wasmFile), filepath.Ext(wasmFile))
	dir := outDir
	if dir == "" {
		dir = filepath.Dir(wasmFile)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	wasmOut := filepath.Join(dir, base+".wasabi.wasm")
	jsOut := filepath.Join(dir, base+".wasabi.js")

	if err := os.WriteFile(wasmOut, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", wasmOut, err)
	}
	if err := os.WriteFile(jsOut, []byte(result.JS), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", jsOut, err)
	}

	fmt.Printf("wrote %s\n", wasmOut)
	fmt.Printf("wrote %s\n", jsOut)
	return nil
}

// resolveHooks picks between the two CLI hook-selection modes: -hooks
// ("instrument only these", or "all") and -exclude-hooks ("instrument
// everything except these"). The two are mutually exclusive.
func resolveHooks(hooksFlag, excludeHooksFlag string) (instrument.HookSet, error) {
	if excludeHooksFlag != "" {
		if hooksFlag != "all" {
			return nil, fmt.Errorf("-hooks and -exclude-hooks are mutually exclusive")
		}
		kinds, err := parseHookKinds(excludeHooksFlag)
		if err != nil {
			return nil, err
		}
		return instrument.AllHooksExcept(kinds...), nil
	}
	return parseHooks(hooksFlag)
}

func parseHooks(flagVal string) (instrument.HookSet, error) {
	if flagVal == "all" || flagVal == "" {
		return instrument.AllHooks(), nil
	}
	kinds, err := parseHookKinds(flagVal)
	if err != nil {
		return nil, err
	}
	return instrument.NewHookSet(kinds...), nil
}

// parseHookKinds splits a comma-separated list of hook names and validates
// each against the closed enumeration.
func parseHookKinds(flagVal string) ([]instrument.HookKind, error) {
	var kinds []instrument.HookKind
	known := make(map[instrument.HookKind]bool)
	for k := range instrument.AllHooks() {
		known[k] = true
	}
	for _, name := range strings.Split(flagVal, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		kind := instrument.HookKind(name)
		if !known[kind] {
			return nil, fmt.Errorf("unknown hook kind %q", name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
