// Package shimport generates import shims for POSIX shared libraries:
// a table of resolution slots with one trampoline stub per exported
// function, plus the runtime resolver that fills the table through the
// dynamic loader. Consumers link the generated pair instead of the
// library itself, deferring (or customizing) the real load.
package shimport

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/apex/log"

	"github.com/shimport/shimport/arch"
	"github.com/shimport/shimport/elfsym"
	"github.com/shimport/shimport/emit"
	"github.com/shimport/shimport/vtable"
)

// Options drive one generation run. The zero value is not useful; use
// DefaultOptions.
type Options struct {
	// Library is the shared object to wrap, or a .def file listing
	// exports for a library that is not at hand.
	Library string
	// Target selects the instruction-set model; empty means the host.
	Target string
	// Outdir receives the generated pair (created if missing).
	Outdir string
	// Suffix overrides the output file stem and symbol tag (default:
	// library basename).
	Suffix string
	// LoadName overrides the name the resolver passes to dlopen
	// (default: the library's SONAME).
	LoadName string
	// SymbolList restricts generation to the named functions.
	SymbolList []string
	// SymbolPrefix is prepended to every generated stub symbol.
	SymbolPrefix string

	Dlopen         bool
	DlopenCallback string
	DlsymCallback  string
	Lazy           bool
	ThreadSafe     bool
	ExportShims    bool
	HiddenShims    bool
	NoWeak         bool
	Vtables        bool
}

// DefaultOptions mirrors the command-line defaults: direct dlopen,
// lazy per-symbol resolution, thread-safe library open.
func DefaultOptions() Options {
	return Options{Dlopen: true, Lazy: true, ThreadSafe: true, Outdir: "."}
}

// Result reports what a generation run produced.
type Result struct {
	TrampPath string
	InitPath  string
	LoadName  string
	Tag       string
	// Symbols are the functions that received stubs, in slot order.
	Symbols []elfsym.Symbol
}

// Generate extracts the library's exported functions and writes the
// trampoline assembly and resolver C modules. Generation is
// all-or-nothing: on error no artifact is left behind.
func Generate(opts Options) (*Result, error) {
	model, err := arch.Lookup(targetOrHost(opts.Target))
	if err != nil {
		return nil, err
	}

	binary, err := isELF(opts.Library)
	if err != nil {
		return nil, &elfsym.ExtractionError{Path: opts.Library, Err: err}
	}

	var lib *elfsym.Library
	if binary {
		lib, err = elfsym.Extract(opts.Library, elfsym.Options{WithData: true, NoWeak: opts.NoWeak})
	} else if strings.HasSuffix(opts.Library, ".def") {
		lib, err = elfsym.ExtractDef(opts.Library)
	} else {
		err = &elfsym.ExtractionError{Path: opts.Library, Err: errors.New("not an ELF shared library or .def file")}
	}
	if err != nil {
		return nil, err
	}

	if opts.Vtables && !binary {
		return nil, &emit.ConfigError{Reason: "vtables are not supported for .def files"}
	}

	funcs := selectFunctions(lib, opts)

	stem := filepath.Base(opts.Library)
	if !binary {
		stem = strings.TrimSuffix(stem, ".def")
	}
	suffix := opts.Suffix
	if suffix == "" {
		suffix = stem
	}

	loadName := opts.LoadName
	if loadName == "" {
		loadName = lib.SOName
	}

	cfg := emit.Config{
		Tag:            emit.Sanitize(suffix),
		LoadName:       loadName,
		SymbolPrefix:   opts.SymbolPrefix,
		Dlopen:         opts.Dlopen,
		DlopenCallback: opts.DlopenCallback,
		DlsymCallback:  opts.DlsymCallback,
		Lazy:           opts.Lazy,
		ThreadSafe:     opts.ThreadSafe,
		ExportShims:    opts.ExportShims,
		HiddenShims:    opts.HiddenShims,
	}

	trampS, initC, err := emit.Shim(model, funcs, cfg)
	if err != nil {
		return nil, err
	}

	if opts.Vtables {
		vt, err := vtable.Generate(opts.Library, lib.Symbols, model, vtable.Itanium{})
		if err != nil {
			if errors.Is(err, vtable.ErrNoClasses) {
				return nil, &emit.ConfigError{Reason: "vtable interposition requested but library exports no class tables"}
			}
			return nil, err
		}
		initC = append(initC, vt...)
	}

	res := &Result{
		TrampPath: filepath.Join(opts.Outdir, suffix+".tramp.S"),
		InitPath:  filepath.Join(opts.Outdir, suffix+".init.c"),
		LoadName:  loadName,
		Tag:       cfg.Tag,
		Symbols:   funcs,
	}

	if err := os.MkdirAll(opts.Outdir, 0o755); err != nil {
		return nil, fmt.Errorf("shimport: create output directory: %w", err)
	}
	log.Infof("generating %s", res.TrampPath)
	log.Infof("generating %s", res.InitPath)
	if err := writeAtomically(map[string][]byte{
		res.TrampPath: trampS,
		res.InitPath:  initC,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// selectFunctions narrows the extracted symbols down to the functions
// that receive stubs, warning about everything left behind.
func selectFunctions(lib *elfsym.Library, opts Options) []elfsym.Symbol {
	var funcs []elfsym.Symbol
	var data []string
	var skippedVersions []string
	for _, s := range lib.Symbols {
		switch {
		case s.Kind == elfsym.KindData:
			if _, _, isClassTable := (vtable.Itanium{}).Classify(s); isClassTable && opts.Vtables {
				continue // handled by the vtable generator
			}
			data = append(data, s.Name)
		case !s.DefaultVersion:
			// Only the default definition is reachable from callers
			// that never named a version.
			skippedVersions = append(skippedVersions, s.Name+"@"+s.Version)
		default:
			funcs = append(funcs, s)
		}
	}
	if len(data) > 0 {
		log.Warnf("library %s contains data symbols which won't be intercepted: %s",
			lib.SOName, strings.Join(data, ", "))
	}
	if len(skippedVersions) > 0 {
		log.Warnf("library %s: skipping non-default versioned definitions: %s",
			lib.SOName, strings.Join(skippedVersions, ", "))
	}

	if opts.SymbolList != nil {
		wanted := make(map[string]bool, len(opts.SymbolList))
		for _, name := range opts.SymbolList {
			wanted[name] = false
		}
		var kept []elfsym.Symbol
		for _, s := range funcs {
			if _, ok := wanted[s.Name]; ok {
				wanted[s.Name] = true
				kept = append(kept, s)
			}
		}
		var missing []string
		for _, name := range opts.SymbolList {
			if !wanted[name] {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			log.Warnf("some requested functions are not present in library: %s", strings.Join(missing, ", "))
		}
		funcs = kept
	}

	if len(funcs) == 0 {
		log.Warnf("no public functions were found in %s", lib.SOName)
	}
	for i, s := range funcs {
		log.Debugf("  %d: %s", i, s.Name)
	}
	return funcs
}

// writeAtomically lands every artifact or none: contents go to temp
// files first and are renamed into place only after all writes
// succeed.
func writeAtomically(files map[string][]byte) error {
	var temps []string
	cleanup := func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}

	renames := make(map[string]string, len(files))
	for path, content := range files {
		tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
		if err != nil {
			cleanup()
			return fmt.Errorf("shimport: stage %s: %w", path, err)
		}
		temps = append(temps, tmp.Name())
		if _, err := tmp.Write(content); err != nil {
			_ = tmp.Close()
			cleanup()
			return fmt.Errorf("shimport: stage %s: %w", path, err)
		}
		if err := tmp.Close(); err != nil {
			cleanup()
			return fmt.Errorf("shimport: stage %s: %w", path, err)
		}
		renames[tmp.Name()] = path
	}
	var committed []string
	for tmp, path := range renames {
		if err := os.Rename(tmp, path); err != nil {
			// A partial batch is worse than none: drop what already
			// landed so a failed run leaves no artifact behind.
			for _, p := range committed {
				_ = os.Remove(p)
			}
			cleanup()
			return fmt.Errorf("shimport: commit %s: %w", path, err)
		}
		committed = append(committed, path)
	}
	return nil
}

func targetOrHost(target string) string {
	if target != "" {
		return target
	}
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i386"
	case "arm64":
		return "aarch64"
	case "arm":
		return "arm"
	case "mipsle":
		return "mips"
	case "mips64le":
		return "mips64"
	case "ppc64":
		return "powerpc64"
	case "ppc64le":
		return "powerpc64le"
	case "riscv64":
		return "riscv64"
	default:
		return runtime.GOARCH
	}
}

// isELF sniffs the input file; generation also accepts textual .def
// symbol lists.
func isELF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return false, nil
	}
	return bytes.Equal(magic[:], []byte("\x7fELF")), nil
}
