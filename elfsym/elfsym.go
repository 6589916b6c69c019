// Package elfsym extracts the externally resolvable symbols of an ELF
// shared library, including GNU symbol-version tags and the SONAME.
package elfsym

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

// ExtractionError reports an image that could not be analyzed as a
// shared library.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("elfsym: extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Kind classifies an exported symbol.
type Kind int

const (
	KindFunc Kind = iota
	KindData
)

func (k Kind) String() string {
	if k == KindFunc {
		return "func"
	}
	return "data"
}

// Symbol describes one exported, defined, externally visible symbol.
// Names are kept mangled verbatim.
type Symbol struct {
	Name string
	Kind Kind
	// Version is the GNU symbol version tag, empty for unversioned
	// symbols. DefaultVersion reports whether this is the definition a
	// plain (unversioned) lookup binds to.
	Version        string
	DefaultVersion bool
	Weak           bool
	// Value and Size locate the symbol inside the image; the vtable
	// generator needs them to read the table bytes back out.
	Value uint64
	Size  uint64
}

// Library is the extraction result for one shared object.
type Library struct {
	// SOName is the DT_SONAME entry, or the file basename when the
	// dynamic section carries none.
	SOName  string
	Symbols []Symbol
}

// Options control which symbols are eligible.
type Options struct {
	// WithData keeps OBJECT symbols alongside functions. Data symbols
	// cannot be intercepted by jump trampolines but are needed for
	// vtable discovery.
	WithData bool
	// NoWeak drops weak definitions.
	NoWeak bool
}

// Extract reads the dynamic symbol table of the shared library at path
// and returns its eligible exported symbols in a deterministic order.
func Extract(path string, opts Options) (*Library, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	if f.Type != elf.ET_DYN {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("not a shared library (ELF type %s)", f.Type)}
	}

	dynsyms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("read dynamic symbols: %w", err)}
	}

	versions, err := readVersionTags(f, len(dynsyms))
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}

	seen := make(map[string]struct{}, len(dynsyms))
	symbols := make([]Symbol, 0, len(dynsyms))
	for i, s := range dynsyms {
		if !eligible(s, opts) {
			continue
		}
		sym := Symbol{
			Name:           s.Name,
			Kind:           KindFunc,
			DefaultVersion: true,
			Weak:           elf.ST_BIND(s.Info) == elf.STB_WEAK,
			Value:          s.Value,
			Size:           s.Size,
		}
		if elf.ST_TYPE(s.Info) == elf.STT_OBJECT {
			sym.Kind = KindData
		}
		if v := versions[i]; v != nil {
			sym.Version = v.name
			sym.DefaultVersion = !v.hidden
		}
		// Keep versioned duplicates distinguishable; drop exact repeats.
		key := sym.Name + "@" + sym.Version
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		symbols = append(symbols, sym)
	}

	// Discovery order in .dynsym is already deterministic for a given
	// file; a stable sort by name pins it against toolchain reordering
	// so table indices are reproducible across regenerations.
	sort.SliceStable(symbols, func(i, j int) bool {
		if symbols[i].Name != symbols[j].Name {
			return symbols[i].Name < symbols[j].Name
		}
		return symbols[i].Version < symbols[j].Version
	})

	soname := filepath.Base(path)
	if names, err := f.DynString(elf.DT_SONAME); err == nil && len(names) > 0 && names[0] != "" {
		soname = names[0]
	}

	return &Library{SOName: soname, Symbols: symbols}, nil
}

// sttGNUIFunc mirrors elf.STT_GNU_IFUNC, which is unavailable before Go 1.23.
const sttGNUIFunc elf.SymType = 10

func eligible(s elf.Symbol, opts Options) bool {
	if s.Name == "" || s.Name == "_init" || s.Name == "_fini" {
		return false
	}
	if s.Section == elf.SHN_UNDEF {
		return false
	}
	switch elf.ST_BIND(s.Info) {
	case elf.STB_GLOBAL:
	case elf.STB_WEAK:
		if opts.NoWeak {
			return false
		}
	default:
		return false
	}
	switch elf.ST_VISIBILITY(s.Other) {
	case elf.STV_DEFAULT, elf.STV_PROTECTED:
	default:
		return false
	}
	switch elf.ST_TYPE(s.Info) {
	case elf.STT_FUNC, sttGNUIFunc:
	case elf.STT_OBJECT:
		if !opts.WithData {
			return false
		}
	default:
		return false
	}
	return true
}

type versionTag struct {
	name   string
	hidden bool // non-default definition (single @ in readelf output)
}

const (
	versymHidden = 0x8000
	versymMask   = 0x7fff
)

// readVersionTags maps each dynamic-symbol index (as returned by
// DynamicSymbols, i.e. excluding the leading null entry) to its version
// definition, if any. Libraries without GNU version sections yield all
// nil entries.
func readVersionTags(f *elf.File, nsyms int) ([]*versionTag, error) {
	tags := make([]*versionTag, nsyms)

	versym := f.Section(".gnu.version")
	verdef := f.Section(".gnu.version_d")
	if versym == nil || verdef == nil {
		return tags, nil
	}

	vsData, err := versym.Data()
	if err != nil {
		return nil, fmt.Errorf("read .gnu.version: %w", err)
	}
	vdData, err := verdef.Data()
	if err != nil {
		return nil, fmt.Errorf("read .gnu.version_d: %w", err)
	}
	dynstr := f.Section(".dynstr")
	if dynstr == nil {
		return nil, errors.New("versioned symbols without .dynstr")
	}
	strData, err := dynstr.Data()
	if err != nil {
		return nil, fmt.Errorf("read .dynstr: %w", err)
	}

	names, err := parseVerdef(vdData, strData, f.ByteOrder)
	if err != nil {
		return nil, err
	}

	for i := 0; i < nsyms; i++ {
		// Entry 0 of .gnu.version belongs to the null symbol.
		off := (i + 1) * 2
		if off+2 > len(vsData) {
			break
		}
		raw := f.ByteOrder.Uint16(vsData[off:])
		ndx := raw & versymMask
		if ndx <= 1 { // 0 = local, 1 = global (unversioned)
			continue
		}
		name, ok := names[ndx]
		if !ok {
			// Index points into .gnu.version_r: an imported version,
			// which cannot belong to a defined symbol.
			continue
		}
		tags[i] = &versionTag{name: name, hidden: raw&versymHidden != 0}
	}
	return tags, nil
}

// parseVerdef walks the Elf_Verdef chain and returns version index →
// version name. Layout is identical for ELF32 and ELF64.
func parseVerdef(data, strtab []byte, order binary.ByteOrder) (map[uint16]string, error) {
	names := make(map[uint16]string)
	off := 0
	for {
		if off+20 > len(data) {
			return nil, errors.New("truncated .gnu.version_d")
		}
		ndx := order.Uint16(data[off+4:])
		auxOff := off + int(order.Uint32(data[off+12:]))
		next := order.Uint32(data[off+16:])

		if auxOff+8 > len(data) {
			return nil, errors.New("truncated verdaux in .gnu.version_d")
		}
		nameOff := order.Uint32(data[auxOff:])
		names[ndx] = cstring(strtab, nameOff)

		if next == 0 {
			return names, nil
		}
		off += int(next)
	}
}

func cstring(strtab []byte, off uint32) string {
	if int(off) >= len(strtab) {
		return ""
	}
	end := int(off)
	for end < len(strtab) && strtab[end] != 0 {
		end++
	}
	return string(strtab[int(off):end])
}
