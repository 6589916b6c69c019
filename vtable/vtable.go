// Package vtable generates interposable replicas of exported C++
// virtual tables. A vtable slot must already hold a function pointer,
// so it cannot host the fast/slow trampoline branch; instead the
// consumer links a replica data object whose function-pointer cells
// relocate against the per-symbol trampolines, substituting each slot
// at the point the table is populated.
package vtable

import (
	"debug/elf"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shimport/shimport/arch"
	"github.com/shimport/shimport/elfsym"
)

// ErrNoClasses reports that vtable interposition was requested for a
// library exporting no eligible class tables.
var ErrNoClasses = errors.New("vtable: no eligible classes")

// TableKind distinguishes the three per-class data objects of the
// Itanium C++ ABI.
type TableKind int

const (
	KindVTable TableKind = iota
	KindTypeInfo
	KindTypeInfoName
)

// ABI locates class tables among exported data symbols. Vtable layout
// conventions are compiler-specific, so the mapping is pluggable.
type ABI interface {
	// Classify reports the table kind and class tag for sym, or
	// ok == false when the symbol is not a class table.
	Classify(sym elfsym.Symbol) (kind TableKind, class string, ok bool)
}

// Itanium matches the GNU/Itanium mangling: _ZTV (vtable), _ZTI
// (typeinfo), _ZTS (typeinfo name).
type Itanium struct{}

func (Itanium) Classify(sym elfsym.Symbol) (TableKind, string, bool) {
	if sym.Kind != elfsym.KindData {
		return 0, "", false
	}
	switch {
	case strings.HasPrefix(sym.Name, "_ZTV"):
		return KindVTable, sym.Name[len("_ZTV"):], true
	case strings.HasPrefix(sym.Name, "_ZTI"):
		return KindTypeInfo, sym.Name[len("_ZTI"):], true
	case strings.HasPrefix(sym.Name, "_ZTS"):
		return KindTypeInfoName, sym.Name[len("_ZTS"):], true
	}
	return 0, "", false
}

type cellKind int

const (
	cellByte cellKind = iota
	cellOffset
	cellReloc
)

type cell struct {
	kind   cellKind
	val    uint64
	sym    string
	addend int64
}

type classTable struct {
	sym   elfsym.Symbol
	kind  TableKind
	cells []cell
}

// Generate reconstructs every eligible class table of the library at
// path and renders the C replicas. syms is the extracted symbol list
// including data symbols; model supplies the pointer size and the
// relocation types that bind absolute symbol addresses.
func Generate(path string, syms []elfsym.Symbol, model *arch.Model, abi ABI) ([]byte, error) {
	var tables []classTable
	classSyms := make(map[string]struct{})
	for _, s := range syms {
		if kind, _, ok := abi.Classify(s); ok {
			tables = append(tables, classTable{sym: s, kind: kind})
			classSyms[s.Name] = struct{}{}
		}
	}
	if len(tables) == 0 {
		return nil, ErrNoClasses
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].sym.Name < tables[j].sym.Name })

	f, err := elf.Open(path)
	if err != nil {
		return nil, &elfsym.ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	relocs, err := readDynRelocs(f)
	if err != nil {
		return nil, &elfsym.ExtractionError{Path: path, Err: err}
	}

	symRelocs := make(map[string]struct{}, len(model.SymbolRelocs))
	for _, name := range model.SymbolRelocs {
		symRelocs[name] = struct{}{}
	}

	for i := range tables {
		t := &tables[i]
		raw, err := readSymbolBytes(f, t.sym)
		if err != nil {
			return nil, &elfsym.ExtractionError{Path: path, Err: err}
		}
		if t.kind == KindTypeInfoName {
			for _, b := range raw {
				t.cells = append(t.cells, cell{kind: cellByte, val: uint64(b)})
			}
			continue
		}
		if len(raw) == 0 {
			return nil, &elfsym.ExtractionError{Path: path, Err: fmt.Errorf("class table %s has no cells", t.sym.Name)}
		}
		ptr := model.PointerSize
		for off := 0; off+ptr <= len(raw); off += ptr {
			var v uint64
			if ptr == 8 {
				v = f.ByteOrder.Uint64(raw[off:])
			} else {
				v = uint64(f.ByteOrder.Uint32(raw[off:]))
			}
			t.cells = append(t.cells, cell{kind: cellOffset, val: v})
		}
		for _, r := range relocs {
			if _, ok := symRelocs[r.typeName]; !ok {
				continue
			}
			if r.off < t.sym.Value || r.off >= t.sym.Value+t.sym.Size {
				continue
			}
			idx := int(r.off-t.sym.Value) / ptr
			if idx >= len(t.cells) {
				continue
			}
			addend := r.addend
			if !r.hasAddend {
				// REL relocations keep the addend in place.
				addend = int64(t.cells[idx].val)
			}
			t.cells[idx] = cell{kind: cellReloc, sym: r.sym, addend: addend}
		}
	}

	return render(tables, classSyms), nil
}

// versionedRe strips version decorations off relocation targets; C has
// no way to pin a version on an extern declaration.
var versionedRe = regexp.MustCompile(`@.*$`)

func render(tables []classTable, classSyms map[string]struct{}) []byte {
	var sb strings.Builder
	sb.WriteString("\n#ifdef __cplusplus\nextern \"C\" {\n#endif\n\n")

	// Externs for relocation targets outside the replicated set.
	printed := make(map[string]struct{})
	for _, t := range tables {
		for _, c := range t.cells {
			if c.kind != cellReloc || c.sym == "" {
				continue
			}
			name := versionedRe.ReplaceAllString(c.sym, "")
			if _, ours := classSyms[name]; ours {
				continue
			}
			if _, dup := printed[name]; dup {
				continue
			}
			printed[name] = struct{}{}
			fmt.Fprintf(&sb, "extern const char %s[];\n", name)
		}
	}
	sb.WriteString("\n")

	// Declarations first so the definitions below can self-reference.
	for _, t := range tables {
		typeName := t.sym.Name + "_type"
		if t.kind == KindTypeInfoName {
			fmt.Fprintf(&sb, "typedef const unsigned char %s[%d];\n", typeName, len(t.cells))
		} else {
			var fields []string
			for i, c := range t.cells {
				fields = append(fields, fmt.Sprintf("%s field_%d;", cellCType(c), i))
			}
			fmt.Fprintf(&sb, "typedef const struct { %s } %s;\n", strings.Join(fields, " "), typeName)
		}
		fmt.Fprintf(&sb, "extern __attribute__((weak)) %s %s;\n", typeName, t.sym.Name)
	}
	sb.WriteString("\n")

	for _, t := range tables {
		vals := make([]string, 0, len(t.cells))
		for _, c := range t.cells {
			switch c.kind {
			case cellByte:
				vals = append(vals, fmt.Sprintf("%d", c.val))
			case cellOffset:
				vals = append(vals, fmt.Sprintf("%dUL", c.val))
			case cellReloc:
				name := versionedRe.ReplaceAllString(c.sym, "")
				vals = append(vals, fmt.Sprintf("(const char *)&%s + %d", name, c.addend))
			}
		}
		fmt.Fprintf(&sb, "const %s_type %s = { %s };\n", t.sym.Name, t.sym.Name, strings.Join(vals, ", "))
	}

	sb.WriteString("\n#ifdef __cplusplus\n}  // extern \"C\"\n#endif\n")
	return []byte(sb.String())
}

func cellCType(c cell) string {
	switch c.kind {
	case cellByte:
		return "unsigned char"
	case cellReloc:
		return "const void *"
	default:
		return "size_t"
	}
}

// readSymbolBytes locates the single allocatable section containing
// the symbol's interval and returns its unrelocated image.
func readSymbolBytes(f *elf.File, sym elfsym.Symbol) ([]byte, error) {
	var home *elf.Section
	for _, sec := range f.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Type == elf.SHT_NOBITS {
			continue
		}
		if sym.Value >= sec.Addr && sym.Value+sym.Size <= sec.Addr+sec.Size {
			if home != nil {
				return nil, fmt.Errorf("symbol %s spans multiple sections", sym.Name)
			}
			home = sec
		}
	}
	if home == nil {
		return nil, fmt.Errorf("failed to locate section for interval [%#x, %#x) of %s",
			sym.Value, sym.Value+sym.Size, sym.Name)
	}
	data, err := home.Data()
	if err != nil {
		return nil, fmt.Errorf("read section %s: %w", home.Name, err)
	}
	start := sym.Value - home.Addr
	return data[start : start+sym.Size], nil
}

type dynReloc struct {
	off       uint64
	typeName  string
	sym       string
	addend    int64
	hasAddend bool
}

// readDynRelocs parses .rela.dyn/.rel.dyn directly; debug/elf exposes
// relocations only through its own relocation applier.
func readDynRelocs(f *elf.File) ([]dynReloc, error) {
	dynsyms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read dynamic symbols: %w", err)
	}
	symName := func(idx uint32) string {
		if idx == 0 || int(idx) > len(dynsyms) {
			return ""
		}
		return dynsyms[idx-1].Name
	}

	var out []dynReloc
	for _, sec := range f.Sections {
		var rela bool
		switch sec.Name {
		case ".rela.dyn":
			rela = true
		case ".rel.dyn":
			rela = false
		default:
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", sec.Name, err)
		}
		if f.Class == elf.ELFCLASS64 {
			out = append(out, parseRelocs64(f, data, rela, symName)...)
		} else {
			out = append(out, parseRelocs32(f, data, rela, symName)...)
		}
	}
	return out, nil
}

func parseRelocs64(f *elf.File, data []byte, rela bool, symName func(uint32) string) []dynReloc {
	entry := 16
	if rela {
		entry = 24
	}
	var out []dynReloc
	for off := 0; off+entry <= len(data); off += entry {
		info := f.ByteOrder.Uint64(data[off+8:])
		r := dynReloc{
			off:      f.ByteOrder.Uint64(data[off:]),
			typeName: relocTypeName(f.Machine, uint32(info)),
			sym:      symName(uint32(info >> 32)),
		}
		if rela {
			r.addend = int64(f.ByteOrder.Uint64(data[off+16:]))
			r.hasAddend = true
		}
		out = append(out, r)
	}
	return out
}

func parseRelocs32(f *elf.File, data []byte, rela bool, symName func(uint32) string) []dynReloc {
	entry := 8
	if rela {
		entry = 12
	}
	var out []dynReloc
	for off := 0; off+entry <= len(data); off += entry {
		info := f.ByteOrder.Uint32(data[off+4:])
		r := dynReloc{
			off:      uint64(f.ByteOrder.Uint32(data[off:])),
			typeName: relocTypeName(f.Machine, info&0xff),
			sym:      symName(info >> 8),
		}
		if rela {
			r.addend = int64(int32(f.ByteOrder.Uint32(data[off+8:])))
			r.hasAddend = true
		}
		out = append(out, r)
	}
	return out
}

func relocTypeName(m elf.Machine, t uint32) string {
	switch m {
	case elf.EM_X86_64:
		return elf.R_X86_64(t).String()
	case elf.EM_386:
		return elf.R_386(t).String()
	case elf.EM_AARCH64:
		return elf.R_AARCH64(t).String()
	case elf.EM_ARM:
		return elf.R_ARM(t).String()
	case elf.EM_PPC64:
		return elf.R_PPC64(t).String()
	case elf.EM_MIPS:
		return elf.R_MIPS(t).String()
	case elf.EM_RISCV:
		return elf.R_RISCV(t).String()
	default:
		return fmt.Sprintf("reloc_type_%d", t)
	}
}
