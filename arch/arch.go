// Package arch describes, per target instruction-set architecture, how a
// resolution-table slot is read, tested and jumped through, how the slow
// path hands a symbol index to the resolver glue, and how the glue itself
// preserves the full argument/return register state around the resolve
// callback. Models form a closed set selected once per generation run.
package arch

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

// ErrUnsupported reports a target with no code model.
var ErrUnsupported = errors.New("arch: unsupported architecture")

// Model is the code model for one ISA. All text it produces is GNU
// assembler input meant for preprocessing (.S), so encoding-mode
// variants of the same ISA (ARM vs. Thumb, soft vs. hard float) are
// expressed as assembler-time conditionals inside one model.
type Model struct {
	// Name is the canonical target name (e.g. "x86_64").
	Name string
	// PointerSize is the resolution-slot width in bytes; slots are
	// aligned to this size.
	PointerSize int
	// SymbolRelocs lists dynamic relocation type names that bind an
	// absolute symbol address, used when reconstructing vtable data.
	SymbolRelocs []string

	tableText string
	trampText string
	glueText  string

	table *template.Template
	tramp *template.Template
	glue  *template.Template
}

// stubArgs is the data every template renders against. Offset is the
// byte offset of the symbol's slot (index * PointerSize), never chosen
// independently of Number.
type stubArgs struct {
	Tag       string
	Sym       string
	Offset    int
	Number    int
	TableSize int
	PtrSize   int
	Hidden    bool
}

// Table renders the resolution-table declaration sized for nsyms
// symbols plus a trailing sentinel slot.
func (m *Model) Table(tag string, nsyms int) string {
	return m.render(m.table, stubArgs{
		Tag:       tag,
		TableSize: (nsyms + 1) * m.PointerSize,
		PtrSize:   m.PointerSize,
	})
}

// Trampoline renders the stub for the symbol at the given table index.
// When hidden is set the stub is kept out of the consumer's dynamic
// symbol table.
func (m *Model) Trampoline(tag, sym string, index int, hidden bool) string {
	return m.render(m.tramp, stubArgs{
		Tag:     tag,
		Sym:     sym,
		Offset:  index * m.PointerSize,
		Number:  index,
		PtrSize: m.PointerSize,
		Hidden:  hidden,
	})
}

// Glue renders the register-saving resolver glue for one shim.
func (m *Model) Glue(tag string) string {
	return m.render(m.glue, stubArgs{Tag: tag, PtrSize: m.PointerSize})
}

func (m *Model) render(t *template.Template, args stubArgs) string {
	var sb strings.Builder
	if err := t.Execute(&sb, args); err != nil {
		// Templates are compile-time constants; a render failure is a
		// defect in the model itself.
		panic(fmt.Sprintf("arch: render %s template: %v", m.Name, err))
	}
	return sb.String()
}

var models = make(map[string]*Model)

func register(m *Model) *Model {
	m.table = template.Must(template.New(m.Name + ".table").Parse(m.tableText))
	m.tramp = template.Must(template.New(m.Name + ".tramp").Parse(m.trampText))
	m.glue = template.Must(template.New(m.Name + ".glue").Parse(m.glueText))
	if _, dup := models[m.Name]; dup {
		panic("arch: duplicate model " + m.Name)
	}
	models[m.Name] = m
	return m
}

// Names returns the canonical names of all registered models, sorted.
func Names() []string {
	out := make([]string, 0, len(models))
	for name := range models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var i86Re = regexp.MustCompile(`^i[0-9]86`)

// Lookup resolves a target triple or bare architecture name (as
// produced by uname or accepted by compilers, e.g.
// "x86_64-unknown-linux-gnu", "armhf", "ppc64le", "rv64gc") to its
// code model.
func Lookup(target string) (*Model, error) {
	name := target
	switch {
	case strings.HasPrefix(target, "aarch64"), strings.HasPrefix(target, "armv8"), strings.HasPrefix(target, "arm64"):
		name = "aarch64"
	case strings.HasPrefix(target, "arm"): // armhf-..., armel-..., armeabi...
		name = "arm"
	case i86Re.MatchString(target):
		name = "i386"
	case strings.HasPrefix(target, "amd64"), strings.HasPrefix(target, "x86_64"):
		name = "x86_64"
	case strings.HasPrefix(target, "mips64"): // mips64-, mips64el-, mips64le-
		name = "mips64"
	case strings.HasPrefix(target, "mips"): // mips-, mipsel-, mipsle-
		name = "mips"
	case strings.HasPrefix(target, "ppc64le"), strings.HasPrefix(target, "powerpc64le"):
		name = "powerpc64le"
	case strings.HasPrefix(target, "ppc64"), strings.HasPrefix(target, "powerpc64"):
		name = "powerpc64"
	case strings.HasPrefix(target, "rv64"), strings.HasPrefix(target, "riscv64"):
		name = "riscv64"
	default:
		if i := strings.IndexByte(target, '-'); i > 0 {
			name = target[:i]
		}
	}
	m, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, target)
	}
	return m, nil
}

// commonTable is shared by models whose table needs no arch-specific
// directives. The extra trailing slot marks the end of the table and
// keeps it non-empty for symbol-less libraries.
const commonTable = `  .data

  .globl _{{.Tag}}_tramp_table
  .hidden _{{.Tag}}_tramp_table
  .balign {{.PtrSize}}
_{{.Tag}}_tramp_table:
  .zero {{.TableSize}}
`
