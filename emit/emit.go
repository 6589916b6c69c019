// Package emit renders the two generated artifacts for one shimmed
// library: the assembly module holding the resolution table, the
// per-symbol trampoline stubs and the register-saving glue, and the C
// module holding the runtime resolver. Rendering is all-or-nothing;
// callers receive both artifacts or neither.
package emit

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/shimport/shimport/arch"
	"github.com/shimport/shimport/elfsym"
)

// ConfigError reports contradictory generation options.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "emit: invalid configuration: " + e.Reason
}

// Config selects the runtime behavior baked into the generated pair.
// The zero value is not useful; use Defaults as a starting point.
type Config struct {
	// Tag is the per-library identifier embedded in every generated
	// symbol so multiple shims can coexist in one program. It must be
	// a valid C identifier fragment; see Sanitize.
	Tag string
	// LoadName is what the resolver passes to dlopen (usually the
	// SONAME).
	LoadName string
	// SymbolPrefix is prepended to every trampoline symbol.
	SymbolPrefix string

	// Dlopen controls whether the resolver opens the library itself.
	// When false the target's symbols are assumed already resident and
	// are searched in the process scope instead.
	Dlopen bool
	// DlopenCallback names a user-supplied `void *cb(const char *)`
	// used instead of dlopen.
	DlopenCallback string
	// DlsymCallback names a user-supplied
	// `void *cb(void *, const char *)` used instead of dlsym.
	DlsymCallback string
	// Lazy resolves each symbol on first call; otherwise every symbol
	// is resolved by a bulk resolve at module load.
	Lazy bool
	// ThreadSafe serializes the library-open step with pthread_once.
	// Slot writes themselves are idempotent and never locked.
	ThreadSafe bool
	// ExportShims leaves the trampoline symbols visible in the dynamic
	// symbol table, allowing re-interposition.
	ExportShims bool
	// HiddenShims, together with Dlopen == false, searches the whole
	// process scope (RTLD_DEFAULT) instead of the scope following this
	// module (RTLD_NEXT).
	HiddenShims bool
}

// Defaults mirrors the generator's command-line defaults.
func Defaults() Config {
	return Config{Dlopen: true, Lazy: true, ThreadSafe: true}
}

func (c *Config) validate() error {
	if c.Tag == "" {
		return &ConfigError{Reason: "empty library tag"}
	}
	if !tagRe.MatchString(c.Tag) {
		return &ConfigError{Reason: fmt.Sprintf("tag %q is not a C identifier", c.Tag)}
	}
	if c.DlopenCallback != "" && !c.Dlopen {
		return &ConfigError{Reason: "dlopen callback is unreachable with dlopen disabled"}
	}
	if c.DlopenCallback != "" && !tagRe.MatchString(c.DlopenCallback) {
		return &ConfigError{Reason: fmt.Sprintf("dlopen callback %q is not a C identifier", c.DlopenCallback)}
	}
	if c.DlsymCallback != "" && !tagRe.MatchString(c.DlsymCallback) {
		return &ConfigError{Reason: fmt.Sprintf("dlsym callback %q is not a C identifier", c.DlsymCallback)}
	}
	if c.HiddenShims && c.Dlopen {
		return &ConfigError{Reason: "hidden-shims scope search only applies with dlopen disabled"}
	}
	if c.LoadName == "" {
		// Embedded in the dlopen call and in every diagnostic.
		return &ConfigError{Reason: "load name required"}
	}
	return nil
}

var (
	tagRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// Sanitize derives a usable tag from a library file name, e.g.
// "libxyz.so.1" becomes "libxyz_so_1".
func Sanitize(name string) string {
	tag := sanitizeRe.ReplaceAllString(name, "_")
	if tag == "" || (tag[0] >= '0' && tag[0] <= '9') {
		tag = "_" + tag
	}
	return tag
}

// Shim renders both artifacts for the given symbols and code model.
// Only default-version function symbols receive stubs; the caller is
// expected to have filtered data symbols out already.
func Shim(model *arch.Model, syms []elfsym.Symbol, cfg Config) (trampS, initC []byte, err error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	for _, s := range syms {
		if s.Kind != elfsym.KindFunc {
			return nil, nil, &ConfigError{Reason: fmt.Sprintf("data symbol %q cannot be trampolined", s.Name)}
		}
	}

	var asm bytes.Buffer
	fmt.Fprintf(&asm, "// Generated by shimport for %s (%s). Do not edit.\n\n", cfg.LoadName, model.Name)
	asm.WriteString(model.Table(cfg.Tag, len(syms)))
	asm.WriteString(model.Glue(cfg.Tag))
	hidden := !cfg.ExportShims
	for i, s := range syms {
		asm.WriteString(model.Trampoline(cfg.Tag, cfg.SymbolPrefix+s.Name, i, hidden))
	}

	initC, err = renderInit(syms, cfg)
	if err != nil {
		return nil, nil, err
	}
	return asm.Bytes(), initC, nil
}

type initArgs struct {
	Config
	Names    []string
	Versions []string // empty string for unversioned entries
}

func renderInit(syms []elfsym.Symbol, cfg Config) ([]byte, error) {
	args := initArgs{Config: cfg}
	for _, s := range syms {
		args.Names = append(args.Names, s.Name)
		args.Versions = append(args.Versions, s.Version)
	}

	var buf bytes.Buffer
	if err := initTpl.Execute(&buf, args); err != nil {
		return nil, fmt.Errorf("emit: render resolver: %w", err)
	}
	return buf.Bytes(), nil
}

var initTpl = template.Must(template.New("init.c").Funcs(template.FuncMap{
	"cstr": func(s string) string {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	},
	// cfmt additionally neutralizes conversion specifiers, for strings
	// spliced into printf format position.
	"cfmt": func(s string) string {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, `%`, `%%`).Replace(s) + `"`
	},
	"boolInt": func(b bool) int {
		if b {
			return 1
		}
		return 0
	},
}).Parse(initText))
