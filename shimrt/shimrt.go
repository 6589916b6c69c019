// Package shimrt hosts the resolution protocol of a generated shim in
// Go: a table of address slots filled on first use (or eagerly) from
// the platform dynamic loader. It mirrors the semantics of the emitted
// C resolver so Go consumers and tests can drive the same state
// machine in-process.
//
// Resolution failures are fatal by design: a shim either reaches the
// real function or stops loudly, it never returns a partial result.
// Fatal conditions surface as panics naming the library and symbol.
package shimrt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/purego"
)

// Options configure one shim table. Names fixes both the table size
// and each symbol's slot index.
type Options struct {
	// Library is the name or path passed to the dynamic loader.
	Library string
	// Names are the symbols backing each slot, in index order.
	Names []string
	// Versions optionally carries a GNU version tag per name. Unlike
	// the generated C resolver (which pins versions with dlvsym), the
	// Go host can only look names up unversioned; tags are kept for
	// diagnostics.
	Versions []string
	// Open replaces the direct library open. The handle it returns is
	// not closed by Reset or Close.
	Open func() (uintptr, error)
	// NoDlopen skips opening entirely and searches the process-wide
	// scope; the library must already be resident.
	NoDlopen bool
	// Lazy defers each slot to its first use; otherwise New resolves
	// every symbol up front.
	Lazy bool
}

// Table is one shim instance. All state of a shimmed library lives
// here, so independently created tables never interfere.
type Table struct {
	opts  Options
	slots []atomic.Uintptr

	mu      sync.Mutex // guards handle open/close
	handle  uintptr
	owned   bool
	loading atomic.Bool
}

// New builds the table. In eager mode (Options.Lazy == false) every
// symbol is resolved before New returns.
func New(opts Options) (*Table, error) {
	if len(opts.Names) == 0 {
		return nil, errors.New("shimrt: empty symbol list")
	}
	if opts.Versions != nil && len(opts.Versions) != len(opts.Names) {
		return nil, fmt.Errorf("shimrt: %d versions for %d names", len(opts.Versions), len(opts.Names))
	}
	if opts.Library == "" && !opts.NoDlopen && opts.Open == nil {
		return nil, errors.New("shimrt: no library name, open callback, or process-scope search configured")
	}
	t := &Table{
		opts:  opts,
		slots: make([]atomic.Uintptr, len(opts.Names)),
	}
	if !opts.Lazy {
		t.ResolveAll()
	}
	return t, nil
}

// Len returns the slot count.
func (t *Table) Len() int { return len(t.slots) }

// Resolved reports whether slot i has been filled.
func (t *Table) Resolved(i int) bool {
	return i >= 0 && i < len(t.slots) && t.slots[i].Load() != 0
}

// Addr returns the resolved address for slot i, resolving it first if
// needed. This is the Go analogue of calling through a trampoline.
func (t *Table) Addr(i int) uintptr {
	if i >= 0 && i < len(t.slots) {
		if addr := t.slots[i].Load(); addr != 0 {
			return addr
		}
	}
	return t.Resolve(i)
}

// Resolve fills slot i from the loader and returns the address. An
// out-of-range index means the table and its caller were generated
// from different symbol lists; that is never tolerated silently.
func (t *Table) Resolve(i int) uintptr {
	if i < 0 || i >= len(t.slots) {
		panic(fmt.Sprintf("shimrt: %s: index %d out of range for resolution table of %d entries",
			t.opts.Library, i, len(t.slots)))
	}
	name := t.opts.Names[i]
	if t.loading.Load() {
		panic(fmt.Sprintf("shimrt: %s: library function %q called during library load", t.opts.Library, name))
	}

	h := t.libraryHandle(name)
	addr, err := purego.Dlsym(h, name)
	if err != nil || addr == 0 {
		panic(fmt.Sprintf("shimrt: %s: failed to resolve symbol %q: %v", t.opts.Library, t.symbolLabel(i), err))
	}

	// Racing first calls all look up the same name and store the same
	// address; redundant identical writes are harmless, so no lock.
	t.slots[i].Store(addr)
	return addr
}

// ResolveAll resolves every currently unresolved slot. Exposed for
// pre-warming; eager tables run it at construction.
func (t *Table) ResolveAll() {
	for i := range t.slots {
		if t.slots[i].Load() == 0 {
			t.Resolve(i)
		}
	}
}

// Reset returns every slot to the unresolved state and drops the
// library handle, closing it if this table opened it. Not safe against
// in-flight resolutions; callers pick a quiescent point.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		t.slots[i].Store(0)
	}
	t.closeHandleLocked()
}

// Close tears the table down, closing the handle if owned. The table
// can be revived by a later Resolve, matching the generated resolver's
// reset-then-reuse behavior.
func (t *Table) Close() error {
	t.Reset()
	return nil
}

// Handle exposes the current library handle; zero when the library was
// never opened or resolution runs in process-scope mode.
func (t *Table) Handle() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle
}

func (t *Table) symbolLabel(i int) string {
	if t.opts.Versions != nil && t.opts.Versions[i] != "" {
		return t.opts.Names[i] + "@" + t.opts.Versions[i]
	}
	return t.opts.Names[i]
}

// libraryHandle obtains the handle to look name up in, opening the
// library on first use. name is only for diagnostics.
func (t *Table) libraryHandle(name string) uintptr {
	if t.opts.NoDlopen {
		return purego.RTLD_DEFAULT
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle != 0 {
		return t.handle
	}

	t.loading.Store(true)
	defer t.loading.Store(false)

	if t.opts.Open != nil {
		h, err := t.opts.Open()
		if err != nil || h == 0 {
			panic(fmt.Sprintf("shimrt: %s: open callback failed resolving %q: %v", t.opts.Library, name, err))
		}
		t.handle, t.owned = h, false
		return t.handle
	}

	h, err := purego.Dlopen(t.opts.Library, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
	if err != nil {
		panic(fmt.Sprintf("shimrt: failed to load library %s: %v", t.opts.Library, err))
	}
	t.handle, t.owned = h, true
	return t.handle
}

func (t *Table) closeHandleLocked() {
	if t.handle != 0 && t.owned {
		// A close failure here would mean the handle was already torn
		// down under us; nothing useful to do about it at reset time.
		_ = purego.Dlclose(t.handle)
	}
	t.handle = 0
	t.owned = false
}
