//go:build linux

package shimrt_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ebitengine/purego"

	"github.com/shimport/shimport/shimrt"
)

const addSource = `
int add(int a, int b) { return a + b; }
int mul(int a, int b) { return a * b; }
`

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found in PATH", name)
	}
}

func buildAddLib(t *testing.T) string {
	t.Helper()
	requireCommand(t, "cc")

	dir := t.TempDir()
	src := filepath.Join(dir, "add.c")
	if err := os.WriteFile(src, []byte(addSource), 0o644); err != nil {
		t.Fatalf("write %s: %v", src, err)
	}
	out := filepath.Join(dir, "libadd.so")
	args := []string{"-shared", "-fPIC", "-O2", "-g0", "-o", out, src}
	if output, err := exec.Command("cc", args...).CombinedOutput(); err != nil {
		t.Fatalf("cc %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return out
}

func callII(t *testing.T, addr uintptr, a, b int) int {
	t.Helper()
	if addr == 0 {
		t.Fatal("zero function address")
	}
	r1, _, _ := purego.SyscallN(addr, uintptr(a), uintptr(b))
	return int(int32(r1))
}

func TestLazyResolveAndCall(t *testing.T) {
	path := buildAddLib(t)
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"add", "mul"},
		Lazy:    true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tbl.Close()

	if tbl.Resolved(0) || tbl.Resolved(1) {
		t.Fatal("slots resolved before first use")
	}
	if tbl.Handle() != 0 {
		t.Fatal("library opened before first use")
	}

	if got := callII(t, tbl.Addr(0), 2, 3); got != 5 {
		t.Errorf("add(2, 3) = %d, want 5", got)
	}
	if !tbl.Resolved(0) {
		t.Error("slot 0 still unresolved after use")
	}
	if tbl.Resolved(1) {
		t.Error("slot 1 resolved without being used")
	}
	if tbl.Handle() == 0 {
		t.Error("library handle missing after first resolution")
	}

	if got := callII(t, tbl.Addr(1), 2, 3); got != 6 {
		t.Errorf("mul(2, 3) = %d, want 6", got)
	}
}

func TestEagerResolve(t *testing.T) {
	path := buildAddLib(t)
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"add", "mul"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tbl.Close()

	for i := 0; i < tbl.Len(); i++ {
		if !tbl.Resolved(i) {
			t.Errorf("slot %d unresolved after eager construction", i)
		}
	}

	// ResolveAll is idempotent: a second pass leaves every slot as it was.
	before := []uintptr{tbl.Addr(0), tbl.Addr(1)}
	tbl.ResolveAll()
	for i, addr := range before {
		if got := tbl.Addr(i); got != addr {
			t.Errorf("slot %d changed across ResolveAll: %#x -> %#x", i, addr, got)
		}
	}
}

func TestResetRoundTrip(t *testing.T) {
	path := buildAddLib(t)
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"add"},
		Lazy:    true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tbl.Close()

	if addr := tbl.Addr(0); addr == 0 {
		t.Fatal("first resolution yielded a zero address")
	}
	tbl.Reset()
	if tbl.Resolved(0) {
		t.Fatal("slot survived reset")
	}
	if tbl.Handle() != 0 {
		t.Fatal("library handle survived reset")
	}

	// The table revives on next use.
	if got := callII(t, tbl.Addr(0), 40, 2); got != 42 {
		t.Errorf("add(40, 2) after reset = %d, want 42", got)
	}
}

func TestNoDlopenResolvesResidentSymbols(t *testing.T) {
	// purego links against the system loader, so libc is resident in
	// every test process.
	tbl, err := shimrt.New(shimrt.Options{
		Library:  "libc",
		Names:    []string{"getpid"},
		NoDlopen: true,
		Lazy:     true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tbl.Close()

	addr := tbl.Addr(0)
	r1, _, _ := purego.SyscallN(addr)
	if got := int(int32(r1)); got != os.Getpid() {
		t.Errorf("getpid() through shim = %d, want %d", got, os.Getpid())
	}
	if tbl.Handle() != 0 {
		t.Error("process-scope table holds a library handle")
	}
}

func TestOpenCallback(t *testing.T) {
	path := buildAddLib(t)
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		t.Fatalf("Dlopen(%s): %v", path, err)
	}
	defer purego.Dlclose(handle)

	opened := 0
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"add"},
		Lazy:    true,
		Open: func() (uintptr, error) {
			opened++
			return handle, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := callII(t, tbl.Addr(0), 1, 2); got != 3 {
		t.Errorf("add(1, 2) = %d, want 3", got)
	}
	if opened != 1 {
		t.Errorf("open callback ran %d times, want 1", opened)
	}
	if tbl.Handle() != handle {
		t.Errorf("Handle() = %#x, want callback handle %#x", tbl.Handle(), handle)
	}

	// The table does not own a callback-provided handle; the library
	// must survive a reset.
	tbl.Reset()
	if got := callII(t, tbl.Addr(0), 1, 2); got != 3 {
		t.Errorf("add(1, 2) after reset = %d, want 3", got)
	}
}

func TestOpenImage(t *testing.T) {
	path := buildAddLib(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	tbl, err := shimrt.New(shimrt.Options{
		Library: "libadd (in-memory)",
		Names:   []string{"add"},
		Lazy:    true,
		Open: func() (uintptr, error) {
			return shimrt.OpenImage(data)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := callII(t, tbl.Addr(0), 20, 22); got != 42 {
		t.Errorf("add(20, 22) via in-memory image = %d, want 42", got)
	}
}

func TestConcurrentFirstUse(t *testing.T) {
	path := buildAddLib(t)
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"add"},
		Lazy:    true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tbl.Close()

	const workers = 16
	addrs := make([]uintptr, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addrs[i] = tbl.Addr(0)
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if addrs[i] != addrs[0] {
			t.Fatalf("racing resolutions disagree: %#x vs %#x", addrs[i], addrs[0])
		}
	}
	if got := callII(t, addrs[0], 2, 2); got != 4 {
		t.Errorf("add(2, 2) = %d, want 4", got)
	}
}

func TestReentrantResolveDuringLoadPanics(t *testing.T) {
	path := buildAddLib(t)

	// A shimmed call from inside the library-open step is a logic
	// error; it must stop loudly, not deadlock or recurse.
	var tbl *shimrt.Table
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"add"},
		Lazy:    true,
		Open: func() (uintptr, error) {
			tbl.Resolve(0)
			return 0, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	defer func() {
		msg, ok := recover().(string)
		if !ok {
			t.Fatal("reentrant resolve during load did not panic")
		}
		if !strings.Contains(msg, `"add"`) || !strings.Contains(msg, "during library load") {
			t.Errorf("panic names neither symbol nor condition: %s", msg)
		}
	}()
	tbl.Resolve(0)
}

func TestMissingSymbolPanics(t *testing.T) {
	path := buildAddLib(t)
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"no_such_symbol_xyz"},
		Lazy:    true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tbl.Close()

	defer func() {
		msg, ok := recover().(string)
		if !ok {
			t.Fatal("missing symbol did not panic")
		}
		if !strings.Contains(msg, "no_such_symbol_xyz") {
			t.Errorf("panic does not name the symbol: %s", msg)
		}
	}()
	tbl.Resolve(0)
}

func TestOutOfRangePanics(t *testing.T) {
	path := buildAddLib(t)
	tbl, err := shimrt.New(shimrt.Options{
		Library: path,
		Names:   []string{"add"},
		Lazy:    true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tbl.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("out-of-range index did not panic")
		}
	}()
	tbl.Resolve(7)
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		opts shimrt.Options
	}{
		{"no-names", shimrt.Options{Library: "x", Lazy: true}},
		{"version-count-mismatch", shimrt.Options{
			Library: "x", Names: []string{"a", "b"}, Versions: []string{"V1"}, Lazy: true,
		}},
		{"no-way-to-open", shimrt.Options{Names: []string{"a"}, Lazy: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := shimrt.New(tc.opts); err == nil {
				t.Fatal("New accepted invalid options")
			}
		})
	}
}
