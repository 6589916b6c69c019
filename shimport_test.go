package shimport_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/shimport/shimport"
	"github.com/shimport/shimport/arch"
	"github.com/shimport/shimport/elfsym"
	"github.com/shimport/shimport/emit"
)

const sampleSource = `
int add(int a, int b) { return a + b; }
int mul(int a, int b) { return a * b; }
int g_counter = 42;
`

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found in PATH", name)
	}
}

func requireNativeELFHost(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skipf("generated shims target ELF hosts, running on %s", runtime.GOOS)
	}
	switch runtime.GOARCH {
	case "amd64", "386", "arm64", "arm", "riscv64":
	default:
		t.Skipf("no native code model for %s", runtime.GOARCH)
	}
	requireCommand(t, "cc")
}

func runCmd(t *testing.T, env []string, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %s failed: %v\n%s", name, strings.Join(args, " "), err, output)
	}
	return string(output)
}

func buildSampleLib(t *testing.T, dir string) string {
	t.Helper()
	src := filepath.Join(dir, "sample.c")
	if err := os.WriteFile(src, []byte(sampleSource), 0o644); err != nil {
		t.Fatalf("write %s: %v", src, err)
	}
	out := filepath.Join(dir, "libsample.so")
	runCmd(t, nil, "cc", "-shared", "-fPIC", "-O2", "-g0",
		"-Wl,-soname,libsample.so", "-o", out, src)
	return out
}

func generateSample(t *testing.T, mutate func(*shimport.Options)) (shimport.Options, *shimport.Result) {
	t.Helper()
	dir := t.TempDir()
	opts := shimport.DefaultOptions()
	opts.Library = buildSampleLib(t, dir)
	opts.Outdir = dir
	opts.Suffix = "sample"
	if mutate != nil {
		mutate(&opts)
	}
	res, err := shimport.Generate(opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return opts, res
}

func TestGenerateArtifacts(t *testing.T) {
	requireNativeELFHost(t)
	_, res := generateSample(t, nil)

	if res.Tag != "sample" {
		t.Errorf("Tag = %q, want sample", res.Tag)
	}
	if res.LoadName != "libsample.so" {
		t.Errorf("LoadName = %q, want SONAME libsample.so", res.LoadName)
	}

	var names []string
	for _, s := range res.Symbols {
		names = append(names, s.Name)
	}
	if got, want := strings.Join(names, ","), "add,mul"; got != want {
		t.Errorf("stubbed symbols = %s, want %s", got, want)
	}

	tramp, err := os.ReadFile(res.TrampPath)
	if err != nil {
		t.Fatalf("read %s: %v", res.TrampPath, err)
	}
	for _, want := range []string{"_sample_tramp_table:", ".globl add", ".globl mul"} {
		if !strings.Contains(string(tramp), want) {
			t.Errorf("%s missing %q", res.TrampPath, want)
		}
	}

	initC, err := os.ReadFile(res.InitPath)
	if err != nil {
		t.Fatalf("read %s: %v", res.InitPath, err)
	}
	for _, want := range []string{`dlopen("libsample.so"`, "_sample_tramp_resolve"} {
		if !strings.Contains(string(initC), want) {
			t.Errorf("%s missing %q", res.InitPath, want)
		}
	}
}

func TestGenerateSymbolList(t *testing.T) {
	requireNativeELFHost(t)
	_, res := generateSample(t, func(o *shimport.Options) {
		o.SymbolList = []string{"add", "does_not_exist"}
	})

	if len(res.Symbols) != 1 || res.Symbols[0].Name != "add" {
		t.Fatalf("stubbed symbols = %v, want only add", res.Symbols)
	}
	tramp, err := os.ReadFile(res.TrampPath)
	if err != nil {
		t.Fatalf("read %s: %v", res.TrampPath, err)
	}
	if strings.Contains(string(tramp), ".globl mul") {
		t.Errorf("mul stub generated despite symbol list")
	}
}

func TestGenerateFromDef(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "sample.def")
	if err := os.WriteFile(defPath, []byte(`LIBRARY libsample.so.3
EXPORTS
    add
    mul
`), 0o644); err != nil {
		t.Fatalf("write def: %v", err)
	}

	opts := shimport.DefaultOptions()
	opts.Library = defPath
	opts.Outdir = dir
	opts.Target = "x86_64" // .def carries no machine, pin the model
	res, err := shimport.Generate(opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Tag != "sample" {
		t.Errorf("Tag = %q, want sample", res.Tag)
	}
	if res.LoadName != "libsample.so.3" {
		t.Errorf("LoadName = %q, want libsample.so.3", res.LoadName)
	}
	if len(res.Symbols) != 2 {
		t.Errorf("stubbed %d symbols, want 2", len(res.Symbols))
	}
	if _, err := os.Stat(res.TrampPath); err != nil {
		t.Errorf("trampoline module not written: %v", err)
	}
}

func TestGenerateAllOrNothing(t *testing.T) {
	requireNativeELFHost(t)

	dir := t.TempDir()
	opts := shimport.DefaultOptions()
	opts.Library = buildSampleLib(t, dir)
	opts.Outdir = dir
	opts.Suffix = "sample"

	// A directory squatting on one output path makes its rename fail
	// after the other may already have landed.
	blocked := filepath.Join(dir, "sample.init.c")
	if err := os.MkdirAll(filepath.Join(blocked, "occupied"), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", blocked, err)
	}

	if _, err := shimport.Generate(opts); err == nil {
		t.Fatal("Generate succeeded with an output path blocked")
	}

	if _, err := os.Stat(filepath.Join(dir, "sample.tramp.S")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("failed run left sample.tramp.S behind: %v", err)
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) > 0 {
		t.Errorf("failed run left staging files behind: %v", leftovers)
	}
}

func TestGenerateVtablesRejectedForDef(t *testing.T) {
	defPath := filepath.Join(t.TempDir(), "sample.def")
	if err := os.WriteFile(defPath, []byte("EXPORTS\n    add\n"), 0o644); err != nil {
		t.Fatalf("write def: %v", err)
	}

	opts := shimport.DefaultOptions()
	opts.Library = defPath
	opts.Target = "x86_64"
	opts.Vtables = true
	_, err := shimport.Generate(opts)
	var cfgErr *emit.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Generate: err = %v, want *ConfigError", err)
	}
}

func TestGenerateUnsupportedTarget(t *testing.T) {
	opts := shimport.DefaultOptions()
	opts.Library = "whatever.so"
	opts.Target = "sparc64"
	if _, err := shimport.Generate(opts); !errors.Is(err, arch.ErrUnsupported) {
		t.Fatalf("Generate: err = %v, want ErrUnsupported", err)
	}
}

func TestGenerateMissingLibrary(t *testing.T) {
	opts := shimport.DefaultOptions()
	opts.Library = filepath.Join(t.TempDir(), "nope.so")
	_, err := shimport.Generate(opts)
	var exErr *elfsym.ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("Generate: err = %v, want *ExtractionError", err)
	}
}

func TestGenerateRejectsNonLibraryInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte("not a library\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	opts := shimport.DefaultOptions()
	opts.Library = path
	_, err := shimport.Generate(opts)
	var exErr *elfsym.ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("Generate: err = %v, want *ExtractionError", err)
	}
}

// consumerSource calls through the shim only; the real library is never
// on the link line.
const consumerSource = `
#include <stdio.h>

extern int add(int, int);
extern int mul(int, int);
extern void _sample_tramp_reset(void);

int main(void) {
  printf("%d %d", add(2, 3), mul(4, 5));
  _sample_tramp_reset();
  printf(" %d\n", add(40, 2));
  return 0;
}
`

func TestGeneratedShimEndToEnd(t *testing.T) {
	requireNativeELFHost(t)

	modes := []struct {
		name   string
		mutate func(*shimport.Options)
	}{
		{"lazy", nil},
		{"eager", func(o *shimport.Options) { o.Lazy = false }},
		{"single-threaded", func(o *shimport.Options) { o.ThreadSafe = false }},
		{"export-shims", func(o *shimport.Options) { o.ExportShims = true }},
	}

	for _, mode := range modes {
		mode := mode
		t.Run(mode.name, func(t *testing.T) {
			opts, res := generateSample(t, mode.mutate)
			dir := opts.Outdir

			consumer := filepath.Join(dir, "consumer.c")
			if err := os.WriteFile(consumer, []byte(consumerSource), 0o644); err != nil {
				t.Fatalf("write consumer: %v", err)
			}
			bin := filepath.Join(dir, "consumer")
			runCmd(t, nil, "cc", "-o", bin, consumer, res.TrampPath, res.InitPath, "-ldl")

			out := runCmd(t, []string{"LD_LIBRARY_PATH=" + dir}, bin)
			if want := "5 20 42\n"; out != want {
				t.Fatalf("consumer output = %q, want %q", out, want)
			}
		})
	}
}

func TestGeneratedShimNoDlopenEndToEnd(t *testing.T) {
	requireNativeELFHost(t)

	opts, res := generateSample(t, func(o *shimport.Options) {
		o.Dlopen = false
	})
	dir := opts.Outdir

	consumer := filepath.Join(dir, "consumer.c")
	if err := os.WriteFile(consumer, []byte(consumerSource), 0o644); err != nil {
		t.Fatalf("write consumer: %v", err)
	}
	// With dlopen disabled resolution searches already resident code, so
	// here the real library is linked in as well; the shim still owns
	// the call sites.
	bin := filepath.Join(dir, "consumer")
	runCmd(t, nil, "cc", "-o", bin, consumer, res.TrampPath, res.InitPath,
		"-Wl,--no-as-needed", opts.Library, "-Wl,-rpath,"+dir, "-ldl")

	out := runCmd(t, nil, bin)
	if want := "5 20 42\n"; out != want {
		t.Fatalf("consumer output = %q, want %q", out, want)
	}
}
