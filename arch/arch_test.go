package arch_test

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/shimport/shimport/arch"
)

func TestNames(t *testing.T) {
	want := []string{
		"aarch64", "arm", "i386", "mips", "mips64",
		"powerpc64", "powerpc64le", "riscv64", "x86_64",
	}
	if got := arch.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestLookupNormalizesTargetNames(t *testing.T) {
	cases := []struct {
		target string
		want   string
	}{
		{"x86_64", "x86_64"},
		{"x86_64-unknown-linux-gnu", "x86_64"},
		{"amd64", "x86_64"},
		{"i386", "i386"},
		{"i686-pc-linux-gnu", "i386"},
		{"aarch64", "aarch64"},
		{"aarch64-linux-gnu", "aarch64"},
		{"arm64", "aarch64"},
		{"armv8-a", "aarch64"},
		{"arm", "arm"},
		{"armhf", "arm"},
		{"armv7l-unknown-linux-gnueabihf", "arm"},
		{"mips", "mips"},
		{"mipsel-linux-gnu", "mips"},
		{"mips64", "mips64"},
		{"mips64el-linux-gnuabi64", "mips64"},
		{"ppc64", "powerpc64"},
		{"powerpc64-linux-gnu", "powerpc64"},
		{"ppc64le", "powerpc64le"},
		{"powerpc64le-linux-gnu", "powerpc64le"},
		{"riscv64", "riscv64"},
		{"rv64gc", "riscv64"},
		{"riscv64-linux-gnu", "riscv64"},
	}
	for _, tc := range cases {
		m, err := arch.Lookup(tc.target)
		if err != nil {
			t.Errorf("Lookup(%q): %v", tc.target, err)
			continue
		}
		if m.Name != tc.want {
			t.Errorf("Lookup(%q) = %s, want %s", tc.target, m.Name, tc.want)
		}
	}
}

func TestLookupUnsupported(t *testing.T) {
	for _, target := range []string{"sparc64", "wasm32-unknown-unknown", "s390x-ibm-linux", ""} {
		if _, err := arch.Lookup(target); !errors.Is(err, arch.ErrUnsupported) {
			t.Errorf("Lookup(%q): err = %v, want ErrUnsupported", target, err)
		}
	}
}

func TestTableLayout(t *testing.T) {
	for _, name := range arch.Names() {
		m, err := arch.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if m.PointerSize != 4 && m.PointerSize != 8 {
			t.Errorf("%s: pointer size %d", name, m.PointerSize)
		}

		table := m.Table("mylib", 3)
		if !strings.Contains(table, "_mylib_tramp_table:") {
			t.Errorf("%s: table label missing:\n%s", name, table)
		}
		// Three slots plus the trailing sentinel.
		if want := fmt.Sprintf(".zero %d", 4*m.PointerSize); !strings.Contains(table, want) {
			t.Errorf("%s: table missing %q:\n%s", name, want, table)
		}
	}
}

func TestGlueDefinesResolverEntry(t *testing.T) {
	for _, name := range arch.Names() {
		m, _ := arch.Lookup(name)
		glue := m.Glue("mylib")
		if !strings.Contains(glue, "_mylib_save_regs_and_resolve") {
			t.Errorf("%s: glue entry missing:\n%s", name, glue)
		}
		if !strings.Contains(glue, "_mylib_tramp_resolve") {
			t.Errorf("%s: glue never reaches the resolver:\n%s", name, glue)
		}
	}
}

func TestTrampolineAddressesOwnSlot(t *testing.T) {
	for _, name := range arch.Names() {
		m, _ := arch.Lookup(name)

		tramp := m.Trampoline("mylib", "frobnicate", 5, true)
		if !strings.Contains(tramp, "frobnicate:") {
			t.Errorf("%s: stub label missing:\n%s", name, tramp)
		}
		if !strings.Contains(tramp, ".globl frobnicate") {
			t.Errorf("%s: stub not exported to the linker:\n%s", name, tramp)
		}
		if !strings.Contains(tramp, ".hidden frobnicate") {
			t.Errorf("%s: hidden stub lacks visibility directive:\n%s", name, tramp)
		}
		if !strings.Contains(tramp, "_mylib_tramp_table") {
			t.Errorf("%s: stub never touches the table:\n%s", name, tramp)
		}
		// The slow path must hand exactly index 5 to the glue.
		if !strings.Contains(tramp, "5") {
			t.Errorf("%s: stub carries no index literal:\n%s", name, tramp)
		}

		visible := m.Trampoline("mylib", "frobnicate", 5, false)
		if strings.Contains(visible, ".hidden frobnicate") {
			t.Errorf("%s: exported stub still hidden:\n%s", name, visible)
		}
	}
}

func TestTrampolineCarriesLargeIndex(t *testing.T) {
	// Index literals must survive past the 16-bit immediate range of
	// single move instructions (aarch64 movz, ppc64 li).
	const index = 70000
	for _, name := range arch.Names() {
		m, _ := arch.Lookup(name)
		tramp := m.Trampoline("mylib", "frobnicate", index, true)
		if !strings.Contains(tramp, fmt.Sprintf("%d", index)) {
			t.Errorf("%s: stub lost index %d:\n%s", name, index, tramp)
		}
	}

	aarch64, _ := arch.Lookup("aarch64")
	tramp := aarch64.Trampoline("mylib", "frobnicate", index, true)
	for _, want := range []string{"movz x16", "movk x16"} {
		if !strings.Contains(tramp, want) {
			t.Errorf("aarch64: stub missing %q:\n%s", want, tramp)
		}
	}

	for _, name := range []string{"powerpc64", "powerpc64le"} {
		m, _ := arch.Lookup(name)
		tramp := m.Trampoline("mylib", "frobnicate", index, true)
		for _, want := range []string{"lis %r11", "ori %r11"} {
			if !strings.Contains(tramp, want) {
				t.Errorf("%s: stub missing %q:\n%s", name, want, tramp)
			}
		}
	}
}

func TestTrampolineOffsetsFollowPointerSize(t *testing.T) {
	for _, name := range arch.Names() {
		m, _ := arch.Lookup(name)
		a := m.Trampoline("mylib", "sym_a", 1, true)
		b := m.Trampoline("mylib", "sym_b", 2, true)
		if strings.ReplaceAll(a, "sym_a", "sym_b") == b {
			t.Errorf("%s: stubs for different indices are identical", name)
		}
		if !strings.Contains(a, fmt.Sprintf("%d", m.PointerSize)) {
			t.Errorf("%s: stub for index 1 never mentions slot offset %d:\n%s", name, m.PointerSize, a)
		}
	}
}
