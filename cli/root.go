package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/shimport/shimport"
)

var (
	opts       = shimport.DefaultOptions()
	symbolFile string
	quiet      bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "shimport <shared library>",
	Short: "Generate a lazy-loading import shim for a shared library",
	Long: `shimport reads the exported functions of an ELF shared library (or a
.def symbol list) and writes two source files: an assembly module with
one trampoline stub per function, and a C module that resolves the real
addresses through the dynamic loader on first call. Linking the pair
into a consumer removes the link-time dependency on the library.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case quiet:
			log.SetLevel(log.ErrorLevel)
		case verbose:
			log.SetLevel(log.DebugLevel)
		default:
			log.SetLevel(log.InfoLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts.Library = args[0]
		if symbolFile != "" {
			list, err := readSymbolList(symbolFile)
			if err != nil {
				return err
			}
			opts.SymbolList = list
		}
		res, err := shimport.Generate(opts)
		if err != nil {
			return err
		}
		log.Debugf("generated %d stubs for %s", len(res.Symbols), res.LoadName)
		return nil
	},
}

func init() {
	log.SetHandler(clihander.Default)

	f := rootCmd.Flags()
	f.StringVar(&opts.Target, "target", "", "target architecture (default: host)")
	f.StringVarP(&opts.Outdir, "outdir", "o", ".", "directory to write the generated files to")
	f.StringVar(&opts.Suffix, "suffix", "", "output file stem and symbol tag (default: library basename)")
	f.StringVar(&opts.LoadName, "library-load-name", "", "name the resolver passes to dlopen (default: SONAME)")
	f.BoolVar(&opts.Dlopen, "dlopen", true, "load the library via dlopen (disable to resolve against already resident code)")
	f.StringVar(&opts.DlopenCallback, "dlopen-callback", "", "user function the resolver calls to load the library")
	f.StringVar(&opts.DlsymCallback, "dlsym-callback", "", "user function the resolver calls to look up a symbol")
	f.BoolVar(&opts.Lazy, "lazy-load", true, "resolve each symbol on first call (disable to resolve all at startup)")
	f.BoolVar(&opts.ThreadSafe, "thread-safe", true, "serialize the library load across threads")
	f.BoolVar(&opts.ExportShims, "export-shims", false, "give the generated stubs default visibility")
	f.BoolVar(&opts.HiddenShims, "hidden-shims", false, "with --dlopen=false, search RTLD_DEFAULT instead of RTLD_NEXT")
	f.BoolVar(&opts.NoWeak, "no-weak-symbols", false, "do not generate stubs for weak symbols")
	f.BoolVar(&opts.Vtables, "vtables", false, "also generate interposable C++ vtable replicas")
	f.StringVar(&symbolFile, "symbol-list", "", "file listing the only symbols to generate stubs for, one per line")
	f.StringVar(&opts.SymbolPrefix, "symbol-prefix", "", "prefix to prepend to each generated stub name")
	f.BoolVarP(&quiet, "quiet", "q", false, "only print errors")
	f.BoolVarP(&verbose, "verbose", "v", false, "print per-symbol details")
}

// readSymbolList parses one symbol name per line; blank lines and
// #-comments are skipped.
func readSymbolList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read symbol list: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read symbol list: %w", err)
	}
	return names, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
