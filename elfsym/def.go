package elfsym

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	defExportRe  = regexp.MustCompile(`^\s+([A-Za-z0-9_]+)\s*$`)
	defLibraryRe = regexp.MustCompile(`^(?:LIBRARY|NAME)\s+([A-Za-z0-9_.\-]+)$`)
)

// ExtractDef reads exported function names from a module-definition
// (.def) text file, for wrapping libraries that are not at hand as
// binaries. Every export is treated as an unversioned function.
func ExtractDef(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	lib := &Library{
		SOName: strings.TrimSuffix(filepath.Base(path), ".def"),
	}

	inExports := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := defLibraryRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			lib.SOName = m[1]
			inExports = false
			continue
		}
		if strings.TrimSpace(line) == "EXPORTS" {
			inExports = true
			continue
		}
		if !inExports {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") { // blank or comment
			continue
		}
		m := defExportRe.FindStringSubmatch(line)
		if m == nil {
			inExports = false
			continue
		}
		lib.Symbols = append(lib.Symbols, Symbol{
			Name:           m[1],
			Kind:           KindFunc,
			DefaultVersion: true,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("scan def file: %w", err)}
	}

	sort.SliceStable(lib.Symbols, func(i, j int) bool {
		return lib.Symbols[i].Name < lib.Symbols[j].Name
	})
	return lib, nil
}
