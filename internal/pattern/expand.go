// Package pattern expands template placeholders used in prompts, fixup
// prompts, verification commands, and allowlist strings, and implements the
// deliberately-not-full-glob allowlist match used for authorization.
package pattern

import (
	"path/filepath"
	"strings"
)

// testSuffixes are trailing stems stripped from {file_stem} beyond the bare
// extension, so "foo.test.ts" yields "foo" rather than "foo.test".
var testSuffixes = []string{".test", ".spec"}

// ExtractStem returns the basename of path with its extension removed, and
// with a trailing .test/.spec further stripped so "foo.test.ts" yields "foo".
func ExtractStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for _, suf := range testSuffixes {
		if strings.HasSuffix(stem, suf) {
			stem = strings.TrimSuffix(stem, suf)
			break
		}
	}
	return stem
}

// FileDir returns the parent directory of path, "." if path has none.
func FileDir(path string) string {
	dir := filepath.Dir(path)
	if dir == "" {
		return "."
	}
	return dir
}

// Lister resolves the companion-file placeholders. DirGlob implements it using
// doublestar + gitignore filtering (see glob.go); tests can substitute a
// fake.
type Lister interface {
	AllFiles(dirPattern, sourcePath string) ([]string, error)
}

// Expand substitutes every recognized placeholder in template. The companion
// placeholders {all_files}/{test_files}/{created_files} are resolved by
// globbing allowlistPattern itself (with {file_stem}/{file_dir} substituted
// into it), not a hardcoded wildcard — a custom allowlist like
// "{file_dir}/**/*.go" governs what counts as a companion file exactly the
// same way it governs what the assistant may edit. lister may be nil if
// template references none of the three — callers should pass nil when no
// glob computation is needed, to avoid touching the filesystem.
func Expand(template, filePath, allowlistPattern string, lister Lister) (string, error) {
	stem := ExtractStem(filePath)
	dir := FileDir(filePath)

	out := substitute(template, filePath, stem, dir)

	needsAll := strings.Contains(out, "{all_files}")
	needsTest := strings.Contains(out, "{test_files}")
	needsCreated := strings.Contains(out, "{created_files}")
	if !needsAll && !needsTest && !needsCreated {
		return out, nil
	}

	var all []string
	if lister != nil {
		globPattern := substitute(allowlistPattern, filePath, stem, dir)
		found, err := lister.AllFiles(globPattern, filePath)
		if err != nil {
			return "", err
		}
		all = found
	}

	if needsAll {
		out = strings.ReplaceAll(out, "{all_files}", strings.Join(unionSource(all, filePath), " "))
	}
	if needsCreated {
		out = strings.ReplaceAll(out, "{created_files}", strings.Join(without(all, filePath), " "))
	}
	if needsTest {
		out = strings.ReplaceAll(out, "{test_files}", strings.Join(testFilesOf(all, filePath), " "))
	}
	return out, nil
}

func substitute(template, filePath, stem, dir string) string {
	out := template
	out = strings.ReplaceAll(out, "{file}", filePath)
	out = strings.ReplaceAll(out, "{file_stem}", stem)
	out = strings.ReplaceAll(out, "{file_dir}", dir)
	return out
}

func unionSource(files []string, source string) []string {
	for _, f := range files {
		if f == source {
			return files
		}
	}
	return append(append([]string{}, files...), source)
}

func without(files []string, source string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f != source {
			out = append(out, f)
		}
	}
	return out
}

var testMarkers = []string{".test.", ".spec.", "_test.", "_spec.", "/test/", "/tests/", "/__tests__/"}

func testFilesOf(files []string, source string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == source {
			continue
		}
		lower := strings.ToLower(f)
		for _, m := range testMarkers {
			if strings.Contains(lower, m) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
