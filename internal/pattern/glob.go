package pattern

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// DirGlob resolves {all_files}/{test_files}/{created_files} against a real
// filesystem rooted at workingDir, using doublestar so "**" allowlist
// patterns expand recursively (plain filepath.Glob cannot do this), then
// drops any path ignored by the repo's .gitignore.
type DirGlob struct {
	workingDir string

	once   sync.Once
	ignore *gitignore.GitIgnore
}

// NewDirGlob returns a Lister rooted at workingDir.
func NewDirGlob(workingDir string) *DirGlob {
	return &DirGlob{workingDir: workingDir}
}

func (g *DirGlob) loadIgnore() {
	g.once.Do(func() {
		path := filepath.Join(g.workingDir, ".gitignore")
		if _, err := os.Stat(path); err != nil {
			return
		}
		ign, err := gitignore.CompileIgnoreFile(path)
		if err == nil {
			g.ignore = ign
		}
	})
}

// AllFiles implements Lister. dirPattern is a doublestar pattern relative to
// workingDir (e.g. "src/**/*reducer*"). sourcePath is not used here; Expand
// adds or removes the source file itself.
func (g *DirGlob) AllFiles(dirPattern, sourcePath string) ([]string, error) {
	g.loadIgnore()

	fsys := os.DirFS(g.workingDir)
	rel := toSlash(dirPattern)
	matches, err := doublestar.Glob(fsys, rel)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if g.ignore != nil && g.ignore.MatchesPath(m) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func toSlash(p string) string {
	return filepath.ToSlash(p)
}
