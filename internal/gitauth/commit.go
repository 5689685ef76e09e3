package gitauth

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loopforge/claudeloop/internal/pattern"
)

// CommitFileChanges stages every currently-dirty path whose name contains
// filePath's stem (or that equals filePath itself), then commits them with a
// message derived from the file and an optional description. Returns the
// short commit hash, or "" if there was nothing to commit.
func CommitFileChanges(ctx context.Context, a *Adapter, filePath, description string) (string, error) {
	dirty, err := a.DirtySet(ctx)
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}

	stem := pattern.ExtractStem(filePath)
	var toStage []string
	for p := range dirty {
		if p == filePath || strings.Contains(p, stem) {
			toStage = append(toStage, p)
		}
	}
	if len(toStage) == 0 {
		return "", nil
	}

	if err := a.StageFiles(ctx, toStage); err != nil {
		return "", err
	}

	base := filepath.Base(filePath)
	message := fmt.Sprintf("claude-loop: %s", base)
	if description != "" {
		message = fmt.Sprintf("claude-loop: %s (%s)", base, description)
	}
	return a.Commit(ctx, message)
}
