package gitauth

import (
	"context"
	"log/slog"

	"github.com/loopforge/claudeloop/internal/loopstate"
	"github.com/loopforge/claudeloop/internal/pattern"
)

// Capture records the pre-run branch and dirty set into a GitBaseline. If
// workingDir isn't a git repository, it returns a disabled baseline and all
// git behaviour for the run is skipped.
func Capture(ctx context.Context, a *Adapter) loopstate.GitBaseline {
	if !a.IsRepo(ctx) {
		return loopstate.GitBaseline{Enabled: false}
	}
	branch, err := a.CurrentBranch(ctx)
	if err != nil {
		slog.Warn("git: failed to read current branch", "error", err)
	}
	dirty, err := a.DirtySet(ctx)
	if err != nil {
		slog.Warn("git: failed to read dirty set", "error", err)
		dirty = map[string]bool{}
	}
	return loopstate.GitBaseline{
		OriginalBranch:        branch,
		PreExistingDirtyFiles: dirty,
		Enabled:               true,
	}
}

// Classify partitions the current dirty set minus the baseline into allowed
// and unauthorized paths, given this worker's own expanded allowlist pattern
// plus the run-wide global allowlist union.
func Classify(current map[string]bool, baseline loopstate.GitBaseline, workerAllowlist string, globalAllowlist []string) (allowed, unauthorized []string) {
	for p := range current {
		if baseline.WasPreExistingDirty(p) {
			continue
		}
		if pattern.Matches(p, workerAllowlist) || pattern.MatchesAny(p, globalAllowlist) {
			allowed = append(allowed, p)
		} else {
			unauthorized = append(unauthorized, p)
		}
	}
	return allowed, unauthorized
}
