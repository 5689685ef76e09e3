// Package gitauth wraps the git CLI for baseline capture, task-branch
// creation, and the authorization classification that tells a legitimate
// assistant edit from an unauthorized one when many workers touch the same
// repository concurrently.
package gitauth

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const cmdTimeout = 30 * time.Second

// Adapter is a thin wrapper over the git CLI rooted at a working directory.
type Adapter struct {
	WorkingDir string
}

func New(workingDir string) *Adapter { return &Adapter{WorkingDir: workingDir} }

func (a *Adapter) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = a.WorkingDir
	out, err := cmd.Output()
	return string(out), err
}

// IsRepo reports whether WorkingDir is inside a git working tree.
func (a *Adapter) IsRepo(ctx context.Context) bool {
	_, err := a.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// CurrentBranch returns the checked-out branch name.
func (a *Adapter) CurrentBranch(ctx context.Context) (string, error) {
	out, err := a.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// DirtySet returns the set of paths git status reports as modified, added,
// deleted, or untracked, handling rename arrows by keeping the new name.
func (a *Adapter) DirtySet(ctx context.Context) (map[string]bool, error) {
	out, err := a.run(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	set := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		if path != "" {
			set[path] = true
		}
	}
	return set, nil
}

// CreateBranch creates and checks out name.
func (a *Adapter) CreateBranch(ctx context.Context, name string) error {
	if _, err := a.run(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("git checkout -b %s: %w", name, err)
	}
	return nil
}

// CheckoutBranch checks out an existing branch.
func (a *Adapter) CheckoutBranch(ctx context.Context, name string) error {
	if _, err := a.run(ctx, "checkout", name); err != nil {
		return fmt.Errorf("git checkout %s: %w", name, err)
	}
	return nil
}

// StageFiles runs "git add --" over paths; a no-op on an empty slice.
func (a *Adapter) StageFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	if _, err := a.run(ctx, args...); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	return nil
}

// Commit commits staged changes with message. "nothing to commit" is treated
// as a successful no-op, returning an empty hash.
func (a *Adapter) Commit(ctx context.Context, message string) (hash string, err error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctxTimeout, "git", "commit", "-m", message)
	cmd.Dir = a.WorkingDir
	out, cmdErr := cmd.CombinedOutput()
	if cmdErr != nil {
		if strings.Contains(string(out), "nothing to commit") {
			return "", nil
		}
		return "", fmt.Errorf("git commit: %s", strings.TrimSpace(string(out)))
	}
	short, err := a.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(short), nil
}

// TaskBranchName derives a deterministic branch name for a task id, timestamped
// to the UTC second so repeated branches for the same task don't collide.
func TaskBranchName(taskID string, now time.Time) string {
	return fmt.Sprintf("claude-loop/%s-%s", taskID, now.UTC().Format("20060102-150405"))
}
