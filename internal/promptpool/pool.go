// Package promptpool implements the first of the two worker pools: each
// worker takes a pending file, invokes the assistant once, classifies any
// resulting git changes, and either completes the file (no verify command
// configured) or hands it to the verify pool.
package promptpool

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/loopforge/claudeloop/internal/assistant"
	"github.com/loopforge/claudeloop/internal/gitauth"
	"github.com/loopforge/claudeloop/internal/loopstate"
	"github.com/loopforge/claudeloop/internal/pattern"
	"github.com/loopforge/claudeloop/internal/pooltask"
	"github.com/loopforge/claudeloop/internal/resultline"
)

// FileTask is one unit of work flowing through the pools.
type FileTask = pooltask.FileTask

// Deps bundles the collaborators a prompt worker needs.
type Deps struct {
	Store      *loopstate.Store
	Config     loopstate.RunConfig
	Invoker    assistant.Invoker
	Git        *gitauth.Adapter // nil if git disabled
	WorkingDir string
	Lister     pattern.Lister
}

// Spawn runs concurrency prompt workers against the errgroup g, consuming
// from in and producing onto out (out is never closed here — the caller
// closes it once every prompt worker has returned).
func Spawn(ctx context.Context, g *errgroup.Group, concurrency int, in <-chan FileTask, out chan<- FileTask, deps Deps) {
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			worker(ctx, in, out, deps)
			return nil
		})
	}
}

func worker(ctx context.Context, in <-chan FileTask, out chan<- FileTask, deps Deps) {
	for task := range in {
		process(ctx, task, out, deps)
	}
}

func process(ctx context.Context, task FileTask, out chan<- FileTask, deps Deps) {
	path := task.Path
	log := slog.With("file", path)

	if err := deps.Store.UpdateStatus(path, loopstate.StatusPromptInProgress); err != nil {
		log.Error("update status", "error", err)
		return
	}

	allowlist, err := pattern.Expand(deps.Config.AllowlistPattern, path, deps.Config.AllowlistPattern, deps.Lister)
	if err != nil {
		log.Error("expand allowlist", "error", err)
		failTask(deps.Store, path, err.Error())
		return
	}

	original := deps.Store.OriginalData(path)
	prompt := assistant.BuildPrompt(deps.Config.Prompt, path, original, allowlist)

	log.Info("invoking assistant", "attempt", "initial")
	output, err := deps.Invoker.Invoke(ctx, prompt, deps.WorkingDir)
	if err != nil {
		log.Warn("assistant invocation failed", "error", err)
		failTask(deps.Store, path, err.Error())
		return
	}

	if deps.Git != nil {
		classifyAndLog(ctx, deps, path, allowlist, log)
	}

	result := resultline.Parse(output.Stdout)
	if err := deps.Store.SetResult(path, result.Value, result.Raw); err != nil {
		log.Error("set result", "error", err)
	}

	if deps.Config.VerificationCmd == "" {
		if err := deps.Store.UpdateStatus(path, loopstate.StatusCompleted); err != nil {
			log.Error("update status", "error", err)
		}
		return
	}

	if err := deps.Store.UpdateStatus(path, loopstate.StatusAwaitingVerification); err != nil {
		log.Error("update status", "error", err)
		return
	}
	out <- task
}

func classifyAndLog(ctx context.Context, deps Deps, path, allowlist string, log *slog.Logger) {
	current, err := deps.Git.DirtySet(ctx)
	if err != nil {
		log.Warn("git status failed, skipping authorization check", "error", err)
		return
	}
	baseline := deps.Store.Baseline()
	global := deps.Store.GlobalAllowlist()
	_, unauthorized := gitauth.Classify(current, baseline, allowlist, global)
	for _, u := range unauthorized {
		log.Warn("unauthorized file change detected", "path", u)
	}
}

func failTask(store *loopstate.Store, path, errMsg string) {
	_ = store.SetError(path, errMsg)
	_ = store.UpdateStatus(path, loopstate.StatusFailed)
}
