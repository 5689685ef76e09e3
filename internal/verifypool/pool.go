// Package verifypool implements the second worker pool: run the
// verification command, and on failure loop the assistant through a bounded
// number of fixup attempts before giving up.
package verifypool

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopforge/claudeloop/internal/assistant"
	"github.com/loopforge/claudeloop/internal/gitauth"
	"github.com/loopforge/claudeloop/internal/loopstate"
	"github.com/loopforge/claudeloop/internal/memmon"
	"github.com/loopforge/claudeloop/internal/pattern"
	"github.com/loopforge/claudeloop/internal/pooltask"
	"github.com/loopforge/claudeloop/internal/resultline"
)

// FileTask is one unit of work flowing through the pools.
type FileTask = pooltask.FileTask

// FailureLogger appends a verification-failure transcript entry for path.
type FailureLogger interface {
	Append(path, entry string) error
}

// Deps bundles the collaborators a verify worker needs.
type Deps struct {
	Store      *loopstate.Store
	Config     loopstate.RunConfig
	Invoker    assistant.Invoker
	Git        *gitauth.Adapter // nil if git disabled
	WorkingDir string
	Lister     pattern.Lister
	Memory     *memmon.Handle
	Failures   FailureLogger
}

// Spawn runs concurrency verify workers. If no verification command is
// configured, each worker exits immediately without consuming from in — the
// caller is responsible for ensuring no tasks are ever sent to in in that
// case (the orchestrator's seed pass never routes Pending/PromptInProgress
// files to the verify queue, and the prompt pool only forwards here when a
// verification command exists).
func Spawn(ctx context.Context, g *errgroup.Group, concurrency int, in <-chan FileTask, deps Deps) {
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			if deps.Config.VerificationCmd == "" {
				return nil
			}
			worker(ctx, in, deps)
			return nil
		})
	}
}

func worker(ctx context.Context, in <-chan FileTask, deps Deps) {
	for task := range in {
		process(ctx, task, deps)
	}
}

func process(ctx context.Context, task FileTask, deps Deps) {
	path := task.Path
	log := slog.With("file", path)

	deps.Memory.WaitIfPaused(ctx)

	allowlist, err := pattern.Expand(deps.Config.AllowlistPattern, path, deps.Config.AllowlistPattern, deps.Lister)
	if err != nil {
		log.Error("expand allowlist", "error", err)
		failTask(deps.Store, path, err.Error())
		return
	}

	for {
		deps.Memory.WaitIfPaused(ctx)

		if err := deps.Store.UpdateStatus(path, loopstate.StatusVerifyInProgress); err != nil {
			log.Error("update status", "error", err)
			return
		}

		verifyCmd, err := pattern.Expand(deps.Config.VerificationCmd, path, deps.Config.AllowlistPattern, deps.Lister)
		if err != nil {
			log.Error("expand verify command", "error", err)
			failTask(deps.Store, path, err.Error())
			return
		}

		attempt := deps.Store.GetAttempts(path)
		log.Info("running verification", "attempt", attempt)
		stdout, stderr, exitCode, spawnErr := runShell(ctx, verifyCmd, deps.WorkingDir)
		if spawnErr != nil {
			log.Warn("verify command failed to spawn", "error", spawnErr)
			failTask(deps.Store, path, spawnErr.Error())
			return
		}

		if exitCode == 0 {
			if deps.Git != nil && deps.Config.Git.AutoCommit {
				// A nil lister never fails; the template's placeholders are
				// expanded against this file.
				description, _ := pattern.Expand(deps.Config.Git.CommitMessageTemplate, path, deps.Config.AllowlistPattern, nil)
				hash, err := gitauth.CommitFileChanges(ctx, deps.Git, path, description)
				if err != nil {
					log.Warn("auto-commit failed, continuing", "error", err)
				} else if hash != "" {
					log.Info("auto-committed", "hash", hash)
				} else {
					log.Debug("auto-commit: nothing to commit")
				}
			}
			if err := deps.Store.UpdateStatus(path, loopstate.StatusCompleted); err != nil {
				log.Error("update status", "error", err)
			}
			return
		}

		errorOutput := assistant.PreferStderr(stdout, stderr)
		attempt, err = deps.Store.IncrementAttempts(path)
		if err != nil {
			log.Error("increment attempts", "error", err)
			return
		}

		if deps.Failures != nil {
			_ = deps.Failures.Append(path, fmt.Sprintf("verification failed (attempt %d):\n%s", attempt, errorOutput))
		}

		if attempt >= deps.Config.MaxRetries {
			log.Warn("max retries exhausted, marking failed", "attempts", attempt)
			_ = deps.Store.SetError(path, errorOutput)
			if err := deps.Store.UpdateStatus(path, loopstate.StatusFailed); err != nil {
				log.Error("update status", "error", err)
			}
			if deps.Failures != nil {
				_ = deps.Failures.Append(path, "FINAL STATUS: FAILED after max retries")
			}
			return
		}

		log.Warn("verification failed, running fixup", "attempts", attempt)
		if err := deps.Store.UpdateStatus(path, loopstate.StatusFixupInProgress); err != nil {
			log.Error("update status", "error", err)
			return
		}

		fixupPrompt := deps.Config.FixupPrompt
		if fixupPrompt == "" {
			fixupPrompt = assistant.DefaultFixupPrompt
		}
		prompt := assistant.BuildFixupPrompt(fixupPrompt, path, errorOutput, allowlist)
		if deps.Failures != nil {
			_ = deps.Failures.Append(path, fmt.Sprintf("fixup prompt:\n%s", prompt))
		}

		output, err := deps.Invoker.Invoke(ctx, prompt, deps.WorkingDir)
		if err != nil {
			log.Warn("fixup invocation failed", "error", err)
			failTask(deps.Store, path, err.Error())
			return
		}
		if deps.Failures != nil {
			_ = deps.Failures.Append(path, fmt.Sprintf("fixup response:\nstdout:\n%s\nstderr:\n%s", output.Stdout, output.Stderr))
		}

		result := resultline.Parse(output.Stdout)
		if err := deps.Store.SetResult(path, result.Value, result.Raw); err != nil {
			log.Error("set result", "error", err)
		}
		log.Info("fixup complete, re-verifying")
		// loop back to re-verify
	}
}

func failTask(store *loopstate.Store, path, errMsg string) {
	_ = store.SetError(path, errMsg)
	_ = store.UpdateStatus(path, loopstate.StatusFailed)
}

const shellTimeout = 10 * time.Minute

func runShell(ctx context.Context, command, workingDir string) (stdout, stderr string, exitCode int, err error) {
	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workingDir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if runErr == nil {
		return outBuf.String(), errBuf.String(), 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return outBuf.String(), errBuf.String(), exitErr.ExitCode(), nil
	}
	return outBuf.String(), errBuf.String(), -1, runErr
}
