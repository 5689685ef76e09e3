// Package orchestrator wires the prompt and verify pools to a Store,
// performs the seed pass that re-derives which queue each non-terminal file
// belongs on (the mechanism that makes resume-after-crash work), and drives
// graceful shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopforge/claudeloop/internal/assistant"
	"github.com/loopforge/claudeloop/internal/failurelog"
	"github.com/loopforge/claudeloop/internal/gitauth"
	"github.com/loopforge/claudeloop/internal/loopstate"
	"github.com/loopforge/claudeloop/internal/memmon"
	"github.com/loopforge/claudeloop/internal/pattern"
	"github.com/loopforge/claudeloop/internal/pooltask"
	"github.com/loopforge/claudeloop/internal/promptpool"
	"github.com/loopforge/claudeloop/internal/verifypool"
)

const queueCapacity = 100

// shutdownGracePeriod is how long in-flight workers get to finish their
// current flush after a shutdown signal before the orchestrator stops
// waiting for them.
const shutdownGracePeriod = 500 * time.Millisecond

// Options configures one orchestrator run.
type Options struct {
	Store      *loopstate.Store
	WorkingDir string
	Invoker    assistant.Invoker
	Lister     pattern.Lister
	Memory     *memmon.Monitor
	Failures   *failurelog.Logger
	StatePath  string

	// Shutdown, if non-nil, is closed to request graceful shutdown (e.g. on
	// SIGINT). The orchestrator never kills a subprocess mid-call; it waits
	// up to shutdownGracePeriod for in-flight work and then returns.
	Shutdown <-chan struct{}
}

// Run executes the seed pass, spawns both pools, and waits for completion or
// shutdown. It returns the final summary.
func Run(ctx context.Context, opts Options) (loopstate.Summary, error) {
	cfg := opts.Store.Config()

	var git *gitauth.Adapter
	if cfg.Git.Enabled {
		git = gitauth.New(opts.WorkingDir)
		if err := prepareGitBaseline(ctx, opts.Store, git, cfg); err != nil {
			return loopstate.Summary{}, fmt.Errorf("prepare git baseline: %w", err)
		}
	}

	promptQueue := make(chan pooltask.FileTask, queueCapacity)
	verifyQueue := make(chan pooltask.FileTask, queueCapacity)

	// The global allowlist must be complete and persisted before any worker
	// starts (a worker's classification pass needs to see every peer's
	// pattern from the start), but actually enqueueing tasks has to wait
	// until the pools below are spawned and draining — with more non-terminal
	// files than the channel capacity, enqueueing first would deadlock with
	// nothing yet receiving.
	if err := seedGlobalAllowlist(opts.Store, cfg); err != nil {
		return loopstate.Summary{}, fmt.Errorf("seed global allowlist: %w", err)
	}

	var memHandle *memmon.Handle
	memCtx, memCancel := context.WithCancel(ctx)
	defer memCancel()
	if opts.Memory != nil {
		memHandle = opts.Memory.Handle()
		go opts.Memory.Run(memCtx)
	} else {
		memHandle = memmon.New(100, 0, time.Hour).Handle() // never pauses
	}

	promptDeps := promptpool.Deps{
		Store: opts.Store, Config: cfg, Invoker: opts.Invoker,
		Git: git, WorkingDir: opts.WorkingDir, Lister: opts.Lister,
	}
	verifyDeps := verifypool.Deps{
		Store: opts.Store, Config: cfg, Invoker: opts.Invoker,
		Git: git, WorkingDir: opts.WorkingDir, Lister: opts.Lister,
		Memory: memHandle, Failures: opts.Failures,
	}

	verifyConcurrency := cfg.VerifyConcurrency
	if verifyConcurrency == 0 {
		verifyConcurrency = cfg.Concurrency
	}

	// Two independent groups: prompt workers are the sole producers onto
	// verifyQueue, so it can only be closed once every prompt worker has
	// returned — closing it earlier would either drop a pending send or
	// race a still-running producer.
	promptGroup, promptCtx := errgroup.WithContext(ctx)
	promptpool.Spawn(promptCtx, promptGroup, cfg.Concurrency, promptQueue, verifyQueue, promptDeps)

	verifyGroup, verifyCtx := errgroup.WithContext(ctx)
	verifypool.Spawn(verifyCtx, verifyGroup, verifyConcurrency, verifyQueue, verifyDeps)

	seeded, err := enqueueTasks(opts.Store, cfg, promptQueue, verifyQueue)
	if err != nil {
		return loopstate.Summary{}, fmt.Errorf("enqueue tasks: %w", err)
	}
	slog.Info("seeded run", "files", seeded, "run_id", opts.Store.RunID())

	close(promptQueue) // fully enqueued above; safe to close now that every task is in a queue

	done := make(chan error, 1)
	go func() {
		perr := promptGroup.Wait()
		close(verifyQueue)
		verr := verifyGroup.Wait()
		if perr != nil {
			done <- perr
			return
		}
		done <- verr
	}()

	select {
	case err := <-done:
		if err != nil {
			return loopstate.Summary{}, err
		}
	case <-opts.Shutdown:
		slog.Warn("shutdown requested, waiting for in-flight work to flush")
		select {
		case err := <-done:
			if err != nil {
				return loopstate.Summary{}, err
			}
		case <-time.After(shutdownGracePeriod):
			slog.Warn("grace period elapsed, returning with workers still in flight")
		}
	}

	summary := opts.Store.Summary()
	slog.Info("run summary",
		"total", summary.Total, "completed", summary.Completed, "failed", summary.Failed,
		"pending", summary.Pending, "in_progress", summary.Total-summary.Completed-summary.Failed-summary.Pending,
	)
	return summary, nil
}

// prepareGitBaseline captures the pre-run dirty set on first invocation
// (never again on resume — the baseline must stay fixed to the run's true
// start) and creates the task branch if auto-branch is requested and no
// branch has been created yet. Branch-creation failure is logged and
// ignored, matching the non-fatal policy for all git side effects.
func prepareGitBaseline(ctx context.Context, store *loopstate.Store, git *gitauth.Adapter, cfg loopstate.RunConfig) error {
	baseline := store.Baseline()
	if !baseline.Enabled {
		baseline = gitauth.Capture(ctx, git)
		if err := store.SetGitBaseline(baseline); err != nil {
			return err
		}
	}

	if cfg.Git.AutoBranch && baseline.Enabled && baseline.TaskBranch == "" {
		branch := gitauth.TaskBranchName(store.RunID(), time.Now())
		if err := git.CreateBranch(ctx, branch); err != nil {
			slog.Warn("git: auto-branch failed, continuing without a task branch", "error", err)
		} else {
			baseline.TaskBranch = branch
			if err := store.SetGitBaseline(baseline); err != nil {
				return err
			}
		}
	}
	return nil
}

// seedGlobalAllowlist walks every non-terminal file, expands its allowlist
// pattern, and adds it to the run's global allowlist union, persisting after
// each addition so the state on disk carries the full union before any
// worker starts.
func seedGlobalAllowlist(store *loopstate.Store, cfg loopstate.RunConfig) error {
	for path, status := range store.Paths() {
		if status.Terminal() {
			continue
		}
		allowlist, err := pattern.Expand(cfg.AllowlistPattern, path, cfg.AllowlistPattern, nil)
		if err != nil {
			return fmt.Errorf("expand allowlist for %s: %w", path, err)
		}
		if err := store.AddGlobalAllowlistPattern(allowlist); err != nil {
			return fmt.Errorf("persist global allowlist: %w", err)
		}
	}
	return nil
}

// enqueueTasks routes each non-terminal file onto the queue matching its
// current status — this is what lets a resumed run pick up a file already in
// AwaitingVerification without re-invoking the assistant — respecting the
// max-files cap by count of tasks enqueued. Called only after both pools are
// already spawned and draining, since the queues are bounded.
func enqueueTasks(store *loopstate.Store, cfg loopstate.RunConfig, promptQueue, verifyQueue chan pooltask.FileTask) (int, error) {
	seeded := 0
	for path, status := range store.Paths() {
		if cfg.MaxFiles > 0 && seeded >= cfg.MaxFiles {
			break
		}
		switch status {
		case loopstate.StatusPending, loopstate.StatusPromptInProgress:
			promptQueue <- pooltask.FileTask{Path: path}
			seeded++
		case loopstate.StatusAwaitingVerification, loopstate.StatusVerifyInProgress, loopstate.StatusFixupInProgress:
			verifyQueue <- pooltask.FileTask{Path: path}
			seeded++
		}
	}
	return seeded, nil
}
