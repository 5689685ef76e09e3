package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopforge/claudeloop/internal/assistant"
	"github.com/loopforge/claudeloop/internal/config"
	"github.com/loopforge/claudeloop/internal/failurelog"
	"github.com/loopforge/claudeloop/internal/loopstate"
	"github.com/loopforge/claudeloop/internal/memmon"
	"github.com/loopforge/claudeloop/internal/orchestrator"
	"github.com/loopforge/claudeloop/internal/pattern"
	"github.com/loopforge/claudeloop/internal/reporter"
	"github.com/loopforge/claudeloop/internal/tasks"

	tea "github.com/charmbracelet/bubbletea"
)

func newRunCmd() *cobra.Command {
	var (
		input             string
		prompt            string
		fixupPrompt       string
		verificationCmd   string
		allowlistPattern  string
		concurrency       int
		verifyConcurrency int
		maxFiles          int
		maxRetries        int
		tasksDir          string
		resumeTaskID      string
		workingDir        string
		dryRun            bool
		gitEnabled        bool
		gitAutoBranch     bool
		gitAutoCommit     bool
		commitMessage     string
		tuiMode           string
		memHigh           float64
		memLow            float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the prompt/verify loop over an input manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := config.CLIOverrides{
				Input:             input,
				InputSet:          cmd.Flags().Changed("input"),
				Prompt:            prompt,
				PromptSet:         cmd.Flags().Changed("prompt"),
				FixupPrompt:       fixupPrompt,
				FixupPromptSet:    cmd.Flags().Changed("fixup"),
				VerificationCmd:   verificationCmd,
				VerificationSet:   cmd.Flags().Changed("verify"),
				AllowlistPattern:  allowlistPattern,
				AllowlistPatternSet: cmd.Flags().Changed("allowlist"),
				Concurrency:       concurrency,
				ConcurrencySet:    cmd.Flags().Changed("concurrency"),
				VerifyConcurrency: verifyConcurrency,
				VerifyConcurrencySet: cmd.Flags().Changed("verify-concurrency"),
				MaxFiles:          maxFiles,
				MaxFilesSet:       cmd.Flags().Changed("max-files"),
				MaxRetries:        maxRetries,
				MaxRetriesSet:     cmd.Flags().Changed("max-retries"),
				GitEnabled:        gitEnabled,
				GitAutoBranch:     gitAutoBranch,
				GitAutoCommit:     gitAutoCommit,
				CommitMessageTemplate:    commitMessage,
				CommitMessageTemplateSet: cmd.Flags().Changed("git-commit-message"),
			}

			settings, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// Config-file defaults only fill gaps for a brand new task. On
			// --resume the saved RunConfig already has concrete values for
			// every field, and those must win over the config file — only an
			// actual CLI flag may override a resumed run.
			if resumeTaskID == "" {
				applySettingsDefaults(&overrides, cmd, settings)
			}

			if workingDir == "" {
				workingDir = "."
			}
			absWorkingDir, err := filepath.Abs(workingDir)
			if err != nil {
				return fmt.Errorf("resolve working dir: %w", err)
			}

			registry, err := tasks.LoadOrCreate(tasksDir)
			if err != nil {
				return fmt.Errorf("load task registry: %w", err)
			}

			taskID, statePath, state, err := resolveTask(registry, tasksDir, resumeTaskID, absWorkingDir, overrides)
			if err != nil {
				return err
			}

			store := loopstate.New(state, statePath)
			if overrides.Input != "" {
				if _, err := store.MergeInputManifest(overrides.Input); err != nil {
					return fmt.Errorf("merge input manifest: %w", err)
				}
			}

			if dryRun {
				summary := store.Summary()
				fmt.Fprintf(os.Stdout, "%s: %d files tracked, %d pending\n", taskID, summary.Total, summary.Pending)
				return nil
			}

			isTTY := isTerminal()
			textRep := reporter.NewTextReporter(os.Stdout, isTTY)
			cfg := store.Config()
			textRep.PrintHeader(taskID, store.Summary().Total, effectiveConcurrency(cfg.Concurrency), effectiveConcurrency(cfg.VerifyConcurrency))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			shutdown := make(chan struct{})
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "\ninterrupted — waiting for in-flight work to flush...")
				close(shutdown)
			}()

			monitor := memmon.New(memHigh, memLow, 2*time.Second)
			logger := failurelog.New(tasksDir)
			lister := pattern.NewDirGlob(absWorkingDir)

			runTUI := tuiMode == "full" || (tuiMode == "auto" && isTTY)

			opts := orchestrator.Options{
				Store:      store,
				WorkingDir: absWorkingDir,
				Invoker:    assistant.CLIInvoker{},
				Lister:     lister,
				Memory:     monitor,
				Failures:   logger,
				StatePath:  statePath,
				Shutdown:   shutdown,
			}

			var summary loopstate.Summary
			if runTUI {
				summary, err = runWithTUI(ctx, taskID, opts, monitor)
			} else {
				summary, err = orchestrator.Run(ctx, opts)
			}
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			if summary.Total > 0 && summary.Completed+summary.Failed == summary.Total {
				if err := registry.MarkCompleted(taskID); err != nil {
					slog.Warn("mark task completed failed", "task", taskID, "error", err)
				}
			}

			textRep.PrintSummary(summary)
			if summary.Failed > 0 {
				fmt.Fprintf(os.Stderr, "%d files failed verification\n", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to the JSON input manifest (path -> original data)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "base prompt sent to the assistant for each file")
	cmd.Flags().StringVar(&fixupPrompt, "fixup", "", "prompt used to re-invoke the assistant after a failed verification")
	cmd.Flags().StringVar(&verificationCmd, "verify", "", "shell command run to verify each file; empty skips verification")
	cmd.Flags().StringVar(&allowlistPattern, "allowlist", loopstate.DefaultAllowlistPattern, "template the assistant is restricted to editing")
	cmd.Flags().IntVar(&concurrency, "concurrency", loopstate.DefaultConcurrency, "parallel prompt workers")
	cmd.Flags().IntVar(&verifyConcurrency, "verify-concurrency", 0, "parallel verify workers (defaults to --concurrency)")
	cmd.Flags().IntVar(&maxFiles, "max-files", 0, "cap the number of files processed this run (0 = no cap)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", loopstate.DefaultMaxRetries, "maximum fixup attempts per file before marking it failed")
	cmd.Flags().StringVar(&tasksDir, "tasks-dir", "./claude-loop-tasks", "directory holding the task registry and state files")
	cmd.Flags().StringVar(&resumeTaskID, "resume", "", "resume an existing task id instead of starting a new run; bare --resume picks the first incomplete task")
	cmd.Flags().Lookup("resume").NoOptDefVal = "-"
	cmd.Flags().StringVar(&workingDir, "working-dir", ".", "repository root the assistant and verification command run in")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report tracked file counts without invoking the assistant")
	cmd.Flags().BoolVar(&gitEnabled, "git", false, "capture a git baseline and classify unauthorized changes")
	cmd.Flags().BoolVar(&gitAutoBranch, "git-branch", false, "create a dedicated task branch before running")
	cmd.Flags().BoolVar(&gitAutoCommit, "git-commit", false, "auto-commit each file once it completes")
	cmd.Flags().StringVar(&commitMessage, "git-commit-message", "", "commit message template (supports {file}, {file_stem})")
	cmd.Flags().StringVar(&tuiMode, "tui", "auto", "display mode: full (interactive TUI), auto (detect TTY), off (plain log lines)")
	cmd.Flags().Float64Var(&memHigh, "memory-high-threshold", 90, "pause verify workers above this used-memory percent")
	cmd.Flags().Float64Var(&memLow, "memory-low-threshold", 75, "resume verify workers once used memory drops below this percent")

	return cmd
}

func effectiveConcurrency(n int) int {
	if n == 0 {
		return loopstate.DefaultConcurrency
	}
	return n
}

// applySettingsDefaults fills unset flags from the config file: a flag the
// user actually typed always wins over the config file.
func applySettingsDefaults(o *config.CLIOverrides, cmd *cobra.Command, s *config.Settings) {
	if s == nil {
		return
	}
	if !cmd.Flags().Changed("concurrency") && s.Concurrency > 0 {
		o.Concurrency = s.Concurrency
	}
	if !cmd.Flags().Changed("verify-concurrency") && s.VerifyConcurrency > 0 {
		o.VerifyConcurrency = s.VerifyConcurrency
		o.VerifyConcurrencySet = true
	}
	if !cmd.Flags().Changed("max-retries") && s.MaxRetries > 0 {
		o.MaxRetries = s.MaxRetries
	}
	if !cmd.Flags().Changed("allowlist") && s.AllowlistPattern != "" {
		o.AllowlistPattern = s.AllowlistPattern
	}
	if s.Git != nil {
		if !cmd.Flags().Changed("git") && s.Git.Enabled {
			o.GitEnabled = true
		}
		if !cmd.Flags().Changed("git-branch") && s.Git.AutoBranch {
			o.GitAutoBranch = true
		}
		if !cmd.Flags().Changed("git-commit") && s.Git.AutoCommit {
			o.GitAutoCommit = true
		}
		if !cmd.Flags().Changed("git-commit-message") && s.Git.CommitMessageTemplate != "" {
			o.CommitMessageTemplate = s.Git.CommitMessageTemplate
			o.CommitMessageTemplateSet = true
		}
	}
}

// resolveTask either loads the saved state for --resume or allocates a fresh
// task id and RunState, returning the three handles callers need.
func resolveTask(registry *tasks.Registry, tasksDir, resumeTaskID, workingDir string, overrides config.CLIOverrides) (taskID, statePath string, state *loopstate.RunState, err error) {
	if resumeTaskID == "-" {
		incomplete := registry.IncompleteTasks()
		if len(incomplete) == 0 {
			return "", "", nil, fmt.Errorf("--resume given with no task id, but no incomplete task exists")
		}
		sort.Strings(incomplete)
		resumeTaskID = incomplete[0]
	}
	if resumeTaskID != "" {
		statePath, err = registry.StatePath(resumeTaskID)
		if err != nil {
			return "", "", nil, fmt.Errorf("resume %s: %w", resumeTaskID, err)
		}
		saved, err := loopstate.Load(statePath)
		if err != nil {
			return "", "", nil, fmt.Errorf("load state for %s: %w", resumeTaskID, err)
		}
		saved.Config = config.MergeWithCLI(saved.Config, overrides)
		return resumeTaskID, statePath, saved, nil
	}

	id, stateFile, err := registry.CreateTask(workingDir, overrides.Prompt)
	if err != nil {
		return "", "", nil, fmt.Errorf("create task: %w", err)
	}
	cfg := config.FromCLI(overrides)
	state = loopstate.NewRunState(cfg)
	return id, filepath.Join(tasksDir, stateFile), state, nil
}

// runWithTUI drives the orchestrator under a Bubbletea live view. Pressing q
// requests the same graceful shutdown as SIGINT; ctx is not cancelled, so
// in-flight subprocess calls are not killed by the keypress.
func runWithTUI(ctx context.Context, taskID string, opts orchestrator.Options, monitor *memmon.Monitor) (loopstate.Summary, error) {
	quit := make(chan struct{})
	var quitOnce sync.Once
	requestQuit := func() { quitOnce.Do(func() { close(quit) }) }
	sigShutdown := opts.Shutdown
	shutdown := make(chan struct{})
	go func() {
		select {
		case <-sigShutdown:
		case <-quit:
		}
		close(shutdown)
	}()
	opts.Shutdown = shutdown

	handle := monitor.Handle()
	model := reporter.NewTUIModel(taskID, opts.Store.Summary, handle.Paused, requestQuit)
	program := tea.NewProgram(model)

	type runResult struct {
		summary loopstate.Summary
		err     error
	}
	resultCh := make(chan runResult, 1)
	go func() {
		s, err := orchestrator.Run(ctx, opts)
		resultCh <- runResult{s, err}
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		slog.Warn("tui exited with error", "error", err)
	}

	res := <-resultCh
	return res.summary, res.err
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
