package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/loopforge/claudeloop/internal/loopstate"
	"github.com/loopforge/claudeloop/internal/tasks"
)

func newStatusCmd() *cobra.Command {
	var tasksDir string

	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Print the summary for one task, or list incomplete tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := tasks.LoadOrCreate(tasksDir)
			if err != nil {
				return fmt.Errorf("load task registry: %w", err)
			}

			if len(args) == 0 {
				return printAllTasks(registry, tasksDir)
			}
			return printOneTask(registry, tasksDir, args[0])
		},
	}

	cmd.Flags().StringVar(&tasksDir, "tasks-dir", "./claude-loop-tasks", "directory holding the task registry and state files")
	return cmd
}

func printAllTasks(registry *tasks.Registry, tasksDir string) error {
	ids := registry.IncompleteTasks()
	sort.Strings(ids)
	if len(ids) == 0 {
		fmt.Fprintln(os.Stdout, "no incomplete tasks")
		return nil
	}
	for _, id := range ids {
		statePath, err := registry.StatePath(id)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%s: %v\n", id, err)
			continue
		}
		state, err := loopstate.Load(statePath)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%s: %v\n", id, err)
			continue
		}
		s := loopstate.New(state, statePath).Summary()
		fmt.Fprintf(os.Stdout, "%s: %d/%d completed, %d failed\n", id, s.Completed, s.Total, s.Failed)
	}
	return nil
}

func printOneTask(registry *tasks.Registry, tasksDir, taskID string) error {
	statePath, err := registry.StatePath(taskID)
	if err != nil {
		return fmt.Errorf("status %s: %w", taskID, err)
	}
	state, err := loopstate.Load(statePath)
	if err != nil {
		return fmt.Errorf("load state for %s: %w", taskID, err)
	}
	store := loopstate.New(state, statePath)
	s := store.Summary()

	fmt.Fprintf(os.Stdout, "task:      %s\n", taskID)
	fmt.Fprintf(os.Stdout, "run id:    %s\n", store.RunID())
	fmt.Fprintf(os.Stdout, "total:     %d\n", s.Total)
	fmt.Fprintf(os.Stdout, "completed: %d\n", s.Completed)
	fmt.Fprintf(os.Stdout, "failed:    %d\n", s.Failed)
	fmt.Fprintf(os.Stdout, "pending:   %d\n", s.Pending)
	inFlight := s.PromptInProgress + s.AwaitingVerification + s.VerifyInProgress + s.FixupInProgress
	if inFlight > 0 {
		fmt.Fprintf(os.Stdout, "in-flight: %d\n", inFlight)
	}
	return nil
}
