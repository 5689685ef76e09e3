package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/gomega"

	"github.com/loopforge/claudeloop/internal/loopstate"
)

// loadFirstTaskState reads task_0's state file out of tasksDir — every test
// here runs exactly one task against a fresh registry, so the id is always
// deterministic.
func loadFirstTaskState(tasksDir string) *loopstate.RunState {
	state, err := loopstate.Load(filepath.Join(tasksDir, "state_0.json"))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return state
}

func mustMkdirTemp(pattern string) string {
	dir, err := os.MkdirTemp("", pattern)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return dir
}
