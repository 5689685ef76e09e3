package acceptance_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopforge/claudeloop/internal/loopstate"
	"github.com/loopforge/claudeloop/internal/tasks"
)

var _ = Describe("resuming a crashed run", func() {
	var tmpDir, repoDir, tasksDir, binDir string

	BeforeEach(func() {
		tmpDir = mustMkdirTemp("claudeloop-resume-*")
		repoDir = filepath.Join(tmpDir, "repo")
		tasksDir = filepath.Join(tmpDir, "tasks")
		binDir = filepath.Join(tmpDir, "bin")
		Expect(os.MkdirAll(repoDir, 0o755)).To(Succeed())

		// the file the assistant would have edited is already present —
		// this is what a crash after the prompt step, but before
		// verification ran, looks like on disk.
		writeFile(filepath.Join(repoDir, "a.ts"), "already edited\n")

		writeFakeClaude(binDir, `touch "`+tmpDir+`/claude-invoked"`)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("seeds the file onto the verify queue and completes without re-invoking the assistant", func() {
		registry, err := tasks.LoadOrCreate(tasksDir)
		Expect(err).NotTo(HaveOccurred())
		taskID, stateFile, err := registry.CreateTask(repoDir, "resume test")
		Expect(err).NotTo(HaveOccurred())
		Expect(taskID).To(Equal("task_0"))

		cfg := loopstate.RunConfig{
			Prompt:           "fix the file",
			VerificationCmd:  "test -f {file}",
			AllowlistPattern: loopstate.DefaultAllowlistPattern,
			Concurrency:      1,
			MaxRetries:       3,
		}
		state := loopstate.NewRunState(cfg)
		state.Files["a.ts"] = &loopstate.FileRecord{
			Status:       loopstate.StatusAwaitingVerification,
			OriginalData: json.RawMessage("null"),
		}
		statePath := filepath.Join(tasksDir, stateFile)
		Expect(loopstate.Save(state, statePath)).To(Succeed())

		cmd := exec.Command(binaryPath, "run",
			"--resume", taskID,
			"--tasks-dir", tasksDir,
			"--working-dir", repoDir,
			"--tui", "off",
		)
		cmd.Env = pathWithFakeBin(binDir)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		_, statErr := os.Stat(filepath.Join(tmpDir, "claude-invoked"))
		Expect(os.IsNotExist(statErr)).To(BeTrue(), "the assistant should not have been re-invoked")

		reloaded := loadFirstTaskState(tasksDir)
		rec := reloaded.Files["a.ts"]
		Expect(rec.Status).To(Equal(loopstate.StatusCompleted))
		Expect(rec.Attempts).To(Equal(0))
	})
})
