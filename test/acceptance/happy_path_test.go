package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopforge/claudeloop/internal/loopstate"
)

var _ = Describe("happy path, no verification command", func() {
	var tmpDir, repoDir, tasksDir, binDir, manifestPath string

	BeforeEach(func() {
		tmpDir = mustMkdirTemp("claudeloop-happy-*")
		repoDir = filepath.Join(tmpDir, "repo")
		tasksDir = filepath.Join(tmpDir, "tasks")
		binDir = filepath.Join(tmpDir, "bin")
		Expect(os.MkdirAll(repoDir, 0o755)).To(Succeed())

		manifestPath = filepath.Join(tmpDir, "manifest.json")
		writeFile(manifestPath, `{"a.ts": {}}`)

		writeFakeClaude(binDir, `
count_file="`+tmpDir+`/claude-calls"
n=$(( $(cat "$count_file" 2>/dev/null || echo 0) + 1 ))
echo "$n" > "$count_file"
echo 'RESULT: "done"'
`)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("invokes the assistant exactly once and completes the file", func() {
		cmd := exec.Command(binaryPath, "run",
			"--input", manifestPath,
			"--prompt", "do the thing",
			"--tasks-dir", tasksDir,
			"--working-dir", repoDir,
			"--tui", "off",
		)
		cmd.Env = pathWithFakeBin(binDir)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		calls, err := os.ReadFile(filepath.Join(tmpDir, "claude-calls"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(calls)).To(Equal("1\n"))

		state := loadFirstTaskState(tasksDir)
		rec := state.Files["a.ts"]
		Expect(rec).NotTo(BeNil())
		Expect(rec.Status).To(Equal(loopstate.StatusCompleted))
		Expect(string(rec.ResultData)).To(Equal(`"done"`))
		Expect(rec.Attempts).To(Equal(0))
	})
})
