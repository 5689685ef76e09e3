package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopforge/claudeloop/internal/loopstate"
)

var _ = Describe("parallel authorization across workers", func() {
	var tmpDir, repoDir, tasksDir, binDir, manifestPath string

	BeforeEach(func() {
		tmpDir = mustMkdirTemp("claudeloop-auth-*")
		repoDir = filepath.Join(tmpDir, "repo")
		tasksDir = filepath.Join(tmpDir, "tasks")
		binDir = filepath.Join(tmpDir, "bin")
		Expect(os.MkdirAll(repoDir, 0o755)).To(Succeed())

		runGit(repoDir, "init")
		runGit(repoDir, "config", "user.email", "test@example.com")
		runGit(repoDir, "config", "user.name", "test")
		writeFile(filepath.Join(repoDir, "README.md"), "hello\n")
		runGit(repoDir, "add", "README.md")
		runGit(repoDir, "commit", "-m", "initial commit")

		manifestPath = filepath.Join(tmpDir, "manifest.json")
		writeFile(manifestPath, `{"a.ts": {}, "b.ts": {}}`)

		// each invocation creates a companion "generated" file alongside the
		// source it was asked to edit — both are within that worker's own
		// {file_stem}* allowlist, so neither should be flagged unauthorized.
		writeFakeClaude(binDir, `
file=$(printf '%s' "$2" | sed -n 's/^File: //p' | head -1)
case "$file" in
  a.ts) : > "`+repoDir+`/a.generated.ts" ;;
  b.ts) : > "`+repoDir+`/b.generated.ts" ;;
esac
echo 'RESULT: "done"'
`)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("completes both files without logging either worker's companion file as unauthorized", func() {
		cmd := exec.Command(binaryPath, "run",
			"--input", manifestPath,
			"--prompt", "do the thing",
			"--tasks-dir", tasksDir,
			"--working-dir", repoDir,
			"--tui", "off",
			"--git",
			"--concurrency", "2",
			"--verbose",
		)
		cmd.Env = pathWithFakeBin(binDir)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
		Expect(string(output)).NotTo(ContainSubstring("unauthorized file change detected"))

		state := loadFirstTaskState(tasksDir)
		Expect(state.Files["a.ts"].Status).To(Equal(loopstate.StatusCompleted))
		Expect(state.Files["b.ts"].Status).To(Equal(loopstate.StatusCompleted))

		_, err = os.Stat(filepath.Join(repoDir, "a.generated.ts"))
		Expect(err).NotTo(HaveOccurred())
		_, err = os.Stat(filepath.Join(repoDir, "b.generated.ts"))
		Expect(err).NotTo(HaveOccurred())
	})
})
