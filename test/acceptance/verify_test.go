package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopforge/claudeloop/internal/loopstate"
)

var _ = Describe("verification and the fixup loop", func() {
	var tmpDir, repoDir, tasksDir, binDir, manifestPath string

	BeforeEach(func() {
		tmpDir = mustMkdirTemp("claudeloop-verify-*")
		repoDir = filepath.Join(tmpDir, "repo")
		tasksDir = filepath.Join(tmpDir, "tasks")
		binDir = filepath.Join(tmpDir, "bin")
		Expect(os.MkdirAll(repoDir, 0o755)).To(Succeed())

		manifestPath = filepath.Join(tmpDir, "manifest.json")
		writeFile(manifestPath, `{"a.ts": {"k":1}}`)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	runLoop := func(verifyCmd string, maxRetries int) ([]byte, error) {
		args := []string{"run",
			"--input", manifestPath,
			"--prompt", "do the thing",
			"--tasks-dir", tasksDir,
			"--working-dir", repoDir,
			"--tui", "off",
			"--verify", verifyCmd,
		}
		if maxRetries > 0 {
			args = append(args, "--max-retries", strconv.Itoa(maxRetries))
		}
		cmd := exec.Command(binaryPath, args...)
		cmd.Env = pathWithFakeBin(binDir)
		return cmd.CombinedOutput()
	}

	Context("verification passes on the first try", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(repoDir, "a.ts"), "present\n")
			writeFakeClaude(binDir, `
count_file="`+tmpDir+`/claude-calls"
n=$(( $(cat "$count_file" 2>/dev/null || echo 0) + 1 ))
echo "$n" > "$count_file"
echo 'RESULT: "done"'
`)
		})

		It("calls the assistant once, verifies once, and completes", func() {
			output, err := runLoop("test -f {file}", 0)
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

			calls, err := os.ReadFile(filepath.Join(tmpDir, "claude-calls"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(calls)).To(Equal("1\n"))

			state := loadFirstTaskState(tasksDir)
			rec := state.Files["a.ts"]
			Expect(rec.Status).To(Equal(loopstate.StatusCompleted))
			Expect(rec.Attempts).To(Equal(0))
		})
	})

	Context("verification fails once, then a fixup succeeds", func() {
		BeforeEach(func() {
			// verify script: fail the first call, succeed on the second.
			writeFile(filepath.Join(repoDir, "verify.sh"), `#!/bin/sh
state_file="`+tmpDir+`/verify-state"
n=$(( $(cat "$state_file" 2>/dev/null || echo 0) + 1 ))
echo "$n" > "$state_file"
if [ "$n" -lt 2 ]; then
  echo "verification error: missing marker" >&2
  exit 1
fi
exit 0
`)
			Expect(os.Chmod(filepath.Join(repoDir, "verify.sh"), 0o755)).To(Succeed())

			writeFakeClaude(binDir, `
count_file="`+tmpDir+`/claude-calls"
n=$(( $(cat "$count_file" 2>/dev/null || echo 0) + 1 ))
echo "$n" > "$count_file"
echo 'RESULT: "done"'
`)
		})

		It("re-invokes the assistant once as a fixup and completes", func() {
			output, err := runLoop("sh verify.sh", 3)
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

			calls, err := os.ReadFile(filepath.Join(tmpDir, "claude-calls"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(calls)).To(Equal("2\n"))

			state := loadFirstTaskState(tasksDir)
			rec := state.Files["a.ts"]
			Expect(rec.Status).To(Equal(loopstate.StatusCompleted))
			Expect(rec.Attempts).To(Equal(1))

			failureLog, err := os.ReadFile(filepath.Join(tasksDir, "failures", "a.ts.log"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(failureLog)).To(ContainSubstring("fixup prompt"))
			Expect(string(failureLog)).To(ContainSubstring("fixup response"))
		})
	})

	Context("verification never passes", func() {
		BeforeEach(func() {
			writeFile(filepath.Join(repoDir, "verify.sh"), `#!/bin/sh
echo "verification error: always broken" >&2
exit 1
`)
			Expect(os.Chmod(filepath.Join(repoDir, "verify.sh"), 0o755)).To(Succeed())

			writeFakeClaude(binDir, `echo 'RESULT: "done"'`)
		})

		It("exhausts the retry budget and marks the file failed", func() {
			output, err := runLoop("sh verify.sh", 2)
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
			Expect(string(output)).To(ContainSubstring("failed verification"))

			state := loadFirstTaskState(tasksDir)
			rec := state.Files["a.ts"]
			Expect(rec.Status).To(Equal(loopstate.StatusFailed))
			Expect(rec.Attempts).To(Equal(2))
			Expect(rec.LastError).To(ContainSubstring("always broken"))

			failureLog, err := os.ReadFile(filepath.Join(tasksDir, "failures", "a.ts.log"))
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(lastLine(string(failureLog)))).To(Equal("FINAL STATUS: FAILED after max retries"))
		})
	})
})

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}
