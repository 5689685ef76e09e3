// Package assistant builds prompts and invokes the external AI coding
// subprocess ("claude -p ..."), capturing stdout/stderr directly rather than
// a stream-json event protocol — this system depends only on the RESULT:
// line contract (internal/resultline).
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/loopforge/claudeloop/internal/resultline"
)

// Output is the captured result of one assistant subprocess invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Invoker runs the assistant binary. A real Invoker shells out to "claude";
// tests substitute a fake.
type Invoker interface {
	Invoke(ctx context.Context, prompt, workingDir string) (Output, error)
}

// CLIInvoker runs the real "claude" binary.
type CLIInvoker struct{}

// Invoke runs "claude -p <prompt> --dangerously-skip-permissions" in workingDir.
func (CLIInvoker) Invoke(ctx context.Context, prompt, workingDir string) (Output, error) {
	cmd := exec.CommandContext(ctx, "claude", "-p", prompt, "--dangerously-skip-permissions")
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("spawning assistant", "dir", workingDir)
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Output{}, fmt.Errorf("start assistant: %w", err)
		}
	}

	return Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// BuildPrompt assembles the base prompt, allowlist warning, file path,
// original data, then the RESULT: protocol instruction.
func BuildPrompt(basePrompt, filePath string, originalData json.RawMessage, expandedAllowlist string) string {
	return fmt.Sprintf(
		"%s\n\nIMPORTANT: You may ONLY read and modify files matching the pattern: %s\nDo not edit any other files.\n\nFile: %s\nOriginal data: %s\n%s",
		basePrompt, expandedAllowlist, filePath, string(originalData), resultline.Instruction,
	)
}

// BuildFixupPrompt assembles the fixup prompt, allowlist warning, file path,
// the verification error, then the protocol instruction again.
func BuildFixupPrompt(fixupPrompt, filePath, errorOutput, expandedAllowlist string) string {
	return fmt.Sprintf(
		"%s\n\nIMPORTANT: You may ONLY read and modify files matching the pattern: %s\nDo not edit any other files.\n\nFile: %s\n\nVerification failed with the following error:\n```\n%s\n```\n\nPlease fix the issues and try again.\n%s",
		fixupPrompt, expandedAllowlist, filePath, errorOutput, resultline.Instruction,
	)
}

// DefaultFixupPrompt is used when RunConfig.FixupPrompt is empty.
const DefaultFixupPrompt = "Fix the issues with the file"

// PreferStderr returns stderr if non-empty, else stdout — the error-output
// selection rule used when building fixup prompts and FileRecord.LastError.
func PreferStderr(stdout, stderr string) string {
	if stderr != "" {
		return stderr
	}
	return stdout
}
