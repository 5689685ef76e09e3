// Package resultline implements the RESULT: line protocol between this
// system and the assistant subprocess: the assistant is instructed to print
// a single line of the form "RESULT: <json-or-string>", and the last such
// line in stdout wins.
package resultline

import (
	"encoding/json"
	"strings"
)

// Instruction is appended to every prompt so the assistant knows the
// protocol it must follow.
const Instruction = `

When you are done, print a single line starting with "RESULT:" followed by
a JSON value (or plain text if JSON doesn't apply) summarizing the outcome.
This must be the last thing you print.`

// Result is a parsed RESULT: line.
type Result struct {
	Value json.RawMessage
	Raw   bool
}

// Parse scans stdout bottom-to-top for the last "RESULT:" line. If none is
// found, Value is JSON null and Raw is false. If the trailing payload isn't
// valid JSON, Value wraps it as a JSON string and Raw is true.
func Parse(stdout string) Result {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		rest, ok := strings.CutPrefix(trimmed, "RESULT:")
		if !ok {
			continue
		}
		payload := strings.TrimSpace(rest)
		if payload == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(payload), &v); err == nil {
			return Result{Value: json.RawMessage(payload), Raw: false}
		}
		encoded, _ := json.Marshal(payload)
		return Result{Value: encoded, Raw: true}
	}
	return Result{Value: json.RawMessage("null"), Raw: false}
}
