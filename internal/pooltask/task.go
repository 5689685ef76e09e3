// Package pooltask defines the unit of work shared between the prompt pool,
// the verify pool, and the orchestrator that wires them together.
package pooltask

// FileTask is one file flowing through the prompt and verify queues.
type FileTask struct {
	Path string
}
