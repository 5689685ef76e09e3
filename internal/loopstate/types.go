// Package loopstate holds the durable, per-run record of what happened to
// each input file and provides the atomically-written store that backs it.
package loopstate

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the per-file state machine position. NewFileRecord starts every
// record at StatusPending.
type Status string

const (
	StatusPending              Status = "pending"
	StatusPromptInProgress     Status = "prompt_in_progress"
	StatusAwaitingVerification Status = "awaiting_verification"
	StatusVerifyInProgress     Status = "verify_in_progress"
	StatusFixupInProgress      Status = "fixup_in_progress"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

// Terminal reports whether the status is one of the two absorbing states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileRecord is the per-path entry tracked across the whole run.
type FileRecord struct {
	Status       Status          `json:"status"`
	OriginalData json.RawMessage `json:"original_data"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	ResultRaw    bool            `json:"result_data_raw,omitempty"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
}

// NewFileRecord returns a Pending record carrying the given original data.
func NewFileRecord(originalData json.RawMessage) *FileRecord {
	if originalData == nil {
		originalData = json.RawMessage("null")
	}
	return &FileRecord{Status: StatusPending, OriginalData: originalData}
}

// GitConfig is the git sub-config of a RunConfig.
type GitConfig struct {
	Enabled              bool   `json:"enabled"`
	AutoBranch           bool   `json:"auto_branch"`
	AutoCommit           bool   `json:"auto_commit"`
	CommitMessageTemplate string `json:"commit_message_template,omitempty"`
}

// RunConfig is the immutable contract for one run. It is persisted alongside
// the RunState so a resumed run needs only the state file to continue.
type RunConfig struct {
	InputFile         string    `json:"input_file"`
	Prompt            string    `json:"prompt"`
	FixupPrompt       string    `json:"fixup_prompt,omitempty"`
	VerificationCmd   string    `json:"verification_cmd,omitempty"`
	AllowlistPattern  string    `json:"allowlist_pattern"`
	Concurrency       int       `json:"concurrency"`
	VerifyConcurrency int       `json:"verify_concurrency"`
	MaxFiles          int       `json:"max_files,omitempty"`
	MaxRetries        int       `json:"max_retries"`
	Git               GitConfig `json:"git"`
}

// DefaultAllowlistPattern is the CLI default, and the pattern FromCLI fills in
// when none is given.
const DefaultAllowlistPattern = "{file_stem}*"

// DefaultConcurrency and DefaultMaxRetries mirror the CLI flag defaults.
const (
	DefaultConcurrency = 5
	DefaultMaxRetries  = 3
)

// GitBaseline is captured once at run start.
type GitBaseline struct {
	OriginalBranch         string          `json:"original_branch,omitempty"`
	TaskBranch             string          `json:"task_branch,omitempty"`
	PreExistingDirtyFiles  map[string]bool `json:"pre_existing_dirty_files,omitempty"`
	Enabled                bool            `json:"enabled"`
	GlobalAllowlistPatterns []string       `json:"global_allowlist_patterns,omitempty"`
}

// WasPreExistingDirty reports whether path was already dirty before the run.
func (b *GitBaseline) WasPreExistingDirty(path string) bool {
	if b == nil {
		return false
	}
	return b.PreExistingDirtyFiles[path]
}

// AddAllowlistPattern appends pattern if not already present.
func (b *GitBaseline) AddAllowlistPattern(pattern string) {
	for _, p := range b.GlobalAllowlistPatterns {
		if p == pattern {
			return
		}
	}
	b.GlobalAllowlistPatterns = append(b.GlobalAllowlistPatterns, pattern)
}

// RunState is the root persisted object for one task.
type RunState struct {
	RunID     string                 `json:"run_id"`
	Config    RunConfig              `json:"config"`
	Files     map[string]*FileRecord `json:"files"`
	StartedAt time.Time              `json:"started_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Git       GitBaseline            `json:"git_state"`
}

// NewRunState creates a fresh RunState for config, stamping a new RunID.
func NewRunState(config RunConfig) *RunState {
	now := time.Now()
	return &RunState{
		RunID:     ulid.Make().String(),
		Config:    config,
		Files:     make(map[string]*FileRecord),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Summary is the set of per-status counts used for reporting.
type Summary struct {
	Total                int `json:"total"`
	Pending              int `json:"pending"`
	PromptInProgress     int `json:"prompt_in_progress"`
	AwaitingVerification int `json:"awaiting_verification"`
	VerifyInProgress     int `json:"verify_in_progress"`
	FixupInProgress      int `json:"fixup_in_progress"`
	Completed            int `json:"completed"`
	Failed               int `json:"failed"`
}
