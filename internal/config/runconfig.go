package config

import "github.com/loopforge/claudeloop/internal/loopstate"

// CLIOverrides carries exactly the flags a run command accepts, alongside
// whether each was explicitly set by the user (cmd.Flags().Changed(...) in
// the CLI layer) — needed because a resumed run's saved RunConfig must win
// over an unset flag's zero/default value.
type CLIOverrides struct {
	Input             string
	InputSet          bool
	Prompt            string
	PromptSet         bool
	FixupPrompt       string
	FixupPromptSet    bool
	VerificationCmd   string
	VerificationSet   bool
	AllowlistPattern  string
	AllowlistPatternSet bool
	Concurrency       int
	ConcurrencySet    bool
	VerifyConcurrency int
	VerifyConcurrencySet bool
	MaxFiles          int
	MaxFilesSet       bool
	MaxRetries        int
	MaxRetriesSet     bool
	GitEnabled        bool
	GitAutoBranch     bool
	GitAutoCommit     bool
	CommitMessageTemplate string
	CommitMessageTemplateSet bool
}

// FromCLI builds a fresh RunConfig from CLI flags, for a new (non-resumed) run.
func FromCLI(o CLIOverrides) loopstate.RunConfig {
	cfg := loopstate.RunConfig{
		InputFile:        o.Input,
		Prompt:           o.Prompt,
		FixupPrompt:      o.FixupPrompt,
		VerificationCmd:  o.VerificationCmd,
		AllowlistPattern: o.AllowlistPattern,
		Concurrency:      o.Concurrency,
		VerifyConcurrency: o.VerifyConcurrency,
		MaxFiles:         o.MaxFiles,
		MaxRetries:       o.MaxRetries,
		Git: loopstate.GitConfig{
			Enabled:               o.GitEnabled,
			AutoBranch:            o.GitAutoBranch,
			AutoCommit:            o.GitAutoCommit,
			CommitMessageTemplate: o.CommitMessageTemplate,
		},
	}
	if cfg.AllowlistPattern == "" {
		cfg.AllowlistPattern = loopstate.DefaultAllowlistPattern
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = loopstate.DefaultConcurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = loopstate.DefaultMaxRetries
	}
	return cfg
}

// MergeWithCLI applies CLI overrides onto a saved RunConfig (the resume
// path). Every field is overridden only when its companion *Set flag says
// the user actually passed that flag — mirroring cmd.Flags().Changed(...) in
// the CLI layer — so a flag's value happening to equal its own default never
// masks an explicit override. Git flags are the one exception: they are only
// ever turned on, never forced off, by a resumed run.
func MergeWithCLI(base loopstate.RunConfig, o CLIOverrides) loopstate.RunConfig {
	cfg := base
	if o.InputSet {
		cfg.InputFile = o.Input
	}
	if o.PromptSet {
		cfg.Prompt = o.Prompt
	}
	if o.FixupPromptSet {
		cfg.FixupPrompt = o.FixupPrompt
	}
	if o.VerificationSet {
		cfg.VerificationCmd = o.VerificationCmd
	}
	if o.AllowlistPatternSet {
		cfg.AllowlistPattern = o.AllowlistPattern
	}
	if o.ConcurrencySet {
		cfg.Concurrency = o.Concurrency
	}
	if o.VerifyConcurrencySet {
		cfg.VerifyConcurrency = o.VerifyConcurrency
	}
	if o.MaxFilesSet {
		cfg.MaxFiles = o.MaxFiles
	}
	if o.MaxRetriesSet {
		cfg.MaxRetries = o.MaxRetries
	}
	if o.GitEnabled {
		cfg.Git.Enabled = true
	}
	if o.GitAutoBranch {
		cfg.Git.AutoBranch = true
	}
	if o.GitAutoCommit {
		cfg.Git.AutoCommit = true
	}
	if o.CommitMessageTemplateSet {
		cfg.Git.CommitMessageTemplate = o.CommitMessageTemplate
	}
	return cfg
}
