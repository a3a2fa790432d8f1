package model

import "strings"

// CommandResult is the captured outcome of one read-only git query.
//
// Output holds the trimmed stdout of the command. When the command could not
// be executed at all (binary missing, permission denied), Output instead holds
// an inline "error: ..." description and ExitCode is 1. A command that ran
// and exited non-zero keeps whatever stdout it produced, usually nothing.
type CommandResult struct {
	// Args is the full argument vector, starting with the git executable.
	Args []string `json:"args"`

	// Output is the trimmed stdout, or an inline error description.
	Output string `json:"output"`

	// ExitCode is the process exit status (1 when the command failed to start).
	ExitCode int `json:"exitCode"`

	// Stderr is the trimmed stderr text. It is only shown in verbose logs.
	Stderr string `json:"stderr,omitempty"`
}

// Command returns the argument vector joined with spaces, for display.
func (r CommandResult) Command() string {
	return strings.Join(r.Args, " ")
}

// Succeeded reports whether the command ran and exited with status 0.
func (r CommandResult) Succeeded() bool {
	return r.ExitCode == 0
}

// PushTargetReport collects every query made by one check-push-target run
// together with the two decisions derived from them.
type PushTargetReport struct {
	// Branch is `git branch --show-current`.
	Branch CommandResult `json:"branch"`

	// Remotes is `git remote -v`.
	Remotes CommandResult `json:"remotes"`

	// Tracking is `git branch -vv`.
	Tracking CommandResult `json:"tracking"`

	// TrackingRemote is `git config branch.<name>.remote`.
	TrackingRemote CommandResult `json:"trackingRemote"`

	// TrackingMerge is `git config branch.<name>.merge`.
	TrackingMerge CommandResult `json:"trackingMerge"`

	// RemoteURL is `git config remote.<remote>.url`.
	// Nil when the branch is not tracked, because the query is skipped.
	RemoteURL *CommandResult `json:"remoteUrl,omitempty"`

	// Status is `git status -sb`.
	Status CommandResult `json:"status"`

	// Tracked is true when both the tracking remote and merge ref are set.
	Tracked bool `json:"tracked"`

	// Ahead is true when the status text mentions "ahead".
	Ahead bool `json:"ahead"`
}

// BranchName returns the current branch name as printed by git.
func (r *PushTargetReport) BranchName() string {
	return r.Branch.Output
}

// PushURL returns the URL `git push` would use, or "" when untracked.
func (r *PushTargetReport) PushURL() string {
	if r.RemoteURL == nil {
		return ""
	}
	return r.RemoteURL.Output
}
