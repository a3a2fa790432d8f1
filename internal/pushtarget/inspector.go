// Package pushtarget works out where `git push` would send the current
// branch and renders the answer for a terminal.
//
// Inspect runs a fixed, sequential list of read-only git queries. None of
// them can abort the run: each result (or inline error string) is kept in
// the report and the next query still runs.
package pushtarget

import (
	"context"
	"fmt"
	"strings"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// Querier is the subset of gitinfo.Client the inspector needs.
// Tests substitute a fake to simulate failing or odd git output.
type Querier interface {
	CurrentBranch(ctx context.Context) model.CommandResult
	Remotes(ctx context.Context) model.CommandResult
	BranchesVerbose(ctx context.Context) model.CommandResult
	ConfigValue(ctx context.Context, key string) model.CommandResult
	ShortStatus(ctx context.Context) model.CommandResult
}

// Inspector builds PushTargetReports from git queries.
type Inspector struct {
	git Querier
}

// NewInspector creates an Inspector backed by the given querier.
func NewInspector(git Querier) *Inspector {
	return &Inspector{git: git}
}

// Inspect runs every query in order and derives the Tracked and Ahead
// decisions. It never fails.
func (i *Inspector) Inspect(ctx context.Context) *model.PushTargetReport {
	report := &model.PushTargetReport{}

	report.Branch = i.git.CurrentBranch(ctx)
	report.Remotes = i.git.Remotes(ctx)
	report.Tracking = i.git.BranchesVerbose(ctx)

	// The branch name is used as-is, even when empty or an inline error;
	// git then simply reports the key as unset.
	branch := report.Branch.Output
	report.TrackingRemote = i.git.ConfigValue(ctx, fmt.Sprintf("branch.%s.remote", branch))
	report.TrackingMerge = i.git.ConfigValue(ctx, fmt.Sprintf("branch.%s.merge", branch))

	report.Tracked = IsTracked(report.TrackingRemote.Output, report.TrackingMerge.Output)
	if report.Tracked {
		url := i.git.ConfigValue(ctx, fmt.Sprintf("remote.%s.url", report.TrackingRemote.Output))
		report.RemoteURL = &url
	}

	report.Status = i.git.ShortStatus(ctx)
	report.Ahead = IsAhead(report.Status.Output)

	return report
}

// IsTracked reports whether a branch has an upstream: both the
// branch.<name>.remote and branch.<name>.merge values must be non-empty.
func IsTracked(remote, merge string) bool {
	return remote != "" && merge != ""
}

// IsAhead reports whether `git status -sb` text shows unpushed commits.
// It is a plain substring test for "ahead".
func IsAhead(status string) bool {
	return strings.Contains(status, "ahead")
}
