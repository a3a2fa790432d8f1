package pushtarget

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/devscripts/internal/model"
)

func TestMain(m *testing.M) {
	// Keep rendered text free of ANSI escapes regardless of the terminal.
	color.NoColor = true
	os.Exit(m.Run())
}

// fakeGit is a Querier that returns canned results keyed by the git
// argument string (e.g. "config branch.main.remote"). Unknown keys get
// fallback, which lets a test make every query fail the same way.
type fakeGit struct {
	results  map[string]model.CommandResult
	fallback model.CommandResult
	calls    []string
}

func (f *fakeGit) query(args ...string) model.CommandResult {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if r, ok := f.results[key]; ok {
		r.Args = append([]string{"git"}, args...)
		return r
	}
	r := f.fallback
	r.Args = append([]string{"git"}, args...)
	return r
}

func (f *fakeGit) CurrentBranch(context.Context) model.CommandResult {
	return f.query("branch", "--show-current")
}

func (f *fakeGit) Remotes(context.Context) model.CommandResult {
	return f.query("remote", "-v")
}

func (f *fakeGit) BranchesVerbose(context.Context) model.CommandResult {
	return f.query("branch", "-vv")
}

func (f *fakeGit) ConfigValue(_ context.Context, key string) model.CommandResult {
	return f.query("config", key)
}

func (f *fakeGit) ShortStatus(context.Context) model.CommandResult {
	return f.query("status", "-sb")
}

func ok(output string) model.CommandResult {
	return model.CommandResult{Output: output}
}

// trackedGit simulates a branch "main" tracking origin/main.
func trackedGit(status string) *fakeGit {
	return &fakeGit{
		results: map[string]model.CommandResult{
			"branch --show-current":     ok("main"),
			"remote -v":                 ok("origin\tgit@example.com:team/repo.git (fetch)\norigin\tgit@example.com:team/repo.git (push)"),
			"branch -vv":                ok("* main 1a2b3c4 [origin/main] initial commit"),
			"config branch.main.remote": ok("origin"),
			"config branch.main.merge":  ok("refs/heads/main"),
			"config remote.origin.url":  ok("git@example.com:team/repo.git"),
			"status -sb":                ok(status),
		},
		fallback: model.CommandResult{ExitCode: 1},
	}
}

func TestInspect_Tracked(t *testing.T) {
	git := trackedGit("## main...origin/main")
	report := NewInspector(git).Inspect(context.Background())

	assert.True(t, report.Tracked)
	assert.False(t, report.Ahead)
	require.NotNil(t, report.RemoteURL)
	assert.Equal(t, "git@example.com:team/repo.git", report.PushURL())

	assert.Equal(t, []string{
		"branch --show-current",
		"remote -v",
		"branch -vv",
		"config branch.main.remote",
		"config branch.main.merge",
		"config remote.origin.url",
		"status -sb",
	}, git.calls, "queries run in a fixed order")
}

func TestInspect_TrackingRequiresRemoteAndMerge(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		merge  string
		want   bool
	}{
		{name: "both set", remote: "origin", merge: "refs/heads/main", want: true},
		{name: "remote only", remote: "origin", merge: "", want: false},
		{name: "merge only", remote: "", merge: "refs/heads/main", want: false},
		{name: "neither", remote: "", merge: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := trackedGit("## main")
			git.results["config branch.main.remote"] = ok(tt.remote)
			git.results["config branch.main.merge"] = ok(tt.merge)

			report := NewInspector(git).Inspect(context.Background())
			assert.Equal(t, tt.want, report.Tracked)
			assert.Equal(t, tt.want, report.RemoteURL != nil,
				"remote URL is only queried for tracked branches")
			assert.Equal(t, tt.want, IsTracked(tt.remote, tt.merge))

			var out bytes.Buffer
			require.NoError(t, NewRenderer(&out).Text(report))
			if tt.want {
				assert.Contains(t, out.String(), "'git push' will push to: git@example.com:team/repo.git")
				assert.NotContains(t, out.String(), "no upstream tracking branch")
			} else {
				assert.Contains(t, out.String(), "Branch 'main' has no upstream tracking branch")
				assert.NotContains(t, out.String(), "will push to")
			}
		})
	}
}

func TestIsAhead(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"## main...origin/main [ahead 2]", true},
		{"## main...origin/main [ahead 1, behind 3]", true},
		{"## main...origin/main [behind 3]", false},
		{"## main...origin/main", false},
		{"", false},
		// Pure substring test: any occurrence counts.
		{"## feature/go-ahead", true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAhead(tt.status))
		})
	}
}

func TestInspect_AheadSelectsUnpushedMessage(t *testing.T) {
	report := NewInspector(trackedGit("## main...origin/main [ahead 1]")).Inspect(context.Background())
	require.True(t, report.Ahead)

	var out bytes.Buffer
	require.NoError(t, NewRenderer(&out).Text(report))
	assert.Contains(t, out.String(), "📤 There are unpushed commits")
	assert.Contains(t, out.String(), "   Status: ## main...origin/main [ahead 1]")
	assert.NotContains(t, out.String(), "No unpushed commits")
}

// TestInspect_SurvivesFailingGit checks that every kind of subprocess
// failure still produces a complete report ending with the closing banner.
func TestInspect_SurvivesFailingGit(t *testing.T) {
	// An execution failure yields a non-empty inline error string for the
	// config queries, which counts as "set".
	tests := []struct {
		name        string
		failure     model.CommandResult
		wantTracked bool
	}{
		{name: "non-zero exit", failure: model.CommandResult{ExitCode: 128}},
		{name: "empty output", failure: model.CommandResult{ExitCode: 0}},
		{
			name:        "execution failed",
			failure:     model.CommandResult{Output: "error: exec: \"git\": executable file not found in $PATH", ExitCode: 1},
			wantTracked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := &fakeGit{fallback: tt.failure}

			report := NewInspector(git).Inspect(context.Background())
			require.NotNil(t, report)
			assert.Equal(t, tt.wantTracked, report.Tracked)
			assert.False(t, report.Ahead)
			if tt.wantTracked {
				assert.Len(t, git.calls, 7)
			} else {
				assert.Len(t, git.calls, 6, "remote URL is skipped, every other query runs")
			}

			var out bytes.Buffer
			require.NoError(t, NewRenderer(&out).Text(report))
			text := out.String()
			assert.Contains(t, text, "No unpushed commits")
			assert.True(t, strings.HasSuffix(text, strings.Repeat("=", separatorWidth)+"\n"),
				"output must reach the closing banner")
		})
	}
}

func TestInspect_ExecutionErrorContainingAhead(t *testing.T) {
	// The ahead check does not look at exit codes, only at the text.
	git := &fakeGit{fallback: model.CommandResult{Output: "error: go ahead and install git", ExitCode: 1}}
	report := NewInspector(git).Inspect(context.Background())
	assert.True(t, report.Ahead)
}

func TestRenderer_TextLayout(t *testing.T) {
	report := NewInspector(trackedGit("## main...origin/main")).Inspect(context.Background())

	var out bytes.Buffer
	require.NoError(t, NewRenderer(&out).Text(report))

	sep := strings.Repeat("=", separatorWidth)
	want := sep + "\n" +
		"Git push target check\n" +
		sep + "\n" +
		"\nCurrent branch: main\n" +
		"\nRemote configuration:\n" +
		"origin\tgit@example.com:team/repo.git (fetch)\norigin\tgit@example.com:team/repo.git (push)\n" +
		"\nBranch tracking:\n" +
		"* main 1a2b3c4 [origin/main] initial commit\n" +
		"\nBranch 'main' tracks: origin (refs/heads/main)\n" +
		"Remote URL: git@example.com:team/repo.git\n" +
		"\n⚠️  'git push' will push to: git@example.com:team/repo.git\n" +
		"\n✅ No unpushed commits\n" +
		"\n" + sep + "\n"
	assert.Equal(t, want, out.String())
}

func TestRenderer_JSON(t *testing.T) {
	report := NewInspector(trackedGit("## main...origin/main [ahead 3]")).Inspect(context.Background())

	var out bytes.Buffer
	require.NoError(t, NewRenderer(&out).JSON(report))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, true, decoded["tracked"])
	assert.Equal(t, true, decoded["ahead"])

	remoteURL, okType := decoded["remoteUrl"].(map[string]any)
	require.True(t, okType)
	assert.Equal(t, "git@example.com:team/repo.git", remoteURL["output"])
}
