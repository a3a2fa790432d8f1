package pushtarget

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// separatorWidth is the width of the "=====" banner lines.
const separatorWidth = 60

// Renderer writes a PushTargetReport to an output stream.
type Renderer struct {
	w io.Writer

	title   *color.Color
	warn    *color.Color
	ok      *color.Color
	pending *color.Color
}

// NewRenderer creates a Renderer writing to w. Colors follow fatih/color's
// global switch, which is off when stdout is not a terminal or NO_COLOR is
// set.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{
		w:       w,
		title:   color.New(color.Bold),
		warn:    color.New(color.FgYellow, color.Bold),
		ok:      color.New(color.FgGreen),
		pending: color.New(color.FgCyan),
	}
}

// Text prints the report in the human-readable layout:
// banner, current branch, remotes, tracking table, push destination
// warning, unpushed-commit status, closing banner.
func (r *Renderer) Text(report *model.PushTargetReport) error {
	sep := strings.Repeat("=", separatorWidth)
	branch := report.BranchName()

	var b strings.Builder
	fmt.Fprintln(&b, sep)
	fmt.Fprintln(&b, r.title.Sprint("Git push target check"))
	fmt.Fprintln(&b, sep)

	fmt.Fprintf(&b, "\nCurrent branch: %s\n", branch)

	fmt.Fprintln(&b, "\nRemote configuration:")
	fmt.Fprintln(&b, report.Remotes.Output)

	fmt.Fprintln(&b, "\nBranch tracking:")
	fmt.Fprintln(&b, report.Tracking.Output)

	if report.Tracked {
		url := report.PushURL()
		fmt.Fprintf(&b, "\nBranch '%s' tracks: %s (%s)\n",
			branch, report.TrackingRemote.Output, report.TrackingMerge.Output)
		fmt.Fprintf(&b, "Remote URL: %s\n", url)
		fmt.Fprintf(&b, "\n%s\n", r.warn.Sprintf("⚠️  'git push' will push to: %s", url))
	} else {
		fmt.Fprintf(&b, "\n%s\n", r.warn.Sprintf("⚠️  Branch '%s' has no upstream tracking branch", branch))
		fmt.Fprintln(&b, "   'git push' needs an explicit remote and branch")
	}

	if report.Ahead {
		fmt.Fprintf(&b, "\n%s\n", r.pending.Sprint("📤 There are unpushed commits"))
		fmt.Fprintf(&b, "   Status: %s\n", report.Status.Output)
	} else {
		fmt.Fprintf(&b, "\n%s\n", r.ok.Sprint("✅ No unpushed commits"))
	}

	fmt.Fprintf(&b, "\n%s\n", sep)

	_, err := io.WriteString(r.w, b.String())
	return err
}

// JSON prints the report as indented JSON.
func (r *Renderer) JSON(report *model.PushTargetReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.w, string(data))
	return err
}
