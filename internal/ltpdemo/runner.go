package ltpdemo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shinji-kodama/devscripts/internal/ltp"
	"github.com/shinji-kodama/devscripts/internal/model"
)

// DeviceDefault is reported when a run leaves the model on the library's
// default device.
const DeviceDefault = "default"

// RunResult is the outcome of one run.
type RunResult struct {
	Name   string       `json:"name"`
	Model  string       `json:"model"`
	Device string       `json:"device"`
	Tasks  []model.Task `json:"tasks"`

	Output *model.NLPOutput `json:"output"`

	// Elapsed covers loading, placement, vocabulary and the pipeline call.
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsedSeconds"`

	// Processing covers the pipeline call alone.
	Processing        time.Duration `json:"-"`
	ProcessingSeconds float64       `json:"processingSeconds"`
}

// Runner executes demo runs one after another.
type Runner struct {
	launcher ltp.Launcher
	out      io.Writer
	logger   *zap.Logger
	python   string
	jsonOut  bool
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithPython sets the interpreter the workers run under.
func WithPython(python string) Option {
	return func(r *Runner) { r.python = python }
}

// WithJSON makes Run print one JSON document with every result instead
// of the text layouts.
func WithJSON(enabled bool) Option {
	return func(r *Runner) { r.jsonOut = enabled }
}

// WithLogger attaches a logger for progress and protocol debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner returns a Runner that starts workers with launcher and prints
// to out.
func NewRunner(launcher ltp.Launcher, out io.Writer, opts ...Option) *Runner {
	r := &Runner{
		launcher: launcher,
		out:      out,
		logger:   zap.NewNop(),
		python:   ltp.DefaultPython,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every run in cfg in order and stops at the first failure.
// Text output is written as each run finishes; JSON output is written once
// all runs have succeeded.
func (r *Runner) Run(ctx context.Context, cfg *Config) ([]RunResult, error) {
	results := make([]RunResult, 0, len(cfg.Runs))
	for _, run := range cfg.Runs {
		res, err := r.runOne(ctx, run, cfg.Sentences)
		if err != nil {
			return results, err
		}
		results = append(results, *res)

		if !r.jsonOut {
			if err := r.printText(run, res, cfg.Sentences); err != nil {
				return results, err
			}
		}
	}

	if r.jsonOut {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return results, fmt.Errorf("failed to marshal results: %w", err)
		}
		if _, err := fmt.Fprintln(r.out, string(data)); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, run RunConfig, sentences []string) (*RunResult, error) {
	log := r.logger.With(zap.String("run", run.Name))
	start := r.now()

	path := ltp.ResolveCheckpoint(run.candidates()...)
	if cp, inspectErr := ltp.InspectCheckpoint(path); inspectErr != nil {
		log.Warn("could not inspect checkpoint", zap.String("path", path), zap.Error(inspectErr))
	} else {
		log.Debug("checkpoint",
			zap.String("path", path),
			zap.String("kind", string(cp.Kind)),
			zap.Strings("configKeys", cp.ConfigKeys),
			zap.Strings("legacyTasks", model.TaskNames(cp.LegacyTasks)))
	}

	m, err := ltp.Load(ctx, r.launcher, path, ltp.WithPython(r.python), ltp.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			log.Warn("ltp worker exited uncleanly", zap.Error(closeErr))
		}
	}()

	device, err := placeModel(ctx, m, run.Accelerator)
	if err != nil {
		return nil, runError(run, "move model to accelerator", err)
	}
	log.Debug("model placed", zap.String("device", device))

	for _, w := range run.Words {
		if len(w.Words) == 1 {
			err = m.AddWord(ctx, w.Words[0], w.Freq)
		} else {
			err = m.AddWords(ctx, w.Words, w.Freq)
		}
		if err != nil {
			return nil, runError(run, "add custom words", err)
		}
	}

	tasks := model.ParseTasks(run.Tasks)
	pipelineStart := r.now()
	out, err := m.Pipeline(ctx, sentences, tasks)
	if err != nil {
		return nil, runError(run, "pipeline", err)
	}

	end := r.now()
	elapsed, processing := end.Sub(start), end.Sub(pipelineStart)
	log.Debug("run finished", zap.Duration("elapsed", elapsed), zap.Duration("processing", processing))
	return &RunResult{
		Name:              run.Name,
		Model:             path,
		Device:            device,
		Tasks:             tasks,
		Output:            out,
		Elapsed:           elapsed,
		ElapsedSeconds:    elapsed.Seconds(),
		Processing:        processing,
		ProcessingSeconds: processing.Seconds(),
	}, nil
}

// placeModel applies an accelerator setting and returns the device the
// model ended up on.
func placeModel(ctx context.Context, m *ltp.Model, accelerator string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(accelerator)) {
	case "", AcceleratorOff:
		return DeviceDefault, nil
	case AcceleratorAuto:
		ok, err := m.AcceleratorAvailable(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return DeviceDefault, nil
		}
		if err := m.To(ctx, "cuda"); err != nil {
			return "", err
		}
		return "cuda", nil
	default:
		if err := m.To(ctx, accelerator); err != nil {
			return "", err
		}
		return accelerator, nil
	}
}

func runError(run RunConfig, step string, err error) error {
	return model.WrapCLIError(model.ExitWorkerError,
		fmt.Sprintf("LTP %s: %s failed", run.Name, step), err)
}

func (r *Runner) printText(run RunConfig, res *RunResult, sentences []string) error {
	var b strings.Builder
	switch run.layout() {
	case LayoutTuple:
		parts := make([]string, 0, len(run.printFields()))
		for _, t := range run.printFields() {
			parts = append(parts, compactJSON(res.Output.Field(t)))
		}
		b.WriteString(strings.Join(parts, " "))
		b.WriteString("\n")
	case LayoutAnnotated:
		writeAnnotated(&b, res.Output, sentences)
		writeSummary(&b, len(sentences), res.Processing)
	default:
		for _, t := range run.printFields() {
			b.WriteString(compactJSON(res.Output.Field(t)))
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "LTP %s elapsed: %.3fs\n", run.Name, res.Elapsed.Seconds())

	_, err := io.WriteString(r.out, b.String())
	return err
}

// writeAnnotated prints each sentence followed by its tokens. Words inside
// a named entity carry the entity label.
func writeAnnotated(b *strings.Builder, out *model.NLPOutput, sentences []string) {
	for i, sentence := range sentences {
		fmt.Fprintf(b, "=== sentence %d/%d ===\n", i+1, len(sentences))
		fmt.Fprintf(b, "%s\n", sentence)
		for _, tok := range out.Tokens(i) {
			switch {
			case tok.NER != "":
				fmt.Fprintf(b, "  %s/%s/[%s]\n", tok.Word, tok.POS, tok.NER)
			case tok.POS != "":
				fmt.Fprintf(b, "  %s/%s\n", tok.Word, tok.POS)
			default:
				fmt.Fprintf(b, "  %s\n", tok.Word)
			}
		}
	}
}

// writeSummary prints the sentence count with the total and per-sentence
// processing time. The pipeline call is batched, so the average is the only
// per-sentence figure available.
func writeSummary(b *strings.Builder, count int, processing time.Duration) {
	avg := 0.0
	if count > 0 {
		avg = float64(processing.Microseconds()) / 1000 / float64(count)
	}
	fmt.Fprintf(b, "%d sentence(s), total %.2fs, average %.2f ms/sentence\n",
		count, processing.Seconds(), avg)
}

// compactJSON renders v on one line without escaping HTML characters.
func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
