// Package ltpdemo runs the LTP demonstration: for each configured run it
// loads a checkpoint, optionally moves it to an accelerator, extends the
// vocabulary, runs the pipeline over the demo sentences, and prints the
// selected fields with the wall-clock time the run took.
//
// The built-in configuration (DefaultConfig) performs two runs:
//   - base1: the neural checkpoint with every task, printing cws, pos and sdp
//   - legacy: the perceptron checkpoint with cws, pos and ner, printed as
//     one tuple
//
// A YAML file can replace it (see LoadConfig).
package ltpdemo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// DemoSentence is the sentence every run analyzes unless overridden.
const DemoSentence = "美狄亚这一天很不幸。美狄娅的奶奶从太阳神庙回来后就病倒了。（太阳神庙现在是全国重点文物保护单位——不叫全国文物重点保护单位。"

// Accelerator modes for RunConfig.Accelerator. Any other value is passed
// to the library as a device name.
const (
	// AcceleratorAuto moves the model to "cuda" when a CUDA device exists.
	AcceleratorAuto = "auto"

	// AcceleratorOff keeps the model where the library put it.
	AcceleratorOff = "off"
)

// Layout selects how a run's output is printed.
type Layout string

const (
	// LayoutFields prints each selected field on its own line.
	LayoutFields Layout = "fields"

	// LayoutTuple prints the selected fields together on one line.
	LayoutTuple Layout = "tuple"

	// LayoutAnnotated prints one "word/pos" or "word/pos/[ner]" line per
	// token, sentence by sentence.
	LayoutAnnotated Layout = "annotated"
)

// Config is the whole demo: the input sentences and the runs over them.
type Config struct {
	Sentences []string    `yaml:"sentences"`
	Runs      []RunConfig `yaml:"runs"`
}

// RunConfig describes one checkpoint run.
type RunConfig struct {
	// Name labels the run in the elapsed-time line.
	Name string `yaml:"name"`

	// Model is the checkpoint directory. Fallbacks are tried in order
	// when it does not exist.
	Model     string   `yaml:"model"`
	Fallbacks []string `yaml:"fallbacks,omitempty"`

	// Accelerator is "auto", "off", or a device name such as "cuda:1".
	// Empty means off.
	Accelerator string `yaml:"accelerator,omitempty"`

	// Words are added to the vocabulary before the pipeline runs.
	Words []CustomWords `yaml:"words,omitempty"`

	// Tasks are passed to the pipeline as given.
	Tasks []string `yaml:"tasks"`

	// Print selects the output fields to show. Empty means all tasks.
	Print []string `yaml:"print,omitempty"`

	Layout Layout `yaml:"layout,omitempty"`
}

// CustomWords is one vocabulary addition. A single word is added with
// add_word, several with one add_words call.
type CustomWords struct {
	Words []string `yaml:"words"`
	Freq  int      `yaml:"freq"`
}

// DefaultConfig returns the built-in two-run demo.
func DefaultConfig() *Config {
	return &Config{
		Sentences: []string{DemoSentence},
		Runs: []RunConfig{
			{
				Name:        "base1",
				Model:       "data/LTP/base1",
				Accelerator: AcceleratorAuto,
				Words: []CustomWords{
					{Words: []string{"汤姆去"}, Freq: 2},
					{Words: []string{"外套", "外衣"}, Freq: 2},
				},
				Tasks:  []string{"cws", "pos", "ner", "srl", "dep", "sdp", "sdpg"},
				Print:  []string{"cws", "pos", "sdp"},
				Layout: LayoutFields,
			},
			{
				Name:      "legacy",
				Model:     "data/LTP/legacy",
				Fallbacks: []string{"data/legacy-models"},
				Tasks:     []string{"cws", "pos", "ner"},
				Print:     []string{"cws", "pos", "ner"},
				Layout:    LayoutTuple,
			},
		},
	}
}

// LoadConfig reads a YAML demo configuration. Sentences default to
// DemoSentence when the file lists none. Unknown keys are rejected so
// typos do not silently fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to read config %s", path), err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to parse config %s", path), err)
	}
	if len(cfg.Sentences) == 0 {
		cfg.Sentences = []string{DemoSentence}
	}
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("invalid config %s", path), err)
	}
	return &cfg, nil
}

// Validate checks the structure of the configuration. Task names and
// their combinations are left to the library.
func (c *Config) Validate() error {
	if len(c.Runs) == 0 {
		return errors.New("no runs configured")
	}
	var errs []error
	for i, run := range c.Runs {
		label := run.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if run.Name == "" {
			errs = append(errs, fmt.Errorf("run %s: name is required", label))
		}
		if run.Model == "" {
			errs = append(errs, fmt.Errorf("run %s: model is required", label))
		}
		switch run.Layout {
		case "", LayoutFields, LayoutTuple, LayoutAnnotated:
		default:
			errs = append(errs, fmt.Errorf("run %s: unknown layout %q", label, run.Layout))
		}
		for _, w := range run.Words {
			if len(w.Words) == 0 {
				errs = append(errs, fmt.Errorf("run %s: custom words entry without words", label))
			}
		}
	}
	return errors.Join(errs...)
}

// ReadSentences reads one sentence per line from path, trimming each line
// and skipping blank ones.
func ReadSentences(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to open input %s", path), err)
	}
	defer f.Close()

	var sentences []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			sentences = append(sentences, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to read input %s", path), err)
	}
	if len(sentences) == 0 {
		return nil, model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("input %s contains no sentences", path))
	}
	return sentences, nil
}

// WithSentences returns a copy of c that analyzes sentences instead.
// An empty list leaves the configured sentences in place.
func (c *Config) WithSentences(sentences []string) *Config {
	out := *c
	if len(sentences) > 0 {
		out.Sentences = append([]string(nil), sentences...)
	}
	return &out
}

// printFields returns the tasks whose output the run prints.
func (r RunConfig) printFields() []model.Task {
	if len(r.Print) == 0 {
		return model.ParseTasks(r.Tasks)
	}
	return model.ParseTasks(r.Print)
}

func (r RunConfig) layout() Layout {
	if r.Layout == "" {
		return LayoutFields
	}
	return r.Layout
}

// candidates lists the checkpoint directories to try, Model first.
func (r RunConfig) candidates() []string {
	return append([]string{r.Model}, r.Fallbacks...)
}
