package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Task names one LTP analysis stage. The names are the ones the LTP
// pipeline accepts verbatim in its task list.
type Task string

const (
	// TaskCWS is Chinese word segmentation.
	TaskCWS Task = "cws"

	// TaskPOS is part-of-speech tagging. Requires cws.
	TaskPOS Task = "pos"

	// TaskNER is named entity recognition. Requires cws and pos.
	TaskNER Task = "ner"

	// TaskSRL is semantic role labeling.
	TaskSRL Task = "srl"

	// TaskDep is syntactic dependency parsing.
	TaskDep Task = "dep"

	// TaskSDP is semantic dependency parsing (tree).
	TaskSDP Task = "sdp"

	// TaskSDPG is semantic dependency parsing (graph).
	TaskSDPG Task = "sdpg"
)

// AllTasks lists every task in pipeline order.
var AllTasks = []Task{TaskCWS, TaskPOS, TaskNER, TaskSRL, TaskDep, TaskSDP, TaskSDPG}

// String returns the string representation of Task.
func (t Task) String() string {
	return string(t)
}

// IsKnown reports whether t is one of the tasks this package can decode.
// Unknown tasks are still forwarded to the library, which decides whether
// they are valid.
func (t Task) IsKnown() bool {
	for _, known := range AllTasks {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTasks normalizes task names (trimmed, lower-cased) without rejecting
// unknown ones.
func ParseTasks(names []string) []Task {
	tasks := make([]Task, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		tasks = append(tasks, Task(n))
	}
	return tasks
}

// TaskNames converts tasks back to plain strings for the worker protocol.
func TaskNames(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = string(t)
	}
	return names
}

// NLPOutput is the decoded result of one pipeline call. Each field holds one
// entry per input sentence and is nil when the task was not requested.
type NLPOutput struct {
	CWS  [][]string    `json:"cws,omitempty"`
	POS  [][]string    `json:"pos,omitempty"`
	NER  [][]Entity    `json:"ner,omitempty"`
	SRL  [][]Predicate `json:"srl,omitempty"`
	Dep  []DepTree     `json:"dep,omitempty"`
	SDP  []DepTree     `json:"sdp,omitempty"`
	SDPG [][]GraphArc  `json:"sdpg,omitempty"`
}

// Field returns the value stored for a task, or nil for unknown tasks.
func (o *NLPOutput) Field(t Task) any {
	switch t {
	case TaskCWS:
		return o.CWS
	case TaskPOS:
		return o.POS
	case TaskNER:
		return o.NER
	case TaskSRL:
		return o.SRL
	case TaskDep:
		return o.Dep
	case TaskSDP:
		return o.SDP
	case TaskSDPG:
		return o.SDPG
	default:
		return nil
	}
}

// Token is one segmented word with its tags, used by the annotated layout.
type Token struct {
	Word string `json:"word"`
	POS  string `json:"pos,omitempty"`
	// NER is the entity label covering this word, "" when none.
	NER string `json:"ner,omitempty"`
}

// Tokens joins the cws, pos and ner results of sentence i word by word.
// Missing tags are left empty.
func (o *NLPOutput) Tokens(i int) []Token {
	if i < 0 || i >= len(o.CWS) {
		return nil
	}
	words := o.CWS[i]
	tokens := make([]Token, len(words))
	for j, w := range words {
		tokens[j].Word = w
		if i < len(o.POS) && j < len(o.POS[i]) {
			tokens[j].POS = o.POS[i][j]
		}
	}
	if i < len(o.NER) {
		for _, e := range o.NER[i] {
			e.markTokens(tokens)
		}
	}
	return tokens
}

// Entity is one named entity span. The library reports entities as tuples,
// either (label, text) or (label, text, start, end) with inclusive word
// offsets.
type Entity struct {
	Label string `json:"label"`
	Text  string `json:"text"`
	// Start and End are word offsets; both -1 when the library omitted them.
	Start int `json:"start"`
	End   int `json:"end"`
}

func (e Entity) markTokens(tokens []Token) {
	if e.Start >= 0 && e.End >= e.Start {
		for k := e.Start; k <= e.End && k < len(tokens); k++ {
			tokens[k].NER = e.Label
		}
		return
	}
	for k := range tokens {
		if tokens[k].Word == e.Text {
			tokens[k].NER = e.Label
		}
	}
}

// UnmarshalJSON accepts both the tuple form and an object form.
func (e *Entity) UnmarshalJSON(data []byte) error {
	e.Start, e.End = -1, -1
	if isJSONObject(data) {
		type plain Entity
		p := plain{Start: -1, End: -1}
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*e = Entity(p)
		return nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("entity: expected at least 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &e.Label); err != nil {
		return fmt.Errorf("entity label: %w", err)
	}
	if err := json.Unmarshal(parts[1], &e.Text); err != nil {
		return fmt.Errorf("entity text: %w", err)
	}
	if len(parts) >= 4 {
		if err := json.Unmarshal(parts[2], &e.Start); err != nil {
			return fmt.Errorf("entity start: %w", err)
		}
		if err := json.Unmarshal(parts[3], &e.End); err != nil {
			return fmt.Errorf("entity end: %w", err)
		}
	}
	return nil
}

// String formats the entity the way the library prints its tuples.
func (e Entity) String() string {
	if e.Start < 0 {
		return fmt.Sprintf("(%s, %s)", e.Label, e.Text)
	}
	return fmt.Sprintf("(%s, %s, %d, %d)", e.Label, e.Text, e.Start, e.End)
}

// Predicate is one semantic-role frame: a predicate word and its arguments.
type Predicate struct {
	Index     int        `json:"index"`
	Predicate string     `json:"predicate"`
	Arguments []Argument `json:"arguments"`
}

// Argument is one role span of a Predicate, reported as a
// (role, text, start, end) tuple.
type Argument struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// UnmarshalJSON accepts both the tuple form and an object form.
func (a *Argument) UnmarshalJSON(data []byte) error {
	a.Start, a.End = -1, -1
	if isJSONObject(data) {
		type plain Argument
		p := plain{Start: -1, End: -1}
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*a = Argument(p)
		return nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("argument: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("argument: expected at least 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &a.Role); err != nil {
		return fmt.Errorf("argument role: %w", err)
	}
	if err := json.Unmarshal(parts[1], &a.Text); err != nil {
		return fmt.Errorf("argument text: %w", err)
	}
	if len(parts) >= 4 {
		if err := json.Unmarshal(parts[2], &a.Start); err != nil {
			return fmt.Errorf("argument start: %w", err)
		}
		if err := json.Unmarshal(parts[3], &a.End); err != nil {
			return fmt.Errorf("argument end: %w", err)
		}
	}
	return nil
}

// DepTree is a dependency tree for one sentence: Head[i] is the 1-based
// index of word i's head (0 for the root) and Label[i] the relation.
type DepTree struct {
	Head  []int    `json:"head"`
	Label []string `json:"label"`
}

// GraphArc is one edge of a semantic dependency graph, reported as a
// (dependent, head, label) tuple.
type GraphArc struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Label string `json:"label"`
}

// UnmarshalJSON accepts both the tuple form and an object form.
func (g *GraphArc) UnmarshalJSON(data []byte) error {
	if isJSONObject(data) {
		type plain GraphArc
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*g = GraphArc(p)
		return nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("graph arc: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("graph arc: expected 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &g.From); err != nil {
		return fmt.Errorf("graph arc from: %w", err)
	}
	if err := json.Unmarshal(parts[1], &g.To); err != nil {
		return fmt.Errorf("graph arc to: %w", err)
	}
	if err := json.Unmarshal(parts[2], &g.Label); err != nil {
		return fmt.Errorf("graph arc label: %w", err)
	}
	return nil
}

func isJSONObject(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
