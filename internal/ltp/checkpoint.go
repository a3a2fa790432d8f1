package ltp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// CheckpointKind distinguishes the two checkpoint families LTP ships.
type CheckpointKind string

const (
	// KindNeural is a transformer checkpoint (config.json plus weights).
	KindNeural CheckpointKind = "neural"

	// KindLegacy is a perceptron checkpoint made of per-task
	// <task>_model.bin files.
	KindLegacy CheckpointKind = "legacy"

	// KindUnknown means the directory holds neither layout (or is missing).
	KindUnknown CheckpointKind = "unknown"
)

// legacyModelFiles maps each legacy task to its model file name.
var legacyModelFiles = map[model.Task]string{
	model.TaskCWS: "cws_model.bin",
	model.TaskPOS: "pos_model.bin",
	model.TaskNER: "ner_model.bin",
}

// Checkpoint describes a checkpoint directory for logging. It is purely
// informational; loading never depends on it.
type Checkpoint struct {
	Dir  string
	Kind CheckpointKind

	// ConfigKeys are the top-level keys of config.json, sorted.
	ConfigKeys []string

	// LegacyTasks lists the tasks whose legacy model file is present.
	LegacyTasks []model.Task
}

// InspectCheckpoint looks at dir without loading anything. config.json is
// parsed leniently (comments and trailing commas are tolerated) because
// hand-edited checkpoint configs are common.
func InspectCheckpoint(dir string) (*Checkpoint, error) {
	cp := &Checkpoint{Dir: dir, Kind: KindUnknown}

	for _, task := range model.AllTasks {
		name, ok := legacyModelFiles[task]
		if !ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			cp.LegacyTasks = append(cp.LegacyTasks, task)
		}
	}
	if len(cp.LegacyTasks) > 0 {
		cp.Kind = KindLegacy
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return cp, fmt.Errorf("read checkpoint config: %w", err)
	}

	var config map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return cp, fmt.Errorf("parse %s: %w", filepath.Join(dir, "config.json"), err)
	}
	for key := range config {
		cp.ConfigKeys = append(cp.ConfigKeys, key)
	}
	sort.Strings(cp.ConfigKeys)

	if cp.Kind == KindUnknown {
		cp.Kind = KindNeural
	}
	return cp, nil
}

// ResolveCheckpoint returns the first candidate directory that exists.
// When none exists the first candidate is returned unchanged so that the
// library, not this program, reports the missing checkpoint.
func ResolveCheckpoint(candidates ...string) string {
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0]
}
