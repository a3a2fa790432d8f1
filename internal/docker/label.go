package docker

import (
	"time"
)

// Label keys applied to every worker container. They share the
// "devscripts." prefix to avoid collisions with labels set by other tools.
const (
	// LabelPrefix is the common prefix for all devscripts labels.
	LabelPrefix = "devscripts."

	// LabelManagedBy identifies containers started by this tool.
	// Key: "devscripts.managed-by", Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelCheckpoint records the checkpoint path the worker loads.
	LabelCheckpoint = LabelPrefix + "ltp-checkpoint"

	// LabelStartedAt records when the worker was started (RFC3339, UTC).
	LabelStartedAt = LabelPrefix + "started-at"
)

// ManagedByValue is the constant value of LabelManagedBy.
const ManagedByValue = "ltp-demo"

// WorkerLabels builds the label set for a worker container.
func WorkerLabels(checkpoint string, startedAt time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy:  ManagedByValue,
		LabelCheckpoint: checkpoint,
		LabelStartedAt:  startedAt.UTC().Format(time.RFC3339),
	}
}

// IsWorkerContainer reports whether a label set belongs to a worker
// started by this tool.
func IsWorkerContainer(labels map[string]string) bool {
	return labels[LabelManagedBy] == ManagedByValue
}

// ParseStartedAt reads LabelStartedAt. ok is false when the label is
// missing or malformed.
func ParseStartedAt(labels map[string]string) (t time.Time, ok bool) {
	raw, exists := labels[LabelStartedAt]
	if !exists {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
