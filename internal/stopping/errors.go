package stopping

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrMissingMetric   = errors.New("missing metric")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrState           = errors.New("engine already stopped")
)

// ConfigurationError lists every problem found in an EngineConfig.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// MissingMetricError is returned when a snapshot omits configured metrics.
type MissingMetricError struct {
	Index int
	Names []string
}

func (e *MissingMetricError) Error() string {
	return fmt.Sprintf("snapshot %d: missing metric(s) %s", e.Index, strings.Join(e.Names, ", "))
}

func (e *MissingMetricError) Is(target error) bool { return target == ErrMissingMetric }

// InvalidSnapshotError is returned for out-of-order indices and non-finite values.
type InvalidSnapshotError struct {
	Index  int
	Metric string // empty when the index itself is the problem
	Reason string
}

func (e *InvalidSnapshotError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("snapshot %d: metric %q %s", e.Index, e.Metric, e.Reason)
	}
	return fmt.Sprintf("snapshot %d: %s", e.Index, e.Reason)
}

func (e *InvalidSnapshotError) Is(target error) bool { return target == ErrInvalidSnapshot }

// StateError is returned by Evaluate once the engine has stopped.
type StateError struct {
	Index     int
	StoppedAt Decision
}

func (e *StateError) Error() string {
	return fmt.Sprintf("snapshot %d: engine stopped at iteration %d (%s)", e.Index, e.StoppedAt.Index, e.StoppedAt.Reason)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// Kind names the error category of err, or "" if err is not an engine error.
// Used as a stable label by transports and telemetry.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrMissingMetric):
		return "missing_metric"
	case errors.Is(err, ErrInvalidSnapshot):
		return "invalid_snapshot"
	case errors.Is(err, ErrState):
		return "state"
	default:
		return ""
	}
}
