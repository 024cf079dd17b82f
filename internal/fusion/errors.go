package fusion

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Each typed error below matches exactly one of these via
// errors.Is, so callers can branch on the kind without a type switch.
var (
	ErrMissingSensor     = errors.New("missing required sensor data")
	ErrSynchronization   = errors.New("sensor data not time-synchronised")
	ErrInvalidConfig     = errors.New("invalid fusion configuration")
	ErrContractViolation = errors.New("fusion contract violation")
)

// MissingSensorError reports required sensors with no buffered reading.
// Recoverable: retry once more data has arrived.
type MissingSensorError struct {
	Missing []string // sorted
	Present []string // sorted
}

func (e *MissingSensorError) Error() string {
	return fmt.Sprintf("missing data from required sensors [%s] (have [%s])",
		strings.Join(e.Missing, ", "), strings.Join(e.Present, ", "))
}

func (e *MissingSensorError) Is(target error) bool { return target == ErrMissingSensor }

// SynchronizationError reports required readings whose capture timestamps
// span at least the configured threshold. Recoverable: the cycle is skipped.
type SynchronizationError struct {
	Span      time.Duration
	Threshold time.Duration
	Oldest    string // sensor with the earliest timestamp
	Newest    string // sensor with the latest timestamp
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("sensor timestamps span %v (%s..%s), threshold %v",
		e.Span, e.Oldest, e.Newest, e.Threshold)
}

func (e *SynchronizationError) Is(target error) bool { return target == ErrSynchronization }

// InvalidConfigError is returned at construction time only.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func (e *InvalidConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// ContractViolationError reports malformed input handed between layers, such
// as an empty cluster or a cluster with two members from one sensor. It is a
// programming error in the caller, never expected filtering.
type ContractViolationError struct {
	Component string
	Reason    string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("%s: contract violation: %s", e.Component, e.Reason)
}

func (e *ContractViolationError) Is(target error) bool { return target == ErrContractViolation }

// IsRecoverable reports whether err is a data-availability failure that a
// later cycle may not hit (missing sensor or synchronisation).
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMissingSensor) || errors.Is(err, ErrSynchronization)
}

// ErrorKind returns a short stable label for err, used in logs, stored
// cycle records and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingSensor):
		return "missing_sensor"
	case errors.Is(err, ErrSynchronization):
		return "synchronization"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrContractViolation):
		return "contract_violation"
	default:
		return "internal"
	}
}
