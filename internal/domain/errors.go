package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBatchAlreadyIngested is returned by a bronze store when the ledger already
// holds the batch id it was asked to commit.
var ErrBatchAlreadyIngested = errors.New("batch already ingested")

// SchemaError reports input whose columns or cells do not match the expected
// shape. It is fatal to the stage and no output is written.
type SchemaError struct {
	Source string // "batch 3", "bronze", "silver"
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Source == "" {
		return "schema error: " + e.Reason
	}
	return fmt.Sprintf("schema error in %s: %s", e.Source, e.Reason)
}

// ConfigError reports configuration that references columns absent upstream.
type ConfigError struct {
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return "config error: " + e.Reason
	}
	return fmt.Sprintf("config error: %s: %s", e.Reason, strings.Join(e.Missing, ", "))
}

// QualityFailure is surfaced when a stage completes but its report status is
// fail. It never aborts the pipeline.
type QualityFailure struct {
	Layer   Layer
	Reasons []string
}

func (e *QualityFailure) Error() string {
	return fmt.Sprintf("%s quality check failed: %s", e.Layer, strings.Join(e.Reasons, "; "))
}
