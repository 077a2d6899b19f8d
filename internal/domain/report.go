package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the pass/fail outcome recorded in a report.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether o lies within r.
func (r DateRange) Contains(o DateRange) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

// Days returns the number of calendar days in the range.
func (r DateRange) Days() int {
	return DaysBetween(r.Start, r.End) + 1
}

const secondsPerDay = 24 * 60 * 60

// DaysBetween returns the number of calendar days from a to b. It counts on
// Unix seconds so spans longer than a time.Duration stay exact.
func DaysBetween(a, b time.Time) int {
	return int((truncateDay(b).Unix() - truncateDay(a).Unix()) / secondsPerDay)
}

func (r DateRange) String() string {
	return FormatDate(r.Start) + ".." + FormatDate(r.End)
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{Start: FormatDate(r.Start), End: FormatDate(r.End)})
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseDate(raw.Start)
	if err != nil {
		return fmt.Errorf("date range start: %w", err)
	}
	end, err := ParseDate(raw.End)
	if err != nil {
		return fmt.Errorf("date range end: %w", err)
	}
	r.Start, r.End = start, end
	return nil
}

// RangeViolation counts values outside a column's plausible range.
type RangeViolation struct {
	BelowMin   int     `json:"below_min"`
	AboveMax   int     `json:"above_max"`
	MinAllowed float64 `json:"min_allowed"`
	MaxAllowed float64 `json:"max_allowed"`
}

// MinMax is the observed extent of a column.
type MinMax struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ValidationReport describes one Validator run. It carries no timestamps so
// identical Bronze input always serializes to identical bytes.
type ValidationReport struct {
	Status            Status     `json:"status"`
	Failures          []string   `json:"failures,omitempty"`
	RowsIn            int        `json:"rows_in"`
	RowCount          int        `json:"row_count"`
	DateRange         *DateRange `json:"date_range"`
	BronzeDateRange   *DateRange `json:"bronze_date_range"`
	DuplicatesRemoved int        `json:"duplicates_removed"`
	GapsFilled        int        `json:"gaps_filled"`
	MissingDates      []string   `json:"missing_dates"`

	MissingBeforeImpute map[string]int `json:"missing_values_before_impute"`
	ValuesImputed       int            `json:"values_imputed"`
	RemainingMissing    int            `json:"remaining_missing"`

	OutOfRangeCount int                       `json:"out_of_range_count"`
	RangeViolations map[string]RangeViolation `json:"range_violations"`
	MinMax          map[string]MinMax         `json:"min_max"`
	DerivedColumns  []string                  `json:"derived_columns"`
}

// Err returns a QualityFailure when the report failed, nil otherwise.
func (r ValidationReport) Err() error {
	if r.Status == StatusPass {
		return nil
	}
	return &QualityFailure{Layer: LayerSilver, Reasons: r.Failures}
}

// TargetStats summarizes the Gold target column.
type TargetStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// GoldReport describes one Transformer run.
type GoldReport struct {
	Status          Status       `json:"status"`
	Failures        []string     `json:"failures,omitempty"`
	PredictionTask  string       `json:"prediction_task"`
	RowsIn          int          `json:"rows_in"`
	RowCount        int          `json:"row_count"`
	RowsDropped     int          `json:"rows_dropped"`
	DateRange       *DateRange   `json:"date_range"`
	SilverDateRange *DateRange   `json:"silver_date_range"`
	Columns         []string     `json:"columns"`
	FeatureColumns  []string     `json:"feature_columns"`
	TargetColumn    string       `json:"target_column"`
	MissingValues   int          `json:"missing_values"`
	TargetStats     *TargetStats `json:"target_stats"`
}

// Err returns a QualityFailure when the report failed, nil otherwise.
func (r GoldReport) Err() error {
	if r.Status == StatusPass {
		return nil
	}
	return &QualityFailure{Layer: LayerGold, Reasons: r.Failures}
}

// BronzeReport summarizes the raw layer. It is derived from the ledger and
// Bronze on demand rather than persisted.
type BronzeReport struct {
	Batches   []LedgerEntry `json:"batches"`
	RowCount  int           `json:"row_count"`
	DateRange *DateRange    `json:"date_range"`
}

// SummarizeBronze builds the BronzeReport for b.
func SummarizeBronze(b Bronze) BronzeReport {
	entries := b.Ledger.Entries
	if entries == nil {
		entries = []LedgerEntry{}
	}
	return BronzeReport{
		Batches:   entries,
		RowCount:  len(b.Records),
		DateRange: b.DateRange(),
	}
}

// LayerEvent announces that a stage finished writing a layer.
type LayerEvent struct {
	ID        string     `json:"id"`
	Layer     Layer      `json:"layer"`
	Status    Status     `json:"status"`
	RowCount  int        `json:"row_count"`
	DateRange *DateRange `json:"date_range,omitempty"`
	BatchID   int        `json:"batch_id,omitempty"`
	Applied   bool       `json:"applied,omitempty"`
	EmittedAt time.Time  `json:"emitted_at"`
}
