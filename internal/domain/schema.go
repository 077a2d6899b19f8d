package domain

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Column names shared by every layer.
const (
	ColDate         = "date"
	ColMeanTemp     = "meantemp"
	ColHumidity     = "humidity"
	ColWindSpeed    = "wind_speed"
	ColMeanPressure = "meanpressure"

	ColBatchID  = "batch_id"
	ColBatchRow = "batch_row"

	ColMeanTempRolling7d = "meantemp_rolling_7d"
	ColMeanTempLag1      = "meantemp_lag_1"
	ColMeanTempLag7      = "meantemp_lag_7"
	ColDayOfYear         = "day_of_year"

	ColTarget = "target"
)

// DateLayout is the calendar date format used in every file and report.
const DateLayout = "2006-01-02"

var (
	// MeasurementColumns are the raw numeric columns carried by a batch, in file order.
	MeasurementColumns = []string{ColMeanTemp, ColHumidity, ColWindSpeed, ColMeanPressure}

	// BatchColumns is the fixed schema every batch must carry.
	BatchColumns = append([]string{ColDate}, MeasurementColumns...)

	// BronzeColumns is BatchColumns plus the row-origin marker.
	BronzeColumns = append(slices.Clone(BatchColumns), ColBatchID, ColBatchRow)

	// DerivedColumns are the enrichment features added by the validator.
	DerivedColumns = []string{ColMeanTempRolling7d, ColMeanTempLag1, ColMeanTempLag7, ColDayOfYear}

	// SilverNumericColumns lists every numeric Silver column.
	SilverNumericColumns = append(slices.Clone(MeasurementColumns), DerivedColumns...)

	// SilverColumns is the Silver file header.
	SilverColumns = append([]string{ColDate}, SilverNumericColumns...)
)

// Layer names a dataset layer.
type Layer string

const (
	LayerBronze Layer = "bronze"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
)

// ParseLayer converts a string into a known Layer.
func ParseLayer(s string) (Layer, error) {
	switch l := Layer(strings.ToLower(strings.TrimSpace(s))); l {
	case LayerBronze, LayerSilver, LayerGold:
		return l, nil
	default:
		return "", fmt.Errorf("unknown layer %q", s)
	}
}

// ParseDate parses a calendar date. A trailing time component separated by a
// space or 'T' ("2013-01-01 00:00:00", "2013-01-01T00:00:00Z") is accepted
// and discarded; any other trailing text is an error.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		if sep := s[len(DateLayout)]; sep != ' ' && sep != 'T' {
			return time.Time{}, fmt.Errorf("invalid date %q: unexpected text after the date", s)
		}
		s = s[:len(DateLayout)]
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// FormatDate renders a date in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// truncateDay normalizes t to midnight UTC.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseMeasurement parses an optional numeric cell. Empty cells and the usual
// NA spellings are missing and return nil.
func ParseMeasurement(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "na", "null", "none":
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, nil
	}
	return &v, nil
}

// FormatFloat renders a value for CSV output; NaN is written as an empty cell.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatMeasurement renders an optional value for CSV output.
func FormatMeasurement(v *float64) string {
	if v == nil {
		return ""
	}
	return FormatFloat(*v)
}

// CheckColumns reports a SchemaError unless got holds exactly the columns in
// want, in any order.
func CheckColumns(source string, got, want []string) error {
	seen := make(map[string]bool, len(got))
	var extra, dup []string
	for _, c := range got {
		c = strings.TrimSpace(c)
		if seen[c] {
			dup = append(dup, c)
			continue
		}
		seen[c] = true
		if !slices.Contains(want, c) {
			extra = append(extra, c)
		}
	}
	var missing []string
	for _, c := range want {
		if !seen[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 && len(extra) == 0 && len(dup) == 0 {
		return nil
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing columns "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected columns "+strings.Join(extra, ", "))
	}
	if len(dup) > 0 {
		parts = append(parts, "duplicate columns "+strings.Join(dup, ", "))
	}
	return &SchemaError{Source: source, Reason: strings.Join(parts, "; ")}
}

// columnIndex maps column names to their position in header.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, c := range header {
		idx[strings.TrimSpace(c)] = i
	}
	return idx
}
