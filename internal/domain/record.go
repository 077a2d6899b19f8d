package domain

import (
	"fmt"
	"math"
	"time"
)

// Measurements holds the raw numeric readings of one day. A nil field is a
// missing value.
type Measurements struct {
	MeanTemp     *float64
	Humidity     *float64
	WindSpeed    *float64
	MeanPressure *float64
}

// Field returns the reading stored under a measurement column name.
func (m Measurements) Field(col string) *float64 {
	switch col {
	case ColMeanTemp:
		return m.MeanTemp
	case ColHumidity:
		return m.Humidity
	case ColWindSpeed:
		return m.WindSpeed
	case ColMeanPressure:
		return m.MeanPressure
	default:
		return nil
	}
}

// SetField stores v under a measurement column name. Unknown names are ignored.
func (m *Measurements) SetField(col string, v *float64) {
	switch col {
	case ColMeanTemp:
		m.MeanTemp = v
	case ColHumidity:
		m.Humidity = v
	case ColWindSpeed:
		m.WindSpeed = v
	case ColMeanPressure:
		m.MeanPressure = v
	}
}

// BatchRow is one line of an incoming batch.
type BatchRow struct {
	Date time.Time
	Measurements
}

// Batch is one externally numbered input of new rows.
type Batch struct {
	ID   int
	Rows []BatchRow
}

// NewBatch builds a Batch from a CSV header and its records, rejecting
// anything that does not match BatchColumns.
func NewBatch(id int, header []string, records [][]string) (Batch, error) {
	source := fmt.Sprintf("batch %d", id)
	if id < 1 {
		return Batch{}, &SchemaError{Source: source, Reason: "batch id must be a positive integer"}
	}
	if err := CheckColumns(source, header, BatchColumns); err != nil {
		return Batch{}, err
	}

	idx := columnIndex(header)
	rows := make([]BatchRow, 0, len(records))
	for i, rec := range records {
		if len(rec) != len(header) {
			return Batch{}, &SchemaError{
				Source: source,
				Reason: fmt.Sprintf("row %d has %d fields, want %d", i+1, len(rec), len(header)),
			}
		}
		row, err := parseBatchRow(rec, idx)
		if err != nil {
			return Batch{}, &SchemaError{Source: source, Reason: fmt.Sprintf("row %d: %v", i+1, err)}
		}
		rows = append(rows, row)
	}
	return Batch{ID: id, Rows: rows}, nil
}

func parseBatchRow(rec []string, idx map[string]int) (BatchRow, error) {
	date, err := ParseDate(rec[idx[ColDate]])
	if err != nil {
		return BatchRow{}, err
	}
	row := BatchRow{Date: date}
	for _, col := range MeasurementColumns {
		v, err := ParseMeasurement(rec[idx[col]])
		if err != nil {
			return BatchRow{}, fmt.Errorf("%s: %w", col, err)
		}
		row.SetField(col, v)
	}
	return row, nil
}

// BronzeRecord is a batch row as stored in Bronze, tagged with its origin so
// exact duplicates and overlaps stay distinguishable.
type BronzeRecord struct {
	Date     time.Time
	BatchID  int
	BatchRow int // zero-based position within the batch
	Measurements
}

// after reports whether r was received after o under the origin ordering
// (batch id, then row position).
func (r BronzeRecord) after(o BronzeRecord) bool {
	if r.BatchID != o.BatchID {
		return r.BatchID > o.BatchID
	}
	return r.BatchRow > o.BatchRow
}

// SilverRecord is one cleaned, enriched day. NaN marks a value the validator
// could not impute because its column held no observation at all.
type SilverRecord struct {
	Date         time.Time
	MeanTemp     float64
	Humidity     float64
	WindSpeed    float64
	MeanPressure float64

	MeanTempRolling7d float64
	MeanTempLag1      float64
	MeanTempLag7      float64
	DayOfYear         int
}

// Value returns the numeric Silver column named col.
func (r SilverRecord) Value(col string) (float64, bool) {
	switch col {
	case ColMeanTemp:
		return r.MeanTemp, true
	case ColHumidity:
		return r.Humidity, true
	case ColWindSpeed:
		return r.WindSpeed, true
	case ColMeanPressure:
		return r.MeanPressure, true
	case ColMeanTempRolling7d:
		return r.MeanTempRolling7d, true
	case ColMeanTempLag1:
		return r.MeanTempLag1, true
	case ColMeanTempLag7:
		return r.MeanTempLag7, true
	case ColDayOfYear:
		return float64(r.DayOfYear), true
	default:
		return math.NaN(), false
	}
}

// SetValue stores v under the numeric Silver column named col.
func (r *SilverRecord) SetValue(col string, v float64) bool {
	switch col {
	case ColMeanTemp:
		r.MeanTemp = v
	case ColHumidity:
		r.Humidity = v
	case ColWindSpeed:
		r.WindSpeed = v
	case ColMeanPressure:
		r.MeanPressure = v
	case ColMeanTempRolling7d:
		r.MeanTempRolling7d = v
	case ColMeanTempLag1:
		r.MeanTempLag1 = v
	case ColMeanTempLag7:
		r.MeanTempLag7 = v
	case ColDayOfYear:
		r.DayOfYear = int(v)
	default:
		return false
	}
	return true
}

// Silver is the validated daily series, sorted by date with one row per day.
type Silver struct {
	Records []SilverRecord
}

// DateRange returns the first and last date of the series, or nil when empty.
func (s Silver) DateRange() *DateRange {
	if len(s.Records) == 0 {
		return nil
	}
	return &DateRange{Start: s.Records[0].Date, End: s.Records[len(s.Records)-1].Date}
}

// GoldRecord is one supervised-learning row. Features align with
// Gold.FeatureColumns.
type GoldRecord struct {
	Date     time.Time
	Features []float64
	MeanTemp float64
	Target   float64
}

// Gold is the feature-selected, target-shifted table.
type Gold struct {
	FeatureColumns []string
	Records        []GoldRecord
}

// Columns returns the Gold file header: date, the features, meantemp unless it
// is already a feature, and target.
func (g Gold) Columns() []string {
	cols := make([]string, 0, len(g.FeatureColumns)+3)
	cols = append(cols, ColDate)
	cols = append(cols, g.FeatureColumns...)
	if !g.meanTempIsFeature() {
		cols = append(cols, ColMeanTemp)
	}
	return append(cols, ColTarget)
}

// Values returns the numeric cells of record i in Columns order, without the date.
func (g Gold) Values(i int) []float64 {
	r := g.Records[i]
	vals := make([]float64, 0, len(r.Features)+2)
	vals = append(vals, r.Features...)
	if !g.meanTempIsFeature() {
		vals = append(vals, r.MeanTemp)
	}
	return append(vals, r.Target)
}

// DateRange returns the first and last date of the table, or nil when empty.
func (g Gold) DateRange() *DateRange {
	if len(g.Records) == 0 {
		return nil
	}
	return &DateRange{Start: g.Records[0].Date, End: g.Records[len(g.Records)-1].Date}
}

func (g Gold) meanTempIsFeature() bool {
	for _, c := range g.FeatureColumns {
		if c == ColMeanTemp {
			return true
		}
	}
	return false
}
