package domain

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"
)

// Range is the plausible [Min, Max] interval for a numeric column.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// ValueRanges maps a measurement column to its plausible range.
type ValueRanges map[string]Range

// DefaultValueRanges returns the ranges used when configuration supplies none.
func DefaultValueRanges() ValueRanges {
	return ValueRanges{
		ColMeanTemp:     {Min: -20, Max: 55},
		ColHumidity:     {Min: 0, Max: 100},
		ColWindSpeed:    {Min: 0, Max: 50},
		ColMeanPressure: {Min: 900, Max: 1100},
	}
}

// rollingWindow is the trailing window of meantemp_rolling_7d.
const rollingWindow = 7

// Validate turns Bronze records into the Silver series:
//
//  1. rows sharing a date collapse to the one with the highest origin
//     (batch id, then row position), so the result depends only on the set
//     of absorbed batches and not on the order they arrived in;
//  2. the series is reindexed to one row per calendar day between the first
//     and last date, creating gap rows;
//  3. missing values are linearly interpolated between the nearest observed
//     neighbours, carrying the nearest value at either boundary, then
//     measurements are rounded to two decimals;
//  4. values outside ranges are counted but kept;
//  5. rolling mean, lag and day-of-year features are appended.
//
// The report passes iff no value is left missing. An empty or malformed
// Bronze yields a SchemaError.
func Validate(records []BronzeRecord, ranges ValueRanges) (Silver, ValidationReport, error) {
	if len(records) == 0 {
		return Silver{}, ValidationReport{}, &SchemaError{Source: "bronze", Reason: "no records"}
	}
	for col := range ranges {
		if !slices.Contains(MeasurementColumns, col) {
			return Silver{}, ValidationReport{}, &ConfigError{
				Missing: []string{col},
				Reason:  "value range configured for unknown column",
			}
		}
	}

	unique := make(map[time.Time]BronzeRecord, len(records))
	for i, rec := range records {
		if rec.Date.IsZero() {
			return Silver{}, ValidationReport{}, &SchemaError{
				Source: "bronze",
				Reason: fmt.Sprintf("record %d has no date", i+1),
			}
		}
		day := truncateDay(rec.Date)
		rec.Date = day
		if kept, ok := unique[day]; !ok || rec.after(kept) {
			unique[day] = rec
		}
	}

	dates := make([]time.Time, 0, len(unique))
	for d := range unique {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	span := DateRange{Start: dates[0], End: dates[len(dates)-1]}
	days := span.Days()

	report := ValidationReport{
		RowsIn:              len(records),
		BronzeDateRange:     &span,
		DuplicatesRemoved:   len(records) - len(unique),
		GapsFilled:          days - len(unique),
		MissingDates:        []string{},
		MissingBeforeImpute: map[string]int{},
		RangeViolations:     map[string]RangeViolation{},
		MinMax:              map[string]MinMax{},
		DerivedColumns:      slices.Clone(DerivedColumns),
	}

	// Date-indexed series: position i holds span.Start + i days.
	series := make(map[string][]float64, len(MeasurementColumns))
	for _, col := range MeasurementColumns {
		series[col] = make([]float64, days)
	}
	out := make([]SilverRecord, days)
	for i := range days {
		day := span.Start.AddDate(0, 0, i)
		out[i].Date = day
		rec, ok := unique[day]
		if !ok {
			report.MissingDates = append(report.MissingDates, FormatDate(day))
		}
		for _, col := range MeasurementColumns {
			v := math.NaN()
			if ok {
				if p := rec.Field(col); p != nil {
					v = *p
				}
			}
			series[col][i] = v
		}
	}

	for _, col := range MeasurementColumns {
		s := series[col]
		if n := countNaN(s); n > 0 {
			report.MissingBeforeImpute[col] = n
		}
		report.ValuesImputed += interpolate(s)
		for i := range s {
			s[i] = round(s[i], 2)
			out[i].SetValue(col, s[i])
		}
	}

	for _, col := range MeasurementColumns {
		r, ok := ranges[col]
		if !ok {
			continue
		}
		if v := checkRange(series[col], r); v.BelowMin+v.AboveMax > 0 {
			report.RangeViolations[col] = v
			report.OutOfRangeCount += v.BelowMin + v.AboveMax
		}
	}

	enrich(out, series[ColMeanTemp])

	for _, col := range SilverNumericColumns {
		var missing int
		mm := MinMax{Min: math.Inf(1), Max: math.Inf(-1)}
		for _, rec := range out {
			v, _ := rec.Value(col)
			if math.IsNaN(v) {
				missing++
				continue
			}
			mm.Min = math.Min(mm.Min, v)
			mm.Max = math.Max(mm.Max, v)
		}
		report.RemainingMissing += missing
		if missing < len(out) && slices.Contains(MeasurementColumns, col) {
			report.MinMax[col] = mm
		}
		if missing > 0 {
			report.Failures = append(report.Failures, fmt.Sprintf("%s has %d missing values after imputation", col, missing))
		}
	}

	silver := Silver{Records: out}
	report.RowCount = len(out)
	report.DateRange = silver.DateRange()
	report.Status = StatusPass
	if report.RemainingMissing > 0 {
		report.Status = StatusFail
	}
	return silver, report, nil
}

// interpolate fills NaN entries of s in place and returns how many it filled.
// Interior gaps are filled linearly between the surrounding observations;
// leading and trailing gaps take the nearest observation. A series with no
// observation at all is left untouched.
func interpolate(s []float64) int {
	filled := 0
	prev := -1
	for i, v := range s {
		if math.IsNaN(v) {
			continue
		}
		switch {
		case prev == -1:
			for j := 0; j < i; j++ {
				s[j] = v
				filled++
			}
		case i-prev > 1:
			step := (v - s[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				s[j] = s[prev] + step*float64(j-prev)
				filled++
			}
		}
		prev = i
	}
	if prev == -1 {
		return 0
	}
	for j := prev + 1; j < len(s); j++ {
		s[j] = s[prev]
		filled++
	}
	return filled
}

func checkRange(s []float64, r Range) RangeViolation {
	v := RangeViolation{MinAllowed: r.Min, MaxAllowed: r.Max}
	for _, x := range s {
		switch {
		case math.IsNaN(x):
		case x < r.Min:
			v.BelowMin++
		case x > r.Max:
			v.AboveMax++
		}
	}
	return v
}

// enrich fills the derived columns from the cleaned meantemp series.
func enrich(out []SilverRecord, meantemp []float64) {
	for i := range out {
		n := min(i+1, rollingWindow)
		out[i].MeanTempRolling7d = windowMean(meantemp[i+1-n : i+1])
		out[i].MeanTempLag1 = lag(meantemp, i, 1)
		out[i].MeanTempLag7 = lag(meantemp, i, 7)
		out[i].DayOfYear = out[i].Date.YearDay()
	}
}

func windowMean(w []float64) float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// lag returns s[i-k], carrying the first value back for the leading k days.
func lag(s []float64, i, k int) float64 {
	if i < k {
		return s[0]
	}
	return s[i-k]
}

func countNaN(s []float64) int {
	n := 0
	for _, v := range s {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

func round(v float64, places int) float64 {
	if math.IsNaN(v) {
		return v
	}
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
