package domain

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// DefaultFeatures is the Gold feature set used when configuration supplies none.
var DefaultFeatures = []string{
	ColMeanTemp,
	ColHumidity,
	ColMeanPressure,
	ColMeanTempRolling7d,
	ColMeanTempLag1,
	ColMeanTempLag7,
	ColDayOfYear,
}

// Transform projects Silver onto the configured features and derives the
// next-day target: the row for date D carries the meantemp of D+1. Rows with
// no successor day, which for a continuous Silver is only the last one, are
// dropped so no target is ever null.
//
// Every feature must name a Silver column; "date" is accepted and ignored
// since it is always emitted. Unknown names yield a ConfigError listing them.
func Transform(silver Silver, features []string) (Gold, GoldReport, error) {
	cols, err := resolveFeatures(features)
	if err != nil {
		return Gold{}, GoldReport{}, err
	}
	if len(silver.Records) == 0 {
		return Gold{}, GoldReport{}, &SchemaError{Source: "silver", Reason: "no records"}
	}

	rows := slices.Clone(silver.Records)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	gold := Gold{FeatureColumns: cols, Records: make([]GoldRecord, 0, len(rows))}
	for i, rec := range rows {
		if i+1 >= len(rows) || !rows[i+1].Date.Equal(rec.Date.AddDate(0, 0, 1)) {
			continue
		}
		feats := make([]float64, len(cols))
		for j, c := range cols {
			feats[j], _ = rec.Value(c)
		}
		gold.Records = append(gold.Records, GoldRecord{
			Date:     rec.Date,
			Features: feats,
			MeanTemp: rec.MeanTemp,
			Target:   rows[i+1].MeanTemp,
		})
	}

	report := GoldReport{
		PredictionTask:  "next-day " + ColMeanTemp,
		RowsIn:          len(rows),
		RowCount:        len(gold.Records),
		RowsDropped:     len(rows) - len(gold.Records),
		DateRange:       gold.DateRange(),
		SilverDateRange: silver.DateRange(),
		Columns:         gold.Columns(),
		FeatureColumns:  slices.Clone(cols),
		TargetColumn:    ColTarget,
	}

	for i := range gold.Records {
		for _, v := range gold.Values(i) {
			if math.IsNaN(v) {
				report.MissingValues++
			}
		}
	}
	report.TargetStats = targetStats(gold.Records)

	if report.RowCount == 0 {
		report.Failures = append(report.Failures, "gold has no rows")
	}
	if report.MissingValues > 0 {
		report.Failures = append(report.Failures, fmt.Sprintf("%d missing feature or target values", report.MissingValues))
	}
	if report.DateRange != nil && report.SilverDateRange != nil && !report.SilverDateRange.Contains(*report.DateRange) {
		report.Failures = append(report.Failures, "gold date range is not contained in silver")
	}
	report.Status = StatusPass
	if len(report.Failures) > 0 {
		report.Status = StatusFail
	}
	return gold, report, nil
}

func resolveFeatures(features []string) ([]string, error) {
	var cols, missing []string
	for _, f := range features {
		switch {
		case f == ColDate:
		case !slices.Contains(SilverNumericColumns, f):
			missing = append(missing, f)
		case !slices.Contains(cols, f):
			cols = append(cols, f)
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing, Reason: "features missing from silver"}
	}
	if len(cols) == 0 {
		return nil, &ConfigError{Reason: "no feature columns configured"}
	}
	return cols, nil
}

// targetStats uses the sample standard deviation and rounds to four places.
func targetStats(records []GoldRecord) *TargetStats {
	vals := make([]float64, 0, len(records))
	for _, r := range records {
		if !math.IsNaN(r.Target) {
			vals = append(vals, r.Target)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	mean, std := meanStd(vals)
	return &TargetStats{
		Mean: round(mean, 4),
		Std:  round(std, 4),
		Min:  round(slices.Min(vals), 4),
		Max:  round(slices.Max(vals), 4),
	}
}

func meanStd(vals []float64) (float64, float64) {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(vals)-1))
}
