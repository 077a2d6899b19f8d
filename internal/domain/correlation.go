package domain

import (
	"math"
	"slices"
	"sort"
)

// HighCorrelationThreshold is the |r| above which two features are reported
// as redundant.
const HighCorrelationThreshold = 0.9

// CorrelatedPair is a pair of columns whose correlation exceeds the threshold.
type CorrelatedPair struct {
	A string  `json:"feature_a"`
	B string  `json:"feature_b"`
	R float64 `json:"correlation"`
}

// TargetCorrelation is one feature's correlation with the target column.
type TargetCorrelation struct {
	Feature string  `json:"feature"`
	R       float64 `json:"correlation"`
	AbsR    float64 `json:"abs_correlation"`
}

// CorrelationReport is the output of Correlate. Pairs whose correlation is
// undefined (a constant column) are absent from Matrix.
type CorrelationReport struct {
	Target             string                        `json:"target"`
	RowCount           int                           `json:"row_count"`
	Columns            []string                      `json:"columns"`
	Matrix             map[string]map[string]float64 `json:"correlation_matrix"`
	HighlyCorrelated   []CorrelatedPair              `json:"highly_correlated_pairs"`
	TargetCorrelations []TargetCorrelation           `json:"feature_target_correlations"`
}

// Correlate computes Pearson correlations between every pair of numeric
// Silver columns and ranks the features by |r| against target. It is an
// exploratory aid for choosing the Gold feature set.
func Correlate(silver Silver, target string) (CorrelationReport, error) {
	if !slices.Contains(SilverNumericColumns, target) {
		return CorrelationReport{}, &ConfigError{Missing: []string{target}, Reason: "correlation target missing from silver"}
	}
	if len(silver.Records) == 0 {
		return CorrelationReport{}, &SchemaError{Source: "silver", Reason: "no records"}
	}

	cols := slices.Clone(SilverNumericColumns)
	data := make(map[string][]float64, len(cols))
	for _, c := range cols {
		s := make([]float64, len(silver.Records))
		for i, rec := range silver.Records {
			s[i], _ = rec.Value(c)
		}
		data[c] = s
	}

	report := CorrelationReport{
		Target:             target,
		RowCount:           len(silver.Records),
		Columns:            cols,
		Matrix:             make(map[string]map[string]float64, len(cols)),
		HighlyCorrelated:   []CorrelatedPair{},
		TargetCorrelations: []TargetCorrelation{},
	}
	for i, a := range cols {
		report.Matrix[a] = map[string]float64{}
		for j, b := range cols {
			r, ok := pearson(data[a], data[b])
			if !ok {
				continue
			}
			r = round(r, 4)
			report.Matrix[a][b] = r
			if j > i && math.Abs(r) > HighCorrelationThreshold {
				report.HighlyCorrelated = append(report.HighlyCorrelated, CorrelatedPair{A: a, B: b, R: r})
			}
		}
	}

	for _, c := range cols {
		if c == target {
			continue
		}
		if r, ok := report.Matrix[c][target]; ok {
			report.TargetCorrelations = append(report.TargetCorrelations, TargetCorrelation{Feature: c, R: r, AbsR: math.Abs(r)})
		}
	}
	sort.SliceStable(report.TargetCorrelations, func(i, j int) bool {
		return report.TargetCorrelations[i].AbsR > report.TargetCorrelations[j].AbsR
	})
	return report, nil
}

// pearson computes the correlation over positions where both series are
// observed. ok is false when fewer than two such positions exist or either
// side has zero variance.
func pearson(x, y []float64) (float64, bool) {
	var n, sx, sy float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		n++
		sx += x[i]
		sy += y[i]
	}
	if n < 2 {
		return 0, false
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}
