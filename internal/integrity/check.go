// Package integrity cross-checks the persisted layers against each other.
// It re-derives what every layer must look like from the layer below and
// reports each disagreement, grouped into phases.
package integrity

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

const day = 24 * time.Hour

// Layers are the persisted tables to check. Silver and Gold are nil when
// the layer has not been built yet.
type Layers struct {
	Bronze domain.Bronze
	Silver *domain.Silver
	Gold   *domain.Gold
}

// Phase tracks pass/fail for one group of checks.
type Phase struct {
	Name   string
	Errors []string
}

func (p *Phase) errorf(format string, args ...any) {
	p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
}

// Passed reports whether the phase found no errors.
func (p *Phase) Passed() bool { return len(p.Errors) == 0 }

// Result is the outcome of Check.
type Result struct {
	Phases []*Phase
}

// Passed reports whether every phase passed.
func (r Result) Passed() bool {
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Check runs every phase over l.
func Check(l Layers) Result {
	return Result{Phases: []*Phase{
		checkLedger(l.Bronze),
		checkSilver(l.Silver),
		checkContainment(l),
		checkTarget(l.Silver, l.Gold),
	}}
}

// Write prints a summary line per phase followed by the detailed errors.
func (r Result) Write(w io.Writer) {
	for _, p := range r.Phases {
		status := "PASS"
		if !p.Passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.Errors))
		}
		fmt.Fprintf(w, "  %-44s %s\n", p.Name, status)
	}

	for _, p := range r.Phases {
		if p.Passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.Name)
		for i, e := range p.Errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if r.Passed() {
		fmt.Fprintln(w, "\nAll checks passed.")
		return
	}
	fmt.Fprintln(w, "\nIntegrity check FAILED.")
}

// ── Phase 1: Ledger ──
// Every committed batch has exactly the rows the ledger claims.

func checkLedger(b domain.Bronze) *Phase {
	p := &Phase{Name: "Phase 1: Ledger (bronze vs ingested batches)"}

	counts := map[int]int{}
	for _, rec := range b.Records {
		counts[rec.BatchID]++
	}

	seen := map[int]bool{}
	for _, e := range b.Ledger.Entries {
		if seen[e.BatchID] {
			p.errorf("batch %d: recorded more than once", e.BatchID)
			continue
		}
		seen[e.BatchID] = true
		if counts[e.BatchID] != e.RowCount {
			p.errorf("batch %d: ledger has %d rows, bronze has %d", e.BatchID, e.RowCount, counts[e.BatchID])
		}
	}
	for id, n := range counts {
		if !seen[id] {
			p.errorf("batch %d: %d bronze rows without a ledger entry", id, n)
		}
	}
	return p
}

// ── Phase 2: Silver ──
// One row per calendar day, no gaps, no missing values.

func checkSilver(s *domain.Silver) *Phase {
	p := &Phase{Name: "Phase 2: Silver (continuity and completeness)"}
	if s == nil {
		p.errorf("silver layer not built")
		return p
	}
	if len(s.Records) == 0 {
		p.errorf("silver layer is empty")
		return p
	}

	for i, rec := range s.Records {
		if i > 0 {
			prev := s.Records[i-1].Date
			switch gap := domain.DaysBetween(prev, rec.Date); {
			case gap <= 0:
				p.errorf("row %d (%s): not after %s", i, domain.FormatDate(rec.Date), domain.FormatDate(prev))
			case gap != 1:
				p.errorf("row %d (%s): %d day gap after %s", i, domain.FormatDate(rec.Date), gap-1, domain.FormatDate(prev))
			}
		}
		for _, col := range domain.SilverNumericColumns {
			if v, _ := rec.Value(col); math.IsNaN(v) {
				p.errorf("row %d (%s): %s is missing", i, domain.FormatDate(rec.Date), col)
			}
		}
	}
	return p
}

// ── Phase 3: Containment ──
// Every layer covers a subset of the dates of the layer below.

func checkContainment(l Layers) *Phase {
	p := &Phase{Name: "Phase 3: Containment (gold in silver in bronze)"}

	bronze := l.Bronze.DateRange()
	if l.Silver != nil && len(l.Silver.Records) > 0 {
		silver := l.Silver.DateRange()
		if bronze == nil || !bronze.Contains(*silver) {
			p.errorf("silver range %s is outside bronze range %s", silver, rangeString(bronze))
		}

		dates := make(map[time.Time]bool, len(l.Silver.Records))
		for _, rec := range l.Silver.Records {
			dates[rec.Date] = true
		}
		missing := map[time.Time]bool{}
		for _, rec := range l.Bronze.Records {
			if !dates[rec.Date] && !missing[rec.Date] {
				missing[rec.Date] = true
				p.errorf("bronze date %s has no silver row", domain.FormatDate(rec.Date))
			}
		}

		if l.Gold != nil && len(l.Gold.Records) > 0 {
			gold := l.Gold.DateRange()
			if !silver.Contains(*gold) {
				p.errorf("gold range %s is outside silver range %s", gold, silver)
			}
		}
	}
	return p
}

func rangeString(r *domain.DateRange) string {
	if r == nil {
		return "(empty)"
	}
	return r.String()
}

// ── Phase 4: Target ──
// Every Gold target is the next day's Silver meantemp.

func checkTarget(s *domain.Silver, g *domain.Gold) *Phase {
	p := &Phase{Name: "Phase 4: Target (gold vs silver next day)"}
	if g == nil {
		p.errorf("gold layer not built")
		return p
	}
	if s == nil {
		return p
	}

	temps := make(map[time.Time]float64, len(s.Records))
	for _, rec := range s.Records {
		temps[rec.Date] = rec.MeanTemp
	}

	if want := len(s.Records) - 1; len(g.Records) != want {
		p.errorf("gold has %d rows, expected %d", len(g.Records), want)
	}
	for i, rec := range g.Records {
		label := domain.FormatDate(rec.Date)
		next, ok := temps[rec.Date.Add(day)]
		if !ok {
			p.errorf("row %d (%s): no silver row for the next day", i, label)
			continue
		}
		if !floatEq(rec.Target, next) {
			p.errorf("row %d (%s): target %g, next day meantemp %g", i, label, rec.Target, next)
		}
		if today, ok := temps[rec.Date]; ok && !floatEq(rec.MeanTemp, today) {
			p.errorf("row %d (%s): meantemp %g, silver has %g", i, label, rec.MeanTemp, today)
		}
		for j, v := range rec.Features {
			if math.IsNaN(v) {
				p.errorf("row %d (%s): feature %s is missing", i, label, g.FeatureColumns[j])
			}
		}
	}
	return p
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
