package domain

import (
	"fmt"
	"slices"
	"time"
)

// Ingest result reasons.
const (
	ReasonAppended        = "appended"
	ReasonAlreadyIngested = "already_ingested"
)

// LedgerEntry records one absorbed batch. BatchID is the dedup key.
type LedgerEntry struct {
	BatchID    int       `json:"batch_id"`
	RowCount   int       `json:"row_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Ledger is the ordered list of absorbed batches, oldest first.
type Ledger struct {
	Entries []LedgerEntry
}

// Has reports whether the batch id has already been absorbed.
func (l Ledger) Has(batchID int) bool {
	return slices.ContainsFunc(l.Entries, func(e LedgerEntry) bool { return e.BatchID == batchID })
}

// BatchIDs returns the absorbed ids in ingestion order.
func (l Ledger) BatchIDs() []int {
	ids := make([]int, len(l.Entries))
	for i, e := range l.Entries {
		ids[i] = e.BatchID
	}
	return ids
}

// Bronze is the append-only raw layer together with the ledger that governs it.
type Bronze struct {
	Ledger  Ledger
	Records []BronzeRecord
}

// DateRange returns the earliest and latest record date, or nil when empty.
func (b Bronze) DateRange() *DateRange {
	if len(b.Records) == 0 {
		return nil
	}
	r := DateRange{Start: b.Records[0].Date, End: b.Records[0].Date}
	for _, rec := range b.Records[1:] {
		if rec.Date.Before(r.Start) {
			r.Start = rec.Date
		}
		if rec.Date.After(r.End) {
			r.End = rec.Date
		}
	}
	return &r
}

// Appended returns the records of next that are not in prev. It relies on
// Bronze being append-only.
func Appended(prev, next Bronze) []BronzeRecord {
	if len(next.Records) <= len(prev.Records) {
		return nil
	}
	return next.Records[len(prev.Records):]
}

// IngestResult tells the caller whether Ingest changed Bronze.
type IngestResult struct {
	BatchID      int         `json:"batch_id"`
	Applied      bool        `json:"applied"`
	Reason       string      `json:"reason"`
	RowsAppended int         `json:"rows_appended"`
	Entry        LedgerEntry `json:"-"` // zero unless Applied
}

// Ingest absorbs batch into bronze. A batch id already present in the ledger
// is a no-op that returns bronze unchanged. Otherwise every row is appended
// verbatim, duplicates and overlapping dates included, and a ledger entry is
// recorded. The input is never modified.
func Ingest(bronze Bronze, batch Batch) (Bronze, IngestResult, error) {
	if batch.ID < 1 {
		return bronze, IngestResult{}, &SchemaError{Source: "batch", Reason: "batch id must be a positive integer"}
	}
	for i, row := range batch.Rows {
		if row.Date.IsZero() {
			return bronze, IngestResult{}, &SchemaError{Source: "batch", Reason: fmt.Sprintf("row %d has no date", i+1)}
		}
	}

	if bronze.Ledger.Has(batch.ID) {
		return bronze, IngestResult{BatchID: batch.ID, Reason: ReasonAlreadyIngested}, nil
	}

	records := make([]BronzeRecord, len(bronze.Records), len(bronze.Records)+len(batch.Rows))
	copy(records, bronze.Records)
	for i, row := range batch.Rows {
		records = append(records, BronzeRecord{
			Date:         truncateDay(row.Date),
			BatchID:      batch.ID,
			BatchRow:     i,
			Measurements: row.Measurements,
		})
	}

	entry := LedgerEntry{
		BatchID:    batch.ID,
		RowCount:   len(batch.Rows),
		IngestedAt: Now(),
	}
	next := Bronze{
		Ledger:  Ledger{Entries: append(slices.Clone(bronze.Ledger.Entries), entry)},
		Records: records,
	}
	return next, IngestResult{
		BatchID:      batch.ID,
		Applied:      true,
		Reason:       ReasonAppended,
		RowsAppended: len(batch.Rows),
		Entry:        entry,
	}, nil
}
