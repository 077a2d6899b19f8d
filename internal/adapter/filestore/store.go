// Package filestore persists the layers and their reports as CSV and JSON
// files under a single data directory.
package filestore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// File names relative to the data directory.
const (
	BronzeFile      = "bronze/bronze.csv"
	LedgerFile      = "bronze/ingested_batches.json"
	SilverFile      = "silver/silver.csv"
	SilverReport    = "silver/validation_report.json"
	CorrelationFile = "silver/correlation_report.json"
	GoldFile        = "gold/gold.csv"
	GoldReport      = "gold/gold_report.json"
)

// Store reads and writes every layer under dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. Directories are created on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the absolute location of a file name relative to the data directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// LayerPath returns the data file of a layer.
func (s *Store) LayerPath(layer domain.Layer) string {
	switch layer {
	case domain.LayerBronze:
		return s.Path(BronzeFile)
	case domain.LayerSilver:
		return s.Path(SilverFile)
	default:
		return s.Path(GoldFile)
	}
}

// ReadLedger returns the committed ledger, empty when none exists yet.
func (s *Store) ReadLedger(_ context.Context) (domain.Ledger, error) {
	var entries []domain.LedgerEntry
	ok, err := s.readJSON(LedgerFile, &entries)
	if err != nil || !ok {
		return domain.Ledger{}, err
	}
	return domain.Ledger{Entries: entries}, nil
}

// LoadBronze returns the ledger and every committed Bronze record. Rows of a
// batch the ledger does not list belong to an append that never committed and
// are skipped.
func (s *Store) LoadBronze(ctx context.Context) (domain.Bronze, error) {
	ledger, err := s.ReadLedger(ctx)
	if err != nil {
		return domain.Bronze{}, err
	}
	records, err := s.readBronzeRecords(ledger)
	if err != nil {
		return domain.Bronze{}, err
	}
	return domain.Bronze{Ledger: ledger, Records: records}, nil
}

// AppendBatch commits entry and its records. The bronze file is replaced
// first and the ledger last, so the ledger rename is the commit point.
func (s *Store) AppendBatch(ctx context.Context, entry domain.LedgerEntry, records []domain.BronzeRecord) error {
	current, err := s.LoadBronze(ctx)
	if err != nil {
		return err
	}
	if current.Ledger.Has(entry.BatchID) {
		return domain.ErrBatchAlreadyIngested
	}

	all := append(slices.Clone(current.Records), records...)
	if err := s.writeFile(BronzeFile, func(f *os.File) error { return writeBronze(f, all) }); err != nil {
		return fmt.Errorf("write bronze: %w", err)
	}

	entries := append(slices.Clone(current.Ledger.Entries), entry)
	if err := s.writeJSON(LedgerFile, entries); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// WriteSilver writes the Silver table and its validation report.
func (s *Store) WriteSilver(_ context.Context, silver domain.Silver, report domain.ValidationReport) error {
	return s.writePair(
		SilverFile, func(f *os.File) error { return writeSilver(f, silver) },
		SilverReport, report,
	)
}

// ReadSilver loads the Silver table.
func (s *Store) ReadSilver(_ context.Context) (domain.Silver, error) {
	rows, err := s.readCSV(SilverFile, domain.SilverColumns)
	if err != nil {
		return domain.Silver{}, err
	}
	out := make([]domain.SilverRecord, 0, len(rows.records))
	for i, rec := range rows.records {
		date, err := domain.ParseDate(rows.get(rec, domain.ColDate))
		if err != nil {
			return domain.Silver{}, rows.errorf(i, "%v", err)
		}
		r := domain.SilverRecord{Date: date}
		for _, col := range domain.SilverNumericColumns {
			v, err := parseFloat(rows.get(rec, col))
			if err != nil {
				return domain.Silver{}, rows.errorf(i, "%s: %v", col, err)
			}
			r.SetValue(col, v)
		}
		out = append(out, r)
	}
	return domain.Silver{Records: out}, nil
}

// ReadValidationReport loads the last validation report.
func (s *Store) ReadValidationReport(_ context.Context) (domain.ValidationReport, error) {
	var r domain.ValidationReport
	if err := s.mustReadJSON(SilverReport, &r); err != nil {
		return domain.ValidationReport{}, err
	}
	return r, nil
}

// WriteGold writes the Gold table and its report.
func (s *Store) WriteGold(_ context.Context, gold domain.Gold, report domain.GoldReport) error {
	return s.writePair(
		GoldFile, func(f *os.File) error { return writeGold(f, gold) },
		GoldReport, report,
	)
}

// ReadGold loads the Gold table. The feature columns come from the Gold
// report when its feature_columns produce the same header. Otherwise the
// columns between date and the trailing meantemp/target pair are used.
func (s *Store) ReadGold(_ context.Context) (domain.Gold, error) {
	rows, err := s.readCSV(GoldFile, nil)
	if err != nil {
		return domain.Gold{}, err
	}
	header := rows.header
	if len(header) < 3 || header[0] != domain.ColDate || header[len(header)-1] != domain.ColTarget {
		return domain.Gold{}, &domain.SchemaError{Source: GoldFile, Reason: "header must start with date and end with target"}
	}
	features := slices.Clone(header[1 : len(header)-1])
	if len(features) > 1 && features[len(features)-1] == domain.ColMeanTemp {
		features = features[:len(features)-1]
	}
	var report domain.GoldReport
	found, err := s.readJSON(GoldReport, &report)
	if err != nil {
		return domain.Gold{}, err
	}
	if found && len(report.FeatureColumns) > 0 &&
		slices.Equal(domain.Gold{FeatureColumns: report.FeatureColumns}.Columns(), header) {
		features = slices.Clone(report.FeatureColumns)
	}

	gold := domain.Gold{FeatureColumns: features}
	for i, rec := range rows.records {
		date, err := domain.ParseDate(rows.get(rec, domain.ColDate))
		if err != nil {
			return domain.Gold{}, rows.errorf(i, "%v", err)
		}
		r := domain.GoldRecord{Date: date, Features: make([]float64, len(features))}
		for j, col := range features {
			if r.Features[j], err = parseFloat(rows.get(rec, col)); err != nil {
				return domain.Gold{}, rows.errorf(i, "%s: %v", col, err)
			}
		}
		if r.MeanTemp, err = parseFloat(rows.get(rec, domain.ColMeanTemp)); err != nil {
			return domain.Gold{}, rows.errorf(i, "meantemp: %v", err)
		}
		if r.Target, err = parseFloat(rows.get(rec, domain.ColTarget)); err != nil {
			return domain.Gold{}, rows.errorf(i, "target: %v", err)
		}
		gold.Records = append(gold.Records, r)
	}
	return gold, nil
}

// ReadGoldReport loads the last Gold report.
func (s *Store) ReadGoldReport(_ context.Context) (domain.GoldReport, error) {
	var r domain.GoldReport
	if err := s.mustReadJSON(GoldReport, &r); err != nil {
		return domain.GoldReport{}, err
	}
	return r, nil
}

// WriteCorrelation writes the correlation analysis next to Silver.
func (s *Store) WriteCorrelation(_ context.Context, report domain.CorrelationReport) error {
	return s.writeJSON(CorrelationFile, report)
}

// ReadReport returns the stored JSON report of the Silver or Gold layer.
func (s *Store) ReadReport(_ context.Context, layer domain.Layer) ([]byte, error) {
	switch layer {
	case domain.LayerSilver:
		return os.ReadFile(s.Path(SilverReport))
	case domain.LayerGold:
		return os.ReadFile(s.Path(GoldReport))
	default:
		return nil, fmt.Errorf("no stored report for layer %s", layer)
	}
}

// ── CSV encoding ──

func writeBronze(f *os.File, records []domain.BronzeRecord) error {
	w := csv.NewWriter(f)
	if err := w.Write(domain.BronzeColumns); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{domain.FormatDate(r.Date)}
		for _, col := range domain.MeasurementColumns {
			row = append(row, domain.FormatMeasurement(r.Field(col)))
		}
		row = append(row, strconv.Itoa(r.BatchID), strconv.Itoa(r.BatchRow))
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeSilver(f *os.File, silver domain.Silver) error {
	w := csv.NewWriter(f)
	if err := w.Write(domain.SilverColumns); err != nil {
		return err
	}
	for _, r := range silver.Records {
		row := []string{domain.FormatDate(r.Date)}
		for _, col := range domain.SilverNumericColumns {
			v, _ := r.Value(col)
			row = append(row, domain.FormatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeGold(f *os.File, gold domain.Gold) error {
	w := csv.NewWriter(f)
	if err := w.Write(gold.Columns()); err != nil {
		return err
	}
	for i, r := range gold.Records {
		row := []string{domain.FormatDate(r.Date)}
		for _, v := range gold.Values(i) {
			row = append(row, domain.FormatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (s *Store) readBronzeRecords(ledger domain.Ledger) ([]domain.BronzeRecord, error) {
	rows, err := s.readCSV(BronzeFile, domain.BronzeColumns)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []domain.BronzeRecord
	for i, rec := range rows.records {
		batchID, err := strconv.Atoi(rows.get(rec, domain.ColBatchID))
		if err != nil {
			return nil, rows.errorf(i, "batch_id: %v", err)
		}
		if !ledger.Has(batchID) {
			continue
		}
		batchRow, err := strconv.Atoi(rows.get(rec, domain.ColBatchRow))
		if err != nil {
			return nil, rows.errorf(i, "batch_row: %v", err)
		}
		date, err := domain.ParseDate(rows.get(rec, domain.ColDate))
		if err != nil {
			return nil, rows.errorf(i, "%v", err)
		}
		r := domain.BronzeRecord{Date: date, BatchID: batchID, BatchRow: batchRow}
		for _, col := range domain.MeasurementColumns {
			v, err := domain.ParseMeasurement(rows.get(rec, col))
			if err != nil {
				return nil, rows.errorf(i, "%s: %v", col, err)
			}
			r.SetField(col, v)
		}
		out = append(out, r)
	}
	return out, nil
}

// table is a parsed CSV file with its header index.
type table struct {
	name    string
	header  []string
	index   map[string]int
	records [][]string
}

func (t table) get(rec []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (t table) errorf(i int, format string, args ...any) error {
	return &domain.SchemaError{
		Source: fmt.Sprintf("%s line %d", t.name, i+2),
		Reason: fmt.Sprintf(format, args...),
	}
}

// readCSV parses a file. When want is non-nil the header must match it.
func (s *Store) readCSV(name string, want []string) (table, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		return table{}, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("read %s: %w", name, err)
	}
	if len(all) == 0 {
		return table{}, &domain.SchemaError{Source: name, Reason: "missing header"}
	}
	header := all[0]
	if want != nil {
		if err := domain.CheckColumns(name, header, want); err != nil {
			return table{}, err
		}
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	return table{name: name, header: header, index: idx, records: all[1:]}, nil
}

// parseFloat reads a Silver or Gold cell; an empty cell is NaN.
func parseFloat(s string) (float64, error) {
	v, err := domain.ParseMeasurement(s)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return nanValue, nil
	}
	return *v, nil
}
