// Command genbatches splits a full daily climate CSV into numbered,
// time-ordered raw batches with seeded quality issues: removed rows,
// duplicated rows, blanked measurements and rows repeated across batch
// boundaries.
//
// Usage:
//
//	go run ./cmd/genbatches \
//	  -in data/raw/DailyDelhiClimateTrain.csv \
//	  -out data/raw_batches
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "path to the full climate CSV")
	out := flag.String("out", "data/raw_batches", "directory for batch_<n>.csv files")
	batches := flag.Int("batches", 5, "number of batches")
	remove := flag.Int("remove", 10, "rows to remove at random")
	duplicate := flag.Int("duplicate", 10, "rows to duplicate at random")
	missing := flag.Int("missing", 5, "values to blank per measurement column")
	overlap := flag.Int("overlap", 2, "rows of each batch repeated at the end of the previous batch")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}

	header, rows, err := readCSV(*in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *in, err)
	}

	parts, err := split(header, rows, splitOptions{
		Batches:   *batches,
		Remove:    *remove,
		Duplicate: *duplicate,
		Missing:   *missing,
		Overlap:   *overlap,
		Seed:      *seed,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	for i, part := range parts {
		path := filepath.Join(*out, fmt.Sprintf("batch_%d.csv", i+1))
		if err := writeCSV(path, header, part); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Printf("wrote %s (%d rows)", path, len(part))
	}
	return nil
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("no data rows")
	}
	return rows[0], rows[1:], nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Write(header) //nolint:errcheck // surfaced by w.Error below
	w.WriteAll(rows) //nolint:errcheck // surfaced by w.Error below
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
