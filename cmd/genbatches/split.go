package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// splitOptions controls the quality issues injected before splitting.
type splitOptions struct {
	Batches   int
	Remove    int // rows dropped at random
	Duplicate int // rows repeated at random
	Missing   int // cells blanked per measurement column
	Overlap   int // leading rows of each batch repeated at the end of the previous one
	Seed      uint64
}

type datedRow struct {
	date time.Time
	rec  []string
}

// split degrades rows as configured, orders them by date and cuts them into
// opts.Batches consecutive batches of near-equal size.
func split(header []string, rows [][]string, opts splitOptions) ([][][]string, error) {
	if opts.Batches < 1 {
		return nil, errors.New("batches must be at least 1")
	}
	if opts.Remove < 0 || opts.Duplicate < 0 || opts.Missing < 0 || opts.Overlap < 0 {
		return nil, errors.New("counts must not be negative")
	}
	if err := domain.CheckColumns("input", header, domain.BatchColumns); err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}

	if opts.Remove > len(rows) {
		return nil, fmt.Errorf("cannot remove %d of %d rows", opts.Remove, len(rows))
	}
	removeRNG := rand.New(rand.NewPCG(opts.Seed, 1))
	dropped := map[int]bool{}
	for _, i := range removeRNG.Perm(len(rows))[:opts.Remove] {
		dropped[i] = true
	}
	kept := make([][]string, 0, len(rows)-opts.Remove+opts.Duplicate)
	for i, rec := range rows {
		if !dropped[i] {
			kept = append(kept, slices.Clone(rec))
		}
	}

	if opts.Duplicate > len(kept) {
		return nil, fmt.Errorf("cannot duplicate %d of %d rows", opts.Duplicate, len(kept))
	}
	dupRNG := rand.New(rand.NewPCG(opts.Seed, 2))
	for _, i := range dupRNG.Perm(len(kept))[:opts.Duplicate] {
		kept = append(kept, slices.Clone(kept[i]))
	}

	if opts.Missing > len(kept) {
		return nil, fmt.Errorf("cannot blank %d of %d rows", opts.Missing, len(kept))
	}
	missRNG := rand.New(rand.NewPCG(opts.Seed, 3))
	for _, col := range domain.MeasurementColumns {
		for _, i := range missRNG.Perm(len(kept))[:opts.Missing] {
			kept[i][idx[col]] = ""
		}
	}

	dated := make([]datedRow, len(kept))
	for i, rec := range kept {
		d, err := domain.ParseDate(rec[idx[domain.ColDate]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		dated[i] = datedRow{date: d, rec: rec}
	}
	slices.SortStableFunc(dated, func(a, b datedRow) int { return a.date.Compare(b.date) })

	batches := make([][][]string, opts.Batches)
	size, rem := len(dated)/opts.Batches, len(dated)%opts.Batches
	start := 0
	for i := range batches {
		n := size
		if i < rem {
			n++
		}
		for _, r := range dated[start : start+n] {
			batches[i] = append(batches[i], r.rec)
		}
		start += n
	}

	// Overlap is taken from the batches before any overlap was added.
	heads := make([][][]string, len(batches))
	for i, b := range batches {
		heads[i] = b[:min(opts.Overlap, len(b))]
	}
	for i := 0; i < len(batches)-1; i++ {
		for _, rec := range heads[i+1] {
			batches[i] = append(batches[i], slices.Clone(rec))
		}
	}
	return batches, nil
}
