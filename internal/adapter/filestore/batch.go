package filestore

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// BatchSource reads numbered raw batches named batch_<id>.csv from a directory.
type BatchSource struct {
	dir string
}

// NewBatchSource returns a BatchSource over dir.
func NewBatchSource(dir string) *BatchSource {
	return &BatchSource{dir: dir}
}

// BatchPath returns the file a batch id is read from.
func (b *BatchSource) BatchPath(id int) string {
	return filepath.Join(b.dir, fmt.Sprintf("batch_%d.csv", id))
}

// ReadBatch parses batch id. A file without a header is a SchemaError; a
// header with no rows is an empty batch.
func (b *BatchSource) ReadBatch(_ context.Context, id int) (domain.Batch, error) {
	path := b.BatchPath(id)
	f, err := os.Open(path)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("open batch %d: %w", id, err)
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return domain.Batch{}, &domain.SchemaError{Source: fmt.Sprintf("batch %d", id), Reason: err.Error()}
	}
	if len(all) == 0 {
		return domain.Batch{}, &domain.SchemaError{Source: fmt.Sprintf("batch %d", id), Reason: "missing header"}
	}
	return domain.NewBatch(id, all[0], all[1:])
}
