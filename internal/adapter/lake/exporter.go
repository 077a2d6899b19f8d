// Package lake exports finished layers as Parquet files for columnar readers.
package lake

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// LayerPaths resolves the CSV file backing a layer.
type LayerPaths interface {
	LayerPath(layer domain.Layer) string
}

// Exporter converts layer CSV files to Parquet with an in-memory DuckDB.
// It implements pipeline.LayerExporter.
type Exporter struct {
	db     *sql.DB
	paths  LayerPaths
	logger *slog.Logger
}

// NewExporter opens an in-memory DuckDB instance.
func NewExporter(paths LayerPaths, logger *slog.Logger) (*Exporter, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return &Exporter{db: db, paths: paths, logger: logger}, nil
}

// ParquetPath returns where a layer's Parquet copy is written.
func ParquetPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".parquet"
}

// ExportLayer writes <layer>.parquet next to the layer CSV and returns its
// path. The file is written under a temp name and renamed into place.
func (e *Exporter) ExportLayer(ctx context.Context, layer domain.Layer) (string, error) {
	src := e.paths.LayerPath(layer)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("export %s: %w", layer, err)
	}
	dst := ParquetPath(src)
	tmp := dst + ".tmp"

	query := fmt.Sprintf(
		`COPY (SELECT * FROM read_csv(%s, header = true, auto_detect = true)) TO %s (FORMAT PARQUET)`,
		quote(src), quote(tmp),
	)
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("export %s to parquet: %w", layer, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("export %s: %w", layer, err)
	}
	e.logger.Debug("layer exported", "layer", layer, "path", dst)
	return dst, nil
}

// CountRows returns the number of rows in a Parquet file.
func (e *Exporter) CountRows(ctx context.Context, path string) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM read_parquet(%s)`, quote(path))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", path, err)
	}
	return n, nil
}

func (e *Exporter) Close() error {
	return e.db.Close()
}

// quote renders s as a SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
