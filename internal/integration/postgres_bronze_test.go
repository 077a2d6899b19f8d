//go:build integration

package integration_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-layers-etl/internal/adapter/filestore"
	"github.com/couchcryptid/climate-layers-etl/internal/adapter/postgres"
	"github.com/couchcryptid/climate-layers-etl/internal/domain"
	"github.com/couchcryptid/climate-layers-etl/internal/integrity"
	"github.com/couchcryptid/climate-layers-etl/internal/observability"
	"github.com/couchcryptid/climate-layers-etl/internal/pipeline"
)

func openBronze(ctx context.Context, t *testing.T) *postgres.BronzeStore {
	t.Helper()
	store, err := postgres.Open(ctx, startPostgres(ctx, t), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	// Migrations are idempotent.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresBronzeStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	at := fixClock(t)

	store := openBronze(ctx, t)

	v := 10.5
	entry := domain.LedgerEntry{BatchID: 3, RowCount: 2, IngestedAt: at}
	records := []domain.BronzeRecord{
		{Date: time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC), BatchID: 3, BatchRow: 0, Measurements: domain.Measurements{MeanTemp: &v}},
		{Date: time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC), BatchID: 3, BatchRow: 1},
	}
	require.NoError(t, store.AppendBatch(ctx, entry, records))

	bronze, err := store.LoadBronze(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.LedgerEntry{entry}, bronze.Ledger.Entries)
	assert.Equal(t, records, bronze.Records)

	err = store.AppendBatch(ctx, entry, records)
	require.ErrorIs(t, err, domain.ErrBatchAlreadyIngested)

	bronze, err = store.LoadBronze(ctx)
	require.NoError(t, err)
	assert.Len(t, bronze.Records, 2, "a rejected append leaves no rows behind")
}

// TestPipelineWithPostgresBronze runs the worked example with Bronze in
// postgres and Silver and Gold on disk.
func TestPipelineWithPostgresBronze(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	fixClock(t)

	bronze := openBronze(ctx, t)
	root := t.TempDir()
	rawDir := filepath.Join(root, "raw_batches")
	writeBatch(t, rawDir, 1, workedBatch)
	layers := filestore.New(filepath.Join(root, "data"))

	p := pipeline.New(filestore.NewBatchSource(rawDir), bronze, layers,
		pipeline.Params{ValueRanges: domain.DefaultValueRanges(), Features: domain.DefaultFeatures, Target: domain.ColMeanTemp},
		discardLogger(), observability.NewMetricsForTesting())

	res, err := p.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Ingest.RowsAppended)
	assert.Equal(t, 5, res.Silver.RowCount)
	assert.Equal(t, 4, res.Gold.RowCount)

	again, err := p.Run(ctx, 1)
	require.NoError(t, err)
	assert.False(t, again.Ingest.Applied)

	loaded, err := bronze.LoadBronze(ctx)
	require.NoError(t, err)
	silver, err := layers.ReadSilver(ctx)
	require.NoError(t, err)
	gold, err := layers.ReadGold(ctx)
	require.NoError(t, err)
	check := integrity.Check(integrity.Layers{Bronze: loaded, Silver: &silver, Gold: &gold})
	assert.True(t, check.Passed())
}
