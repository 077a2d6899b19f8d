package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-layers-etl/internal/adapter/filestore"
	"github.com/couchcryptid/climate-layers-etl/internal/domain"
	"github.com/couchcryptid/climate-layers-etl/internal/observability"
	"github.com/couchcryptid/climate-layers-etl/internal/pipeline"
)

func defaultParams() pipeline.Params {
	return pipeline.Params{
		ValueRanges: domain.DefaultValueRanges(),
		Features:    domain.DefaultFeatures,
		Target:      domain.ColMeanTemp,
	}
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// newFilePipeline wires a pipeline over real files in a temp directory.
func newFilePipeline(t *testing.T, opts ...pipeline.Option) (*pipeline.Pipeline, *filestore.Store, string) {
	t.Helper()
	root := t.TempDir()
	rawDir := filepath.Join(root, "raw_batches")
	require.NoError(t, os.MkdirAll(rawDir, 0o755))
	store := filestore.New(filepath.Join(root, "data"))
	p := pipeline.New(filestore.NewBatchSource(rawDir), store, store, defaultParams(), slog.Default(), newTestMetrics(), opts...)
	return p, store, rawDir
}

func readAll(t *testing.T, store *filestore.Store) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, name := range []string{
		filestore.BronzeFile, filestore.LedgerFile,
		filestore.SilverFile, filestore.SilverReport,
		filestore.GoldFile, filestore.GoldReport,
	} {
		b, err := os.ReadFile(store.Path(name))
		require.NoError(t, err, name)
		out[name] = string(b)
	}
	return out
}

func fixClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)))
	t.Cleanup(func() {
		domain.SetClock(nil)
	})
}

func TestPipeline_Run_WorkedExample(t *testing.T) {
	fixClock(t)
	p, store, rawDir := newFilePipeline(t)
	writeRawBatch(t, rawDir, 1, workedBatch)
	ctx := context.Background()

	res, err := p.Run(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.True(t, res.Ingest.Applied)
	assert.Equal(t, 6, res.Ingest.RowsAppended)
	assert.Equal(t, 5, res.Silver.RowCount)
	assert.Equal(t, 1, res.Silver.DuplicatesRemoved)
	assert.Equal(t, 4, res.Gold.RowCount)

	ledger, err := p.Ledger(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ledger.BatchIDs())

	bronze, err := store.LoadBronze(ctx)
	require.NoError(t, err)
	assert.Len(t, bronze.Records, 6)

	silver, err := store.ReadSilver(ctx)
	require.NoError(t, err)
	require.Len(t, silver.Records, 5)
	assert.Equal(t, 14.0, silver.Records[2].MeanTemp)

	gold, err := store.ReadGold(ctx)
	require.NoError(t, err)
	targets := make([]float64, len(gold.Records))
	for i, r := range gold.Records {
		targets[i] = r.Target
	}
	assert.Equal(t, []float64{12, 14, 16, 18}, targets)
}

func TestPipeline_Run_ReingestIsByteIdentical(t *testing.T) {
	fixClock(t)
	p, store, rawDir := newFilePipeline(t)
	writeRawBatch(t, rawDir, 1, workedBatch)
	ctx := context.Background()

	_, err := p.Run(ctx, 1)
	require.NoError(t, err)
	before := readAll(t, store)

	res, err := p.Run(ctx, 1)
	require.NoError(t, err)
	assert.False(t, res.Ingest.Applied)
	assert.Equal(t, domain.ReasonAlreadyIngested, res.Ingest.Reason)

	after := readAll(t, store)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("outputs changed on re-run (-before +after):\n%s", diff)
	}
}

func TestPipeline_Run_ContainmentAcrossBatches(t *testing.T) {
	p, store, rawDir := newFilePipeline(t)
	writeRawBatch(t, rawDir, 1, workedBatch)
	writeRawBatch(t, rawDir, 2, overlapBatch)
	ctx := context.Background()

	_, err := p.Run(ctx, 1)
	require.NoError(t, err)
	res, err := p.Run(ctx, 2)
	require.NoError(t, err)

	bronze, err := store.LoadBronze(ctx)
	require.NoError(t, err)
	assert.Len(t, bronze.Records, 9)

	assert.True(t, bronze.DateRange().Contains(*res.Silver.DateRange))
	assert.True(t, res.Silver.DateRange.Contains(*res.Gold.DateRange))
	assert.Equal(t, 7, res.Silver.RowCount)
	assert.Equal(t, 6, res.Gold.RowCount)

	silver, err := store.ReadSilver(ctx)
	require.NoError(t, err)
	// D5 is resolved to the later batch.
	assert.Equal(t, 19.0, silver.Records[4].MeanTemp)
}

func TestPipeline_Run_StopsOnSchemaError(t *testing.T) {
	p, store, rawDir := newFilePipeline(t)
	writeRawBatch(t, rawDir, 1, "date,temp\n2013-01-01,10\n")

	_, err := p.Run(context.Background(), 1)
	var schemaErr *domain.SchemaError
	require.ErrorAs(t, err, &schemaErr)

	_, statErr := os.Stat(store.Path(filestore.LedgerFile))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	_, statErr = os.Stat(store.Path(filestore.SilverFile))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestPipeline_Transform_ConfigErrorWritesNothing(t *testing.T) {
	root := t.TempDir()
	rawDir := filepath.Join(root, "raw")
	require.NoError(t, os.MkdirAll(rawDir, 0o755))
	writeRawBatch(t, rawDir, 1, workedBatch)
	store := filestore.New(filepath.Join(root, "data"))
	params := defaultParams()
	params.Features = []string{domain.ColMeanTemp, "precip"}
	p := pipeline.New(filestore.NewBatchSource(rawDir), store, store, params, slog.Default(), newTestMetrics())

	_, err := p.Run(context.Background(), 1)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, statErr := os.Stat(store.Path(filestore.GoldFile))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	_, statErr = os.Stat(store.Path(filestore.SilverFile))
	assert.NoError(t, statErr)
}

func TestPipeline_Ingest_AlreadyIngestedSkipsSource(t *testing.T) {
	src := &mockSource{batches: map[int]domain.Batch{}}
	bronze := &mockBronze{bronze: domain.Bronze{Ledger: domain.Ledger{Entries: []domain.LedgerEntry{{BatchID: 4}}}}}
	metrics := newTestMetrics()
	p := pipeline.New(src, bronze, &mockLayers{}, defaultParams(), slog.Default(), metrics)

	res, err := p.Ingest(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Zero(t, src.reads)
	assert.Zero(t, bronze.appends)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BatchesIngested.WithLabelValues(domain.ReasonAlreadyIngested)), 0)
}

func TestPipeline_Ingest_ConcurrentCommitIsNoOp(t *testing.T) {
	d := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	v := 10.0
	src := &mockSource{batches: map[int]domain.Batch{
		2: {ID: 2, Rows: []domain.BatchRow{{Date: d, Measurements: domain.Measurements{MeanTemp: &v}}}},
	}}
	bronze := &mockBronze{appendErr: domain.ErrBatchAlreadyIngested}
	p := pipeline.New(src, bronze, &mockLayers{}, defaultParams(), slog.Default(), newTestMetrics())

	res, err := p.Ingest(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.ReasonAlreadyIngested, res.Reason)
	assert.Equal(t, 1, bronze.appends)
}

func TestPipeline_Ingest_StoreError(t *testing.T) {
	d := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &mockSource{batches: map[int]domain.Batch{1: {ID: 1, Rows: []domain.BatchRow{{Date: d}}}}}
	bronze := &mockBronze{appendErr: errors.New("disk full")}
	metrics := newTestMetrics()
	p := pipeline.New(src, bronze, &mockLayers{}, defaultParams(), slog.Default(), metrics)

	_, err := p.Ingest(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StageRuns.WithLabelValues("ingest", "error")), 0)
}

func TestPipeline_Ingest_MissingBatch(t *testing.T) {
	p := pipeline.New(&mockSource{}, &mockBronze{}, &mockLayers{}, defaultParams(), slog.Default(), newTestMetrics())
	_, err := p.Ingest(context.Background(), 7)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPipeline_NotifiesAndExports(t *testing.T) {
	fixClock(t)
	notifier := &mockNotifier{}
	exporter := &mockExporter{}
	p, _, rawDir := newFilePipeline(t, pipeline.WithNotifier(notifier), pipeline.WithExporter(exporter))
	writeRawBatch(t, rawDir, 1, workedBatch)

	_, err := p.Run(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, notifier.events, 3)
	layers := []domain.Layer{notifier.events[0].Layer, notifier.events[1].Layer, notifier.events[2].Layer}
	assert.Equal(t, []domain.Layer{domain.LayerBronze, domain.LayerSilver, domain.LayerGold}, layers)
	assert.Equal(t, 1, notifier.events[0].BatchID)
	assert.True(t, notifier.events[0].Applied)
	assert.Equal(t, 6, notifier.events[0].RowCount)
	assert.Equal(t, 4, notifier.events[2].RowCount)
	for _, e := range notifier.events {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC), e.EmittedAt)
	}
	assert.Equal(t, []domain.Layer{domain.LayerSilver, domain.LayerGold}, exporter.layers)
}

func TestPipeline_SideEffectFailuresDoNotFailStage(t *testing.T) {
	notifier := &mockNotifier{err: errBroker}
	exporter := &mockExporter{err: errors.New("no duckdb")}
	metrics := newTestMetrics()

	root := t.TempDir()
	writeRawBatch(t, root, 1, workedBatch)
	store := filestore.New(filepath.Join(root, "data"))
	p := pipeline.New(filestore.NewBatchSource(root), store, store, defaultParams(), slog.Default(), metrics,
		pipeline.WithNotifier(notifier), pipeline.WithExporter(exporter))

	res, err := p.Ingest(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	report, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPass, report.Status)
	assert.Equal(t, 5, report.RowCount)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.EventsPublished.WithLabelValues("error")), 0)
}

func TestPipeline_Validate_FailingReportIsNotAnError(t *testing.T) {
	d := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	v := 10.0
	bronze := &mockBronze{bronze: domain.Bronze{Records: []domain.BronzeRecord{
		{Date: d, BatchID: 1, Measurements: domain.Measurements{MeanTemp: &v}},
	}}}
	layers := &mockLayers{}
	metrics := newTestMetrics()
	p := pipeline.New(&mockSource{}, bronze, layers, defaultParams(), slog.Default(), metrics)

	report, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFail, report.Status)
	require.NotNil(t, layers.silver)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.SilverMissingAfter), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StageRuns.WithLabelValues("validate", "fail")), 0)

	var qf *domain.QualityFailure
	assert.ErrorAs(t, report.Err(), &qf)
}

func TestPipeline_Correlate(t *testing.T) {
	p, store, rawDir := newFilePipeline(t)
	writeRawBatch(t, rawDir, 1, workedBatch)
	ctx := context.Background()

	_, err := p.Correlate(ctx)
	require.Error(t, err)

	_, err = p.Run(ctx, 1)
	require.NoError(t, err)
	report, err := p.Correlate(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ColMeanTemp, report.Target)
	assert.FileExists(t, store.Path(filestore.CorrelationFile))
}

func TestPipeline_Report(t *testing.T) {
	fixClock(t)
	p, _, rawDir := newFilePipeline(t)
	writeRawBatch(t, rawDir, 1, workedBatch)
	ctx := context.Background()

	_, err := p.Run(ctx, 1)
	require.NoError(t, err)

	body, err := p.Report(ctx, domain.LayerBronze)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"row_count": 6`)
	assert.Contains(t, string(body), `"batch_id": 1`)

	body, err = p.Report(ctx, domain.LayerGold)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"row_count": 4`)
}

func TestPipeline_CheckReadiness(t *testing.T) {
	p := pipeline.New(&mockSource{}, &mockBronze{}, &mockLayers{}, defaultParams(), slog.Default(), newTestMetrics())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}
