package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
	"github.com/couchcryptid/climate-layers-etl/internal/observability"
)

// BatchSource reads a numbered raw batch.
type BatchSource interface {
	ReadBatch(ctx context.Context, id int) (domain.Batch, error)
}

// BronzeStore persists Bronze and its ledger. AppendBatch must commit the
// entry and the records together and return domain.ErrBatchAlreadyIngested
// when the ledger already holds the batch.
type BronzeStore interface {
	ReadLedger(ctx context.Context) (domain.Ledger, error)
	LoadBronze(ctx context.Context) (domain.Bronze, error)
	AppendBatch(ctx context.Context, entry domain.LedgerEntry, records []domain.BronzeRecord) error
}

// LayerStore persists the Silver and Gold layers with their reports.
type LayerStore interface {
	WriteSilver(ctx context.Context, silver domain.Silver, report domain.ValidationReport) error
	ReadSilver(ctx context.Context) (domain.Silver, error)
	WriteGold(ctx context.Context, gold domain.Gold, report domain.GoldReport) error
	WriteCorrelation(ctx context.Context, report domain.CorrelationReport) error
	ReadReport(ctx context.Context, layer domain.Layer) ([]byte, error)
}

// Notifier announces finished layers to downstream consumers.
type Notifier interface {
	PublishLayerEvent(ctx context.Context, event domain.LayerEvent) error
}

// LayerExporter writes an additional copy of a finished layer.
type LayerExporter interface {
	ExportLayer(ctx context.Context, layer domain.Layer) (string, error)
}

// Params are the stage parameters.
type Params struct {
	ValueRanges domain.ValueRanges
	Features    []string
	Target      string
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithNotifier publishes a layer event after every stage.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithExporter exports Silver and Gold after they are written.
func WithExporter(e LayerExporter) Option {
	return func(p *Pipeline) { p.exporter = e }
}

// Pipeline runs the Bronze, Silver and Gold stages one at a time.
type Pipeline struct {
	source   BatchSource
	bronze   BronzeStore
	layers   LayerStore
	params   Params
	notifier Notifier
	exporter LayerExporter
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu sync.Mutex
}

// New creates a Pipeline over the given stores.
func New(source BatchSource, bronze BronzeStore, layers LayerStore, params Params, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  source,
		bronze:  bronze,
		layers:  layers,
		params:  params,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the ledger can be read.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if _, err := p.bronze.ReadLedger(ctx); err != nil {
		return fmt.Errorf("ledger unavailable: %w", err)
	}
	return nil
}

// Ingest absorbs batch id into Bronze. An id already in the ledger, including
// one committed concurrently by another writer, is reported as not applied.
func (p *Pipeline) Ingest(ctx context.Context, batchID int) (domain.IngestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	res, bronze, err := p.ingest(ctx, batchID)
	p.observe("ingest", start, err, domain.StatusPass)
	if err != nil {
		return domain.IngestResult{}, err
	}

	p.metrics.BatchesIngested.WithLabelValues(res.Reason).Inc()
	p.metrics.BronzeRowsAppended.Add(float64(res.RowsAppended))
	if res.Applied {
		p.logger.Info("batch ingested", "batch_id", batchID, "rows", res.RowsAppended, "bronze_rows", len(bronze.Records))
	} else {
		p.logger.Info("batch skipped", "batch_id", batchID, "reason", res.Reason)
	}

	p.notify(ctx, domain.LayerEvent{
		Layer:     domain.LayerBronze,
		Status:    domain.StatusPass,
		RowCount:  len(bronze.Records),
		DateRange: bronze.DateRange(),
		BatchID:   batchID,
		Applied:   res.Applied,
	})
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, batchID int) (domain.IngestResult, domain.Bronze, error) {
	current, err := p.bronze.LoadBronze(ctx)
	if err != nil {
		return domain.IngestResult{}, domain.Bronze{}, fmt.Errorf("load bronze: %w", err)
	}
	if current.Ledger.Has(batchID) {
		// Skip reading the raw file; it may already have been archived.
		return domain.IngestResult{BatchID: batchID, Reason: domain.ReasonAlreadyIngested}, current, nil
	}

	batch, err := p.source.ReadBatch(ctx, batchID)
	if err != nil {
		return domain.IngestResult{}, domain.Bronze{}, err
	}
	next, res, err := domain.Ingest(current, batch)
	if err != nil || !res.Applied {
		return res, current, err
	}

	err = p.bronze.AppendBatch(ctx, res.Entry, domain.Appended(current, next))
	if errors.Is(err, domain.ErrBatchAlreadyIngested) {
		return domain.IngestResult{BatchID: batchID, Reason: domain.ReasonAlreadyIngested}, current, nil
	}
	if err != nil {
		return domain.IngestResult{}, domain.Bronze{}, fmt.Errorf("append batch %d: %w", batchID, err)
	}
	return res, next, nil
}

// Validate rebuilds Silver from the whole of Bronze. A failing report is
// returned with a nil error; structural errors leave Silver untouched.
func (p *Pipeline) Validate(ctx context.Context) (domain.ValidationReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	report, err := p.validate(ctx)
	p.observe("validate", start, err, report.Status)
	if err != nil {
		return domain.ValidationReport{}, err
	}

	p.metrics.SilverRows.Set(float64(report.RowCount))
	p.metrics.DuplicatesRemoved.Set(float64(report.DuplicatesRemoved))
	p.metrics.GapsFilled.Set(float64(report.GapsFilled))
	p.metrics.ValuesImputed.Set(float64(report.ValuesImputed))
	p.metrics.OutOfRangeValues.Set(float64(report.OutOfRangeCount))
	p.metrics.SilverMissingAfter.Set(float64(report.RemainingMissing))

	attrs := []any{
		"status", report.Status,
		"rows", report.RowCount,
		"duplicates_removed", report.DuplicatesRemoved,
		"gaps_filled", report.GapsFilled,
		"values_imputed", report.ValuesImputed,
		"out_of_range", report.OutOfRangeCount,
	}
	if report.Status == domain.StatusFail {
		p.logger.Warn("silver validation failed", append(attrs, "failures", report.Failures)...)
	} else {
		p.logger.Info("silver validated", attrs...)
	}

	p.export(ctx, domain.LayerSilver)
	p.notify(ctx, domain.LayerEvent{
		Layer:     domain.LayerSilver,
		Status:    report.Status,
		RowCount:  report.RowCount,
		DateRange: report.DateRange,
	})
	return report, nil
}

func (p *Pipeline) validate(ctx context.Context) (domain.ValidationReport, error) {
	bronze, err := p.bronze.LoadBronze(ctx)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("load bronze: %w", err)
	}
	silver, report, err := domain.Validate(bronze.Records, p.params.ValueRanges)
	if err != nil {
		return domain.ValidationReport{}, err
	}
	if err := p.layers.WriteSilver(ctx, silver, report); err != nil {
		return domain.ValidationReport{}, fmt.Errorf("write silver: %w", err)
	}
	return report, nil
}

// Transform rebuilds Gold from Silver. A failing report is returned with a
// nil error; structural and configuration errors leave Gold untouched.
func (p *Pipeline) Transform(ctx context.Context) (domain.GoldReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	report, err := p.transform(ctx)
	p.observe("transform", start, err, report.Status)
	if err != nil {
		return domain.GoldReport{}, err
	}

	p.metrics.GoldRows.Set(float64(report.RowCount))
	if report.Status == domain.StatusFail {
		p.logger.Warn("gold transform failed", "rows", report.RowCount, "failures", report.Failures)
	} else {
		p.logger.Info("gold transformed", "rows", report.RowCount, "features", len(report.FeatureColumns))
	}

	p.export(ctx, domain.LayerGold)
	p.notify(ctx, domain.LayerEvent{
		Layer:     domain.LayerGold,
		Status:    report.Status,
		RowCount:  report.RowCount,
		DateRange: report.DateRange,
	})
	return report, nil
}

func (p *Pipeline) transform(ctx context.Context) (domain.GoldReport, error) {
	silver, err := p.layers.ReadSilver(ctx)
	if err != nil {
		return domain.GoldReport{}, fmt.Errorf("read silver: %w", err)
	}
	gold, report, err := domain.Transform(silver, p.params.Features)
	if err != nil {
		return domain.GoldReport{}, err
	}
	if err := p.layers.WriteGold(ctx, gold, report); err != nil {
		return domain.GoldReport{}, fmt.Errorf("write gold: %w", err)
	}
	return report, nil
}

// RunResult collects the outcome of every stage of Run.
type RunResult struct {
	Ingest domain.IngestResult     `json:"ingest"`
	Silver domain.ValidationReport `json:"silver"`
	Gold   domain.GoldReport       `json:"gold"`
}

// Err joins the quality failures of the Silver and Gold reports.
func (r RunResult) Err() error {
	return errors.Join(r.Silver.Err(), r.Gold.Err())
}

// Run ingests batchID and rebuilds Silver and Gold. The first structural
// error stops propagation to the downstream layers.
func (p *Pipeline) Run(ctx context.Context, batchID int) (RunResult, error) {
	var out RunResult
	var err error

	p.logger.Info("pipeline started", "batch_id", batchID)
	if out.Ingest, err = p.Ingest(ctx, batchID); err != nil {
		return out, fmt.Errorf("ingest: %w", err)
	}
	if out.Silver, err = p.Validate(ctx); err != nil {
		return out, fmt.Errorf("validate: %w", err)
	}
	if out.Gold, err = p.Transform(ctx); err != nil {
		return out, fmt.Errorf("transform: %w", err)
	}
	p.logger.Info("pipeline finished",
		"batch_id", batchID,
		"applied", out.Ingest.Applied,
		"silver_status", out.Silver.Status,
		"gold_status", out.Gold.Status,
	)
	return out, nil
}

// Correlate analyses the current Silver table and stores the result.
func (p *Pipeline) Correlate(ctx context.Context) (domain.CorrelationReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	silver, err := p.layers.ReadSilver(ctx)
	if err != nil {
		return domain.CorrelationReport{}, fmt.Errorf("read silver: %w", err)
	}
	report, err := domain.Correlate(silver, p.params.Target)
	if err != nil {
		return domain.CorrelationReport{}, err
	}
	if err := p.layers.WriteCorrelation(ctx, report); err != nil {
		return domain.CorrelationReport{}, fmt.Errorf("write correlation report: %w", err)
	}
	p.logger.Info("correlations computed", "target", report.Target, "high_pairs", len(report.HighlyCorrelated))
	return report, nil
}

// Ledger returns the committed ledger.
func (p *Pipeline) Ledger(ctx context.Context) (domain.Ledger, error) {
	return p.bronze.ReadLedger(ctx)
}

// Report returns the JSON report of a layer. The Bronze report is derived
// from the ledger on demand.
func (p *Pipeline) Report(ctx context.Context, layer domain.Layer) ([]byte, error) {
	if layer != domain.LayerBronze {
		return p.layers.ReadReport(ctx, layer)
	}
	bronze, err := p.bronze.LoadBronze(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(domain.SummarizeBronze(bronze), "", "  ")
}

func (p *Pipeline) observe(stage string, start time.Time, err error, status domain.Status) {
	p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	label := string(status)
	if err != nil {
		label = "error"
		p.logger.Error("stage failed", "stage", stage, "error", err)
	}
	p.metrics.StageRuns.WithLabelValues(stage, label).Inc()
}

// export is best effort; the CSV layer is authoritative.
func (p *Pipeline) export(ctx context.Context, layer domain.Layer) {
	if p.exporter == nil {
		return
	}
	path, err := p.exporter.ExportLayer(ctx, layer)
	if err != nil {
		p.logger.Warn("layer export failed", "layer", layer, "error", err)
		return
	}
	p.logger.Debug("layer exported", "layer", layer, "path", path)
}

const publishAttempts = 3

// notify publishes event with a short exponential backoff. Failures are
// logged and never fail the stage.
func (p *Pipeline) notify(ctx context.Context, event domain.LayerEvent) {
	if p.notifier == nil {
		return
	}
	event.ID = uuid.NewString()
	event.EmittedAt = domain.Now()

	backoff := 200 * time.Millisecond
	maxBackoff := 2 * time.Second
	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err = p.notifier.PublishLayerEvent(ctx, event); err == nil {
			p.metrics.EventsPublished.WithLabelValues("success").Inc()
			return
		}
		if attempt == publishAttempts || !sharedretry.SleepWithContext(ctx, backoff) {
			break
		}
		backoff = sharedretry.NextBackoff(backoff, maxBackoff)
	}
	p.metrics.EventsPublished.WithLabelValues("error").Inc()
	p.logger.Warn("layer event not published", "layer", event.Layer, "error", err)
}
