package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// workedBatch covers D1..D5 with D3 empty and D4 received twice.
const workedBatch = `date,meantemp,humidity,wind_speed,meanpressure
2013-01-01,10,84.5,0,1015.67
2013-01-02,12,92,2.98,1017.8
2013-01-03,,,,
2013-01-04,15,71.33,1.23,1017.17
2013-01-04,16,71.33,1.23,1017.17
2013-01-05,18,86.83,3.7,1016.5
`

// overlapBatch repeats D5 with a later reading and extends to D7.
const overlapBatch = `meantemp,date,humidity,wind_speed,meanpressure
19,2013-01-05,86.83,3.7,1016.5
17,2013-01-06,82.8,1.48,1018
20,2013-01-07,78.6,6.3,1020
`

func writeRawBatch(t *testing.T, dir string, id int, body string) {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("batch_%d.csv", id))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// --- mocks ---

type mockSource struct {
	batches map[int]domain.Batch
	reads   int
}

func (m *mockSource) ReadBatch(_ context.Context, id int) (domain.Batch, error) {
	m.reads++
	b, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, os.ErrNotExist
	}
	return b, nil
}

type mockBronze struct {
	bronze    domain.Bronze
	appendErr error
	appends   int
}

func (m *mockBronze) ReadLedger(_ context.Context) (domain.Ledger, error) {
	return m.bronze.Ledger, nil
}

func (m *mockBronze) LoadBronze(_ context.Context) (domain.Bronze, error) {
	return m.bronze, nil
}

func (m *mockBronze) AppendBatch(_ context.Context, entry domain.LedgerEntry, records []domain.BronzeRecord) error {
	m.appends++
	if m.appendErr != nil {
		return m.appendErr
	}
	m.bronze.Ledger.Entries = append(m.bronze.Ledger.Entries, entry)
	m.bronze.Records = append(m.bronze.Records, records...)
	return nil
}

type mockLayers struct {
	silver      *domain.Silver
	silverRep   *domain.ValidationReport
	gold        *domain.Gold
	goldRep     *domain.GoldReport
	correlation *domain.CorrelationReport
}

func (m *mockLayers) WriteSilver(_ context.Context, s domain.Silver, r domain.ValidationReport) error {
	m.silver, m.silverRep = &s, &r
	return nil
}

func (m *mockLayers) ReadSilver(_ context.Context) (domain.Silver, error) {
	if m.silver == nil {
		return domain.Silver{}, os.ErrNotExist
	}
	return *m.silver, nil
}

func (m *mockLayers) WriteGold(_ context.Context, g domain.Gold, r domain.GoldReport) error {
	m.gold, m.goldRep = &g, &r
	return nil
}

func (m *mockLayers) WriteCorrelation(_ context.Context, r domain.CorrelationReport) error {
	m.correlation = &r
	return nil
}

func (m *mockLayers) ReadReport(_ context.Context, layer domain.Layer) ([]byte, error) {
	return []byte(`{"layer":"` + string(layer) + `"}`), nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []domain.LayerEvent
	err    error
}

func (m *mockNotifier) PublishLayerEvent(_ context.Context, e domain.LayerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

type mockExporter struct {
	layers []domain.Layer
	err    error
}

func (m *mockExporter) ExportLayer(_ context.Context, layer domain.Layer) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.layers = append(m.layers, layer)
	return string(layer) + ".parquet", nil
}

var errBroker = errors.New("broker unavailable")
