package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func day(n int) time.Time {
	return time.Date(2013, time.January, n, 0, 0, 0, 0, time.UTC)
}

func row(d int, meantemp float64) BatchRow {
	return BatchRow{Date: day(d), Measurements: Measurements{
		MeanTemp:     ptr(meantemp),
		Humidity:     ptr(80),
		WindSpeed:    ptr(3.5),
		MeanPressure: ptr(1015),
	}}
}

func TestIngest(t *testing.T) {
	fixed := time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	defer SetClock(nil)

	batch := Batch{ID: 1, Rows: []BatchRow{row(1, 10), row(2, 12), row(2, 12)}}

	t.Run("appends every row and records the batch", func(t *testing.T) {
		next, res, err := Ingest(Bronze{}, batch)
		require.NoError(t, err)

		assert.True(t, res.Applied)
		assert.Equal(t, ReasonAppended, res.Reason)
		assert.Equal(t, 3, res.RowsAppended)
		assert.Equal(t, LedgerEntry{BatchID: 1, RowCount: 3, IngestedAt: fixed}, res.Entry)

		require.Len(t, next.Records, 3)
		assert.Equal(t, []int{1}, next.Ledger.BatchIDs())
		for i, rec := range next.Records {
			assert.Equal(t, 1, rec.BatchID)
			assert.Equal(t, i, rec.BatchRow)
		}
	})

	t.Run("already ingested batch is a no-op", func(t *testing.T) {
		first, _, err := Ingest(Bronze{}, batch)
		require.NoError(t, err)

		again, res, err := Ingest(first, Batch{ID: 1, Rows: []BatchRow{row(9, 30)}})
		require.NoError(t, err)

		assert.False(t, res.Applied)
		assert.Equal(t, ReasonAlreadyIngested, res.Reason)
		assert.Zero(t, res.RowsAppended)
		assert.Equal(t, first, again)
	})

	t.Run("does not modify its input", func(t *testing.T) {
		first, _, err := Ingest(Bronze{}, batch)
		require.NoError(t, err)
		before := len(first.Records)

		_, _, err = Ingest(first, Batch{ID: 2, Rows: []BatchRow{row(3, 14)}})
		require.NoError(t, err)

		assert.Len(t, first.Records, before)
		assert.Len(t, first.Ledger.Entries, 1)
	})

	t.Run("empty batch is still recorded", func(t *testing.T) {
		next, res, err := Ingest(Bronze{}, Batch{ID: 4})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Empty(t, next.Records)
		assert.True(t, next.Ledger.Has(4))
	})

	t.Run("invalid batch id", func(t *testing.T) {
		_, _, err := Ingest(Bronze{}, Batch{ID: 0, Rows: []BatchRow{row(1, 10)}})
		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
	})

	t.Run("row without date", func(t *testing.T) {
		_, _, err := Ingest(Bronze{}, Batch{ID: 2, Rows: []BatchRow{{}}})
		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Contains(t, err.Error(), "row 1 has no date")
	})
}

func TestAppended(t *testing.T) {
	first, _, err := Ingest(Bronze{}, Batch{ID: 1, Rows: []BatchRow{row(1, 10)}})
	require.NoError(t, err)
	second, _, err := Ingest(first, Batch{ID: 2, Rows: []BatchRow{row(2, 11), row(3, 12)}})
	require.NoError(t, err)

	added := Appended(first, second)
	require.Len(t, added, 2)
	assert.Equal(t, 2, added[0].BatchID)
	assert.Nil(t, Appended(second, second))
}

func TestBronzeDateRange(t *testing.T) {
	assert.Nil(t, Bronze{}.DateRange())

	b, _, err := Ingest(Bronze{}, Batch{ID: 1, Rows: []BatchRow{row(5, 1), row(2, 1), row(9, 1)}})
	require.NoError(t, err)
	assert.Equal(t, &DateRange{Start: day(2), End: day(9)}, b.DateRange())
}

func TestNewBatch(t *testing.T) {
	header := []string{"meanpressure", "date", "meantemp", "humidity", "wind_speed"}

	t.Run("columns in any order", func(t *testing.T) {
		b, err := NewBatch(3, header, [][]string{
			{"1015.5", "2013-01-01", "10", "84.5", "0"},
			{"", "2013-01-02 00:00:00", "NaN", "92", "2.98"},
		})
		require.NoError(t, err)
		require.Len(t, b.Rows, 2)
		assert.Equal(t, 3, b.ID)
		assert.Equal(t, day(1), b.Rows[0].Date)
		assert.Equal(t, 1015.5, *b.Rows[0].MeanPressure)
		assert.Equal(t, day(2), b.Rows[1].Date)
		assert.Nil(t, b.Rows[1].MeanTemp)
		assert.Nil(t, b.Rows[1].MeanPressure)
	})

	cases := []struct {
		name    string
		header  []string
		records [][]string
		want    string
	}{
		{"missing column", []string{"date", "meantemp", "humidity", "wind_speed"}, nil, "missing columns meanpressure"},
		{"unexpected column", append(header, "station"), nil, "unexpected columns station"},
		{"short row", header, [][]string{{"1", "2013-01-01"}}, "row 1 has 2 fields"},
		{"bad date", header, [][]string{{"1", "01/02/2013", "1", "1", "1"}}, "invalid date"},
		{"bad number", header, [][]string{{"1", "2013-01-01", "warm", "1", "1"}}, "meantemp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBatch(1, tc.header, tc.records)
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSetClock(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	assert.Equal(t, fixed, clock.Now())

	SetClock(nil)
	assert.WithinDuration(t, time.Now(), clock.Now(), time.Second)
}
