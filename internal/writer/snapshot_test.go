package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tickergate/internal/model"
)

// fakeDB records queued statements. Symbols in conflict report zero rows
// affected.
type fakeDB struct {
	mu       sync.Mutex
	batches  int
	rows     [][]any
	conflict map[string]bool
	err      error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++

	res := &fakeResults{err: f.err}
	for _, q := range b.QueuedQueries {
		f.rows = append(f.rows, q.Arguments)
		symbol, _ := q.Arguments[1].(string)
		res.affected = append(res.affected, !f.conflict[symbol])
	}
	return res
}

func (f *fakeDB) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeResults struct {
	affected []bool
	i        int
	err      error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	ok := r.affected[r.i]
	r.i++
	if ok {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 0"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func testSnapshot(m model.Market, symbols ...string) *model.Snapshot {
	s := &model.Snapshot{
		Market:    m,
		Source:    model.SourcePoll,
		FetchedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Tickers:   make(map[string]model.Ticker, len(symbols)),
	}
	for _, sym := range symbols {
		s.Tickers[sym] = model.Ticker{
			Symbol:      sym,
			Market:      m,
			LastPrice:   decimal.RequireFromString("44850.10"),
			QuoteVolume: decimal.RequireFromString("1250000.5"),
			TradeCount:  1200,
			CloseTime:   1705320000000,
			MarkPrice:   decimal.RequireFromString("44851.00"),
			FundingRate: decimal.RequireFromString("0.0001"),
		}
	}
	return s
}

func TestTransform(t *testing.T) {
	rows := transform(testSnapshot(model.MarketSpot, "SOLUSDT", "BTCUSDT"))
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	row := rows[0]
	if row.Symbol != "BTCUSDT" {
		t.Errorf("rows not sorted by symbol: first = %s", row.Symbol)
	}
	if row.Market != "spot" {
		t.Errorf("Market = %s, want spot", row.Market)
	}
	if want := time.UnixMilli(1705320000000).UTC(); !row.CloseTime.Equal(want) {
		t.Errorf("CloseTime = %v, want %v", row.CloseTime, want)
	}
	if !row.LastPrice.Equal(decimal.RequireFromString("44850.1")) {
		t.Errorf("LastPrice = %s, want 44850.1", row.LastPrice)
	}
	if row.MarkPrice.Valid || row.FundingRate.Valid {
		t.Error("spot rows should have NULL mark price and funding rate")
	}

	futures := transform(testSnapshot(model.MarketFutures, "BTCUSDT"))
	if !futures[0].MarkPrice.Valid || !futures[0].FundingRate.Valid {
		t.Error("futures rows should carry mark price and funding rate")
	}

	if transform(nil) != nil {
		t.Error("transform(nil) should return nil")
	}
}

func TestSnapshotWriter_DropsWhenBufferFull(t *testing.T) {
	cfg := DefaultWriterConfig()
	cfg.BufferSize = 2
	w := NewSnapshotWriter(cfg, nil, nil)

	// Not started, so nothing drains the buffer.
	if err := w.HandleSnapshot(testSnapshot(model.MarketSpot, "AUSDT", "BUSDT", "CUSDT", "DUSDT")); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}

	if got := w.Stats().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	if got := len(w.input); got != 2 {
		t.Errorf("queued = %d, want 2", got)
	}
}

func TestSnapshotWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{conflict: map[string]bool{"ETHUSDT": true}}
	cfg := DefaultWriterConfig()
	cfg.BatchSize = 3
	cfg.FlushInterval = time.Hour

	w := NewSnapshotWriter(cfg, db, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop(context.Background())

	w.HandleSnapshot(testSnapshot(model.MarketSpot, "BTCUSDT", "ETHUSDT", "SOLUSDT"))

	deadline := time.Now().Add(time.Second)
	for w.Stats().Flushes == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stats := w.Stats()
	if stats.Flushes != 1 {
		t.Fatalf("Flushes = %d, want 1", stats.Flushes)
	}
	if stats.Inserts != 2 {
		t.Errorf("Inserts = %d, want 2", stats.Inserts)
	}
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}
}

func TestSnapshotWriter_StopFlushesQueued(t *testing.T) {
	db := &fakeDB{}
	cfg := DefaultWriterConfig()
	cfg.FlushInterval = time.Hour

	w := NewSnapshotWriter(cfg, db, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w.HandleSnapshot(testSnapshot(model.MarketFutures, "BTCUSDT", "ETHUSDT"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := db.rowCount(); got != 2 {
		t.Errorf("rows written = %d, want 2", got)
	}
	if got := w.Stats().Inserts; got != 2 {
		t.Errorf("Inserts = %d, want 2", got)
	}
}

func TestSnapshotWriter_InsertErrorCounted(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	w := NewSnapshotWriter(DefaultWriterConfig(), db, nil)

	w.batch = transform(testSnapshot(model.MarketSpot, "BTCUSDT"))
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Flushes != 0 {
		t.Errorf("Flushes = %d, want 0", stats.Flushes)
	}
}

func TestSnapshotWriter_Lifecycle(t *testing.T) {
	w := NewSnapshotWriter(DefaultWriterConfig(), nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := w.Stats(); got != (WriterMetrics{}) {
		t.Errorf("Stats = %+v, want zero", got)
	}
}
