package writer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tickergate/internal/model"
)

// BatchSender is the subset of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertSnapshotSQL = `
	INSERT INTO ticker_snapshots (market, symbol, close_time, fetched_at, last_price, price_change, price_change_percent,
		open_price, high_price, low_price, volume, quote_volume, trade_count, mark_price, funding_rate)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (market, symbol, close_time) DO NOTHING
`

// SnapshotWriter receives ticker snapshots from the poller and writes them
// to the ticker_snapshots table.
type SnapshotWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the poller; full means rows are dropped
	input chan snapshotRow

	// Database
	db BatchSender

	// Batching
	batch   []snapshotRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewSnapshotWriter creates a new SnapshotWriter.
func NewSnapshotWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *SnapshotWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultWriterConfig().BufferSize
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	return &SnapshotWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan snapshotRow, cfg.BufferSize),
		batch:  make([]snapshotRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming rows and writing to the database.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.logger.Info("snapshot writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing queued rows with ctx.
func (w *SnapshotWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping snapshot writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("snapshot writer stop timed out")
		return ctx.Err()
	}

	// Drain whatever the poller queued before shutdown.
drain:
	for {
		select {
		case row := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			w.batchMu.Unlock()
		default:
			break drain
		}
	}

	w.flush(ctx)
	w.logger.Info("snapshot writer stopped")
	return nil
}

// HandleSnapshot queues every ticker in s. It never blocks the poller:
// rows that do not fit in the buffer are dropped and counted.
func (w *SnapshotWriter) HandleSnapshot(s *model.Snapshot) error {
	rows := transform(s)

	dropped := 0
	for _, row := range rows {
		select {
		case w.input <- row:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		w.batchMu.Lock()
		w.metrics.Dropped += int64(dropped)
		w.batchMu.Unlock()
		w.logger.Warn("snapshot writer buffer full, dropping rows",
			"market", s.Market,
			"dropped", dropped,
			"buffer_size", w.cfg.BufferSize,
		)
	}
	return nil
}

// Stats returns current metrics.
func (w *SnapshotWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads queued rows, flushing on size or interval.
func (w *SnapshotWriter) consumeLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		case row := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			shouldFlush := len(w.batch) >= w.cfg.BatchSize
			w.batchMu.Unlock()

			if shouldFlush {
				w.flush(w.ctx)
			}
		}
	}
}

// transform converts a snapshot to rows in symbol order.
func transform(s *model.Snapshot) []snapshotRow {
	if s == nil {
		return nil
	}

	rows := make([]snapshotRow, 0, len(s.Tickers))
	for _, t := range s.Tickers {
		row := snapshotRow{
			Market:             string(s.Market),
			Symbol:             t.Symbol,
			CloseTime:          time.UnixMilli(t.CloseTime).UTC(),
			FetchedAt:          s.FetchedAt.UTC(),
			LastPrice:          t.LastPrice,
			PriceChange:        t.PriceChange,
			PriceChangePercent: t.PriceChangePercent,
			OpenPrice:          t.OpenPrice,
			HighPrice:          t.HighPrice,
			LowPrice:           t.LowPrice,
			Volume:             t.Volume,
			QuoteVolume:        t.QuoteVolume,
			TradeCount:         t.TradeCount,
		}
		if s.Market == model.MarketFutures {
			row.MarkPrice = decimal.NullDecimal{Decimal: t.MarkPrice, Valid: true}
			row.FundingRate = decimal.NullDecimal{Decimal: t.FundingRate, Valid: true}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows
}

// flush writes the current batch to the database.
func (w *SnapshotWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]snapshotRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "err", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed ticker snapshots",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *SnapshotWriter) batchInsert(ctx context.Context, rows []snapshotRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, errors.New("no database configured")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSnapshotSQL,
			r.Market, r.Symbol, r.CloseTime, r.FetchedAt, r.LastPrice, r.PriceChange, r.PriceChangePercent,
			r.OpenPrice, r.HighPrice, r.LowPrice, r.Volume, r.QuoteVolume, r.TradeCount, r.MarkPrice, r.FundingRate)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
