package sink

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"pulsezone/internal/ledger"
)

// PostgresTradeResultSink persists finalised opportunities to a relational
// store via pgx. Write never blocks the caller: results are appended to an
// unbounded in-memory queue drained by a single background writer
// goroutine, matching spec §6's "must not block the control thread"
// requirement and the teacher's async-publisher shape
// (internal/publisher/redis.go) adapted to pgx instead of a pub/sub
// client.
type PostgresTradeResultSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []ledger.TradeResult
	closed  bool
	done    chan struct{}
}

// NewPostgresTradeResultSink starts the background writer goroutine and
// returns the sink. Callers must call Close to drain and stop it.
func NewPostgresTradeResultSink(pool *pgxpool.Pool, logger *zap.Logger) *PostgresTradeResultSink {
	s := &PostgresTradeResultSink{
		pool:   pool,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Write enqueues a result for asynchronous persistence. Non-blocking.
func (s *PostgresTradeResultSink) Write(result ledger.TradeResult) {
	s.mu.Lock()
	s.pending = append(s.pending, result)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *PostgresTradeResultSink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, r := range batch {
			s.persist(r)
		}
	}
}

func (s *PostgresTradeResultSink) persist(r ledger.TradeResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_results (
			id, pair, direction, strategy, station_id,
			start_price, target_price, stop_price,
			created_at, avg_duration_ms, max_duration_ms,
			ph_pct, success_rate, avg_pnl_pct, return_variance, sample_size,
			exit_reason, exit_price, exit_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		r.Opportunity.ID, r.Opportunity.Pair, r.Opportunity.Direction, r.Opportunity.Strategy, r.Opportunity.StationID,
		r.Opportunity.StartPrice, r.Opportunity.TargetPrice, r.Opportunity.StopPrice,
		r.Opportunity.CreatedAt, r.Opportunity.AvgDurationMs, r.Opportunity.MaxDurationMs,
		r.Opportunity.PhPct, r.Opportunity.SuccessRate, r.Opportunity.AvgPnlPct, r.Opportunity.ReturnVariance, r.Opportunity.SampleSize,
		r.ExitReason, r.ExitPrice, r.ExitTime,
	)
	if err != nil {
		s.logger.Error("failed to persist trade result",
			zap.String("opportunity_id", r.Opportunity.ID),
			zap.Error(err),
		)
	}
}

// Close signals the writer goroutine to drain remaining results and stop,
// then closes the pool.
func (s *PostgresTradeResultSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.pool.Close()
	return nil
}
