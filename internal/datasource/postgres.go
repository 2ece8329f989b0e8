package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantfall/backcast/internal/market"
	"github.com/quantfall/backcast/internal/rules"
)

// PostgresConfig holds connection and guard settings for the OHLCV and
// results databases.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	QueriesPerSec   float64       `yaml:"queries_per_sec"`
	Burst           int           `yaml:"burst"`
}

// DefaultPostgresConfig returns reasonable pool and guard defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
		QueriesPerSec:   50,
		Burst:           10,
	}
}

// PostgresSource implements Source and ExecutionStore over Postgres, with a
// circuit breaker and rate limiter guarding the database.
type PostgresSource struct {
	db      *sqlx.DB
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewPostgresSource opens and pings the database.
func NewPostgresSource(cfg PostgresConfig) (*PostgresSource, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "datasource",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("datasource circuit breaker state change")
		},
	})

	return &PostgresSource{
		db:      db,
		timeout: cfg.QueryTimeout,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.QueriesPerSec), cfg.Burst),
	}, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error { return s.db.Close() }

type barRow struct {
	Ts     time.Time `db:"ts"`
	Open   float64   `db:"open"`
	High   float64   `db:"high"`
	Low    float64   `db:"low"`
	Close  float64   `db:"close"`
	Volume int64     `db:"volume"`
}

// Query loads a ticker's bars over [start, end], ordered by time.
func (s *PostgresSource) Query(ctx context.Context, ticker string, start, end time.Time) (*market.Frame, error) {
	rows, err := s.guarded(ctx, func(qctx context.Context) (any, error) {
		var rows []barRow
		err := s.db.SelectContext(qctx, &rows,
			`SELECT ts, open, high, low, close, volume
			   FROM ohlcv_bars
			  WHERE ticker = $1 AND ts >= $2 AND ts <= $3
			  ORDER BY ts`,
			ticker, start.UTC(), end.UTC())
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("query ohlcv for %s: %w", ticker, err)
	}
	frame := &market.Frame{Ticker: ticker}
	for _, r := range rows.([]barRow) {
		frame.Bars = append(frame.Bars, market.Bar{
			Time: r.Ts.UTC(), Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		})
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

type executionRow struct {
	Ticker   string    `db:"ticker"`
	Strategy string    `db:"strategy"`
	HashID   string    `db:"hash_id"`
	Ts       time.Time `db:"ts"`
	Side     string    `db:"side"`
	Action   string    `db:"action"`
	Price    float64   `db:"price"`
	Shares   float64   `db:"shares"`
	TradeID  string    `db:"trade_id"`
}

// QueryExecutions loads phase-1 executions for a hash, ordered by time.
func (s *PostgresSource) QueryExecutions(ctx context.Context, hashID string) ([]rules.PortfolioExecution, error) {
	rows, err := s.guarded(ctx, func(qctx context.Context) (any, error) {
		var rows []executionRow
		err := s.db.SelectContext(qctx, &rows,
			`SELECT ticker, strategy, hash_id, ts, side, action, price, shares, trade_id
			   FROM backtest_executions
			  WHERE hash_id = $1
			  ORDER BY ts`,
			hashID)
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("query executions for %s: %w", hashID, err)
	}
	var execs []rules.PortfolioExecution
	for _, r := range rows.([]executionRow) {
		execs = append(execs, rules.PortfolioExecution{
			Ticker:   r.Ticker,
			Strategy: r.Strategy,
			HashID:   r.HashID,
			Time:     r.Ts.UTC(),
			Side:     r.Side,
			Action:   r.Action,
			Price:    r.Price,
			Shares:   r.Shares,
			TradeID:  r.TradeID,
		})
	}
	return execs, nil
}

func (s *PostgresSource) guarded(ctx context.Context, query func(context.Context) (any, error)) (any, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.breaker.Execute(func() (any, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return query(qctx)
	})
}
