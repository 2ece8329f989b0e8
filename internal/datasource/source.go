// Package datasource provides the OHLCV and execution stores the engine
// reads from: a Postgres-backed implementation for real runs and an
// in-memory implementation for tests.
package datasource

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quantfall/backcast/internal/market"
	"github.com/quantfall/backcast/internal/rules"
)

// Source serves historical bars. Bars are returned in strict time order,
// timezone UTC.
type Source interface {
	Query(ctx context.Context, ticker string, start, end time.Time) (*market.Frame, error)
}

// ExecutionStore serves phase-1 executions persisted by the downstream
// results consumer, keyed by configuration hash.
type ExecutionStore interface {
	QueryExecutions(ctx context.Context, hashID string) ([]rules.PortfolioExecution, error)
}

// MemorySource is a fixture-backed Source and ExecutionStore.
type MemorySource struct {
	mu         sync.Mutex
	frames     map[string]*market.Frame
	executions map[string][]rules.PortfolioExecution
}

// NewMemorySource returns an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		frames:     make(map[string]*market.Frame),
		executions: make(map[string][]rules.PortfolioExecution),
	}
}

// AddFrame registers bars for a ticker.
func (s *MemorySource) AddFrame(frame *market.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[frame.Ticker] = frame
}

// AddExecutions registers phase-1 executions for a hash.
func (s *MemorySource) AddExecutions(hashID string, execs ...rules.PortfolioExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[hashID] = append(s.executions[hashID], execs...)
}

func (s *MemorySource) Query(ctx context.Context, ticker string, start, end time.Time) (*market.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, ok := s.frames[ticker]
	if !ok {
		return &market.Frame{Ticker: ticker}, nil
	}
	return &market.Frame{Ticker: ticker, Bars: frame.Between(start, end)}, nil
}

func (s *MemorySource) QueryExecutions(ctx context.Context, hashID string) ([]rules.PortfolioExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execs := append([]rules.PortfolioExecution(nil), s.executions[hashID]...)
	sort.SliceStable(execs, func(i, j int) bool { return execs[i].Time.Before(execs[j].Time) })
	return execs, nil
}
