package portfolio

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/backcast/internal/datasource"
	"github.com/quantfall/backcast/internal/queue"
	"github.com/quantfall/backcast/internal/results"
	"github.com/quantfall/backcast/internal/rules"
)

const testHash = "abcd1234abcd1234"

func fastConfig(hashes ...string) Config {
	return Config{
		Hashes:              hashes,
		InitialAccountValue: 10000,
		Manager: rules.PortfolioManagerConfig{
			Rules: []rules.PortfolioRuleConfig{{Type: "max_capital_deployed", MaxDeployedPct: 0.5}},
		},
		Database:         "backtest-dev",
		DrainTimeout:     50 * time.Millisecond,
		ExecutionTimeout: 50 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
	}
}

func exec(ticker, action string, day int, price, shares float64) rules.PortfolioExecution {
	return rules.PortfolioExecution{
		Ticker:   ticker,
		Strategy: "sma_cross",
		HashID:   testHash,
		Time:     time.Date(2024, 2, 1+day, 0, 0, 0, 0, time.UTC),
		Side:     "LONG",
		Action:   action,
		Price:    price,
		Shares:   shares,
		TradeID:  ticker + "-t1",
	}
}

func newTestRunner(source *datasource.MemorySource, broker *queue.MemoryBroker) *Runner {
	return NewRunner(broker, source, source, nil, results.NewWriter(broker, time.Hour))
}

func TestPhase2RejectsOverDeployedCapital(t *testing.T) {
	source := datasource.NewMemorySource()
	// First entry deploys 6000 against the 5000 limit, so the second entry
	// is rejected.
	source.AddExecutions(testHash,
		exec("AAPL", "open", 0, 60, 100),
		exec("MSFT", "open", 1, 60, 100),
	)
	broker := queue.NewMemoryBroker()
	runner := newTestRunner(source, broker)

	approved, err := runner.Run(context.Background(), fastConfig(testHash))
	require.NoError(t, err)
	assert.Equal(t, 1, approved)

	ids, err := broker.Peek(context.Background(), results.TradesQueue, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL_sma_cross_" + testHash + "_final"}, ids)

	data, found, err := broker.GetData(context.Background(), results.TradesQueue, ids[0])
	require.NoError(t, err)
	require.True(t, found)
	var payload results.Payload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "final", payload.PortfolioStage)
	assert.Equal(t, testHash, payload.HashID)
}

func TestPhase2ExitsReleaseCapital(t *testing.T) {
	source := datasource.NewMemorySource()
	source.AddExecutions(testHash,
		exec("AAPL", "open", 0, 60, 100),  // deploys 6000
		exec("AAPL", "close", 1, 65, 100), // releases it
		exec("MSFT", "open", 2, 60, 50),   // fits again
	)
	broker := queue.NewMemoryBroker()
	runner := newTestRunner(source, broker)

	approved, err := runner.Run(context.Background(), fastConfig(testHash))
	require.NoError(t, err)
	assert.Equal(t, 3, approved)

	ids, err := broker.Peek(context.Background(), results.TradesQueue, 10)
	require.NoError(t, err)
	// Grouped by (strategy, ticker): one item per ticker.
	assert.Len(t, ids, 2)
}

func TestPhase2NoExecutionsSkipsHash(t *testing.T) {
	source := datasource.NewMemorySource()
	broker := queue.NewMemoryBroker()
	runner := newTestRunner(source, broker)

	approved, err := runner.Run(context.Background(), fastConfig(testHash))
	require.NoError(t, err)
	assert.Zero(t, approved)

	size, err := broker.Size(context.Background(), results.TradesQueue)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestPhase2WaitsForQueueDrain(t *testing.T) {
	source := datasource.NewMemorySource()
	source.AddExecutions(testHash, exec("AAPL", "open", 0, 60, 10))
	broker := queue.NewMemoryBroker()

	// A pending phase-1 item for our hash blocks until the drain timeout,
	// then the run proceeds with a warning.
	pending, err := json.Marshal(&results.Payload{
		Ticker:         "AAPL",
		StrategyName:   "sma_cross",
		Columns:        map[string]any{"datetime": []int64{1}},
		HashID:         testHash,
		PortfolioStage: "phase1",
	})
	require.NoError(t, err)
	require.NoError(t, broker.Enqueue(context.Background(), results.TradesQueue, "stuck-item", pending, time.Hour))

	runner := newTestRunner(source, broker)
	start := time.Now()
	approved, err := runner.Run(context.Background(), fastConfig(testHash))
	require.NoError(t, err)
	assert.Equal(t, 1, approved)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPhase2RequiresHashes(t *testing.T) {
	runner := newTestRunner(datasource.NewMemorySource(), queue.NewMemoryBroker())
	_, err := runner.Run(context.Background(), fastConfig())
	assert.Error(t, err)
}

func TestPhase2InvalidRuleConfig(t *testing.T) {
	cfg := fastConfig(testHash)
	cfg.Manager.Rules = []rules.PortfolioRuleConfig{{Type: "bogus"}}
	runner := newTestRunner(datasource.NewMemorySource(), queue.NewMemoryBroker())
	_, err := runner.Run(context.Background(), cfg)
	assert.Error(t, err)
}
