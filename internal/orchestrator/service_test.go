package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures_agent/internal/agent/decision"
	"futures_agent/internal/domain"
)

type fakeAccount struct {
	balance      domain.BalanceInfo
	balanceErr   error
	positions    []domain.Position
	positionsErr error
	perf         domain.DailyPerformance
}

func (f *fakeAccount) GetBalance(context.Context) (domain.BalanceInfo, error) {
	return f.balance, f.balanceErr
}

func (f *fakeAccount) GetOpenPositions(context.Context) ([]domain.Position, error) {
	return f.positions, f.positionsErr
}

func (f *fakeAccount) GetDailyPerformance(context.Context) (domain.DailyPerformance, error) {
	return f.perf, nil
}

type fakeCollector struct {
	data     map[string]domain.AssetSnapshot
	failures []error
	calls    [][]string
}

func (f *fakeCollector) Collect(_ context.Context, currencies []string) (map[string]domain.AssetSnapshot, []error) {
	f.calls = append(f.calls, currencies)
	return f.data, f.failures
}

type fakeAgent struct {
	outcome   decision.Outcome
	err       error
	gotCtx    decision.Context
	called    int
	waitOnCtx bool
}

func (f *fakeAgent) Decide(ctx context.Context, dc decision.Context) (decision.Outcome, error) {
	f.called++
	f.gotCtx = dc
	if f.waitOnCtx {
		<-ctx.Done()
		return f.outcome, &domain.AgentError{Err: ctx.Err()}
	}
	return f.outcome, f.err
}

type memExecStore struct {
	created   []string
	finalized []domain.CycleResult
	latest    *domain.CycleResult
}

func (s *memExecStore) CreateExecution(_ context.Context, id string, _ []string, _ time.Time) error {
	s.created = append(s.created, id)
	return nil
}

func (s *memExecStore) FinalizeExecution(_ context.Context, result domain.CycleResult) error {
	s.finalized = append(s.finalized, result)
	return nil
}

func (s *memExecStore) LatestSuccessfulExecution(context.Context) (*domain.CycleResult, error) {
	return s.latest, nil
}

func healthyAccount() *fakeAccount {
	return &fakeAccount{
		balance: domain.BalanceInfo{TotalWalletBalance: 1000, TotalMarginBalance: 1050, AvailableBalance: 800},
		positions: []domain.Position{
			{Symbol: "BTCUSDT", PositionAmt: 0.5, Side: "LONG"},
		},
		perf: domain.DailyPerformance{RealizedPnL: 23, WinRate: 50},
	}
}

func snapshotMap(currencies ...string) map[string]domain.AssetSnapshot {
	out := make(map[string]domain.AssetSnapshot, len(currencies))
	for _, c := range currencies {
		out[c] = domain.AssetSnapshot{Currency: c, CurrentPrice: 100}
	}
	return out
}

func TestRunCycleSuccess(t *testing.T) {
	account := healthyAccount()
	collector := &fakeCollector{data: snapshotMap("BTC", "ETH")}
	agent := &fakeAgent{outcome: decision.Outcome{
		Narrative:    "Holding.\n\n## Strategy for Next Execution\n\nStay long BTC.",
		SystemPrompt: "system prompt text",
		ToolCalls:    2,
	}}
	repo := &memExecStore{latest: &domain.CycleResult{
		ID:           "prev",
		NextStrategy: "previous plan",
		CreatedAt:    time.Now().Add(-time.Hour).UTC(),
	}}

	svc := New(account, collector, agent, repo, []string{"BTC", "ETH"}, time.Minute)
	result := svc.RunCycle(context.Background())

	assert.Equal(t, domain.CycleStatusSuccess, result.Status)
	assert.Equal(t, []string{"BTC", "ETH"}, result.Currencies)
	assert.Contains(t, result.NextStrategy, "Stay long BTC")
	assert.Equal(t, "system prompt text", result.SystemPrompt)
	assert.Len(t, result.MarketData, 2)
	assert.Empty(t, result.ErrorMessage)
	assert.Greater(t, result.Duration, 0.0)

	// agent received the full decision context including previous strategy
	assert.Equal(t, 1, agent.called)
	assert.Equal(t, result.ID, agent.gotCtx.ExecutionID)
	assert.Equal(t, "previous plan", agent.gotCtx.PreviousStrategy)
	assert.Equal(t, 1050.0, agent.gotCtx.Balance.TotalMarginBalance)
	require.Len(t, agent.gotCtx.Positions, 1)

	// record created at start and finalized at end
	require.Len(t, repo.created, 1)
	require.Len(t, repo.finalized, 1)
	assert.Equal(t, domain.CycleStatusSuccess, repo.finalized[0].Status)
}

func TestRunCycleNoBalance(t *testing.T) {
	// 钱包余额为零即停，即便保证金余额因未实现盈亏为正
	account := &fakeAccount{balance: domain.BalanceInfo{TotalWalletBalance: 0, TotalMarginBalance: 120}}
	agent := &fakeAgent{}
	repo := &memExecStore{}

	svc := New(account, &fakeCollector{}, agent, repo, []string{"BTC"}, time.Minute)
	result := svc.RunCycle(context.Background())

	assert.Equal(t, domain.CycleStatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "no balance")
	assert.Zero(t, agent.called, "agent must not run without balance")

	// the failed cycle is still persisted
	require.Len(t, repo.finalized, 1)
	assert.Equal(t, domain.CycleStatusError, repo.finalized[0].Status)
}

func TestRunCycleBalanceReadFailure(t *testing.T) {
	account := &fakeAccount{balanceErr: &domain.ExchangeError{Op: "balance", Err: fmt.Errorf("down")}}
	repo := &memExecStore{}

	svc := New(account, &fakeCollector{}, &fakeAgent{}, repo, []string{"BTC"}, time.Minute)
	result := svc.RunCycle(context.Background())

	assert.Equal(t, domain.CycleStatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "balance")
	require.Len(t, repo.finalized, 1)
}

func TestRunCycleAgentFailure(t *testing.T) {
	agent := &fakeAgent{
		outcome: decision.Outcome{SystemPrompt: "rendered prompt"},
		err:     &domain.AgentError{Err: fmt.Errorf("model unavailable")},
	}
	repo := &memExecStore{}

	svc := New(healthyAccount(), &fakeCollector{data: snapshotMap("BTC")}, agent, repo, []string{"BTC"}, time.Minute)
	result := svc.RunCycle(context.Background())

	assert.Equal(t, domain.CycleStatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "model unavailable")
	// prompt is kept for post-mortem even on failure
	assert.Equal(t, "rendered prompt", result.SystemPrompt)
	require.Len(t, repo.finalized, 1)
}

func TestRunCycleTimeout(t *testing.T) {
	agent := &fakeAgent{waitOnCtx: true}
	repo := &memExecStore{}

	svc := New(healthyAccount(), &fakeCollector{data: snapshotMap("BTC")}, agent, repo, []string{"BTC"}, 50*time.Millisecond)
	result := svc.RunCycle(context.Background())

	assert.Equal(t, domain.CycleStatusTimeout, result.Status)
	require.Len(t, repo.finalized, 1)
	assert.Equal(t, domain.CycleStatusTimeout, repo.finalized[0].Status)
}

func TestRunCyclePositionReadDegrades(t *testing.T) {
	account := healthyAccount()
	account.positionsErr = fmt.Errorf("position endpoint down")
	agent := &fakeAgent{outcome: decision.Outcome{Narrative: "ok"}}

	svc := New(account, &fakeCollector{data: snapshotMap("BTC")}, agent, &memExecStore{}, []string{"BTC"}, time.Minute)
	result := svc.RunCycle(context.Background())

	assert.Equal(t, domain.CycleStatusSuccess, result.Status)
	assert.Empty(t, result.Positions)
	assert.Empty(t, agent.gotCtx.Positions)
}

func TestRunCycleMissingStrategyIsNotFatal(t *testing.T) {
	agent := &fakeAgent{outcome: decision.Outcome{Narrative: "traded, forgot the plan section"}}

	svc := New(healthyAccount(), &fakeCollector{data: snapshotMap("BTC")}, agent, &memExecStore{}, []string{"BTC"}, time.Minute)
	result := svc.RunCycle(context.Background())

	assert.Equal(t, domain.CycleStatusSuccess, result.Status)
	assert.Empty(t, result.NextStrategy)
}

func TestRunCycleForOverridesCurrencies(t *testing.T) {
	collector := &fakeCollector{data: snapshotMap("SOL")}
	agent := &fakeAgent{outcome: decision.Outcome{Narrative: "ok"}}

	svc := New(healthyAccount(), collector, agent, &memExecStore{}, []string{"BTC", "ETH"}, time.Minute)
	result := svc.RunCycleFor(context.Background(), []string{"SOL"})

	assert.Equal(t, []string{"SOL"}, result.Currencies)
	require.Len(t, collector.calls, 1)
	assert.Equal(t, []string{"SOL"}, collector.calls[0])
}
