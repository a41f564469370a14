package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"futures_agent/internal/agent/decision"
	"futures_agent/internal/domain"
)

const defaultCycleTimeout = 480 * time.Second

// MarketCollector fans out snapshot fetches over the currency list.
type MarketCollector interface {
	Collect(ctx context.Context, currencies []string) (map[string]domain.AssetSnapshot, []error)
}

// AccountReader is the read side of the position manager.
type AccountReader interface {
	GetBalance(ctx context.Context) (domain.BalanceInfo, error)
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	GetDailyPerformance(ctx context.Context) (domain.DailyPerformance, error)
}

// DecisionAgent produces the cycle's trading decision.
type DecisionAgent interface {
	Decide(ctx context.Context, dc decision.Context) (decision.Outcome, error)
}

// ExecutionStore persists cycle records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, id string, currencies []string, createdAt time.Time) error
	FinalizeExecution(ctx context.Context, result domain.CycleResult) error
	LatestSuccessfulExecution(ctx context.Context) (*domain.CycleResult, error)
}

// Service runs complete trading cycles through the stage machine
// BALANCE_CHECK → COLLECTING → AGGREGATING → DECISION → DONE, with FAILED
// reachable from every stage. One Service instance runs at most one cycle at
// a time; overlap prevention belongs to the trigger layer.
type Service struct {
	account      AccountReader
	collector    MarketCollector
	agent        DecisionAgent
	repo         ExecutionStore
	currencies   []string
	cycleTimeout time.Duration
}

func New(account AccountReader, collector MarketCollector, agent DecisionAgent, repo ExecutionStore, currencies []string, cycleTimeout time.Duration) *Service {
	if cycleTimeout <= 0 {
		cycleTimeout = defaultCycleTimeout
	}
	return &Service{
		account:      account,
		collector:    collector,
		agent:        agent,
		repo:         repo,
		currencies:   currencies,
		cycleTimeout: cycleTimeout,
	}
}

// Currencies returns the configured trading universe.
func (s *Service) Currencies() []string {
	return s.currencies
}

// RunCycle executes one full trading cycle. A failed cycle never escapes this
// boundary: the returned CycleResult always carries the outcome, error
// message included, and the record is persisted either way.
func (s *Service) RunCycle(ctx context.Context) domain.CycleResult {
	return s.RunCycleFor(ctx, s.currencies)
}

// RunCycleFor runs one cycle over an explicit currency list.
func (s *Service) RunCycleFor(ctx context.Context, currencies []string) domain.CycleResult {
	start := time.Now()
	result := domain.CycleResult{
		ID:         uuid.NewString(),
		Status:     domain.CycleStatusRunning,
		Currencies: currencies,
		CreatedAt:  start.UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	log.Printf("[周期] ===== 交易周期开始 id=%s 币种=%v =====", result.ID, currencies)
	if err := s.repo.CreateExecution(ctx, result.ID, currencies, result.CreatedAt); err != nil {
		log.Printf("[周期] ⚠ 创建执行记录失败: %v", err)
	}

	fail := func(stage domain.Stage, err error) domain.CycleResult {
		result.Status = domain.CycleStatusError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.Status = domain.CycleStatusTimeout
		}
		result.ErrorMessage = err.Error()
		result.Duration = time.Since(start).Seconds()
		log.Printf("[周期] ✘ 周期失败 阶段=%s: %v", stage, err)
		s.finalize(result)
		return result
	}

	// BALANCE_CHECK
	log.Printf("[周期] 阶段=%s", domain.StageBalanceCheck)
	balance, err := s.account.GetBalance(ctx)
	if err != nil {
		return fail(domain.StageBalanceCheck, err)
	}
	result.Balance = balance
	if balance.TotalWalletBalance <= 0 {
		return fail(domain.StageBalanceCheck, errors.New("no balance available, nothing to trade"))
	}
	log.Printf("[周期] ✔ 余额检查通过: 钱包余额=%.2f 可用=%.2f",
		balance.TotalWalletBalance, balance.AvailableBalance)

	// COLLECTING + AGGREGATING: fan out per-currency fetches, then wait for
	// exactly one completion event per currency
	log.Printf("[周期] 阶段=%s → %s", domain.StageCollecting, domain.StageAggregating)
	marketData, failures := s.collector.Collect(ctx, currencies)
	result.MarketData = marketData
	for _, ferr := range failures {
		log.Printf("[周期] ⚠ 部分行情缺失: %v", ferr)
	}

	positions, err := s.account.GetOpenPositions(ctx)
	if err != nil {
		log.Printf("[周期] ⚠ 持仓读取失败，按空持仓继续: %v", err)
		positions = nil
	}
	result.Positions = positions

	dailyPnL, err := s.account.GetDailyPerformance(ctx)
	if err != nil {
		log.Printf("[周期] ⚠ 当日绩效读取失败，按零继续: %v", err)
	}
	result.DailyPnL = dailyPnL

	// 上一轮成功周期的策略作为决策记忆
	var prevStrategy string
	var prevStrategyAt time.Time
	if prev, err := s.repo.LatestSuccessfulExecution(ctx); err != nil {
		log.Printf("[周期] ⚠ 读取上一轮策略失败: %v", err)
	} else if prev != nil {
		prevStrategy = prev.NextStrategy
		prevStrategyAt = prev.CreatedAt
	}

	// DECISION
	log.Printf("[周期] 阶段=%s 可用行情=%d/%d 持仓=%d",
		domain.StageDecision, len(marketData), len(currencies), len(positions))
	outcome, err := s.agent.Decide(ctx, decision.Context{
		ExecutionID:        result.ID,
		Currencies:         currencies,
		Balance:            balance,
		MarketData:         marketData,
		Positions:          positions,
		DailyPnL:           dailyPnL,
		Now:                time.Now().UTC(),
		PreviousStrategy:   prevStrategy,
		PreviousStrategyAt: prevStrategyAt,
	})
	result.SystemPrompt = outcome.SystemPrompt
	if err != nil {
		return fail(domain.StageDecision, err)
	}
	result.Narrative = outcome.Narrative

	// DONE
	result.NextStrategy = decision.ExtractStrategy(outcome.Narrative)
	if result.NextStrategy == "" {
		log.Printf("[周期] ⚠ 决策响应缺少 Strategy for Next Execution 段落")
	}
	result.Status = domain.CycleStatusSuccess
	result.Duration = time.Since(start).Seconds()
	log.Printf("[周期] ✔ 周期完成 id=%s 耗时=%.1fs 工具调用=%d 迭代=%d",
		result.ID, result.Duration, outcome.ToolCalls, outcome.Iterations)

	s.finalize(result)
	return result
}

// finalize persists the record detached from the cycle deadline so a timed
// out cycle still gets written.
func (s *Service) finalize(result domain.CycleResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.FinalizeExecution(ctx, result); err != nil {
		log.Printf("[周期] ✘ 保存执行记录失败 id=%s: %v", result.ID, err)
	}
}
