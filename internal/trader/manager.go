package trader

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"futures_agent/internal/domain"
	"futures_agent/internal/exchange"
)

const (
	// MinNotionalUSDT 最小开仓名义价值：数量 × 价格 × 杠杆 ≥ 100 USDT
	MinNotionalUSDT = 100.0
	MinLeverage     = 1
	MaxLeverage     = 125

	incomeTypeRealizedPnL = "REALIZED_PNL"
	incomeFetchLimit      = 100
)

// Manager owns account reads and risk-managed order execution. Positions are
// rebuilt from exchange state on every call and never cached.
type Manager struct {
	ex exchange.Exchange
}

func NewManager(ex exchange.Exchange) *Manager {
	return &Manager{ex: ex}
}

// OpenRequest describes a long or short entry. StopLossPrice is mandatory;
// TakeProfitPrice and Leverage are optional (zero means unset).
type OpenRequest struct {
	Currency        string
	Quantity        float64
	Leverage        int
	StopLossPrice   float64
	TakeProfitPrice float64
}

// GetBalance returns the aggregated futures account balance.
func (m *Manager) GetBalance(ctx context.Context) (domain.BalanceInfo, error) {
	entries, err := m.ex.Balance(ctx)
	if err != nil {
		return domain.BalanceInfo{}, err
	}

	info := domain.BalanceInfo{}
	for _, e := range entries {
		if e.WalletBalance == 0 && e.MarginBalance == 0 {
			continue
		}
		info.Assets = append(info.Assets, domain.AssetBalance{
			Asset:            e.Asset,
			WalletBalance:    e.WalletBalance,
			UnrealizedProfit: e.UnrealizedProfit,
			MarginBalance:    e.MarginBalance,
			AvailableBalance: e.AvailableBalance,
		})
		info.TotalWalletBalance += e.WalletBalance
		info.TotalMarginBalance += e.MarginBalance
		info.AvailableBalance += e.AvailableBalance
		info.TotalUnrealizedPnL += e.UnrealizedProfit
	}
	return info, nil
}

// GetOpenPositions returns all live positions enriched with their resting
// orders classified into stop-loss, take-profit and other-limit buckets.
// A failed open-orders read degrades to empty buckets with a warning.
func (m *Manager) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	risks, err := m.ex.PositionRisk(ctx, "")
	if err != nil {
		return nil, err
	}

	var positions []domain.Position
	for _, r := range risks {
		if r.PositionAmt == 0 {
			continue
		}
		side := "LONG"
		if r.PositionAmt < 0 {
			side = "SHORT"
		}
		p := domain.Position{
			Symbol:           r.Symbol,
			PositionAmt:      r.PositionAmt,
			EntryPrice:       r.EntryPrice,
			MarkPrice:        r.MarkPrice,
			LiquidationPrice: r.LiquidationPrice,
			UnrealizedPnL:    r.UnrealizedPnL,
			Leverage:         r.Leverage,
			Side:             side,
			MarginType:       r.MarginType,
			IsolatedWallet:   r.IsolatedWallet,
			InitialMargin:    r.InitialMargin,
		}

		orders, err := m.ex.OpenOrders(ctx, r.Symbol)
		if err != nil {
			log.Printf("[持仓] ⚠ %s 挂单读取失败，按无挂单处理: %v", r.Symbol, err)
		} else {
			classifyOrders(&p, orders)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func classifyOrders(p *domain.Position, orders []exchange.OpenOrder) {
	for _, o := range orders {
		info := domain.OrderInfo{
			OrderID:   o.OrderID,
			Type:      o.Type,
			Side:      o.Side,
			Price:     o.Price,
			StopPrice: o.StopPrice,
			Quantity:  o.Quantity,
			Status:    o.Status,
			Time:      o.Time,
		}
		switch o.Type {
		case "STOP_MARKET", "STOP":
			p.StopLossOrders = append(p.StopLossOrders, info)
		case "TAKE_PROFIT_MARKET", "TAKE_PROFIT":
			p.TakeProfitOrders = append(p.TakeProfitOrders, info)
		default:
			p.LimitOrders = append(p.LimitOrders, info)
		}
	}
	p.TotalOrders = len(orders)
}

// GetDailyPerformance computes realized PnL since UTC midnight plus the
// current unrealized snapshot. A failed income read degrades to zeros.
func (m *Manager) GetDailyPerformance(ctx context.Context) (domain.DailyPerformance, error) {
	perf := domain.DailyPerformance{}

	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	incomes, err := m.ex.IncomeHistory(ctx, incomeTypeRealizedPnL, midnight, incomeFetchLimit)
	if err != nil {
		log.Printf("[绩效] ⚠ 当日收益读取失败，按零处理: %v", err)
	} else {
		for _, inc := range incomes {
			perf.RealizedPnL += inc.Income
			perf.TradeCount++
			if inc.Income > 0 {
				perf.WinningTrades++
			} else if inc.Income < 0 {
				perf.LosingTrades++
			}
		}
		if perf.TradeCount > 0 {
			perf.WinRate = float64(perf.WinningTrades) / float64(perf.TradeCount) * 100
		}
	}

	positions, err := m.GetOpenPositions(ctx)
	if err != nil {
		log.Printf("[绩效] ⚠ 持仓读取失败，未实现盈亏按零处理: %v", err)
	} else {
		for _, p := range positions {
			perf.UnrealizedPnL += p.UnrealizedPnL
		}
	}
	perf.TotalPnL = perf.RealizedPnL + perf.UnrealizedPnL
	return perf, nil
}

// OpenLong opens a leveraged long with a mandatory stop-loss.
func (m *Manager) OpenLong(ctx context.Context, req OpenRequest) (domain.TradeResult, error) {
	return m.open(ctx, req, "BUY")
}

// OpenShort opens a leveraged short with a mandatory stop-loss.
func (m *Manager) OpenShort(ctx context.Context, req OpenRequest) (domain.TradeResult, error) {
	return m.open(ctx, req, "SELL")
}

// open validates, sets leverage, places the entry market order, then the
// mandatory STOP_MARKET and the optional TAKE_PROFIT_MARKET. Validation
// happens before any remote call; a stop-loss failure after a filled entry is
// an UnprotectedPositionError, never a plain ExchangeError.
func (m *Manager) open(ctx context.Context, req OpenRequest, entrySide string) (domain.TradeResult, error) {
	if req.StopLossPrice <= 0 {
		return domain.TradeResult{}, &domain.ValidationError{
			Field:  "stop_loss_price",
			Reason: "stop-loss is mandatory for every new position",
		}
	}
	if req.Quantity <= 0 {
		return domain.TradeResult{}, &domain.ValidationError{
			Field:  "quantity",
			Reason: "must be positive",
		}
	}
	if req.Leverage != 0 && (req.Leverage < MinLeverage || req.Leverage > MaxLeverage) {
		return domain.TradeResult{}, &domain.ValidationError{
			Field:  "leverage",
			Reason: fmt.Sprintf("must be between %d and %d", MinLeverage, MaxLeverage),
		}
	}

	symbol := currencyToSymbol(req.Currency)
	side := "LONG"
	exitSide := "SELL"
	if entrySide == "SELL" {
		side = "SHORT"
		exitSide = "BUY"
	}

	// 杠杆设置失败不阻断开仓，沿用交易所当前杠杆
	if req.Leverage != 0 {
		if err := m.ex.SetLeverage(ctx, symbol, req.Leverage); err != nil {
			log.Printf("[交易] ⚠ %s 杠杆设置失败，沿用现有杠杆: %v", symbol, err)
		}
	}

	entry, err := m.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     entrySide,
		Type:     "MARKET",
		Quantity: req.Quantity,
	})
	if err != nil {
		return domain.TradeResult{}, err
	}
	log.Printf("[交易] ✔ %s %s 入场成功: 数量=%.6f 订单=%d", side, symbol, req.Quantity, entry.OrderID)

	stop, err := m.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       exitSide,
		Type:       "STOP_MARKET",
		Quantity:   req.Quantity,
		StopPrice:  req.StopLossPrice,
		ReduceOnly: true,
	})
	if err != nil {
		log.Printf("[交易] ✘ %s 止损单失败，持仓无保护！入场订单=%d: %v", symbol, entry.OrderID, err)
		return domain.TradeResult{}, &domain.UnprotectedPositionError{
			Symbol:       symbol,
			EntryOrderID: entry.OrderID,
			Err:          err,
		}
	}

	result := domain.TradeResult{
		Symbol:          symbol,
		Side:            side,
		Quantity:        req.Quantity,
		MainOrderID:     entry.OrderID,
		StopLossOrderID: stop.OrderID,
		StopLossPrice:   req.StopLossPrice,
	}

	if req.TakeProfitPrice > 0 {
		tp, err := m.ex.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     symbol,
			Side:       exitSide,
			Type:       "TAKE_PROFIT_MARKET",
			Quantity:   req.Quantity,
			StopPrice:  req.TakeProfitPrice,
			ReduceOnly: true,
		})
		if err != nil {
			log.Printf("[交易] ⚠ %s 止盈单失败，仅保留止损保护: %v", symbol, err)
		} else {
			result.TakeProfitOrderID = tp.OrderID
			result.TakeProfitPrice = req.TakeProfitPrice
		}
	}

	log.Printf("[交易] ✔ %s %s 开仓完成: 入场=%d 止损=%d 止盈=%d",
		side, symbol, result.MainOrderID, result.StopLossOrderID, result.TakeProfitOrderID)
	return result, nil
}

// ClosePosition flattens the net position for a currency with an opposite
// side reduce-only market order. Zero net quantity returns NO_POSITION
// without touching the exchange again.
func (m *Manager) ClosePosition(ctx context.Context, currency string) (domain.CloseResult, error) {
	symbol := currencyToSymbol(currency)

	risks, err := m.ex.PositionRisk(ctx, symbol)
	if err != nil {
		return domain.CloseResult{}, err
	}

	var amt float64
	for _, r := range risks {
		if r.Symbol == symbol {
			amt = r.PositionAmt
			break
		}
	}
	if amt == 0 {
		log.Printf("[交易] %s 无持仓，跳过平仓", symbol)
		return domain.CloseResult{Status: domain.CloseStatusNoPosition, Symbol: symbol}, nil
	}

	side := "SELL"
	if amt < 0 {
		side = "BUY"
	}
	qty := math.Abs(amt)

	ack, err := m.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       "MARKET",
		Quantity:   qty,
		ReduceOnly: true,
	})
	if err != nil {
		return domain.CloseResult{}, err
	}

	log.Printf("[交易] ✔ %s 平仓成功: %s 数量=%.6f 订单=%d", symbol, side, qty, ack.OrderID)
	return domain.CloseResult{
		Status:   domain.CloseStatusClosed,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		OrderID:  ack.OrderID,
	}, nil
}

// SetLeverage changes the leverage for a currency after range validation.
func (m *Manager) SetLeverage(ctx context.Context, currency string, leverage int) error {
	if leverage < MinLeverage || leverage > MaxLeverage {
		return &domain.ValidationError{
			Field:  "leverage",
			Reason: fmt.Sprintf("must be between %d and %d", MinLeverage, MaxLeverage),
		}
	}
	return m.ex.SetLeverage(ctx, currencyToSymbol(currency), leverage)
}

// CancelAllOpenOrders cancels resting orders for one currency. An empty
// currency cancels across every symbol that has open orders.
func (m *Manager) CancelAllOpenOrders(ctx context.Context, currency string) error {
	if currency != "" {
		return m.ex.CancelAllOrders(ctx, currencyToSymbol(currency))
	}

	orders, err := m.ex.OpenOrders(ctx, "")
	if err != nil {
		return err
	}
	symbols := map[string]bool{}
	for _, o := range orders {
		symbols[o.Symbol] = true
	}
	for symbol := range symbols {
		if err := m.ex.CancelAllOrders(ctx, symbol); err != nil {
			return err
		}
	}
	log.Printf("[交易] ✔ 已撤销 %d 个交易对的全部挂单", len(symbols))
	return nil
}

func currencyToSymbol(currency string) string {
	return currency + "USDT"
}
