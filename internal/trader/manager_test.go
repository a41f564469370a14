package trader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures_agent/internal/domain"
	"futures_agent/internal/exchange"
)

// scriptedExchange records calls and fails on demand per order type.
type scriptedExchange struct {
	placed      []exchange.OrderRequest
	failTypes   map[string]error // order type -> injected error
	positionAmt map[string]float64
	incomes     []exchange.IncomeEntry
	incomeErr   error
	openOrders  []exchange.OpenOrder
	canceled    []string
	leverageSet map[string]int
	leverageErr error
	nextOrderID int64
}

func newScriptedExchange() *scriptedExchange {
	return &scriptedExchange{
		failTypes:   map[string]error{},
		positionAmt: map[string]float64{},
		leverageSet: map[string]int{},
		nextOrderID: 1000,
	}
}

func (s *scriptedExchange) TickerPrice(context.Context, string) (float64, error) { return 0, nil }
func (s *scriptedExchange) Klines(context.Context, string, string, int) ([]exchange.Kline, error) {
	return nil, nil
}
func (s *scriptedExchange) OpenInterestHist(context.Context, string, string, int) ([]exchange.OpenInterestPoint, error) {
	return nil, nil
}
func (s *scriptedExchange) FundingRate(context.Context, string) (float64, error) { return 0, nil }
func (s *scriptedExchange) Balance(context.Context) ([]exchange.BalanceEntry, error) {
	return []exchange.BalanceEntry{
		{Asset: "USDT", WalletBalance: 1000, UnrealizedProfit: 50, MarginBalance: 1050, AvailableBalance: 800},
		{Asset: "BNB", WalletBalance: 0, MarginBalance: 0},
	}, nil
}

func (s *scriptedExchange) PositionRisk(_ context.Context, symbol string) ([]exchange.PositionRisk, error) {
	var out []exchange.PositionRisk
	for sym, amt := range s.positionAmt {
		if symbol != "" && sym != symbol {
			continue
		}
		out = append(out, exchange.PositionRisk{
			Symbol: sym, PositionAmt: amt, EntryPrice: 100, MarkPrice: 105,
			UnrealizedPnL: amt * 5, Leverage: 10, MarginType: "cross",
		})
	}
	if symbol != "" && len(out) == 0 {
		out = append(out, exchange.PositionRisk{Symbol: symbol})
	}
	return out, nil
}

func (s *scriptedExchange) OpenOrders(context.Context, string) ([]exchange.OpenOrder, error) {
	return s.openOrders, nil
}

func (s *scriptedExchange) IncomeHistory(context.Context, string, time.Time, int) ([]exchange.IncomeEntry, error) {
	return s.incomes, s.incomeErr
}

func (s *scriptedExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if err := s.failTypes[req.Type]; err != nil {
		return exchange.OrderAck{}, &domain.ExchangeError{Op: "place_order", Err: err}
	}
	s.placed = append(s.placed, req)
	s.nextOrderID++
	return exchange.OrderAck{OrderID: s.nextOrderID, Symbol: req.Symbol, Status: "FILLED"}, nil
}

func (s *scriptedExchange) CancelAllOrders(_ context.Context, symbol string) error {
	s.canceled = append(s.canceled, symbol)
	return nil
}

func (s *scriptedExchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if s.leverageErr != nil {
		return s.leverageErr
	}
	s.leverageSet[symbol] = leverage
	return nil
}

func TestOpenWithoutStopLoss(t *testing.T) {
	ex := newScriptedExchange()
	m := NewManager(ex)

	for _, open := range []func(context.Context, OpenRequest) (domain.TradeResult, error){
		m.OpenLong, m.OpenShort,
	} {
		_, err := open(context.Background(), OpenRequest{
			Currency: "BTC", Quantity: 0.5, Leverage: 10,
		})
		require.Error(t, err)

		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "stop_loss_price", vErr.Field)
	}
	// rejected before any remote call
	assert.Empty(t, ex.placed)
	assert.Empty(t, ex.leverageSet)
}

func TestOpenLongPlacesProtectiveOrders(t *testing.T) {
	ex := newScriptedExchange()
	m := NewManager(ex)

	result, err := m.OpenLong(context.Background(), OpenRequest{
		Currency:        "BTC",
		Quantity:        0.5,
		Leverage:        10,
		StopLossPrice:   60000,
		TakeProfitPrice: 70000,
	})
	require.NoError(t, err)

	require.Len(t, ex.placed, 3)
	assert.Equal(t, 10, ex.leverageSet["BTCUSDT"])

	entry := ex.placed[0]
	assert.Equal(t, "MARKET", entry.Type)
	assert.Equal(t, "BUY", entry.Side)
	assert.False(t, entry.ReduceOnly)

	stop := ex.placed[1]
	assert.Equal(t, "STOP_MARKET", stop.Type)
	assert.Equal(t, "SELL", stop.Side)
	assert.Equal(t, 60000.0, stop.StopPrice)
	assert.True(t, stop.ReduceOnly)

	tp := ex.placed[2]
	assert.Equal(t, "TAKE_PROFIT_MARKET", tp.Type)
	assert.Equal(t, "SELL", tp.Side)
	assert.True(t, tp.ReduceOnly)

	assert.Equal(t, "LONG", result.Side)
	assert.NotZero(t, result.MainOrderID)
	assert.NotZero(t, result.StopLossOrderID)
	assert.NotZero(t, result.TakeProfitOrderID)
}

func TestOpenShortSides(t *testing.T) {
	ex := newScriptedExchange()
	m := NewManager(ex)

	result, err := m.OpenShort(context.Background(), OpenRequest{
		Currency: "ETH", Quantity: 2, StopLossPrice: 3500,
	})
	require.NoError(t, err)
	require.Len(t, ex.placed, 2)
	assert.Equal(t, "SELL", ex.placed[0].Side)
	assert.Equal(t, "BUY", ex.placed[1].Side)
	assert.Equal(t, "SHORT", result.Side)
	// no leverage requested, exchange default untouched
	assert.Empty(t, ex.leverageSet)
}

func TestStopLossFailureIsUnprotected(t *testing.T) {
	ex := newScriptedExchange()
	ex.failTypes["STOP_MARKET"] = fmt.Errorf("insufficient margin")
	m := NewManager(ex)

	_, err := m.OpenLong(context.Background(), OpenRequest{
		Currency: "BTC", Quantity: 0.5, StopLossPrice: 60000,
	})
	require.Error(t, err)

	var unprotected *domain.UnprotectedPositionError
	require.True(t, errors.As(err, &unprotected), "must be UnprotectedPositionError")
	assert.Equal(t, "BTCUSDT", unprotected.Symbol)
	assert.NotZero(t, unprotected.EntryOrderID)

	// the entry filled, so this is NOT a plain exchange failure path
	var exchErr *domain.ExchangeError
	require.True(t, errors.As(err, &exchErr), "wraps the underlying exchange error")
	require.Len(t, ex.placed, 1)
	assert.Equal(t, "MARKET", ex.placed[0].Type)
}

func TestTakeProfitFailureDegrades(t *testing.T) {
	ex := newScriptedExchange()
	ex.failTypes["TAKE_PROFIT_MARKET"] = fmt.Errorf("price out of range")
	m := NewManager(ex)

	result, err := m.OpenLong(context.Background(), OpenRequest{
		Currency: "BTC", Quantity: 0.5, StopLossPrice: 60000, TakeProfitPrice: 70000,
	})
	require.NoError(t, err)
	assert.NotZero(t, result.StopLossOrderID)
	assert.Zero(t, result.TakeProfitOrderID)
	assert.Zero(t, result.TakeProfitPrice)
}

func TestLeverageRangeValidation(t *testing.T) {
	ex := newScriptedExchange()
	m := NewManager(ex)

	for _, leverage := range []int{-1, 126, 500} {
		_, err := m.OpenLong(context.Background(), OpenRequest{
			Currency: "BTC", Quantity: 1, Leverage: leverage, StopLossPrice: 100,
		})
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr), "leverage %d", leverage)
		assert.Equal(t, "leverage", vErr.Field)
	}
	assert.Empty(t, ex.placed)

	require.Error(t, m.SetLeverage(context.Background(), "BTC", 200))
	require.NoError(t, m.SetLeverage(context.Background(), "BTC", 20))
	assert.Equal(t, 20, ex.leverageSet["BTCUSDT"])
}

func TestLeverageSetFailureDoesNotBlockEntry(t *testing.T) {
	ex := newScriptedExchange()
	ex.leverageErr = fmt.Errorf("leverage locked")
	m := NewManager(ex)

	_, err := m.OpenLong(context.Background(), OpenRequest{
		Currency: "BTC", Quantity: 0.5, Leverage: 10, StopLossPrice: 60000,
	})
	require.NoError(t, err)
	require.Len(t, ex.placed, 2)
}

func TestCloseNoPosition(t *testing.T) {
	ex := newScriptedExchange()
	m := NewManager(ex)

	result, err := m.ClosePosition(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, domain.CloseStatusNoPosition, result.Status)
	assert.Empty(t, ex.placed, "no order calls for a flat symbol")
}

func TestClosePositionSides(t *testing.T) {
	tests := []struct {
		name     string
		amt      float64
		wantSide string
		wantQty  float64
	}{
		{"long closes with SELL", 1.5, "SELL", 1.5},
		{"short closes with BUY", -2.25, "BUY", 2.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newScriptedExchange()
			ex.positionAmt["BTCUSDT"] = tt.amt
			m := NewManager(ex)

			result, err := m.ClosePosition(context.Background(), "BTC")
			require.NoError(t, err)
			assert.Equal(t, domain.CloseStatusClosed, result.Status)
			assert.Equal(t, tt.wantSide, result.Side)
			assert.Equal(t, tt.wantQty, result.Quantity)

			require.Len(t, ex.placed, 1)
			assert.Equal(t, "MARKET", ex.placed[0].Type)
			assert.True(t, ex.placed[0].ReduceOnly)
			assert.Equal(t, tt.wantQty, ex.placed[0].Quantity)
		})
	}
}

func TestDailyPerformance(t *testing.T) {
	ex := newScriptedExchange()
	for _, income := range []float64{10, -5, 20, -2} {
		ex.incomes = append(ex.incomes, exchange.IncomeEntry{
			IncomeType: "REALIZED_PNL", Income: income,
		})
	}
	ex.positionAmt["ETHUSDT"] = 2 // unrealized = 2*5 = 10

	m := NewManager(ex)
	perf, err := m.GetDailyPerformance(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 23, perf.RealizedPnL, 1e-9)
	assert.Equal(t, 4, perf.TradeCount)
	assert.Equal(t, 2, perf.WinningTrades)
	assert.Equal(t, 2, perf.LosingTrades)
	assert.InDelta(t, 50, perf.WinRate, 1e-9)
	assert.InDelta(t, 10, perf.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 33, perf.TotalPnL, 1e-9)
}

func TestDailyPerformanceDegradesOnIncomeFailure(t *testing.T) {
	ex := newScriptedExchange()
	ex.incomeErr = fmt.Errorf("income endpoint down")
	m := NewManager(ex)

	perf, err := m.GetDailyPerformance(context.Background())
	require.NoError(t, err)
	assert.Zero(t, perf.RealizedPnL)
	assert.Zero(t, perf.TradeCount)
	assert.Zero(t, perf.WinRate)
}

func TestGetOpenPositionsClassification(t *testing.T) {
	ex := newScriptedExchange()
	ex.positionAmt["BTCUSDT"] = 0.5
	ex.openOrders = []exchange.OpenOrder{
		{OrderID: 1, Type: "STOP_MARKET", Side: "SELL", StopPrice: 60000},
		{OrderID: 2, Type: "TAKE_PROFIT_MARKET", Side: "SELL", StopPrice: 70000},
		{OrderID: 3, Type: "LIMIT", Side: "BUY", Price: 58000},
	}
	m := NewManager(ex)

	positions, err := m.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "LONG", p.Side)
	require.Len(t, p.StopLossOrders, 1)
	require.Len(t, p.TakeProfitOrders, 1)
	require.Len(t, p.LimitOrders, 1)
	assert.Equal(t, 3, p.TotalOrders)
	assert.Equal(t, int64(1), p.StopLossOrders[0].OrderID)
}

func TestCancelAllOpenOrders(t *testing.T) {
	t.Run("single currency", func(t *testing.T) {
		ex := newScriptedExchange()
		m := NewManager(ex)

		require.NoError(t, m.CancelAllOpenOrders(context.Background(), "BTC"))
		assert.Equal(t, []string{"BTCUSDT"}, ex.canceled)
	})

	t.Run("empty currency cancels every symbol with open orders", func(t *testing.T) {
		ex := newScriptedExchange()
		ex.openOrders = []exchange.OpenOrder{
			{OrderID: 1, Symbol: "BTCUSDT", Type: "STOP_MARKET"},
			{OrderID: 2, Symbol: "ETHUSDT", Type: "LIMIT"},
			{OrderID: 3, Symbol: "BTCUSDT", Type: "TAKE_PROFIT_MARKET"},
		}
		m := NewManager(ex)

		require.NoError(t, m.CancelAllOpenOrders(context.Background(), ""))
		// one cancel per distinct symbol
		assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, ex.canceled)
	})

	t.Run("no open orders anywhere is a no-op", func(t *testing.T) {
		ex := newScriptedExchange()
		m := NewManager(ex)

		require.NoError(t, m.CancelAllOpenOrders(context.Background(), ""))
		assert.Empty(t, ex.canceled)
	})
}

func TestGetBalanceSkipsEmptyAssets(t *testing.T) {
	m := NewManager(newScriptedExchange())
	info, err := m.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, info.Assets, 1)
	assert.Equal(t, "USDT", info.Assets[0].Asset)
	assert.Equal(t, 1000.0, info.TotalWalletBalance)
	assert.Equal(t, 1050.0, info.TotalMarginBalance)
	assert.Equal(t, 50.0, info.TotalUnrealizedPnL)
}
