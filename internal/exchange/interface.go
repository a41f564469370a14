package exchange

import (
	"context"
	"time"
)

// Kline represents a single candlestick.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// OpenInterestPoint 某时刻的未平仓合约量
type OpenInterestPoint struct {
	Timestamp    time.Time
	OpenInterest float64
}

// BalanceEntry is one asset row from the futures account balance endpoint.
type BalanceEntry struct {
	Asset            string
	WalletBalance    float64
	UnrealizedProfit float64
	MarginBalance    float64
	AvailableBalance float64
}

// PositionRisk is the raw per-symbol position state. PositionAmt is signed:
// positive = long, negative = short.
type PositionRisk struct {
	Symbol           string
	PositionAmt      float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	UnrealizedPnL    float64
	Leverage         int
	MarginType       string
	IsolatedWallet   float64
	InitialMargin    float64
}

// Order placement request. StopPrice applies to STOP_MARKET and
// TAKE_PROFIT_MARKET orders only.
type OrderRequest struct {
	Symbol     string
	Side       string // BUY / SELL
	Type       string // MARKET / STOP_MARKET / TAKE_PROFIT_MARKET
	Quantity   float64
	StopPrice  float64
	ReduceOnly bool
}

// OrderAck is the exchange acknowledgement for a placed order.
type OrderAck struct {
	OrderID     int64
	Symbol      string
	Status      string
	AvgPrice    float64
	ExecutedQty float64
}

// OpenOrder is one resting order from the open-orders endpoint.
type OpenOrder struct {
	OrderID   int64
	Symbol    string
	Type      string
	Side      string
	Price     float64
	StopPrice float64
	Quantity  float64
	Status    string
	Time      time.Time
}

// IncomeEntry is one row of the account income history.
type IncomeEntry struct {
	Symbol     string
	IncomeType string
	Income     float64
	Time       time.Time
}

// Exchange abstracts a USDT-M perpetual futures venue.
type Exchange interface {
	// Market data (public)
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)

	// Account (signed)
	Balance(ctx context.Context) ([]BalanceEntry, error)
	PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	IncomeHistory(ctx context.Context, incomeType string, since time.Time, limit int) ([]IncomeEntry, error)

	// Trading (signed)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
