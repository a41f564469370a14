package domain

import "time"

type CycleStatus string

const (
	CycleStatusRunning CycleStatus = "RUNNING"
	CycleStatusSuccess CycleStatus = "SUCCESS"
	CycleStatusError   CycleStatus = "ERROR"
	CycleStatusTimeout CycleStatus = "TIMEOUT"
)

// Stage 周期状态机的各个阶段
type Stage string

const (
	StageBalanceCheck Stage = "BALANCE_CHECK"
	StageCollecting   Stage = "COLLECTING"
	StageAggregating  Stage = "AGGREGATING"
	StageDecision     Stage = "DECISION"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// AssetSnapshot holds all market data and indicator values for one currency
// in a single cycle. It is immutable once produced; the zero value means the
// fetch failed (all-or-nothing, never partially populated).
type AssetSnapshot struct {
	Currency     string  `json:"currency"`
	CurrentPrice float64 `json:"current_price"`

	// Current indicator values from the short timeframe
	CurrentEMAFast  float64 `json:"current_ema_fast"`  // EMA(9)
	CurrentMACD     float64 `json:"current_macd"`      // MACD(12,26,9) line
	CurrentRSIShort float64 `json:"current_rsi_short"` // RSI(7)

	// Perpetual futures metrics
	OILatest    float64 `json:"oi_latest"`
	OIAverage   float64 `json:"oi_average"`
	FundingRate float64 `json:"funding_rate"` // percent

	// Short-timeframe tail series (last 10 points)
	IntradayLabel  string    `json:"intraday_interval_label"` // "1H"
	Prices         []float64 `json:"mid_prices"`
	EMASeries      []float64 `json:"ema_series"`
	MACDSeries     []float64 `json:"macd_series"`
	RSIShortSeries []float64 `json:"rsi_short_series"`
	RSILongSeries  []float64 `json:"rsi_long_series"`

	// Long-timeframe context
	LongTFLabel     string    `json:"long_tf_label"` // "1D"
	EMAFastLong     float64   `json:"ema_fast_long"` // EMA(9)
	EMASlowLong     float64   `json:"ema_slow_long"` // EMA(21)
	ATRFast         float64   `json:"atr_fast"`      // ATR(14)
	ATRSlow         float64   `json:"atr_slow"`      // ATR(28)
	CurrentVolume   float64   `json:"current_volume"`
	AverageVolume   float64   `json:"average_volume"`
	MACDLongSeries  []float64 `json:"macd_long_series"`
	RSILongSeriesLT []float64 `json:"rsi_long_series_longtf"`

	Timestamp time.Time `json:"timestamp"`
}

// Empty reports whether the snapshot is the zero-value failure marker.
func (s AssetSnapshot) Empty() bool {
	return s.CurrentPrice == 0 && len(s.Prices) == 0
}

// AssetBalance 合约账户单个资产的余额
type AssetBalance struct {
	Asset            string  `json:"asset"`
	WalletBalance    float64 `json:"wallet_balance"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	MarginBalance    float64 `json:"margin_balance"`
	AvailableBalance float64 `json:"available_balance"`
}

// BalanceInfo 合约账户余额快照
type BalanceInfo struct {
	TotalWalletBalance float64        `json:"total_wallet_balance"`
	TotalMarginBalance float64        `json:"total_margin_balance"`
	AvailableBalance   float64        `json:"available_balance"`
	TotalUnrealizedPnL float64        `json:"total_unrealized_pnl"`
	Assets             []AssetBalance `json:"assets"`
}

// OrderInfo describes a single resting or executed order on the exchange.
type OrderInfo struct {
	OrderID   int64     `json:"order_id"`
	Type      string    `json:"type"` // MARKET / STOP_MARKET / TAKE_PROFIT_MARKET / LIMIT
	Side      string    `json:"side"` // BUY / SELL
	Price     float64   `json:"price"`
	StopPrice float64   `json:"stop_price"`
	Quantity  float64   `json:"quantity"`
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
}

// Position is a live open futures position, rebuilt from exchange state every
// cycle and never cached across cycles. Quantity is signed: positive = long,
// negative = short.
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"position_amount"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Leverage         int     `json:"leverage"`
	Side             string  `json:"side"` // LONG / SHORT
	MarginType       string  `json:"margin_type"`
	IsolatedWallet   float64 `json:"isolated_wallet"`
	InitialMargin    float64 `json:"position_initial_margin"`

	// Resting orders for this symbol, classified by type
	StopLossOrders   []OrderInfo `json:"stop_loss_orders"`
	TakeProfitOrders []OrderInfo `json:"take_profit_orders"`
	LimitOrders      []OrderInfo `json:"limit_orders"`
	TotalOrders      int         `json:"total_orders"`
}

// DailyPerformance 当日绩效（UTC 零点以来），每周期重新计算，不做增量累积
type DailyPerformance struct {
	RealizedPnL   float64 `json:"daily_realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_daily_pnl"`
	TradeCount    int     `json:"trade_count"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent
}

// TradeResult bundles the order ids produced by opening a position.
type TradeResult struct {
	Symbol            string  `json:"symbol"`
	Side              string  `json:"side"` // LONG / SHORT
	Quantity          float64 `json:"quantity"`
	MainOrderID       int64   `json:"main_order_id"`
	StopLossOrderID   int64   `json:"stop_loss_order_id,omitempty"`
	StopLossPrice     float64 `json:"stop_loss_price"`
	TakeProfitOrderID int64   `json:"take_profit_order_id,omitempty"`
	TakeProfitPrice   float64 `json:"take_profit_price,omitempty"`
}

// CloseResult is the outcome of a close-position request.
type CloseResult struct {
	Status   string  `json:"status"` // CLOSED / NO_POSITION
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side,omitempty"` // 平仓方向 BUY / SELL
	Quantity float64 `json:"quantity,omitempty"`
	OrderID  int64   `json:"order_id,omitempty"`
}

const (
	CloseStatusClosed     = "CLOSED"
	CloseStatusNoPosition = "NO_POSITION"
)

// CycleResult 单个交易周期的完整结果，交给持久化层后即归其所有
type CycleResult struct {
	ID           string                   `json:"id"`
	Status       CycleStatus              `json:"status"`
	Currencies   []string                 `json:"currencies"`
	Balance      BalanceInfo              `json:"balance_info"`
	MarketData   map[string]AssetSnapshot `json:"market_data"`
	Positions    []Position               `json:"open_positions"`
	DailyPnL     DailyPerformance         `json:"daily_pnl"`
	SystemPrompt string                   `json:"system_prompt,omitempty"`
	Narrative    string                   `json:"agent_response,omitempty"`
	NextStrategy string                   `json:"strategy_for_next_execution,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	Duration     float64                  `json:"execution_duration"` // 秒
	CreatedAt    time.Time                `json:"created_at"`
}

type OperationType string

const (
	OperationOpenLong      OperationType = "OPEN_LONG"
	OperationOpenShort     OperationType = "OPEN_SHORT"
	OperationClosePosition OperationType = "CLOSE_POSITION"
)

type OperationStatus string

const (
	OperationPending OperationStatus = "PENDING"
	OperationSuccess OperationStatus = "SUCCESS"
	OperationError   OperationStatus = "ERROR"
)

// Operation 记录决策代理发起的单次交易操作（开多/开空/平仓）
type Operation struct {
	ID                string          `json:"id"`
	ExecutionID       string          `json:"execution_id"`
	Type              OperationType   `json:"operation_type"`
	Status            OperationStatus `json:"status"`
	Currency          string          `json:"currency"`
	Quantity          float64         `json:"quantity,omitempty"`
	Leverage          int             `json:"leverage,omitempty"`
	StopLossPrice     float64         `json:"stop_loss_price,omitempty"`
	TakeProfitPrice   float64         `json:"take_profit_price,omitempty"`
	MainOrderID       int64           `json:"main_order_id,omitempty"`
	StopLossOrderID   int64           `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID int64           `json:"take_profit_order_id,omitempty"`
	ResultData        string          `json:"result_data,omitempty"` // 原始 JSON
	ErrorMessage      string          `json:"error_message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
