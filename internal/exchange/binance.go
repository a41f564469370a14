package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"futures_agent/internal/domain"
)

const defaultFuturesBaseURL = "https://fapi.binance.com"

// BinanceFutures talks to the Binance USDT-M perpetual futures REST API.
type BinanceFutures struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	secretKey string
}

// NewBinanceFutures creates a futures client. baseURL may be empty for the
// production endpoint; pass the testnet URL for paper trading.
func NewBinanceFutures(baseURL, apiKey, secretKey string) *BinanceFutures {
	if baseURL == "" {
		baseURL = defaultFuturesBaseURL
	}
	return &BinanceFutures{
		http:      &http.Client{Timeout: 15 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		secretKey: secretKey,
	}
}

// ---- market data (public endpoints) ----

// TickerPrice returns the latest mark price for a symbol.
func (b *BinanceFutures) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var result struct {
		Price string `json:"price"`
	}
	q := url.Values{"symbol": {symbol}}
	if err := b.getPublic(ctx, "/fapi/v1/ticker/price", q, &result); err != nil {
		return 0, &domain.ExchangeError{Op: "ticker_price", Err: err}
	}
	p, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, &domain.ExchangeError{Op: "ticker_price", Err: err}
	}
	return p, nil
}

// Klines fetches candlesticks for the given interval.
func (b *BinanceFutures) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	var raw [][]json.RawMessage
	if err := b.getPublic(ctx, "/fapi/v1/klines", q, &raw); err != nil {
		return nil, &domain.ExchangeError{Op: "klines", Err: err}
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:  msToTime(row[0]),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			CloseTime: msToTime(row[6]),
		})
	}
	return klines, nil
}

// OpenInterestHist fetches the historical open interest series.
func (b *BinanceFutures) OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error) {
	q := url.Values{
		"symbol": {symbol},
		"period": {period},
		"limit":  {strconv.Itoa(limit)},
	}
	var raw []struct {
		SumOpenInterest string `json:"sumOpenInterest"`
		Timestamp       int64  `json:"timestamp"`
	}
	if err := b.getPublic(ctx, "/futures/data/openInterestHist", q, &raw); err != nil {
		return nil, &domain.ExchangeError{Op: "open_interest_hist", Err: err}
	}

	points := make([]OpenInterestPoint, 0, len(raw))
	for _, r := range raw {
		oi, _ := strconv.ParseFloat(r.SumOpenInterest, 64)
		points = append(points, OpenInterestPoint{
			Timestamp:    time.UnixMilli(r.Timestamp).UTC(),
			OpenInterest: oi,
		})
	}
	return points, nil
}

// FundingRate returns the latest funding rate as a raw fraction.
func (b *BinanceFutures) FundingRate(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{"symbol": {symbol}, "limit": {"1"}}
	var results []struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := b.getPublic(ctx, "/fapi/v1/fundingRate", q, &results); err != nil {
		return 0, &domain.ExchangeError{Op: "funding_rate", Err: err}
	}
	if len(results) == 0 {
		return 0, nil
	}
	rate, _ := strconv.ParseFloat(results[0].FundingRate, 64)
	return rate, nil
}

// ---- account (signed endpoints) ----

// Balance fetches the futures account balance per asset.
func (b *BinanceFutures) Balance(ctx context.Context) ([]BalanceEntry, error) {
	var raw []struct {
		Asset              string `json:"asset"`
		Balance            string `json:"balance"`
		CrossUnPnl         string `json:"crossUnPnl"`
		CrossWalletBalance string `json:"crossWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := b.getSigned(ctx, "/fapi/v2/balance", url.Values{}, &raw); err != nil {
		return nil, &domain.ExchangeError{Op: "balance", Err: err}
	}

	entries := make([]BalanceEntry, 0, len(raw))
	for _, r := range raw {
		wallet, _ := strconv.ParseFloat(r.Balance, 64)
		unpnl, _ := strconv.ParseFloat(r.CrossUnPnl, 64)
		avail, _ := strconv.ParseFloat(r.AvailableBalance, 64)
		entries = append(entries, BalanceEntry{
			Asset:            r.Asset,
			WalletBalance:    wallet,
			UnrealizedProfit: unpnl,
			MarginBalance:    wallet + unpnl,
			AvailableBalance: avail,
		})
	}
	return entries, nil
}

// PositionRisk fetches position state. Empty symbol means all symbols.
func (b *BinanceFutures) PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
		MarginType       string `json:"marginType"`
		IsolatedWallet   string `json:"isolatedWallet"`
		InitialMargin    string `json:"initialMargin"`
	}
	if err := b.getSigned(ctx, "/fapi/v2/positionRisk", params, &raw); err != nil {
		return nil, &domain.ExchangeError{Op: "position_risk", Err: err}
	}

	positions := make([]PositionRisk, 0, len(raw))
	for _, r := range raw {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		liq, _ := strconv.ParseFloat(r.LiquidationPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		lev, _ := strconv.Atoi(r.Leverage)
		isoWallet, _ := strconv.ParseFloat(r.IsolatedWallet, 64)
		margin, _ := strconv.ParseFloat(r.InitialMargin, 64)
		positions = append(positions, PositionRisk{
			Symbol:           r.Symbol,
			PositionAmt:      amt,
			EntryPrice:       entry,
			MarkPrice:        mark,
			LiquidationPrice: liq,
			UnrealizedPnL:    pnl,
			Leverage:         lev,
			MarginType:       r.MarginType,
			IsolatedWallet:   isoWallet,
			InitialMargin:    margin,
		})
	}
	return positions, nil
}

// OpenOrders fetches resting orders. Empty symbol means all symbols.
func (b *BinanceFutures) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var raw []struct {
		OrderID   int64  `json:"orderId"`
		Symbol    string `json:"symbol"`
		Type      string `json:"type"`
		Side      string `json:"side"`
		Price     string `json:"price"`
		StopPrice string `json:"stopPrice"`
		OrigQty   string `json:"origQty"`
		Status    string `json:"status"`
		Time      int64  `json:"time"`
	}
	if err := b.getSigned(ctx, "/fapi/v1/openOrders", params, &raw); err != nil {
		return nil, &domain.ExchangeError{Op: "open_orders", Err: err}
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		stop, _ := strconv.ParseFloat(r.StopPrice, 64)
		qty, _ := strconv.ParseFloat(r.OrigQty, 64)
		orders = append(orders, OpenOrder{
			OrderID:   r.OrderID,
			Symbol:    r.Symbol,
			Type:      r.Type,
			Side:      r.Side,
			Price:     price,
			StopPrice: stop,
			Quantity:  qty,
			Status:    r.Status,
			Time:      time.UnixMilli(r.Time).UTC(),
		})
	}
	return orders, nil
}

// IncomeHistory fetches account income rows of one type since the given time.
func (b *BinanceFutures) IncomeHistory(ctx context.Context, incomeType string, since time.Time, limit int) ([]IncomeEntry, error) {
	params := url.Values{}
	if incomeType != "" {
		params.Set("incomeType", incomeType)
	}
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var raw []struct {
		Symbol     string `json:"symbol"`
		IncomeType string `json:"incomeType"`
		Income     string `json:"income"`
		Time       int64  `json:"time"`
	}
	if err := b.getSigned(ctx, "/fapi/v1/income", params, &raw); err != nil {
		return nil, &domain.ExchangeError{Op: "income_history", Err: err}
	}

	entries := make([]IncomeEntry, 0, len(raw))
	for _, r := range raw {
		income, _ := strconv.ParseFloat(r.Income, 64)
		entries = append(entries, IncomeEntry{
			Symbol:     r.Symbol,
			IncomeType: r.IncomeType,
			Income:     income,
			Time:       time.UnixMilli(r.Time).UTC(),
		})
	}
	return entries, nil
}

// ---- trading (signed endpoints) ----

// PlaceOrder submits an order and returns the exchange acknowledgement.
func (b *BinanceFutures) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", formatQuantity(req.Quantity))
	if req.StopPrice > 0 {
		params.Set("stopPrice", strconv.FormatFloat(req.StopPrice, 'f', -1, 64))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	log.Printf("[交易所] 发送订单: %s %s %s 数量=%s", req.Side, req.Symbol, req.Type, params.Get("quantity"))

	var result struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := b.postSigned(ctx, "/fapi/v1/order", params, &result); err != nil {
		log.Printf("[交易所] ✘ 下单失败 %s %s: %v", req.Side, req.Symbol, err)
		return OrderAck{}, &domain.ExchangeError{Op: "place_order", Err: err}
	}

	avg, _ := strconv.ParseFloat(result.AvgPrice, 64)
	executed, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	log.Printf("[交易所] ✔ 订单已接受: %s id=%d 状态=%s", result.Symbol, result.OrderID, result.Status)
	return OrderAck{
		OrderID:     result.OrderID,
		Symbol:      result.Symbol,
		Status:      result.Status,
		AvgPrice:    avg,
		ExecutedQty: executed,
	}, nil
}

// CancelAllOrders cancels every resting order for a symbol.
func (b *BinanceFutures) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{"symbol": {symbol}}
	var result json.RawMessage
	if err := b.deleteSigned(ctx, "/fapi/v1/allOpenOrders", params, &result); err != nil {
		return &domain.ExchangeError{Op: "cancel_all_orders", Err: err}
	}
	log.Printf("[交易所] ✔ 已撤销 %s 全部挂单", symbol)
	return nil
}

// SetLeverage sets the leverage for a symbol.
func (b *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{
		"symbol":   {symbol},
		"leverage": {strconv.Itoa(leverage)},
	}
	var result json.RawMessage
	if err := b.postSigned(ctx, "/fapi/v1/leverage", params, &result); err != nil {
		return &domain.ExchangeError{Op: "set_leverage", Err: err}
	}
	log.Printf("[交易所] ✔ 杠杆已设置 %s: %dx", symbol, leverage)
	return nil
}

// ---- HTTP helpers ----

func (b *BinanceFutures) getPublic(ctx context.Context, path string, params url.Values, out any) error {
	apiURL := b.baseURL + path
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *BinanceFutures) getSigned(ctx context.Context, path string, params url.Values, out any) error {
	b.signParams(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req, out)
}

func (b *BinanceFutures) postSigned(ctx context.Context, path string, params url.Values, out any) error {
	return b.writeSigned(ctx, http.MethodPost, path, params, out)
}

func (b *BinanceFutures) deleteSigned(ctx context.Context, path string, params url.Values, out any) error {
	return b.writeSigned(ctx, http.MethodDelete, path, params, out)
}

func (b *BinanceFutures) writeSigned(ctx context.Context, method, path string, params url.Values, out any) error {
	b.signParams(params)
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req, out)
}

func (b *BinanceFutures) do(req *http.Request, out any) error {
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *BinanceFutures) signParams(params url.Values) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(b.secretKey))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
}

// ---- helpers ----

func formatQuantity(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

func msToTime(raw json.RawMessage) time.Time {
	var ms int64
	_ = json.Unmarshal(raw, &ms)
	return time.UnixMilli(ms).UTC()
}

func parseFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var f float64
		_ = json.Unmarshal(raw, &f)
		return f
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
