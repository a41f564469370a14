package market

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"futures_agent/internal/domain"
	"futures_agent/internal/exchange"
)

const (
	intradayInterval = "1h"
	intradayLabel    = "1H"
	longTFInterval   = "1d"
	longTFLabel      = "1D"
	klineLimit       = 100
	oiPeriod         = "1h"
	oiLimit          = 24
	tailLen          = 10

	emaFastWindow  = 9
	emaSlowWindow  = 21
	rsiShortWindow = 7
	rsiLongWindow  = 14
	atrFastWindow  = 14
	atrSlowWindow  = 28
)

// Aggregator assembles per-currency AssetSnapshots from exchange data.
// Every snapshot is all-or-nothing: any failed remote read makes the whole
// asset unavailable for the cycle instead of publishing partial numbers.
type Aggregator struct {
	ex      exchange.Exchange
	workers int
}

// NewAggregator creates an aggregator bounding concurrent fetches to workers.
func NewAggregator(ex exchange.Exchange, workers int) *Aggregator {
	if workers <= 0 {
		workers = 4
	}
	return &Aggregator{ex: ex, workers: workers}
}

// fetchEvent 单个币种的完成事件，成功与失败都会发出
type fetchEvent struct {
	currency string
	snapshot domain.AssetSnapshot
	err      error
}

// Collect fans out Fetch over all currencies with bounded concurrency, then
// waits for exactly one completion event per currency. Failed assets are
// excluded from the result; their errors come back as PartialDataError values
// and never fail the aggregate.
func (a *Aggregator) Collect(ctx context.Context, currencies []string) (map[string]domain.AssetSnapshot, []error) {
	n := len(currencies)
	if n == 0 {
		return map[string]domain.AssetSnapshot{}, nil
	}

	events := make(chan fetchEvent, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, currency := range currencies {
		currency := currency
		g.Go(func() error {
			snap, err := a.Fetch(ctx, currency)
			events <- fetchEvent{currency: currency, snapshot: snap, err: err}
			return nil
		})
	}

	// 屏障：精确接收 n 个事件后才继续
	merged := make(map[string]domain.AssetSnapshot, n)
	var failures []error
	for i := 0; i < n; i++ {
		ev := <-events
		if ev.err != nil {
			log.Printf("[行情] ⚠ %s 数据获取失败，跳过该币种: %v", ev.currency, ev.err)
			failures = append(failures, ev.err)
			continue
		}
		merged[ev.currency] = ev.snapshot
	}
	_ = g.Wait()

	log.Printf("[行情] 📊 汇总完成: %d/%d 个币种可用", len(merged), n)
	return merged, failures
}

// Fetch builds the complete snapshot for one currency ("BTC" → "BTCUSDT").
func (a *Aggregator) Fetch(ctx context.Context, currency string) (domain.AssetSnapshot, error) {
	symbol := currencyToSymbol(currency)

	fail := func(stage string, err error) (domain.AssetSnapshot, error) {
		return domain.AssetSnapshot{}, &domain.PartialDataError{
			Currency: currency,
			Err:      fmt.Errorf("%s: %w", stage, err),
		}
	}

	price, err := a.ex.TickerPrice(ctx, symbol)
	if err != nil {
		return fail("ticker", err)
	}

	intraday, err := a.ex.Klines(ctx, symbol, intradayInterval, klineLimit)
	if err != nil {
		return fail("intraday klines", err)
	}
	if len(intraday) == 0 {
		return fail("intraday klines", fmt.Errorf("empty series"))
	}

	daily, err := a.ex.Klines(ctx, symbol, longTFInterval, klineLimit)
	if err != nil {
		return fail("daily klines", err)
	}
	if len(daily) == 0 {
		return fail("daily klines", fmt.Errorf("empty series"))
	}

	oiPoints, err := a.ex.OpenInterestHist(ctx, symbol, oiPeriod, oiLimit)
	if err != nil {
		return fail("open interest", err)
	}

	funding, err := a.ex.FundingRate(ctx, symbol)
	if err != nil {
		return fail("funding rate", err)
	}

	closes := closePrices(intraday)
	emaFast := EMA(closes, emaFastWindow)
	macd := MACD(closes)
	rsiShort := RSI(closes, rsiShortWindow)
	rsiLong := RSI(closes, rsiLongWindow)

	dailyCloses := closePrices(daily)
	dailyHighs, dailyLows := highLow(daily)
	volumes := volumeSeries(daily)

	oiLatest, oiAverage := summarizeOI(oiPoints)

	snap := domain.AssetSnapshot{
		Currency:     currency,
		CurrentPrice: price,

		CurrentEMAFast:  Last(emaFast),
		CurrentMACD:     Last(macd),
		CurrentRSIShort: Last(rsiShort),

		OILatest:    oiLatest,
		OIAverage:   oiAverage,
		FundingRate: funding * 100,

		IntradayLabel:  intradayLabel,
		Prices:         Tail(closes, tailLen),
		EMASeries:      Tail(emaFast, tailLen),
		MACDSeries:     Tail(macd, tailLen),
		RSIShortSeries: Tail(rsiShort, tailLen),
		RSILongSeries:  Tail(rsiLong, tailLen),

		LongTFLabel:     longTFLabel,
		EMAFastLong:     Last(EMA(dailyCloses, emaFastWindow)),
		EMASlowLong:     Last(EMA(dailyCloses, emaSlowWindow)),
		ATRFast:         Last(ATR(dailyHighs, dailyLows, dailyCloses, atrFastWindow)),
		ATRSlow:         Last(ATR(dailyHighs, dailyLows, dailyCloses, atrSlowWindow)),
		CurrentVolume:   volumes[len(volumes)-1],
		AverageVolume:   SMA(volumes),
		MACDLongSeries:  Tail(MACD(dailyCloses), tailLen),
		RSILongSeriesLT: Tail(RSI(dailyCloses, rsiLongWindow), tailLen),

		Timestamp: time.Now().UTC(),
	}
	return snap, nil
}

func currencyToSymbol(currency string) string {
	return currency + "USDT"
}

func closePrices(klines []exchange.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

func highLow(klines []exchange.Kline) (highs, lows []float64) {
	highs = make([]float64, len(klines))
	lows = make([]float64, len(klines))
	for i, k := range klines {
		highs[i] = k.High
		lows[i] = k.Low
	}
	return highs, lows
}

func volumeSeries(klines []exchange.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Volume
	}
	return out
}

func summarizeOI(points []exchange.OpenInterestPoint) (latest, average float64) {
	if len(points) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, p := range points {
		sum += p.OpenInterest
	}
	return points[len(points)-1].OpenInterest, sum / float64(len(points))
}
