package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"dipscan/internal/domain"
	"dipscan/internal/util"
)

// Compile-time interface checks.
var _ BarProvider = (*AlpacaProvider)(nil)
var _ Calendar = (*AlpacaProvider)(nil)

// Fetch retry budget. A batch that still fails after this is a systemic
// provider failure and aborts the fetch.
const (
	fetchMaxAttempts = 4
	fetchBaseDelay   = 2 * time.Second
)

// AlpacaProvider fetches daily bars and the trading calendar from the
// Alpaca market-data API, batching symbols per request and bounding
// concurrency and request rate.
type AlpacaProvider struct {
	md         *marketdata.Client
	trading    *alpaca.Client
	limiter    *rate.Limiter
	batchSize  int
	maxWorkers int
	log        *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials
// and fetch parameters. rateLimitPerMin bounds API requests per minute.
func NewAlpacaProvider(apiKey, apiSecret, baseURL, dataURL string, batchSize, maxWorkers, rateLimitPerMin int) *AlpacaProvider {
	mdOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		mdOpts.BaseURL = dataURL
	}

	tradingOpts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		tradingOpts.BaseURL = baseURL
	}

	if batchSize <= 0 {
		batchSize = 200
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}

	return &AlpacaProvider{
		md:         marketdata.NewClient(mdOpts),
		trading:    alpaca.NewClient(tradingOpts),
		limiter:    rate.NewLimiter(rate.Limit(float64(rateLimitPerMin)/60.0), 1),
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		log:        slog.Default().With("component", "alpaca"),
	}
}

// DailyBars fetches daily bars for all tickers in [start, end], fanning out
// one request per symbol batch with bounded concurrency. Tickers with no
// data are absent from the result.
func (p *AlpacaProvider) DailyBars(ctx context.Context, tickers []string, start, end time.Time) (map[string]*Series, error) {
	if len(tickers) == 0 {
		return map[string]*Series{}, nil
	}

	var batches [][]string
	for i := 0; i < len(tickers); i += p.batchSize {
		batches = append(batches, tickers[i:min(i+p.batchSize, len(tickers))])
	}

	var mu sync.Mutex
	barsBySymbol := make(map[string][]domain.Bar)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	fetchStart := time.Now()
	for i, batch := range batches {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}

			var multiBars map[string][]marketdata.Bar
			err := util.Retry(gctx, fetchMaxAttempts, fetchBaseDelay, func() error {
				var err error
				multiBars, err = p.md.GetMultiBars(batch, marketdata.GetBarsRequest{
					TimeFrame: marketdata.OneDay,
					Start:     start,
					End:       end,
					Feed:      "sip",
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("fetching bars batch %d/%d: %w", i+1, len(batches), err)
			}

			mu.Lock()
			for symbol, alpacaBars := range multiBars {
				ticker := strings.ToUpper(symbol)
				for _, ab := range alpacaBars {
					barsBySymbol[ticker] = append(barsBySymbol[ticker], domain.Bar{
						Ticker: ticker,
						Date:   ab.Timestamp,
						Open:   ab.Open,
						High:   ab.High,
						Low:    ab.Low,
						Close:  ab.Close,
						Volume: int64(ab.Volume),
					})
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	series := make(map[string]*Series, len(barsBySymbol))
	for ticker, bars := range barsBySymbol {
		series[ticker] = NewSeries(ticker, bars)
	}

	p.log.Info("daily bars fetched",
		"tickers", len(tickers),
		"withData", len(series),
		"batches", len(batches),
		"elapsed", time.Since(fetchStart).Round(time.Millisecond),
	)
	return series, nil
}

// TradingDays returns the trading-day calendar for [start, end] from the
// Alpaca trading API.
func (p *AlpacaProvider) TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	var calendar []alpaca.CalendarDay
	err := util.Retry(ctx, fetchMaxAttempts, fetchBaseDelay, func() error {
		var err error
		calendar, err = p.trading.GetCalendar(alpaca.GetCalendarRequest{
			Start: start,
			End:   end,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	days := make([]time.Time, 0, len(calendar))
	for _, day := range calendar {
		t, err := time.Parse(domain.DateFormat, day.Date)
		if err != nil {
			continue
		}
		days = append(days, t)
	}
	return days, nil
}
