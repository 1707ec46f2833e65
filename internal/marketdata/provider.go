package marketdata

import (
	"context"
	"time"

	"dipscan/internal/domain"
)

// BarProvider supplies daily OHLCV series for a set of tickers over a date
// range. Tickers with no data in the range are simply absent from the
// result; only systemic failures (provider unreachable beyond the retry
// budget) return an error.
type BarProvider interface {
	DailyBars(ctx context.Context, tickers []string, start, end time.Time) (map[string]*Series, error)
}

// Calendar supplies the trading-day calendar.
type Calendar interface {
	TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error)
}

// FundamentalsSource supplies per-ticker scoring attributes. Unknown
// tickers yield the zero value (unknown industry, no dividend, no volume)
// so a missing metadata row degrades indicators instead of failing a run.
type FundamentalsSource interface {
	Fundamentals(ticker string) domain.Fundamentals
}
