// Package engine implements the scoring and backtest analysis pipeline:
// biggest-loser detection, weighted confidence scoring, forward return
// calculation, and run aggregation.
package engine

import (
	"sort"
	"time"

	"dipscan/internal/domain"
)

// Quote is one ticker's observation in a trading day's cross-section. The
// previous trading day's close is required to compute the daily change.
type Quote struct {
	Ticker    string
	Close     float64
	PrevClose float64
}

// BiggestLosers ranks the day's cross-section by daily percentage change and
// returns the bottom topN as raw picks. Tickers in exclude and tickers
// without a valid previous close are skipped. Ties in percentage change are
// broken by ticker symbol ascending so rankings are deterministic. Fewer
// than topN eligible tickers yields fewer picks, never an error.
func BiggestLosers(date time.Time, quotes []Quote, exclude map[string]struct{}, topN int) []domain.RawPick {
	type change struct {
		ticker string
		pct    float64
	}

	changes := make([]change, 0, len(quotes))
	for _, q := range quotes {
		if _, skip := exclude[q.Ticker]; skip {
			continue
		}
		if q.PrevClose <= 0 || q.Close <= 0 {
			continue
		}
		pct := (q.Close - q.PrevClose) / q.PrevClose * 100
		changes = append(changes, change{ticker: q.Ticker, pct: pct})
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].pct != changes[j].pct {
			return changes[i].pct < changes[j].pct
		}
		return changes[i].ticker < changes[j].ticker
	})

	n := min(topN, len(changes))
	picks := make([]domain.RawPick, 0, n)
	for i := 0; i < n; i++ {
		picks = append(picks, domain.RawPick{
			LoserDate:    date,
			Ticker:       changes[i].ticker,
			DailyLossPct: changes[i].pct,
			Ranking:      i + 1,
		})
	}
	return picks
}
