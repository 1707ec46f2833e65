// Package marketdata is the price series accessor: daily OHLCV bars per
// ticker, the trading-day calendar, index constituency history, and the
// fundamentals metadata used by the scorer.
package marketdata

import (
	"sort"
	"time"

	"dipscan/internal/domain"
)

// Series holds one ticker's daily bars in ascending date order and answers
// the point lookups the engine needs.
type Series struct {
	Ticker string
	bars   []domain.Bar
}

// NewSeries builds a Series from bars in any order. Bars are sorted by date;
// duplicate dates keep the last occurrence.
func NewSeries(ticker string, bars []domain.Bar) *Series {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	// Deduplicate by date, last write wins.
	out := sorted[:0]
	for _, b := range sorted {
		if len(out) > 0 && sameDay(out[len(out)-1].Date, b.Date) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return &Series{Ticker: ticker, bars: out}
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// Bars returns the underlying bars in ascending date order.
func (s *Series) Bars() []domain.Bar { return s.bars }

// BarOn returns the bar for the given calendar day, or nil.
func (s *Series) BarOn(date time.Time) *domain.Bar {
	i := s.searchOnOrAfter(date)
	if i < len(s.bars) && sameDay(s.bars[i].Date, date) {
		return &s.bars[i]
	}
	return nil
}

// PrevBefore returns the last bar strictly before the given day, or nil.
func (s *Series) PrevBefore(date time.Time) *domain.Bar {
	i := s.searchOnOrAfter(date)
	if i == 0 {
		return nil
	}
	return &s.bars[i-1]
}

// NextAfter returns the first bar strictly after the given day, or nil.
func (s *Series) NextAfter(date time.Time) *domain.Bar {
	i := s.searchOnOrAfter(date)
	if i < len(s.bars) && sameDay(s.bars[i].Date, date) {
		i++
	}
	if i >= len(s.bars) {
		return nil
	}
	return &s.bars[i]
}

// FirstOnOrAfter returns the first bar on or after the given day, or nil.
func (s *Series) FirstOnOrAfter(date time.Time) *domain.Bar {
	i := s.searchOnOrAfter(date)
	if i >= len(s.bars) {
		return nil
	}
	return &s.bars[i]
}

// Last returns the most recent bar, or nil for an empty series.
func (s *Series) Last() *domain.Bar {
	if len(s.bars) == 0 {
		return nil
	}
	return &s.bars[len(s.bars)-1]
}

// searchOnOrAfter returns the index of the first bar whose date is on or
// after the given day.
func (s *Series) searchOnOrAfter(date time.Time) int {
	day := truncateDay(date)
	return sort.Search(len(s.bars), func(i int) bool {
		return !truncateDay(s.bars[i].Date).Before(day)
	})
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
