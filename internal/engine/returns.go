package engine

import (
	"time"

	"dipscan/internal/domain"
	"dipscan/internal/marketdata"
)

// holdHorizonDays converts a holding horizon in years to calendar days.
func holdHorizonDays(years int) int { return 365 * years }

// PurchaseLeg is the entry of a pick: the first trading day strictly after
// the loser date, bought at that day's open. Nil fields mean the pick's
// series has no trading day after the loser date.
type PurchaseLeg struct {
	Date  *time.Time
	Price *float64
}

// Purchase resolves the purchase leg for a pick from its price series.
func Purchase(series *marketdata.Series, loserDate time.Time) PurchaseLeg {
	bar := series.NextAfter(loserDate)
	if bar == nil || bar.Open <= 0 {
		return PurchaseLeg{}
	}
	d := bar.Date
	p := bar.Open
	return PurchaseLeg{Date: &d, Price: &p}
}

// ForwardReturn computes the holding-period return for a purchase: buy at
// the purchase open, sell at the close of the first bar on or after
// purchase + years. Nil when the purchase leg is unresolved or the horizon
// extends past the series' available history, never zero and never an error.
func ForwardReturn(series *marketdata.Series, leg PurchaseLeg, years int) *float64 {
	if leg.Date == nil || leg.Price == nil || *leg.Price <= 0 {
		return nil
	}

	target := leg.Date.AddDate(0, 0, holdHorizonDays(years))
	last := series.Last()
	if last == nil || last.Date.Before(target) {
		return nil
	}

	sell := series.FirstOnOrAfter(target)
	if sell == nil || sell.Close <= 0 {
		return nil
	}

	ret := (sell.Close - *leg.Price) / *leg.Price * 100
	return &ret
}

// BenchmarkReturn computes the benchmark's return over the same holding
// period, anchored at the pick's loser date: the benchmark is also bought
// at the open of its first trading day after loserDate.
func BenchmarkReturn(benchmark *marketdata.Series, loserDate time.Time, years int) *float64 {
	leg := Purchase(benchmark, loserDate)
	return ForwardReturn(benchmark, leg, years)
}

// EvaluatePick fills a pick's purchase leg and per-horizon returns from its
// own series and the benchmark series.
func EvaluatePick(pick *domain.Pick, series, benchmark *marketdata.Series, holdYears []int) {
	leg := Purchase(series, pick.LoserDate)
	pick.PurchaseDate = leg.Date
	pick.PurchasePrice = leg.Price

	pick.Returns = make(map[int]*float64, len(holdYears))
	pick.SPYReturns = make(map[int]*float64, len(holdYears))
	for _, years := range holdYears {
		pick.Returns[years] = ForwardReturn(series, leg, years)
		pick.SPYReturns[years] = BenchmarkReturn(benchmark, pick.LoserDate, years)
	}
}
