package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipscan/internal/domain"
	"dipscan/internal/marketdata"
)

func d(s string) time.Time {
	t, err := time.Parse(domain.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(date string, open, close float64) domain.Bar {
	return domain.Bar{Date: d(date), Open: open, High: open, Low: close, Close: close, Volume: 100}
}

func TestPurchaseNextTradingDayOpen(t *testing.T) {
	series := marketdata.NewSeries("XYZ", []domain.Bar{
		bar("2020-01-06", 100, 92),
		bar("2020-01-07", 93, 95), // purchase day
		bar("2020-01-08", 96, 97),
	})

	leg := Purchase(series, d("2020-01-06"))
	require.NotNil(t, leg.Date)
	require.NotNil(t, leg.Price)
	assert.Equal(t, d("2020-01-07"), *leg.Date)
	assert.Equal(t, 93.0, *leg.Price)
}

func TestPurchaseNoFutureBar(t *testing.T) {
	series := marketdata.NewSeries("XYZ", []domain.Bar{
		bar("2020-01-06", 100, 92),
	})

	leg := Purchase(series, d("2020-01-06"))
	assert.Nil(t, leg.Date)
	assert.Nil(t, leg.Price)
}

func TestForwardReturnSellsFirstBarOnOrAfterTarget(t *testing.T) {
	series := marketdata.NewSeries("XYZ", []domain.Bar{
		bar("2020-01-06", 100, 92),
		bar("2020-01-07", 90, 91),
		// Target is 2021-01-06 (a holiday here); first bar on or after.
		bar("2021-01-08", 107, 108),
		bar("2021-06-01", 120, 121),
	})

	leg := Purchase(series, d("2020-01-06"))
	ret := ForwardReturn(series, leg, 1)
	require.NotNil(t, ret)
	assert.InDelta(t, (108.0-90.0)/90.0*100, *ret, 1e-9)
}

func TestForwardReturnUnresolvedHorizon(t *testing.T) {
	series := marketdata.NewSeries("XYZ", []domain.Bar{
		bar("2020-01-06", 100, 92),
		bar("2020-01-07", 90, 91),
		bar("2020-06-01", 95, 96), // history ends before the 1y target
	})

	leg := Purchase(series, d("2020-01-06"))
	assert.Nil(t, ForwardReturn(series, leg, 1))

	// Unresolved purchase leg propagates.
	assert.Nil(t, ForwardReturn(series, PurchaseLeg{}, 1))
}

func TestBenchmarkReturnAnchorsAtLoserDate(t *testing.T) {
	spy := marketdata.NewSeries("SPY", []domain.Bar{
		bar("2020-01-06", 300, 301),
		bar("2020-01-07", 302, 303),
		bar("2021-01-08", 330, 332),
	})

	ret := BenchmarkReturn(spy, d("2020-01-06"), 1)
	require.NotNil(t, ret)
	assert.InDelta(t, (332.0-302.0)/302.0*100, *ret, 1e-9)
}

func TestEvaluatePickMultipleHorizons(t *testing.T) {
	series := marketdata.NewSeries("XYZ", []domain.Bar{
		bar("2020-01-06", 100, 92),
		bar("2020-01-07", 90, 91),
		bar("2021-01-08", 99, 99),   // 1y resolves
		bar("2021-06-01", 100, 100), // 2y does not
	})
	spy := marketdata.NewSeries("SPY", []domain.Bar{
		bar("2020-01-06", 300, 301),
		bar("2020-01-07", 300, 301),
		bar("2021-01-08", 315, 315),
	})

	pick := domain.Pick{RawPick: domain.RawPick{LoserDate: d("2020-01-06"), Ticker: "XYZ"}}
	EvaluatePick(&pick, series, spy, []int{1, 2})

	require.NotNil(t, pick.PurchaseDate)
	assert.Equal(t, d("2020-01-07"), *pick.PurchaseDate)
	require.NotNil(t, pick.Return(1))
	assert.InDelta(t, 10.0, *pick.Return(1), 1e-9)
	assert.Nil(t, pick.Return(2))
	require.NotNil(t, pick.SPYReturn(1))
	assert.InDelta(t, 5.0, *pick.SPYReturn(1), 1e-9)
	assert.Nil(t, pick.SPYReturn(2))
}
