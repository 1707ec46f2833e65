package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipscan/internal/domain"
)

// mkPick builds a pick with a resolved 1y return; ret or spy may be nil.
func mkPick(date string, ticker string, rank int, in domain.Indicators, ret, spy *float64) domain.Pick {
	return domain.Pick{
		RawPick: domain.RawPick{
			LoserDate: d(date),
			Ticker:    ticker,
			Ranking:   rank,
		},
		Industry:   "technology",
		Indicators: in,
		Returns:    map[int]*float64{1: ret},
		SPYReturns: map[int]*float64{1: spy},
	}
}

func f(v float64) *float64 { return domain.Float64Ptr(v) }

func TestSummarize(t *testing.T) {
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{}, f(10), f(5)),
		mkPick("2020-01-06", "BBB", 2, domain.Indicators{}, f(-4), f(5)),
		mkPick("2020-01-07", "CCC", 1, domain.Indicators{}, f(20), f(-2)),
		mkPick("2020-01-07", "DDD", 2, domain.Indicators{}, nil, nil), // unresolved, excluded
	}

	s := Summarize(picks, 1)
	assert.Equal(t, 3, s.TotalPicks)
	assert.InDelta(t, 2.0/3.0*100, s.WinRate, 1e-9)
	assert.InDelta(t, (10-4+20)/3.0, s.AvgReturn, 1e-9)
	assert.InDelta(t, 10.0, s.MedianReturn, 1e-9)
	assert.InDelta(t, -4.0, s.MinReturn, 1e-9)
	assert.InDelta(t, 20.0, s.MaxReturn, 1e-9)

	require.NotNil(t, s.SPYAvgReturn)
	assert.InDelta(t, (5+5-2)/3.0, *s.SPYAvgReturn, 1e-9)
	require.NotNil(t, s.SPYWinRate)
	assert.InDelta(t, 2.0/3.0*100, *s.SPYWinRate, 1e-9)

	// All three resolved picks have a paired benchmark return; two beat it.
	require.NotNil(t, s.BeatSPYRate)
	assert.InDelta(t, 2.0/3.0*100, *s.BeatSPYRate, 1e-9)
}

func TestSummarizeNoBeatRateWhenUnpaired(t *testing.T) {
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{}, f(10), f(5)),
		mkPick("2020-01-06", "BBB", 2, domain.Indicators{}, f(8), nil), // no benchmark
	}

	s := Summarize(picks, 1)
	assert.Equal(t, 2, s.TotalPicks)
	assert.Nil(t, s.BeatSPYRate)
	require.NotNil(t, s.SPYAvgReturn)
	assert.InDelta(t, 5.0, *s.SPYAvgReturn, 1e-9)
}

func TestAnalyzeFactors(t *testing.T) {
	// Severity indicator tracks returns perfectly; industry is constant.
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{Severity: 1, Industry: 1}, f(10), nil),
		mkPick("2020-01-07", "BBB", 1, domain.Indicators{Severity: 0, Industry: 1}, f(-5), nil),
		mkPick("2020-01-08", "CCC", 1, domain.Indicators{Severity: 1, Industry: 1}, f(10), nil),
		mkPick("2020-01-09", "DDD", 1, domain.Indicators{Severity: 0, Industry: 1}, f(-5), nil),
	}

	factors := AnalyzeFactors(picks, 1)
	require.Len(t, factors, len(domain.FactorNames))

	byName := make(map[string]domain.FactorCorrelation, len(factors))
	for _, fc := range factors {
		byName[fc.Factor] = fc
	}

	sev := byName[domain.FactorSeverity]
	require.NotNil(t, sev.Correlation)
	assert.InDelta(t, 1.0, *sev.Correlation, 1e-9)
	assert.True(t, sev.Significant)

	ind := byName[domain.FactorIndustry]
	assert.Nil(t, ind.Correlation)
	assert.Equal(t, "indicator has no variance in this sample", ind.Note)
}

func TestAnalyzeFactorsInsufficientSample(t *testing.T) {
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{Severity: 1}, f(10), nil),
		mkPick("2020-01-07", "BBB", 1, domain.Indicators{}, f(-5), nil),
	}

	factors := AnalyzeFactors(picks, 1)
	for _, fc := range factors {
		assert.Nil(t, fc.Correlation)
		assert.Contains(t, fc.Note, "insufficient sample")
	}
}

func TestSuggestWeights(t *testing.T) {
	factors := []domain.FactorCorrelation{
		{Factor: domain.FactorSeverity, Correlation: f(0.6)},
		{Factor: domain.FactorVolume, Correlation: f(0.2)},
		{Factor: domain.FactorREIT, Correlation: f(-0.4)}, // clamped to zero
		{Factor: domain.FactorIndustry},                   // nil, no signal
	}

	w := SuggestWeights(factors)
	assert.InDelta(t, 75.0, w[domain.FactorSeverity], 1e-9)
	assert.InDelta(t, 25.0, w[domain.FactorVolume], 1e-9)
	assert.Equal(t, 0.0, w[domain.FactorREIT])
	assert.Equal(t, 0.0, w[domain.FactorIndustry])

	var total float64
	for _, v := range w {
		total += v
	}
	assert.InDelta(t, 100.0, total, 1e-9)
}

func TestSuggestWeightsAllNegative(t *testing.T) {
	factors := []domain.FactorCorrelation{
		{Factor: domain.FactorSeverity, Correlation: f(-0.6)},
		{Factor: domain.FactorVolume, Correlation: f(-0.2)},
	}

	w := SuggestWeights(factors)
	for name, v := range w {
		assert.Equal(t, 0.0, v, name)
	}
}

func TestAnalyzeBreakdowns(t *testing.T) {
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{}, f(10), nil), // Monday
		mkPick("2020-01-06", "BBB", 2, domain.Indicators{}, f(-2), nil),
		mkPick("2020-01-07", "CCC", 1, domain.Indicators{}, f(6), nil), // Tuesday
	}

	analysis := Analyze(picks, []int{1})
	require.Contains(t, analysis, 1)
	a := analysis[1]

	mon := a.ByDayOfWeek[time.Monday.String()]
	assert.Equal(t, 2, mon.Picks)
	assert.InDelta(t, 4.0, mon.AvgReturn, 1e-9)
	assert.InDelta(t, 50.0, mon.WinRate, 1e-9)

	rank1 := a.ByRanking[1]
	assert.Equal(t, 2, rank1.Picks)
	assert.InDelta(t, 8.0, rank1.AvgReturn, 1e-9)

	tech := a.ByIndustry["technology"]
	assert.Equal(t, 3, tech.Picks)
}

func TestAnalyzeOmitsEmptyHorizons(t *testing.T) {
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{}, nil, nil),
	}
	analysis := Analyze(picks, []int{1, 2})
	assert.Empty(t, analysis)
}

func TestEvaluatePartitions(t *testing.T) {
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{Severity: 1}, f(12), f(4)),
		mkPick("2020-01-13", "BBB", 1, domain.Indicators{Severity: 1}, f(-3), f(4)),
		mkPick("2020-01-20", "CCC", 1, domain.Indicators{}, f(5), f(4)),
		mkPick("2020-01-27", "DDD", 1, domain.Indicators{}, nil, nil), // ignored
	}

	ev := Evaluate(picks, domain.Weights{domain.FactorSeverity: 100}, 50, 1)

	assert.Equal(t, 3, ev.All.Count)
	assert.Equal(t, 2, ev.Filtered.Count)
	assert.InDelta(t, 2.0/3.0*100, ev.FilterRate, 1e-9)

	require.NotNil(t, ev.All.AvgReturn)
	assert.InDelta(t, (12-3+5)/3.0, *ev.All.AvgReturn, 1e-9)
	require.NotNil(t, ev.Filtered.AvgReturn)
	assert.InDelta(t, 4.5, *ev.Filtered.AvgReturn, 1e-9)
	require.NotNil(t, ev.Filtered.WinRate)
	assert.InDelta(t, 50.0, *ev.Filtered.WinRate, 1e-9)

	// Two filtered picks a week apart: two picks per week.
	require.NotNil(t, ev.Filtered.PicksPerWeek)
	assert.InDelta(t, 2.0, *ev.Filtered.PicksPerWeek, 1e-9)
}

func TestFilterPicksRescores(t *testing.T) {
	picks := []domain.Pick{
		mkPick("2020-01-06", "AAA", 1, domain.Indicators{Severity: 1}, f(12), nil),
		mkPick("2020-01-06", "BBB", 2, domain.Indicators{}, f(5), nil),
	}

	out := FilterPicks(picks, domain.Weights{domain.FactorSeverity: 80}, 50)
	require.Len(t, out, 1)
	assert.Equal(t, "AAA", out[0].Ticker)
	assert.Equal(t, 80.0, out[0].ConfidenceScore)
}
