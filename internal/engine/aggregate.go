package engine

import (
	"fmt"
	"sort"

	"dipscan/internal/domain"
)

// minCorrelationSamples is the smallest sample for which a factor
// correlation and p-value are reported.
const minCorrelationSamples = 3

// HorizonSummary is the headline statistics for one holding horizon,
// computed over picks whose return resolved for that horizon.
type HorizonSummary struct {
	TotalPicks   int      `json:"total_picks"`
	WinRate      float64  `json:"win_rate"`
	AvgReturn    float64  `json:"avg_return"`
	MedianReturn float64  `json:"median_return"`
	StdReturn    float64  `json:"std_return"`
	MinReturn    float64  `json:"min_return"`
	MaxReturn    float64  `json:"max_return"`
	SPYAvgReturn *float64 `json:"spy_avg_return,omitempty"`
	SPYWinRate   *float64 `json:"spy_win_rate,omitempty"`
	BeatSPYRate  *float64 `json:"beat_spy_rate,omitempty"`
}

// BucketStats is one row of a grouped breakdown.
type BucketStats struct {
	AvgReturn float64 `json:"avg_return"`
	WinRate   float64 `json:"win_rate"`
	Picks     int     `json:"picks"`
}

// HorizonAnalysis bundles everything computed for one horizon.
type HorizonAnalysis struct {
	Summary          HorizonSummary             `json:"summary"`
	Factors          []domain.FactorCorrelation `json:"factor_analysis"`
	SuggestedWeights domain.Weights             `json:"suggested_weights"`
	ByDayOfWeek      map[string]BucketStats     `json:"by_day"`
	ByIndustry       map[string]BucketStats     `json:"by_industry"`
	ByRanking        map[int]BucketStats        `json:"by_ranking"`
}

// Analyze computes per-horizon summaries, factor correlations, suggested
// weights, and breakdowns for a run's picks. Horizons with no resolved
// returns are omitted from the result.
func Analyze(picks []domain.Pick, holdYears []int) map[int]*HorizonAnalysis {
	out := make(map[int]*HorizonAnalysis, len(holdYears))
	for _, years := range holdYears {
		a := analyzeHorizon(picks, years)
		if a != nil {
			out[years] = a
		}
	}
	return out
}

func analyzeHorizon(picks []domain.Pick, years int) *HorizonAnalysis {
	valid := withResolvedReturn(picks, years)
	if len(valid) == 0 {
		return nil
	}

	factors := AnalyzeFactors(valid, years)
	return &HorizonAnalysis{
		Summary:          Summarize(valid, years),
		Factors:          factors,
		SuggestedWeights: SuggestWeights(factors),
		ByDayOfWeek:      byDayOfWeek(valid, years),
		ByIndustry:       byIndustry(valid, years),
		ByRanking:        byRanking(valid, years),
	}
}

// Summarize computes the headline statistics for one horizon over picks
// that resolved for it. Unresolved benchmark returns are excluded from the
// SPY aggregates; the beat-SPY rate is reported only when every pick has a
// paired benchmark return.
func Summarize(picks []domain.Pick, years int) HorizonSummary {
	var returns, spyReturns []float64
	var paired, beat int
	allPaired := true

	for i := range picks {
		r := picks[i].Return(years)
		if r == nil {
			continue
		}
		returns = append(returns, *r)

		if s := picks[i].SPYReturn(years); s != nil {
			spyReturns = append(spyReturns, *s)
			paired++
			if *r > *s {
				beat++
			}
		} else {
			allPaired = false
		}
	}

	lo, hi := minMax(returns)
	s := HorizonSummary{
		TotalPicks:   len(returns),
		WinRate:      winRate(returns),
		AvgReturn:    mean(returns),
		MedianReturn: median(returns),
		StdReturn:    stddev(returns),
		MinReturn:    lo,
		MaxReturn:    hi,
	}

	if len(spyReturns) > 0 {
		s.SPYAvgReturn = domain.Float64Ptr(mean(spyReturns))
		s.SPYWinRate = domain.Float64Ptr(winRate(spyReturns))
	}
	if allPaired && paired > 0 {
		s.BeatSPYRate = domain.Float64Ptr(float64(beat) / float64(paired) * 100)
	}
	return s
}

// winRate is the percentage of returns strictly greater than zero.
func winRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns)) * 100
}

// AnalyzeFactors correlates each factor's stored indicator against the
// horizon's resolved returns using Pearson correlation with a two-sided
// t-test p-value. Factors with fewer than three observations or a constant
// indicator are reported with a note instead of a coefficient.
func AnalyzeFactors(picks []domain.Pick, years int) []domain.FactorCorrelation {
	var returns []float64
	indicators := make(map[string][]float64, len(domain.FactorNames))

	for i := range picks {
		r := picks[i].Return(years)
		if r == nil {
			continue
		}
		returns = append(returns, *r)
		for _, name := range domain.FactorNames {
			indicators[name] = append(indicators[name], picks[i].Indicators.Value(name))
		}
	}

	out := make([]domain.FactorCorrelation, 0, len(domain.FactorNames))
	for _, name := range domain.FactorNames {
		fc := domain.FactorCorrelation{Factor: name}
		values := indicators[name]

		switch {
		case len(returns) < minCorrelationSamples:
			fc.Note = fmt.Sprintf("insufficient sample: %d observations, need %d",
				len(returns), minCorrelationSamples)
		case constant(values):
			fc.Note = "indicator has no variance in this sample"
		default:
			r := pearson(values, returns)
			p := corrPValue(r, len(returns))
			fc.Correlation = domain.Float64Ptr(r)
			fc.PValue = domain.Float64Ptr(p)
			fc.Significant = p < 0.05
		}
		out = append(out, fc)
	}
	return out
}

// SuggestWeights derives factor weights from observed correlations:
// negative correlations are clamped to zero, then the remainder is
// normalized to sum to 100 preserving relative magnitude. When no factor
// has a positive correlation, every weight is zero.
func SuggestWeights(factors []domain.FactorCorrelation) domain.Weights {
	weights := make(domain.Weights, len(factors))
	var total float64
	for _, f := range factors {
		v := 0.0
		if f.Correlation != nil && *f.Correlation > 0 {
			v = *f.Correlation
		}
		weights[f.Factor] = v
		total += v
	}

	if total == 0 {
		return weights
	}
	for name, v := range weights {
		weights[name] = v / total * 100
	}
	return weights
}

// ---------------------------------------------------------------------------
// Breakdowns
// ---------------------------------------------------------------------------

func byDayOfWeek(picks []domain.Pick, years int) map[string]BucketStats {
	return bucket(picks, years, func(p *domain.Pick) string {
		return p.LoserDate.Weekday().String()
	})
}

func byIndustry(picks []domain.Pick, years int) map[string]BucketStats {
	return bucket(picks, years, func(p *domain.Pick) string {
		if p.Industry == "" {
			return "unknown"
		}
		return p.Industry
	})
}

func byRanking(picks []domain.Pick, years int) map[int]BucketStats {
	byKey := bucket(picks, years, func(p *domain.Pick) string {
		return fmt.Sprintf("%d", p.Ranking)
	})
	out := make(map[int]BucketStats, len(byKey))
	for k, v := range byKey {
		var rank int
		fmt.Sscanf(k, "%d", &rank)
		out[rank] = v
	}
	return out
}

func bucket(picks []domain.Pick, years int, keyFn func(*domain.Pick) string) map[string]BucketStats {
	grouped := make(map[string][]float64)
	for i := range picks {
		r := picks[i].Return(years)
		if r == nil {
			continue
		}
		k := keyFn(&picks[i])
		grouped[k] = append(grouped[k], *r)
	}

	out := make(map[string]BucketStats, len(grouped))
	for k, returns := range grouped {
		out[k] = BucketStats{
			AvgReturn: mean(returns),
			WinRate:   winRate(returns),
			Picks:     len(returns),
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Evaluation (filtered vs all partitions)
// ---------------------------------------------------------------------------

// PartitionStats summarizes one partition of picks for a horizon.
type PartitionStats struct {
	Count        int      `json:"count"`
	AvgReturn    *float64 `json:"avg_return,omitempty"`
	WinRate      *float64 `json:"win_rate,omitempty"`
	SPYAvgReturn *float64 `json:"spy_avg_return,omitempty"`
	PicksPerWeek *float64 `json:"picks_per_week,omitempty"`
}

// Evaluation is the result of scoring a pick set under a weight/threshold
// configuration for one horizon.
type Evaluation struct {
	All        PartitionStats `json:"all_picks"`
	Filtered   PartitionStats `json:"filtered_picks"`
	FilterRate float64        `json:"filter_rate"`
	Weights    domain.Weights `json:"weights"`
	Threshold  float64        `json:"threshold"`
}

// Evaluate rescores picks from their stored indicators under the given
// weights and partitions them at the threshold, reporting statistics for
// both partitions. Picks without a resolved return for the horizon are
// ignored entirely; no price data is touched.
func Evaluate(picks []domain.Pick, weights domain.Weights, threshold float64, years int) Evaluation {
	var all, filtered []domain.Pick
	for i := range picks {
		if picks[i].Return(years) == nil {
			continue
		}
		all = append(all, picks[i])
		if Rescore(picks[i].Indicators, weights) >= threshold {
			filtered = append(filtered, picks[i])
		}
	}

	ev := Evaluation{
		All:       partitionStats(all, years),
		Filtered:  partitionStats(filtered, years),
		Weights:   weights,
		Threshold: threshold,
	}
	if len(all) > 0 {
		ev.FilterRate = float64(len(filtered)) / float64(len(all)) * 100
	}
	if rate := picksPerWeek(filtered); rate != nil {
		ev.Filtered.PicksPerWeek = rate
	}
	return ev
}

func partitionStats(picks []domain.Pick, years int) PartitionStats {
	var returns, spy []float64
	for i := range picks {
		if r := picks[i].Return(years); r != nil {
			returns = append(returns, *r)
		}
		if s := picks[i].SPYReturn(years); s != nil {
			spy = append(spy, *s)
		}
	}

	ps := PartitionStats{Count: len(returns)}
	if len(returns) > 0 {
		ps.AvgReturn = domain.Float64Ptr(mean(returns))
		ps.WinRate = domain.Float64Ptr(winRate(returns))
	}
	if len(spy) > 0 {
		ps.SPYAvgReturn = domain.Float64Ptr(mean(spy))
	}
	return ps
}

// picksPerWeek estimates the pick frequency over the filtered set's date
// span, or nil when the span is under a week.
func picksPerWeek(picks []domain.Pick) *float64 {
	if len(picks) == 0 {
		return nil
	}
	dates := make([]int64, 0, len(picks))
	for i := range picks {
		dates = append(dates, picks[i].LoserDate.Unix())
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	weeks := float64(dates[len(dates)-1]-dates[0]) / (7 * 24 * 3600)
	if weeks <= 0 {
		return nil
	}
	return domain.Float64Ptr(float64(len(picks)) / weeks)
}

// FilterPicks returns the picks whose stored-indicator rescoring meets the
// threshold under the given weights, with ConfidenceScore updated.
func FilterPicks(picks []domain.Pick, weights domain.Weights, threshold float64) []domain.Pick {
	var out []domain.Pick
	for i := range picks {
		score := Rescore(picks[i].Indicators, weights)
		if score >= threshold {
			p := picks[i]
			p.ConfidenceScore = score
			out = append(out, p)
		}
	}
	return out
}

func constant(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] != xs[0] {
			return false
		}
	}
	return true
}

func withResolvedReturn(picks []domain.Pick, years int) []domain.Pick {
	var out []domain.Pick
	for i := range picks {
		if picks[i].Return(years) != nil {
			out = append(out, picks[i])
		}
	}
	return out
}
