package engine

import (
	"strings"

	"dipscan/internal/domain"
)

// Scorer converts a raw pick plus its fundamentals into a 0-100 confidence
// score under a weight configuration. Implementations must be pure; the
// orchestrator depends only on this interface so an external-model scorer
// can be swapped in without touching the pipeline.
type Scorer interface {
	Score(pick domain.RawPick, f domain.Fundamentals, w domain.Weights) (float64, domain.Indicators)
}

// Indicator thresholds.
const (
	severityLossPct  = -5.0
	lowDividendYield = 1.0
	highVolumeShares = 30_000_000
)

// RuleScorer is the rules-based scorer. TopN is the loser count used to
// scale the ranking factor; zero means domain.TopLosers.
type RuleScorer struct {
	TopN int
}

var _ Scorer = (*RuleScorer)(nil)

// Score computes the weighted factor score for a pick. Each binary factor
// contributes its full weight when the indicator condition holds; ranking
// contributes linearly from full weight at rank 1 down to zero at rank N.
// The total is clamped to [0,100]. Missing fundamentals leave the
// corresponding indicators at zero rather than erroring.
func (s *RuleScorer) Score(pick domain.RawPick, f domain.Fundamentals, w domain.Weights) (float64, domain.Indicators) {
	topN := s.TopN
	if topN <= 0 {
		topN = domain.TopLosers
	}

	var in domain.Indicators

	if isGrowthSector(f.Industry) {
		in.Industry = 1
	}
	if f.DividendYield < lowDividendYield {
		in.Dividend = 1
	}
	if !f.IsREIT {
		in.REIT = 1
	}
	if pick.DailyLossPct < severityLossPct {
		in.Severity = 1
	}
	if f.Volume > highVolumeShares {
		in.Volume = 1
	}
	if topN > 1 {
		in.Ranking = float64(topN-pick.Ranking) / float64(topN-1)
	} else {
		in.Ranking = 1
	}
	if in.Ranking < 0 {
		in.Ranking = 0
	}

	score := w[domain.FactorIndustry]*in.Industry +
		w[domain.FactorDividends]*in.Dividend +
		w[domain.FactorREIT]*in.REIT +
		w[domain.FactorSeverity]*in.Severity +
		w[domain.FactorRanking]*in.Ranking +
		w[domain.FactorVolume]*in.Volume

	return clampScore(score), in
}

// Rescore recomputes a stored pick's score from its saved indicator values
// under new weights. No fundamentals or price data needed, so "what if"
// weight previews stay cheap.
func Rescore(in domain.Indicators, w domain.Weights) float64 {
	score := w[domain.FactorIndustry]*in.Industry +
		w[domain.FactorDividends]*in.Dividend +
		w[domain.FactorREIT]*in.REIT +
		w[domain.FactorSeverity]*in.Severity +
		w[domain.FactorRanking]*in.Ranking +
		w[domain.FactorVolume]*in.Volume
	return clampScore(score)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// isGrowthSector reports whether the industry string names a technology or
// healthcare business. Matching is substring-based because the metadata
// feed uses free-form industry labels ("software - infrastructure").
func isGrowthSector(industry string) bool {
	s := strings.ToLower(industry)
	return strings.Contains(s, "technology") ||
		strings.Contains(s, "healthcare") ||
		strings.Contains(s, "software")
}
