// Package domain defines the value types shared across the dipscan engine:
// price bars, loser picks, scoring configuration, and backtest runs.
package domain

import "time"

// DateFormat is the canonical date layout used throughout the engine.
const DateFormat = "2006-01-02"

// TopLosers is the number of biggest losers picked per trading day.
const TopLosers = 5

// Bar is one day of OHLCV data for a single ticker.
type Bar struct {
	Ticker    string    `json:"ticker"`
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Fundamentals holds the per-ticker attributes used by the scorer. Missing
// metadata degrades to the zero value: unknown industry, no dividend, no
// volume.
type Fundamentals struct {
	Industry      string  `json:"industry"`
	DividendYield float64 `json:"dividend_yield"`
	IsREIT        bool    `json:"is_reit"`
	Volume        int64   `json:"volume"`
}

// Weights maps factor name to its weight. Recognized factors are the
// Factor* constants below; each weight is 0-50 by UI convention but the
// engine only clamps the resulting score, never the budget.
type Weights map[string]float64

// Recognized scoring factors.
const (
	FactorIndustry  = "industry"
	FactorDividends = "dividends"
	FactorREIT      = "reit"
	FactorSeverity  = "severity_of_loss"
	FactorRanking   = "ranking"
	FactorVolume    = "volume"
)

// FactorNames lists the recognized factors in presentation order.
var FactorNames = []string{
	FactorIndustry,
	FactorDividends,
	FactorREIT,
	FactorSeverity,
	FactorRanking,
	FactorVolume,
}

// DefaultWeights returns the out-of-the-box factor weights.
func DefaultWeights() Weights {
	return Weights{
		FactorIndustry:  15,
		FactorDividends: 15,
		FactorREIT:      10,
		FactorSeverity:  30,
		FactorRanking:   10,
		FactorVolume:    20,
	}
}

// DefaultThreshold is the out-of-the-box confidence filter threshold.
const DefaultThreshold = 65.0

// RawPick is one of the day's biggest losers as emitted by the detector.
// Ranking is 1-based: rank 1 is the most negative daily change, ties broken
// by ticker ascending.
type RawPick struct {
	LoserDate    time.Time `json:"loser_date"`
	Ticker       string    `json:"ticker"`
	DailyLossPct float64   `json:"daily_loss_pct"`
	Ranking      int       `json:"ranking"`
}

// Indicators are the per-factor indicator values captured at scoring time.
// Binary factors are 0/1; ranking is the linear (N-rank)/(N-1) scale.
type Indicators struct {
	Industry float64 `json:"industry"`
	Dividend float64 `json:"dividends"`
	REIT     float64 `json:"reit"`
	Severity float64 `json:"severity_of_loss"`
	Ranking  float64 `json:"ranking"`
	Volume   float64 `json:"volume"`
}

// Value returns the indicator for the named factor, or 0 for unknown names.
func (in Indicators) Value(factor string) float64 {
	switch factor {
	case FactorIndustry:
		return in.Industry
	case FactorDividends:
		return in.Dividend
	case FactorREIT:
		return in.REIT
	case FactorSeverity:
		return in.Severity
	case FactorRanking:
		return in.Ranking
	case FactorVolume:
		return in.Volume
	}
	return 0
}

// Pick is a fully annotated pick: the raw loser, its fundamentals snapshot,
// the confidence score, the purchase leg, and forward returns per horizon.
// A nil return means the horizon could not be resolved (no future bar) and
// is excluded from all aggregates.
type Pick struct {
	RawPick

	Industry      string  `json:"industry"`
	DividendYield float64 `json:"dividend_yield"`
	Volume        int64   `json:"volume"`

	ConfidenceScore float64    `json:"confidence_score"`
	Indicators      Indicators `json:"indicators"`

	PurchaseDate  *time.Time `json:"purchase_date,omitempty"`
	PurchasePrice *float64   `json:"purchase_price,omitempty"`

	// Keyed by holding horizon in years.
	Returns    map[int]*float64 `json:"returns"`
	SPYReturns map[int]*float64 `json:"spy_returns"`
}

// Return returns the pick's forward return for the horizon, or nil.
func (p *Pick) Return(years int) *float64 {
	if p.Returns == nil {
		return nil
	}
	return p.Returns[years]
}

// SPYReturn returns the benchmark return for the horizon, or nil.
func (p *Pick) SPYReturn(years int) *float64 {
	if p.SPYReturns == nil {
		return nil
	}
	return p.SPYReturns[years]
}

// RunKind distinguishes training runs from analysis runs.
type RunKind string

const (
	RunKindTraining RunKind = "training"
	RunKindAnalysis RunKind = "analysis"
)

// RunStatus is the lifecycle state of a backtest run. Completed and failed
// are terminal.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one backtest run. Status, progress, and message are mutated only
// by the run's own background task; everything else is fixed at submission.
type Run struct {
	ID        string    `json:"id"`
	Kind      RunKind   `json:"kind"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	HoldYears []int     `json:"hold_years"`

	Status   RunStatus `json:"status"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message"`

	// Analysis-only scoring configuration.
	Weights   Weights `json:"weights,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	ModelID   string  `json:"scoring_model_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ScoringModel is a named, immutable weight+threshold configuration.
type ScoringModel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Weights   Weights   `json:"weights"`
	Threshold float64   `json:"threshold"`

	// Provenance, set when the model was derived from a training run.
	SourceRunID string   `json:"source_run_id,omitempty"`
	AvgReturn   *float64 `json:"avg_return,omitempty"`
	WinRate     *float64 `json:"win_rate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FactorCorrelation is the correlation of one factor indicator against
// realized returns for a horizon. Correlation and PValue are nil when fewer
// than three observations exist or the indicator has no variance; Note then
// explains why.
type FactorCorrelation struct {
	Factor      string   `json:"factor"`
	Correlation *float64 `json:"correlation,omitempty"`
	PValue      *float64 `json:"p_value,omitempty"`
	Significant bool     `json:"significant"`
	Note        string   `json:"note,omitempty"`
}

// Float64Ptr returns a pointer to v. Convenience for optional numeric fields.
func Float64Ptr(v float64) *float64 { return &v }
