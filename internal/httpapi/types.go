// Package httpapi provides the HTTP REST API for backtest runs, stored
// picks, and scoring models.
package httpapi

import (
	"fmt"
	"time"

	"dipscan/internal/domain"
	"dipscan/internal/engine"
)

// trainingRequest is the body for starting a training run.
type trainingRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	HoldYears []int  `json:"hold_years"`
}

// analysisRequest is the body for starting an analysis run. Weights and
// threshold may come inline or via a saved model id.
type analysisRequest struct {
	StartDate string         `json:"start_date"`
	EndDate   string         `json:"end_date"`
	HoldYears []int          `json:"hold_years"`
	Weights   domain.Weights `json:"weights,omitempty"`
	Threshold *float64       `json:"threshold,omitempty"`
	ModelID   string         `json:"scoring_model_id,omitempty"`
}

// evaluateRequest is the body for a synchronous what-if evaluation over a
// run's stored picks.
type evaluateRequest struct {
	Weights   domain.Weights `json:"weights,omitempty"`
	Threshold *float64       `json:"threshold,omitempty"`
	HoldYears int            `json:"hold_years"`
}

// modelRequest is the body for saving a scoring model.
type modelRequest struct {
	Name      string         `json:"name"`
	Weights   domain.Weights `json:"weights"`
	Threshold float64        `json:"threshold"`
}

// runJSON is the wire shape of a run, with dates rendered as YYYY-MM-DD.
type runJSON struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	StartDate   string         `json:"start_date"`
	EndDate     string         `json:"end_date"`
	HoldYears   []int          `json:"hold_years"`
	Status      string         `json:"status"`
	Progress    float64        `json:"progress"`
	Message     string         `json:"message,omitempty"`
	Weights     domain.Weights `json:"weights,omitempty"`
	Threshold   *float64       `json:"threshold,omitempty"`
	ModelID     string         `json:"scoring_model_id,omitempty"`
	CreatedAt   string         `json:"created_at"`
	CompletedAt string         `json:"completed_at,omitempty"`
}

func toRunJSON(r *domain.Run) runJSON {
	out := runJSON{
		ID:        r.ID,
		Kind:      string(r.Kind),
		StartDate: r.StartDate.Format(domain.DateFormat),
		EndDate:   r.EndDate.Format(domain.DateFormat),
		HoldYears: r.HoldYears,
		Status:    string(r.Status),
		Progress:  r.Progress,
		Message:   r.Message,
		Weights:   r.Weights,
		ModelID:   r.ModelID,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.Kind == domain.RunKindAnalysis {
		out.Threshold = domain.Float64Ptr(r.Threshold)
	}
	if r.CompletedAt != nil {
		out.CompletedAt = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// pickJSON is the wire shape of a pick.
type pickJSON struct {
	LoserDate       string             `json:"loser_date"`
	Ticker          string             `json:"ticker"`
	DailyLossPct    float64            `json:"daily_loss_pct"`
	Ranking         int                `json:"ranking"`
	Industry        string             `json:"industry"`
	DividendYield   float64            `json:"dividend_yield"`
	Volume          int64              `json:"volume"`
	ConfidenceScore float64            `json:"confidence_score"`
	Indicators      domain.Indicators  `json:"indicators"`
	PurchaseDate    string             `json:"purchase_date,omitempty"`
	PurchasePrice   *float64           `json:"purchase_price,omitempty"`
	Returns         map[string]*float64 `json:"returns"`
	SPYReturns      map[string]*float64 `json:"spy_returns"`
}

func toPickJSON(p *domain.Pick) pickJSON {
	out := pickJSON{
		LoserDate:       p.LoserDate.Format(domain.DateFormat),
		Ticker:          p.Ticker,
		DailyLossPct:    p.DailyLossPct,
		Ranking:         p.Ranking,
		Industry:        p.Industry,
		DividendYield:   p.DividendYield,
		Volume:          p.Volume,
		ConfidenceScore: p.ConfidenceScore,
		Indicators:      p.Indicators,
		PurchasePrice:   p.PurchasePrice,
		Returns:         horizonMap(p.Returns),
		SPYReturns:      horizonMap(p.SPYReturns),
	}
	if p.PurchaseDate != nil {
		out.PurchaseDate = p.PurchaseDate.Format(domain.DateFormat)
	}
	return out
}

// horizonMap keys returns by "1y"-style labels for JSON.
func horizonMap(m map[int]*float64) map[string]*float64 {
	out := make(map[string]*float64, len(m))
	for years, v := range m {
		out[horizonLabel(years)] = v
	}
	return out
}

func horizonLabel(years int) string {
	return fmt.Sprintf("%dy", years)
}

// resultsResponse is the wire shape of a completed run's analysis.
type resultsResponse struct {
	Run         runJSON                            `json:"run"`
	TotalPicks  int                                `json:"total_picks"`
	Horizons    map[string]*engine.HorizonAnalysis `json:"horizons"`
	Evaluations map[string]engine.Evaluation       `json:"evaluations,omitempty"`
}

// picksResponse lists a run's picks.
type picksResponse struct {
	RunID string     `json:"run_id"`
	Picks []pickJSON `json:"picks"`
}

// runsResponse lists runs.
type runsResponse struct {
	Runs []runJSON `json:"runs"`
}

// modelsResponse lists scoring models.
type modelsResponse struct {
	Models []domain.ScoringModel `json:"models"`
}

// defaultsResponse carries the out-of-the-box scoring configuration.
type defaultsResponse struct {
	Weights   domain.Weights `json:"weights"`
	Threshold float64        `json:"threshold"`
}
