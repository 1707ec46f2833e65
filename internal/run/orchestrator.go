// Package run orchestrates backtest runs: submission, background
// execution with progress reporting, cancellation, and result assembly.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dipscan/internal/domain"
	"dipscan/internal/engine"
	"dipscan/internal/marketdata"
	"dipscan/internal/store"
)

// ErrNotReady is returned when results are requested for a run that has not
// completed.
var ErrNotReady = errors.New("run not completed")

// ConfigError marks a rejected submission: bad dates, weights, threshold,
// or hold years. The HTTP layer maps it to a 400.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Progress checkpoints. Bar fetching dominates wall time, so it gets the
// first segment; the day scan gets the second.
const (
	progressCalendar  = 2.0
	progressFetching  = 5.0
	progressScanStart = 45.0
	progressScanEnd   = 90.0
	progressSaving    = 95.0
)

// holdSlackDays is added past the last horizon when fetching bars so the
// sell leg's first-on-or-after lookup has room for holidays and weekends.
const holdSlackDays = 30

// prevCloseSlackDays is fetched before the range start so the first trading
// day has a previous close to diff against.
const prevCloseSlackDays = 7

// TrainingParams is a training run submission.
type TrainingParams struct {
	StartDate time.Time
	EndDate   time.Time
	HoldYears []int
}

// AnalysisParams is an analysis run submission. Either Weights/Threshold or
// ModelID configures the scoring; a model id wins when both are present.
type AnalysisParams struct {
	StartDate time.Time
	EndDate   time.Time
	HoldYears []int
	Weights   domain.Weights
	Threshold float64
	ModelID   string
}

// Results is everything computed for a completed run.
type Results struct {
	Run         *domain.Run                     `json:"run"`
	Picks       []domain.Pick                   `json:"picks"`
	Horizons    map[int]*engine.HorizonAnalysis `json:"horizons"`
	Evaluations map[int]engine.Evaluation       `json:"evaluations,omitempty"`
}

// Orchestrator owns the run lifecycle. One background goroutine per active
// run; the run record in the store is the single source of truth for status
// and progress.
type Orchestrator struct {
	runs      store.RunStore
	models    store.ModelStore
	bars      marketdata.BarProvider
	cal       marketdata.Calendar
	funds     marketdata.FundamentalsSource
	cons      *marketdata.Constituents
	scorer    engine.Scorer
	benchmark string
	log       *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Options configures an Orchestrator.
type Options struct {
	Runs         store.RunStore
	Models       store.ModelStore
	Bars         marketdata.BarProvider
	Calendar     marketdata.Calendar
	Fundamentals marketdata.FundamentalsSource
	Constituents *marketdata.Constituents
	Scorer       engine.Scorer
	Benchmark    string
	Logger       *slog.Logger
}

// NewOrchestrator wires an Orchestrator. Benchmark defaults to SPY and the
// scorer to the rules-based one.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Benchmark == "" {
		opts.Benchmark = "SPY"
	}
	if opts.Scorer == nil {
		opts.Scorer = &engine.RuleScorer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		runs:      opts.Runs,
		models:    opts.Models,
		bars:      opts.Bars,
		cal:       opts.Calendar,
		funds:     opts.Fundamentals,
		cons:      opts.Constituents,
		scorer:    opts.Scorer,
		benchmark: opts.Benchmark,
		log:       opts.Logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// StartTraining validates and queues a training run, then executes it in the
// background. The returned run is in the queued state.
func (o *Orchestrator) StartTraining(ctx context.Context, p TrainingParams) (*domain.Run, error) {
	holdYears, err := normalizeHoldYears(p.HoldYears)
	if err != nil {
		return nil, err
	}
	if err := validateDates(p.StartDate, p.EndDate); err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		Kind:      domain.RunKindTraining,
		StartDate: truncateDay(p.StartDate),
		EndDate:   truncateDay(p.EndDate),
		HoldYears: holdYears,
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating training run: %w", err)
	}

	o.launch(run)
	return run, nil
}

// StartAnalysis validates and queues an analysis run. Scoring configuration
// resolves in order: named model, explicit weights/threshold, defaults.
func (o *Orchestrator) StartAnalysis(ctx context.Context, p AnalysisParams) (*domain.Run, error) {
	holdYears, err := normalizeHoldYears(p.HoldYears)
	if err != nil {
		return nil, err
	}
	if err := validateDates(p.StartDate, p.EndDate); err != nil {
		return nil, err
	}

	weights := p.Weights
	threshold := p.Threshold
	if p.ModelID != "" {
		m, err := o.models.GetModel(ctx, p.ModelID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, configErrorf("scoring model %s not found", p.ModelID)
		}
		if err != nil {
			return nil, fmt.Errorf("loading scoring model: %w", err)
		}
		weights = m.Weights
		threshold = m.Threshold
	}
	if weights == nil {
		weights = domain.DefaultWeights()
	}
	if err := validateWeights(weights); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 100 {
		return nil, configErrorf("threshold %.2f outside [0, 100]", threshold)
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		Kind:      domain.RunKindAnalysis,
		StartDate: truncateDay(p.StartDate),
		EndDate:   truncateDay(p.EndDate),
		HoldYears: holdYears,
		Status:    domain.RunStatusQueued,
		Weights:   weights,
		Threshold: threshold,
		ModelID:   p.ModelID,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating analysis run: %w", err)
	}

	o.launch(run)
	return run, nil
}

// launch starts the run's background task and registers its cancel func.
func (o *Orchestrator) launch(run *domain.Run) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.cancels[run.ID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.cancels, run.ID)
			o.mu.Unlock()
			cancel()
		}()

		o.log.Info("run started",
			"run_id", run.ID,
			"kind", string(run.Kind),
			"start", run.StartDate.Format(domain.DateFormat),
			"end", run.EndDate.Format(domain.DateFormat))

		if err := o.execute(ctx, run); err != nil {
			if ctx.Err() != nil {
				o.finish(run.ID, domain.RunStatusFailed, "canceled")
				o.log.Info("run canceled", "run_id", run.ID)
				return
			}
			o.finish(run.ID, domain.RunStatusFailed, err.Error())
			o.log.Error("run failed", "run_id", run.ID, "error", err)
			return
		}
		o.log.Info("run completed", "run_id", run.ID)
	}()
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// execute runs the full pipeline. Picks are written once at the end, so a
// failure anywhere leaves no partial picks behind.
func (o *Orchestrator) execute(ctx context.Context, run *domain.Run) error {
	o.progress(run.ID, progressCalendar, "resolving trading calendar")

	days, err := o.cal.TradingDays(ctx, run.StartDate, run.EndDate)
	if err != nil {
		return fmt.Errorf("resolving trading calendar: %w", err)
	}
	if len(days) == 0 {
		return fmt.Errorf("no trading days between %s and %s",
			run.StartDate.Format(domain.DateFormat), run.EndDate.Format(domain.DateFormat))
	}

	maxHold := run.HoldYears[len(run.HoldYears)-1]
	dataStart := run.StartDate.AddDate(0, 0, -prevCloseSlackDays)
	dataEnd := run.EndDate.AddDate(0, 0, 365*maxHold+holdSlackDays)

	universe := o.cons.TickersBetween(run.StartDate, run.EndDate)
	tickers := append([]string{o.benchmark}, universe...)

	o.progress(run.ID, progressFetching,
		fmt.Sprintf("fetching daily bars for %d tickers", len(tickers)))

	series, err := o.bars.DailyBars(ctx, tickers, dataStart, dataEnd)
	if err != nil {
		return fmt.Errorf("fetching daily bars: %w", err)
	}
	benchmark := series[o.benchmark]
	if benchmark == nil || benchmark.Len() == 0 {
		return fmt.Errorf("no bars for benchmark %s", o.benchmark)
	}

	weights := run.Weights
	if weights == nil {
		weights = domain.DefaultWeights()
	}

	var picks []domain.Pick
	lastProgress := progressScanStart
	for i, day := range days {
		// Cancellation is checked between trading days; a day's work is
		// the unit of interruption.
		if err := ctx.Err(); err != nil {
			return err
		}

		picks = append(picks, o.scanDay(day, series, weights, run.HoldYears, benchmark)...)

		p := progressScanStart + (progressScanEnd-progressScanStart)*float64(i+1)/float64(len(days))
		if p-lastProgress >= 1 || i == len(days)-1 {
			o.progress(run.ID, p, fmt.Sprintf("scanning %s", day.Format(domain.DateFormat)))
			lastProgress = p
		}
	}

	o.progress(run.ID, progressSaving, fmt.Sprintf("saving %d picks", len(picks)))
	if err := o.runs.SavePicks(ctx, run.ID, picks); err != nil {
		return fmt.Errorf("saving picks: %w", err)
	}

	if run.Kind == domain.RunKindTraining {
		o.saveSuggestedModel(ctx, run, picks)
	}

	o.finish(run.ID, domain.RunStatusCompleted, "")
	return nil
}

// scanDay detects the day's biggest losers, scores them, and resolves their
// forward returns.
func (o *Orchestrator) scanDay(day time.Time, series map[string]*marketdata.Series, weights domain.Weights, holdYears []int, benchmark *marketdata.Series) []domain.Pick {
	members := o.cons.TickersOn(day)

	quotes := make([]engine.Quote, 0, len(members))
	for ticker := range members {
		s := series[ticker]
		if s == nil {
			continue
		}
		bar := s.BarOn(day)
		prev := s.PrevBefore(day)
		if bar == nil || prev == nil {
			continue
		}
		quotes = append(quotes, engine.Quote{
			Ticker:    ticker,
			Close:     bar.Close,
			PrevClose: prev.Close,
		})
	}

	raw := engine.BiggestLosers(day, quotes, nil, domain.TopLosers)
	picks := make([]domain.Pick, 0, len(raw))
	for _, rp := range raw {
		f := o.funds.Fundamentals(rp.Ticker)
		score, indicators := o.scorer.Score(rp, f, weights)

		pick := domain.Pick{
			RawPick:         rp,
			Industry:        f.Industry,
			DividendYield:   f.DividendYield,
			Volume:          f.Volume,
			ConfidenceScore: score,
			Indicators:      indicators,
		}
		engine.EvaluatePick(&pick, series[rp.Ticker], benchmark, holdYears)
		picks = append(picks, pick)
	}
	return picks
}

// saveSuggestedModel derives a scoring model from a completed training run's
// correlations at the longest horizon. Failure to save it is logged, not
// fatal: the run's picks are already persisted.
func (o *Orchestrator) saveSuggestedModel(ctx context.Context, run *domain.Run, picks []domain.Pick) {
	years := run.HoldYears[len(run.HoldYears)-1]
	analysis := engine.Analyze(picks, []int{years})[years]
	if analysis == nil {
		o.log.Warn("no resolved returns, skipping suggested model", "run_id", run.ID)
		return
	}

	model := &domain.ScoringModel{
		ID:          uuid.NewString(),
		Name:        fmt.Sprintf("suggested %s (%dy)", run.StartDate.Format("2006-01"), years),
		Weights:     analysis.SuggestedWeights,
		Threshold:   domain.DefaultThreshold,
		SourceRunID: run.ID,
		AvgReturn:   domain.Float64Ptr(analysis.Summary.AvgReturn),
		WinRate:     domain.Float64Ptr(analysis.Summary.WinRate),
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.models.CreateModel(ctx, model); err != nil {
		o.log.Warn("saving suggested model", "run_id", run.ID, "error", err)
		return
	}
	o.log.Info("suggested model saved", "run_id", run.ID, "model_id", model.ID)
}

// progress publishes a running-state heartbeat; errors are logged only,
// since progress is advisory.
func (o *Orchestrator) progress(runID string, pct float64, message string) {
	err := o.runs.UpdateRunState(context.Background(), runID, domain.RunStatusRunning, pct, message, nil)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		o.log.Warn("updating run progress", "run_id", runID, "error", err)
	}
}

// finish moves the run to a terminal state. A not-found store error means
// the run was deleted mid-flight and is ignored.
func (o *Orchestrator) finish(runID string, status domain.RunStatus, message string) {
	progress := 100.0
	if status == domain.RunStatusFailed {
		progress = 0
	}
	now := time.Now().UTC()
	err := o.runs.UpdateRunState(context.Background(), runID, status, progress, message, &now)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		o.log.Error("finalizing run", "run_id", runID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Status returns the run record.
func (o *Orchestrator) Status(ctx context.Context, id string) (*domain.Run, error) {
	return o.runs.GetRun(ctx, id)
}

// List returns all runs, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]domain.Run, error) {
	return o.runs.ListRuns(ctx)
}

// Picks returns a completed run's picks. Analysis runs return only the
// picks that met the run's threshold, rescored under the run's weights.
func (o *Orchestrator) Picks(ctx context.Context, id string) ([]domain.Pick, error) {
	run, err := o.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusCompleted {
		return nil, ErrNotReady
	}
	picks, err := o.runs.GetPicks(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Kind == domain.RunKindAnalysis {
		picks = engine.FilterPicks(picks, run.Weights, run.Threshold)
	}
	return picks, nil
}

// Results assembles the full per-horizon analysis for a completed run.
// Analysis runs additionally carry the all-vs-filtered evaluation under the
// run's weights and threshold.
func (o *Orchestrator) Results(ctx context.Context, id string) (*Results, error) {
	run, err := o.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusCompleted {
		return nil, ErrNotReady
	}

	picks, err := o.runs.GetPicks(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &Results{
		Run:      run,
		Picks:    picks,
		Horizons: engine.Analyze(picks, run.HoldYears),
	}
	if run.Kind == domain.RunKindAnalysis {
		res.Evaluations = make(map[int]engine.Evaluation, len(run.HoldYears))
		for _, years := range run.HoldYears {
			res.Evaluations[years] = engine.Evaluate(picks, run.Weights, run.Threshold, years)
		}
	}
	return res, nil
}

// Evaluate rescores a completed run's stored picks under ad-hoc weights and
// threshold. Synchronous: no price data is fetched.
func (o *Orchestrator) Evaluate(ctx context.Context, id string, weights domain.Weights, threshold float64, years int) (*engine.Evaluation, error) {
	if weights == nil {
		weights = domain.DefaultWeights()
	}
	if err := validateWeights(weights); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 100 {
		return nil, configErrorf("threshold %.2f outside [0, 100]", threshold)
	}

	run, err := o.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusCompleted {
		return nil, ErrNotReady
	}
	if !containsYear(run.HoldYears, years) {
		return nil, configErrorf("run %s has no %d-year horizon", id, years)
	}

	picks, err := o.runs.GetPicks(ctx, id)
	if err != nil {
		return nil, err
	}
	ev := engine.Evaluate(picks, weights, threshold, years)
	return &ev, nil
}

// Delete cancels the run if it is still executing, then removes it and its
// picks.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	if cancel, ok := o.cancels[id]; ok {
		cancel()
	}
	o.mu.Unlock()

	return o.runs.DeleteRun(ctx, id)
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// normalizeHoldYears sorts, deduplicates, and validates holding horizons.
func normalizeHoldYears(years []int) ([]int, error) {
	if len(years) == 0 {
		return nil, configErrorf("hold_years must not be empty")
	}
	seen := make(map[int]struct{}, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if y <= 0 {
			return nil, configErrorf("hold year %d must be positive", y)
		}
		if _, dup := seen[y]; dup {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

func validateDates(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return configErrorf("start_date and end_date are required")
	}
	if end.Before(start) {
		return configErrorf("end_date %s is before start_date %s",
			end.Format(domain.DateFormat), start.Format(domain.DateFormat))
	}
	return nil
}

func validateWeights(w domain.Weights) error {
	known := make(map[string]struct{}, len(domain.FactorNames))
	for _, name := range domain.FactorNames {
		known[name] = struct{}{}
	}
	for name, v := range w {
		if _, ok := known[name]; !ok {
			return configErrorf("unknown factor %q", name)
		}
		if v < 0 {
			return configErrorf("factor %q has negative weight %.2f", name, v)
		}
	}
	return nil
}

func containsYear(years []int, y int) bool {
	for _, v := range years {
		if v == y {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
