package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipscan/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dipscan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(s string) time.Time {
	d, err := time.Parse(domain.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.Run{
		ID:        "run-1",
		Kind:      domain.RunKindTraining,
		StartDate: date("2020-01-01"),
		EndDate:   date("2020-12-31"),
		HoldYears: []int{1, 2},
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, domain.RunKindTraining, got.Kind)
	assert.Equal(t, run.StartDate, got.StartDate)
	assert.Equal(t, run.EndDate, got.EndDate)
	assert.Equal(t, []int{1, 2}, got.HoldYears)
	assert.Equal(t, domain.RunStatusQueued, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Weights)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalysisRunKeepsScoringConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.Run{
		ID:        "run-a",
		Kind:      domain.RunKindAnalysis,
		StartDate: date("2021-01-01"),
		EndDate:   date("2021-06-30"),
		HoldYears: []int{2},
		Status:    domain.RunStatusQueued,
		Weights:   domain.DefaultWeights(),
		Threshold: 65,
		ModelID:   "model-7",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultWeights(), got.Weights)
	assert.Equal(t, 65.0, got.Threshold)
	assert.Equal(t, "model-7", got.ModelID)
}

func TestUpdateRunState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.Run{
		ID:        "run-u",
		Kind:      domain.RunKindTraining,
		StartDate: date("2020-01-01"),
		EndDate:   date("2020-03-31"),
		HoldYears: []int{1},
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.UpdateRunState(ctx, "run-u", domain.RunStatusRunning, 42.5, "fetching bars", nil))
	got, err := s.GetRun(ctx, "run-u")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.Equal(t, 42.5, got.Progress)
	assert.Equal(t, "fetching bars", got.Message)
	assert.Nil(t, got.CompletedAt)

	done := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateRunState(ctx, "run-u", domain.RunStatusCompleted, 100, "", &done))
	got, err = s.GetRun(ctx, "run-u")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))

	err = s.UpdateRunState(ctx, "ghost", domain.RunStatusRunning, 0, "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.CreateRun(ctx, &domain.Run{
			ID:        id,
			Kind:      domain.RunKindTraining,
			StartDate: date("2020-01-01"),
			EndDate:   date("2020-12-31"),
			HoldYears: []int{1},
			Status:    domain.RunStatusQueued,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[2].ID)
}

func TestPicksRoundTripAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.Run{
		ID:        "run-p",
		Kind:      domain.RunKindTraining,
		StartDate: date("2020-01-01"),
		EndDate:   date("2020-01-31"),
		HoldYears: []int{1, 2},
		Status:    domain.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	purchase := date("2020-01-07")
	picks := []domain.Pick{
		{
			RawPick: domain.RawPick{
				LoserDate:    date("2020-01-06"),
				Ticker:       "XYZ",
				DailyLossPct: -7.2,
				Ranking:      1,
			},
			Industry:        "software - infrastructure",
			DividendYield:   0.4,
			Volume:          42_000_000,
			ConfidenceScore: 80,
			Indicators:      domain.Indicators{Industry: 1, Dividend: 1, REIT: 1, Severity: 1, Ranking: 1, Volume: 1},
			PurchaseDate:    &purchase,
			PurchasePrice:   domain.Float64Ptr(101.5),
			Returns: map[int]*float64{
				1: domain.Float64Ptr(12.3),
				2: nil,
			},
			SPYReturns: map[int]*float64{
				1: domain.Float64Ptr(8.1),
				2: nil,
			},
		},
		{
			RawPick: domain.RawPick{
				LoserDate:    date("2020-01-06"),
				Ticker:       "ABC",
				DailyLossPct: -5.5,
				Ranking:      2,
			},
			Industry:   "unknown",
			Returns:    map[int]*float64{1: nil, 2: nil},
			SPYReturns: map[int]*float64{1: nil, 2: nil},
		},
	}
	require.NoError(t, s.SavePicks(ctx, "run-p", picks))

	got, err := s.GetPicks(ctx, "run-p")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by loser date then ranking.
	assert.Equal(t, "XYZ", got[0].Ticker)
	assert.Equal(t, "ABC", got[1].Ticker)

	p := got[0]
	assert.Equal(t, -7.2, p.DailyLossPct)
	assert.Equal(t, 1, p.Ranking)
	assert.Equal(t, "software - infrastructure", p.Industry)
	assert.Equal(t, 80.0, p.ConfidenceScore)
	assert.Equal(t, 1.0, p.Indicators.Severity)
	require.NotNil(t, p.PurchaseDate)
	assert.Equal(t, purchase, *p.PurchaseDate)
	require.NotNil(t, p.PurchasePrice)
	assert.Equal(t, 101.5, *p.PurchasePrice)
	require.NotNil(t, p.Return(1))
	assert.Equal(t, 12.3, *p.Return(1))
	assert.Nil(t, p.Return(2))
	require.NotNil(t, p.SPYReturn(1))
	assert.Equal(t, 8.1, *p.SPYReturn(1))

	assert.Nil(t, got[1].PurchaseDate)
	assert.Nil(t, got[1].Return(1))

	// Deleting the run cascades to picks.
	require.NoError(t, s.DeleteRun(ctx, "run-p"))
	_, err = s.GetRun(ctx, "run-p")
	assert.ErrorIs(t, err, ErrNotFound)
	orphans, err := s.GetPicks(ctx, "run-p")
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestModelRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &domain.ScoringModel{
		ID:          "model-1",
		Name:        "winter 2024",
		Weights:     domain.Weights{domain.FactorSeverity: 60, domain.FactorVolume: 40},
		Threshold:   70,
		SourceRunID: "run-x",
		AvgReturn:   domain.Float64Ptr(14.2),
		WinRate:     domain.Float64Ptr(61.0),
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateModel(ctx, m))

	got, err := s.GetModel(ctx, "model-1")
	require.NoError(t, err)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, m.Weights, got.Weights)
	assert.Equal(t, 70.0, got.Threshold)
	assert.Equal(t, "run-x", got.SourceRunID)
	require.NotNil(t, got.AvgReturn)
	assert.Equal(t, 14.2, *got.AvgReturn)

	models, err := s.ListModels(ctx)
	require.NoError(t, err)
	assert.Len(t, models, 1)

	require.NoError(t, s.DeleteModel(ctx, "model-1"))
	_, err = s.GetModel(ctx, "model-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteModel(ctx, "model-1"), ErrNotFound)
}
