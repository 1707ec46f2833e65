package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dipscan/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ ModelStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    start_date   TEXT NOT NULL,
    end_date     TEXT NOT NULL,
    hold_years   TEXT NOT NULL,
    status       TEXT NOT NULL,
    progress     REAL NOT NULL DEFAULT 0,
    message      TEXT NOT NULL DEFAULT '',
    weights      TEXT,
    threshold    REAL NOT NULL DEFAULT 0,
    model_id     TEXT,
    created_at   TEXT NOT NULL,
    completed_at TEXT
);

CREATE TABLE IF NOT EXISTS picks (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    loser_date       TEXT NOT NULL,
    ticker           TEXT NOT NULL,
    daily_loss_pct   REAL NOT NULL,
    ranking          INTEGER NOT NULL,
    industry         TEXT,
    dividend_yield   REAL NOT NULL DEFAULT 0,
    volume           INTEGER NOT NULL DEFAULT 0,
    confidence_score REAL NOT NULL DEFAULT 0,
    indicators       TEXT NOT NULL,
    purchase_date    TEXT,
    purchase_price   REAL,
    returns          TEXT NOT NULL,
    spy_returns      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scoring_models (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    weights       TEXT NOT NULL,
    threshold     REAL NOT NULL,
    source_run_id TEXT,
    avg_return    REAL,
    win_rate      REAL,
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_picks_run     ON picks(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_created  ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_models_created ON scoring_models(created_at DESC);
`

// SQLiteStore implements RunStore and ModelStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath, applies the
// schema, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %q: %w", dbPath, err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	holdYears, err := json.Marshal(run.HoldYears)
	if err != nil {
		return fmt.Errorf("marshaling hold years: %w", err)
	}
	weights, err := marshalNullable(run.Weights)
	if err != nil {
		return fmt.Errorf("marshaling weights: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, start_date, end_date, hold_years, status,
			progress, message, weights, threshold, model_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind),
		run.StartDate.Format(domain.DateFormat),
		run.EndDate.Format(domain.DateFormat),
		string(holdYears), string(run.Status),
		run.Progress, run.Message, weights, run.Threshold,
		nullString(run.ModelID),
		run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, start_date, end_date, hold_years, status, progress,
			message, weights, threshold, model_id, created_at, completed_at
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, start_date, end_date, hold_years, status, progress,
			message, weights, threshold, model_id, created_at, completed_at
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRunState publishes a run's status, progress, and message in one
// statement so readers never observe a torn update.
func (s *SQLiteStore) UpdateRunState(ctx context.Context, id string, status domain.RunStatus, progress float64, message string, completedAt *time.Time) error {
	var completed any
	if completedAt != nil {
		completed = completedAt.UTC().Format(time.RFC3339)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, progress = ?, message = ?, completed_at = ?
		WHERE id = ?`,
		string(status), progress, message, completed, id)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRun removes a run; its picks go with it via the cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePicks persists a run's evaluated picks in one transaction.
func (s *SQLiteStore) SavePicks(ctx context.Context, runID string, picks []domain.Pick) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning picks tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO picks (run_id, loser_date, ticker, daily_loss_pct, ranking,
			industry, dividend_yield, volume, confidence_score, indicators,
			purchase_date, purchase_price, returns, spy_returns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing picks insert: %w", err)
	}
	defer stmt.Close()

	for i := range picks {
		p := &picks[i]

		indicators, err := json.Marshal(p.Indicators)
		if err != nil {
			return fmt.Errorf("marshaling indicators: %w", err)
		}
		returns, err := json.Marshal(p.Returns)
		if err != nil {
			return fmt.Errorf("marshaling returns: %w", err)
		}
		spyReturns, err := json.Marshal(p.SPYReturns)
		if err != nil {
			return fmt.Errorf("marshaling spy returns: %w", err)
		}

		var purchaseDate, purchasePrice any
		if p.PurchaseDate != nil {
			purchaseDate = p.PurchaseDate.Format(domain.DateFormat)
		}
		if p.PurchasePrice != nil {
			purchasePrice = *p.PurchasePrice
		}

		if _, err := stmt.ExecContext(ctx,
			runID, p.LoserDate.Format(domain.DateFormat), p.Ticker,
			p.DailyLossPct, p.Ranking, p.Industry, p.DividendYield, p.Volume,
			p.ConfidenceScore, string(indicators),
			purchaseDate, purchasePrice, string(returns), string(spyReturns),
		); err != nil {
			return fmt.Errorf("inserting pick %s/%s: %w", runID, p.Ticker, err)
		}
	}
	return tx.Commit()
}

// GetPicks returns a run's picks ordered by loser date, then ranking.
func (s *SQLiteStore) GetPicks(ctx context.Context, runID string) ([]domain.Pick, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT loser_date, ticker, daily_loss_pct, ranking, industry,
			dividend_yield, volume, confidence_score, indicators,
			purchase_date, purchase_price, returns, spy_returns
		FROM picks WHERE run_id = ? ORDER BY loser_date, ranking`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying picks for %s: %w", runID, err)
	}
	defer rows.Close()

	var picks []domain.Pick
	for rows.Next() {
		var (
			p                           domain.Pick
			loserDate                   string
			indicators, rets, spyRets   string
			purchaseDate                sql.NullString
			purchasePrice               sql.NullFloat64
		)
		if err := rows.Scan(&loserDate, &p.Ticker, &p.DailyLossPct, &p.Ranking,
			&p.Industry, &p.DividendYield, &p.Volume, &p.ConfidenceScore,
			&indicators, &purchaseDate, &purchasePrice, &rets, &spyRets); err != nil {
			return nil, fmt.Errorf("scanning pick: %w", err)
		}

		p.LoserDate, err = time.Parse(domain.DateFormat, loserDate)
		if err != nil {
			return nil, fmt.Errorf("parsing loser date %q: %w", loserDate, err)
		}
		if err := json.Unmarshal([]byte(indicators), &p.Indicators); err != nil {
			return nil, fmt.Errorf("unmarshaling indicators: %w", err)
		}
		if err := json.Unmarshal([]byte(rets), &p.Returns); err != nil {
			return nil, fmt.Errorf("unmarshaling returns: %w", err)
		}
		if err := json.Unmarshal([]byte(spyRets), &p.SPYReturns); err != nil {
			return nil, fmt.Errorf("unmarshaling spy returns: %w", err)
		}
		if purchaseDate.Valid {
			d, err := time.Parse(domain.DateFormat, purchaseDate.String)
			if err == nil {
				p.PurchaseDate = &d
			}
		}
		if purchasePrice.Valid {
			p.PurchasePrice = &purchasePrice.Float64
		}

		picks = append(picks, p)
	}
	return picks, rows.Err()
}

// ---------------------------------------------------------------------------
// ModelStore implementation
// ---------------------------------------------------------------------------

// CreateModel inserts a new scoring model.
func (s *SQLiteStore) CreateModel(ctx context.Context, m *domain.ScoringModel) error {
	weights, err := json.Marshal(m.Weights)
	if err != nil {
		return fmt.Errorf("marshaling model weights: %w", err)
	}

	var avgReturn, winRate any
	if m.AvgReturn != nil {
		avgReturn = *m.AvgReturn
	}
	if m.WinRate != nil {
		winRate = *m.WinRate
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scoring_models (id, name, weights, threshold,
			source_run_id, avg_return, win_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, string(weights), m.Threshold,
		nullString(m.SourceRunID), avgReturn, winRate,
		m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting model %s: %w", m.ID, err)
	}
	return nil
}

// GetModel retrieves a model by id.
func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*domain.ScoringModel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, weights, threshold, source_run_id, avg_return,
			win_rate, created_at
		FROM scoring_models WHERE id = ?`, id)

	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying model %s: %w", id, err)
	}
	return m, nil
}

// ListModels returns all models, newest first.
func (s *SQLiteStore) ListModels(ctx context.Context) ([]domain.ScoringModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, weights, threshold, source_run_id, avg_return,
			win_rate, created_at
		FROM scoring_models ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer rows.Close()

	var models []domain.ScoringModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning model: %w", err)
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

// DeleteModel removes a model.
func (s *SQLiteStore) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scoring_models WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting model %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scan helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		run                  domain.Run
		kind, status         string
		startDate, endDate   string
		holdYears, createdAt string
		weights, modelID     sql.NullString
		completedAt          sql.NullString
	)
	err := row.Scan(&run.ID, &kind, &startDate, &endDate, &holdYears, &status,
		&run.Progress, &run.Message, &weights, &run.Threshold, &modelID,
		&createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.Kind = domain.RunKind(kind)
	run.Status = domain.RunStatus(status)
	if run.StartDate, err = time.Parse(domain.DateFormat, startDate); err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", startDate, err)
	}
	if run.EndDate, err = time.Parse(domain.DateFormat, endDate); err != nil {
		return nil, fmt.Errorf("parsing end date %q: %w", endDate, err)
	}
	if err := json.Unmarshal([]byte(holdYears), &run.HoldYears); err != nil {
		return nil, fmt.Errorf("unmarshaling hold years: %w", err)
	}
	if weights.Valid && weights.String != "" {
		if err := json.Unmarshal([]byte(weights.String), &run.Weights); err != nil {
			return nil, fmt.Errorf("unmarshaling weights: %w", err)
		}
	}
	if modelID.Valid {
		run.ModelID = modelID.String
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created at %q: %w", createdAt, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			run.CompletedAt = &t
		}
	}
	return &run, nil
}

func scanModel(row rowScanner) (*domain.ScoringModel, error) {
	var (
		m                  domain.ScoringModel
		weights, createdAt string
		sourceRunID        sql.NullString
		avgReturn, winRate sql.NullFloat64
	)
	err := row.Scan(&m.ID, &m.Name, &weights, &m.Threshold, &sourceRunID,
		&avgReturn, &winRate, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(weights), &m.Weights); err != nil {
		return nil, fmt.Errorf("unmarshaling model weights: %w", err)
	}
	if sourceRunID.Valid {
		m.SourceRunID = sourceRunID.String
	}
	if avgReturn.Valid {
		m.AvgReturn = &avgReturn.Float64
	}
	if winRate.Valid {
		m.WinRate = &winRate.Float64
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created at %q: %w", createdAt, err)
	}
	return &m, nil
}

func marshalNullable(w domain.Weights) (any, error) {
	if w == nil {
		return nil, nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
