package cache

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// pruneCheckEvery bounds how often Record checks the row cap.
const pruneCheckEvery = 100

// RunStore persists per-case grading results so past runs can be reported on
// after the session that produced them has ended.
type RunStore struct {
	db *sql.DB

	maxRows     atomic.Int64
	insertCount atomic.Int64
}

// NewRunStore creates the run_results table and index if they don't exist,
// then returns a RunStore backed by the provided *sql.DB.
func NewRunStore(db *sql.DB) (*RunStore, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_results (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT    NOT NULL,
			case_idx   INTEGER NOT NULL,
			pass       INTEGER NOT NULL,
			score      REAL    NOT NULL,
			payload    BLOB    NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create run_results table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_run_results_run_idx
		ON run_results (run_id, case_idx)
	`); err != nil {
		return nil, fmt.Errorf("create run_results index: %w", err)
	}

	s := &RunStore{db: db}
	s.maxRows.Store(100_000)
	return s, nil
}

// SetMaxRows overrides the row cap enforced by periodic pruning.
func (s *RunStore) SetMaxRows(n int64) {
	if n > 0 {
		s.maxRows.Store(n)
	}
}

// Record inserts one case result for the given run.
func (s *RunStore) Record(runID string, caseIdx int, result *types.CaseResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal case result: %w", err)
	}

	pass := 0
	if result.Pass {
		pass = 1
	}

	_, err = s.db.Exec(
		`INSERT INTO run_results (run_id, case_idx, pass, score, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, caseIdx, pass, result.Score, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record case result: %w", err)
	}

	if n := s.insertCount.Add(1); n%pruneCheckEvery == 0 {
		if err := s.prune(); err != nil {
			return fmt.Errorf("prune run results: %w", err)
		}
	}
	return nil
}

// Cases returns all case results recorded for runID in case order.
func (s *RunStore) Cases(runID string) ([]*types.CaseResult, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM run_results WHERE run_id = ? ORDER BY case_idx ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run cases: %w", err)
	}
	defer rows.Close()

	var results []*types.CaseResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan case payload: %w", err)
		}
		var r types.CaseResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("unmarshal case payload: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run cases rows: %w", err)
	}
	return results, nil
}

// LatestRunID returns the run with the most recent recorded result, or ""
// when no results exist.
func (s *RunStore) LatestRunID() (string, error) {
	row := s.db.QueryRow(`SELECT run_id FROM run_results ORDER BY created_at DESC, id DESC LIMIT 1`)
	var runID string
	if err := row.Scan(&runID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("latest run: %w", err)
	}
	return runID, nil
}

// Summary computes pass/fail counts and the mean case score for runID.
// Returns zeroes when the run has no rows.
func (s *RunStore) Summary(runID string) (passCount, failCount int, meanScore float64, err error) {
	row := s.db.QueryRow(
		`SELECT COALESCE(SUM(pass), 0), COALESCE(SUM(1 - pass), 0), COALESCE(AVG(score), 0.0)
		 FROM run_results WHERE run_id = ?`,
		runID,
	)
	if err = row.Scan(&passCount, &failCount, &meanScore); err != nil {
		return 0, 0, 0, fmt.Errorf("run summary: %w", err)
	}
	return passCount, failCount, meanScore, nil
}

// prune deletes the oldest rows once the table exceeds the configured cap.
func (s *RunStore) prune() error {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM run_results`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return err
	}
	max := s.maxRows.Load()
	if count <= max {
		return nil
	}

	_, err := s.db.Exec(
		`DELETE FROM run_results WHERE id IN (SELECT id FROM run_results ORDER BY created_at ASC, id ASC LIMIT ?)`,
		count-max,
	)
	return err
}
