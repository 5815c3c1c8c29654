// Package runlog persists training runs to SQLite: one row per run plus the
// per-episode loss curve and the per-pass removal report, so finished runs
// can be compared and inspected offline.
package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	data_path     TEXT NOT NULL,
	config_json   TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE TABLE IF NOT EXISTS episode_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	episode       INTEGER NOT NULL,
	policy_loss   REAL NOT NULL,
	total_reward  REAL NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS removal_passes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	pass           INTEGER NOT NULL,
	selected_count INTEGER NOT NULL,
	positive_count INTEGER NOT NULL,
	indices_json   TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

// #region types

// Run statuses as stored in the runs table.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// RunRecord is one training run.
type RunRecord struct {
	RunID      string
	DataPath   string
	ConfigJSON string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time // zero when still running
}

// EpisodeRecord is one row of the per-run loss curve.
type EpisodeRecord struct {
	Episode     int
	PolicyLoss  float64
	TotalReward float64
}

// PassRecord is one removal pass of a finished run. Indices are relative to
// the pool as it stood at the start of the pass.
type PassRecord struct {
	Pass          int
	SelectedCount int
	PositiveCount int
	Indices       []int
}

// #endregion types

// #region store-struct
// Store manages the run log in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// Open opens a SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region begin-run
// BeginRun inserts a new run in the running state and returns its record.
// cfg is serialized to JSON so the exact hyperparameters are recoverable.
func (s *Store) BeginRun(dataPath string, cfg any) (RunRecord, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal config: %w", err)
	}

	rec := RunRecord{
		RunID:      uuid.New().String(),
		DataPath:   dataPath,
		ConfigJSON: string(cfgJSON),
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, data_path, config_json, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.DataPath, rec.ConfigJSON, rec.Status,
		rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}
// #endregion begin-run

// #region record-episode
// RecordEpisode appends one episode to a run's loss curve.
func (s *Store) RecordEpisode(runID string, ep EpisodeRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO episode_log (run_id, episode, policy_loss, total_reward, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, ep.Episode, ep.PolicyLoss, ep.TotalReward,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}
// #endregion record-episode

// #region record-pass
// RecordPass appends one removal pass to a run's report.
func (s *Store) RecordPass(runID string, p PassRecord) error {
	idxJSON, err := json.Marshal(p.Indices)
	if err != nil {
		return fmt.Errorf("marshal indices: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO removal_passes (run_id, pass, selected_count, positive_count, indices_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, p.Pass, p.SelectedCount, p.PositiveCount, string(idxJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}
	return nil
}
// #endregion record-pass

// #region finish-run
// FinishRun stamps a run with its terminal status and finish time.
func (s *Store) FinishRun(runID, status string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}
// #endregion finish-run

// #region get-run
// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var rec RunRecord
	var startedStr string
	var finishedStr sql.NullString

	err := s.db.QueryRow(
		`SELECT run_id, data_path, config_json, status, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.DataPath, &rec.ConfigJSON, &rec.Status, &startedStr, &finishedStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
	if finishedStr.Valid {
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedStr.String)
	}
	return rec, nil
}
// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs, newest first. Ordering is by
// insertion: RFC3339Nano strings trim trailing fractional zeros, so sorting
// them lexicographically can mis-order timestamps.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, data_path, config_json, status, started_at, finished_at
		 FROM runs ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedStr string
		var finishedStr sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.DataPath, &rec.ConfigJSON, &rec.Status, &startedStr, &finishedStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		if finishedStr.Valid {
			rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedStr.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-runs

// #region list-episodes
// ListEpisodes returns a run's loss curve in episode order.
func (s *Store) ListEpisodes(runID string) ([]EpisodeRecord, error) {
	rows, err := s.db.Query(
		`SELECT episode, policy_loss, total_reward FROM episode_log
		 WHERE run_id = ? ORDER BY episode ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var records []EpisodeRecord
	for rows.Next() {
		var rec EpisodeRecord
		if err := rows.Scan(&rec.Episode, &rec.PolicyLoss, &rec.TotalReward); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-episodes

// #region list-passes
// ListPasses returns a run's removal report in pass order.
func (s *Store) ListPasses(runID string) ([]PassRecord, error) {
	rows, err := s.db.Query(
		`SELECT pass, selected_count, positive_count, indices_json FROM removal_passes
		 WHERE run_id = ? ORDER BY pass ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var records []PassRecord
	for rows.Next() {
		var rec PassRecord
		var idxJSON string
		if err := rows.Scan(&rec.Pass, &rec.SelectedCount, &rec.PositiveCount, &idxJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(idxJSON), &rec.Indices); err != nil {
			return nil, fmt.Errorf("unmarshal indices: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-passes
