package metrics

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/migrations"
)

const (
	defaultBufferSize = 100

	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run represents one execution of a request file
type Run struct {
	ID          int64
	UUID        string
	Name        string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
}

// Store persists records, gauges and error messages in SQLite.
// Records are buffered and written in batches.
type Store struct {
	db         *sql.DB
	logger     zerolog.Logger
	mu         sync.Mutex
	run        *Run
	buf        []*entry
	bufferSize int
}

// NewStore opens the database and runs migrations
func NewStore(dbPath string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases intact and serializes writers
	db.SetMaxOpenConns(1)

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:         db,
		logger:     logger,
		buf:        make([]*entry, 0, defaultBufferSize),
		bufferSize: defaultBufferSize,
	}, nil
}

// Close flushes buffered records and closes the database
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("failed to flush metrics on close")
	}
	return s.db.Close()
}

// StartRun creates a run record. Subsequent measurements belong to it.
func (s *Store) StartRun(name string) (*Run, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}

	run := &Run{
		UUID:      uuid.NewString(),
		Name:      name,
		StartedAt: time.Now(),
		Status:    RunStatusRunning,
	}

	result, err := s.db.Exec(`
		INSERT INTO perf_runs (uuid, name, started_at, status)
		VALUES (?, ?, ?, ?)
	`, run.UUID, run.Name, run.StartedAt, run.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id

	s.mu.Lock()
	s.run = run
	s.mu.Unlock()
	return run, nil
}

// FinishRun flushes pending records and marks the current run
func (s *Store) FinishRun(status string) error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return nil
	}

	now := time.Now()
	run.CompletedAt = &now
	run.Status = status
	_, err := s.db.Exec(`
		UPDATE perf_runs SET completed_at = ?, status = ? WHERE id = ?
	`, run.CompletedAt, run.Status, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

func (s *Store) currentRunID() int64 {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run != nil {
		return run.ID
	}
	run, err := s.StartRun("adhoc")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to start implicit run")
		return 0
	}
	return run.ID
}

func (s *Store) Start(name string, sla *SLA) Timer {
	s.currentRunID()
	return newTimer(name, sla, func(e *entry) {
		s.mu.Lock()
		e.onStatus = s.updateStatus
		s.buf = append(s.buf, e)
		full := len(s.buf) >= s.bufferSize
		s.mu.Unlock()

		if full {
			if err := s.Flush(); err != nil {
				s.logger.Error().Err(err).Msg("failed to save metrics")
			}
		}
	})
}

func (s *Store) AddGauge(name string, value float64) {
	runID := s.currentRunID()
	_, err := s.db.Exec(`
		INSERT INTO perf_gauges (run_id, name, value, timestamp) VALUES (?, ?, ?, ?)
	`, runID, name, value, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Str("gauge", name).Msg("failed to save gauge")
	}
}

func (s *Store) ReportError(message string, rec Record) {
	runID := s.currentRunID()
	var name sql.NullString
	if rec != nil {
		name = sql.NullString{String: rec.Name(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO perf_errors (run_id, record_name, message, timestamp) VALUES (?, ?, ?, ?)
	`, runID, name, message, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to save error message")
	}
}

// Flush writes buffered records in a single transaction
func (s *Store) Flush() error {
	s.mu.Lock()
	pending := s.buf
	s.buf = make([]*entry, 0, s.bufferSize)
	var runID int64
	if s.run != nil {
		runID = s.run.ID
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO perf_records
		(run_id, name, started_at, duration_ms, status_code, success, status, sla_percentile, sla_max_ms, sla_min_success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(pending))
	written := make([]Status, len(pending))
	for i, e := range pending {
		e.mu.Lock()
		var pct, minSuccess sql.NullFloat64
		var maxMs sql.NullInt64
		if e.sla != nil {
			pct = sql.NullFloat64{Float64: e.sla.Percentile, Valid: true}
			maxMs = sql.NullInt64{Int64: e.sla.Max.Milliseconds(), Valid: true}
			minSuccess = sql.NullFloat64{Float64: e.sla.MinSuccessRate, Valid: true}
		}
		result, err := stmt.Exec(runID, e.name, e.startedAt, e.duration.Milliseconds(), e.code,
			e.success, string(e.status), pct, maxMs, minSuccess)
		written[i] = e.status
		e.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
		if ids[i], err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}

	// ids become visible only after commit so late status overrides update a real row
	for i, e := range pending {
		e.mu.Lock()
		e.id = ids[i]
		status := e.status
		e.mu.Unlock()
		if status != written[i] {
			s.updateStatus(ids[i], status)
		}
	}
	return nil
}

func (s *Store) updateStatus(id int64, status Status) {
	_, err := s.db.Exec("UPDATE perf_records SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("record", id).Msg("failed to update record status")
	}
}

// ListRuns returns runs, most recent first
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, uuid, name, started_at, completed_at, status
		FROM perf_runs
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var completedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.UUID, &run.Name, &run.StartedAt, &completedAt, &run.Status); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Summaries computes per-metric statistics for a run, sorted by name
func (s *Store) Summaries(runID int64) ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT name, duration_ms, status, sla_percentile, sla_max_ms, sla_min_success
		FROM perf_records
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]*Stats)
	slas := make(map[string]*SLA)
	for rows.Next() {
		var name, status string
		var durationMs int64
		var pct, minSuccess sql.NullFloat64
		var maxMs sql.NullInt64
		if err := rows.Scan(&name, &durationMs, &status, &pct, &maxMs, &minSuccess); err != nil {
			return nil, err
		}

		st, ok := stats[name]
		if !ok {
			st = NewStats()
			stats[name] = st
		}
		st.AddResult(durationMs, Status(status) != StatusPassed)

		if slas[name] == nil && (pct.Valid || maxMs.Valid || minSuccess.Valid) {
			slas[name] = &SLA{
				Percentile:     pct.Float64,
				Max:            time.Duration(maxMs.Int64) * time.Millisecond,
				MinSuccessRate: minSuccess.Float64,
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]Summary, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, summarize(name, stats[name], slas[name]))
	}
	return summaries, nil
}

// Gauges returns the gauges of a run in insertion order
func (s *Store) Gauges(runID int64) ([]Gauge, error) {
	rows, err := s.db.Query(`
		SELECT name, value, timestamp FROM perf_gauges WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gauges []Gauge
	for rows.Next() {
		var g Gauge
		if err := rows.Scan(&g.Name, &g.Value, &g.Timestamp); err != nil {
			return nil, err
		}
		gauges = append(gauges, g)
	}
	return gauges, rows.Err()
}

// Errors returns the error messages of a run in insertion order
func (s *Store) Errors(runID int64) ([]ErrorMessage, error) {
	rows, err := s.db.Query(`
		SELECT COALESCE(record_name, ''), message, timestamp FROM perf_errors WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ErrorMessage
	for rows.Next() {
		var m ErrorMessage
		if err := rows.Scan(&m.Record, &m.Message, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
