package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"fitclip/internal/jobs"
	"fitclip/internal/logger"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	output_path TEXT NOT NULL,
	temp_path TEXT,
	status TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	speed REAL NOT NULL DEFAULT 0,
	eta_seconds INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	source_size INTEGER NOT NULL DEFAULT 0,
	output_size INTEGER,
	target_size INTEGER NOT NULL,
	encoder TEXT NOT NULL,
	speed_preset TEXT,
	max_height INTEGER,
	audio_bitrate_kbps INTEGER,
	frame_rate_cap REAL,
	overhead_factor REAL,
	duration_ms INTEGER,
	width INTEGER,
	height INTEGER,
	frame_rate REAL,
	audio_kbps INTEGER,
	plan_video_kbps INTEGER,
	plan_audio_kbps INTEGER,
	plan_width INTEGER,
	plan_height INTEGER,
	plan_frame_rate REAL,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS job_order (
	position INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL UNIQUE REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// Check/set schema version
	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version > schemaVersion {
		db.Close()
		return nil, fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, schemaVersion)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// SaveJob persists a job using INSERT OR REPLACE.
func (s *SQLiteStore) SaveJob(job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO jobs (
			id, source_path, output_path, temp_path, status, progress, speed,
			eta_seconds, error, source_size, output_size, target_size, encoder,
			speed_preset, max_height, audio_bitrate_kbps, frame_rate_cap, overhead_factor,
			duration_ms, width, height, frame_rate, audio_kbps,
			plan_video_kbps, plan_audio_kbps, plan_width, plan_height, plan_frame_rate,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.SourcePath, job.OutputPath, nullString(job.TempPath),
		string(job.Status), job.Progress, job.Speed,
		job.ETASeconds, nullString(job.Error), job.SourceSize, nullInt64(job.OutputSize),
		job.Settings.TargetSizeBytes, job.Settings.Encoder,
		nullString(job.Settings.SpeedPreset), nullInt(job.Settings.MaxHeight),
		nullInt(job.Settings.AudioBitrateKbps), nullFloat64(job.Settings.FrameRateCap),
		nullFloat64(job.Settings.OverheadFactor),
		nullInt64(job.DurationMs), nullInt(job.Width), nullInt(job.Height),
		nullFloat64(job.FrameRate), nullInt(job.AudioKbps),
		nullInt(job.PlanVideoKbps), nullInt(job.PlanAudioKbps), nullInt(job.PlanWidth),
		nullInt(job.PlanHeight), nullFloat64(job.PlanFrameRate),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	return err
}

// GetJob retrieves a job by ID. Returns nil if not found.
func (s *SQLiteStore) GetJob(id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectColumns+" FROM jobs WHERE id = ?", id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// DeleteJob removes a job by ID.
func (s *SQLiteStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete from jobs (cascade will remove from job_order)
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// GetAllJobs returns all jobs in queue order.
func (s *SQLiteStore) GetAllJobs() ([]*jobs.Job, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectColumns + `
		FROM jobs j
		LEFT JOIN job_order o ON j.id = o.job_id
		ORDER BY o.position ASC, j.created_at ASC
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var jobList []*jobs.Job
	var order []string

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, nil, err
		}
		jobList = append(jobList, job)
		order = append(order, job.ID)
	}

	return jobList, order, rows.Err()
}

// AppendToOrder adds a job ID to the end of the queue.
func (s *SQLiteStore) AppendToOrder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT OR IGNORE INTO job_order (job_id) VALUES (?)", id)
	return err
}

// RemoveFromOrder removes a job ID from the queue order.
func (s *SQLiteStore) RemoveFromOrder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM job_order WHERE job_id = ?", id)
	return err
}

// SetOrder persists the full job order, replacing any existing order.
func (s *SQLiteStore) SetOrder(order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Clear existing order
	if _, err := tx.Exec("DELETE FROM job_order"); err != nil {
		return err
	}

	// Insert in new order (autoincrement gives sequential positions)
	for _, jobID := range order {
		if _, err := tx.Exec("INSERT INTO job_order (job_id) VALUES (?)", jobID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ResetActiveJobs requeues all jobs that were mid-pipeline.
func (s *SQLiteStore) ResetActiveJobs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE jobs
		SET status = 'queued', progress = 0, speed = 0, eta_seconds = 0,
		    temp_path = NULL, started_at = NULL
		WHERE status IN ('probing', 'planning', 'encoding')
	`)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DBPath returns the database location for a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "fitclip.db")
}

// InitStore opens the store for a data directory and recovers jobs that
// were interrupted by a crash or unclean shutdown. This is the main entry
// point for store initialization.
func InitStore(dataDir string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(DBPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	count, err := store.ResetActiveJobs()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reset active jobs: %w", err)
	}
	if count > 0 {
		logger.Info("Requeued interrupted jobs", "count", count)
	}

	return store, nil
}

// Helper functions for scanning rows

const selectColumns = `
	SELECT id, source_path, output_path, temp_path, status, progress, speed,
		eta_seconds, error, source_size, output_size, target_size, encoder,
		speed_preset, max_height, audio_bitrate_kbps, frame_rate_cap, overhead_factor,
		duration_ms, width, height, frame_rate, audio_kbps,
		plan_video_kbps, plan_audio_kbps, plan_width, plan_height, plan_frame_rate,
		created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var job jobs.Job
	var tempPath, errStr, speedPreset sql.NullString
	var outputSize, durationMs sql.NullInt64
	var maxHeight, audioBitrateKbps, width, height, audioKbps sql.NullInt64
	var planVideoKbps, planAudioKbps, planWidth, planHeight sql.NullInt64
	var frameRateCap, overheadFactor, frameRate, planFrameRate sql.NullFloat64
	var status string
	var createdAt, startedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.SourcePath, &job.OutputPath, &tempPath,
		&status, &job.Progress, &job.Speed,
		&job.ETASeconds, &errStr, &job.SourceSize, &outputSize,
		&job.Settings.TargetSizeBytes, &job.Settings.Encoder,
		&speedPreset, &maxHeight, &audioBitrateKbps, &frameRateCap, &overheadFactor,
		&durationMs, &width, &height, &frameRate, &audioKbps,
		&planVideoKbps, &planAudioKbps, &planWidth, &planHeight, &planFrameRate,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.TempPath = tempPath.String
	job.Error = errStr.String
	job.Status = jobs.Status(status)
	job.OutputSize = outputSize.Int64
	job.Settings.SpeedPreset = speedPreset.String
	job.Settings.MaxHeight = int(maxHeight.Int64)
	job.Settings.AudioBitrateKbps = int(audioBitrateKbps.Int64)
	job.Settings.FrameRateCap = frameRateCap.Float64
	job.Settings.OverheadFactor = overheadFactor.Float64
	job.DurationMs = durationMs.Int64
	job.Width = int(width.Int64)
	job.Height = int(height.Int64)
	job.FrameRate = frameRate.Float64
	job.AudioKbps = int(audioKbps.Int64)
	job.PlanVideoKbps = int(planVideoKbps.Int64)
	job.PlanAudioKbps = int(planAudioKbps.Int64)
	job.PlanWidth = int(planWidth.Int64)
	job.PlanHeight = int(planHeight.Int64)
	job.PlanFrameRate = planFrameRate.Float64
	job.CreatedAt = parseTime(createdAt.String)
	job.StartedAt = parseTime(startedAt.String)
	job.CompletedAt = parseTime(completedAt.String)

	return &job, nil
}

// Helper functions for SQL values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullFloat64(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
