package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	processor TEXT NOT NULL,
	inner_error TEXT,
	message TEXT,
	stack_trace TEXT,
	misc TEXT
);

CREATE TABLE IF NOT EXISTS pipeline_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	pipeline_id TEXT NOT NULL,
	camera TEXT NOT NULL,
	state TEXT NOT NULL,
	fps REAL DEFAULT 0,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS camera_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	camera TEXT NOT NULL,
	reachable INTEGER NOT NULL,
	latency_ms INTEGER DEFAULT 0,
	frame_size INTEGER DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_pipeline_stats_camera ON pipeline_stats(camera);
CREATE INDEX IF NOT EXISTS idx_camera_stats_camera ON camera_stats(camera);
`

type sqliteService struct {
	conn *sql.DB
	mu   sync.Mutex
}

func NewSqlite(cfgsvc config.IService) (IService, error) {
	path := cfgsvc.GetSqlitePath()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database folder: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &sqliteService{conn: conn}, nil
}

func (svc *sqliteService) NewError(err interface{}) error {
	rec := model.NewErrorRecord(err)

	misc, merr := json.Marshal(rec.Misc)
	if merr != nil {
		misc = []byte("null")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	_, execErr := svc.conn.Exec(`
		INSERT INTO errors (timestamp, processor, inner_error, message, stack_trace, misc)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Timestamp, rec.Processor, rec.Inner, rec.Message, rec.StackTrace, string(misc))
	if execErr != nil {
		return fmt.Errorf("failed to insert error: %w", execErr)
	}
	return nil
}

func (svc *sqliteService) NewPipelineStats(stats model.PipelineStats) error {
	if stats.Timestamp == 0 {
		stats.Timestamp = time.Now().Unix()
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	_, err = svc.conn.Exec(`
		INSERT INTO pipeline_stats (timestamp, pipeline_id, camera, state, fps, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stats.Timestamp, stats.ID, stats.Camera, stats.State, stats.FPS, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert pipeline stats: %w", err)
	}
	return nil
}

func (svc *sqliteService) NewCameraStats(stats model.CameraStats) error {
	if stats.Timestamp == 0 {
		stats.Timestamp = time.Now().Unix()
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	_, err := svc.conn.Exec(`
		INSERT INTO camera_stats (timestamp, camera, reachable, latency_ms, frame_size, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stats.Timestamp, stats.Camera, stats.Reachable, stats.Latency, stats.FrameSize, stats.Error)
	if err != nil {
		return fmt.Errorf("failed to insert camera stats: %w", err)
	}
	return nil
}

func (svc *sqliteService) RetrieveErrors(max int) ([]model.ErrorRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	rows, err := svc.conn.Query(`
		SELECT timestamp, processor, inner_error, message, stack_trace, misc
		FROM errors ORDER BY id DESC LIMIT ?
	`, limit(max))
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	defer rows.Close()

	records := []model.ErrorRecord{}
	for rows.Next() {
		var (
			rec  model.ErrorRecord
			misc sql.NullString
		)
		if err := rows.Scan(&rec.Timestamp, &rec.Processor, &rec.Inner, &rec.Message, &rec.StackTrace, &misc); err != nil {
			return nil, fmt.Errorf("failed to scan error: %w", err)
		}
		if misc.Valid {
			_ = json.Unmarshal([]byte(misc.String), &rec.Misc)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(records)
	return records, nil
}

func (svc *sqliteService) RetrievePipelineStats(max int) ([]model.PipelineStats, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	rows, err := svc.conn.Query(`
		SELECT payload FROM pipeline_stats ORDER BY id DESC LIMIT ?
	`, limit(max))
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline stats: %w", err)
	}
	defer rows.Close()

	records := []model.PipelineStats{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline stats: %w", err)
		}
		var stats model.PipelineStats
		if err := json.Unmarshal([]byte(payload), &stats); err != nil {
			return nil, fmt.Errorf("failed to decode pipeline stats: %w", err)
		}
		records = append(records, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(records)
	return records, nil
}

func (svc *sqliteService) RetrieveCameraStats(max int) ([]model.CameraStats, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	rows, err := svc.conn.Query(`
		SELECT timestamp, camera, reachable, latency_ms, frame_size, error
		FROM camera_stats ORDER BY id DESC LIMIT ?
	`, limit(max))
	if err != nil {
		return nil, fmt.Errorf("failed to query camera stats: %w", err)
	}
	defer rows.Close()

	records := []model.CameraStats{}
	for rows.Next() {
		var (
			stats   model.CameraStats
			errText sql.NullString
		)
		if err := rows.Scan(&stats.Timestamp, &stats.Camera, &stats.Reachable, &stats.Latency, &stats.FrameSize, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan camera stats: %w", err)
		}
		stats.Error = errText.String
		records = append(records, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(records)
	return records, nil
}

func (svc *sqliteService) Close() error {
	return svc.conn.Close()
}

// limit maps a non-positive max to SQLite's "no limit".
func limit(max int) int {
	if max <= 0 {
		return -1
	}
	return max
}
