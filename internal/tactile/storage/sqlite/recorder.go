// Package sqlite records per-frame summaries of a tactile session in a SQLite
// database. The schema is created and upgraded by embedded migrations.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/tac3d.report/internal/tactile/l3frames"
	"github.com/banshee-data/tac3d.report/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// FrameRecord is one stored frame summary.
type FrameRecord struct {
	FrameID          int64      `json:"frame_id"`
	RunID            string     `json:"run_id"`
	SensorID         string     `json:"sensor_id"`
	SensorModel      string     `json:"sensor_model"`
	FrameIndex       uint32     `json:"frame_index"`
	SendTimestamp    float64    `json:"send_timestamp"`
	ReceiveTimestamp float64    `json:"recv_timestamp"`
	Force            [3]float64 `json:"force"`
	Moment           [3]float64 `json:"moment"`
	RecordedUnixNs   int64      `json:"recorded_unix_ns"`
}

// Recorder writes frame summaries for one recording run.
type Recorder struct {
	db    *sql.DB
	runID string
	clock timeutil.Clock
}

// Open opens (creating if needed) the database at path, migrates it to the
// latest schema and starts a new run. Use ":memory:" for a throwaway database.
func Open(path string, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame database: %w", err)
	}
	// One connection: SQLite has a single writer and every ":memory:"
	// connection would otherwise be a separate database.
	db.SetMaxOpenConns(1)

	r := &Recorder{db: db, clock: clock}
	if err := r.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := r.StartRun(""); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// MigrateUp applies all pending migrations.
func (r *Recorder) MigrateUp() error {
	m, err := r.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and dirty state.
func (r *Recorder) SchemaVersion() (version uint, dirty bool, err error) {
	m, err := r.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (r *Recorder) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(r.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// StartRun begins a new recording run and makes it current.
func (r *Recorder) StartRun(note string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(`INSERT INTO tactile_runs (run_id, started_unix_ns, note) VALUES (?, ?, ?)`,
		id, r.clock.Now().UnixNano(), note)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	r.runID = id
	return id, nil
}

// RunID returns the current run.
func (r *Recorder) RunID() string { return r.runID }

// RecordFrame stores a summary of snap under the current run. Missing
// resultant fields are stored as NULL.
func (r *Recorder) RecordFrame(snap *l3frames.Snapshot) error {
	if snap == nil {
		return nil
	}
	force, hasForce := snap.Vector3(l3frames.FieldResultantForce)
	moment, hasMoment := snap.Vector3(l3frames.FieldResultantMoment)

	_, err := r.db.Exec(`INSERT INTO tactile_frames (
			run_id, sensor_id, sensor_model, frame_index, send_timestamp, recv_timestamp,
			force_x, force_y, force_z, moment_x, moment_y, moment_z, recorded_unix_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.runID, snap.SensorID, snap.Model.Name, int64(snap.FrameIndex), snap.SendTimestamp, snap.ReceiveTimestamp,
		nullable(force[0], hasForce), nullable(force[1], hasForce), nullable(force[2], hasForce),
		nullable(moment[0], hasMoment), nullable(moment[1], hasMoment), nullable(moment[2], hasMoment),
		r.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record frame %d from %s: %w", snap.FrameIndex, snap.SensorID, err)
	}
	return nil
}

func nullable(v float64, ok bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: ok}
}

// RecentFrames returns up to limit frames from sensorID across all runs,
// newest first. An empty sensorID matches every sensor.
func (r *Recorder) RecentFrames(sensorID string, limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`SELECT frame_id, run_id, sensor_id, sensor_model, frame_index,
			send_timestamp, recv_timestamp,
			force_x, force_y, force_z, moment_x, moment_y, moment_z, recorded_unix_ns
		FROM tactile_frames
		WHERE (? = '' OR sensor_id = ?)
		ORDER BY frame_id DESC
		LIMIT ?`, sensorID, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var index int64
		var f, m [3]sql.NullFloat64
		if err := rows.Scan(&rec.FrameID, &rec.RunID, &rec.SensorID, &rec.SensorModel, &index,
			&rec.SendTimestamp, &rec.ReceiveTimestamp,
			&f[0], &f[1], &f[2], &m[0], &m[1], &m[2], &rec.RecordedUnixNs); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		rec.FrameIndex = uint32(index)
		for i := range f {
			rec.Force[i] = f[i].Float64
			rec.Moment[i] = m[i].Float64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
