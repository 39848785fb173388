// Package telemetry persists the per-cycle outputs of the observer in a
// SQLite database: one run per process start, one row per tick, plus the
// contact estimates and the events of every tick.
package telemetry

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnknownRun is returned when recording into a run that was not started.
var ErrUnknownRun = errors.New("telemetry: unknown run")

// Store wraps the telemetry database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps the per-connection pragmas in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Not closing m: it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (uint, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("telemetry: schema version %d is dirty", v)
	}
	return v, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Run describes one recording session.
type Run struct {
	ID        string
	StartedAt time.Time
	Source    string
	Config    json.RawMessage
}

// StartRun registers a new run and returns its id. cfg is stored as JSON
// for later inspection.
func (s *Store) StartRun(source string, cfg interface{}) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, started_at, source, config_json) VALUES (?, ?, ?, ?)`,
		id, time.Now().UnixNano(), source, string(raw),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Runs returns every run, most recent first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id, started_at, source, config_json FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		var cfg string
		if err := rows.Scan(&r.ID, &started, &r.Source, &cfg); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		r.Config = json.RawMessage(cfg)
		out = append(out, r)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RecordTick stores out under runID in a single transaction.
func (s *Store) RecordTick(runID string, out fusion.Output) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	k := out.Kinematics
	q := k.Orientation.Quat()
	_, err = tx.Exec(`INSERT INTO ticks (
			run_id, tick, time_ns, state,
			pos_x, pos_y, pos_z, ori_w, ori_x, ori_y, ori_z,
			linvel_x, linvel_y, linvel_z, angvel_x, angvel_y, angvel_z,
			linacc_x, linacc_y, linacc_z, angacc_x, angacc_y, angacc_z, yaw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, out.Tick, unixNano(out.Time), string(out.State),
		k.Position.X, k.Position.Y, k.Position.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
		k.LinVel.X, k.LinVel.Y, k.LinVel.Z, k.AngVel.X, k.AngVel.Y, k.AngVel.Z,
		k.LinAcc.X, k.LinAcc.Y, k.LinAcc.Z, k.AngAcc.X, k.AngAcc.Y, k.AngAcc.Z, out.Yaw,
	)
	if err != nil {
		return fmt.Errorf("insert tick %d: %w", out.Tick, err)
	}

	for _, c := range out.Contacts {
		e := c.Estimate
		poseVar, _ := json.Marshal(e.PoseVariance)
		wrenchVar, _ := json.Marshal(e.WrenchVariance)
		_, err = tx.Exec(`INSERT INTO contact_estimates (
				run_id, tick, name, contact_id, sensor_enabled,
				rest_x, rest_y, rest_z, force_x, force_y, force_z, torque_x, torque_y, torque_z,
				pose_var_json, wrench_var_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, out.Tick, c.Name, c.ID, c.SensorEnabled,
			e.Rest.Position.X, e.Rest.Position.Y, e.Rest.Position.Z,
			e.Wrench.Force.X, e.Wrench.Force.Y, e.Wrench.Force.Z,
			e.Wrench.Torque.X, e.Wrench.Torque.Y, e.Wrench.Torque.Z,
			string(poseVar), string(wrenchVar),
		)
		if err != nil {
			return fmt.Errorf("insert contact %s at tick %d: %w", c.Name, out.Tick, err)
		}
	}

	for _, ev := range out.Events {
		warnings, _ := json.Marshal(ev.Warnings)
		_, err = tx.Exec(`INSERT INTO events (run_id, tick, kind, contact, contact_id, detail, warnings_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, ev.Tick, string(ev.Kind), ev.Contact, ev.ContactID, ev.Detail, string(warnings),
		)
		if err != nil {
			return fmt.Errorf("insert event %s at tick %d: %w", ev.Kind, ev.Tick, err)
		}
	}
	return tx.Commit()
}

// TickRow is one stored tick.
type TickRow struct {
	Tick       int64
	Time       time.Time
	State      fusion.State
	Kinematics kinematics.Kinematics
	Yaw        float64
}

// Ticks returns the ticks of runID in order.
func (s *Store) Ticks(runID string) ([]TickRow, error) {
	rows, err := s.db.Query(`SELECT tick, time_ns, state,
			pos_x, pos_y, pos_z, ori_w, ori_x, ori_y, ori_z,
			linvel_x, linvel_y, linvel_z, angvel_x, angvel_y, angvel_z,
			linacc_x, linacc_y, linacc_z, angacc_x, angacc_y, angacc_z, yaw
		FROM ticks WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var r TickRow
		var ns int64
		var state string
		var p, v, w, a, al r3.Vec
		var q quat.Number
		err := rows.Scan(&r.Tick, &ns, &state,
			&p.X, &p.Y, &p.Z, &q.Real, &q.Imag, &q.Jmag, &q.Kmag,
			&v.X, &v.Y, &v.Z, &w.X, &w.Y, &w.Z,
			&a.X, &a.Y, &a.Z, &al.X, &al.Y, &al.Z, &r.Yaw)
		if err != nil {
			return nil, err
		}
		r.Time = fromUnixNano(ns)
		r.State = fusion.State(state)
		r.Kinematics = kinematics.Kinematics{
			Position:    p,
			Orientation: kinematics.FromQuat(q),
			LinVel:      v,
			AngVel:      w,
			LinAcc:      a,
			AngAcc:      al,
			Flags:       kinematics.FlagAll,
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the events of runID in recording order.
func (s *Store) Events(runID string) ([]fusion.Event, error) {
	rows, err := s.db.Query(`SELECT tick, kind, contact, contact_id, detail, warnings_json
		FROM events WHERE run_id = ? ORDER BY event_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fusion.Event
	for rows.Next() {
		var ev fusion.Event
		var kind, warnings string
		if err := rows.Scan(&ev.Tick, &kind, &ev.Contact, &ev.ContactID, &ev.Detail, &warnings); err != nil {
			return nil, err
		}
		ev.Kind = fusion.EventKind(kind)
		if err := json.Unmarshal([]byte(warnings), &ev.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ContactRow is one stored contact estimate.
type ContactRow struct {
	Tick           int64
	Name           string
	ID             int
	SensorEnabled  bool
	Rest           r3.Vec
	Force          r3.Vec
	Torque         r3.Vec
	PoseVariance   [6]float64
	WrenchVariance [6]float64
}

// Contacts returns the contact estimates of runID ordered by tick and name.
func (s *Store) Contacts(runID string) ([]ContactRow, error) {
	rows, err := s.db.Query(`SELECT tick, name, contact_id, sensor_enabled,
			rest_x, rest_y, rest_z, force_x, force_y, force_z, torque_x, torque_y, torque_z,
			pose_var_json, wrench_var_json
		FROM contact_estimates WHERE run_id = ? ORDER BY tick, name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContactRow
	for rows.Next() {
		var c ContactRow
		var poseVar, wrenchVar string
		err := rows.Scan(&c.Tick, &c.Name, &c.ID, &c.SensorEnabled,
			&c.Rest.X, &c.Rest.Y, &c.Rest.Z, &c.Force.X, &c.Force.Y, &c.Force.Z,
			&c.Torque.X, &c.Torque.Y, &c.Torque.Z, &poseVar, &wrenchVar)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(poseVar), &c.PoseVariance); err != nil {
			return nil, fmt.Errorf("decode pose variance: %w", err)
		}
		if err := json.Unmarshal([]byte(wrenchVar), &c.WrenchVariance); err != nil {
			return nil, fmt.Errorf("decode wrench variance: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RunSink records the outputs of one run. It satisfies pipeline.Sink.
type RunSink struct {
	store *Store
	runID string
}

// Sink returns a sink writing into runID.
func (s *Store) Sink(runID string) *RunSink {
	return &RunSink{store: s, runID: runID}
}

func (r *RunSink) RunID() string { return r.runID }

func (r *RunSink) Record(out fusion.Output) error {
	return r.store.RecordTick(r.runID, out)
}
