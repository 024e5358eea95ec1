// Package store persists placement candidates in SQLite so local coordinates,
// GPS corrections and collection state survive across sessions.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/paulmach/orb"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed candidate source.
type Store struct {
	db  *sql.DB
	log logging.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. Use ":memory:" only with a single connection.
func Open(ctx context.Context, path string, log logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, log: logging.OrNoop(log).With(logging.String("component", "store")), now: time.Now}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
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
	return m, nil
}

// MigrateUp runs all pending migrations. It is a no-op at the latest version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty flag.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

const candidateColumns = `id, kind, name, has_target, latitude, longitude, altitude, accuracy,
	collected, manually_placed, local_x, local_y, local_z,
	local_origin_lat, local_origin_lon, local_origin_accuracy, local_recorded_at,
	corrected_lat, corrected_lon`

// Upsert inserts or replaces the GPS target and metadata of a candidate.
// Stored local coordinates and corrections are left untouched on update.
func (s *Store) Upsert(ctx context.Context, c model.PlacementCandidate) error {
	var lat, lon, alt, acc sql.NullFloat64
	if c.HasTarget {
		lat = sql.NullFloat64{Float64: c.Target.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: c.Target.Longitude, Valid: true}
		acc = sql.NullFloat64{Float64: c.Target.HorizontalAccuracy, Valid: true}
		if c.Target.HasAltitude {
			alt = sql.NullFloat64{Float64: c.Target.Altitude, Valid: true}
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (id, kind, name, has_target, latitude, longitude, altitude, accuracy,
			collected, manually_placed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			has_target = excluded.has_target,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			accuracy = excluded.accuracy,
			collected = excluded.collected,
			manually_placed = excluded.manually_placed,
			updated_at = excluded.updated_at`,
		c.ID, string(c.Kind), c.Name, c.HasTarget, lat, lon, alt, acc,
		c.Collected, c.ManuallyPlaced, s.stamp())
	if err != nil {
		return fmt.Errorf("upsert candidate %q: %w", c.ID, err)
	}
	if c.Stored != nil {
		return s.SaveLocalPosition(ctx, c.ID, *c.Stored)
	}
	return nil
}

// List returns every candidate sorted by ID. A persisted GPS correction
// replaces the original target.
func (s *Store) List(ctx context.Context) ([]model.PlacementCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return scanCandidates(rows)
}

// ListWithin returns candidates whose target lies inside bound, sorted by ID.
// Candidates without a GPS target are included since they are device-relative.
func (s *Store) ListWithin(ctx context.Context, bound orb.Bound) ([]model.PlacementCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidates
		WHERE has_target = 0
		   OR (COALESCE(corrected_lat, latitude) BETWEEN ? AND ?
		   AND COALESCE(corrected_lon, longitude) BETWEEN ? AND ?)
		ORDER BY id`,
		bound.Min.Lat(), bound.Max.Lat(), bound.Min.Lon(), bound.Max.Lon())
	if err != nil {
		return nil, fmt.Errorf("list candidates within bound: %w", err)
	}
	return scanCandidates(rows)
}

// Get returns one candidate.
func (s *Store) Get(ctx context.Context, id string) (model.PlacementCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id)
	if err != nil {
		return model.PlacementCandidate{}, fmt.Errorf("get candidate %q: %w", id, err)
	}
	out, err := scanCandidates(rows)
	if err != nil {
		return model.PlacementCandidate{}, err
	}
	if len(out) == 0 {
		return model.PlacementCandidate{}, fmt.Errorf("candidate %q: %w", id, model.ErrObjectNotFound)
	}
	return out[0], nil
}

// IsCollected reports the persisted collection flag. Unknown IDs are not collected.
func (s *Store) IsCollected(ctx context.Context, id string) (bool, error) {
	var collected bool
	err := s.db.QueryRowContext(ctx, `SELECT collected FROM candidates WHERE id = ?`, id).Scan(&collected)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("collected %q: %w", id, err)
	}
	return collected, nil
}

// SaveLocalPosition persists committed local coordinates with their origin.
func (s *Store) SaveLocalPosition(ctx context.Context, id string, stored model.StoredLocal) error {
	var olat, olon, oacc sql.NullFloat64
	if stored.HasOrigin {
		olat = sql.NullFloat64{Float64: stored.Origin.Latitude, Valid: true}
		olon = sql.NullFloat64{Float64: stored.Origin.Longitude, Valid: true}
		oacc = sql.NullFloat64{Float64: stored.Origin.HorizontalAccuracy, Valid: true}
	}
	recorded := stored.RecordedAt
	if recorded.IsZero() {
		recorded = s.now()
	}
	return s.update(ctx, id, `UPDATE candidates SET
			local_x = ?, local_y = ?, local_z = ?,
			local_origin_lat = ?, local_origin_lon = ?, local_origin_accuracy = ?,
			local_recorded_at = ?, updated_at = ?
		WHERE id = ?`,
		stored.Position.X, stored.Position.Y, stored.Position.Z,
		olat, olon, oacc, recorded.UTC().Format(time.RFC3339Nano), s.stamp(), id)
}

// SaveCorrectedGPS persists a corrected target for future sessions.
func (s *Store) SaveCorrectedGPS(ctx context.Context, id string, corrected model.GeoPoint) error {
	return s.update(ctx, id, `UPDATE candidates SET
			corrected_lat = ?, corrected_lon = ?, corrected_at = ?, updated_at = ?
		WHERE id = ?`,
		corrected.Latitude, corrected.Longitude, s.stamp(), s.stamp(), id)
}

// SetCollected persists the collection flag.
func (s *Store) SetCollected(ctx context.Context, id string, collected bool) error {
	return s.update(ctx, id, `UPDATE candidates SET collected = ?, updated_at = ? WHERE id = ?`,
		collected, s.stamp(), id)
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update candidate %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update candidate %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("candidate %q: %w", id, model.ErrObjectNotFound)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func scanCandidates(rows *sql.Rows) ([]model.PlacementCandidate, error) {
	defer rows.Close()

	var out []model.PlacementCandidate
	for rows.Next() {
		var (
			c                          model.PlacementCandidate
			kind                       string
			lat, lon, alt, acc         sql.NullFloat64
			lx, ly, lz                 sql.NullFloat64
			olat, olon, oacc           sql.NullFloat64
			recorded                   sql.NullString
			correctedLat, correctedLon sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &kind, &c.Name, &c.HasTarget, &lat, &lon, &alt, &acc,
			&c.Collected, &c.ManuallyPlaced, &lx, &ly, &lz,
			&olat, &olon, &oacc, &recorded,
			&correctedLat, &correctedLon); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Kind = model.ObjectKind(kind)

		if c.HasTarget {
			c.Target = model.NewGeoPoint(lat.Float64, lon.Float64, acc.Float64)
			if correctedLat.Valid && correctedLon.Valid {
				c.Target.Latitude = correctedLat.Float64
				c.Target.Longitude = correctedLon.Float64
			}
			if alt.Valid {
				c.Target = c.Target.WithAltitude(alt.Float64)
			}
		}

		if lx.Valid && ly.Valid && lz.Valid {
			stored := &model.StoredLocal{
				Position: model.LocalPosition{X: lx.Float64, Y: ly.Float64, Z: lz.Float64},
			}
			if olat.Valid && olon.Valid {
				stored.Origin = model.NewGeoPoint(olat.Float64, olon.Float64, oacc.Float64)
				stored.HasOrigin = true
			}
			if recorded.Valid {
				if t, err := time.Parse(time.RFC3339Nano, recorded.String); err == nil {
					stored.RecordedAt = t
				}
			}
			c.Stored = stored
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}
