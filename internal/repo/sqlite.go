package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRepository provides access to a local SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteRepository, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies the sqlite/ migrations from filesystem.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sub, err := fs.Sub(filesystem, "sqlite")
	if err != nil {
		return fmt.Errorf("open sqlite migrations: %w", err)
	}
	return ApplySQLMigrations(ctx, r.db, sub)
}

func (r *SQLiteRepository) GetFarmer(ctx context.Context, phone string) (*Farmer, error) {
	const q = `
SELECT phone_number, latitude, longitude, pref_lang, created_at, updated_at
FROM farmers
WHERE phone_number = ?
LIMIT 1;
`
	var f Farmer
	var lat, lon sql.NullFloat64
	err := r.db.QueryRowContext(ctx, q, phone).Scan(&f.Phone, &lat, &lon, &f.Language, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get farmer: %w", err)
	}
	if lat.Valid && lon.Valid {
		f.Latitude = &lat.Float64
		f.Longitude = &lon.Float64
	}
	return &f, nil
}

func (r *SQLiteRepository) UpsertFarmerLocation(ctx context.Context, phone string, lat, lon float64, lang string) error {
	const q = `
INSERT INTO farmers (phone_number, latitude, longitude, pref_lang, updated_at)
VALUES (?1, ?2, ?3, COALESCE(NULLIF(?4, ''), 'en'), CURRENT_TIMESTAMP)
ON CONFLICT (phone_number) DO UPDATE SET
    latitude = excluded.latitude,
    longitude = excluded.longitude,
    pref_lang = COALESCE(NULLIF(?4, ''), farmers.pref_lang),
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := r.db.ExecContext(ctx, q, phone, lat, lon, lang); err != nil {
		return fmt.Errorf("upsert farmer location: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpsertFarmerLanguage(ctx context.Context, phone, lang string) error {
	const q = `
INSERT INTO farmers (phone_number, pref_lang, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (phone_number) DO UPDATE SET
    pref_lang = excluded.pref_lang,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := r.db.ExecContext(ctx, q, phone, lang); err != nil {
		return fmt.Errorf("upsert farmer language: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertFarmerIfAbsent(ctx context.Context, farmer Farmer) (bool, error) {
	if !farmer.HasPosition() {
		return false, fmt.Errorf("insert farmer %s: position required", farmer.Phone)
	}
	const q = `
INSERT INTO farmers (phone_number, latitude, longitude, pref_lang)
VALUES (?1, ?2, ?3, COALESCE(NULLIF(?4, ''), 'en'))
ON CONFLICT (phone_number) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q, farmer.Phone, *farmer.Latitude, *farmer.Longitude, farmer.Language)
	if err != nil {
		return false, fmt.Errorf("insert farmer: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SQLiteRepository) InsertLogisticsRequest(ctx context.Context, req LogisticsRequest) (*LogisticsRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	now := time.Now()
	req.PickupDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	req.CreatedAt = now

	const q = `
INSERT INTO logistics_queue (id, farmer_phone, crop_type, weight_kg, pickup_date, status)
VALUES (?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q, req.ID, req.FarmerPhone, req.CropType, req.WeightKg, req.PickupDate.Format("2006-01-02"), req.Status)
	if err != nil {
		return nil, fmt.Errorf("insert logistics request: %w", err)
	}
	return &req, nil
}

func (r *SQLiteRepository) ListPendingPickups(ctx context.Context) ([]PendingPickup, error) {
	const q = `
SELECT l.id, f.phone_number, l.crop_type, l.weight_kg, f.latitude, f.longitude
FROM farmers f
JOIN logistics_queue l ON f.phone_number = l.farmer_phone
WHERE l.status = 'pending' AND f.latitude IS NOT NULL AND f.longitude IS NOT NULL
ORDER BY l.pickup_date ASC, l.created_at ASC, l.rowid ASC;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending pickups: %w", err)
	}
	defer rows.Close()

	var pickups []PendingPickup
	for rows.Next() {
		var p PendingPickup
		if err := rows.Scan(&p.RequestID, &p.FarmerPhone, &p.CropType, &p.WeightKg, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("scan pending pickup: %w", err)
		}
		pickups = append(pickups, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending pickups: %w", err)
	}
	return pickups, nil
}

