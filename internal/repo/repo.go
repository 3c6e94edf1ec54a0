package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to the PostGIS-enabled Postgres database.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies the postgres/ migrations from filesystem.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sub, err := fs.Sub(filesystem, "postgres")
	if err != nil {
		return fmt.Errorf("open postgres migrations: %w", err)
	}
	return ApplyMigrations(ctx, r.pool, sub)
}

// GetFarmer loads a farmer by canonical phone number.
func (r *PostgresRepository) GetFarmer(ctx context.Context, phone string) (*Farmer, error) {
	const q = `
SELECT phone_number,
       ST_Y(location::geometry) AS lat,
       ST_X(location::geometry) AS lon,
       pref_lang, created_at, updated_at
FROM farmers
WHERE phone_number = $1
LIMIT 1;
`
	var f Farmer
	err := r.pool.QueryRow(ctx, q, phone).Scan(&f.Phone, &f.Latitude, &f.Longitude, &f.Language, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get farmer: %w", err)
	}
	return &f, nil
}

// UpsertFarmerLocation stores the farm position, keeping the existing language when lang is empty.
func (r *PostgresRepository) UpsertFarmerLocation(ctx context.Context, phone string, lat, lon float64, lang string) error {
	const q = `
INSERT INTO farmers (phone_number, location, pref_lang, updated_at)
VALUES ($1, ST_SetSRID(ST_MakePoint($3::double precision, $2::double precision), 4326)::geography, COALESCE(NULLIF($4, ''), 'en'), NOW())
ON CONFLICT (phone_number) DO UPDATE SET
    location = EXCLUDED.location,
    pref_lang = COALESCE(NULLIF($4, ''), farmers.pref_lang),
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, phone, lat, lon, lang); err != nil {
		return fmt.Errorf("upsert farmer location: %w", err)
	}
	return nil
}

// UpsertFarmerLanguage stores the preferred language, creating the farmer if needed.
func (r *PostgresRepository) UpsertFarmerLanguage(ctx context.Context, phone, lang string) error {
	const q = `
INSERT INTO farmers (phone_number, pref_lang, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (phone_number) DO UPDATE SET
    pref_lang = EXCLUDED.pref_lang,
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, phone, lang); err != nil {
		return fmt.Errorf("upsert farmer language: %w", err)
	}
	return nil
}

// InsertFarmerIfAbsent creates the farmer unless the phone is already registered.
func (r *PostgresRepository) InsertFarmerIfAbsent(ctx context.Context, farmer Farmer) (bool, error) {
	if !farmer.HasPosition() {
		return false, fmt.Errorf("insert farmer %s: position required", farmer.Phone)
	}
	const q = `
INSERT INTO farmers (phone_number, location, pref_lang)
VALUES ($1, ST_SetSRID(ST_MakePoint($3::double precision, $2::double precision), 4326)::geography, COALESCE(NULLIF($4, ''), 'en'))
ON CONFLICT (phone_number) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, farmer.Phone, *farmer.Latitude, *farmer.Longitude, farmer.Language)
	if err != nil {
		return false, fmt.Errorf("insert farmer: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// InsertLogisticsRequest appends a pickup request to the queue.
func (r *PostgresRepository) InsertLogisticsRequest(ctx context.Context, req LogisticsRequest) (*LogisticsRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	const q = `
INSERT INTO logistics_queue (id, farmer_phone, crop_type, weight_kg, pickup_date, status)
VALUES ($1, $2, $3, $4, CURRENT_DATE, $5)
RETURNING pickup_date, created_at;
`
	var pickup, created time.Time
	err := r.pool.QueryRow(ctx, q, req.ID, req.FarmerPhone, req.CropType, req.WeightKg, req.Status).Scan(&pickup, &created)
	if err != nil {
		return nil, fmt.Errorf("insert logistics request: %w", err)
	}
	req.PickupDate = pickup
	req.CreatedAt = created
	return &req, nil
}

// ListPendingPickups returns pending requests of located farmers, oldest first.
func (r *PostgresRepository) ListPendingPickups(ctx context.Context) ([]PendingPickup, error) {
	const q = `
SELECT l.id::text, f.phone_number, l.crop_type, l.weight_kg,
       ST_Y(f.location::geometry) AS lat,
       ST_X(f.location::geometry) AS lon
FROM farmers f
JOIN logistics_queue l ON f.phone_number = l.farmer_phone
WHERE l.status = 'pending' AND f.location IS NOT NULL
ORDER BY l.pickup_date ASC, l.created_at ASC;
`
	rows, err := r.pool.Query(ctx, q)
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
