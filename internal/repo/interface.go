package repo

import (
	"context"
	"errors"
	"io/fs"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Farmers
	GetFarmer(ctx context.Context, phone string) (*Farmer, error)
	UpsertFarmerLocation(ctx context.Context, phone string, lat, lon float64, lang string) error
	UpsertFarmerLanguage(ctx context.Context, phone, lang string) error
	InsertFarmerIfAbsent(ctx context.Context, farmer Farmer) (bool, error)

	// Logistics
	InsertLogisticsRequest(ctx context.Context, req LogisticsRequest) (*LogisticsRequest, error)
	ListPendingPickups(ctx context.Context) ([]PendingPickup, error)
}
