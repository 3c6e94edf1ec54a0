package repo

import "time"

// Logistics request statuses.
const (
	StatusPending = "pending"
)

// DefaultLanguage is used when a farmer has no stored language preference.
const DefaultLanguage = "en"

// Farmer represents the farmers table row.
type Farmer struct {
	Phone     string
	Latitude  *float64
	Longitude *float64
	Language  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPosition reports whether the farmer has shared a farm location.
func (f *Farmer) HasPosition() bool {
	return f != nil && f.Latitude != nil && f.Longitude != nil
}

// LogisticsRequest represents a row in logistics_queue.
type LogisticsRequest struct {
	ID          string
	FarmerPhone string
	CropType    string
	WeightKg    float64
	PickupDate  time.Time
	Status      string
	CreatedAt   time.Time
}

// PendingPickup joins a pending logistics request with the farmer position.
type PendingPickup struct {
	RequestID   string
	FarmerPhone string
	CropType    string
	WeightKg    float64
	Latitude    float64
	Longitude   float64
}
