package logistics

import (
	"context"
	"fmt"
	"math/rand/v2"

	"agrisync/internal/repo"
)

// Seed area around Kolar, Karnataka.
const (
	CenterLatitude  = 13.137
	CenterLongitude = 78.129
	seedSpread      = 0.07
	seedLanguage    = "kn"
)

var seedCrops = []string{"Tomato", "Onion", "Potato", "Chilli"}

// SeedStore is the persistence needed to create demo data.
type SeedStore interface {
	InsertFarmerIfAbsent(ctx context.Context, farmer repo.Farmer) (bool, error)
	InsertLogisticsRequest(ctx context.Context, req repo.LogisticsRequest) (*repo.LogisticsRequest, error)
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	FarmersCreated int
	Requests       int
}

// Seed inserts n demo farmers near Kolar, each with one pending pickup request.
// Phones that already exist keep their record but still get a request.
func Seed(ctx context.Context, store SeedStore, n int, rnd *rand.Rand) (SeedResult, error) {
	var res SeedResult
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	for i := 0; i < n; i++ {
		phone := fmt.Sprintf("+919845%05d", 10000+rnd.IntN(90000))
		lat := CenterLatitude + jitter(rnd)
		lon := CenterLongitude + jitter(rnd)

		created, err := store.InsertFarmerIfAbsent(ctx, repo.Farmer{
			Phone:     phone,
			Latitude:  &lat,
			Longitude: &lon,
			Language:  seedLanguage,
		})
		if err != nil {
			return res, fmt.Errorf("seed farmer %s: %w", phone, err)
		}
		if created {
			res.FarmersCreated++
		}

		_, err = store.InsertLogisticsRequest(ctx, repo.LogisticsRequest{
			FarmerPhone: phone,
			CropType:    seedCrops[rnd.IntN(len(seedCrops))],
			WeightKg:    float64(30 + rnd.IntN(421)),
			Status:      repo.StatusPending,
		})
		if err != nil {
			return res, fmt.Errorf("seed request %s: %w", phone, err)
		}
		res.Requests++
	}
	return res, nil
}

func jitter(rnd *rand.Rand) float64 {
	return (rnd.Float64()*2 - 1) * seedSpread
}
