package logistics

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"agrisync/internal/logging"
	"agrisync/internal/repo"
	"agrisync/migrations"
)

type stubLister struct {
	pickups []repo.PendingPickup
	err     error
}

func (s stubLister) ListPendingPickups(context.Context) ([]repo.PendingPickup, error) {
	return s.pickups, s.err
}

func TestWriteRoute(t *testing.T) {
	store := stubLister{pickups: []repo.PendingPickup{
		{FarmerPhone: "+91984512345", WeightKg: 300, Latitude: 13.137123, Longitude: 78.12987},
		{FarmerPhone: "+91984554321", WeightKg: 42.5, Latitude: 13.1, Longitude: 78.2},
	}}
	var out bytes.Buffer
	n, err := WriteRoute(context.Background(), store, &out, "Kolar Cold Storage")
	if err != nil {
		t.Fatalf("WriteRoute: %v", err)
	}
	if n != 2 {
		t.Fatalf("stops = %d, want 2", n)
	}
	want := []string{
		"Stop 1: +91984512345 | Weight: 300kg | Loc: (13.1371, 78.1299)",
		"Stop 2: +91984554321 | Weight: 42.5kg | Loc: (13.1, 78.2)",
		"Final destination: Kolar Cold Storage",
	}
	for _, line := range want {
		if !strings.Contains(out.String(), line) {
			t.Fatalf("output missing %q:\n%s", line, out.String())
		}
	}
}

func TestWriteRouteEmpty(t *testing.T) {
	var out bytes.Buffer
	n, err := WriteRoute(context.Background(), stubLister{}, &out, "Depot")
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !strings.Contains(out.String(), "No pending pickups") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestWriteRouteStoreError(t *testing.T) {
	boom := errors.New("db down")
	_, err := WriteRoute(context.Background(), stubLister{err: boom}, &bytes.Buffer{}, "Depot")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestSeedPopulatesRoute(t *testing.T) {
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "seed.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	res, err := Seed(ctx, store, 20, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.Requests != 20 || res.FarmersCreated == 0 || res.FarmersCreated > 20 {
		t.Fatalf("unexpected result %+v", res)
	}

	pickups, err := store.ListPendingPickups(ctx)
	if err != nil {
		t.Fatalf("list pickups: %v", err)
	}
	if len(pickups) != 20 {
		t.Fatalf("pickups = %d, want 20", len(pickups))
	}
	crops := map[string]bool{"Tomato": true, "Onion": true, "Potato": true, "Chilli": true}
	for _, p := range pickups {
		if !crops[p.CropType] {
			t.Fatalf("unexpected crop %q", p.CropType)
		}
		if p.WeightKg < 30 || p.WeightKg > 450 {
			t.Fatalf("weight out of range: %v", p.WeightKg)
		}
		if math.Abs(p.Latitude-CenterLatitude) > seedSpread+1e-9 || math.Abs(p.Longitude-CenterLongitude) > seedSpread+1e-9 {
			t.Fatalf("position out of area: %v,%v", p.Latitude, p.Longitude)
		}
		if !strings.HasPrefix(p.FarmerPhone, "+919845") || len(p.FarmerPhone) != 12 {
			t.Fatalf("unexpected phone %q", p.FarmerPhone)
		}
	}

	var out bytes.Buffer
	if n, err := WriteRoute(ctx, store, &out, "Depot"); err != nil || n != 20 {
		t.Fatalf("WriteRoute n=%d err=%v", n, err)
	}
}

type seedRecorder struct {
	existing map[string]bool
	requests []repo.LogisticsRequest
	failOn   int
}

func (s *seedRecorder) InsertFarmerIfAbsent(_ context.Context, f repo.Farmer) (bool, error) {
	if s.existing[f.Phone] {
		return false, nil
	}
	s.existing[f.Phone] = true
	return true, nil
}

func (s *seedRecorder) InsertLogisticsRequest(_ context.Context, req repo.LogisticsRequest) (*repo.LogisticsRequest, error) {
	if s.failOn > 0 && len(s.requests)+1 == s.failOn {
		return nil, errors.New("constraint")
	}
	s.requests = append(s.requests, req)
	return &req, nil
}

func TestSeedStopsOnError(t *testing.T) {
	store := &seedRecorder{existing: map[string]bool{}, failOn: 3}
	res, err := Seed(context.Background(), store, 5, rand.New(rand.NewPCG(7, 7)))
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.Requests != 2 {
		t.Fatalf("requests = %d, want 2", res.Requests)
	}
}
