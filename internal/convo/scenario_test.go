package convo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agrisync/internal/logging"
	"agrisync/internal/nlu"
	"agrisync/internal/pricing"
	"agrisync/internal/repo"
	"agrisync/migrations"
)

type scriptedExtractor map[string]nlu.Extraction

func (s scriptedExtractor) Extract(_ context.Context, text string) nlu.Extraction {
	if ex, ok := s[text]; ok {
		return ex
	}
	return nlu.DefaultExtraction()
}

// TestFarmerJourney registers a farmer, asks for a price and books a pickup
// against a real SQLite store and price table.
func TestFarmerJourney(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := logging.Discard()

	store, err := repo.NewSQLite(ctx, filepath.Join(dir, "journey.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	csvPath := filepath.Join(dir, "prices.csv")
	csv := "District Name,Commodity,Modal Price (Rs./Quintal)\nKOLAR,Tomato,2250\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	engine := New(Dependencies{
		Farmers:   store,
		Logistics: store,
		Extractor: scriptedExtractor{
			"Tomato price":              english(nlu.IntentPriceCheck, "tomato", 0),
			"2 trucks for 300kg onions": english(nlu.IntentLogistics, "onion", 300),
		},
		Translator: &recordingTranslator{},
		Geocoder:   stubGeocoder{district: "KOLAR"},
		Prices:     pricing.NewTable(csvPath, logger, nil),
	}, nil, logger)

	const phone = "+91900000001"

	reply, err := engine.Handle(ctx, Inbound{From: "whatsapp:" + phone, Latitude: ptr(13.137), Longitude: ptr(78.129)})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(reply, "successful") || !strings.Contains(reply, "KOLAR") {
		t.Fatalf("unexpected registration reply %q", reply)
	}
	farmer, err := store.GetFarmer(ctx, phone)
	if err != nil {
		t.Fatalf("get farmer: %v", err)
	}
	if !farmer.HasPosition() || *farmer.Latitude != 13.137 || *farmer.Longitude != 78.129 {
		t.Fatalf("unexpected farmer %+v", farmer)
	}

	reply, err = engine.Handle(ctx, Inbound{From: "whatsapp:" + phone, Body: "Tomato price"})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want := "The current live market price for Tomato in KOLAR is ₹22.5/kg."
	if reply != want {
		t.Fatalf("price reply %q, want %q", reply, want)
	}

	reply, err = engine.Handle(ctx, Inbound{From: "whatsapp:" + phone, Body: "2 trucks for 300kg onions"})
	if err != nil {
		t.Fatalf("logistics: %v", err)
	}
	if !strings.Contains(reply, "300kg of onion") {
		t.Fatalf("unexpected logistics reply %q", reply)
	}
	pickups, err := store.ListPendingPickups(ctx)
	if err != nil {
		t.Fatalf("list pickups: %v", err)
	}
	if len(pickups) != 1 || pickups[0].WeightKg != 300 || pickups[0].CropType != "onion" {
		t.Fatalf("unexpected pickups %+v", pickups)
	}
}
