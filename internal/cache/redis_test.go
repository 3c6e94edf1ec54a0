package cache

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"agrisync/internal/logging"
)

func TestKeyUsesPrefix(t *testing.T) {
	r := New(Config{Addr: "127.0.0.1:0"}, logging.Discard())
	defer r.Close()

	if got := r.Key("geo", "13.1370", "78.1290"); got != "agrisync:geo:13.1370:78.1290" {
		t.Fatalf("unexpected key %q", got)
	}

	custom := New(Config{Addr: "127.0.0.1:0", Prefix: "test"}, logging.Discard())
	defer custom.Close()
	if got := custom.Key("tr", "hi"); got != "test:tr:hi" {
		t.Fatalf("unexpected key %q", got)
	}
}

// Runs only against a live server: REDIS_TEST_ADDR=localhost:6379 go test ./internal/cache
func TestStringRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	r := New(Config{Addr: addr, Prefix: "agrisync-test"}, logging.Discard())
	defer r.Close()
	if err := r.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := r.Key("roundtrip", strconv.FormatInt(time.Now().UnixNano(), 10))
	if _, ok, err := r.GetString(ctx, key); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := r.SetString(ctx, key, "KOLAR", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := r.GetString(ctx, key)
	if err != nil || !ok || got != "KOLAR" {
		t.Fatalf("get = %q ok=%v err=%v", got, ok, err)
	}
}
