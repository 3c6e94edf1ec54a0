package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agrisync/internal/logging"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubPrices struct {
	err     error
	reloads int
}

func (s *stubPrices) Reload() error {
	s.reloads++
	return s.err
}

func (s *stubPrices) Len() int { return 42 }

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		deps Dependencies
		want int
	}{
		{"no repository", Dependencies{}, http.StatusOK},
		{"repository up", Dependencies{Repository: stubPinger{}}, http.StatusOK},
		{"repository down", Dependencies{Repository: stubPinger{err: errors.New("refused")}}, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(":0", logging.Discard(), nil, Handlers{}, "")
			srv.SetDependencies(tc.deps)
			if rec := serve(t, srv, http.MethodGet, "/healthz"); rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestReloadPrices(t *testing.T) {
	prices := &stubPrices{}
	srv := New(":0", logging.Discard(), nil, Handlers{}, "")
	srv.SetDependencies(Dependencies{Prices: prices})

	if rec := serve(t, srv, http.MethodGet, "/admin/reload-prices"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", rec.Code)
	}
	rec := serve(t, srv, http.MethodPost, "/admin/reload-prices")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":42`) || prices.reloads != 1 {
		t.Fatalf("unexpected response %s (reloads %d)", rec.Body.String(), prices.reloads)
	}

	prices.err = errors.New("missing file")
	if rec := serve(t, srv, http.MethodPost, "/admin/reload-prices"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d on reload failure", rec.Code)
	}
}

func TestReloadPricesUnavailable(t *testing.T) {
	srv := New(":0", logging.Discard(), nil, Handlers{}, "")
	if rec := serve(t, srv, http.MethodPost, "/admin/reload-prices"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestBasePathMounting(t *testing.T) {
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	})
	srv := New(":0", logging.Discard(), nil, Handlers{TwilioWebhook: webhook}, "agri/")

	tests := []struct {
		path string
		want int
	}{
		{"/agri/webhook/twilio", http.StatusOK},
		{"/agri/healthz", http.StatusOK},
		{"/webhook/twilio", http.StatusNotFound},
		{"/agriculture/healthz", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := serve(t, srv, http.MethodGet, tc.path)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}

	if rec := serve(t, srv, http.MethodPost, "/agri/webhook/twilio"); rec.Body.String() != "/webhook/twilio" {
		t.Fatalf("path not trimmed: %q", rec.Body.String())
	}
}

func TestNormaliseBasePath(t *testing.T) {
	cases := map[string]string{
		"":         "",
		"/":        "",
		"agri":     "/agri",
		" /agri/ ": "/agri",
	}
	for in, want := range cases {
		if got := normaliseBasePath(in); got != want {
			t.Errorf("normaliseBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
