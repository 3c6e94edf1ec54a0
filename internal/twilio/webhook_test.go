package twilio

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"agrisync/internal/convo"
	"agrisync/internal/httpserver"
	"agrisync/internal/logging"
)

type recordingRouter struct {
	got   []convo.Inbound
	reply string
	err   error
}

func (r *recordingRouter) Handle(_ context.Context, in convo.Inbound) (string, error) {
	r.got = append(r.got, in)
	return r.reply, r.err
}

func postForm(t *testing.T, h http.Handler, form url.Values, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://example.com/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, vals := range header {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRepliesWithTwiML(t *testing.T) {
	router := &recordingRouter{reply: "Price is ₹22.5/kg & rising"}
	h := NewWebhookHandler(Config{}, router, logging.Discard(), nil)

	rec := postForm(t, h, url.Values{"From": {"whatsapp:+91900000001"}, "Body": {" Tomato price "}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content type %q", ct)
	}

	var resp twimlResponse
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode twiml: %v", err)
	}
	if resp.Message != router.reply {
		t.Fatalf("message %q, want %q", resp.Message, router.reply)
	}
	if !strings.Contains(rec.Body.String(), "&amp;") {
		t.Fatalf("reply not escaped: %s", rec.Body.String())
	}

	if len(router.got) != 1 {
		t.Fatalf("router called %d times", len(router.got))
	}
	in := router.got[0]
	if in.From != "whatsapp:+91900000001" || in.Body != "Tomato price" || in.Channel != "twilio" {
		t.Fatalf("unexpected inbound %+v", in)
	}
	if in.HasLocation() {
		t.Fatalf("unexpected location")
	}
}

func TestWebhookLocationFields(t *testing.T) {
	router := &recordingRouter{reply: "ok"}
	h := NewWebhookHandler(Config{}, router, logging.Discard(), nil)

	rec := postForm(t, h, url.Values{
		"From":      {"whatsapp:+1"},
		"Latitude":  {"13.137"},
		"Longitude": {"78.129"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	in := router.got[0]
	if !in.HasLocation() || *in.Latitude != 13.137 || *in.Longitude != 78.129 {
		t.Fatalf("unexpected location %+v", in)
	}
}

func TestWebhookCoordinateBody(t *testing.T) {
	router := &recordingRouter{reply: "ok"}
	h := NewWebhookHandler(Config{}, router, logging.Discard(), nil)

	postForm(t, h, url.Values{"From": {"+1"}, "Body": {"13.0123, 77.5432"}}, nil)
	in := router.got[0]
	if !in.HasLocation() || *in.Latitude != 13.0123 || *in.Longitude != 77.5432 {
		t.Fatalf("coordinates not parsed: %+v", in)
	}
	if in.Body != "" {
		t.Fatalf("body should be cleared, got %q", in.Body)
	}
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing from", url.Values{"Body": {"hi"}}},
		{"blank from", url.Values{"From": {"   "}, "Body": {"hi"}}},
		{"bad latitude", url.Values{"From": {"+1"}, "Latitude": {"north"}, "Longitude": {"78"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := &recordingRouter{}
			h := NewWebhookHandler(Config{}, router, logging.Discard(), nil)
			rec := postForm(t, h, tc.form, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", rec.Code)
			}
			if len(router.got) != 0 {
				t.Fatalf("router should not run")
			}
		})
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h := NewWebhookHandler(Config{}, &recordingRouter{}, logging.Discard(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/twilio", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestWebhookRouterErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing sender", convo.ErrMissingSender, http.StatusBadRequest},
		{"store failure", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWebhookHandler(Config{}, &recordingRouter{err: tc.err}, logging.Discard(), nil)
			rec := postForm(t, h, url.Values{"From": {"whatsapp:"}, "Body": {"hi"}}, nil)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestWebhookSignature(t *testing.T) {
	const token = "secret-token"
	const hookURL = "https://agrisync.example/webhook/twilio"
	form := url.Values{"From": {"whatsapp:+1"}, "Body": {"hi"}}

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"valid", Sign(token, hookURL, form), http.StatusOK},
		{"wrong token", Sign("other", hookURL, form), http.StatusForbidden},
		{"missing", "", http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := &recordingRouter{reply: "ok"}
			h := NewWebhookHandler(Config{AuthToken: token, WebhookURL: hookURL}, router, logging.Discard(), nil)
			header := http.Header{}
			if tc.signature != "" {
				header.Set(SignatureHeader, tc.signature)
			}
			rec := postForm(t, h, form, header)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestSignMatchesTwilioAlgorithm(t *testing.T) {
	// Parameters from the Twilio request validation example.
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	got := Sign("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params)
	if got != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatalf("unexpected signature %q", got)
	}
}

func TestSignatureFromRequestURL(t *testing.T) {
	const token = "secret-token"
	form := url.Values{"From": {"+1"}}
	router := &recordingRouter{reply: "ok"}
	h := NewWebhookHandler(Config{AuthToken: token}, router, logging.Discard(), nil)

	header := http.Header{}
	header.Set(SignatureHeader, Sign(token, "http://example.com/webhook/twilio", form))
	rec := postForm(t, h, form, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSignatureBehindBasePath(t *testing.T) {
	const token = "secret-token"
	form := url.Values{"From": {"whatsapp:+1"}, "Body": {"1"}}

	tests := []struct {
		name   string
		target string
	}{
		{"absolute target", "http://example.com/agri/webhook/twilio"},
		{"origin target", "/agri/webhook/twilio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := &recordingRouter{reply: "ok"}
			webhook := NewWebhookHandler(Config{AuthToken: token}, router, logging.Discard(), nil)
			srv := httpserver.New(":0", logging.Discard(), nil, httpserver.Handlers{TwilioWebhook: webhook}, "/agri")

			req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set(SignatureHeader, Sign(token, "http://example.com/agri/webhook/twilio", form))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
			if len(router.got) != 1 {
				t.Fatalf("router called %d times", len(router.got))
			}
		})
	}
}
