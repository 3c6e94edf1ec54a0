package twilio

import (
	"context"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agrisync/internal/convo"
	"agrisync/internal/geo"
	"agrisync/internal/metrics"
)

const (
	channelName  = "twilio"
	maxFormBytes = 64 << 10
)

// Router handles one farmer message.
type Router interface {
	Handle(ctx context.Context, in convo.Inbound) (string, error)
}

// Config controls webhook verification and limits.
type Config struct {
	// AuthToken enables X-Twilio-Signature validation when set.
	AuthToken string
	// WebhookURL is the public URL Twilio signs; derived from the request when empty.
	WebhookURL string
	// Timeout bounds the routing of one message.
	Timeout time.Duration
}

// WebhookHandler accepts Twilio messaging webhooks and answers with TwiML.
type WebhookHandler struct {
	cfg     Config
	router  Router
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(cfg Config, router Router, logger *slog.Logger, metricRegistry *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{
		cfg:     cfg,
		router:  router,
		logger:  logger.With("component", "twilio_webhook"),
		metrics: metricRegistry,
	}
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.metrics.IncError("twilio_webhook")
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if h.cfg.AuthToken != "" {
		fullURL := h.cfg.WebhookURL
		if fullURL == "" {
			fullURL = requestURL(r)
		}
		if !validSignature(h.cfg.AuthToken, fullURL, r.PostForm, r.Header.Get(SignatureHeader)) {
			h.metrics.IncError("twilio_webhook_auth")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	in, err := inboundFromForm(r)
	if err != nil {
		h.metrics.IncError("twilio_webhook")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	reply, err := h.router.Handle(ctx, in)
	if err != nil {
		if errors.Is(err, convo.ErrMissingSender) {
			http.Error(w, "missing sender", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed routing message", "error", err, "from", in.From)
		h.metrics.IncError("twilio_webhook_process")
		http.Error(w, "failed to process", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(twimlResponse{Message: reply}); err != nil {
		h.logger.Warn("failed writing twiml", "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.OutgoingMessages.WithLabelValues(channelName).Inc()
	}
}

func inboundFromForm(r *http.Request) (convo.Inbound, error) {
	in := convo.Inbound{
		From:    strings.TrimSpace(r.PostFormValue("From")),
		Body:    strings.TrimSpace(r.PostFormValue("Body")),
		Channel: channelName,
	}
	if in.From == "" {
		return in, errors.New("missing From")
	}

	latRaw := strings.TrimSpace(r.PostFormValue("Latitude"))
	lonRaw := strings.TrimSpace(r.PostFormValue("Longitude"))
	if latRaw != "" && lonRaw != "" {
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return in, errors.New("invalid Latitude")
		}
		lon, err := strconv.ParseFloat(lonRaw, 64)
		if err != nil {
			return in, errors.New("invalid Longitude")
		}
		in.Latitude, in.Longitude = &lat, &lon
		return in, nil
	}

	// A pasted "lat, lon" pair counts as a location share.
	if lat, lon, err := geo.ParseCoordinates(in.Body); err == nil {
		in.Latitude, in.Longitude = &lat, &lon
		in.Body = ""
	}
	return in, nil
}
