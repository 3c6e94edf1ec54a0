package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agrisync/internal/cache"
	"agrisync/internal/metrics"
)

// Unknown is returned whenever a district cannot be resolved.
const Unknown = "UNKNOWN"

var (
	// ErrTimeout marks a reverse lookup that did not answer in time; only these are retried.
	ErrTimeout = errors.New("geocoder timed out")
)

// Config holds reverse geocoder configuration.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	CacheTTL   time.Duration
}

type stringCache interface {
	Key(parts ...string) string
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

var _ stringCache = (*cache.Redis)(nil)

// Nominatim resolves coordinates to district labels via OpenStreetMap.
type Nominatim struct {
	logger     *slog.Logger
	baseURL    string
	userAgent  string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	http       *http.Client
	metrics    *metrics.Metrics
	cache      stringCache
	cacheTTL   time.Duration
}

type reverseResponse struct {
	Address map[string]string `json:"address"`
	Error   string            `json:"error"`
}

// New creates a reverse geocoder. redis may be nil.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) *Nominatim {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://nominatim.openstreetmap.org"
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "agrisync_production_bot_v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 2
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	n := &Nominatim{
		logger:     logger.With("component", "geocoder"),
		baseURL:    base,
		userAgent:  userAgent,
		timeout:    timeout,
		retries:    retries,
		retryDelay: delay,
		http:       &http.Client{},
		metrics:    metricRegistry,
		cacheTTL:   cfg.CacheTTL,
	}
	if redis != nil {
		n.cache = redis
	}
	return n
}

// DistrictFor returns an upper-case district label, or Unknown. It never fails.
func (n *Nominatim) DistrictFor(ctx context.Context, lat, lon float64) string {
	if missingCoordinate(lat) || missingCoordinate(lon) {
		return Unknown
	}

	cacheKey := ""
	if n.cache != nil && n.cacheTTL > 0 {
		cacheKey = n.cache.Key("district", strconv.FormatFloat(lat, 'f', 4, 64), strconv.FormatFloat(lon, 'f', 4, 64))
		if cached, ok, err := n.cache.GetString(ctx, cacheKey); err != nil {
			n.logger.Warn("read district cache failed", "error", err)
		} else if ok {
			return cached
		}
	}

	for attempt := 1; attempt <= n.retries; attempt++ {
		district, err := n.reverse(ctx, lat, lon)
		if err == nil {
			if cacheKey != "" && district != Unknown {
				if err := n.cache.SetString(ctx, cacheKey, district, n.cacheTTL); err != nil {
					n.logger.Warn("set district cache failed", "error", err)
				}
			}
			return district
		}
		if !errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			n.metrics.IncError("geocoder")
			n.logger.Warn("reverse geocoding failed", "error", err)
			return Unknown
		}
		n.logger.Warn("geocoder timed out, retrying", "attempt", attempt, "retries", n.retries)
		if attempt < n.retries {
			select {
			case <-ctx.Done():
				return Unknown
			case <-time.After(n.retryDelay):
			}
		}
	}

	n.metrics.IncError("geocoder")
	return Unknown
}

func (n *Nominatim) reverse(ctx context.Context, lat, lon float64) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("zoom", "10")
	query.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, n.baseURL+"/reverse?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := n.http.Do(req)
	if err != nil {
		n.observe("error", start)
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("geocoder request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		n.observe("error", start)
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("read response: %w", err)
	}
	n.observe(strconv.Itoa(res.StatusCode), start)

	if res.StatusCode >= 400 {
		return "", fmt.Errorf("geocoder error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded reverseResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return districtFromAddress(decoded.Address), nil
}

func (n *Nominatim) observe(status string, start time.Time) {
	if n.metrics == nil {
		return
	}
	n.metrics.GeocoderRequests.WithLabelValues(status).Inc()
	n.metrics.GeocoderLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// districtFromAddress prefers state_district over county, e.g. "Kolar District" -> "KOLAR".
func districtFromAddress(address map[string]string) string {
	if len(address) == 0 {
		return Unknown
	}
	district := address["state_district"]
	if district == "" {
		district = address["county"]
	}
	district = strings.ReplaceAll(district, " District", "")
	district = strings.ReplaceAll(district, " district", "")
	district = strings.ToUpper(strings.TrimSpace(district))
	if district == "" {
		return Unknown
	}
	return district
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func missingCoordinate(v float64) bool {
	return v == 0 || math.IsNaN(v) || math.IsInf(v, 0)
}
