package pricing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"

	"agrisync/internal/metrics"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CSV columns of the market price trends export.
const (
	columnDistrict  = "District Name"
	columnCommodity = "Commodity"
	columnModal     = "Modal Price (Rs./Quintal)"
)

const (
	defaultBasePrice = 30
	offsetMin        = -5
	offsetMax        = 8
)

var basePrices = map[string]int{
	"Tomato": 25,
	"Onion":  35,
	"Potato": 20,
	"Maize":  15,
}

type key struct {
	district  string
	commodity string
}

// Table answers price questions from a CSV of modal prices per quintal.
type Table struct {
	path    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	prices map[key]float64

	randMu sync.Mutex
	intN   func(n int) int
}

// Option customises a Table.
type Option func(*Table)

// WithIntN replaces the random source used for estimates.
func WithIntN(fn func(n int) int) Option {
	return func(t *Table) { t.intN = fn }
}

// NewTable loads path. A missing or broken file is logged and leaves the table
// empty, every lookup then falls back to an estimate.
func NewTable(path string, logger *slog.Logger, metricRegistry *metrics.Metrics, opts ...Option) *Table {
	t := &Table{
		path:    path,
		logger:  logger.With("component", "pricing"),
		metrics: metricRegistry,
		intN:    rand.IntN,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.Reload(); err != nil {
		t.logger.Warn("price table unavailable, using estimates", "path", path, "error", err)
	}
	return t
}

// Reload re-reads the CSV file. On error the previous data is kept.
func (t *Table) Reload() error {
	if strings.TrimSpace(t.path) == "" {
		return errors.New("price table path is empty")
	}
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open price table: %w", err)
	}
	defer f.Close()

	prices, err := parseTable(f)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.prices = prices
	t.mu.Unlock()
	t.logger.Info("price table loaded", "path", t.path, "rows", len(prices))
	return nil
}

// Len reports how many (district, commodity) pairs are loaded.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}

// Lookup never fails; unknown pairs produce an "approximately" estimate.
func (t *Table) Lookup(crop, district string) string {
	commodity := canonicalCommodity(crop)
	district = strings.ToUpper(strings.TrimSpace(district))

	t.mu.RLock()
	quintal, ok := t.prices[key{district: district, commodity: commodity}]
	t.mu.RUnlock()

	if ok {
		t.count("table")
		perKg := math.Round(quintal) / 100
		return fmt.Sprintf("The current live market price for %s in %s is ₹%s/kg.", commodity, district, formatRupees(perKg))
	}

	t.count("estimate")
	t.logger.Debug("using estimated price", "commodity", commodity, "district", district)
	base, known := basePrices[commodity]
	if !known {
		base = defaultBasePrice
	}
	t.randMu.Lock()
	offset := t.intN(offsetMax-offsetMin+1) + offsetMin
	t.randMu.Unlock()
	return fmt.Sprintf("The current live market price for %s in %s is approximately ₹%d/kg.", commodity, district, base+offset)
}

func (t *Table) count(source string) {
	if t.metrics != nil {
		t.metrics.PriceLookups.WithLabelValues(source).Inc()
	}
}

// parseTable keeps the first row seen for each (district, commodity) pair.
func parseTable(r io.Reader) (map[key]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read price table header: %w", err)
	}
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range []string{columnDistrict, columnCommodity, columnModal} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("price table missing column %q", col)
		}
	}

	prices := map[key]float64{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read price table row: %w", err)
		}
		district := strings.ToUpper(field(record, idx[columnDistrict]))
		commodity := canonicalCommodity(field(record, idx[columnCommodity]))
		modal, err := strconv.ParseFloat(field(record, idx[columnModal]), 64)
		if district == "" || commodity == "" || err != nil {
			continue
		}
		k := key{district: district, commodity: commodity}
		if _, seen := prices[k]; !seen {
			prices[k] = modal
		}
	}
	return prices, nil
}

// canonicalCommodity title-cases a crop name. Casers are stateful, so one is built per call.
// formatRupees keeps at least one decimal place: 25 -> "25.0", 22.5 -> "22.5".
func formatRupees(v float64) string {
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}

func canonicalCommodity(crop string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(crop))
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
