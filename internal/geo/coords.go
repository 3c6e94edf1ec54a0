package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCoordinates parses a shared location string such as "13.0123, 77.5432".
func ParseCoordinates(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("parse coordinates %q: expected \"lat, lon\"", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse latitude: %w", err)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("parse coordinates %q: out of range", s)
	}
	return lat, lon, nil
}
