package logistics

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"agrisync/internal/repo"
)

// PickupLister lists pending pickups joined with farmer positions.
type PickupLister interface {
	ListPendingPickups(ctx context.Context) ([]repo.PendingPickup, error)
}

const divider = "------------------------------"

// WriteRoute prints the pending pickups as an ordered list of stops ending at depot.
// It returns the number of stops written.
func WriteRoute(ctx context.Context, store PickupLister, w io.Writer, depot string) (int, error) {
	pickups, err := store.ListPendingPickups(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending pickups: %w", err)
	}

	var b strings.Builder
	if len(pickups) == 0 {
		b.WriteString("No pending pickups found.\n")
		_, err := io.WriteString(w, b.String())
		return 0, err
	}

	fmt.Fprintf(&b, "Found %d farmers ready for pickup.\n", len(pickups))
	b.WriteString(divider + "\n")
	for i, p := range pickups {
		fmt.Fprintf(&b, "Stop %d: %s | Weight: %skg | Loc: (%s, %s)\n",
			i+1, p.FarmerPhone, formatNumber(p.WeightKg), formatCoord(p.Latitude), formatCoord(p.Longitude))
	}
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "Final destination: %s\n", depot)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return 0, fmt.Errorf("write route: %w", err)
	}
	return len(pickups), nil
}

func formatCoord(v float64) string {
	return formatNumber(math.Round(v*1e4) / 1e4)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
