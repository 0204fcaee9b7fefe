package market

import (
	"github.com/bobmcallan/marketcache/internal/models"
)

// Merge returns the union of existing and fresh bars, newest first.
// Fresh bars are placed ahead of existing ones and the first bar seen for a
// calendar date is kept, so fresh data wins every collision. Fresh bars are
// stamped api; existing bars keep their tag, defaulting to local.
// Neither input is modified.
func Merge(existing, fresh []models.EODBar) []models.EODBar {
	merged := make([]models.EODBar, 0, len(fresh)+len(existing))
	seen := make(map[string]struct{}, len(fresh)+len(existing))

	add := func(b models.EODBar) {
		key := b.Day().Format("2006-01-02")
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, b)
	}

	for _, b := range models.CloneBars(fresh) {
		b.Provenance = models.ProvenanceAPI
		add(b)
	}
	for _, b := range models.CloneBars(existing) {
		if b.Provenance == "" {
			b.Provenance = models.ProvenanceLocal
		}
		add(b)
	}

	models.SortBarsDesc(merged)
	return merged
}
