package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/marketcache/internal/models"
)

func TestMerge_DisjointRangesUnion(t *testing.T) {
	older := genBars(20, fixedNow.AddDate(0, 0, -30), "")
	newer := genBars(10, fixedNow, "")

	merged := Merge(older, newer)
	require.Len(t, merged, 30)
	assertDescending(t, merged)
	assert.Equal(t, models.ProvenanceAPI, merged[0].Provenance)
	assert.Equal(t, models.ProvenanceLocal, merged[29].Provenance)
}

func TestMerge_FreshWinsOnCollision(t *testing.T) {
	existing := genBars(5, fixedNow, models.ProvenanceLocal)
	fresh := genBars(2, fixedNow, "")
	for i := range fresh {
		fresh[i].Close = 999
		fresh[i].Date = fresh[i].Date.Add(16 * time.Hour) // same calendar day, later in it
	}

	merged := Merge(existing, fresh)
	require.Len(t, merged, 5)
	assert.Equal(t, 999.0, merged[0].Close)
	assert.Equal(t, 999.0, merged[1].Close)
	assert.Equal(t, models.ProvenanceAPI, merged[1].Provenance)
	assert.NotEqual(t, 999.0, merged[2].Close)
	assert.Equal(t, models.ProvenanceLocal, merged[2].Provenance)
}

func TestMerge_Idempotent(t *testing.T) {
	existing := genBars(30, fixedNow.AddDate(0, 0, -10), "")
	fresh := genBars(15, fixedNow, "")

	once := Merge(existing, fresh)
	twice := Merge(once, fresh)
	assert.Equal(t, once, twice)
}

func TestMerge_KeepsExistingTags(t *testing.T) {
	existing := genBars(3, fixedNow, models.ProvenanceAPI)
	merged := Merge(existing, nil)
	for _, b := range merged {
		assert.Equal(t, models.ProvenanceAPI, b.Provenance)
	}
}

func TestMerge_DoesNotModifyInputs(t *testing.T) {
	adj := 42.0
	existing := genBars(3, fixedNow, "")
	existing[0].AdjClose = &adj
	fresh := genBars(3, fixedNow.AddDate(0, 0, 5), "")
	// ascending input is re-sorted in the result only
	fresh[0], fresh[2] = fresh[2], fresh[0]

	merged := Merge(existing, fresh)
	require.Len(t, merged, 6)
	assertDescending(t, merged)

	assert.Equal(t, "", existing[0].Provenance)
	assert.Equal(t, "", fresh[0].Provenance)
	assert.True(t, fresh[0].Date.Before(fresh[2].Date))

	*merged[3].AdjClose = 0
	assert.Equal(t, 42.0, adj)
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
}
