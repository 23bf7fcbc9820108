package delivery

import (
	"encoding/csv"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/gatesync/internal/testutil"
	"github.com/HerbHall/gatesync/pkg/models"
)

func TestHandleExport(t *testing.T) {
	h := newHarness(t)
	h.repos.AddEvent(t, testutil.NewEvent(1))
	h.repos.AddEvent(t, testutil.NewEvent(2, testutil.WithDelivery(models.DeliveryFailed, 5),
		func(e *models.Event) { e.SubjectID = nil; e.SubjectName = "Sari, W." }))
	h.repos.AddEvent(t, testutil.NewEvent(3, testutil.WithDate("2025-01-02")))

	w := serve(t, h, http.MethodGet, "/export?date=2025-01-01")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeaders(), records[0])

	bySeq := map[string][]string{}
	for _, rec := range records[1:] {
		bySeq[rec[2]] = rec
	}
	assert.Equal(t, "1001", bySeq["1"][3])
	assert.Equal(t, "pending", bySeq["1"][9])
	assert.Equal(t, "", bySeq["2"][3])
	assert.Equal(t, "Sari, W.", bySeq["2"][4])
	assert.Equal(t, "5", bySeq["2"][10])
}

func TestHandleExport_BadDate(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/export?date=yesterday").Code)
}
