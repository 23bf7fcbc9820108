package delivery

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/server"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/pkg/models"
)

// exportPageSize is the repository page used while streaming an export.
const exportPageSize = 1000

// csvHeaders returns the CSV column headers.
func csvHeaders() []string {
	return []string{
		"id", "device", "seq", "subject_id", "subject_name", "date", "time",
		"description", "origin", "delivery_status", "delivery_attempts", "local_image_path",
	}
}

// eventToCSVRow converts an event to a CSV row (matching csvHeaders order).
func eventToCSVRow(e models.Event) []string {
	subject := ""
	if e.SubjectID != nil {
		subject = strconv.FormatInt(*e.SubjectID, 10)
	}
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.DeviceName,
		strconv.FormatInt(e.Seq, 10),
		subject,
		e.SubjectName,
		e.Date,
		e.Time,
		e.Description,
		string(e.Origin),
		string(e.DeliveryStatus),
		strconv.Itoa(e.DeliveryAttempts),
		e.LocalImagePath,
	}
}

// handleExport streams one day's events as CSV for reconciliation against
// the receiving system.
func (w *Worker) handleExport(rw http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != models.SentinelDate {
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			server.BadRequest(rw, "date must be YYYY-MM-DD", r.URL.Path)
			return
		}
	}

	first, err := w.events.ListByDate(r.Context(), date, services.ListOptions{Limit: exportPageSize})
	if err != nil {
		w.logger.Warn("failed to export events", zap.String("date", date), zap.Error(err))
		server.InternalError(rw, "failed to export events", r.URL.Path)
		return
	}

	rw.Header().Set("Content-Type", "text/csv")
	rw.Header().Set("Content-Disposition", `attachment; filename="events-`+date+`.csv"`)
	cw := csv.NewWriter(rw)
	_ = cw.Write(csvHeaders())

	page, offset := first, 0
	for {
		for _, e := range page.Items {
			_ = cw.Write(eventToCSVRow(e))
		}
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			break
		}
		page, err = w.events.ListByDate(r.Context(), date, services.ListOptions{Limit: exportPageSize, Offset: offset})
		if err != nil {
			// Headers are already sent; the truncated body is all we can do.
			w.logger.Warn("export truncated", zap.String("date", date), zap.Int("rows", offset), zap.Error(err))
			break
		}
	}
	cw.Flush()
}
