package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/PhilHem/villa-auth/backend/models"

	"gorm.io/gorm"
)

type LogsResponse struct {
	Logs    []models.LogEntry `json:"logs"`
	Total   int64             `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

func (a *API) GetLogs(w http.ResponseWriter, r *http.Request) {
	logs := []models.LogEntry{}
	q := a.db.WithContext(r.Context()).Model(&models.LogEntry{})

	// Pagination
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	// Filters
	if level := r.URL.Query().Get("level"); level != "" {
		q = q.Where("level = ?", level)
	}
	if source := r.URL.Query().Get("source"); source != "" {
		q = q.Where("source = ?", source)
	}
	if subject := r.URL.Query().Get("subject"); subject != "" {
		q = q.Where("subject = ?", subject)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		q = q.Where("message LIKE ? OR data LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		writeError(w, r, err)
		return
	}

	offset := (page - 1) * perPage
	if err := q.Session(&gorm.Session{}).Order("created_at DESC").Offset(offset).Limit(perPage).Find(&logs).Error; err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LogsResponse{
		Logs:    logs,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

func (a *API) GetLogSources(w http.ResponseWriter, r *http.Request) {
	sources := []string{}
	err := a.db.WithContext(r.Context()).Model(&models.LogEntry{}).
		Distinct("source").Where("source != ''").Order("source").Pluck("source", &sources).Error
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

type TimelinePoint struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

type BulkDeleteRequest struct {
	IDs []uint `json:"ids"`
}

func (a *API) DeleteLogs(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no ids provided"})
		return
	}

	result := a.db.WithContext(r.Context()).Delete(&models.LogEntry{}, req.IDs)
	if result.Error != nil {
		writeError(w, r, result.Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": result.RowsAffected})
}

var timelineRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

var timelineResolutions = map[string]int64{
	"1m":  60,
	"5m":  5 * 60,
	"15m": 15 * 60,
	"1h":  3600,
	"1d":  86400,
}

// autoResolution keeps a timeline at roughly 60 buckets
func autoResolution(span time.Duration) int64 {
	for _, step := range []int64{60, 5 * 60, 15 * 60, 3600, 86400} {
		if int64(span.Seconds())/step <= 60 {
			return step
		}
	}
	return 86400
}

// GetLogTimeline counts entries per time bucket. range and resolution are
// looked up in fixed tables; unknown values fall back to defaults.
func (a *API) GetLogTimeline(w http.ResponseWriter, r *http.Request) {
	span, ok := timelineRanges[r.URL.Query().Get("range")]
	if !ok {
		span = 24 * time.Hour
	}
	step, ok := timelineResolutions[r.URL.Query().Get("resolution")]
	if !ok {
		step = autoResolution(span)
	}

	var rows []struct {
		Bucket int64
		Count  int
	}
	err := a.db.WithContext(r.Context()).Model(&models.LogEntry{}).
		Select("(CAST(strftime('%s', created_at) AS INTEGER) / ?) * ? AS bucket, count(*) AS count", step, step).
		Where("created_at >= ?", a.now().Add(-span).UTC()).
		Group("bucket").
		Order("bucket ASC").
		Scan(&rows).Error
	if err != nil {
		writeError(w, r, err)
		return
	}

	points := make([]TimelinePoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, TimelinePoint{Time: time.Unix(row.Bucket, 0).UTC(), Count: row.Count})
	}
	writeJSON(w, http.StatusOK, points)
}
