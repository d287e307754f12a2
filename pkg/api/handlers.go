package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/viewcount/pkg/httputil"
	"github.com/platinummonkey/viewcount/pkg/observability"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
	"github.com/sirupsen/logrus"
)

// ItemResponse is the body of GET /items/{id}.
type ItemResponse struct {
	ItemID string           `json:"item_id"`
	Stats  *viewstats.Stats `json:"stats"`
}

// MonitoringResponse is the body of GET /monitoring.
type MonitoringResponse struct {
	CacheHitRate float64 `json:"cache_hit_rate"`
	QueueSize    int64   `json:"queue_size"`
}

// recordView handles POST /items/{id}/views.
func (s *Server) recordView(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseItemIDOrError(w, r, "id")
	if !ok {
		return
	}
	viewer, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}

	if err := s.recorder.RecordView(r.Context(), itemID, viewer); err != nil {
		s.writeRecordError(w, r, itemID, err)
		return
	}

	httputil.WriteNoContent(w)
}

// getItem handles GET /items/{id}. The view is counted before stats are read so
// the response includes it.
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseItemIDOrError(w, r, "id")
	if !ok {
		return
	}
	viewer, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}

	if err := s.recorder.RecordView(r.Context(), itemID, viewer); err != nil {
		// The page is still served; the view is lost.
		observability.FromContext(r.Context()).WithError(err).WithField("item_id", itemID).
			Warn("Failed to record view for item detail")
	}

	stats, ok := s.readStats(w, r, itemID)
	if !ok {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ItemResponse{ItemID: itemID, Stats: stats}) //nolint:errcheck
}

// getStats handles GET /items/{id}/stats.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseItemIDOrError(w, r, "id")
	if !ok {
		return
	}

	stats, ok := s.readStats(w, r, itemID)
	if !ok {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats) //nolint:errcheck
}

// getMonitoring handles GET /monitoring. A queue length that cannot be read is
// reported as zero.
func (s *Server) getMonitoring(w http.ResponseWriter, r *http.Request) {
	size, err := s.queue.QueueLength(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to read sync queue length")
		size = 0
	}
	s.metrics.SetQueueSize(size)

	httputil.WriteJSON(w, http.StatusOK, MonitoringResponse{ //nolint:errcheck
		CacheHitRate: s.reader.CacheHitRate(),
		QueueSize:    size,
	})
}

func (s *Server) readStats(w http.ResponseWriter, r *http.Request, itemID string) (*viewstats.Stats, bool) {
	stats, err := s.reader.GetStats(r.Context(), itemID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("item_id", itemID).
			Error("Failed to read item stats")
		httputil.WriteServiceUnavailable(w, "stats unavailable")
		return nil, false
	}

	if stats.Source != "" {
		w.Header().Set(StatsSourceHeader, string(stats.Source))
	}
	return stats, true
}

func (s *Server) writeRecordError(w http.ResponseWriter, r *http.Request, itemID string, err error) {
	entry := observability.FromContext(r.Context()).WithError(err).WithFields(logrus.Fields{
		"item_id": itemID,
	})

	if errors.Is(err, viewstats.ErrPersistence) {
		entry.Error("View lost: fast and durable stores both failed")
		httputil.WriteServiceUnavailable(w, "view could not be recorded")
		return
	}

	entry.Error("Failed to record view")
	httputil.WriteInternalError(w, errors.New("view could not be recorded"))
}
