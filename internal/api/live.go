package api

import (
	"net/http"

	"github.com/VishwanathaRgitgit/DeepAir/internal/aqi"
	"github.com/VishwanathaRgitgit/DeepAir/internal/durability"
	"github.com/VishwanathaRgitgit/DeepAir/internal/livestate"
	"github.com/VishwanathaRgitgit/DeepAir/internal/version"
)

// LiveResponse is the body of GET /api/live. Fields of Latest are null
// until the first reading; history arrays always have equal length.
type LiveResponse struct {
	Latest  LatestReading `json:"latest"`
	History History       `json:"history"`
	Stale   bool          `json:"stale"`
}

type LatestReading struct {
	PM25          *float64 `json:"pm25"`
	PM10          *float64 `json:"pm10"`
	Timestamp     *string  `json:"timestamp"`
	PredictedPM25 *float64 `json:"predicted_pm25"`
	AQI           *int     `json:"aqi"`
	Category      *string  `json:"category"`
}

type History struct {
	Timestamps []string  `json:"timestamps"`
	PM25       []float64 `json:"pm25"`
	PM10       []float64 `json:"pm10"`
}

func (s *Server) liveResponse(snap livestate.Snapshot) LiveResponse {
	resp := LiveResponse{
		History: History{
			Timestamps: make([]string, 0, len(snap.History)),
			PM25:       make([]float64, 0, len(snap.History)),
			PM10:       make([]float64, 0, len(snap.History)),
		},
		Stale: snap.Stale(s.clock.Now(), s.staleAfter),
	}
	for _, m := range snap.History {
		resp.History.Timestamps = append(resp.History.Timestamps, m.ObservedAt.Local().Format(durability.TimestampLayout))
		resp.History.PM25 = append(resp.History.PM25, m.PM25)
		resp.History.PM10 = append(resp.History.PM10, m.PM10)
	}

	if l := snap.Latest; l != nil {
		pm25, pm10 := l.PM25, l.PM10
		ts := l.ObservedAt.Local().Format(durability.TimestampLayout)
		idx := aqi.FromPM25(pm25)
		resp.Latest = LatestReading{
			PM25:          &pm25,
			PM10:          &pm10,
			Timestamp:     &ts,
			PredictedPM25: l.PredictedPM25,
			AQI:           &idx.Level,
			Category:      &idx.Category,
		}
	}
	return resp
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.liveResponse(s.live.Snapshot()))
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Readings  uint64 `json:"readings"`
	Connected bool   `json:"connected"`
}

// handleHealth answers 200 while readings are fresh and 503 otherwise, so
// a supervisor can restart a wedged process.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.live.Snapshot()
	st, ok := s.stats()
	resp := healthResponse{
		Status:    "ok",
		Version:   version.String(),
		Readings:  snap.Seq,
		Connected: ok && st.Connected,
	}
	status := http.StatusOK
	switch {
	case snap.Latest == nil:
		resp.Status = "waiting"
		status = http.StatusServiceUnavailable
	case snap.Stale(s.clock.Now(), s.staleAfter):
		resp.Status = "stale"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
