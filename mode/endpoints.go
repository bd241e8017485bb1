package mode

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/khaledhikmat/camwatch/pipeline"
	"github.com/khaledhikmat/camwatch/service/data"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

const defaultHistory = 20

// registerEndpoints adds the status endpoints next to whatever viewer
// endpoints the display sinks already registered on mux.
func registerEndpoints(mux *http.ServeMux, svcs pipeline.ServicesFactory, ctrl *pipeline.Controller) {
	if svcs.Metrics != nil {
		mux.Handle("GET /metrics", svcs.Metrics.Handler())
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := ctrl.State()
		if state != pipeline.StateStreaming {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"state": state.String()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Stats())
	})

	mux.HandleFunc("GET /history", historyHandler(svcs.DataSvc))
	mux.HandleFunc("GET /errors", errorsHandler(svcs.DataSvc))
}

func historyHandler(dataSvc data.IService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := dataSvc.RetrievePipelineStats(maxParam(r))
		if err != nil {
			lgr.Logger.Error("retrieving pipeline stats", lgr.Err(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func errorsHandler(dataSvc data.IService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := dataSvc.RetrieveErrors(maxParam(r))
		if err != nil {
			lgr.Logger.Error("retrieving errors", lgr.Err(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func maxParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("max"))
	if err != nil || n <= 0 {
		return defaultHistory
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lgr.Logger.Warn("writing response", slog.Int("status", status), lgr.Err(err))
	}
}
