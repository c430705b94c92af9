package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moshengai/dubbing-gateway/internal/history"
	"github.com/moshengai/dubbing-gateway/internal/observability"
)

// Router builds the gateway's HTTP mux: the chat WebSocket, the history REST
// surface, health endpoints and optionally metrics.
func Router(deps Deps, readiness map[string]observability.HealthCheckFunc) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws/chat", HandleChatWS(deps))
	mux.HandleFunc("GET /history", handleHistoryList(deps.Store))
	mux.HandleFunc("GET /history/{id}", handleHistoryGet(deps.Store))
	mux.HandleFunc("DELETE /history/{id}", handleHistoryDelete(deps.Store))

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(readiness))
	if deps.Config.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return mux
}

func handleHistoryList(store *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := store.List()
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("listing history failed")
			writeError(w, http.StatusInternalServerError, "无法读取历史会话")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
	}
}

func handleHistoryGet(store *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns, err := store.Get(r.PathValue("id"))
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				writeError(w, http.StatusNotFound, "会话不存在")
				return
			}
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("loading history failed")
			writeError(w, http.StatusInternalServerError, "无法读取历史会话")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
	}
}

func handleHistoryDelete(store *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.PathValue("id")); err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("deleting history failed")
			writeError(w, http.StatusInternalServerError, "无法删除历史会话")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
