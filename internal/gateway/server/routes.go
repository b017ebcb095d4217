package server

import (
	"log/slog"
	"net/http"

	"refinery/internal/gateway/handler"
	"refinery/internal/gateway/middleware"
)

func NewMux(
	refineHandler *handler.RefineHandler,
	wsHandler *handler.RefineWSHandler,
	metricsHandler http.Handler,
	allowedOrigins []string,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	// JSON API
	mux.HandleFunc("POST /api/refine", refineHandler.HandleRefine)
	mux.HandleFunc("GET /api/history", refineHandler.HandleHistory)
	mux.HandleFunc("GET /api/inputs/{id}/revisions", refineHandler.HandleRevisions)
	mux.HandleFunc("POST /api/inputs/{id}/revisions", refineHandler.HandleRevise)

	// Websocket
	mux.HandleFunc("GET /ws/refine", wsHandler.HandleRefineWS)

	// Ops
	mux.HandleFunc("GET /healthz", handler.HandleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return middleware.AccessLog(logger)(middleware.CORS(allowedOrigins)(mux))
}
