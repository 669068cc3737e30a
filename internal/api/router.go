package api

import (
	"net/http"

	"foodshare-chat/internal/auth"
	"foodshare-chat/internal/chat"
	"foodshare-chat/internal/middleware"
	"foodshare-chat/internal/repository"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Hub            *chat.Hub
	Store          repository.MessageRepo
	Resolver       *auth.Resolver
	AllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", ServeWS(d.Hub, d.Resolver, d.AllowedOrigins)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", HealthHandler(d.Store)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(middleware.CORS(d.AllowedOrigins))
	apiRouter.HandleFunc("/chat/history", HistoryHandler(d.Store)).Methods(http.MethodGet, http.MethodOptions)

	return r
}
