package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"foodshare-chat/internal/models"
	"foodshare-chat/internal/repository"
	"foodshare-chat/internal/types"
)

var errBadHistoryQuery = errors.New("provide room=global or both userA and userB")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Message: msg})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// ParseHistoryRequest reads the history query string. user1/user2 are older
// names for userA/userB. room=global wins over any user params, which are
// dropped.
func ParseHistoryRequest(r *http.Request) (types.HistoryRequest, error) {
	q := r.URL.Query()
	req := types.HistoryRequest{
		Room:   strings.TrimSpace(q.Get("room")),
		UserA:  firstNonEmpty(q.Get("userA"), q.Get("user1")),
		UserB:  firstNonEmpty(q.Get("userB"), q.Get("user2")),
		Search: q.Get("search"),
	}

	if req.Room != "" {
		if req.Room != models.GlobalRoom {
			return types.HistoryRequest{}, errBadHistoryQuery
		}
		req.UserA, req.UserB = "", ""
		return req, nil
	}

	a, errA := models.NormalizeIdentityKey(req.UserA)
	b, errB := models.NormalizeIdentityKey(req.UserB)
	if errA != nil || errB != nil {
		return types.HistoryRequest{}, errBadHistoryQuery
	}
	req.UserA, req.UserB = a, b
	return req, nil
}

func HistoryHandler(repo repository.MessageRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := ParseHistoryRequest(r)
		if err != nil {
			log.Printf("[HISTORY] Bad query %q: %v", r.URL.RawQuery, err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var msgs []*models.Message
		if req.Room == models.GlobalRoom {
			msgs, err = repo.QueryGlobal(dbctx, req.Search)
		} else {
			msgs, err = repo.QueryConversation(dbctx, req.UserA, req.UserB, req.Search)
		}
		if err != nil {
			log.Printf("[HISTORY] Store error for %q: %v", r.URL.RawQuery, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		views := make([]types.MessageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, types.NewMessageView(m, req.UserA))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func HealthHandler(repo repository.MessageRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := repo.Ping(ctx); err != nil {
			log.Printf("[HEALTH] Store ping failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Store: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "ok"})
	}
}
