package types

import "foodshare-chat/internal/models"

// PresenceView is one row of the online_users list.
type PresenceView struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role models.Role `json:"role"`
}

func NewPresenceList(ids []models.Identity) []PresenceView {
	out := make([]PresenceView, 0, len(ids))
	for _, id := range ids {
		out = append(out, PresenceView{ID: id.ID, Name: id.Name, Role: id.Role})
	}
	return out
}

type HistoryRequest struct {
	Room   string
	UserA  string
	UserB  string
	Search string
}

type ErrorResponse struct {
	Message string `json:"message"`
}
