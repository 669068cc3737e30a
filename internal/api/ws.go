package api

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	"foodshare-chat/internal/auth"
	"foodshare-chat/internal/chat"
	"foodshare-chat/internal/middleware"

	"github.com/gorilla/websocket"
)

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeWS resolves the handshake identity, upgrades the connection and hands
// the session to the hub.
func ServeWS(h *chat.Hub, resolver *auth.Resolver, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ip := getIP(r)

		identity, err := resolver.Resolve(r)
		if err != nil {
			log.Printf("[WS] Handshake rejected from %s: %v", ip, err)
			if errors.Is(err, auth.ErrInvalidToken) {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			http.Error(w, "Invalid identity", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] Upgrade error from %s: %v", ip, err)
			return
		}

		client := chat.NewClient(h, conn, identity)
		if !h.Attach(client) {
			log.Printf("[WS] Hub is shutting down; refusing %s", ip)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			conn.Close()
			return
		}

		if identity.Anonymous() {
			log.Printf("[WS] Anonymous session %s opened from %s", client.ID, ip)
		} else {
			log.Printf("[WS] Session %s opened for %s (%s) from %s", client.ID, identity.ID, identity.Role, ip)
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
