package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

const portfolioPushInterval = 15 * time.Second

// wsClient serializes writes to one websocket connection
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// StreamPortfolio upgrades the connection and pushes the user's priced
// portfolio on connect and every 15 seconds after. The browser
// websocket API cannot set headers, so the JWT arrives as ?token=.
func (h *Handler) StreamPortfolio(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		writeError(w, http.StatusUnauthorized, "token query parameter required")
		return
	}
	userID, err := h.AuthService.GetUserFromToken(tokenString)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	client := &wsClient{conn: conn}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		ticker := time.NewTicker(portfolioPushInterval)
		defer ticker.Stop()
		for {
			if err := h.pushPortfolio(ctx, client, userID); err != nil {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func (h *Handler) pushPortfolio(ctx context.Context, client *wsClient, userID int) error {
	portfolio, err := h.Ledger.PortfolioValue(ctx, userID)
	if err != nil {
		log.Printf("Failed to value portfolio for user %d: %v", userID, err)
		return client.writeJSON(map[string]string{"error": "portfolio valuation failed"})
	}
	return client.writeJSON(portfolio)
}
