package api

import (
	"net/http"
	"time"

	"github.com/parsehaven/docforge/pkg/auth"
)

// statsPushInterval bounds how long a client waits for a stats push
// even if nothing changed, so a connection left open overnight still
// sees a heartbeat.
const statsPushInterval = 5 * time.Second

// handleQueueStream upgrades to a websocket and pushes a Stats snapshot
// on connect and then every statsPushInterval, as a push-based
// complement to polling GET /queue/stats.
func (s *Server) handleQueueStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	principal := auth.ForRole("stream", auth.RoleOperator)
	ticker := time.NewTicker(statsPushInterval)
	defer ticker.Stop()

	send := func() bool {
		stats, err := s.queue.Stats(r.Context(), principal)
		if err != nil {
			return false
		}
		return conn.WriteJSON(newStatsView(stats)) == nil
	}

	if !send() {
		return
	}

	// drain incoming frames (ping/pong, client close) on a separate
	// goroutine so a slow or silent client doesn't block the ticker.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
