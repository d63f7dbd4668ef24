package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamTickInterval = 2 * time.Second

// handleStream upgrades to a WebSocket and pushes the run's heartbeat
// snapshot every streamTickInterval until the client disconnects or the run
// directory's DONE.txt appears.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := r.Context()
	ticker := time.NewTicker(streamTickInterval)
	defer ticker.Stop()

	aggDir := filepath.Join(s.runDir, name, "aggregated")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := statusSnapshot{Timestamp: time.Now().UTC()}
			if data, err := os.ReadFile(filepath.Join(aggDir, "heartbeat.json")); err == nil {
				snap.Heartbeat = json.RawMessage(data)
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, snap)
			cancel()
			if err != nil {
				return
			}

			if _, statErr := os.Stat(filepath.Join(aggDir, "DONE.txt")); statErr == nil {
				conn.Close(websocket.StatusNormalClosure, "run complete")
				return
			}
		}
	}
}
