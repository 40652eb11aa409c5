package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"booklend/internal/util"
)

// handleSubscribeRequests streams full request snapshots as server-sent
// events: one immediately, then one after every ledger change.
func (s *Server) handleSubscribeRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()
	sub, err := s.app.Subscribe(ctx)
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	defer sub.Unsubscribe()

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := util.LoggerFromContext(ctx)
	logger.Info("lend.subscriber_connected", "subscribers", s.app.Subscribers())
	defer logger.Info("lend.subscriber_disconnected")

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				logger.Error("encode request snapshot", "err", err)
				return
			}
			seq++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: request_update\ndata: %s\n\n", seq, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
