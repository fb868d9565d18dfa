package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/events"
	"github.com/hyperjump/scribe/internal/models"
)

// handleEvents streams a conversation's events as server-sent events,
// starting after ?since=N or the Last-Event-ID header. Events are sent in
// queue order; the stream ends when the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	since, err := eventCursor(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.orch.Conversation(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, models.NewError(models.KindInternal, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	q := s.orch.Events(id)
	for {
		evs, err := q.Wait(r.Context(), since)
		if err != nil {
			return
		}
		for _, e := range evs {
			if err := writeEvent(w, e); err != nil {
				s.logger.Debug("event stream closed", zap.String("conversation_id", id), zap.Error(err))
				return
			}
			since = e.Seq
		}
		flusher.Flush()
	}
}

func eventCursor(r *http.Request) (uint64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		v = r.Header.Get("Last-Event-ID")
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, models.InvalidInputError("invalid event cursor %q", v)
	}
	return n, nil
}

func writeEvent(w http.ResponseWriter, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, data)
	return err
}
