package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vjranagit/bouncedash/pkg/events"
)

const streamBuffer = 32

// handleEvents streams one session's events as Server-Sent Events.
// The current status is sent first so a fresh page can render at once;
// the stream ends with a closed event when the session goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctrl := controllerFrom(r)
	session := ctrl.Session()
	log := s.log.With().Str("session", session).Logger()

	eventChan := make(chan *events.Event, streamBuffer)
	forward := func(event *events.Event) {
		if event.Session != session {
			return
		}
		select {
		case eventChan <- event:
		default:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event stream buffer full, event dropped")
		}
	}

	unsubscribe := make([]func(), 0, len(events.AllTypes))
	for _, t := range events.AllTypes {
		unsubscribe = append(unsubscribe, s.bus.Subscribe(t, forward))
	}
	defer func() {
		for _, u := range unsubscribe {
			u()
		}
	}()

	log.Info().Msg("Client connected to event stream")

	w.WriteHeader(http.StatusOK)
	writeSSE(w, "connected", &events.Event{
		Type:      events.StateChanged,
		Session:   session,
		Timestamp: time.Now(),
		Data:      ctrl.State(),
	})
	flusher.Flush()

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("Client disconnected from event stream")
			return

		case <-s.done:
			return

		case <-ctrl.Done():
			fmt.Fprintf(w, "event: closed\n")
			fmt.Fprintf(w, "data: {\"session\": \"%s\"}\n\n", session)
			flusher.Flush()
			log.Info().Msg("Session closed, ending event stream")
			return

		case event := <-eventChan:
			if err := writeSSE(w, string(event.Type), event); err != nil {
				log.Error().Err(err).Msg("Failed to write event")
				continue
			}
			flusher.Flush()

		case <-heartbeat.C:
			// An open page keeps its session out of the idle sweep
			ctrl.Touch()
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"timestamp\": \"%s\"}\n\n", time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "event: %s\n", name)
	fmt.Fprintf(w, "data: %s\n\n", data)
	return nil
}
