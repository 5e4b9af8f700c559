package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vadiminshakov/vault/internal/domain"
	"go.uber.org/zap"
)

const (
	streamPollInterval = 2 * time.Second
	streamHeartbeat    = 30 * time.Second
)

// handleEventStream replays journaled events after ?after= (or Last-Event-ID)
// and then follows the journal as new events arrive.
func (s *Server) handleEventStream(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "event journal not available"})
		return
	}

	lastIndex, err := resumeIndex(c)
	if err != nil {
		writeError(c, badRequest(err))
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var wake chan domain.Event
	if s.wakeup != nil {
		wake = s.wakeup.Subscribe()
		defer s.wakeup.Unsubscribe(wake)
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()

	send := func() error {
		records, err := s.events.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, rec := range records {
			fmt.Fprintf(w, "id: %d\n", rec.Index)
			fmt.Fprintf(w, "event: %s\n", rec.Kind)
			fmt.Fprintf(w, "data: %s\n\n", rec.Payload)
			lastIndex = rec.Index
		}
		if len(records) > 0 {
			w.Flush()
		}
		return nil
	}

	if err := send(); err != nil {
		s.logger.Warn("event stream initial load", zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			w.Flush()
		case <-wake:
			if err := send(); err != nil {
				s.logger.Warn("event stream read", zap.Error(err))
			}
		case <-poll.C:
			if err := send(); err != nil {
				s.logger.Warn("event stream poll", zap.Error(err))
			}
		}
	}
}

func resumeIndex(c *gin.Context) (uint64, error) {
	raw := c.Query("after")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
