// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler implements internal/edge.SSEHandler, serving GET /v1/events.
type Handler struct {
	hub       *Hub
	heartbeat time.Duration
	log       *zap.Logger
}

// NewHandler builds a Handler streaming from hub, emitting a heartbeat
// comment after heartbeat seconds of inactivity (default 30, per §3).
func NewHandler(hub *Hub, heartbeat time.Duration, log *zap.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{hub: hub, heartbeat: heartbeat, log: log}
}

// ServeSSE streams events matching the request's topics= query to tenant
// until the client disconnects.
func (h *Handler) ServeSSE(c *gin.Context, tenant string) {
	topicsParam := c.Query("topics")
	patterns, err := parsePatterns(topicsParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var lastEventID uint64
	if raw := c.GetHeader("Last-Event-ID"); raw != "" {
		lastEventID, _ = strconv.ParseUint(raw, 10, 64)
	} else if raw := c.Query("last_event_id"); raw != "" {
		lastEventID, _ = strconv.ParseUint(raw, 10, 64)
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	activeConnections.WithLabelValues(tenant).Inc()
	totalConnections.WithLabelValues(tenant).Inc()
	start := time.Now()
	defer func() {
		activeConnections.WithLabelValues(tenant).Dec()
		connectionDuration.WithLabelValues(tenant).Observe(time.Since(start).Seconds())
	}()

	connected, _ := json.Marshal(gin.H{"tenant": tenant, "topics": topicsParam, "timestamp": start.Unix()})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
	flusher.Flush()

	sub := h.hub.Subscribe(tenant, patterns, lastEventID)
	defer h.hub.Unsubscribe(sub)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("sse: client disconnected", zap.String("tenant", tenant), zap.String("subscription", sub.ID))
			return

		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
				h.log.Info("sse: write failed, treating as disconnect", zap.Error(err))
				return
			}
			flusher.Flush()
			messagesDelivered.WithLabelValues(tenant).Inc()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
