package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hvac_savings/internal/model"
)

// Handler manages WebSocket connections and routes messages to the analyzer.
type Handler struct {
	hub      *Hub
	analyzer *Analyzer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler accepts connections from any origin in allowedOrigins, or from
// every origin when the list is empty.
func NewHandler(hub *Hub, analyzer *Analyzer, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub:      hub,
		analyzer: analyzer,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		logger:   logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	h.sendDataLoaded(client)
	h.sendSummary(client)

	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		h.handleMessage(c, msg)
	}
}

func (h *Handler) handleMessage(c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		h.logger.Warn("invalid message", zap.Error(err))
		h.sendError(c, "", "invalid message")
		return
	}

	switch env.Type {
	case TypeAnalysisRun:
		var p AnalysisRunPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, env.Type, fmt.Sprintf("invalid payload: %v", err))
			return
		}
		if p.OccupancyThreshold < 0 {
			h.sendError(c, env.Type, "occupancy_threshold must not be negative")
			return
		}
		h.analyzer.SetThreshold(p.OccupancyThreshold)
		h.BroadcastSummary()

	case TypePolicySimulate:
		var p PolicySimulatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, env.Type, fmt.Sprintf("invalid payload: %v", err))
			return
		}
		summary, err := h.analyzer.Simulate(p.Policy)
		if err != nil {
			h.sendError(c, env.Type, err.Error())
			return
		}
		h.send(c, TypePolicyResult, PolicyResultPayload{Policy: p.Policy, Summary: summary})

	case TypeHeatmapRequest:
		var p HeatmapRequestPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.sendError(c, env.Type, fmt.Sprintf("invalid payload: %v", err))
				return
			}
		}
		hm, err := h.analyzer.Heatmap(p.Zone, p.Agg)
		if err != nil {
			h.sendError(c, env.Type, err.Error())
			return
		}
		h.send(c, TypeHeatmapData, heatmapPayload(hm))

	default:
		h.logger.Warn("unknown message type", zap.String("type", env.Type))
		h.sendError(c, env.Type, "unknown message type")
	}
}

// BroadcastDataLoaded tells every client the dataset changed.
func (h *Handler) BroadcastDataLoaded() {
	h.hub.BroadcastEnvelope(TypeDataLoaded, h.analyzer.DataLoaded())
}

// BroadcastSummary pushes fresh savings totals to every client.
func (h *Handler) BroadcastSummary() {
	summary, err := h.analyzer.Summary()
	if err != nil {
		h.logger.Debug("no summary to broadcast", zap.Error(err))
		return
	}
	h.hub.metrics.setSavingsEnergy(summary.Potential.TotalEnergyKWh)
	h.hub.BroadcastEnvelope(TypeSavingsSummary, summary)
}

// BroadcastLiveOccupancy forwards one live sensor reading to every client.
func (h *Handler) BroadcastLiveOccupancy(r model.OccupancyRecord) {
	h.hub.metrics.LiveReading()
	h.hub.BroadcastEnvelope(TypeOccupancyLive, occupancyLivePayload(r))
}

func (h *Handler) sendDataLoaded(c *Client) {
	h.send(c, TypeDataLoaded, h.analyzer.DataLoaded())
}

func (h *Handler) sendSummary(c *Client) {
	summary, err := h.analyzer.Summary()
	if err != nil {
		h.sendError(c, TypeSavingsSummary, err.Error())
		return
	}
	h.send(c, TypeSavingsSummary, summary)
}

func (h *Handler) sendError(c *Client, request, message string) {
	h.send(c, TypeError, ErrorPayload{Request: request, Message: message})
}

func (h *Handler) send(c *Client, msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("type", msgType), zap.Error(err))
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
