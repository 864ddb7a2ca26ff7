// Travelmate gateway HTTP surface: the platform webhook, a health probe, and
// a small authenticated admin API with a live WebSocket event tap.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/travelmate-bot/travelmate/pkg/bus"
	"github.com/travelmate-bot/travelmate/pkg/config"
	"github.com/travelmate-bot/travelmate/pkg/dispatch"
	"github.com/travelmate-bot/travelmate/pkg/intent"
	"github.com/travelmate-bot/travelmate/pkg/line"
	"github.com/travelmate-bot/travelmate/pkg/logger"
)

// maxWebhookBody bounds how much of a webhook request is read.
const maxWebhookBody = 1 << 20

// Server is the gateway's HTTP server.
type Server struct {
	config      *config.Config
	dispatcher  *dispatch.Dispatcher
	eventBus    *bus.Bus
	wsHub       *WSHub
	eventBridge *EventBridge
	startTime   time.Time
	server      *http.Server
}

// NewServer wires the HTTP surface to the dispatcher and event bus.
func NewServer(cfg *config.Config, dispatcher *dispatch.Dispatcher, eventBus *bus.Bus) *Server {
	s := &Server{
		config:     cfg,
		dispatcher: dispatcher,
		eventBus:   eventBus,
		startTime:  time.Now(),
	}
	s.wsHub = NewWSHub(s)
	s.eventBridge = NewEventBridge(eventBus, s.wsHub)
	return s
}

// Start begins listening on the configured host:port. Non-blocking; the
// listener runs until Stop.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /callback", s.handleCallback)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/ws", s.wsHub.HandleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      authMiddleware(s.config.Gateway.APIKey, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Gateway server starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)
	go s.eventBridge.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Handlers ---

// handleCallback is the platform webhook: verify the signature over the raw
// body, hand every message event to the dispatcher, and answer 200 "OK"
// before any handling work happens.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(line.SignatureHeader)
	if !line.Verify(rawBody, signature, s.config.ChannelSecret) {
		logger.WarnC("webhook", "Invalid webhook signature")
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	events, err := line.ParseEvents(rawBody)
	if err != nil {
		logger.ErrorCF("webhook", "Malformed webhook envelope", map[string]interface{}{
			"error": err.Error(),
		})
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		it := intent.Classify(ev)
		s.dispatcher.Enqueue(ev, it)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "travelmate gateway is running")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
		"queue_depth":    s.dispatcher.QueueDepth(),
		"goroutines":     runtime.NumGoroutine(),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
