// Package api exposes a node over HTTP for wallets, dashboards and test
// drivers. Uses Gorilla Mux for routing, with CORS support and logging
// middleware.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/cors"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/config"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/table"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/network/gossip"
)

var log = logging.Logger("p2psim:api")

// Node is the part of a gossip node the API serves.
type Node interface {
	ID() peer.ID
	Topic() string
	Peers() []peer.ID
	Broadcast(payload []byte) (hash.Hash, error)
	Table() *table.Table
	Status() map[string]interface{}
}

// Server represents the HTTP API server.
type Server struct {
	node   Node
	cfg    config.APIConfig
	router *mux.Router
	server *http.Server
}

// NewServer creates an API server for a node.
func NewServer(n Node, cfg config.APIConfig) *Server {
	s := &Server{node: n, cfg: cfg}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.getHealth).Methods("GET")
	api.HandleFunc("/status", s.getStatus).Methods("GET")
	api.HandleFunc("/peers", s.getPeers).Methods("GET")

	api.HandleFunc("/transactions", s.getTransactions).Methods("GET")
	api.HandleFunc("/transaction/{hash}", s.getTransaction).Methods("GET")
	api.HandleFunc("/peer/{id}/transactions", s.getPeerTransactions).Methods("GET")

	api.HandleFunc("/broadcast", s.broadcastTransaction).Methods("POST")

	if s.cfg.EnableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		})
		s.router.Use(c.Handler)
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.jsonMiddleware)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server. It blocks until the server shuts down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infow("api server listening", "addr", s.cfg.ListenAddr)
	return s.server.ListenAndServe()
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Status endpoints

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().Unix(),
		"transactions": s.node.Table().Len(),
		"version":      "1.0.0",
	}
	s.writeJSON(w, health)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.Status())
}

func (s *Server) getPeers(w http.ResponseWriter, r *http.Request) {
	ids := s.node.Peers()
	peers := make([]string, 0, len(ids))
	for _, pid := range ids {
		peers = append(peers, pid.String())
	}

	response := map[string]interface{}{
		"topic": s.node.Topic(),
		"peers": peers,
		"count": len(peers),
	}
	s.writeJSON(w, response)
}

// Transaction endpoints

func (s *Server) getTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)

	hashes := s.node.Table().Hashes()
	out := make([]string, 0, len(hashes))
	for i, h := range hashes {
		if i >= limit {
			break
		}
		out = append(out, h.String())
	}

	response := map[string]interface{}{
		"transactions": out,
		"count":        len(out),
		"total":        len(hashes),
		"limit":        limit,
	}
	s.writeJSON(w, response)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	h, err := hash.FromHex(vars["hash"])
	if err != nil {
		s.writeError(w, "Invalid transaction hash", http.StatusBadRequest)
		return
	}
	msg, ok := s.node.Table().Lookup(h)
	if !ok {
		s.writeError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, formatTransaction(msg))
}

func (s *Server) getPeerTransactions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	pid, err := peer.Decode(vars["id"])
	if err != nil {
		s.writeError(w, "Invalid peer ID", http.StatusBadRequest)
		return
	}
	limit := queryLimit(r, 100)

	history := s.node.Table().TransactionsOf(pid)
	transactions := make([]map[string]interface{}, 0, len(history))
	for i, msg := range history {
		if i >= limit {
			break
		}
		transactions = append(transactions, formatTransaction(msg))
	}

	response := map[string]interface{}{
		"peer":         pid.String(),
		"transactions": transactions,
		"count":        len(transactions),
		"total":        len(history),
	}
	s.writeJSON(w, response)
}

// BroadcastRequest is the body of POST /broadcast. The payload travels as
// base64 inside the JSON string.
type BroadcastRequest struct {
	Payload []byte `json:"payload"`
}

func (s *Server) broadcastTransaction(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Payload) == 0 {
		s.writeError(w, "Payload must not be empty", http.StatusBadRequest)
		return
	}

	h, err := s.node.Broadcast(req.Payload)
	switch {
	case errors.Is(err, gossip.ErrRateLimited):
		s.writeError(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	case errors.Is(err, gossip.ErrNotStarted):
		s.writeError(w, "Node is not running", http.StatusServiceUnavailable)
		return
	case err != nil:
		s.writeError(w, "Failed to broadcast transaction", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"hash":   h.String(),
		"status": "accepted",
	}
	s.writeJSON(w, response)
}

// Helper methods

func formatTransaction(msg message.TransactionMessage) map[string]interface{} {
	return map[string]interface{}{
		"hash":      msg.Hash().String(),
		"payload":   msg.Payload,
		"sender":    msg.Sender.String(),
		"timestamp": msg.Timestamp,
		"size":      len(msg.Payload),
	}
}

func queryLimit(r *http.Request, def int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	return limit
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorw("failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, msg string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     msg,
		"status":    statusCode,
		"timestamp": time.Now().Unix(),
	})
}

// Middleware

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.statusCode,
			"duration", time.Since(start))
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
