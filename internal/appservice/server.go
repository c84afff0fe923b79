// Package appservice implements the homeserver-facing application
// service surface: the transaction push endpoint, authenticated with
// the homeserver token, plus a health probe.
package appservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/spacebased/matrix-openai-bot/internal/events"
	"github.com/spacebased/matrix-openai-bot/internal/matrix"
)

// dedupeWindow bounds how many transaction IDs are remembered for
// idempotent redelivery. Homeservers retry transactions in order, so a
// small window is enough.
const dedupeWindow = 128

// EventHandler processes one raw event pushed by the homeserver. It
// runs on its own goroutine; the transaction is acknowledged without
// waiting for it.
type EventHandler func(ctx context.Context, raw matrix.RawEvent)

// Server is the appservice HTTP surface.
type Server struct {
	hsToken string
	handler EventHandler
	logger  *slog.Logger
	bus     *events.Bus

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewServer creates the server. hsToken is the token the homeserver
// authenticates itself with; handler receives every pushed event.
func NewServer(hsToken string, handler EventHandler, logger *slog.Logger, bus *events.Bus) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hsToken: hsToken,
		handler: handler,
		logger:  logger,
		bus:     bus,
		seen:    make(map[string]struct{}),
	}
}

// Routes builds the router. The transaction endpoint sits behind
// homeserver-token authentication; the health probe does not.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMatrixError(w, http.StatusNotFound, "M_UNRECOGNIZED", "unknown endpoint")
	})

	r.Get("/healthz", s.handleHealth)
	r.Route("/_matrix/app/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Put("/transactions/{txnID}", s.handleTransaction)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// authenticate verifies the homeserver token, accepted either as a
// Bearer header or the legacy access_token query parameter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			writeMatrixError(w, http.StatusUnauthorized, "M_MISSING_TOKEN", "missing access token")
			return
		}
		if token != s.hsToken {
			writeMatrixError(w, http.StatusForbidden, "M_FORBIDDEN", "bad access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// transaction is the homeserver push body.
type transaction struct {
	Events []matrix.RawEvent `json:"events"`
}

// handleTransaction accepts one homeserver transaction. Redelivery of
// a known transaction ID is acknowledged without reprocessing. Events
// are dispatched asynchronously; the homeserver gets its empty-object
// acknowledgement immediately.
func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnID")

	var txn transaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		writeMatrixError(w, http.StatusBadRequest, "M_NOT_JSON", "malformed transaction body")
		return
	}

	if s.markSeen(txnID) {
		s.logger.Debug("transaction redelivered", "txn_id", txnID)
		writeEmptyObject(w)
		return
	}

	s.logger.Debug("transaction accepted", "txn_id", txnID, "events", len(txn.Events))
	s.bus.Publish(events.Event{
		Source: events.SourceAppservice,
		Kind:   events.KindTransaction,
		Data:   map[string]any{"txn_id": txnID, "events": len(txn.Events)},
	})

	// Processing outlives the request; the push contract only asks for
	// receipt of the transaction.
	ctx := context.WithoutCancel(r.Context())
	for _, raw := range txn.Events {
		go s.handler(ctx, raw)
	}

	writeEmptyObject(w)
}

// markSeen records the transaction ID, evicting the oldest entry past
// the window. Reports whether the ID was already known.
func (s *Server) markSeen(txnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[txnID]; ok {
		return true
	}
	s.seen[txnID] = struct{}{}
	s.order = append(s.order, txnID)
	if len(s.order) > dedupeWindow {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return false
}

func writeEmptyObject(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{}`))
}

func writeMatrixError(w http.ResponseWriter, status int, errcode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"errcode": errcode,
		"error":   message,
	})
}
