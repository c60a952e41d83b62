// Package api exposes the daemon's control surface to local clients
// over the session's unix socket.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/pipeline"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/presence"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/swbridge"
	syncq "github.com/mansaraysaheedalpha/safespace-salone/internal/sync"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/transport"
)

// Pipe is the message pipeline surface the API needs.
type Pipe interface {
	Send(ctx context.Context, d pipeline.Draft) (*store.Message, error)
	Delete(ctx context.Context, messageID string) error
	Retry(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Drainer triggers queue drains on demand.
type Drainer interface {
	Drain(ctx context.Context, trigger string) (*syncq.Result, error)
}

// Connectivity reports and overrides the online belief.
type Connectivity interface {
	Online() bool
	SetOnline(online bool)
}

// Fetcher refreshes the local cache from the server.
type Fetcher interface {
	FetchConversations(ctx context.Context, userID, role string) ([]store.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]store.Message, error)
}

// PresenceLookup resolves another user's presence.
type PresenceLookup interface {
	Lookup(ctx context.Context, userID string) (presence.Info, error)
}

// Handlers wires the daemon internals to HTTP routes.
type Handlers struct {
	Session  string
	SelfID   string
	Role     string
	DB       *store.DB
	Pipe     Pipe
	Drainer  Drainer
	Conn     Connectivity
	Fetcher  Fetcher
	Presence PresenceLookup
	Bridge   *swbridge.Bridge
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// Router builds the daemon's HTTP router.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations", h.handleListConversations).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/messages", h.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/read", h.handleMarkRead).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages", h.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/{id}", h.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/v1/messages/{id}/retry", h.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/v1/queue/count", h.handleQueueCount).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue/clear", h.handleClearOffline).Methods(http.MethodPost)
	r.HandleFunc("/v1/sync", h.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/v1/connectivity", h.handleConnectivity).Methods(http.MethodPost)
	r.HandleFunc("/v1/sw/message", h.handleSWMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/presence/{user_id}", h.handlePresence).Methods(http.MethodGet)
	if h.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := h.DB.PendingCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	storage := "durable"
	if h.DB.Ephemeral {
		storage = "ephemeral"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     h.Session,
		"user_id":     h.SelfID,
		"role":        h.Role,
		"online":      h.Conn.Online(),
		"queue_depth": depth,
		"storage":     storage,
	})
}

func (h *Handlers) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "1" && h.Conn.Online() {
		convs, err := h.Fetcher.FetchConversations(r.Context(), h.SelfID, h.Role)
		if err != nil {
			h.Logger.Warn("conversation refresh failed, serving cache", zap.Error(err))
		} else {
			for i := range convs {
				if uerr := h.DB.UpsertConversation(&convs[i]); uerr != nil {
					writeError(w, http.StatusInternalServerError, uerr)
					return
				}
			}
		}
	}
	convs, err := h.DB.ListConversationsByParticipant(h.SelfID, h.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *Handlers) handleListMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	if r.URL.Query().Get("refresh") == "1" && h.Conn.Online() {
		if err := h.refreshMessages(r.Context(), convID); err != nil {
			h.Logger.Warn("message refresh failed, serving cache", zap.Error(err))
		}
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errBadLimit)
			return
		}
		limit = n
	}
	msgs, err := h.DB.ListMessages(convID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pending, err := h.DB.PendingCountByConversation(convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":      msgs,
		"pending_count": pending,
	})
}

// refreshMessages pulls the server's view of a conversation into the
// cache. Placeholder rows are left alone; the pipeline collapses them.
func (h *Handlers) refreshMessages(ctx context.Context, convID string) error {
	msgs, err := h.Fetcher.FetchMessages(ctx, convID)
	if err != nil {
		return err
	}
	for i := range msgs {
		m := &msgs[i]
		existing, err := h.DB.GetMessage(m.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			m.Status = existing.Status
		} else if m.SenderID == h.SelfID {
			m.Status = "sent"
		} else {
			m.Status = "received"
		}
		if err := h.DB.UpsertMessage(m); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Kind           string `json:"type"`
		Content        string `json:"content"`
		Duration       int    `json:"duration"`
		ReplyToID      string `json:"reply_to_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := h.Pipe.Send(r.Context(), pipeline.Draft{
		ConversationID: req.ConversationID,
		Kind:           req.Kind,
		Content:        req.Content,
		Duration:       req.Duration,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message": m})
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Pipe.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		if transport.IsRejected(err) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := h.Pipe.Retry(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func (h *Handlers) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.Pipe.MarkConversationRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleQueueCount(w http.ResponseWriter, r *http.Request) {
	var (
		n   int
		err error
	)
	if convID := r.URL.Query().Get("conversation_id"); convID != "" {
		n, err = h.DB.PendingCountByConversation(convID)
	} else {
		n, err = h.DB.PendingCount()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handlers) handleClearOffline(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.ClearOfflineData(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handlers) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.Drainer.Drain(r.Context(), "manual")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.Conn.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.Conn.Online()})
}

func (h *Handlers) handleSWMessage(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.Bridge.Relay(payload)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handlers) handlePresence(w http.ResponseWriter, r *http.Request) {
	info, err := h.Presence.Lookup(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
