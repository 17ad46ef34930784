package chat

import (
	"encoding/json"
	"net/http"

	myMiddleware "cinechat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	repo     *Repository
	resolver *Resolver
	log      *zap.Logger
}

func NewHandler(repo *Repository, resolver *Resolver, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{repo: repo, resolver: resolver, log: log}
}

// GetChatHistory returns the direct conversation between the caller and
// {peerId}, oldest first. No conversation yields an empty list.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	peerID := chi.URLParam(r, "peerId")

	msgs := []Message{}
	convID, found, err := h.resolver.Lookup(r.Context(), userID, peerID)
	if err == nil && found {
		msgs, err = h.repo.ListMessages(r.Context(), convID, 0)
	}
	if err != nil {
		h.log.Error("load history", zap.String("user_id", userID), zap.String("peer_id", peerID), zap.Error(err))
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}
