package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"geodrop/internal/domain"
	"geodrop/internal/middleware"
	"geodrop/internal/service"

	"github.com/go-chi/chi/v5"
)

// MessageHandler exposes the author-facing REST surface: listing and
// deleting one's own messages. Everything location-scoped happens over
// the websocket.
type MessageHandler struct {
	messageService *service.MessageService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
	}
}

// MessageResponse is the REST view of a stored message
type MessageResponse struct {
	ID      int64   `json:"id"`
	Lat     float64 `json:"lat"`
	Long    float64 `json:"long"`
	Date    string  `json:"date"`
	Message string  `json:"message"`
	Votes   int     `json:"votes"`
	Seen    int     `json:"seen"`
}

// MessagePageResponse is one page of the author's messages
type MessagePageResponse struct {
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	Messages   []MessageResponse `json:"messages"`
}

// ListMine returns a page of the authenticated user's messages
func (h *MessageHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, `{"error":"Not authenticated"}`, http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	paginator, err := h.messageService.RetrieveByAuthor(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error":"Failed to list messages"}`, http.StatusInternalServerError)
		return
	}

	msgs := paginator.Page(page)
	resp := MessagePageResponse{
		Page:       page,
		TotalPages: paginator.TotalPages(),
		Messages:   make([]MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:      m.ID,
			Lat:     m.Lat,
			Long:    m.Long,
			Date:    m.CreatedAt.Format("02/01/2006"),
			Message: m.Text,
			Votes:   m.Votes,
			Seen:    m.Seen,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Delete removes one of the authenticated user's messages
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, `{"error":"Not authenticated"}`, http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"Invalid message id"}`, http.StatusBadRequest)
		return
	}

	if err := h.messageService.DeleteMessage(r.Context(), id, userID); err != nil {
		switch {
		case errors.Is(err, domain.ErrMessageNotFound):
			http.Error(w, `{"error":"Message not found"}`, http.StatusNotFound)
		case errors.Is(err, domain.ErrNotAuthor):
			http.Error(w, `{"error":"Not the author"}`, http.StatusForbidden)
		default:
			http.Error(w, `{"error":"Failed to delete message"}`, http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
