// Package httpapi exposes the chat core's boundary operations over
// HTTP/JSON: the chat list, the chat detail, and the send path.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"parley/internal/chat"

	"github.com/go-playground/validator/v10"
)

const maxRequestBytes = 64 << 10

// Handler wires the chat service to HTTP routes.
type Handler struct {
	log      *slog.Logger
	svc      *chat.Service
	validate *validator.Validate
}

// NewHandler constructs an API handler.
func NewHandler(log *slog.Logger, svc *chat.Service) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("httpapi: nil service")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:      log,
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /api/chats/user/{userID}", h.handleChatsForUser)
	mux.HandleFunc("GET /api/chats/{chatID}", h.handleChatDetail)
	mux.HandleFunc("POST /api/chats/message", h.handleSendMessage)
}

func (h *Handler) handleChatsForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid user id")
		return
	}

	chats, err := h.svc.ChatsForUser(r.Context(), userID)
	if err != nil {
		h.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) handleChatDetail(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r, "chatID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid chat id")
		return
	}

	detail, err := h.svc.ChatDetail(r.Context(), chatID)
	if err != nil {
		h.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, maxRequestBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), req.SenderID, req.ReceiverID, req.Text)
	if err != nil {
		h.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// writeCoreError maps the chat error taxonomy onto HTTP statuses.
func (h *Handler) writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, chat.ErrStoreUnavailable):
		h.log.Error("api.store.unavailable", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "store unavailable, retry later")
	case errors.Is(err, chat.ErrDataIntegrity):
		h.log.Error("api.data.integrity", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "data_integrity", "internal invariant violation")
	default:
		h.log.Error("api.internal", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("httpapi: invalid id")
	}
	return id, nil
}
