package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/platform/httpx"
	"github.com/forgemarket/api/internal/services"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
	maxMessageBodySize     = 8 * 1024
)

// MessageHandlers exposes the order-scoped message thread. Routes are meant
// to be mounted inside the authenticated /orders group.
type MessageHandlers struct {
	messages services.MessageService
}

// NewMessageHandlers constructs a new MessageHandlers instance.
func NewMessageHandlers(messages services.MessageService) *MessageHandlers {
	return &MessageHandlers{messages: messages}
}

// Routes registers the /{orderID}/messages endpoints.
func (h *MessageHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}/messages", h.listMessages)
	r.Post("/{orderID}/messages", h.postMessage)
}

type postMessageRequest struct {
	Body string `json:"body"`
}

type messagePayload struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

type messageResponse struct {
	Message messagePayload `json:"message"`
}

type messageListResponse struct {
	Items         []messagePayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

func (h *MessageHandlers) listMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultMessagePageSize, maxMessagePageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.messages.ListByOrder(ctx, services.MessageListQuery{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		Actor:     actor,
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeMessageError(ctx, w, err)
		return
	}

	items := make([]messagePayload, 0, len(page.Items))
	for _, message := range page.Items {
		items = append(items, buildMessagePayload(message))
	}
	writeJSONResponse(w, http.StatusOK, messageListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *MessageHandlers) postMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req postMessageRequest
	if !decodeJSONBody(ctx, w, r, maxMessageBodySize, &req) {
		return
	}

	message, err := h.messages.Post(ctx, services.PostMessageCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Actor:   actor,
		Body:    req.Body,
	})
	if err != nil {
		writeMessageError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, messageResponse{Message: buildMessagePayload(message)})
}

func buildMessagePayload(message domain.Message) messagePayload {
	return messagePayload{
		ID:        message.ID,
		OrderID:   message.OrderID,
		SenderID:  message.SenderID,
		Body:      message.Body,
		CreatedAt: formatTime(message.CreatedAt),
	}
}

func writeMessageError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrMessageInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMessageNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrMessageForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "actor is not a participant of this order", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("message_error", "failed to process message request", http.StatusInternalServerError))
	}
}
