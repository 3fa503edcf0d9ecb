package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/platform/auth"
	"github.com/forgemarket/api/internal/services"
)

type stubMessageService struct {
	postFn func(context.Context, services.PostMessageCommand) (domain.Message, error)
	listFn func(context.Context, services.MessageListQuery) (domain.CursorPage[domain.Message], error)
}

func (s *stubMessageService) Post(ctx context.Context, cmd services.PostMessageCommand) (domain.Message, error) {
	if s.postFn != nil {
		return s.postFn(ctx, cmd)
	}
	return domain.Message{}, errors.New("not implemented")
}

func (s *stubMessageService) ListByOrder(ctx context.Context, query services.MessageListQuery) (domain.CursorPage[domain.Message], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[domain.Message]{}, nil
}

func newMessageTestRouter(messages services.MessageService) chi.Router {
	handler := NewMessageHandlers(messages)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func TestMessageHandlersPostMessage(t *testing.T) {
	var captured services.PostMessageCommand
	messages := &stubMessageService{
		postFn: func(_ context.Context, cmd services.PostMessageCommand) (domain.Message, error) {
			captured = cmd
			return domain.Message{ID: "msg_1", OrderID: cmd.OrderID, SenderID: cmd.Actor.UID, Body: cmd.Body}, nil
		},
	}

	router := newMessageTestRouter(messages)
	req := authedRequest(http.MethodPost, "/orders/ord_1/messages", []byte(`{"body":"looks good"}`), &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Body != "looks good" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp messageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Message.ID != "msg_1" || resp.Message.SenderID != "buyer-1" {
		t.Fatalf("unexpected message %+v", resp.Message)
	}
}

func TestMessageHandlersListMessagesForbidden(t *testing.T) {
	messages := &stubMessageService{
		listFn: func(context.Context, services.MessageListQuery) (domain.CursorPage[domain.Message], error) {
			return domain.CursorPage[domain.Message]{}, services.ErrMessageForbidden
		},
	}

	router := newMessageTestRouter(messages)
	req := authedRequest(http.MethodGet, "/orders/ord_1/messages", nil, &auth.Identity{UID: "stranger"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}
