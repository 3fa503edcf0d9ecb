package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

const (
	messageIDPrefix  = "msg_"
	maxMessageLength = 4000
)

var (
	// ErrMessageInvalidInput signals the caller provided invalid message data.
	ErrMessageInvalidInput = errors.New("message: invalid input")
	// ErrMessageNotFound indicates the order thread could not be located.
	ErrMessageNotFound = errors.New("message: not found")
	// ErrMessageForbidden indicates the actor is not a participant of the order.
	ErrMessageForbidden = errors.New("message: forbidden")
)

// MessageServiceDeps bundles collaborators required to construct the message service.
type MessageServiceDeps struct {
	Messages    repositories.MessageRepository
	Orders      repositories.OrderRepository
	Companies   repositories.CompanyRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type messageService struct {
	messages  repositories.MessageRepository
	orders    repositories.OrderRepository
	companies repositories.CompanyRepository
	clock     func() time.Time
	newID     func() string
	sanitizer *bluemonday.Policy
}

// NewMessageService wires dependencies into a concrete MessageService implementation.
func NewMessageService(deps MessageServiceDeps) (MessageService, error) {
	if deps.Messages == nil {
		return nil, errors.New("message service: message repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("message service: order repository is required")
	}
	if deps.Companies == nil {
		return nil, errors.New("message service: company repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &messageService{
		messages:  deps.Messages,
		orders:    deps.Orders,
		companies: deps.Companies,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *messageService) Post(ctx context.Context, cmd PostMessageCommand) (domain.Message, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Message{}, fmt.Errorf("%w: order id is required", ErrMessageInvalidInput)
	}

	body := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Body))
	if body == "" {
		return domain.Message{}, fmt.Errorf("%w: body is required", ErrMessageInvalidInput)
	}
	if len(body) > maxMessageLength {
		return domain.Message{}, fmt.Errorf("%w: body exceeds %d characters", ErrMessageInvalidInput, maxMessageLength)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Message{}, s.mapRepositoryError(err)
	}
	if err := s.authorize(ctx, order, cmd.Actor); err != nil {
		return domain.Message{}, err
	}

	message := domain.Message{
		ID:        messageIDPrefix + s.newID(),
		OrderID:   order.ID,
		SenderID:  cmd.Actor.UID,
		Body:      body,
		CreatedAt: s.clock(),
	}

	if err := s.messages.Append(ctx, message); err != nil {
		return domain.Message{}, s.mapRepositoryError(err)
	}
	return message, nil
}

func (s *messageService) ListByOrder(ctx context.Context, query MessageListQuery) (domain.CursorPage[domain.Message], error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return domain.CursorPage[domain.Message]{}, fmt.Errorf("%w: order id is required", ErrMessageInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.CursorPage[domain.Message]{}, s.mapRepositoryError(err)
	}
	if err := s.authorize(ctx, order, query.Actor); err != nil {
		return domain.CursorPage[domain.Message]{}, err
	}

	page, err := s.messages.ListByOrder(ctx, order.ID, domain.Pagination{
		PageSize:  query.PageSize,
		PageToken: query.PageToken,
	})
	if err != nil {
		return domain.CursorPage[domain.Message]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// authorize permits the buyer, the owner of the selling company, and admins.
func (s *messageService) authorize(ctx context.Context, order domain.Order, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	uid := strings.TrimSpace(actor.UID)
	if uid == "" {
		return fmt.Errorf("%w: actor is required", ErrMessageForbidden)
	}
	if order.BuyerID == uid {
		return nil
	}

	company, err := s.companies.FindByID(ctx, order.CompanyID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: actor %s is not a participant of order %s", ErrMessageForbidden, uid, order.ID)
		}
		return s.mapRepositoryError(err)
	}
	if company.OwnerID == uid {
		return nil
	}
	return fmt.Errorf("%w: actor %s is not a participant of order %s", ErrMessageForbidden, uid, order.ID)
}

func (s *messageService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrMessageNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("message: repository unavailable: %w", err)
		}
	}
	return err
}
