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

const productIDPrefix = "prd_"

var (
	// ErrCatalogInvalidInput signals the caller provided invalid listing data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogForbidden indicates the actor does not own the listing company.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
	// ErrCatalogNoCompany indicates the actor has no company to list under.
	ErrCatalogNoCompany = errors.New("catalog: actor has no company")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Companies   repositories.CompanyRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	products  repositories.ProductRepository
	companies repositories.CompanyRepository
	audit     AuditLogService
	clock     func() time.Time
	newID     func() string
	sanitizer *bluemonday.Policy
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Companies == nil {
		return nil, errors.New("catalog service: company repository is required")
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

	return &catalogService{
		products:  deps.Products,
		companies: deps.Companies,
		audit:     deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
		// Listing text is rendered verbatim by clients, strip all markup.
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (domain.Product, error) {
	name := s.sanitizeText(cmd.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if err := validatePrice(cmd.Price, cmd.Currency); err != nil {
		return domain.Product{}, err
	}

	company, err := s.companyFor(ctx, cmd.Actor)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.clock()
	product := domain.Product{
		ID:          productIDPrefix + s.newID(),
		CompanyID:   company.ID,
		Name:        name,
		Description: s.sanitizeText(cmd.Description),
		Price:       cmd.Price,
		Currency:    strings.ToLower(strings.TrimSpace(cmd.Currency)),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditEntry{
		TargetRef: "products/" + product.ID,
		Action:    "product.created",
		ActorID:   cmd.Actor.UID,
		Details:   map[string]any{"companyId": company.ID, "price": product.Price, "currency": product.Currency},
		At:        now,
	})

	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (domain.Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	name := s.sanitizeText(cmd.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if err := validatePrice(cmd.Price, cmd.Currency); err != nil {
		return domain.Product{}, err
	}

	product, err := s.ownedProduct(ctx, productID, cmd.Actor)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.clock()
	product.Name = name
	product.Description = s.sanitizeText(cmd.Description)
	product.Price = cmd.Price
	product.Currency = strings.ToLower(strings.TrimSpace(cmd.Currency))
	product.UpdatedAt = now

	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditEntry{
		TargetRef: "products/" + product.ID,
		Action:    "product.updated",
		ActorID:   cmd.Actor.UID,
		Details:   map[string]any{"price": product.Price, "currency": product.Currency},
		At:        now,
	})

	return product, nil
}

func (s *catalogService) SetProductActive(ctx context.Context, cmd SetProductActiveCommand) (domain.Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.ownedProduct(ctx, productID, cmd.Actor)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.clock()
	if err := s.products.SetActive(ctx, product.ID, cmd.Active, now); err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	product.IsActive = cmd.Active
	product.UpdatedAt = now

	action := "product.deactivated"
	if cmd.Active {
		action = "product.activated"
	}
	s.recordAudit(ctx, AuditEntry{
		TargetRef: "products/" + product.ID,
		Action:    action,
		ActorID:   cmd.Actor.UID,
		At:        now,
	})

	return product, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ownedProduct loads the product and checks the actor owns its company.
// Admins bypass the ownership check.
func (s *catalogService) ownedProduct(ctx context.Context, productID string, actor Actor) (domain.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}

	if actor.IsAdmin() {
		return product, nil
	}

	company, err := s.companyFor(ctx, actor)
	if err != nil {
		return domain.Product{}, err
	}
	if company.ID != product.CompanyID {
		return domain.Product{}, fmt.Errorf("%w: actor %s does not own product %s", ErrCatalogForbidden, actor.UID, productID)
	}
	return product, nil
}

func (s *catalogService) companyFor(ctx context.Context, actor Actor) (domain.Company, error) {
	uid := strings.TrimSpace(actor.UID)
	if uid == "" {
		return domain.Company{}, fmt.Errorf("%w: actor is required", ErrCatalogForbidden)
	}

	company, err := s.companies.FindByOwner(ctx, uid)
	if err != nil {
		if isNotFound(err) {
			return domain.Company{}, fmt.Errorf("%w: owner %s", ErrCatalogNoCompany, uid)
		}
		return domain.Company{}, s.mapRepositoryError(err)
	}
	return company, nil
}

func (s *catalogService) sanitizeText(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

func validatePrice(price float64, currency string) error {
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	}
	code := strings.ToLower(strings.TrimSpace(currency))
	if !domain.IsSupportedCurrency(code) {
		return fmt.Errorf("%w: unsupported currency %q", ErrCatalogInvalidInput, currency)
	}
	return nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *catalogService) recordAudit(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}
