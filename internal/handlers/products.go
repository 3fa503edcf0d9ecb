package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/platform/auth"
	"github.com/forgemarket/api/internal/platform/httpx"
	"github.com/forgemarket/api/internal/repositories"
	"github.com/forgemarket/api/internal/services"
)

const (
	defaultProductPageSize = 20
	maxProductPageSize     = 100
	maxProductBodySize     = 16 * 1024
)

// ProductHandlers exposes catalog endpoints. Reads are public, writes require
// an authenticated company owner.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)

	write := func(next chi.Router) chi.Router {
		if h.authn != nil {
			return next.With(h.authn.RequireFirebaseAuth(auth.RoleSeller, auth.RoleAdmin))
		}
		return next
	}
	write(r).Post("/", h.createProduct)
	write(r).Patch("/{productID}", h.updateProduct)
	write(r).Delete("/{productID}", h.deactivateProduct)
}

type productRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}

type productPayload struct {
	ID          string  `json:"id"`
	CompanyID   string  `json:"companyId"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	IsActive    bool    `json:"isActive"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListProducts(ctx, repositories.ProductListFilter{
		CompanyID:  strings.TrimSpace(query.Get("company_id")),
		ActiveOnly: true,
		PageSize:   pageSize,
		PageToken:  strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if !product.IsActive {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req productRequest
	if !decodeJSONBody(ctx, w, r, maxProductBodySize, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Actor:       actor,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req productRequest
	if !decodeJSONBody(ctx, w, r, maxProductBodySize, &req) {
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		Actor:       actor,
		ProductID:   strings.TrimSpace(chi.URLParam(r, "productID")),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

// deactivateProduct retires a listing instead of deleting the row so that
// existing orders keep a valid product reference.
func (h *ProductHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	product, err := h.catalog.SetProductActive(ctx, services.SetProductActiveCommand{
		Actor:     actor,
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Active:    false,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:          product.ID,
		CompanyID:   product.CompanyID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		Currency:    product.Currency,
		IsActive:    product.IsActive,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogNoCompany):
		httpx.WriteError(ctx, w, httpx.NewError("no_company", "actor has no company to list products under", http.StatusForbidden))
	case errors.Is(err, services.ErrCatalogForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "actor may not manage this product", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
