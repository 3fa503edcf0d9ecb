package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

const productColumns = `id, company_id, name, description, price, currency, is_active, created_at, updated_at`

// ProductRepository persists product listings in Postgres.
type ProductRepository struct {
	provider *Provider
}

// Insert stores a new product row.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}

	_, err := r.provider.querier(ctx).Exec(ctx, `
		INSERT INTO products (id, company_id, name, description, price, currency, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		product.ID, product.CompanyID, product.Name, product.Description,
		product.Price, product.Currency, product.IsActive,
		product.CreatedAt, product.UpdatedAt)
	return wrapError("products.insert", err)
}

// Update replaces the mutable fields of a product.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}

	tag, err := r.provider.querier(ctx).Exec(ctx, `
		UPDATE products SET name = $1, description = $2, price = $3, currency = $4,
			is_active = $5, updated_at = $6
		WHERE id = $7`,
		product.Name, product.Description, product.Price, product.Currency,
		product.IsActive, product.UpdatedAt, product.ID)
	if err != nil {
		return wrapError("products.update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("products.update")
	}
	return nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, wrapError("products.find", err)
	}
	return product, nil
}

// FindListing loads a product together with its selling company in one query.
func (r *ProductRepository) FindListing(ctx context.Context, productID string) (domain.ProductListing, error) {
	if r == nil || r.provider == nil {
		return domain.ProductListing{}, errors.New("product repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx, `
		SELECT p.id, p.company_id, p.name, p.description, p.price, p.currency, p.is_active,
			p.created_at, p.updated_at,
			c.id, c.owner_id, c.name, c.stripe_account_id, c.created_at, c.updated_at
		FROM products p
		JOIN companies c ON c.id = p.company_id
		WHERE p.id = $1`, productID)

	var listing domain.ProductListing
	err := row.Scan(
		&listing.Product.ID, &listing.Product.CompanyID, &listing.Product.Name,
		&listing.Product.Description, &listing.Product.Price, &listing.Product.Currency,
		&listing.Product.IsActive, &listing.Product.CreatedAt, &listing.Product.UpdatedAt,
		&listing.Company.ID, &listing.Company.OwnerID, &listing.Company.Name,
		&listing.Company.StripeAccountID, &listing.Company.CreatedAt, &listing.Company.UpdatedAt)
	if err != nil {
		return domain.ProductListing{}, wrapError("products.find_listing", err)
	}
	return listing, nil
}

// SetActive toggles the listing visibility flag.
func (r *ProductRepository) SetActive(ctx context.Context, productID string, active bool, updatedAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}

	tag, err := r.provider.querier(ctx).Exec(ctx,
		`UPDATE products SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, updatedAt, productID)
	if err != nil {
		return wrapError("products.set_active", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("products.set_active")
	}
	return nil
}

// List pages products, optionally scoped to a company or to active listings.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CompanyID != "" {
		clauses = append(clauses, "company_id = "+arg(filter.CompanyID))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active")
	}
	if filter.PageToken != "" {
		clauses = append(clauses, "id < "+arg(filter.PageToken))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	pageSize := clampPageSize(filter.PageSize)
	query += " ORDER BY id DESC LIMIT " + arg(pageSize+1)

	rows, err := r.provider.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapError("products.list", err)
	}
	defer rows.Close()

	items := make([]domain.Product, 0, pageSize)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapError("products.list", err)
		}
		items = append(items, product)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Product]{}, wrapError("products.list", err)
	}

	page := domain.CursorPage[domain.Product]{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		page.NextPageToken = page.Items[pageSize-1].ID
	}
	return page, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(
		&product.ID, &product.CompanyID, &product.Name, &product.Description,
		&product.Price, &product.Currency, &product.IsActive,
		&product.CreatedAt, &product.UpdatedAt)
	return product, err
}
