package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/forgemarket/api/internal/domain"
)

const companyColumns = `id, owner_id, name, stripe_account_id, created_at, updated_at`

// CompanyRepository persists selling companies in Postgres.
type CompanyRepository struct {
	provider *Provider
}

// Insert stores a new company row.
func (r *CompanyRepository) Insert(ctx context.Context, company domain.Company) error {
	if r == nil || r.provider == nil {
		return errors.New("company repository not initialised")
	}

	_, err := r.provider.querier(ctx).Exec(ctx, `
		INSERT INTO companies (id, owner_id, name, stripe_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		company.ID, company.OwnerID, company.Name, company.StripeAccountID,
		company.CreatedAt, company.UpdatedAt)
	return wrapError("companies.insert", err)
}

// Update replaces the mutable fields of a company.
func (r *CompanyRepository) Update(ctx context.Context, company domain.Company) error {
	if r == nil || r.provider == nil {
		return errors.New("company repository not initialised")
	}

	tag, err := r.provider.querier(ctx).Exec(ctx, `
		UPDATE companies SET name = $1, stripe_account_id = $2, updated_at = $3
		WHERE id = $4`,
		company.Name, company.StripeAccountID, company.UpdatedAt, company.ID)
	if err != nil {
		return wrapError("companies.update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("companies.update")
	}
	return nil
}

// FindByID loads a single company.
func (r *CompanyRepository) FindByID(ctx context.Context, companyID string) (domain.Company, error) {
	if r == nil || r.provider == nil {
		return domain.Company{}, errors.New("company repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1`, companyID)
	company, err := scanCompany(row)
	if err != nil {
		return domain.Company{}, wrapError("companies.find", err)
	}
	return company, nil
}

// FindByOwner loads the company owned by the given user.
func (r *CompanyRepository) FindByOwner(ctx context.Context, ownerID string) (domain.Company, error) {
	if r == nil || r.provider == nil {
		return domain.Company{}, errors.New("company repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE owner_id = $1`, ownerID)
	company, err := scanCompany(row)
	if err != nil {
		return domain.Company{}, wrapError("companies.find_by_owner", err)
	}
	return company, nil
}

// UpdateStripeAccount records the company's connected payout account.
func (r *CompanyRepository) UpdateStripeAccount(ctx context.Context, companyID string, stripeAccountID string, updatedAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("company repository not initialised")
	}

	tag, err := r.provider.querier(ctx).Exec(ctx,
		`UPDATE companies SET stripe_account_id = $1, updated_at = $2 WHERE id = $3`,
		stripeAccountID, updatedAt, companyID)
	if err != nil {
		return wrapError("companies.update_stripe_account", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("companies.update_stripe_account")
	}
	return nil
}

func scanCompany(row pgx.Row) (domain.Company, error) {
	var company domain.Company
	err := row.Scan(
		&company.ID, &company.OwnerID, &company.Name, &company.StripeAccountID,
		&company.CreatedAt, &company.UpdatedAt)
	return company, err
}
