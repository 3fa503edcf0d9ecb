package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgemarket/api/internal/repositories"
)

// Config controls pool sizing for the Postgres provider.
type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	HealthCheckPeriod time.Duration
}

// Provider owns the connection pool and hands out repository implementations.
type Provider struct {
	pool *pgxpool.Pool

	companies      *CompanyRepository
	products       *ProductRepository
	orders         *OrderRepository
	paymentIntents *PaymentIntentRepository
	messages       *MessageRepository
	auditLogs      *AuditLogRepository
}

// NewProvider connects to Postgres and verifies the connection before returning.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, wrapError("postgres.parse_config", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, wrapError("postgres.connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapError("postgres.ping", err)
	}

	p := &Provider{pool: pool}
	p.companies = &CompanyRepository{provider: p}
	p.products = &ProductRepository{provider: p}
	p.orders = &OrderRepository{provider: p}
	p.paymentIntents = &PaymentIntentRepository{provider: p}
	p.messages = &MessageRepository{provider: p}
	p.auditLogs = &AuditLogRepository{provider: p}
	return p, nil
}

// Close releases the connection pool.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}

// Companies returns the company repository.
func (p *Provider) Companies() repositories.CompanyRepository { return p.companies }

// Products returns the product repository.
func (p *Provider) Products() repositories.ProductRepository { return p.products }

// Orders returns the order repository.
func (p *Provider) Orders() repositories.OrderRepository { return p.orders }

// PaymentIntents returns the payment intent repository.
func (p *Provider) PaymentIntents() repositories.PaymentIntentRepository { return p.paymentIntents }

// Messages returns the message repository.
func (p *Provider) Messages() repositories.MessageRepository { return p.messages }

// AuditLogs returns the audit log repository.
func (p *Provider) AuditLogs() repositories.AuditLogRepository { return p.auditLogs }

// Health returns the health repository.
func (p *Provider) Health() repositories.HealthRepository { return healthRepository{provider: p} }

type healthRepository struct {
	provider *Provider
}

func (r healthRepository) Ping(ctx context.Context) error {
	if r.provider == nil || r.provider.pool == nil {
		return errors.New("postgres: provider not initialised")
	}
	return wrapError("postgres.health", r.provider.pool.Ping(ctx))
}

type txKey struct{}

// RunInTx executes fn inside a single transaction. Repository calls made with
// the derived context share that transaction. Nested calls reuse the outer one.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil || p.pool == nil {
		return errors.New("postgres: provider not initialised")
	}
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapError("postgres.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError("postgres.commit", err)
	}
	return nil
}

// querier abstracts over the pool and an in-flight transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Provider) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.pool
}

// clampPageSize bounds list page sizes to a sane window.
func clampPageSize(size int) int {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}
