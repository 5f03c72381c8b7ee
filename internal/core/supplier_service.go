package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SupplierInput struct {
	Code             string
	Name             string
	PaymentTermsDays int
}

// SupplierService manages the supplier master.
type SupplierService struct {
	pool *pgxpool.Pool
}

func NewSupplierService(pool *pgxpool.Pool) *SupplierService {
	return &SupplierService{pool: pool}
}

// Create inserts a new supplier for the session's company.
func (s *SupplierService) Create(ctx context.Context, sess Session, input SupplierInput) (*Supplier, error) {
	if strings.TrimSpace(input.Code) == "" || strings.TrimSpace(input.Name) == "" {
		return nil, E(KindValidation, "supplier code and name are required")
	}
	terms := input.PaymentTermsDays
	if terms == 0 {
		terms = 30
	}

	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sup := &Supplier{}
	err = tx.QueryRow(ctx, `
		INSERT INTO suppliers (company_id, code, name, payment_terms_days)
		VALUES ($1, $2, $3, $4)
		RETURNING id, company_id, code, name, payment_terms_days, is_active, created_at`,
		sess.CompanyID, input.Code, input.Name, terms,
	).Scan(&sup.ID, &sup.CompanyID, &sup.Code, &sup.Name, &sup.PaymentTermsDays, &sup.IsActive, &sup.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create supplier %q: %w", input.Code, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit supplier: %w", err)
	}
	return sup, nil
}

// List returns all active suppliers, ordered by code.
func (s *SupplierService) List(ctx context.Context, sess Session) ([]Supplier, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, company_id, code, name, payment_terms_days, is_active, created_at
		FROM suppliers
		WHERE company_id = $1 AND is_active = true
		ORDER BY code`,
		sess.CompanyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var sup Supplier
		if err := rows.Scan(&sup.ID, &sup.CompanyID, &sup.Code, &sup.Name,
			&sup.PaymentTermsDays, &sup.IsActive, &sup.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit supplier list: %w", err)
	}
	return suppliers, nil
}

// GetByCode returns a supplier by code.
func (s *SupplierService) GetByCode(ctx context.Context, sess Session, code string) (*Supplier, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sup, err := supplierByCodeTx(ctx, tx.Tx, sess.CompanyID, code)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit supplier read: %w", err)
	}
	return sup, nil
}

func supplierByCodeTx(ctx context.Context, tx pgx.Tx, companyID int, code string) (*Supplier, error) {
	sup := &Supplier{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, code, name, payment_terms_days, is_active, created_at
		FROM suppliers
		WHERE company_id = $1 AND code = $2`,
		companyID, code,
	).Scan(&sup.ID, &sup.CompanyID, &sup.Code, &sup.Name, &sup.PaymentTermsDays, &sup.IsActive, &sup.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "supplier %q not found", code)
		}
		return nil, fmt.Errorf("get supplier %q: %w", code, err)
	}
	return sup, nil
}

func loadSupplierTx(ctx context.Context, tx pgx.Tx, companyID, supplierID int) (*Supplier, error) {
	sup := &Supplier{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, code, name, payment_terms_days, is_active, created_at
		FROM suppliers
		WHERE company_id = $1 AND id = $2`,
		companyID, supplierID,
	).Scan(&sup.ID, &sup.CompanyID, &sup.Code, &sup.Name, &sup.PaymentTermsDays, &sup.IsActive, &sup.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "supplier %d not found", supplierID)
		}
		return nil, fmt.Errorf("load supplier %d: %w", supplierID, err)
	}
	return sup, nil
}
