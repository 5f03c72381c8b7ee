package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountResolver maps global account roles (AR, AP, INVENTORY, ...) to a
// company's postable COA accounts. It replaces hardcoded account constants in
// the posting services.
type AccountResolver struct {
	pool *pgxpool.Pool
}

func NewAccountResolver(pool *pgxpool.Pool) *AccountResolver {
	return &AccountResolver{pool: pool}
}

// candidate COA codes tried by the self-heal routine, first postable match
// wins. Codes follow the standard seeded chart.
var roleCodeCandidates = map[string][]string{
	RoleAR:             {"1200", "1210"},
	RoleAP:             {"2100", "2000"},
	RoleInventory:      {"1400", "1410"},
	RoleGRNI:           {"2150", "2190"},
	RoleCOGS:           {"5000", "5100"},
	RoleShrinkage:      {"5250", "5200"},
	RoleInvAdjustment:  {"5260", "5200"},
	RoleRounding:       {"7990", "6990"},
	RoleVATRecoverable: {"1450", "1460"},
	RolePurchaseRebate: {"5150"},
	RolePurchasesExp:   {"5100", "5000"},
}

// resolveAccountTx returns the mapped account id for (company, role) or a
// MISSING_CONFIG error. Used by posting paths inside their own transaction.
func resolveAccountTx(ctx context.Context, tx pgx.Tx, companyID int, role string) (int, error) {
	var accountID int
	err := tx.QueryRow(ctx, `
		SELECT cad.account_id
		FROM company_account_defaults cad
		JOIN account_roles r ON r.id = cad.role_id
		WHERE cad.company_id = $1 AND r.code = $2`,
		companyID, role,
	).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, E(KindMissingConfig, "no account mapped for role %s — run EnsureCompanyAccountDefaults or map it manually", role)
		}
		return 0, fmt.Errorf("resolve account role %s: %w", role, err)
	}
	return accountID, nil
}

// Resolve returns the mapped account id for a role in its own transaction.
func (r *AccountResolver) Resolve(ctx context.Context, sess Session, role string) (int, error) {
	tx, err := BeginTenantTx(ctx, r.pool, sess)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	id, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, role)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit account resolve: %w", err)
	}
	return id, nil
}

// EnsureCompanyAccountDefaults fills missing role mappings for the company.
// For each missing role it tries, in order: the fallback role's existing
// mapping, the role's candidate COA codes (first postable match), and — for
// OPENING_* roles only — a synthetic "1099 — Opening Balance Equity" account.
// Existing mappings are never overwritten. Every autofill is audited.
// roles may be nil to process every known role.
func (r *AccountResolver) EnsureCompanyAccountDefaults(ctx context.Context, sess Session, roles []string) (map[string]int, error) {
	tx, err := BeginTenantTx(ctx, r.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, "SELECT id, code, fallback_role FROM account_roles ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("load account roles: %w", err)
	}
	var all []AccountRole
	for rows.Next() {
		var rr AccountRole
		if err := rows.Scan(&rr.ID, &rr.Code, &rr.FallbackRole); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account role: %w", err)
		}
		all = append(all, rr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account roles: %w", err)
	}

	wanted := make(map[string]bool, len(roles))
	for _, code := range roles {
		wanted[strings.ToUpper(code)] = true
	}

	filled := make(map[string]int)
	for _, rr := range all {
		if len(roles) > 0 && !wanted[rr.Code] {
			continue
		}

		if _, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, rr.Code); err == nil {
			continue // mapped already; never overwrite
		} else if KindOf(err) != KindMissingConfig {
			return nil, err
		}

		accountID, source, err := r.findCandidate(ctx, tx.Tx, sess.CompanyID, rr)
		if err != nil {
			return nil, err
		}
		if accountID == 0 {
			continue // nothing suitable; leave unmapped
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO company_account_defaults (company_id, role_id, account_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (company_id, role_id) DO NOTHING`,
			sess.CompanyID, rr.ID, accountID,
		); err != nil {
			return nil, fmt.Errorf("map role %s: %w", rr.Code, err)
		}
		filled[rr.Code] = accountID

		if err := writeAudit(ctx, tx.Tx, AuditEntry{
			CompanyID:  sess.CompanyID,
			UserID:     sess.UserID,
			Action:     "account_default.autofill",
			EntityType: "account_role",
			EntityID:   rr.ID,
			Details:    map[string]any{"role": rr.Code, "account_id": accountID, "source": source},
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit account defaults: %w", err)
	}
	return filled, nil
}

// findCandidate locates an account for a missing role mapping. Returns
// (0, "", nil) when no candidate exists and the role is not OPENING_*.
func (r *AccountResolver) findCandidate(ctx context.Context, tx pgx.Tx, companyID int, rr AccountRole) (int, string, error) {
	// (a) fallback role's existing mapping
	if rr.FallbackRole != nil && *rr.FallbackRole != "" {
		if id, err := resolveAccountTx(ctx, tx, companyID, *rr.FallbackRole); err == nil {
			return id, "fallback_role:" + *rr.FallbackRole, nil
		} else if KindOf(err) != KindMissingConfig {
			return 0, "", err
		}
	}

	// (b) candidate COA codes, first postable match
	for _, code := range roleCodeCandidates[rr.Code] {
		var id int
		err := tx.QueryRow(ctx, `
			SELECT id FROM company_coa_accounts
			WHERE company_id = $1 AND code = $2 AND is_postable = true`,
			companyID, code,
		).Scan(&id)
		if err == nil {
			return id, "code:" + code, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, "", fmt.Errorf("probe candidate account %s: %w", code, err)
		}
	}

	// (c) OPENING_* roles get a synthetic equity account
	if strings.HasPrefix(rr.Code, "OPENING_") {
		var id int
		err := tx.QueryRow(ctx, `
			INSERT INTO company_coa_accounts (company_id, code, name, account_type, is_postable)
			VALUES ($1, '1099', 'Opening Balance Equity', 'equity', true)
			ON CONFLICT (company_id, code) DO UPDATE SET is_postable = company_coa_accounts.is_postable
			RETURNING id`,
			companyID,
		).Scan(&id)
		if err != nil {
			return 0, "", fmt.Errorf("create opening balance equity account: %w", err)
		}
		return id, "synthetic:1099", nil
	}

	return 0, "", nil
}
