package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Auto-balance tolerances. Residues at or below these land on the ROUNDING
// account; anything larger fails the posting.
var (
	roundingToleranceUSD = decimal.NewFromFloat(0.05)
	roundingToleranceLBP = decimal.NewFromInt(5000)
)

// JournalLineSpec is one entry to be emitted. Debit and credit are dual
// amounts; a line carries exactly one direction.
type JournalLineSpec struct {
	AccountID   int
	Debit       Dual
	Credit      Dual
	Memo        *string
	WarehouseID *int
}

// JournalSpec describes a journal to post. Lines must already be normalized
// dual amounts; postJournalTx only balances and persists.
type JournalSpec struct {
	SourceType   string
	SourceID     *int
	JournalDate  time.Time
	RateType     RateType
	ExchangeRate decimal.Decimal
	Memo         *string
	Lines        []JournalLineSpec
}

// GlService owns journal emission, numbering, reversal, manual journals,
// templates, and recurring rules.
type GlService struct {
	pool *pgxpool.Pool
}

func NewGlService(pool *pgxpool.Pool) *GlService {
	return &GlService{pool: pool}
}

// nextDocumentNoTx allocates the next tenant-scoped number for a document
// type, e.g. "GR-000042". The counter row is locked by the upsert, so
// concurrent posters serialize here.
func nextDocumentNoTx(ctx context.Context, tx pgx.Tx, companyID int, docType string) (string, error) {
	var lastNo int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_counters (company_id, doc_type, last_no)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, doc_type)
		DO UPDATE SET last_no = document_counters.last_no + 1
		RETURNING last_no`,
		companyID, docType,
	).Scan(&lastNo)
	if err != nil {
		return "", fmt.Errorf("allocate %s number: %w", docType, err)
	}
	return fmt.Sprintf("%s-%06d", docType, lastNo), nil
}

// journalNoWithSuffix appends a 6-hex suffix to a base number. Used when a
// cancel journal reuses the original's number and must stay unique.
func journalNoWithSuffix(base string) string {
	return base + "-" + strings.ToUpper(uuid.NewString()[:6])
}

// postJournalTx emits a journal and its entries inside the caller's
// transaction, applying the auto-balance rule:
//
//   - |diff_usd| ≤ 0.05 AND |diff_lbp| ≤ 5000 → one rounding line
//   - opposite-signed diffs → SIGN_MISMATCH
//   - anything larger → IMBALANCED
func postJournalTx(ctx context.Context, tx pgx.Tx, companyID int, spec JournalSpec) (*GlJournal, error) {
	if len(spec.Lines) == 0 {
		return nil, E(KindValidation, "journal for %s requires at least one line", spec.SourceType)
	}

	var sumDebit, sumCredit Dual
	for i, l := range spec.Lines {
		if l.Debit.USD.IsNegative() || l.Debit.LBP.IsNegative() ||
			l.Credit.USD.IsNegative() || l.Credit.LBP.IsNegative() {
			return nil, E(KindValidation, "journal line %d has a negative amount", i+1)
		}
		if !l.Debit.Zero() && !l.Credit.Zero() {
			return nil, E(KindValidation, "journal line %d carries both debit and credit", i+1)
		}
		sumDebit = sumDebit.Add(l.Debit)
		sumCredit = sumCredit.Add(l.Credit)
	}
	if sumDebit.Zero() && sumCredit.Zero() {
		return nil, E(KindValidation, "journal for %s sums to zero", spec.SourceType)
	}

	diffUSD := sumDebit.USD.Sub(sumCredit.USD)
	diffLBP := sumDebit.LBP.Sub(sumCredit.LBP)

	lines := spec.Lines
	if !diffUSD.IsZero() || !diffLBP.IsZero() {
		if diffUSD.Sign()*diffLBP.Sign() == -1 {
			return nil, EDetails(KindSignMismatch, map[string]any{
				"diff_usd": diffUSD.String(), "diff_lbp": diffLBP.String(),
			}, "journal diffs have opposite signs: usd %s, lbp %s", diffUSD, diffLBP)
		}
		if diffUSD.Abs().GreaterThan(roundingToleranceUSD) || diffLBP.Abs().GreaterThan(roundingToleranceLBP) {
			return nil, EDetails(KindImbalanced, map[string]any{
				"diff_usd": diffUSD.String(), "diff_lbp": diffLBP.String(),
			}, "journal out of balance: usd %s, lbp %s", diffUSD, diffLBP)
		}

		roundingID, err := resolveAccountTx(ctx, tx, companyID, RoleRounding)
		if err != nil {
			return nil, err
		}
		memo := "auto-balance rounding"
		rl := JournalLineSpec{AccountID: roundingID, Memo: &memo}
		// Debits exceed credits → post the residue as a credit, and vice versa.
		credit := Dual{}
		debit := Dual{}
		if diffUSD.Sign() > 0 {
			credit.USD = diffUSD
		} else {
			debit.USD = diffUSD.Abs()
		}
		if diffLBP.Sign() > 0 {
			credit.LBP = diffLBP
		} else {
			debit.LBP = diffLBP.Abs()
		}
		rl.Debit = debit
		rl.Credit = credit
		lines = append(lines, rl)
	}

	journalNo, err := nextDocumentNoTx(ctx, tx, companyID, "JV")
	if err != nil {
		return nil, err
	}

	j := &GlJournal{}
	insert := func(no string) error {
		return tx.QueryRow(ctx, `
			INSERT INTO gl_journals (company_id, journal_no, source_type, source_id, journal_date, rate_type, exchange_rate, memo)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, company_id, journal_no, source_type, source_id, journal_date, rate_type, exchange_rate, memo, created_at`,
			companyID, no, spec.SourceType, spec.SourceID, spec.JournalDate.Format("2006-01-02"),
			spec.RateType, spec.ExchangeRate, spec.Memo,
		).Scan(&j.ID, &j.CompanyID, &j.JournalNo, &j.SourceType, &j.SourceID,
			&j.JournalDate, &j.RateType, &j.ExchangeRate, &j.Memo, &j.CreatedAt)
	}
	if err := insert(journalNo); err != nil {
		// Collision-safe retry with a hex suffix when the base number is taken.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if err := insert(journalNoWithSuffix(journalNo)); err != nil {
				return nil, fmt.Errorf("insert journal with suffix: %w", err)
			}
		} else {
			return nil, fmt.Errorf("insert journal: %w", err)
		}
	}

	for _, l := range lines {
		var e GlEntry
		err := tx.QueryRow(ctx, `
			INSERT INTO gl_entries (journal_id, account_id, debit_usd, credit_usd, debit_lbp, credit_lbp, memo, warehouse_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, journal_id, account_id, debit_usd, credit_usd, debit_lbp, credit_lbp, memo, warehouse_id`,
			j.ID, l.AccountID, l.Debit.USD, l.Credit.USD, l.Debit.LBP, l.Credit.LBP, l.Memo, l.WarehouseID,
		).Scan(&e.ID, &e.JournalID, &e.AccountID, &e.DebitUSD, &e.CreditUSD,
			&e.DebitLBP, &e.CreditLBP, &e.Memo, &e.WarehouseID)
		if err != nil {
			return nil, fmt.Errorf("insert journal entry: %w", err)
		}
		j.Entries = append(j.Entries, e)
	}

	return j, nil
}

// findJournalTx locates the journal for (source_type, source_id).
func findJournalTx(ctx context.Context, tx pgx.Tx, companyID int, sourceType string, sourceID int) (*GlJournal, error) {
	j := &GlJournal{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, journal_no, source_type, source_id, journal_date, rate_type, exchange_rate, memo, created_at
		FROM gl_journals
		WHERE company_id = $1 AND source_type = $2 AND source_id = $3
		ORDER BY id
		LIMIT 1`,
		companyID, sourceType, sourceID,
	).Scan(&j.ID, &j.CompanyID, &j.JournalNo, &j.SourceType, &j.SourceID,
		&j.JournalDate, &j.RateType, &j.ExchangeRate, &j.Memo, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find journal %s/%d: %w", sourceType, sourceID, err)
	}
	return j, nil
}

// reverseJournalTx creates the compensating journal for a posted document:
// source_type becomes "<original>_cancel", every entry swaps debit and
// credit. Idempotent — an existing cancel journal is returned as-is.
func reverseJournalTx(ctx context.Context, tx pgx.Tx, companyID int, sourceType string, sourceID int, cancelDate time.Time) (*GlJournal, error) {
	cancelType := sourceType + "_cancel"

	if existing, err := findJournalTx(ctx, tx, companyID, cancelType, sourceID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	orig, err := findJournalTx(ctx, tx, companyID, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, E(KindNotFound, "no journal to reverse for %s %d", sourceType, sourceID)
	}

	rows, err := tx.Query(ctx, `
		SELECT account_id, debit_usd, credit_usd, debit_lbp, credit_lbp, memo, warehouse_id
		FROM gl_entries WHERE journal_id = $1 ORDER BY id`,
		orig.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch entries for reversal: %w", err)
	}
	var lines []JournalLineSpec
	for rows.Next() {
		var l JournalLineSpec
		var dUSD, cUSD, dLBP, cLBP decimal.Decimal
		if err := rows.Scan(&l.AccountID, &dUSD, &cUSD, &dLBP, &cLBP, &l.Memo, &l.WarehouseID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry for reversal: %w", err)
		}
		// Swap directions.
		l.Debit = Dual{USD: cUSD, LBP: cLBP}
		l.Credit = Dual{USD: dUSD, LBP: dLBP}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries for reversal: %w", err)
	}

	memo := fmt.Sprintf("reversal of %s", orig.JournalNo)
	return postJournalTx(ctx, tx, companyID, JournalSpec{
		SourceType:   cancelType,
		SourceID:     &sourceID,
		JournalDate:  cancelDate,
		RateType:     orig.RateType,
		ExchangeRate: orig.ExchangeRate,
		Memo:         &memo,
		Lines:        lines,
	})
}

// writeTaxLineTx records a tax line for a source document.
func writeTaxLineTx(ctx context.Context, tx pgx.Tx, companyID int, tl TaxLine) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO tax_lines (company_id, source_type, source_id, tax_code_id, base_usd, base_lbp, tax_usd, tax_lbp, tax_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		companyID, tl.SourceType, tl.SourceID, tl.TaxCodeID,
		tl.BaseUSD, tl.BaseLBP, tl.TaxUSD, tl.TaxLBP, tl.TaxDate.Format("2006-01-02"),
	); err != nil {
		return fmt.Errorf("insert tax line: %w", err)
	}
	return nil
}

// negateTaxLinesTx mirrors every tax line of a source document with a negated
// row dated cancelDate. Rows are inserted, never deleted.
func negateTaxLinesTx(ctx context.Context, tx pgx.Tx, companyID int, sourceType string, sourceID int, cancelDate time.Time) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO tax_lines (company_id, source_type, source_id, tax_code_id, base_usd, base_lbp, tax_usd, tax_lbp, tax_date)
		SELECT company_id, source_type || '_cancel', source_id, tax_code_id,
		       -base_usd, -base_lbp, -tax_usd, -tax_lbp, $4::date
		FROM tax_lines
		WHERE company_id = $1 AND source_type = $2 AND source_id = $3`,
		companyID, sourceType, sourceID, cancelDate.Format("2006-01-02"),
	); err != nil {
		return fmt.Errorf("negate tax lines: %w", err)
	}
	return nil
}

// ── Manual journals ───────────────────────────────────────────────────────────

// ManualJournalLine is a caller-supplied entry. A missing currency side is
// derived from the journal's exchange rate.
type ManualJournalLine struct {
	AccountID int
	DebitUSD  decimal.Decimal
	DebitLBP  decimal.Decimal
	CreditUSD decimal.Decimal
	CreditLBP decimal.Decimal
	Memo      *string
}

type ManualJournalRequest struct {
	JournalDate  time.Time
	RateType     RateType
	ExchangeRate decimal.Decimal
	Memo         *string
	Lines        []ManualJournalLine
}

// CreateManualJournal posts a hand-keyed journal with per-line currency
// derivation and auto-balance.
func (s *GlService) CreateManualJournal(ctx context.Context, sess Session, req ManualJournalRequest) (*GlJournal, error) {
	if len(req.Lines) == 0 {
		return nil, E(KindValidation, "manual journal requires at least one line")
	}
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, req.JournalDate); err != nil {
		return nil, err
	}

	rate := req.ExchangeRate
	if rate.IsZero() {
		rate, err = rateForTx(ctx, tx.Tx, sess.CompanyID, req.JournalDate, req.RateType)
		if err != nil {
			return nil, err
		}
	}

	specLines := make([]JournalLineSpec, 0, len(req.Lines))
	for i, l := range req.Lines {
		if l.DebitUSD.IsNegative() || l.DebitLBP.IsNegative() || l.CreditUSD.IsNegative() || l.CreditLBP.IsNegative() {
			return nil, E(KindValidation, "manual journal line %d has a negative amount", i+1)
		}
		specLines = append(specLines, JournalLineSpec{
			AccountID: l.AccountID,
			Debit:     NormalizeDual(l.DebitUSD, l.DebitLBP, rate),
			Credit:    NormalizeDual(l.CreditUSD, l.CreditLBP, rate),
			Memo:      l.Memo,
		})
	}

	journal, err := postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
		SourceType:   "manual_journal",
		JournalDate:  req.JournalDate,
		RateType:     req.RateType,
		ExchangeRate: rate,
		Memo:         req.Memo,
		Lines:        specLines,
	})
	if err != nil {
		return nil, err
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "gl.manual_journal", EntityType: "gl_journal", EntityID: journal.ID,
		Details: map[string]any{"journal_no": journal.JournalNo},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit manual journal: %w", err)
	}
	return journal, nil
}

// ── Templates and recurring rules ─────────────────────────────────────────────

type JournalTemplateLine struct {
	AccountID int
	DebitUSD  decimal.Decimal
	DebitLBP  decimal.Decimal
	CreditUSD decimal.Decimal
	CreditLBP decimal.Decimal
	Memo      *string
}

type JournalTemplate struct {
	ID        int
	CompanyID int
	Name      string
	Memo      *string
	Lines     []JournalTemplateLine
}

// validateTemplateLines enforces exact balance in both currencies at save time.
func validateTemplateLines(lines []JournalTemplateLine) error {
	if len(lines) == 0 {
		return E(KindValidation, "template requires at least one line")
	}
	var dUSD, cUSD, dLBP, cLBP decimal.Decimal
	for i, l := range lines {
		if l.DebitUSD.IsNegative() || l.DebitLBP.IsNegative() || l.CreditUSD.IsNegative() || l.CreditLBP.IsNegative() {
			return E(KindValidation, "template line %d has a negative amount", i+1)
		}
		dUSD = dUSD.Add(l.DebitUSD)
		cUSD = cUSD.Add(l.CreditUSD)
		dLBP = dLBP.Add(l.DebitLBP)
		cLBP = cLBP.Add(l.CreditLBP)
	}
	if !dUSD.Equal(cUSD) || !dLBP.Equal(cLBP) {
		return E(KindImbalanced, "template debits must equal credits (usd %s/%s, lbp %s/%s)", dUSD, cUSD, dLBP, cLBP)
	}
	return nil
}

// SaveTemplate creates or replaces a named journal template.
func (s *GlService) SaveTemplate(ctx context.Context, sess Session, tpl JournalTemplate) (*JournalTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, E(KindValidation, "template name is required")
	}
	if err := validateTemplateLines(tpl.Lines); err != nil {
		return nil, err
	}

	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO journal_templates (company_id, name, memo)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, name) DO UPDATE SET memo = EXCLUDED.memo
		RETURNING id`,
		sess.CompanyID, tpl.Name, tpl.Memo,
	).Scan(&tpl.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert template: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM journal_template_lines WHERE template_id = $1", tpl.ID); err != nil {
		return nil, fmt.Errorf("clear template lines: %w", err)
	}
	for i, l := range tpl.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO journal_template_lines (template_id, line_no, account_id, debit_usd, debit_lbp, credit_usd, credit_lbp, memo)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tpl.ID, i+1, l.AccountID, l.DebitUSD, l.DebitLBP, l.CreditUSD, l.CreditLBP, l.Memo,
		); err != nil {
			return nil, fmt.Errorf("insert template line %d: %w", i+1, err)
		}
	}

	tpl.CompanyID = sess.CompanyID
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit template: %w", err)
	}
	return &tpl, nil
}

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

type RecurringRule struct {
	ID          int
	CompanyID   int
	TemplateID  int
	Cadence     Cadence
	DayOfWeek   int // 1..7 for weekly, else 0
	DayOfMonth  int // 1..31 for monthly, else 0
	NextRunDate time.Time
	IsActive    bool
}

// NextRunDate advances a rule's schedule past from.
func (r RecurringRule) Next(from time.Time) time.Time {
	day := from.Truncate(24 * time.Hour)
	switch r.Cadence {
	case CadenceDaily:
		return day.AddDate(0, 0, 1)
	case CadenceWeekly:
		d := day.AddDate(0, 0, 1)
		for int(d.Weekday()) != r.DayOfWeek%7 {
			d = d.AddDate(0, 0, 1)
		}
		return d
	case CadenceMonthly:
		d := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		dom := r.DayOfMonth
		// Clamp to the target month's length.
		last := d.AddDate(0, 1, -1).Day()
		if dom > last {
			dom = last
		}
		return time.Date(d.Year(), d.Month(), dom, 0, 0, 0, 0, time.UTC)
	}
	return day.AddDate(0, 0, 1)
}

// SaveRecurringRule registers a recurring posting rule for a template.
func (s *GlService) SaveRecurringRule(ctx context.Context, sess Session, rule RecurringRule) (*RecurringRule, error) {
	switch rule.Cadence {
	case CadenceDaily:
		rule.DayOfWeek, rule.DayOfMonth = 0, 0
	case CadenceWeekly:
		if rule.DayOfWeek < 1 || rule.DayOfWeek > 7 {
			return nil, E(KindValidation, "weekly cadence requires day_of_week 1..7, got %d", rule.DayOfWeek)
		}
		rule.DayOfMonth = 0
	case CadenceMonthly:
		if rule.DayOfMonth < 1 || rule.DayOfMonth > 31 {
			return nil, E(KindValidation, "monthly cadence requires day_of_month 1..31, got %d", rule.DayOfMonth)
		}
		rule.DayOfWeek = 0
	default:
		return nil, E(KindValidation, "unknown cadence %q", rule.Cadence)
	}

	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO journal_recurring_rules (company_id, template_id, cadence, day_of_week, day_of_month, next_run_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id, template_id, cadence, day_of_week, day_of_month)
		DO UPDATE SET next_run_date = EXCLUDED.next_run_date, is_active = EXCLUDED.is_active
		RETURNING id`,
		sess.CompanyID, rule.TemplateID, rule.Cadence, rule.DayOfWeek, rule.DayOfMonth,
		rule.NextRunDate.Format("2006-01-02"), rule.IsActive,
	).Scan(&rule.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert recurring rule: %w", err)
	}

	rule.CompanyID = sess.CompanyID
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit recurring rule: %w", err)
	}
	return &rule, nil
}

// RunDueRecurringRules posts journals for every active rule due on or before
// asOf, advancing next_run_date. Used by the background scheduler.
func (s *GlService) RunDueRecurringRules(ctx context.Context, sess Session, asOf time.Time) (int, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, template_id, cadence, day_of_week, day_of_month, next_run_date
		FROM journal_recurring_rules
		WHERE company_id = $1 AND is_active = true AND next_run_date <= $2::date
		ORDER BY id
		FOR UPDATE`,
		sess.CompanyID, asOf.Format("2006-01-02"),
	)
	if err != nil {
		return 0, fmt.Errorf("select due rules: %w", err)
	}
	var due []RecurringRule
	for rows.Next() {
		var r RecurringRule
		if err := rows.Scan(&r.ID, &r.TemplateID, &r.Cadence, &r.DayOfWeek, &r.DayOfMonth, &r.NextRunDate); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan due rule: %w", err)
		}
		due = append(due, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate due rules: %w", err)
	}

	posted := 0
	for _, r := range due {
		lines, err := loadTemplateLinesTx(ctx, tx.Tx, r.TemplateID)
		if err != nil {
			return posted, err
		}
		rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, r.NextRunDate, RateMarket)
		if err != nil {
			return posted, err
		}
		specLines := make([]JournalLineSpec, 0, len(lines))
		for _, l := range lines {
			specLines = append(specLines, JournalLineSpec{
				AccountID: l.AccountID,
				Debit:     NormalizeDual(l.DebitUSD, l.DebitLBP, rate),
				Credit:    NormalizeDual(l.CreditUSD, l.CreditLBP, rate),
				Memo:      l.Memo,
			})
		}
		memo := fmt.Sprintf("recurring rule %d", r.ID)
		if _, err := postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
			SourceType:   "recurring_journal",
			SourceID:     &r.ID,
			JournalDate:  r.NextRunDate,
			RateType:     RateMarket,
			ExchangeRate: rate,
			Memo:         &memo,
			Lines:        specLines,
		}); err != nil {
			return posted, err
		}

		next := r.Next(r.NextRunDate)
		if _, err := tx.Exec(ctx,
			"UPDATE journal_recurring_rules SET next_run_date = $1 WHERE id = $2",
			next.Format("2006-01-02"), r.ID,
		); err != nil {
			return posted, fmt.Errorf("advance rule %d: %w", r.ID, err)
		}
		posted++
	}

	if err := tx.Commit(ctx); err != nil {
		return posted, fmt.Errorf("commit recurring run: %w", err)
	}
	return posted, nil
}

func loadTemplateLinesTx(ctx context.Context, tx pgx.Tx, templateID int) ([]JournalTemplateLine, error) {
	rows, err := tx.Query(ctx, `
		SELECT account_id, debit_usd, debit_lbp, credit_usd, credit_lbp, memo
		FROM journal_template_lines
		WHERE template_id = $1
		ORDER BY line_no`,
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("load template %d lines: %w", templateID, err)
	}
	defer rows.Close()

	var lines []JournalTemplateLine
	for rows.Next() {
		var l JournalTemplateLine
		if err := rows.Scan(&l.AccountID, &l.DebitUSD, &l.DebitLBP, &l.CreditUSD, &l.CreditLBP, &l.Memo); err != nil {
			return nil, fmt.Errorf("scan template line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetJournal loads a journal with entries.
func (s *GlService) GetJournal(ctx context.Context, sess Session, journalID int) (*GlJournal, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	j := &GlJournal{}
	err = tx.QueryRow(ctx, `
		SELECT id, company_id, journal_no, source_type, source_id, journal_date, rate_type, exchange_rate, memo, created_at
		FROM gl_journals WHERE company_id = $1 AND id = $2`,
		sess.CompanyID, journalID,
	).Scan(&j.ID, &j.CompanyID, &j.JournalNo, &j.SourceType, &j.SourceID,
		&j.JournalDate, &j.RateType, &j.ExchangeRate, &j.Memo, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "journal %d not found", journalID)
		}
		return nil, fmt.Errorf("get journal %d: %w", journalID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, journal_id, account_id, debit_usd, credit_usd, debit_lbp, credit_lbp, memo, warehouse_id
		FROM gl_entries WHERE journal_id = $1 ORDER BY id`,
		j.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("get journal entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e GlEntry
		if err := rows.Scan(&e.ID, &e.JournalID, &e.AccountID, &e.DebitUSD, &e.CreditUSD,
			&e.DebitLBP, &e.CreditLBP, &e.Memo, &e.WarehouseID); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		j.Entries = append(j.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit journal read: %w", err)
	}
	return j, nil
}
