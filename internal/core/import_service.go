package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const defaultAttachmentMaxBytes = 5 << 20 // 5 MiB

// InvoiceExtractor is the external structured-extraction capability the
// import pipeline calls. Implementations live in internal/ai.
type InvoiceExtractor interface {
	ExtractInvoice(ctx context.Context, content []byte, filename string) (*ExtractedInvoice, error)
}

// ImportService runs the supplier-invoice import pipeline: upload, background
// extraction, human review, and apply. Extraction failures are persisted as
// import_status=failed rather than raised to the uploader.
type ImportService struct {
	pool      *pgxpool.Pool
	extractor InvoiceExtractor
	maxBytes  int
}

func NewImportService(pool *pgxpool.Pool, extractor InvoiceExtractor, maxBytes int) *ImportService {
	if maxBytes <= 0 {
		maxBytes = defaultAttachmentMaxBytes
	}
	return &ImportService{pool: pool, extractor: extractor, maxBytes: maxBytes}
}

type UploadRequest struct {
	Filename    string
	MimeType    string
	Content     []byte
	SkipExtract bool
	Sync        bool // extract inline instead of queueing
}

type UploadResult struct {
	InvoiceID    int
	AttachmentID int
	Queued       bool
	AiExtracted  bool
}

// Upload creates a supplier-less draft invoice, stores the file, and queues
// it for extraction (or skips / extracts inline on request).
func (s *ImportService) Upload(ctx context.Context, sess Session, req UploadRequest) (*UploadResult, error) {
	if len(req.Content) == 0 {
		return nil, E(KindValidation, "uploaded file is empty")
	}
	if len(req.Content) > s.maxBytes {
		return nil, E(KindValidation, "file %s exceeds the %d byte attachment limit", req.Filename, s.maxBytes)
	}

	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	status := ImportPending
	if req.SkipExtract {
		status = ImportSkipped
	}

	var invoiceID int
	err = tx.QueryRow(ctx, `
		INSERT INTO supplier_invoices (company_id, status, doc_subtype, invoice_date, rate_type, exchange_rate, import_status)
		VALUES ($1, 'draft', 'standard', CURRENT_DATE, 'market', 0, $2)
		RETURNING id`,
		sess.CompanyID, status,
	).Scan(&invoiceID)
	if err != nil {
		return nil, fmt.Errorf("create import draft: %w", err)
	}

	var attachmentID int
	err = tx.QueryRow(ctx, `
		INSERT INTO document_attachments (company_id, entity_type, entity_id, filename, mime_type, size_bytes, content)
		VALUES ($1, 'supplier_invoice', $2, $3, $4, $5, $6)
		RETURNING id`,
		sess.CompanyID, invoiceID, req.Filename, req.MimeType, len(req.Content), req.Content,
	).Scan(&attachmentID)
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "invoice_import.upload", EntityType: "supplier_invoice", EntityID: invoiceID,
		Details: map[string]any{"filename": req.Filename, "size": len(req.Content), "skip_extract": req.SkipExtract},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upload: %w", err)
	}

	res := &UploadResult{InvoiceID: invoiceID, AttachmentID: attachmentID, Queued: status == ImportPending}
	if req.Sync && status == ImportPending {
		if err := s.Extract(ctx, sess, invoiceID); err != nil {
			return nil, err
		}
		res.Queued = false
		res.AiExtracted = true
	}
	return res, nil
}

// Extract runs extraction for one pending invoice: pending → processing →
// pending_review, or failed when the upstream call or parsing breaks. Called
// by the background worker and by sync uploads.
func (s *ImportService) Extract(ctx context.Context, sess Session, invoiceID int) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return err
	}
	if si.ImportStatus != ImportPending {
		return E(KindPrecondition, "invoice %d import is %s, expected pending", invoiceID, si.ImportStatus)
	}

	var filename string
	var content []byte
	err = tx.QueryRow(ctx, `
		SELECT filename, content FROM document_attachments
		WHERE company_id = $1 AND entity_type = 'supplier_invoice' AND entity_id = $2
		ORDER BY id DESC LIMIT 1`,
		sess.CompanyID, invoiceID,
	).Scan(&filename, &content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return E(KindNotFound, "invoice %d has no attachment", invoiceID)
		}
		return fmt.Errorf("load attachment: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE supplier_invoices SET import_status = 'processing' WHERE id = $1", invoiceID,
	); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit processing mark: %w", err)
	}

	extracted, err := s.extractor.ExtractInvoice(ctx, content, filename)
	if err != nil {
		return s.markFailed(ctx, sess, invoiceID, err)
	}
	if err := s.writeImportLines(ctx, sess, invoiceID, extracted); err != nil {
		return s.markFailed(ctx, sess, invoiceID, err)
	}
	return nil
}

// markFailed persists an upstream failure on the draft. The original error is
// recorded in the audit trail, not surfaced to the uploader.
func (s *ImportService) markFailed(ctx context.Context, sess Session, invoiceID int, cause error) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"UPDATE supplier_invoices SET import_status = 'failed' WHERE id = $1", invoiceID,
	); err != nil {
		return fmt.Errorf("mark import failed: %w", err)
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "invoice_import.failed", EntityType: "supplier_invoice", EntityID: invoiceID,
		Details: map[string]any{"error": cause.Error()},
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import failure: %w", err)
	}
	return EWrap(KindUpstreamFailure, cause, "extraction failed for invoice %d", invoiceID)
}

func (s *ImportService) writeImportLines(ctx context.Context, sess Session, invoiceID int, extracted *ExtractedInvoice) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return err
	}
	if si.ImportStatus != ImportProcessing {
		return E(KindPrecondition, "invoice %d import is %s, expected processing", invoiceID, si.ImportStatus)
	}

	if extracted.SupplierRef != "" {
		if _, err := tx.Exec(ctx,
			"UPDATE supplier_invoices SET supplier_ref = $1 WHERE id = $2",
			extracted.SupplierRef, invoiceID,
		); err != nil {
			return fmt.Errorf("stamp supplier ref: %w", err)
		}
	}

	for i, el := range extracted.Lines {
		qty, err := decimal.NewFromString(strings.TrimSpace(el.Qty))
		if err != nil || qty.Sign() <= 0 {
			continue
		}
		costUSD := parseDecimalOrZero(el.UnitCostUSD)
		costLBP := parseDecimalOrZero(el.UnitCostLBP)

		itemID, confidence, err := suggestItemTx(ctx, tx.Tx, sess.CompanyID, el.ItemCode, el.ItemName)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO supplier_invoice_import_lines
			       (invoice_id, line_no, supplier_item_code, supplier_item_name, qty,
			        unit_cost_usd, unit_cost_lbp, suggested_item_id, suggested_confidence, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')`,
			invoiceID, i+1, nilIfEmpty(el.ItemCode), nilIfEmpty(el.ItemName), qty,
			costUSD, costLBP, itemID, confidence,
		); err != nil {
			return fmt.Errorf("insert import line %d: %w", i+1, err)
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE supplier_invoices SET import_status = 'pending_review' WHERE id = $1", invoiceID,
	); err != nil {
		return fmt.Errorf("mark pending review: %w", err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "invoice_import.extracted", EntityType: "supplier_invoice", EntityID: invoiceID,
		Details: map[string]any{"lines": len(extracted.Lines), "supplier_name": extracted.SupplierName},
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit extraction: %w", err)
	}
	return nil
}

// suggestItemTx fuzzy-matches an extracted line against the company's items:
// supplier alias first, then exact SKU, then a name substring.
func suggestItemTx(ctx context.Context, tx pgx.Tx, companyID int, code, name string) (*int, *decimal.Decimal, error) {
	code = normalizeAlias(code)
	name = strings.TrimSpace(name)

	confidence := func(c string) *decimal.Decimal {
		d, _ := decimal.NewFromString(c)
		return &d
	}

	if code != "" {
		var itemID int
		err := tx.QueryRow(ctx, `
			SELECT item_id FROM supplier_item_aliases
			WHERE company_id = $1 AND normalized_code = $2
			ORDER BY id DESC LIMIT 1`,
			companyID, code,
		).Scan(&itemID)
		if err == nil {
			return &itemID, confidence("1.0"), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("alias lookup: %w", err)
		}

		err = tx.QueryRow(ctx,
			"SELECT id FROM items WHERE company_id = $1 AND LOWER(sku) = $2 AND is_active = true",
			companyID, code,
		).Scan(&itemID)
		if err == nil {
			return &itemID, confidence("0.9"), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("sku lookup: %w", err)
		}
	}

	if name != "" {
		var itemID int
		err := tx.QueryRow(ctx, `
			SELECT id FROM items
			WHERE company_id = $1 AND is_active = true AND name ILIKE '%' || $2 || '%'
			ORDER BY LENGTH(name) ASC LIMIT 1`,
			companyID, name,
		).Scan(&itemID)
		if err == nil {
			return &itemID, confidence("0.6"), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("name lookup: %w", err)
		}
	}

	return nil, nil, nil
}

// ResolveLine sets or clears the reviewed item for one import line.
func (s *ImportService) ResolveLine(ctx context.Context, sess Session, lineID int, itemID *int) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status := ImportLinePending
	if itemID != nil {
		if _, err := loadItemTx(ctx, tx.Tx, sess.CompanyID, *itemID); err != nil {
			return err
		}
		status = ImportLineResolved
	}
	tag, err := tx.Exec(ctx, `
		UPDATE supplier_invoice_import_lines l
		SET resolved_item_id = $1, status = $2
		FROM supplier_invoices si
		WHERE l.id = $3 AND si.id = l.invoice_id AND si.company_id = $4`,
		itemID, status, lineID, sess.CompanyID,
	)
	if err != nil {
		return fmt.Errorf("resolve import line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return E(KindNotFound, "import line %d not found", lineID)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit line resolution: %w", err)
	}
	return nil
}

// SkipLine excludes one import line from apply.
func (s *ImportService) SkipLine(ctx context.Context, sess Session, lineID int) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE supplier_invoice_import_lines l
		SET status = 'skipped'
		FROM supplier_invoices si
		WHERE l.id = $1 AND si.id = l.invoice_id AND si.company_id = $2`,
		lineID, sess.CompanyID,
	)
	if err != nil {
		return fmt.Errorf("skip import line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return E(KindNotFound, "import line %d not found", lineID)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit line skip: %w", err)
	}
	return nil
}

// MarkReviewed resolves every still-pending line that has a suggestion and
// skips the rest, closing the review in one step.
func (s *ImportService) MarkReviewed(ctx context.Context, sess Session, invoiceID int) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE supplier_invoice_import_lines
		SET resolved_item_id = suggested_item_id, status = 'resolved'
		WHERE invoice_id = $1 AND status = 'pending' AND suggested_item_id IS NOT NULL`,
		invoiceID,
	); err != nil {
		return fmt.Errorf("resolve suggested lines: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE supplier_invoice_import_lines
		SET status = 'skipped'
		WHERE invoice_id = $1 AND status = 'pending'`,
		invoiceID,
	); err != nil {
		return fmt.Errorf("skip unresolved lines: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit review: %w", err)
	}
	return nil
}

type ApplyImportRequest struct {
	InvoiceID  int
	SupplierID int
	TaxCodeID  *int
}

// Apply turns the reviewed import into real invoice lines: every non-skipped
// line becomes an invoice line at the matched item (base UOM, factor 1), the
// supplier's aliases and last costs are learned, and the import closes as
// filled.
func (s *ImportService) Apply(ctx context.Context, sess Session, req ApplyImportRequest) (*SupplierInvoice, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if si.Status != DocDraft {
		return nil, E(KindPrecondition, "supplier invoice %d is %s, expected draft", si.ID, si.Status)
	}
	if si.ImportStatus != ImportPendingReview {
		return nil, E(KindPrecondition, "invoice %d import is %s, expected pending_review", si.ID, si.ImportStatus)
	}
	if _, err := loadSupplierTx(ctx, tx.Tx, sess.CompanyID, req.SupplierID); err != nil {
		return nil, err
	}
	if req.TaxCodeID != nil {
		var active bool
		err := tx.QueryRow(ctx,
			"SELECT is_active FROM tax_codes WHERE company_id = $1 AND id = $2",
			sess.CompanyID, *req.TaxCodeID,
		).Scan(&active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, E(KindNotFound, "tax code %d not found", *req.TaxCodeID)
			}
			return nil, fmt.Errorf("load tax code %d: %w", *req.TaxCodeID, err)
		}
		if !active {
			return nil, E(KindValidation, "tax code %d is inactive", *req.TaxCodeID)
		}
	}

	var pending int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM supplier_invoice_import_lines WHERE invoice_id = $1 AND status = 'pending'",
		si.ID,
	).Scan(&pending); err != nil {
		return nil, fmt.Errorf("count pending lines: %w", err)
	}
	if pending > 0 {
		return nil, E(KindPrecondition, "invoice %d has %d unreviewed import line(s)", si.ID, pending)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, supplier_item_code, supplier_item_name, qty, unit_cost_usd, unit_cost_lbp, resolved_item_id
		FROM supplier_invoice_import_lines
		WHERE invoice_id = $1 AND status = 'resolved'
		ORDER BY line_no`,
		si.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("load resolved lines: %w", err)
	}
	type resolved struct {
		id         int
		code, name *string
		qty        decimal.Decimal
		usd, lbp   decimal.Decimal
		itemID     *int
	}
	var lines []resolved
	for rows.Next() {
		var r resolved
		if err := rows.Scan(&r.id, &r.code, &r.name, &r.qty, &r.usd, &r.lbp, &r.itemID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan resolved line: %w", err)
		}
		lines = append(lines, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolved lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, E(KindValidation, "invoice %d has no resolved import lines", si.ID)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM supplier_invoice_lines WHERE invoice_id = $1", si.ID); err != nil {
		return nil, fmt.Errorf("clear invoice lines: %w", err)
	}

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, si.InvoiceDate, RateMarket)
	if err != nil {
		return nil, err
	}

	lineNo := 0
	for _, r := range lines {
		if r.itemID == nil {
			return nil, E(KindValidation, "resolved import line %d has no item", r.id)
		}
		item, err := loadItemTx(ctx, tx.Tx, sess.CompanyID, *r.itemID)
		if err != nil {
			return nil, err
		}
		cost := NormalizeDual(r.usd, r.lbp, rate)

		lineNo++
		if _, err := tx.Exec(ctx, `
			INSERT INTO supplier_invoice_lines (invoice_id, line_no, item_id, qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp)
			VALUES ($1, $2, $3, $4, $4, $5, 1, $6, $7)`,
			si.ID, lineNo, item.ID, r.qty, item.UnitOfMeasure, cost.USD, cost.LBP,
		); err != nil {
			return nil, fmt.Errorf("insert applied line %d: %w", lineNo, err)
		}

		// Learn supplier vocabulary and last costs for next time.
		if r.code != nil && normalizeAlias(*r.code) != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO supplier_item_aliases (company_id, supplier_id, item_id, normalized_code, normalized_name)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (company_id, supplier_id, normalized_code)
				DO UPDATE SET item_id = EXCLUDED.item_id, normalized_name = EXCLUDED.normalized_name`,
				sess.CompanyID, req.SupplierID, item.ID, normalizeAlias(*r.code), normalizeAlias(deref(r.name)),
			); err != nil {
				return nil, fmt.Errorf("learn alias: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO item_suppliers (company_id, item_id, supplier_id, last_cost_usd, last_cost_lbp, last_purchased_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (company_id, item_id, supplier_id)
			DO UPDATE SET last_cost_usd = EXCLUDED.last_cost_usd, last_cost_lbp = EXCLUDED.last_cost_lbp, last_purchased_at = NOW()`,
			sess.CompanyID, item.ID, req.SupplierID, cost.USD, cost.LBP,
		); err != nil {
			return nil, fmt.Errorf("learn last cost: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE supplier_invoices
		SET supplier_id = $1, tax_code_id = $2, rate_type = 'market', exchange_rate = $3, import_status = 'filled'
		WHERE id = $4`,
		req.SupplierID, req.TaxCodeID, rate, si.ID,
	); err != nil {
		return nil, fmt.Errorf("fill invoice %d: %w", si.ID, err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "invoice_import.apply", EntityType: "supplier_invoice", EntityID: si.ID,
		Details: map[string]any{"supplier_id": req.SupplierID, "lines": lineNo},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit import apply: %w", err)
	}

	si.SupplierID = &req.SupplierID
	si.ImportStatus = ImportFilled
	return si, nil
}

// ListPending returns invoice ids queued for extraction, oldest first. Used
// by the background drain.
func (s *ImportService) ListPending(ctx context.Context, sess Session, limit int) ([]int, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM supplier_invoices
		WHERE company_id = $1 AND import_status = 'pending'
		ORDER BY id
		LIMIT $2`,
		sess.CompanyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending imports: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending import: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit pending list: %w", err)
	}
	return ids, nil
}

func normalizeAlias(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func nilIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
