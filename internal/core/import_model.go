package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractedInvoice is the structured result of running supplier-invoice
// extraction over an uploaded document. All monetary fields are decimal
// strings in the schema handed to the extractor; they are parsed before use.
type ExtractedInvoice struct {
	SupplierName string                 `json:"supplier_name"`
	SupplierRef  string                 `json:"supplier_ref"`
	InvoiceDate  string                 `json:"invoice_date"` // YYYY-MM-DD, may be empty
	Currency     string                 `json:"currency"`     // "USD" or "LBP"
	Lines        []ExtractedInvoiceLine `json:"lines"`
}

type ExtractedInvoiceLine struct {
	ItemCode    string `json:"item_code"`
	ItemName    string `json:"item_name"`
	Qty         string `json:"qty"`
	UnitCostUSD string `json:"unit_cost_usd"`
	UnitCostLBP string `json:"unit_cost_lbp"`
}

type ImportLineStatus string

const (
	ImportLinePending  ImportLineStatus = "pending"
	ImportLineResolved ImportLineStatus = "resolved"
	ImportLineSkipped  ImportLineStatus = "skipped"
)

// ImportLine is one extracted line awaiting human review.
type ImportLine struct {
	ID                  int              `json:"id"`
	InvoiceID           int              `json:"invoice_id"`
	LineNo              int              `json:"line_no"`
	SupplierItemCode    *string          `json:"supplier_item_code,omitempty"`
	SupplierItemName    *string          `json:"supplier_item_name,omitempty"`
	Qty                 decimal.Decimal  `json:"qty"`
	UnitCostUSD         decimal.Decimal  `json:"unit_cost_usd"`
	UnitCostLBP         decimal.Decimal  `json:"unit_cost_lbp"`
	SuggestedItemID     *int             `json:"suggested_item_id,omitempty"`
	SuggestedConfidence *decimal.Decimal `json:"suggested_confidence,omitempty"`
	ResolvedItemID      *int             `json:"resolved_item_id,omitempty"`
	Status              ImportLineStatus `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
}

// DocumentAttachment is an uploaded file tied to a document.
type DocumentAttachment struct {
	ID         int       `json:"id"`
	CompanyID  int       `json:"company_id"`
	EntityType string    `json:"entity_type"`
	EntityID   int       `json:"entity_id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int       `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}
