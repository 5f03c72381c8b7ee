package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type DocStatus string

const (
	DocDraft    DocStatus = "draft"
	DocPosted   DocStatus = "posted"
	DocCanceled DocStatus = "canceled"
)

type PurchaseOrder struct {
	ID           int                 `json:"id"`
	CompanyID    int                 `json:"company_id"`
	SupplierID   int                 `json:"supplier_id"`
	OrderNo      *string             `json:"order_no,omitempty"`
	Status       DocStatus           `json:"status"`
	OrderDate    time.Time           `json:"order_date"`
	RateType     RateType            `json:"rate_type"`
	ExchangeRate decimal.Decimal     `json:"exchange_rate"`
	Notes        *string             `json:"notes,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	PostedAt     *time.Time          `json:"posted_at,omitempty"`
	Lines        []PurchaseOrderLine `json:"lines,omitempty"`
}

type PurchaseOrderLine struct {
	ID          int             `json:"id"`
	OrderID     int             `json:"order_id"`
	LineNo      int             `json:"line_no"`
	ItemID      int             `json:"item_id"`
	QtyBase     decimal.Decimal `json:"qty_base"`
	QtyEntered  decimal.Decimal `json:"qty_entered"`
	UOM         string          `json:"uom"`
	QtyFactor   decimal.Decimal `json:"qty_factor"`
	UnitCostUSD decimal.Decimal `json:"unit_cost_usd"`
	UnitCostLBP decimal.Decimal `json:"unit_cost_lbp"`
}

type GoodsReceipt struct {
	ID              int                `json:"id"`
	CompanyID       int                `json:"company_id"`
	SupplierID      int                `json:"supplier_id"`
	PurchaseOrderID *int               `json:"purchase_order_id,omitempty"`
	WarehouseID     int                `json:"warehouse_id"`
	ReceiptNo       *string            `json:"receipt_no,omitempty"`
	Status          DocStatus          `json:"status"`
	ReceiptDate     time.Time          `json:"receipt_date"`
	RateType        RateType           `json:"rate_type"`
	ExchangeRate    decimal.Decimal    `json:"exchange_rate"`
	CreatedAt       time.Time          `json:"created_at"`
	PostedAt        *time.Time         `json:"posted_at,omitempty"`
	Lines           []GoodsReceiptLine `json:"lines,omitempty"`
}

type GoodsReceiptLine struct {
	ID                  int             `json:"id"`
	ReceiptID           int             `json:"receipt_id"`
	LineNo              int             `json:"line_no"`
	ItemID              int             `json:"item_id"`
	PurchaseOrderLineID *int            `json:"purchase_order_line_id,omitempty"`
	LocationID          *int            `json:"location_id,omitempty"`
	BatchID             *int            `json:"batch_id,omitempty"`
	BatchNo             *string         `json:"batch_no,omitempty"`
	ExpiryDate          *time.Time      `json:"expiry_date,omitempty"`
	QtyBase             decimal.Decimal `json:"qty_base"`
	QtyEntered          decimal.Decimal `json:"qty_entered"`
	UOM                 string          `json:"uom"`
	QtyFactor           decimal.Decimal `json:"qty_factor"`
	UnitCostUSD         decimal.Decimal `json:"unit_cost_usd"`
	UnitCostLBP         decimal.Decimal `json:"unit_cost_lbp"`
	LandedCostUSD       decimal.Decimal `json:"landed_cost_usd"`
	LandedCostLBP       decimal.Decimal `json:"landed_cost_lbp"`
	RebateTotalUSD      decimal.Decimal `json:"rebate_total_usd"`
	RebateTotalLBP      decimal.Decimal `json:"rebate_total_lbp"`
}

type InvoiceSubtype string

const (
	InvoiceStandard       InvoiceSubtype = "standard"
	InvoiceOpeningBalance InvoiceSubtype = "opening_balance"
)

type ImportStatus string

const (
	ImportNone          ImportStatus = "none"
	ImportPending       ImportStatus = "pending"
	ImportProcessing    ImportStatus = "processing"
	ImportPendingReview ImportStatus = "pending_review"
	ImportFilled        ImportStatus = "filled"
	ImportSkipped       ImportStatus = "skipped"
	ImportFailed        ImportStatus = "failed"
)

type SupplierInvoice struct {
	ID             int                   `json:"id"`
	CompanyID      int                   `json:"company_id"`
	SupplierID     *int                  `json:"supplier_id,omitempty"`
	GoodsReceiptID *int                  `json:"goods_receipt_id,omitempty"`
	InvoiceNo      *string               `json:"invoice_no,omitempty"`
	SupplierRef    *string               `json:"supplier_ref,omitempty"`
	Status         DocStatus             `json:"status"`
	DocSubtype     InvoiceSubtype        `json:"doc_subtype"`
	InvoiceDate    time.Time             `json:"invoice_date"`
	RateType       RateType              `json:"rate_type"`
	ExchangeRate   decimal.Decimal       `json:"exchange_rate"`
	TaxCodeID      *int                  `json:"tax_code_id,omitempty"`
	IsOnHold       bool                  `json:"is_on_hold"`
	HoldReason     *string               `json:"hold_reason,omitempty"`
	HoldDetails    *HoldDetails          `json:"hold_details,omitempty"`
	ImportStatus   ImportStatus          `json:"import_status"`
	CreatedAt      time.Time             `json:"created_at"`
	PostedAt       *time.Time            `json:"posted_at,omitempty"`
	Lines          []SupplierInvoiceLine `json:"lines,omitempty"`
}

type SupplierInvoiceLine struct {
	ID                 int             `json:"id"`
	InvoiceID          int             `json:"invoice_id"`
	LineNo             int             `json:"line_no"`
	ItemID             int             `json:"item_id"`
	GoodsReceiptLineID *int            `json:"goods_receipt_line_id,omitempty"`
	QtyBase            decimal.Decimal `json:"qty_base"`
	QtyEntered         decimal.Decimal `json:"qty_entered"`
	UOM                string          `json:"uom"`
	QtyFactor          decimal.Decimal `json:"qty_factor"`
	UnitCostUSD        decimal.Decimal `json:"unit_cost_usd"`
	UnitCostLBP        decimal.Decimal `json:"unit_cost_lbp"`
}

// HoldDetails is the structured payload persisted when a 3-way-match check
// puts an invoice on hold. Flags is a tagged union by Kind; Extra preserves
// fields added by newer writers so older readers never fail to decode.
type HoldDetails struct {
	Flags     []HoldFlag     `json:"flags"`
	CheckedAt time.Time      `json:"checked_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type HoldFlagKind string

const (
	FlagQtyExceedsReceived HoldFlagKind = "qty_exceeds_received"
	FlagUnitCostVariance   HoldFlagKind = "unit_cost_variance"
	FlagTaxVariance        HoldFlagKind = "tax_variance"
)

type HoldFlag struct {
	Kind          HoldFlagKind     `json:"kind"`
	InvoiceLineID *int             `json:"invoice_line_id,omitempty"`
	ReceiptLineID *int             `json:"receipt_line_id,omitempty"`
	Expected      *decimal.Decimal `json:"expected,omitempty"`
	Actual        *decimal.Decimal `json:"actual,omitempty"`
	ExpectedLBP   *decimal.Decimal `json:"expected_lbp,omitempty"`
	ActualLBP     *decimal.Decimal `json:"actual_lbp,omitempty"`
	Pct           *decimal.Decimal `json:"pct,omitempty"`
	Message       string           `json:"message,omitempty"`
	Extra         map[string]any   `json:"extra,omitempty"`
}

type SupplierPayment struct {
	ID              int             `json:"id"`
	CompanyID       int             `json:"company_id"`
	InvoiceID       int             `json:"invoice_id"`
	PaymentMethodID int             `json:"payment_method_id"`
	AmountUSD       decimal.Decimal `json:"amount_usd"`
	AmountLBP       decimal.Decimal `json:"amount_lbp"`
	PaymentDate     time.Time       `json:"payment_date"`
	JournalID       *int            `json:"journal_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type CreditKind string

const (
	CreditExpense CreditKind = "expense"
	CreditReceipt CreditKind = "receipt"
)

type SupplierCreditNote struct {
	ID             int             `json:"id"`
	CompanyID      int             `json:"company_id"`
	SupplierID     int             `json:"supplier_id"`
	Kind           CreditKind      `json:"kind"`
	GoodsReceiptID *int            `json:"goods_receipt_id,omitempty"`
	CreditNo       *string         `json:"credit_no,omitempty"`
	Status         DocStatus       `json:"status"`
	CreditDate     time.Time       `json:"credit_date"`
	RateType       RateType        `json:"rate_type"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	TotalUSD       decimal.Decimal `json:"total_usd"`
	TotalLBP       decimal.Decimal `json:"total_lbp"`
	Memo           *string         `json:"memo,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PostedAt       *time.Time      `json:"posted_at,omitempty"`
}

// CreditAllocation distributes a receipt-linked credit across receipt lines,
// split into the inventory (still on hand) and COGS (already sold) portions.
type CreditAllocation struct {
	ID                 int             `json:"id"`
	CreditNoteID       int             `json:"credit_note_id"`
	GoodsReceiptLineID int             `json:"goods_receipt_line_id"`
	BatchID            *int            `json:"batch_id,omitempty"`
	AmountUSD          decimal.Decimal `json:"amount_usd"`
	AmountLBP          decimal.Decimal `json:"amount_lbp"`
	InventoryUSD       decimal.Decimal `json:"inventory_usd"`
	InventoryLBP       decimal.Decimal `json:"inventory_lbp"`
	CogsUSD            decimal.Decimal `json:"cogs_usd"`
	CogsLBP            decimal.Decimal `json:"cogs_lbp"`
}

type CreditApplication struct {
	ID           int             `json:"id"`
	CreditNoteID int             `json:"credit_note_id"`
	InvoiceID    int             `json:"invoice_id"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	AmountLBP    decimal.Decimal `json:"amount_lbp"`
	AppliedAt    time.Time       `json:"applied_at"`
}

// Outbox event types emitted by purchasing transitions.
const (
	EventPurchaseOrdered  = "purchase.ordered"
	EventPurchaseReceived = "purchase.received"
	EventPurchaseInvoiced = "purchase.invoiced"
)
