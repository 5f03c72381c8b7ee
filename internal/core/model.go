package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Company struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type RateType string

const (
	RateOfficial RateType = "official"
	RateMarket   RateType = "market"
	RateInternal RateType = "internal"
)

type ExchangeRate struct {
	ID        int             `json:"id"`
	CompanyID int             `json:"company_id"`
	RateDate  time.Time       `json:"rate_date"`
	RateType  RateType        `json:"rate_type"`
	USDToLBP  decimal.Decimal `json:"usd_to_lbp"`
}

// Account roles are global codes mapped per company to a postable COA account.
const (
	RoleAR             = "AR"
	RoleAP             = "AP"
	RoleInventory      = "INVENTORY"
	RoleGRNI           = "GRNI"
	RoleCOGS           = "COGS"
	RoleShrinkage      = "SHRINKAGE"
	RoleInvAdjustment  = "INV_ADJ"
	RoleRounding       = "ROUNDING"
	RoleOpeningBalance = "OPENING_BALANCE"
	RoleVATRecoverable = "VAT_RECOVERABLE"
	RolePurchaseRebate = "PURCHASE_REBATES"
	RolePurchasesExp   = "PURCHASES_EXPENSE"
)

type AccountRole struct {
	ID           int     `json:"id"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	FallbackRole *string `json:"fallback_role,omitempty"`
}

type CoaAccount struct {
	ID          int    `json:"id"`
	CompanyID   int    `json:"company_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	AccountType string `json:"account_type"`
	IsPostable  bool   `json:"is_postable"`
}

type PeriodLock struct {
	ID        int       `json:"id"`
	CompanyID int       `json:"company_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Locked    bool      `json:"locked"`
}

type Item struct {
	ID                      int              `json:"id"`
	CompanyID               int              `json:"company_id"`
	SKU                     string           `json:"sku"`
	Name                    string           `json:"name"`
	UnitOfMeasure           string           `json:"unit_of_measure"`
	TrackBatches            bool             `json:"track_batches"`
	TrackExpiry             bool             `json:"track_expiry"`
	DefaultShelfLifeDays    *int             `json:"default_shelf_life_days,omitempty"`
	AllowNegativeStock      bool             `json:"allow_negative_stock"`
	MinShelfLifeDaysForSale int              `json:"min_shelf_life_days_for_sale"`
	ReorderPoint            *decimal.Decimal `json:"reorder_point,omitempty"`
	ReorderQty              *decimal.Decimal `json:"reorder_qty,omitempty"`
	TaxCodeID               *int             `json:"tax_code_id,omitempty"`
	IsActive                bool             `json:"is_active"`
}

type BatchStatus string

const (
	BatchAvailable  BatchStatus = "available"
	BatchQuarantine BatchStatus = "quarantine"
	BatchExpired    BatchStatus = "expired"
)

type Batch struct {
	ID                 int         `json:"id"`
	CompanyID          int         `json:"company_id"`
	ItemID             int         `json:"item_id"`
	BatchNo            *string     `json:"batch_no,omitempty"`
	ExpiryDate         *time.Time  `json:"expiry_date,omitempty"`
	Status             BatchStatus `json:"status"`
	HoldReason         *string     `json:"hold_reason,omitempty"`
	ReceivedAt         *time.Time  `json:"received_at,omitempty"`
	ReceivedSourceType *string     `json:"received_source_type,omitempty"`
	ReceivedSourceID   *int        `json:"received_source_id,omitempty"`
	ReceivedSupplierID *int        `json:"received_supplier_id,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

type Warehouse struct {
	ID        int    `json:"id"`
	CompanyID int    `json:"company_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
}

type WarehouseLocation struct {
	ID          int    `json:"id"`
	WarehouseID int    `json:"warehouse_id"`
	Code        string `json:"code"`
	IsActive    bool   `json:"is_active"`
}

// StockMove is append-only. Exactly one of QtyIn/QtyOut is positive; the
// mutator rejects both-zero moves.
type StockMove struct {
	ID          int             `json:"id"`
	CompanyID   int             `json:"company_id"`
	ItemID      int             `json:"item_id"`
	WarehouseID int             `json:"warehouse_id"`
	LocationID  *int            `json:"location_id,omitempty"`
	BatchID     *int            `json:"batch_id,omitempty"`
	QtyIn       decimal.Decimal `json:"qty_in"`
	QtyOut      decimal.Decimal `json:"qty_out"`
	UnitCostUSD decimal.Decimal `json:"unit_cost_usd"`
	UnitCostLBP decimal.Decimal `json:"unit_cost_lbp"`
	MoveDate    time.Time       `json:"move_date"`
	SourceType  string          `json:"source_type"`
	SourceID    *int            `json:"source_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type BatchCostLayer struct {
	ID                 int             `json:"id"`
	CompanyID          int             `json:"company_id"`
	BatchID            int             `json:"batch_id"`
	WarehouseID        int             `json:"warehouse_id"`
	LocationID         *int            `json:"location_id,omitempty"`
	SourceType         string          `json:"source_type"`
	SourceID           int             `json:"source_id"`
	SourceLineID       int             `json:"source_line_id"`
	Qty                decimal.Decimal `json:"qty"`
	UnitCostUSD        decimal.Decimal `json:"unit_cost_usd"`
	UnitCostLBP        decimal.Decimal `json:"unit_cost_lbp"`
	LandedCostTotalUSD decimal.Decimal `json:"landed_cost_total_usd"`
	LandedCostTotalLBP decimal.Decimal `json:"landed_cost_total_lbp"`
	RebateTotalUSD     decimal.Decimal `json:"rebate_total_usd"`
	RebateTotalLBP     decimal.Decimal `json:"rebate_total_lbp"`
}

// ItemWarehouseCost is the moving-average state per (item, warehouse),
// maintained after every stock move.
type ItemWarehouseCost struct {
	ItemID      int             `json:"item_id"`
	WarehouseID int             `json:"warehouse_id"`
	OnHandQty   decimal.Decimal `json:"on_hand_qty"`
	AvgCostUSD  decimal.Decimal `json:"avg_cost_usd"`
	AvgCostLBP  decimal.Decimal `json:"avg_cost_lbp"`
}

type GlJournal struct {
	ID           int             `json:"id"`
	CompanyID    int             `json:"company_id"`
	JournalNo    string          `json:"journal_no"`
	SourceType   string          `json:"source_type"`
	SourceID     *int            `json:"source_id,omitempty"`
	JournalDate  time.Time       `json:"journal_date"`
	RateType     RateType        `json:"rate_type"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Memo         *string         `json:"memo,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Entries      []GlEntry       `json:"entries,omitempty"`
}

type GlEntry struct {
	ID          int             `json:"id"`
	JournalID   int             `json:"journal_id"`
	AccountID   int             `json:"account_id"`
	DebitUSD    decimal.Decimal `json:"debit_usd"`
	CreditUSD   decimal.Decimal `json:"credit_usd"`
	DebitLBP    decimal.Decimal `json:"debit_lbp"`
	CreditLBP   decimal.Decimal `json:"credit_lbp"`
	Memo        *string         `json:"memo,omitempty"`
	WarehouseID *int            `json:"warehouse_id,omitempty"`
}

type TaxLine struct {
	ID         int             `json:"id"`
	CompanyID  int             `json:"company_id"`
	SourceType string          `json:"source_type"`
	SourceID   int             `json:"source_id"`
	TaxCodeID  int             `json:"tax_code_id"`
	BaseUSD    decimal.Decimal `json:"base_usd"`
	BaseLBP    decimal.Decimal `json:"base_lbp"`
	TaxUSD     decimal.Decimal `json:"tax_usd"`
	TaxLBP     decimal.Decimal `json:"tax_lbp"`
	TaxDate    time.Time       `json:"tax_date"`
}

type TaxCode struct {
	ID        int             `json:"id"`
	CompanyID int             `json:"company_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	IsActive  bool            `json:"is_active"`
}

type Supplier struct {
	ID               int       `json:"id"`
	CompanyID        int       `json:"company_id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	PaymentTermsDays int       `json:"payment_terms_days"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

type AuditEntry struct {
	CompanyID  int            `json:"company_id"`
	UserID     *int           `json:"user_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   int            `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
}
