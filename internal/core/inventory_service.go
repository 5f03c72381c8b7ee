package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InventoryService owns the non-document stock mutations: adjustments,
// transfers, cycle counts, expiry write-offs, and the opening-stock import.
// Every operation runs in one tenant transaction, asserts the period is open
// for the effective move date, and emits moves before the journal.
type InventoryService struct {
	pool *pgxpool.Pool
}

func NewInventoryService(pool *pgxpool.Pool) *InventoryService {
	return &InventoryService{pool: pool}
}

// assertLocationInWarehouseTx checks that a location exists, is active, and
// belongs to the given warehouse.
func assertLocationInWarehouseTx(ctx context.Context, tx pgx.Tx, locationID, warehouseID int) error {
	var owner int
	var active bool
	err := tx.QueryRow(ctx,
		"SELECT warehouse_id, is_active FROM warehouse_locations WHERE id = $1",
		locationID,
	).Scan(&owner, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return E(KindNotFound, "location %d not found", locationID)
		}
		return fmt.Errorf("check location %d: %w", locationID, err)
	}
	if owner != warehouseID {
		return E(KindValidation, "location %d belongs to warehouse %d, not %d", locationID, owner, warehouseID)
	}
	if !active {
		return E(KindValidation, "location %d is inactive", locationID)
	}
	return nil
}

type AdjustRequest struct {
	ItemID      int
	WarehouseID int
	LocationID  *int
	Qty         decimal.Decimal // positive = inbound, negative = outbound
	BatchNo     *string
	ExpiryDate  *time.Time
	UnitCost    *Dual // inbound only; defaults to the current moving average
	MoveDate    time.Time
	Reason      string
}

type AdjustResult struct {
	Moves   []StockMove
	Journal *GlJournal
}

// Adjust posts a signed stock adjustment. Inbound lands at the given (or
// current average) cost against INV_ADJ; outbound allocates FEFO and relieves
// at average cost.
func (s *InventoryService) Adjust(ctx context.Context, sess Session, req AdjustRequest) (*AdjustResult, error) {
	if req.Qty.IsZero() {
		return nil, E(KindValidation, "adjustment qty must be non-zero")
	}
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, req.MoveDate); err != nil {
		return nil, err
	}
	item, err := loadItemTx(ctx, tx.Tx, sess.CompanyID, req.ItemID)
	if err != nil {
		return nil, err
	}
	if req.LocationID != nil {
		if err := assertLocationInWarehouseTx(ctx, tx.Tx, *req.LocationID, req.WarehouseID); err != nil {
			return nil, err
		}
	}

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, req.MoveDate, RateMarket)
	if err != nil {
		return nil, err
	}

	res := &AdjustResult{}
	var value Dual
	if req.Qty.Sign() > 0 {
		cost := req.UnitCost
		if cost == nil {
			iwc, err := itemWarehouseCostTx(ctx, tx.Tx, sess.CompanyID, req.ItemID, req.WarehouseID)
			if err != nil {
				return nil, err
			}
			cost = &Dual{USD: iwc.AvgCostUSD, LBP: iwc.AvgCostLBP}
		}
		unit := NormalizeDual(cost.USD, cost.LBP, rate)

		batch, err := getOrCreateBatchTx(ctx, tx.Tx, sess.CompanyID, *item, req.BatchNo, req.ExpiryDate, nil)
		if err != nil {
			return nil, err
		}
		var batchID *int
		if batch != nil {
			batchID = &batch.ID
		}
		move, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, StockMoveSpec{
			ItemID: req.ItemID, WarehouseID: req.WarehouseID, LocationID: req.LocationID,
			BatchID: batchID, QtyIn: req.Qty, UnitCost: unit,
			MoveDate: req.MoveDate, SourceType: "adjustment",
		})
		if err != nil {
			return nil, err
		}
		res.Moves = append(res.Moves, *move)
		value = unit.MulQty(req.Qty)
	} else {
		qty := req.Qty.Neg()
		iwc, err := itemWarehouseCostTx(ctx, tx.Tx, sess.CompanyID, req.ItemID, req.WarehouseID)
		if err != nil {
			return nil, err
		}
		unit := Dual{USD: iwc.AvgCostUSD, LBP: iwc.AvgCostLBP}

		allocs, err := allocateFEFOTx(ctx, tx.Tx, *item, req.WarehouseID, qty)
		if err != nil {
			return nil, err
		}
		for _, a := range allocs {
			move, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, StockMoveSpec{
				ItemID: req.ItemID, WarehouseID: req.WarehouseID, LocationID: req.LocationID,
				BatchID: a.BatchID, QtyOut: a.Qty, UnitCost: unit,
				MoveDate: req.MoveDate, SourceType: "adjustment",
			})
			if err != nil {
				return nil, err
			}
			res.Moves = append(res.Moves, *move)
		}
		value = unit.MulQty(qty)
	}

	if !value.Zero() {
		invID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInventory)
		if err != nil {
			return nil, err
		}
		adjID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInvAdjustment)
		if err != nil {
			return nil, err
		}
		memo := req.Reason
		if memo == "" {
			memo = "stock adjustment"
		}
		lines := []JournalLineSpec{
			{AccountID: invID, Debit: value, Memo: &memo, WarehouseID: &req.WarehouseID},
			{AccountID: adjID, Credit: value, Memo: &memo, WarehouseID: &req.WarehouseID},
		}
		if req.Qty.Sign() < 0 {
			lines[0], lines[1] = JournalLineSpec{AccountID: adjID, Debit: value, Memo: &memo, WarehouseID: &req.WarehouseID},
				JournalLineSpec{AccountID: invID, Credit: value, Memo: &memo, WarehouseID: &req.WarehouseID}
		}
		res.Journal, err = postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
			SourceType: "inventory_adjustment", SourceID: &res.Moves[0].ID,
			JournalDate: req.MoveDate, RateType: RateMarket, ExchangeRate: rate,
			Memo: &memo, Lines: lines,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "inventory.adjust", EntityType: "stock_move", EntityID: res.Moves[0].ID,
		Details: map[string]any{"item_id": req.ItemID, "warehouse_id": req.WarehouseID, "qty": req.Qty.String(), "reason": req.Reason},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit adjustment: %w", err)
	}
	return res, nil
}

type TransferRequest struct {
	ItemID          int
	FromWarehouseID int
	ToWarehouseID   int
	ToLocationID    *int
	Qty             decimal.Decimal
	MoveDate        time.Time
}

// Transfer moves stock between warehouses. Source allocation is FEFO; the
// destination receives the same batches at the source's average cost, so the
// inventory account is untouched and no journal is posted.
func (s *InventoryService) Transfer(ctx context.Context, sess Session, req TransferRequest) ([]StockMove, error) {
	if req.Qty.Sign() <= 0 {
		return nil, E(KindValidation, "transfer qty must be positive, got %s", req.Qty)
	}
	if req.FromWarehouseID == req.ToWarehouseID {
		return nil, E(KindValidation, "transfer requires distinct warehouses")
	}
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, req.MoveDate); err != nil {
		return nil, err
	}
	item, err := loadItemTx(ctx, tx.Tx, sess.CompanyID, req.ItemID)
	if err != nil {
		return nil, err
	}
	if req.ToLocationID != nil {
		if err := assertLocationInWarehouseTx(ctx, tx.Tx, *req.ToLocationID, req.ToWarehouseID); err != nil {
			return nil, err
		}
	}

	iwc, err := itemWarehouseCostTx(ctx, tx.Tx, sess.CompanyID, req.ItemID, req.FromWarehouseID)
	if err != nil {
		return nil, err
	}
	unit := Dual{USD: iwc.AvgCostUSD, LBP: iwc.AvgCostLBP}

	allocs, err := allocateFEFOTx(ctx, tx.Tx, *item, req.FromWarehouseID, req.Qty)
	if err != nil {
		return nil, err
	}

	var moves []StockMove
	for _, a := range allocs {
		out, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, StockMoveSpec{
			ItemID: req.ItemID, WarehouseID: req.FromWarehouseID,
			BatchID: a.BatchID, QtyOut: a.Qty, UnitCost: unit,
			MoveDate: req.MoveDate, SourceType: "transfer",
		})
		if err != nil {
			return nil, err
		}
		in, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, StockMoveSpec{
			ItemID: req.ItemID, WarehouseID: req.ToWarehouseID, LocationID: req.ToLocationID,
			BatchID: a.BatchID, QtyIn: a.Qty, UnitCost: unit,
			MoveDate: req.MoveDate, SourceType: "transfer",
		})
		if err != nil {
			return nil, err
		}
		moves = append(moves, *out, *in)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "inventory.transfer", EntityType: "stock_move", EntityID: moves[0].ID,
		Details: map[string]any{
			"item_id": req.ItemID, "qty": req.Qty.String(),
			"from_warehouse_id": req.FromWarehouseID, "to_warehouse_id": req.ToWarehouseID,
		},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}
	return moves, nil
}

type CycleCountLine struct {
	ItemID     int
	BatchID    *int
	CountedQty decimal.Decimal
}

type CycleCountRequest struct {
	WarehouseID int
	CountDate   time.Time
	Lines       []CycleCountLine
}

type CycleCountResult struct {
	Moves   []StockMove
	Journal *GlJournal // nil when every line counted clean
}

// CycleCount reconciles counted quantities against book quantity per
// (item, warehouse, batch), emitting correcting moves and a single journal
// for the net value difference. Clean counts produce no artifacts.
func (s *InventoryService) CycleCount(ctx context.Context, sess Session, req CycleCountRequest) (*CycleCountResult, error) {
	if len(req.Lines) == 0 {
		return nil, E(KindValidation, "cycle count requires at least one line")
	}
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, req.CountDate); err != nil {
		return nil, err
	}

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, req.CountDate, RateMarket)
	if err != nil {
		return nil, err
	}

	res := &CycleCountResult{}
	var gain, loss Dual
	for i, l := range req.Lines {
		if l.CountedQty.IsNegative() {
			return nil, E(KindValidation, "cycle count line %d has negative counted qty", i+1)
		}

		var book decimal.Decimal
		if l.BatchID != nil {
			book, err = batchOnHandTx(ctx, tx.Tx, *l.BatchID, req.WarehouseID)
		} else {
			var iwc *ItemWarehouseCost
			iwc, err = itemWarehouseCostTx(ctx, tx.Tx, sess.CompanyID, l.ItemID, req.WarehouseID)
			if iwc != nil {
				book = iwc.OnHandQty
			}
		}
		if err != nil {
			return nil, err
		}

		diff := l.CountedQty.Sub(book)
		if diff.IsZero() {
			continue
		}

		iwc, err := itemWarehouseCostTx(ctx, tx.Tx, sess.CompanyID, l.ItemID, req.WarehouseID)
		if err != nil {
			return nil, err
		}
		unit := Dual{USD: iwc.AvgCostUSD, LBP: iwc.AvgCostLBP}

		spec := StockMoveSpec{
			ItemID: l.ItemID, WarehouseID: req.WarehouseID, BatchID: l.BatchID,
			UnitCost: unit, MoveDate: req.CountDate, SourceType: "cycle_count",
		}
		if diff.Sign() > 0 {
			spec.QtyIn = diff
			gain = gain.Add(unit.MulQty(diff))
		} else {
			spec.QtyOut = diff.Neg()
			loss = loss.Add(unit.MulQty(diff.Neg()))
		}
		move, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, spec)
		if err != nil {
			return nil, err
		}
		res.Moves = append(res.Moves, *move)
	}

	if len(res.Moves) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit clean count: %w", err)
		}
		return res, nil
	}

	invID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInventory)
	if err != nil {
		return nil, err
	}
	adjID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInvAdjustment)
	if err != nil {
		return nil, err
	}
	memo := "cycle count"
	var lines []JournalLineSpec
	if !gain.Zero() {
		lines = append(lines,
			JournalLineSpec{AccountID: invID, Debit: gain, Memo: &memo, WarehouseID: &req.WarehouseID},
			JournalLineSpec{AccountID: adjID, Credit: gain, Memo: &memo, WarehouseID: &req.WarehouseID},
		)
	}
	if !loss.Zero() {
		lines = append(lines,
			JournalLineSpec{AccountID: adjID, Debit: loss, Memo: &memo, WarehouseID: &req.WarehouseID},
			JournalLineSpec{AccountID: invID, Credit: loss, Memo: &memo, WarehouseID: &req.WarehouseID},
		)
	}
	res.Journal, err = postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
		SourceType: "cycle_count", SourceID: &res.Moves[0].ID,
		JournalDate: req.CountDate, RateType: RateMarket, ExchangeRate: rate,
		Memo: &memo, Lines: lines,
	})
	if err != nil {
		return nil, err
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "inventory.cycle_count", EntityType: "gl_journal", EntityID: res.Journal.ID,
		Details: map[string]any{"warehouse_id": req.WarehouseID, "moves": len(res.Moves)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cycle count: %w", err)
	}
	return res, nil
}

type ExpiryWriteOffRequest struct {
	WarehouseID int
	AsOf        time.Time
}

type ExpiryWriteOffResult struct {
	Moves   []StockMove
	Journal *GlJournal
}

// ExpiryWriteOff writes off every expired batch with on-hand stock at a
// warehouse: outbound moves at average cost, batch marked expired, and a
// shrinkage journal for the total value.
func (s *InventoryService) ExpiryWriteOff(ctx context.Context, sess Session, req ExpiryWriteOffRequest) (*ExpiryWriteOffResult, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, req.AsOf); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT b.id, b.item_id, COALESCE(SUM(sm.qty_in - sm.qty_out), 0) AS on_hand
		FROM batches b
		JOIN stock_moves sm ON sm.batch_id = b.id AND sm.warehouse_id = $2
		WHERE b.company_id = $1
		  AND b.expiry_date IS NOT NULL AND b.expiry_date < $3::date
		  AND b.status <> 'expired'
		GROUP BY b.id
		HAVING COALESCE(SUM(sm.qty_in - sm.qty_out), 0) > 0
		ORDER BY b.id`,
		sess.CompanyID, req.WarehouseID, req.AsOf.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("select expired batches: %w", err)
	}
	type expired struct {
		batchID, itemID int
		onHand          decimal.Decimal
	}
	var batches []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.batchID, &e.itemID, &e.onHand); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired batch: %w", err)
		}
		batches = append(batches, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired batches: %w", err)
	}

	res := &ExpiryWriteOffResult{}
	if len(batches) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit empty write-off: %w", err)
		}
		return res, nil
	}

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, req.AsOf, RateMarket)
	if err != nil {
		return nil, err
	}

	var total Dual
	for _, e := range batches {
		iwc, err := itemWarehouseCostTx(ctx, tx.Tx, sess.CompanyID, e.itemID, req.WarehouseID)
		if err != nil {
			return nil, err
		}
		unit := Dual{USD: iwc.AvgCostUSD, LBP: iwc.AvgCostLBP}
		id := e.batchID
		move, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, StockMoveSpec{
			ItemID: e.itemID, WarehouseID: req.WarehouseID, BatchID: &id,
			QtyOut: e.onHand, UnitCost: unit,
			MoveDate: req.AsOf, SourceType: "expiry_writeoff",
		})
		if err != nil {
			return nil, err
		}
		res.Moves = append(res.Moves, *move)
		total = total.Add(unit.MulQty(e.onHand))

		if _, err := tx.Exec(ctx,
			"UPDATE batches SET status = 'expired' WHERE id = $1", e.batchID,
		); err != nil {
			return nil, fmt.Errorf("mark batch %d expired: %w", e.batchID, err)
		}
	}

	if !total.Zero() {
		shrinkID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleShrinkage)
		if err != nil {
			return nil, err
		}
		invID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInventory)
		if err != nil {
			return nil, err
		}
		memo := "expiry write-off"
		res.Journal, err = postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
			SourceType: "expiry_writeoff", SourceID: &res.Moves[0].ID,
			JournalDate: req.AsOf, RateType: RateMarket, ExchangeRate: rate,
			Memo: &memo,
			Lines: []JournalLineSpec{
				{AccountID: shrinkID, Debit: total, Memo: &memo, WarehouseID: &req.WarehouseID},
				{AccountID: invID, Credit: total, Memo: &memo, WarehouseID: &req.WarehouseID},
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "inventory.expiry_writeoff", EntityType: "stock_move", EntityID: res.Moves[0].ID,
		Details: map[string]any{"warehouse_id": req.WarehouseID, "batches": len(batches)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit expiry write-off: %w", err)
	}
	return res, nil
}

type OpeningStockLine struct {
	ItemID      int
	Qty         decimal.Decimal
	UnitCostUSD decimal.Decimal
	UnitCostLBP decimal.Decimal
	BatchNo     *string
	ExpiryDate  *time.Time
}

type OpeningStockRequest struct {
	ImportID    string
	WarehouseID int
	PostingDate time.Time
	Lines       []OpeningStockLine
}

type OpeningStockResult struct {
	AlreadyApplied bool
	Moves          []StockMove
	Journal        *GlJournal
}

// ImportOpeningStock loads opening balances: one inbound move per line and a
// single journal Dr INVENTORY / Cr OPENING_BALANCE. Idempotent by import_id —
// a replay returns already_applied without touching stock.
func (s *InventoryService) ImportOpeningStock(ctx context.Context, sess Session, req OpeningStockRequest) (*OpeningStockResult, error) {
	if strings.TrimSpace(req.ImportID) == "" {
		return nil, E(KindValidation, "import_id is required")
	}
	if len(req.Lines) == 0 {
		return nil, E(KindValidation, "opening stock import requires at least one line")
	}
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, req.PostingDate); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO opening_stock_imports (company_id, import_id, warehouse_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, import_id) DO NOTHING`,
		sess.CompanyID, req.ImportID, req.WarehouseID,
	)
	if err != nil {
		return nil, fmt.Errorf("register opening stock import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit replayed import: %w", err)
		}
		return &OpeningStockResult{AlreadyApplied: true}, nil
	}

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, req.PostingDate, RateMarket)
	if err != nil {
		return nil, err
	}

	res := &OpeningStockResult{}
	var total Dual
	for i, l := range req.Lines {
		if l.Qty.Sign() <= 0 {
			return nil, E(KindValidation, "opening stock line %d qty must be positive", i+1)
		}
		item, err := loadItemTx(ctx, tx.Tx, sess.CompanyID, l.ItemID)
		if err != nil {
			return nil, err
		}
		unit := NormalizeDual(l.UnitCostUSD, l.UnitCostLBP, rate)

		batch, err := getOrCreateBatchTx(ctx, tx.Tx, sess.CompanyID, *item, l.BatchNo, l.ExpiryDate, nil)
		if err != nil {
			return nil, err
		}
		var batchID *int
		if batch != nil {
			batchID = &batch.ID
		}
		move, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, StockMoveSpec{
			ItemID: l.ItemID, WarehouseID: req.WarehouseID, BatchID: batchID,
			QtyIn: l.Qty, UnitCost: unit,
			MoveDate: req.PostingDate, SourceType: "opening_stock",
		})
		if err != nil {
			return nil, err
		}
		res.Moves = append(res.Moves, *move)
		total = total.Add(unit.MulQty(l.Qty))
	}

	if !total.Zero() {
		invID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInventory)
		if err != nil {
			return nil, err
		}
		obID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleOpeningBalance)
		if err != nil {
			return nil, err
		}
		memo := fmt.Sprintf("opening stock import %s", req.ImportID)
		res.Journal, err = postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
			SourceType: "opening_stock", SourceID: &res.Moves[0].ID,
			JournalDate: req.PostingDate, RateType: RateMarket, ExchangeRate: rate,
			Memo: &memo,
			Lines: []JournalLineSpec{
				{AccountID: invID, Debit: total, Memo: &memo, WarehouseID: &req.WarehouseID},
				{AccountID: obID, Credit: total, Memo: &memo, WarehouseID: &req.WarehouseID},
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "inventory.opening_stock", EntityType: "stock_move", EntityID: res.Moves[0].ID,
		Details: map[string]any{"import_id": req.ImportID, "warehouse_id": req.WarehouseID, "lines": len(req.Lines)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit opening stock import: %w", err)
	}
	return res, nil
}

// WarehouseIDs lists the company's active warehouses, ordered for stable
// iteration.
func (s *InventoryService) WarehouseIDs(ctx context.Context, sess Session) ([]int, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM warehouses
		WHERE company_id = $1 AND is_active
		ORDER BY id`,
		sess.CompanyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan warehouse id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
