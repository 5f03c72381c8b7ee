package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"erp-core/internal/ai"
	"erp-core/internal/config"
	"erp-core/internal/core"
)

// App is the composition root: every service wired against one pool. All
// entry points (worker, CLI tools, future transports) build this once and
// call into the services directly.
type App struct {
	Pool *pgxpool.Pool
	Log  *zap.Logger

	Accounts  *core.AccountResolver
	GL        *core.GlService
	Inventory *core.InventoryService
	Suppliers *core.SupplierService
	Orders    *core.PurchaseOrderService
	Receipts  *core.GoodsReceiptService
	Invoices  *core.SupplierInvoiceService
	Credits   *core.SupplierCreditService
	Imports   *core.ImportService
	AI        *core.AiService
	Executor  *core.AiExecutor
	Reports   *core.ReportingService
}

// New wires the full service graph. The invoice extractor is the OpenAI
// agent when a key is configured, otherwise the deterministic mock so
// development and CI work offline.
func New(pool *pgxpool.Pool, cfg *config.Config, log *zap.Logger) *App {
	var extractor core.InvoiceExtractor
	if cfg.MockExtractor || cfg.OpenAIAPIKey == "" {
		if !cfg.MockExtractor {
			log.Warn("OPENAI_API_KEY not set, using mock invoice extractor")
		}
		extractor = ai.NewMockExtractor()
	} else {
		extractor = ai.NewAgent(cfg.OpenAIAPIKey)
	}

	orders := core.NewPurchaseOrderService(pool)

	a := &App{
		Pool:      pool,
		Log:       log,
		Accounts:  core.NewAccountResolver(pool),
		GL:        core.NewGlService(pool),
		Inventory: core.NewInventoryService(pool),
		Suppliers: core.NewSupplierService(pool),
		Orders:    orders,
		Receipts:  core.NewGoodsReceiptService(pool),
		Invoices:  core.NewSupplierInvoiceService(pool),
		Credits:   core.NewSupplierCreditService(pool),
		Imports:   core.NewImportService(pool, extractor, cfg.AttachmentMaxBytes()),
		AI:        core.NewAiService(pool),
		Reports:   core.NewReportingService(pool),
	}
	a.Executor = core.NewAiExecutor(pool, orders, log)
	return a
}
