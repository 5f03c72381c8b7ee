package ai

import (
	"context"
	"strings"

	"erp-core/internal/core"
)

// MockExtractor is the deterministic development extractor. It reads
// semicolon-separated lines of the form
//
//	code;name;qty;unit_cost_usd;unit_cost_lbp
//
// and treats a leading "supplier:NAME" line as the supplier header. Useful
// for tests and local environments without an API key.
type MockExtractor struct{}

func NewMockExtractor() *MockExtractor { return &MockExtractor{} }

func (m *MockExtractor) ExtractInvoice(_ context.Context, content []byte, _ string) (*core.ExtractedInvoice, error) {
	out := &core.ExtractedInvoice{Currency: "USD"}
	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "supplier:"); ok {
			out.SupplierName = strings.TrimSpace(rest)
			continue
		}
		if rest, ok := strings.CutPrefix(line, "ref:"); ok {
			out.SupplierRef = strings.TrimSpace(rest)
			continue
		}
		if rest, ok := strings.CutPrefix(line, "date:"); ok {
			out.InvoiceDate = strings.TrimSpace(rest)
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) < 3 {
			continue
		}
		el := core.ExtractedInvoiceLine{
			ItemCode: strings.TrimSpace(parts[0]),
			ItemName: strings.TrimSpace(parts[1]),
			Qty:      strings.TrimSpace(parts[2]),
		}
		if len(parts) > 3 {
			el.UnitCostUSD = strings.TrimSpace(parts[3])
		}
		if len(parts) > 4 {
			el.UnitCostLBP = strings.TrimSpace(parts[4])
		}
		out.Lines = append(out.Lines, el)
	}
	return out, nil
}
