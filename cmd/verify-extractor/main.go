// verify-extractor runs the invoice extractor against a local file and
// prints what comes back. Use it to sanity-check the OpenAI key and prompt
// before pointing real uploads at them.
//
// Usage: go run ./cmd/verify-extractor path/to/invoice.txt
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"erp-core/internal/ai"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatal("usage: verify-extractor <file>")
	}
	path := os.Args[1]
	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY not set")
	}

	agent := ai.NewAgent(apiKey)
	extracted, err := agent.ExtractInvoice(context.Background(), content, filepath.Base(path))
	if err != nil {
		log.Fatalf("extract: %v", err)
	}

	fmt.Printf("Supplier: %s\n", extracted.SupplierName)
	fmt.Printf("Ref:      %s\n", extracted.SupplierRef)
	fmt.Printf("Date:     %s\n", extracted.InvoiceDate)
	fmt.Printf("Currency: %s\n", extracted.Currency)
	fmt.Printf("\nLines:\n")
	for _, l := range extracted.Lines {
		fmt.Printf("- %-16s %-32s qty=%-8s usd=%-10s lbp=%s\n",
			l.ItemCode, l.ItemName, l.Qty, l.UnitCostUSD, l.UnitCostLBP)
	}
}
