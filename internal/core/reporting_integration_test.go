package core_test

import (
	"context"
	"testing"
	"time"

	"erp-core/internal/core"
)

func TestTrialBalance_AsOfCutoff(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	gl := core.NewGlService(pool)
	cash := accountID(t, pool, f.CompanyID, "1100")
	sales := accountID(t, pool, f.CompanyID, "4000")

	if _, err := gl.CreateManualJournal(ctx, sess, core.ManualJournalRequest{
		JournalDate: testDate(2026, time.January, 10),
		RateType:    core.RateMarket,
		Lines: []core.ManualJournalLine{
			{AccountID: cash, DebitUSD: dec("100")},
			{AccountID: sales, CreditUSD: dec("100")},
		},
	}); err != nil {
		t.Fatalf("post january journal: %v", err)
	}
	if _, err := gl.CreateManualJournal(ctx, sess, core.ManualJournalRequest{
		JournalDate: testDate(2026, time.March, 10),
		RateType:    core.RateMarket,
		Lines: []core.ManualJournalLine{
			{AccountID: cash, DebitUSD: dec("70")},
			{AccountID: sales, CreditUSD: dec("70")},
		},
	}); err != nil {
		t.Fatalf("post march journal: %v", err)
	}

	reports := core.NewReportingService(pool)

	// As of end of January only the first journal counts.
	tb, err := reports.TrialBalance(ctx, sess, testDate(2026, time.January, 31))
	if err != nil {
		t.Fatalf("TrialBalance january: %v", err)
	}
	if !tb.TotalDebit.USD.Equal(dec("100")) || !tb.TotalCredit.USD.Equal(dec("100")) {
		t.Errorf("january totals = %s/%s, want 100/100", tb.TotalDebit.USD, tb.TotalCredit.USD)
	}
	for _, l := range tb.Lines {
		if l.AccountID == cash && !l.Debit.USD.Equal(dec("100")) {
			t.Errorf("january cash debit = %s, want 100", l.Debit.USD)
		}
	}
	if !tb.BalancedUSD {
		t.Error("january trial balance not balanced in USD")
	}

	// As of end of March both journals count.
	tb, err = reports.TrialBalance(ctx, sess, testDate(2026, time.March, 31))
	if err != nil {
		t.Fatalf("TrialBalance march: %v", err)
	}
	if !tb.TotalDebit.USD.Equal(dec("170")) || !tb.TotalCredit.USD.Equal(dec("170")) {
		t.Errorf("march totals = %s/%s, want 170/170", tb.TotalDebit.USD, tb.TotalCredit.USD)
	}

	// Before any posting the report is empty.
	tb, err = reports.TrialBalance(ctx, sess, testDate(2026, time.January, 5))
	if err != nil {
		t.Fatalf("TrialBalance january 5: %v", err)
	}
	if len(tb.Lines) != 0 {
		t.Errorf("expected no lines before first journal, got %d", len(tb.Lines))
	}
}
