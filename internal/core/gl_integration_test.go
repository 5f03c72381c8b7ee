package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"erp-core/internal/core"
)

func TestManualJournal_AutoBalanceRounding(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	gl := core.NewGlService(pool)
	cash := accountID(t, pool, f.CompanyID, "1100")
	sales := accountID(t, pool, f.CompanyID, "4000")
	rounding := accountID(t, pool, f.CompanyID, "7990")

	// 0.03 USD residue is inside the tolerance and lands on the rounding
	// account as a debit.
	j, err := gl.CreateManualJournal(ctx, sess, core.ManualJournalRequest{
		JournalDate: testDate(2026, time.February, 10),
		RateType:    core.RateMarket,
		Lines: []core.ManualJournalLine{
			{AccountID: cash, DebitUSD: dec("100.00")},
			{AccountID: sales, CreditUSD: dec("100.03")},
		},
	})
	if err != nil {
		t.Fatalf("CreateManualJournal: %v", err)
	}
	if len(j.Entries) != 3 {
		t.Fatalf("expected 3 entries (incl. rounding), got %d", len(j.Entries))
	}

	var found bool
	var sumDebitUSD, sumCreditUSD, sumDebitLBP, sumCreditLBP decimal.Decimal
	for _, e := range j.Entries {
		sumDebitUSD = sumDebitUSD.Add(e.DebitUSD)
		sumCreditUSD = sumCreditUSD.Add(e.CreditUSD)
		sumDebitLBP = sumDebitLBP.Add(e.DebitLBP)
		sumCreditLBP = sumCreditLBP.Add(e.CreditLBP)
		if e.AccountID == rounding {
			found = true
			if !e.DebitUSD.Equal(dec("0.03")) {
				t.Errorf("rounding debit USD = %s, want 0.03", e.DebitUSD)
			}
		}
	}
	if !found {
		t.Fatal("no rounding entry posted")
	}
	if !sumDebitUSD.Equal(sumCreditUSD) || !sumDebitLBP.Equal(sumCreditLBP) {
		t.Errorf("journal not balanced: USD %s/%s, LBP %s/%s",
			sumDebitUSD, sumCreditUSD, sumDebitLBP, sumCreditLBP)
	}
}

func TestManualJournal_ImbalanceRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	gl := core.NewGlService(pool)
	cash := accountID(t, pool, f.CompanyID, "1100")
	sales := accountID(t, pool, f.CompanyID, "4000")

	// 1.00 USD off is beyond the 0.05 tolerance.
	_, err := gl.CreateManualJournal(ctx, sess, core.ManualJournalRequest{
		JournalDate: testDate(2026, time.February, 10),
		RateType:    core.RateMarket,
		Lines: []core.ManualJournalLine{
			{AccountID: cash, DebitUSD: dec("100.00")},
			{AccountID: sales, CreditUSD: dec("101.00")},
		},
	})
	if core.KindOf(err) != core.KindImbalanced {
		t.Fatalf("expected IMBALANCED, got %v", err)
	}
}

func TestManualJournal_PeriodLock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	locks := core.NewPeriodLockService(pool)
	if _, err := locks.SetLock(ctx, sess,
		testDate(2026, time.February, 1), testDate(2026, time.February, 28), true,
	); err != nil {
		t.Fatalf("SetLock: %v", err)
	}

	gl := core.NewGlService(pool)
	cash := accountID(t, pool, f.CompanyID, "1100")
	sales := accountID(t, pool, f.CompanyID, "4000")
	_, err := gl.CreateManualJournal(ctx, sess, core.ManualJournalRequest{
		JournalDate: testDate(2026, time.February, 10),
		RateType:    core.RateMarket,
		Lines: []core.ManualJournalLine{
			{AccountID: cash, DebitUSD: dec("50")},
			{AccountID: sales, CreditUSD: dec("50")},
		},
	})
	if core.KindOf(err) != core.KindPrecondition {
		t.Fatalf("expected PRECONDITION for locked period, got %v", err)
	}

	// Unlock and retry.
	if _, err := locks.SetLock(ctx, sess,
		testDate(2026, time.February, 1), testDate(2026, time.February, 28), false,
	); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := gl.CreateManualJournal(ctx, sess, core.ManualJournalRequest{
		JournalDate: testDate(2026, time.February, 10),
		RateType:    core.RateMarket,
		Lines: []core.ManualJournalLine{
			{AccountID: cash, DebitUSD: dec("50")},
			{AccountID: sales, CreditUSD: dec("50")},
		},
	}); err != nil {
		t.Fatalf("post after unlock: %v", err)
	}
}

func TestRecurringRules_RunAndAdvance(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	gl := core.NewGlService(pool)
	cash := accountID(t, pool, f.CompanyID, "1100")
	sales := accountID(t, pool, f.CompanyID, "4000")

	tpl, err := gl.SaveTemplate(ctx, sess, core.JournalTemplate{
		Name: "daily accrual",
		Lines: []core.JournalTemplateLine{
			{AccountID: cash, DebitUSD: dec("25")},
			{AccountID: sales, CreditUSD: dec("25")},
		},
	})
	if err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}

	if _, err := gl.SaveRecurringRule(ctx, sess, core.RecurringRule{
		TemplateID:  tpl.ID,
		Cadence:     core.CadenceDaily,
		NextRunDate: testDate(2026, time.February, 10),
		IsActive:    true,
	}); err != nil {
		t.Fatalf("SaveRecurringRule: %v", err)
	}

	posted, err := gl.RunDueRecurringRules(ctx, sess, testDate(2026, time.February, 10))
	if err != nil {
		t.Fatalf("RunDueRecurringRules: %v", err)
	}
	if posted != 1 {
		t.Fatalf("expected 1 posted journal, got %d", posted)
	}

	// Same day again: the rule has advanced to tomorrow.
	posted, err = gl.RunDueRecurringRules(ctx, sess, testDate(2026, time.February, 10))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if posted != 0 {
		t.Fatalf("expected 0 on re-run, got %d", posted)
	}

	var journals int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM gl_journals WHERE company_id = $1 AND source_type = 'recurring_journal'",
		f.CompanyID,
	).Scan(&journals); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if journals != 1 {
		t.Fatalf("expected 1 recurring journal, got %d", journals)
	}
}
