package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRemainingBalance(t *testing.T) {
	cases := []struct {
		name                           string
		grand, payments, returns, want string
	}{
		{"untouched invoice", "1000.00", "0", "0", "1000.00"},
		{"partial payment", "1000.00", "400.00", "0", "600.00"},
		{"payment plus return", "1000.00", "400.00", "300.00", "300.00"},
		{"payment plus return closing out", "1000.00", "400.00", "600.00", "0.00"},
		{"fully settled", "1000.00", "700.00", "300.00", "0.00"},
		{"never below zero", "100.00", "100.00", "50.00", "0.00"},
		{"sub-cent residue rounds", "10.00", "3.333", "3.333", "3.33"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := remainingBalance(d(tc.grand), d(tc.payments), d(tc.returns))
			if !got.Equal(d(tc.want)) {
				t.Errorf("remainingBalance(%s, %s, %s) = %s, want %s",
					tc.grand, tc.payments, tc.returns, got, tc.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name                      string
		remaining, payments, rets string
		want                      InvoiceStatus
	}{
		{"nothing applied", "1000.00", "0", "0", StatusPending},
		{"partial payment", "600.00", "400.00", "0", StatusPartiallyPaid},
		{"return only", "700.00", "0", "300.00", StatusPartiallyPaid},
		{"exactly settled", "0.00", "1000.00", "0", StatusPaid},
		{"one cent residue counts as paid", "0.01", "999.99", "0", StatusPaid},
		{"two cents is still open", "0.02", "999.98", "0", StatusPartiallyPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := statusFor(d(tc.remaining), d(tc.payments), d(tc.rets))
			if got != tc.want {
				t.Errorf("statusFor(%s, %s, %s) = %s, want %s",
					tc.remaining, tc.payments, tc.rets, got, tc.want)
			}
		})
	}
}

func TestValidateEntry(t *testing.T) {
	base := LedgerEntry{
		CustomerID:      1,
		EntryType:       EntryDebit,
		TransactionType: TransactionInvoice,
		Amount:          d("100.00"),
	}

	if err := validateEntry(base); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	negative := base
	negative.Amount = d("-1.00")
	if err := validateEntry(negative); err == nil {
		t.Error("negative amount accepted")
	}

	zero := base
	zero.Amount = decimal.Zero
	if err := validateEntry(zero); err == nil {
		t.Error("zero amount accepted for non-adjustment entry")
	}

	zeroAdjustment := zero
	zeroAdjustment.TransactionType = TransactionAdjustment
	if err := validateEntry(zeroAdjustment); err != nil {
		t.Errorf("zero adjustment marker rejected: %v", err)
	}

	badType := base
	badType.EntryType = EntryType("refund")
	if err := validateEntry(badType); err == nil {
		t.Error("unknown entry_type accepted")
	}

	badTxn := base
	badTxn.TransactionType = TransactionType("gift")
	if err := validateEntry(badTxn); err == nil {
		t.Error("unknown transaction_type accepted")
	}

	noCustomer := base
	noCustomer.CustomerID = 0
	if err := validateEntry(noCustomer); err == nil {
		t.Error("missing customer accepted")
	}
}

func TestRoundMoney(t *testing.T) {
	if got := RoundMoney(d("10.005")); !got.Equal(d("10.01")) {
		t.Errorf("RoundMoney(10.005) = %s, want 10.01", got)
	}
	if got := RoundMoney(d("10.004")); !got.Equal(d("10.00")) {
		t.Errorf("RoundMoney(10.004) = %s, want 10.00", got)
	}
}
