package core_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"billing-ledger/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// testEnv wires the full service graph against the test database with one
// seeded customer and two catalog products.
type testEnv struct {
	pool       *pgxpool.Pool
	ledger     *core.LedgerStore
	calc       core.BalanceCalculator
	stock      core.StockService
	cash       core.CashRegisterService
	billing    core.BillingService
	allocator  core.CreditAllocator
	settlement core.SettlementProcessor
	reconciler core.Reconciler

	customerID int64
	riceID     int64
	oilID      int64
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE balance_corrections, cash_register_entries, stock_movements,
			return_items, returns, payments, invoice_items, invoices,
			bill_sequences, ledger_entries, products, customers
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pool := setupTestDB(t)
	t.Cleanup(pool.Close)

	ctx := context.Background()
	env := &testEnv{pool: pool}

	err := pool.QueryRow(ctx,
		"INSERT INTO customers (name, phone) VALUES ('Test Customer', '0300-0000000') RETURNING id",
	).Scan(&env.customerID)
	if err != nil {
		t.Fatalf("Failed to seed customer: %v", err)
	}
	err = pool.QueryRow(ctx,
		"INSERT INTO products (code, name, unit_price, stock_quantity) VALUES ('RICE-25', 'Rice bag 25kg', 100.00, 100) RETURNING id",
	).Scan(&env.riceID)
	if err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	err = pool.QueryRow(ctx,
		"INSERT INTO products (code, name, unit_price, stock_quantity) VALUES ('OIL-5', 'Cooking oil 5L', 50.00, 100) RETURNING id",
	).Scan(&env.oilID)
	if err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}

	env.ledger = core.NewLedgerStore(pool)
	env.calc = core.NewBalanceCalculator(pool)
	env.stock = core.NewStockService(pool)
	env.cash = core.NewCashRegisterService(pool)
	env.billing = core.NewBillingService(pool, env.ledger, env.calc, env.stock)
	env.allocator = core.NewCreditAllocator(pool, env.ledger, env.calc)
	env.settlement = core.NewSettlementProcessor(pool, env.ledger, env.calc, env.stock, env.cash)
	env.reconciler = core.NewReconciler(pool, 1000, zerolog.Nop())
	return env
}

func asValidationError(err error) (*core.ValidationError, bool) {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return v
}

func assertDecimal(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(mustDecimal(t, want)) {
		t.Errorf("%s = %s, want %s", label, got, want)
	}
}

// createInvoice records a one-line rice sale at the catalog price.
func (env *testEnv) createInvoice(t *testing.T, qty int64) *core.Invoice {
	t.Helper()
	invoice, err := env.billing.CreateInvoice(context.Background(), core.CreateInvoiceRequest{
		CustomerID: env.customerID,
		Items: []core.InvoiceLineInput{
			{ProductID: env.riceID, Quantity: decimal.NewFromInt(qty)},
		},
		CreatedBy: "test",
	})
	if err != nil {
		t.Fatalf("Failed to create invoice: %v", err)
	}
	return invoice
}

// payInFull settles an invoice with a single cash payment.
func (env *testEnv) payInFull(t *testing.T, invoice *core.Invoice) {
	t.Helper()
	_, err := env.billing.RecordPayment(context.Background(), invoice.ID, invoice.GrandTotal, "cash", "test")
	if err != nil {
		t.Fatalf("Failed to pay invoice %s: %v", invoice.BillNumber, err)
	}
}

func (env *testEnv) stockQuantity(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	product, err := env.stock.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("Failed to fetch product %d: %v", productID, err)
	}
	return product.StockQuantity
}
