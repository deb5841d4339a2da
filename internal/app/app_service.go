package app

import (
	"context"
	"strconv"
	"strings"

	"billing-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type appService struct {
	pool       *pgxpool.Pool
	ledger     *core.LedgerStore
	billing    core.BillingService
	allocator  core.CreditAllocator
	settlement core.SettlementProcessor
	reconciler core.Reconciler
	stock      core.StockService
	cash       core.CashRegisterService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	pool *pgxpool.Pool,
	ledger *core.LedgerStore,
	billing core.BillingService,
	allocator core.CreditAllocator,
	settlement core.SettlementProcessor,
	reconciler core.Reconciler,
	stock core.StockService,
	cash core.CashRegisterService,
) ApplicationService {
	return &appService{
		pool:       pool,
		ledger:     ledger,
		billing:    billing,
		allocator:  allocator,
		settlement: settlement,
		reconciler: reconciler,
		stock:      stock,
		cash:       cash,
	}
}

func (s *appService) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*CustomerResult, error) {
	customer, err := s.billing.CreateCustomer(ctx, req.Name, req.Phone, req.Address)
	if err != nil {
		return nil, err
	}
	return &CustomerResult{Customer: customer}, nil
}

func (s *appService) GetCustomerStatement(ctx context.Context, customerID int64, limit int) (*StatementResult, error) {
	customer, err := s.billing.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.GetBalance(ctx, customerID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.Entries(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	return &StatementResult{Customer: customer, LedgerBalance: balance, Entries: entries}, nil
}

func (s *appService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error) {
	items := make([]core.InvoiceLineInput, len(req.Lines))
	for i, line := range req.Lines {
		product, err := s.stock.GetProductByCode(ctx, line.ProductCode)
		if err != nil {
			return nil, err
		}
		items[i] = core.InvoiceLineInput{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}

	invoice, err := s.billing.CreateInvoice(ctx, core.CreateInvoiceRequest{
		CustomerID: req.CustomerID,
		Items:      items,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: invoice}, nil
}

func (s *appService) GetInvoice(ctx context.Context, ref string) (*InvoiceResult, error) {
	invoice, err := s.resolveInvoice(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: invoice}, nil
}

func (s *appService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	invoice, err := s.resolveInvoice(ctx, req.InvoiceRef)
	if err != nil {
		return nil, err
	}
	bb, err := s.billing.RecordPayment(ctx, invoice.ID, req.Amount, req.Method, req.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Breakdown: bb}, nil
}

func (s *appService) AllocateCredit(ctx context.Context, req AllocateCreditRequest) (*AllocationResult, error) {
	allocations, err := s.allocator.Allocate(ctx, req.CustomerID, req.Amount, req.TargetInvoiceIDs)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.AmountAllocated)
	}
	return &AllocationResult{Allocations: allocations, TotalAllocated: total}, nil
}

func (s *appService) GetAvailableCredit(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return s.allocator.AvailableCredit(ctx, customerID)
}

func (s *appService) SettleReturn(ctx context.Context, req SettleReturnRequest) (*ReturnResult, error) {
	invoice, err := s.resolveInvoice(ctx, req.InvoiceRef)
	if err != nil {
		return nil, err
	}

	lines := make([]core.ReturnLineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = core.ReturnLineInput{
			InvoiceItemID: line.InvoiceItemID,
			Quantity:      line.Quantity,
		}
	}

	ret, err := s.settlement.Settle(ctx, core.SettleReturnRequest{
		InvoiceID:      invoice.ID,
		SettlementType: core.SettlementType(req.Settlement),
		Items:          lines,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}

	invoice, err = s.billing.GetInvoice(ctx, ret.OriginalInvoiceID)
	if err != nil {
		return nil, err
	}
	return &ReturnResult{Return: ret, Invoice: invoice}, nil
}

func (s *appService) CancelReturn(ctx context.Context, returnID int64, cancelledBy string) (*ReturnResult, error) {
	ret, err := s.settlement.Cancel(ctx, returnID, cancelledBy)
	if err != nil {
		return nil, err
	}
	invoice, err := s.billing.GetInvoice(ctx, ret.OriginalInvoiceID)
	if err != nil {
		return nil, err
	}
	return &ReturnResult{Return: ret, Invoice: invoice}, nil
}

func (s *appService) RecordAdjustment(ctx context.Context, req AdjustmentRequest) (*core.LedgerEntry, error) {
	return s.ledger.Append(ctx, core.LedgerEntry{
		CustomerID:      req.CustomerID,
		EntryType:       core.EntryType(req.EntryType),
		TransactionType: core.TransactionAdjustment,
		Amount:          req.Amount,
		Description:     req.Description,
		IdempotencyKey:  uuid.NewString(),
		CreatedBy:       req.CreatedBy,
	})
}

func (s *appService) Reconcile(ctx context.Context, customerID int64) (*core.BalanceCorrection, error) {
	return s.reconciler.Reconcile(ctx, customerID)
}

func (s *appService) ReconcileAll(ctx context.Context) (*core.ReconcileSummary, error) {
	return s.reconciler.ReconcileAll(ctx)
}

func (s *appService) GetDayTotal(ctx context.Context) (decimal.Decimal, error) {
	return s.cash.DayTotal(ctx)
}

// resolveInvoice accepts either a numeric invoice ID or a bill number.
func (s *appService) resolveInvoice(ctx context.Context, ref string) (*core.Invoice, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.billing.GetInvoice(ctx, id)
	}
	return s.billing.GetInvoiceByBillNumber(ctx, ref)
}
