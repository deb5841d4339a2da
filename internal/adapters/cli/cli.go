package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"billing-ledger/internal/app"

	"github.com/shopspring/decimal"
)

// Run executes a one-shot CLI command and exits.
// args is os.Args[1:] — the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string) {
	switch args[0] {
	case "customer", "cust":
		if len(args) < 2 {
			log.Fatal("Usage: app customer \"<name>\" [phone] [address]")
		}
		req := app.CreateCustomerRequest{Name: args[1]}
		if len(args) > 2 {
			req.Phone = args[2]
		}
		if len(args) > 3 {
			req.Address = args[3]
		}
		result, err := svc.CreateCustomer(ctx, req)
		if err != nil {
			log.Fatalf("Failed to create customer: %v", err)
		}
		fmt.Printf("Customer #%d created: %s\n", result.Customer.ID, result.Customer.Name)

	case "statement", "stmt":
		customerID := parseID(args, 1, "Usage: app statement <customer_id>")
		result, err := svc.GetCustomerStatement(ctx, customerID, 50)
		if err != nil {
			log.Fatalf("Failed to get statement: %v", err)
		}
		printStatement(result)

	case "invoice", "inv":
		var req app.CreateInvoiceRequest
		if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
			log.Fatalf("Invalid JSON: %v", err)
		}
		result, err := svc.CreateInvoice(ctx, req)
		if err != nil {
			log.Fatalf("Failed to create invoice: %v", err)
		}
		printInvoice(result)

	case "pay":
		if len(args) < 3 {
			log.Fatal("Usage: app pay <invoice_ref> <amount> [method]")
		}
		amount, err := decimal.NewFromString(args[2])
		if err != nil {
			log.Fatalf("Invalid amount: %v", err)
		}
		req := app.RecordPaymentRequest{InvoiceRef: args[1], Amount: amount}
		if len(args) > 3 {
			req.Method = args[3]
		}
		result, err := svc.RecordPayment(ctx, req)
		if err != nil {
			log.Fatalf("Payment failed: %v", err)
		}
		bb := result.Breakdown
		fmt.Printf("Payment recorded. Remaining %s, status %s.\n", bb.Remaining.StringFixed(2), bb.Status)

	case "credit":
		customerID := parseID(args, 1, "Usage: app credit <customer_id>")
		credit, err := svc.GetAvailableCredit(ctx, customerID)
		if err != nil {
			log.Fatalf("Failed to get credit: %v", err)
		}
		fmt.Printf("Available credit: %s\n", credit.StringFixed(2))

	case "allocate", "alloc":
		if len(args) < 3 {
			log.Fatal("Usage: app allocate <customer_id> <amount> [invoice_id...]")
		}
		customerID := parseID(args, 1, "")
		amount, err := decimal.NewFromString(args[2])
		if err != nil {
			log.Fatalf("Invalid amount: %v", err)
		}
		var targets []int64
		for _, raw := range args[3:] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.Fatalf("Invalid invoice id %q: %v", raw, err)
			}
			targets = append(targets, id)
		}
		result, err := svc.AllocateCredit(ctx, app.AllocateCreditRequest{
			CustomerID:       customerID,
			Amount:           amount,
			TargetInvoiceIDs: targets,
		})
		if err != nil {
			log.Fatalf("Allocation failed: %v", err)
		}
		printAllocations(result)

	case "return", "ret":
		var req app.SettleReturnRequest
		if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
			log.Fatalf("Invalid JSON: %v", err)
		}
		result, err := svc.SettleReturn(ctx, req)
		if err != nil {
			log.Fatalf("Return failed: %v", err)
		}
		fmt.Printf("Return #%d accepted (%s settlement, %s). Invoice %s now %s.\n",
			result.Return.ID, result.Return.SettlementType, result.Return.TotalAmount.StringFixed(2),
			result.Invoice.BillNumber, result.Invoice.Status)

	case "cancel-return":
		returnID := parseID(args, 1, "Usage: app cancel-return <return_id>")
		result, err := svc.CancelReturn(ctx, returnID, operator())
		if err != nil {
			log.Fatalf("Cancel failed: %v", err)
		}
		fmt.Printf("Return #%d cancelled. Invoice %s now %s.\n",
			result.Return.ID, result.Invoice.BillNumber, result.Invoice.Status)

	case "adjust":
		if len(args) < 5 {
			log.Fatal("Usage: app adjust <customer_id> <debit|credit> <amount> \"<description>\"")
		}
		customerID := parseID(args, 1, "")
		amount, err := decimal.NewFromString(args[3])
		if err != nil {
			log.Fatalf("Invalid amount: %v", err)
		}
		entry, err := svc.RecordAdjustment(ctx, app.AdjustmentRequest{
			CustomerID:  customerID,
			EntryType:   args[2],
			Amount:      amount,
			Description: args[4],
			CreatedBy:   operator(),
		})
		if err != nil {
			log.Fatalf("Adjustment failed: %v", err)
		}
		fmt.Printf("Adjustment recorded. Balance %s -> %s.\n",
			entry.BalanceBefore.StringFixed(2), entry.BalanceAfter.StringFixed(2))

	case "reconcile", "rec":
		if len(args) > 1 {
			customerID := parseID(args, 1, "")
			correction, err := svc.Reconcile(ctx, customerID)
			if err != nil {
				log.Fatalf("Reconciliation failed: %v", err)
			}
			if correction == nil {
				fmt.Println("Cache and ledger agree; nothing to correct.")
			} else {
				fmt.Printf("Corrected customer %d: %s -> %s (delta %s).\n",
					correction.CustomerID, correction.CachedBalance.StringFixed(2),
					correction.LedgerBalance.StringFixed(2), correction.Delta.StringFixed(2))
			}
			return
		}
		summary, err := svc.ReconcileAll(ctx)
		if err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}
		fmt.Printf("Checked %d customers, corrected %d.\n", summary.Checked, summary.Corrected)

	case "day-total":
		total, err := svc.GetDayTotal(ctx)
		if err != nil {
			log.Fatalf("Failed to get day total: %v", err)
		}
		fmt.Printf("Cash register net today: %s\n", total.StringFixed(2))

	default:
		log.Fatalf("Unknown command: %s\nAvailable: customer, statement, invoice, pay, credit, allocate, return, cancel-return, adjust, reconcile, day-total", args[0])
	}
}

func parseID(args []string, idx int, usage string) int64 {
	if len(args) <= idx {
		if usage == "" {
			usage = "missing numeric argument"
		}
		log.Fatal(usage)
	}
	id, err := strconv.ParseInt(args[idx], 10, 64)
	if err != nil {
		log.Fatalf("Invalid id %q: %v", args[idx], err)
	}
	return id
}

// operator names the person behind the keyboard for audit columns.
func operator() string {
	if u := os.Getenv("BILLING_OPERATOR"); u != "" {
		return u
	}
	return "cli"
}

func printInvoice(result *app.InvoiceResult) {
	inv := result.Invoice
	fmt.Println()
	fmt.Println(strings.Repeat("=", 62))
	fmt.Printf("  INVOICE %s (customer %d)\n", inv.BillNumber, inv.CustomerID)
	fmt.Println(strings.Repeat("-", 62))
	fmt.Printf("  %-10s %10s %12s %12s\n", "PRODUCT", "QTY", "PRICE", "TOTAL")
	for _, it := range inv.Items {
		fmt.Printf("  %-10d %10s %12s %12s\n",
			it.ProductID, it.Quantity.String(), it.UnitPrice.StringFixed(2), it.TotalPrice.StringFixed(2))
	}
	fmt.Println(strings.Repeat("-", 62))
	fmt.Printf("  Grand total : %s\n", inv.GrandTotal.StringFixed(2))
	fmt.Printf("  Remaining   : %s\n", inv.Remaining.StringFixed(2))
	fmt.Printf("  Status      : %s\n", inv.Status)
	fmt.Println(strings.Repeat("=", 62))
}

func printStatement(result *app.StatementResult) {
	c := result.Customer
	fmt.Println()
	fmt.Println(strings.Repeat("=", 78))
	fmt.Printf("  STATEMENT  %s (#%d)\n", c.Name, c.ID)
	fmt.Printf("  Ledger balance : %s\n", result.LedgerBalance.StringFixed(2))
	fmt.Printf("  Cached balance : %s\n", c.Balance.StringFixed(2))
	fmt.Println(strings.Repeat("-", 78))
	fmt.Printf("  %-6s %-8s %-12s %12s %14s\n", "ID", "TYPE", "TXN", "AMOUNT", "BALANCE AFTER")
	for _, e := range result.Entries {
		fmt.Printf("  %-6d %-8s %-12s %12s %14s\n",
			e.ID, e.EntryType, e.TransactionType, e.Amount.StringFixed(2), e.BalanceAfter.StringFixed(2))
	}
	fmt.Println(strings.Repeat("=", 78))
}

func printAllocations(result *app.AllocationResult) {
	if len(result.Allocations) == 0 {
		fmt.Println("No credit was allocated.")
		return
	}
	for _, a := range result.Allocations {
		fmt.Printf("Invoice %d: allocated %s, now %s.\n",
			a.InvoiceID, a.AmountAllocated.StringFixed(2), a.ResultingStatus)
	}
	fmt.Printf("Total allocated: %s\n", result.TotalAllocated.StringFixed(2))
}
