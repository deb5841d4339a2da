package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StockService is the inventory collaborator. Restock is called by return
// settlement; Consume by invoice creation. Both lock the product row and
// append an immutable movement record.
type StockService interface {
	RestockTx(ctx context.Context, tx pgx.Tx, productID int64, quantity decimal.Decimal, ref Reference) error
	ConsumeTx(ctx context.Context, tx pgx.Tx, productID int64, quantity decimal.Decimal, ref Reference) error
	GetProduct(ctx context.Context, productID int64) (*Product, error)
	GetProductByCode(ctx context.Context, code string) (*Product, error)
}

type stockService struct {
	pool *pgxpool.Pool
}

func NewStockService(pool *pgxpool.Pool) StockService {
	return &stockService{pool: pool}
}

// RestockTx increases on-hand stock for a returned product.
func (s *stockService) RestockTx(ctx context.Context, tx pgx.Tx, productID int64, quantity decimal.Decimal, ref Reference) error {
	return s.move(ctx, tx, productID, quantity, MovementIn, ref)
}

// ConsumeTx decreases on-hand stock for a sold product. Selling below zero
// stock is rejected.
func (s *stockService) ConsumeTx(ctx context.Context, tx pgx.Tx, productID int64, quantity decimal.Decimal, ref Reference) error {
	return s.move(ctx, tx, productID, quantity, MovementOut, ref)
}

func (s *stockService) move(ctx context.Context, tx pgx.Tx, productID int64, quantity decimal.Decimal, mt MovementType, ref Reference) error {
	if !quantity.IsPositive() {
		return validationErrorf("quantity", "stock movement quantity must be positive, got %s", quantity)
	}

	var onHand decimal.Decimal
	var code string
	err := tx.QueryRow(ctx,
		"SELECT code, stock_quantity FROM products WHERE id = $1 FOR UPDATE",
		productID,
	).Scan(&code, &onHand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return validationErrorf("product_id", "product %d not found", productID)
		}
		return wrapConcurrency("stock move", fmt.Errorf("failed to lock product %d: %w", productID, err))
	}

	newQty := onHand.Add(quantity)
	if mt == MovementOut {
		newQty = onHand.Sub(quantity)
		if newQty.IsNegative() {
			return validationErrorf("quantity", "insufficient stock for product %s: on hand %s, requested %s",
				code, onHand.String(), quantity.String())
		}
	}

	_, err = tx.Exec(ctx,
		"UPDATE products SET stock_quantity = $1 WHERE id = $2",
		newQty, productID,
	)
	if err != nil {
		return fmt.Errorf("failed to update stock for product %s: %w", code, err)
	}

	var refID *int64
	if ref.ID != 0 {
		refID = &ref.ID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO stock_movements (product_id, movement_type, quantity, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5)
	`, productID, string(mt), quantity, ref.Type, refID)
	if err != nil {
		return fmt.Errorf("failed to insert stock movement for product %s: %w", code, err)
	}
	return nil
}

func (s *stockService) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	return fetchProduct(ctx, s.pool, "id = $1", productID)
}

func (s *stockService) GetProductByCode(ctx context.Context, code string) (*Product, error) {
	return fetchProduct(ctx, s.pool, "code = $1", code)
}

func fetchProduct(ctx context.Context, q rowQuerier, where string, arg any) (*Product, error) {
	var p Product
	err := q.QueryRow(ctx,
		"SELECT id, code, name, unit_price, stock_quantity, created_at FROM products WHERE "+where,
		arg,
	).Scan(&p.ID, &p.Code, &p.Name, &p.UnitPrice, &p.StockQuantity, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("product", "product %v not found", arg)
		}
		return nil, fmt.Errorf("failed to fetch product: %w", err)
	}
	return &p, nil
}
