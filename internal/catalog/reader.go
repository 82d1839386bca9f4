// Package catalog reads current product data for price snapshotting.
// The catalog itself is owned by another part of the system; this
// reader never writes.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/rahulmenon/orderdesk/internal/money"
)

// Snapshot is the slice of product state an order captures at purchase
// time: the effective price plus display fields.
type Snapshot struct {
	ProductID   string
	VariantID   string
	Name        string
	VariantName string
	Image       string
	Price       money.Money
}

type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Snapshots fetches the products for the given ids in one round trip.
// The sale price wins over the base price when set. Missing ids are
// simply absent from the result; callers decide whether that is fatal.
func (r *Reader) Snapshots(ctx context.Context, productIDs []string) (map[string]Snapshot, error) {
	if len(productIDs) == 0 {
		return map[string]Snapshot{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, base_price, sale_price, image_url
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Snapshot, len(productIDs))
	for rows.Next() {
		var (
			snap      Snapshot
			basePrice money.Money
			salePrice sql.Null[money.Money]
			image     sql.NullString
		)
		if err := rows.Scan(&snap.ProductID, &snap.Name, &basePrice, &salePrice, &image); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		snap.Price = basePrice
		if salePrice.Valid && !salePrice.V.IsZero() {
			snap.Price = salePrice.V
		}
		snap.Image = image.String
		out[snap.ProductID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// VariantSnapshot resolves a single variant's price and name, falling
// back to the product price when the variant has no override.
func (r *Reader) VariantSnapshot(ctx context.Context, productID, variantID string) (Snapshot, error) {
	var (
		snap  Snapshot
		price sql.Null[money.Money]
		base  money.Money
		image sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.base_price, v.id, v.name, v.price, p.image_url
		FROM products p
		JOIN product_variants v ON v.product_id = p.id
		WHERE p.id = $1 AND v.id = $2
	`, productID, variantID).Scan(&snap.ProductID, &snap.Name, &base, &snap.VariantID, &snap.VariantName, &price, &image)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Price = base
	if price.Valid {
		snap.Price = price.V
	}
	snap.Image = image.String
	return snap, nil
}
