// Package cart reads and clears a user's cart rows. The cart is owned
// by the storefront side of the system; order creation only consumes it.
package cart

import (
	"context"
	"database/sql"
	"fmt"
)

type Item struct {
	ProductID string
	VariantID string
	Quantity  int
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Items(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, COALESCE(variant_id, ''), quantity
		FROM cart_items
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ClearTx deletes the user's cart inside the caller's transaction so the
// clear commits or rolls back together with the order insert.
func (s *Store) ClearTx(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}
