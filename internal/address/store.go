// Package address looks up saved addresses for snapshotting onto orders.
package address

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rahulmenon/orderdesk/internal/domain"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the address only when it belongs to the given user, so a
// caller cannot ship to somebody else's saved address by guessing ids.
func (s *Store) Get(ctx context.Context, id, userID string) (*domain.Address, error) {
	var (
		a     domain.Address
		line2 sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT full_name, phone, address_line1, address_line2, city, state, postal_code, country
		FROM addresses
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&a.FullName, &a.Phone, &a.AddressLine1, &line2, &a.City, &a.State, &a.PostalCode, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvalidAddress
	}
	if err != nil {
		return nil, fmt.Errorf("query address: %w", err)
	}
	a.AddressLine2 = line2.String
	return &a, nil
}
