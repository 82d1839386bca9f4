package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahulmenon/orderdesk/internal/domain"
)

// AdminUpdate is the PATCH payload for admin order updates. Nil/empty
// fields are left untouched.
type AdminUpdate struct {
	Status         domain.OrderStatus
	TrackingNumber string
	TrackingURL    string
}

// AdminGet fetches any order regardless of owner.
func (s *Service) AdminGet(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (s *Service) AdminList(ctx context.Context, status domain.OrderStatus, paymentStatus domain.PaymentStatus, page, perPage int) ([]domain.Order, int, error) {
	return s.store.List(ctx, ListFilter{Status: status, PaymentStatus: paymentStatus}, page, perPage)
}

// AdminUpdateOrder moves an order forward through fulfillment. Status
// moves are guarded against regression by rank and applied with the
// loaded status as an optimistic precondition; a concurrent transition
// makes the update a no-op and surfaces as a conflict.
func (s *Service) AdminUpdateOrder(ctx context.Context, orderID string, upd AdminUpdate) (*domain.Order, error) {
	o, err := s.AdminGet(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if upd.Status != "" {
		if !upd.Status.Valid() {
			return nil, fmt.Errorf("unknown status %q: %w", upd.Status, domain.ErrValidation)
		}
		if err := s.applyAdminStatus(ctx, o, upd); err != nil {
			return nil, err
		}
	} else if upd.TrackingNumber != "" || upd.TrackingURL != "" {
		// Tracking details without a status change imply shipping, so the
		// implied move obeys the same forward-only rule as an explicit one:
		// never out of a branch state, never back from delivered.
		if o.Status.Rank() == -1 || o.Status.Rank() > domain.OrderStatusShipped.Rank() {
			return nil, domain.ErrInvalidTransition
		}
		if o.Status != domain.OrderStatusShipped {
			ok, err := s.store.MarkShipped(ctx, orderID, upd.TrackingNumber, upd.TrackingURL, o.Status)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, domain.ErrInvalidTransition
			}
		} else if _, err := s.store.MarkShipped(ctx, orderID, upd.TrackingNumber, upd.TrackingURL, o.Status); err != nil {
			return nil, err
		}
	}

	return s.AdminGet(ctx, orderID)
}

func (s *Service) applyAdminStatus(ctx context.Context, o *domain.Order, upd AdminUpdate) error {
	target := upd.Status
	if target == o.Status {
		// Idempotent no-op; repeated tracking updates still merge below.
		if target == domain.OrderStatusShipped && (upd.TrackingNumber != "" || upd.TrackingURL != "") {
			_, err := s.store.MarkShipped(ctx, o.ID, upd.TrackingNumber, upd.TrackingURL, o.Status)
			return err
		}
		return nil
	}

	// Forward-only on the main path; branch states go through the
	// dedicated cancel/return operations.
	if target.Rank() == -1 || o.Status.Rank() == -1 || target.Rank() < o.Status.Rank() {
		return domain.ErrInvalidTransition
	}

	var (
		ok  bool
		err error
	)
	switch target {
	case domain.OrderStatusShipped:
		ok, err = s.store.MarkShipped(ctx, o.ID, upd.TrackingNumber, upd.TrackingURL, o.Status)
	case domain.OrderStatusDelivered:
		ok, err = s.store.MarkDelivered(ctx, o.ID, o.Status)
	default:
		ok, err = s.store.UpdateStatus(ctx, o.ID, o.Status, target)
	}
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidTransition
	}

	s.logger.InfoContext(ctx, "order status updated",
		"order_id", o.ID, "from", o.Status, "to", target)
	return nil
}

// ApproveReturn refunds a returned order.
func (s *Service) ApproveReturn(ctx context.Context, orderID string) error {
	if _, err := s.AdminGet(ctx, orderID); err != nil {
		return err
	}
	ok, err := s.store.ApproveReturn(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidTransition
	}
	s.logger.InfoContext(ctx, "return approved", "order_id", orderID)
	return nil
}

// RejectReturn reverts a returned order to delivered with a reason.
func (s *Service) RejectReturn(ctx context.Context, orderID, reason string) error {
	if len(strings.TrimSpace(reason)) < 10 {
		return fmt.Errorf("rejection reason must be at least 10 characters: %w", domain.ErrValidation)
	}
	if _, err := s.AdminGet(ctx, orderID); err != nil {
		return err
	}
	ok, err := s.store.RejectReturn(ctx, orderID, "Return rejected: "+reason)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidTransition
	}
	s.logger.InfoContext(ctx, "return rejected", "order_id", orderID)
	return nil
}
