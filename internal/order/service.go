// Package order keeps the shop's orders in the document store.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/chatrelay/chatrelay/internal/docstore"
)

type Service struct {
	docs     docstore.Store
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(log *slog.Logger, docs docstore.Store) *Service {
	return &Service{
		docs:     docs,
		validate: validator.New(),
		logger:   log.With(slog.String("service", "orders")),
		now:      time.Now,
	}
}

// Create stores a new order owned by userID.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (Order, error) {
	if err := s.validate.Struct(input); err != nil {
		return Order{}, err
	}
	shipDate, err := formatShipDate(input.ExpectedShipDate)
	if err != nil {
		return Order{}, err
	}
	key, err := docstore.NewKey()
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	status := input.Status
	if status == "" {
		status = StatusUnprocessed
	}
	items := input.Items
	if items == nil {
		items = []Item{}
	}
	o := Order{
		ID:               key,
		OrderNumber:      "ORD" + strconv.FormatInt(now.UnixMilli(), 10),
		CustomerName:     strings.TrimSpace(input.CustomerName),
		Phone:            strings.TrimSpace(input.Phone),
		Address:          strings.TrimSpace(input.Address),
		Items:            items,
		Note:             input.Note,
		TotalAmount:      input.TotalAmount,
		Status:           status,
		ExpectedShipDate: shipDate,
		CreatedAt:        now.UnixMilli(),
		OrderDate:        formatOrderDate(now),
		UserID:           userID,
	}
	if err := s.docs.Set(ctx, Collection, key, o); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created", slog.String("order_id", key), slog.String("order_number", o.OrderNumber))
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	snap, err := s.docs.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return decode(snap)
}

// List returns orders in creation order, filtered by f.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	from, to, err := f.bounds()
	if err != nil {
		return nil, err
	}
	snaps, err := s.docs.Query(ctx, Collection, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]Order, 0, len(snaps))
	for _, snap := range snaps {
		o, err := decode(snap)
		if err != nil {
			s.logger.Warn("skip undecodable order", slog.String("order_id", snap.Key), slog.Any("error", err))
			continue
		}
		orders = append(orders, o)
	}

	status := Status(strings.TrimSpace(string(f.Status)))
	return lo.Filter(orders, func(o Order, _ int) bool {
		if status != "" && status != StatusAll && o.Status != status {
			return false
		}
		if from > 0 && o.CreatedAt < from {
			return false
		}
		if to > 0 && o.CreatedAt > to {
			return false
		}
		return true
	}), nil
}

// Update merges the set fields of input into the order.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (Order, error) {
	if err := s.validate.Struct(input); err != nil {
		return Order{}, err
	}
	fields := map[string]any{}
	setString := func(name string, v *string) {
		if v != nil {
			fields[name] = strings.TrimSpace(*v)
		}
	}
	setString("customerName", input.CustomerName)
	setString("phone", input.Phone)
	setString("address", input.Address)
	if input.Note != nil {
		fields["note"] = *input.Note
	}
	if input.Items != nil {
		fields["items"] = *input.Items
	}
	if input.TotalAmount != nil {
		fields["totalAmount"] = *input.TotalAmount
	}
	if input.Status != nil {
		fields["status"] = *input.Status
	}
	if input.ExpectedShipDate != nil {
		shipDate, err := formatShipDate(*input.ExpectedShipDate)
		if err != nil {
			return Order{}, err
		}
		fields["expectedShipDate"] = shipDate
	}

	if len(fields) > 0 {
		if err := s.docs.Update(ctx, Collection, id, fields); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return Order{}, ErrNotFound
			}
			return Order{}, fmt.Errorf("update order: %w", err)
		}
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.docs.Delete(ctx, Collection, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete order: %w", err)
	}
	s.logger.Info("order deleted", slog.String("order_id", id))
	return nil
}

func decode(snap docstore.Snapshot) (Order, error) {
	var o Order
	if err := snap.Decode(&o); err != nil {
		return Order{}, fmt.Errorf("decode order %s: %w", snap.Key, err)
	}
	o.ID = snap.Key
	if o.Items == nil {
		o.Items = []Item{}
	}
	return o, nil
}

// bounds converts the filter dates to inclusive CreatedAt millis; 0 means
// unbounded.
func (f Filter) bounds() (from, to int64, err error) {
	if strings.TrimSpace(f.StartDate) != "" {
		t, _, err := parseDate(f.StartDate)
		if err != nil {
			return 0, 0, err
		}
		from = t.UnixMilli()
	}
	if strings.TrimSpace(f.EndDate) != "" {
		t, dateOnly, err := parseDate(f.EndDate)
		if err != nil {
			return 0, 0, err
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
		to = t.UnixMilli()
	}
	return from, to, nil
}
