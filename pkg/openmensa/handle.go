package openmensa

import (
	"context"
	"errors"

	"github.com/Sternrassler/mensa-client/pkg/fetchable"
)

// ErrClosed is returned by CanteenHandle.Meals for days the canteen is closed.
var ErrClosed = errors.New("canteen closed")

// CanteenHandle resolves a canteen's metadata, days and meals on first use
// and keeps them for the lifetime of the handle. It is not safe for
// concurrent use.
type CanteenHandle struct {
	ID int

	svc   *Service
	meta  fetchable.Value[Canteen]
	days  fetchable.Value[[]Day]
	meals map[string]*fetchable.Value[[]Meal]
}

// Handle returns a handle for the canteen with id. Nothing is fetched yet.
func (s *Service) Handle(id int) *CanteenHandle {
	return &CanteenHandle{
		ID:    id,
		svc:   s,
		meals: make(map[string]*fetchable.Value[[]Meal]),
	}
}

// HandleFor returns a handle whose metadata is already known.
func (s *Service) HandleFor(c Canteen) *CanteenHandle {
	h := s.Handle(c.ID)
	h.meta = fetchable.Fetched(c)
	return h
}

// Meta returns the canteen metadata.
func (h *CanteenHandle) Meta(ctx context.Context) (Canteen, error) {
	return h.meta.Fetch(func() (Canteen, error) {
		return h.svc.Canteen(ctx, h.ID)
	})
}

// Days returns the known opening days.
func (h *CanteenHandle) Days(ctx context.Context) ([]Day, error) {
	return h.days.Fetch(func() ([]Day, error) {
		return h.svc.Days(ctx, h.ID)
	})
}

// Meals returns the meals served on date. Dates the canteen reports as
// closed yield ErrClosed without a request.
func (h *CanteenHandle) Meals(ctx context.Context, date Date) ([]Meal, error) {
	days, err := h.Days(ctx)
	if err != nil {
		return nil, err
	}
	for _, day := range days {
		if day.Date.Equal(date.Time) && day.Closed {
			return nil, ErrClosed
		}
	}

	key := date.String()
	value, ok := h.meals[key]
	if !ok {
		value = &fetchable.Value[[]Meal]{}
		h.meals[key] = value
	}
	return value.Fetch(func() ([]Meal, error) {
		return h.svc.Meals(ctx, h.ID, date)
	})
}

// Fetched reports which parts of the handle are resolved.
func (h *CanteenHandle) Fetched() (meta, days bool) {
	return h.meta.IsFetched(), h.days.IsFetched()
}
