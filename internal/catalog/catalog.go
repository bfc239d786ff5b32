// Package catalog is the read-only repository of events and their order
// books. The core only consults it to check that an event exists and to
// value holdings at the event's last price.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/ticketx/ledger-engine/internal/model"
)

// eventIDRegex matches lowercase slugs such as "interusp-2024".
var eventIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

var (
	ErrInvalidEventID   = errors.New("catalog: invalid event id")
	ErrInvalidEvent     = errors.New("catalog: invalid event")
	ErrInvalidOrderBook = errors.New("catalog: invalid order book")
	ErrDuplicateEvent   = errors.New("catalog: duplicate event")
)

// Catalog supplies event reference data.
type Catalog interface {
	// Event returns one event or an error wrapping model.ErrUnknownEvent.
	Event(ctx context.Context, id string) (*model.Event, error)

	// Events returns all events.
	Events(ctx context.Context) ([]model.Event, error)
}

// MemoryCatalog implements Catalog with an in-memory map.
type MemoryCatalog struct {
	mu     sync.RWMutex
	events map[string]model.Event
}

// NewMemoryCatalog creates a catalog holding events. Every event is validated.
func NewMemoryCatalog(events ...model.Event) (*MemoryCatalog, error) {
	c := &MemoryCatalog{events: make(map[string]model.Event)}
	for _, ev := range events {
		if err := c.Put(ev); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Put adds an event. Event IDs must be unique.
func (c *MemoryCatalog) Put(ev model.Event) error {
	if err := Validate(ev); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.events[ev.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
	}
	c.events[ev.ID] = ev
	return nil
}

func (c *MemoryCatalog) Event(_ context.Context, id string) (*model.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ev, ok := c.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, model.ErrUnknownEvent)
	}
	return &ev, nil
}

func (c *MemoryCatalog) Events(_ context.Context) ([]model.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := make([]model.Event, 0, len(c.events))
	for _, ev := range c.events {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

// Validate checks an event's id, name and order book.
func Validate(ev model.Event) error {
	if !eventIDRegex.MatchString(ev.ID) {
		return fmt.Errorf("%w: %q (expected lowercase slug)", ErrInvalidEventID, ev.ID)
	}
	if ev.Name == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidEvent, ev.ID)
	}
	if err := ValidateOrderBook(ev.OrderBook); err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	return nil
}

// ValidateOrderBook checks that every level has a positive price and
// quantity, bids are sorted best (highest) first, asks best (lowest) first,
// and the book is not crossed.
func ValidateOrderBook(book model.OrderBook) error {
	if book.LastPrice.IsNegative() {
		return fmt.Errorf("%w: negative last price %s", ErrInvalidOrderBook, book.LastPrice)
	}
	if err := validateLevels("bid", book.Bids); err != nil {
		return err
	}
	if err := validateLevels("ask", book.Asks); err != nil {
		return err
	}
	for i := 1; i < len(book.Bids); i++ {
		if book.Bids[i].Price.GreaterThan(book.Bids[i-1].Price) {
			return fmt.Errorf("%w: bids not in descending price order", ErrInvalidOrderBook)
		}
	}
	for i := 1; i < len(book.Asks); i++ {
		if book.Asks[i].Price.LessThan(book.Asks[i-1].Price) {
			return fmt.Errorf("%w: asks not in ascending price order", ErrInvalidOrderBook)
		}
	}
	bid, hasBid := BestBid(book)
	ask, hasAsk := BestAsk(book)
	if hasBid && hasAsk && bid.Price.GreaterThan(ask.Price) {
		return fmt.Errorf("%w: crossed book (bid %s > ask %s)", ErrInvalidOrderBook, bid.Price, ask.Price)
	}
	return nil
}

func validateLevels(side string, levels []model.Order) error {
	for i, o := range levels {
		if !o.Price.IsPositive() || o.Quantity <= 0 {
			return fmt.Errorf("%w: %s level %d must have positive price and quantity", ErrInvalidOrderBook, side, i)
		}
	}
	return nil
}

// BestBid returns the highest bid, if any.
func BestBid(book model.OrderBook) (model.Order, bool) {
	if len(book.Bids) == 0 {
		return model.Order{}, false
	}
	return book.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func BestAsk(book model.OrderBook) (model.Order, bool) {
	if len(book.Asks) == 0 {
		return model.Order{}, false
	}
	return book.Asks[0], true
}
