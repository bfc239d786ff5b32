package catalog

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ticketx/ledger-engine/internal/model"
)

const dateLayout = "2006-01-02"

// File is the on-disk catalog seed format.
type File struct {
	Events []FileEvent `yaml:"events"`
}

// FileEvent is one event entry of a seed file. Dates use YYYY-MM-DD.
type FileEvent struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Date        string        `yaml:"date"`
	Location    string        `yaml:"location"`
	Description string        `yaml:"description,omitempty"`
	OrderBook   FileOrderBook `yaml:"order_book"`
}

// FileOrderBook is the seed form of an order book.
type FileOrderBook struct {
	LastPrice decimal.Decimal `yaml:"last_price"`
	Bids      []FileOrder     `yaml:"bids"`
	Asks      []FileOrder     `yaml:"asks"`
}

// FileOrder is one price level.
type FileOrder struct {
	Price    decimal.Decimal `yaml:"price"`
	Quantity int64           `yaml:"quantity"`
}

// LoadFile reads a YAML seed file and returns a validated catalog.
func LoadFile(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML seed document into a validated catalog.
func Parse(data []byte) (*MemoryCatalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	events := make([]model.Event, 0, len(f.Events))
	for i, fe := range f.Events {
		ev, err := fe.toEvent()
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return NewMemoryCatalog(events...)
}

func (fe FileEvent) toEvent() (model.Event, error) {
	var date time.Time
	if fe.Date != "" {
		d, err := time.Parse(dateLayout, fe.Date)
		if err != nil {
			return model.Event{}, fmt.Errorf("%w: %s has invalid date %q", ErrInvalidEvent, fe.ID, fe.Date)
		}
		date = d
	}

	return model.Event{
		ID:          fe.ID,
		Name:        fe.Name,
		Date:        date,
		Location:    fe.Location,
		Description: fe.Description,
		OrderBook: model.OrderBook{
			Bids:      toOrders(fe.OrderBook.Bids),
			Asks:      toOrders(fe.OrderBook.Asks),
			LastPrice: fe.OrderBook.LastPrice,
		},
	}, nil
}

func toOrders(in []FileOrder) []model.Order {
	out := make([]model.Order, 0, len(in))
	for _, o := range in {
		out = append(out, model.Order{Price: o.Price, Quantity: o.Quantity})
	}
	return out
}
