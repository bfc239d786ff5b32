// Package history records what happened to each user: executed trades,
// proposal lifecycle changes and the notifications derived from them.
//
// Trades are persisted by the ledger inside its atomic commit; the Recorder
// only fans them out. Notification delivery and event publishing happen after
// the fact and never fail the operation that triggered them.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ticketx/ledger-engine/internal/catalog"
	"github.com/ticketx/ledger-engine/internal/events"
	"github.com/ticketx/ledger-engine/internal/metrics"
	"github.com/ticketx/ledger-engine/internal/model"
	"github.com/ticketx/ledger-engine/internal/store"
)

// Notifier pushes a notification to a connected user.
type Notifier interface {
	Notify(userID string, n model.Notification)
}

// Config wires the Recorder's optional collaborators.
type Config struct {
	Publisher      events.Publisher
	Notifier       Notifier
	Catalog        catalog.Catalog // resolves event names for messages
	Logger         *slog.Logger
	Currency       string
	TradesTopic    string
	ProposalsTopic string
}

// Recorder is the history and notification recorder.
type Recorder struct {
	store          store.Store
	publisher      events.Publisher
	notifier       Notifier
	catalog        catalog.Catalog
	logger         *slog.Logger
	currency       string
	tradesTopic    string
	proposalsTopic string
	now            func() time.Time
}

// NewRecorder creates a recorder backed by st.
func NewRecorder(st store.Store, cfg Config) *Recorder {
	r := &Recorder{
		store:          st,
		publisher:      cfg.Publisher,
		notifier:       cfg.Notifier,
		catalog:        cfg.Catalog,
		logger:         cfg.Logger,
		currency:       cfg.Currency,
		tradesTopic:    cfg.TradesTopic,
		proposalsTopic: cfg.ProposalsTopic,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if r.publisher == nil {
		r.publisher = events.NopPublisher{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.currency == "" {
		r.currency = DefaultCurrency
	}
	if r.tradesTopic == "" {
		r.tradesTopic = events.DefaultTradesTopic
	}
	if r.proposalsTopic == "" {
		r.proposalsTopic = events.DefaultProposalsTopic
	}
	return r
}

// RecordTrade announces a committed trade to its owner and the broker.
func (r *Recorder) RecordTrade(ctx context.Context, t model.Trade) {
	origin := "order"
	if t.ProposalID != "" {
		origin = "proposal"
	}
	metrics.TradesTotal.WithLabelValues(string(t.Type), origin).Inc()
	metrics.TicketVolume.WithLabelValues(t.EventID, string(t.Type)).Add(float64(t.Quantity))

	verb := "Bought"
	if t.Type == model.SideSell {
		verb = "Sold"
	}
	r.notify(ctx, model.Notification{
		UserID:     t.UserID,
		Kind:       model.NotifyTrade,
		Title:      "Trade executed",
		Message:    fmt.Sprintf("%s %d × %s at %s (total %s)", verb, t.Quantity, r.eventName(ctx, t.EventID, t.EventName), r.format(t.Price), r.format(t.Notional())),
		ProposalID: t.ProposalID,
		Terms:      &model.Terms{EventID: t.EventID, Quantity: t.Quantity, Price: t.Price, Type: t.Type},
	})

	ev, err := events.NewTradeExecuted(t)
	if err == nil {
		r.publish(ctx, r.tradesTopic, t.UserID, ev)
	}
}

// RecordProposal announces a new proposal (or counter-proposal) to its
// counterparty.
func (r *Recorder) RecordProposal(ctx context.Context, p model.Proposal) {
	metrics.OpenProposals.Inc()

	title := "New proposal"
	if p.ParentID != "" {
		title = "Counter-proposal"
	}
	terms := p.Terms()
	r.notify(ctx, model.Notification{
		UserID:     p.CounterpartyID,
		Kind:       model.NotifyProposal,
		Title:      title,
		Message:    fmt.Sprintf("%s wants to %s %d × %s at %s each", p.ProposerID, sideVerb(p.Type), p.Quantity, r.eventName(ctx, p.EventID, ""), r.format(p.Price)),
		ProposalID: p.ID,
		Terms:      &terms,
	})

	ev, err := events.NewProposalCreated(p)
	if err == nil {
		r.publish(ctx, r.proposalsTopic, p.ID, ev)
	}
}

// RecordTransition announces a status change to the proposer. A COUNTERED
// transition is announced through the counter-proposal instead.
func (r *Recorder) RecordTransition(ctx context.Context, p model.Proposal, from, to model.ProposalStatus) {
	metrics.ProposalTransitions.WithLabelValues(string(to)).Inc()
	if from == model.ProposalSent && to.Terminal() {
		metrics.OpenProposals.Dec()
	}

	if to != model.ProposalCountered {
		terms := p.Terms()
		r.notify(ctx, model.Notification{
			UserID:     p.ProposerID,
			Kind:       model.NotifyProposalUpdate,
			Title:      "Proposal " + statusWord(to),
			Message:    r.transitionMessage(ctx, p, to),
			ProposalID: p.ID,
			Terms:      &terms,
		})
	}

	ev, err := events.NewProposalStatusChanged(p, from, to)
	if err == nil {
		r.publish(ctx, r.proposalsTopic, p.ID, ev)
	}
}

func (r *Recorder) transitionMessage(ctx context.Context, p model.Proposal, to model.ProposalStatus) string {
	offer := fmt.Sprintf("%s %d × %s at %s", sideVerb(p.Type), p.Quantity, r.eventName(ctx, p.EventID, ""), r.format(p.Price))
	if to == model.ProposalExpired {
		return fmt.Sprintf("Your offer to %s expired", offer)
	}
	return fmt.Sprintf("%s %s your offer to %s", p.CounterpartyID, statusWord(to), offer)
}

// Trades returns a user's trades, newest first.
func (r *Recorder) Trades(ctx context.Context, userID string) ([]model.Trade, error) {
	trades, err := r.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return trades, nil
}

// Proposals returns every proposal the user takes part in, newest first,
// resolved to the user's perspective.
func (r *Recorder) Proposals(ctx context.Context, userID string) ([]model.ProposalView, error) {
	proposals, err := r.store.ListProposals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	views := make([]model.ProposalView, 0, len(proposals))
	for i := range proposals {
		views = append(views, proposals[i].ViewFor(userID))
	}
	return views, nil
}

// Notifications returns a user's notifications, newest first.
func (r *Recorder) Notifications(ctx context.Context, userID string) ([]model.Notification, error) {
	list, err := r.store.ListNotifications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if list == nil {
		list = []model.Notification{}
	}
	return list, nil
}

// MarkRead flags one notification as read.
func (r *Recorder) MarkRead(ctx context.Context, userID, id string) error {
	err := r.store.MarkNotificationRead(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("notification %s: %w", id, model.ErrUnknownNotification)
	}
	return err
}

// MarkAllRead flags every notification of the user as read.
func (r *Recorder) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return r.store.MarkAllNotificationsRead(ctx, userID)
}

func (r *Recorder) notify(ctx context.Context, n model.Notification) {
	n.ID = uuid.NewString()
	n.Timestamp = r.now()

	if err := r.store.InsertNotification(ctx, &n); err != nil {
		r.logger.Error("store notification failed", "user_id", n.UserID, "kind", n.Kind, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind)).Inc()

	if r.notifier != nil {
		r.notifier.Notify(n.UserID, n)
	}
}

func (r *Recorder) publish(ctx context.Context, topic, key string, value any) {
	if _, _, err := r.publisher.PublishJSON(ctx, topic, key, value); err != nil {
		r.logger.Warn("publish event failed", "topic", topic, "key", key, "error", err)
	}
}

func (r *Recorder) eventName(ctx context.Context, eventID, known string) string {
	if known != "" {
		return known
	}
	if r.catalog != nil {
		if ev, err := r.catalog.Event(ctx, eventID); err == nil {
			return ev.Name
		}
	}
	return eventID
}

func sideVerb(s model.Side) string {
	if s == model.SideSell {
		return "sell"
	}
	return "buy"
}

func statusWord(s model.ProposalStatus) string {
	switch s {
	case model.ProposalAccepted:
		return "accepted"
	case model.ProposalRejected:
		return "rejected"
	case model.ProposalCountered:
		return "countered"
	case model.ProposalExpired:
		return "expired"
	}
	return "sent"
}
