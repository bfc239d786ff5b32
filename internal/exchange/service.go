// Package exchange provides the HTTP handlers for accounts, orders,
// portfolios, proposals and notifications, plus the WebSocket hub that
// pushes notifications to connected users.
//
// The caller's identity comes from the X-User-ID header and is trusted.
// All monetary values use shopspring/decimal, never float64 for money.
package exchange

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ticketx/ledger-engine/internal/catalog"
	"github.com/ticketx/ledger-engine/internal/history"
	"github.com/ticketx/ledger-engine/internal/ledger"
	"github.com/ticketx/ledger-engine/internal/model"
	"github.com/ticketx/ledger-engine/internal/negotiation"
)

// UserHeader carries the acting user's id.
const UserHeader = "X-User-ID"

// Config wires the Service's collaborators.
type Config struct {
	Ledger  *ledger.Ledger
	Engine  *negotiation.Engine
	History *history.Recorder
	Catalog catalog.Catalog
	Hub     *WSHub // optional; enables GET /ws
	Logger  *slog.Logger

	// DefaultBalance opens accounts created without an explicit balance.
	DefaultBalance decimal.Decimal
}

// Service handles the ledger engine's HTTP API.
type Service struct {
	ledger         *ledger.Ledger
	engine         *negotiation.Engine
	history        *history.Recorder
	catalog        catalog.Catalog
	hub            *WSHub
	logger         *slog.Logger
	defaultBalance decimal.Decimal
}

// NewService creates a new exchange service.
func NewService(cfg Config) *Service {
	s := &Service{
		ledger:         cfg.Ledger,
		engine:         cfg.Engine,
		history:        cfg.History,
		catalog:        cfg.Catalog,
		hub:            cfg.Hub,
		logger:         cfg.Logger,
		defaultBalance: cfg.DefaultBalance,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Routes registers the API on r. Callers mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/events", s.ListEvents)
	r.Get("/events/{eventID}", s.GetEvent)
	r.Post("/accounts", s.OpenAccount)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/account", s.GetAccount)
		r.Post("/account/deposit", s.Deposit)
		r.Post("/account/withdraw", s.Withdraw)

		r.Post("/orders", s.PlaceOrder)
		r.Get("/portfolio", s.GetPortfolio)
		r.Put("/portfolio/lots/{lotID}/status", s.SetLotStatus)
		r.Get("/trades", s.ListTrades)
		r.Get("/pnl", s.GetPnL)

		r.Post("/proposals", s.CreateProposal)
		r.Get("/proposals", s.ListProposals)
		r.Get("/proposals/{proposalID}", s.GetProposal)
		r.Post("/proposals/{proposalID}/accept", s.AcceptProposal)
		r.Post("/proposals/{proposalID}/reject", s.RejectProposal)
		r.Post("/proposals/{proposalID}/counter", s.CounterProposal)

		r.Get("/notifications", s.ListNotifications)
		r.Post("/notifications/read-all", s.MarkAllNotificationsRead)
		r.Post("/notifications/{notificationID}/read", s.MarkNotificationRead)
	})
}

// --- Request/Response types ---

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	UserID  string           `json:"user_id"`
	Balance *decimal.Decimal `json:"balance,omitempty"` // nil → configured default
}

// AmountRequest is the JSON body for deposits and withdrawals.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	EventID  string           `json:"event_id"`
	Side     string           `json:"side"` // "BUY" or "SELL"
	Quantity int64            `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"` // nil → event's last price
}

// LotStatusRequest is the JSON body for PUT /portfolio/lots/{lotID}/status.
type LotStatusRequest struct {
	Status string `json:"status"`
}

// ProposalRequest is the JSON body for POST /proposals. Type is the
// proposer's side.
type ProposalRequest struct {
	CounterpartyID string          `json:"counterparty_id"`
	EventID        string          `json:"event_id"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Type           string          `json:"type"`
}

// CounterRequest is the JSON body for POST /proposals/{proposalID}/counter.
type CounterRequest struct {
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// AcceptResponse is returned from POST /proposals/{proposalID}/accept.
type AcceptResponse struct {
	Proposal model.ProposalView `json:"proposal"`
	Trade    model.Trade        `json:"trade"`
}

// CounterResponse is returned from POST /proposals/{proposalID}/counter.
type CounterResponse struct {
	Original model.ProposalView `json:"original"`
	Counter  model.ProposalView `json:"counter"`
}

// PnLResponse is returned from GET /pnl.
type PnLResponse struct {
	UserID      string          `json:"user_id"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// --- Catalog ---

// ListEvents handles GET /api/v1/events
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.catalog.Events(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if evs == nil {
		evs = []model.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// GetEvent handles GET /api/v1/events/{eventID}
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.catalog.Event(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// --- Accounts ---

// OpenAccount handles POST /api/v1/accounts
func (s *Service) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeBadRequest(w, "user_id is required")
		return
	}
	balance := s.defaultBalance
	if req.Balance != nil {
		balance = *req.Balance
	}

	acct, err := s.ledger.Open(r.Context(), req.UserID, balance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /api/v1/account
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Deposit handles POST /api/v1/account/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.ledger.Deposit(r.Context(), userID(r), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Withdraw handles POST /api/v1/account/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.ledger.Withdraw(r.Context(), userID(r), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- Orders and portfolio ---

// PlaceOrder handles POST /api/v1/orders
// An order without a price executes at the event's last traded price.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decode(w, r, &req) {
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeBadRequest(w, "side must be BUY or SELL")
		return
	}

	ctx := r.Context()
	var price decimal.Decimal
	if req.Price != nil {
		price = *req.Price
	} else {
		ev, err := s.catalog.Event(ctx, req.EventID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		price = ev.OrderBook.LastPrice
	}

	trade, err := s.ledger.Execute(ctx, userID(r), side, ledger.Order{
		EventID:  req.EventID,
		Quantity: req.Quantity,
		Price:    price,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// GetPortfolio handles GET /api/v1/portfolio
// Optionally restricted to one event with ?event_id=<id>.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.ledger.Snapshot(r.Context(), userID(r), r.URL.Query().Get("event_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if pf.Positions == nil {
		pf.Positions = []model.EventPosition{}
	}
	writeJSON(w, http.StatusOK, pf)
}

// SetLotStatus handles PUT /api/v1/portfolio/lots/{lotID}/status
func (s *Service) SetLotStatus(w http.ResponseWriter, r *http.Request) {
	var req LotStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := model.ParseLotStatus(req.Status)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	lot, err := s.ledger.SetLotStatus(r.Context(), userID(r), chi.URLParam(r, "lotID"), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

// ListTrades handles GET /api/v1/trades
// Newest first.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.history.Trades(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetPnL handles GET /api/v1/pnl
func (s *Service) GetPnL(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	pnl, err := s.ledger.RealizedPnL(r.Context(), uid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PnLResponse{UserID: uid, RealizedPnL: pnl})
}

// --- Proposals ---

// CreateProposal handles POST /api/v1/proposals
func (s *Service) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req ProposalRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CounterpartyID == "" {
		writeBadRequest(w, "counterparty_id is required")
		return
	}
	side, err := model.ParseSide(req.Type)
	if err != nil {
		writeBadRequest(w, "type must be BUY or SELL")
		return
	}

	uid := userID(r)
	p, err := s.engine.Create(r.Context(), uid, negotiation.Offer{
		CounterpartyID: req.CounterpartyID,
		EventID:        req.EventID,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Type:           side,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p.ViewFor(uid))
}

// ListProposals handles GET /api/v1/proposals
// Both directions, newest first.
func (s *Service) ListProposals(w http.ResponseWriter, r *http.Request) {
	views, err := s.history.Proposals(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetProposal handles GET /api/v1/proposals/{proposalID}
func (s *Service) GetProposal(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Get(r.Context(), userID(r), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// AcceptProposal handles POST /api/v1/proposals/{proposalID}/accept
func (s *Service) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	p, trade, err := s.engine.Accept(r.Context(), uid, chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AcceptResponse{Proposal: p.ViewFor(uid), Trade: trade})
}

// RejectProposal handles POST /api/v1/proposals/{proposalID}/reject
func (s *Service) RejectProposal(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	p, err := s.engine.Reject(r.Context(), uid, chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.ViewFor(uid))
}

// CounterProposal handles POST /api/v1/proposals/{proposalID}/counter
func (s *Service) CounterProposal(w http.ResponseWriter, r *http.Request) {
	var req CounterRequest
	if !decode(w, r, &req) {
		return
	}
	uid := userID(r)
	original, counter, err := s.engine.Counter(r.Context(), uid, chi.URLParam(r, "proposalID"), req.Quantity, req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CounterResponse{
		Original: original.ViewFor(uid),
		Counter:  counter.ViewFor(uid),
	})
}

// --- Notifications ---

// ListNotifications handles GET /api/v1/notifications
func (s *Service) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.history.Notifications(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkNotificationRead handles POST /api/v1/notifications/{notificationID}/read
func (s *Service) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.history.MarkRead(r.Context(), userID(r), chi.URLParam(r, "notificationID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/v1/notifications/read-all
func (s *Service) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.history.MarkAllRead(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// --- Helpers ---

// requireUser rejects requests without an X-User-ID header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserHeader) == "" {
			writeBadRequest(w, UserHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid request body")
		return false
	}
	return true
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrSelfProposal),
		errors.Is(err, catalog.ErrInvalidEventID):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownEvent),
		errors.Is(err, model.ErrUnknownProposal),
		errors.Is(err, model.ErrUnknownAccount),
		errors.Is(err, model.ErrUnknownLot),
		errors.Is(err, model.ErrUnknownNotification):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotCounterparty):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientInventory),
		errors.Is(err, model.ErrInvalidStateTransition),
		errors.Is(err, model.ErrLimitExceeded),
		errors.Is(err, model.ErrAccountExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError writes a domain error as a JSON error response. Internal errors
// are logged and their detail is not exposed.
func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	writeErrorBody(w, status, message, model.Kind(err))
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeErrorBody(w, http.StatusBadRequest, message, "invalid_request")
}

func writeErrorBody(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
