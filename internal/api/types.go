// types.go defines the JSON wire types of the HTTP API and the rendering
// rules shared by all handlers: timestamps as dd-MM-yyyy HH:mm:ss in UTC,
// money as decimal strings with up to four fractional digits, and null for
// prices that have no value yet.
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// timeLayout renders timestamps as dd-MM-yyyy HH:mm:ss in UTC.
const timeLayout = "02-01-2006 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// decOrNull renders a decimal, mapping the zero value to JSON null. Used
// for prices that are unset until a first trade or fill.
func decOrNull(d decimal.Decimal, present bool) *string {
	if !present {
		return nil
	}
	s := d.String()
	return &s
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// ————————————————————————————————————————————————————————————————————————
// Requests
// ————————————————————————————————————————————————————————————————————————

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"displayName" validate:"max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type createEventRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type createMarketRequest struct {
	EventID      string `json:"eventId" validate:"required,uuid4"`
	OutcomeLabel string `json:"outcomeLabel" validate:"required,max=200"`
}

type placeOrderRequest struct {
	MarketID string          `json:"marketId" validate:"required,uuid4"`
	Side     string          `json:"side" validate:"required,oneof=BUY SELL"`
	Price    decimal.Decimal `json:"price" validate:"required"`
	Quantity int64           `json:"quantity" validate:"required,min=1"`
}

type settleRequest struct {
	WinningOutcome string `json:"winningOutcome" validate:"required,oneof=YES NO"`
}

type walletAmountRequest struct {
	UserID string          `json:"userId" validate:"required,uuid4"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// ————————————————————————————————————————————————————————————————————————
// Responses
// ————————————————————————————————————————————————————————————————————————

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
	CreatedAt   string `json:"createdAt"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type eventResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type marketResponse struct {
	ID           string  `json:"id"`
	EventID      string  `json:"eventId"`
	OutcomeLabel string  `json:"outcomeLabel"`
	State        string  `json:"state"`
	LastPrice    *string `json:"lastPrice"`
	Volume       string  `json:"volume"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	MarketID       string  `json:"marketId"`
	Side           string  `json:"side"`
	Price          string  `json:"price"`
	Quantity       int64   `json:"quantity"`
	FilledQuantity int64   `json:"filledQuantity"`
	State          string  `json:"state"`
	ExecutionPrice *string `json:"executionPrice"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

type bookResponse struct {
	MarketID string          `json:"marketId"`
	Bids     []orderResponse `json:"bids"`
	Asks     []orderResponse `json:"asks"`
}

type walletResponse struct {
	UserID    string `json:"userId"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
	UpdatedAt string `json:"updatedAt"`
}

type positionResponse struct {
	UserID     string  `json:"userId"`
	MarketID   string  `json:"marketId"`
	YesShares  int64   `json:"yesShares"`
	NoShares   int64   `json:"noShares"`
	AvgYesCost *string `json:"avgYesCost"`
	AvgNoCost  *string `json:"avgNoCost"`
	UpdatedAt  string  `json:"updatedAt"`
}

type transactionResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	OrderID     string `json:"orderId,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type matchResponse struct {
	MatchesExecuted int `json:"matchesExecuted"`
}

// ————————————————————————————————————————————————————————————————————————
// Converters
// ————————————————————————————————————————————————————————————————————————

func toEventResponse(ev types.Event) eventResponse {
	return eventResponse{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		State:       string(ev.State),
		CreatedAt:   formatTime(ev.CreatedAt),
		UpdatedAt:   formatTime(ev.UpdatedAt),
	}
}

func toMarketResponse(m types.Market, volume decimal.Decimal) marketResponse {
	return marketResponse{
		ID:           m.ID,
		EventID:      m.EventID,
		OutcomeLabel: m.OutcomeLabel,
		State:        string(m.State),
		LastPrice:    decOrNull(m.LastPrice, m.HasTraded()),
		Volume:       volume.String(),
		CreatedAt:    formatTime(m.CreatedAt),
		UpdatedAt:    formatTime(m.UpdatedAt),
	}
}

func toOrderResponse(o types.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		MarketID:       o.MarketID,
		Side:           string(o.Side),
		Price:          o.Price.String(),
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		State:          string(o.State),
		ExecutionPrice: decOrNull(o.ExecutionPrice, o.HasExecution()),
		CreatedAt:      formatTime(o.CreatedAt),
		UpdatedAt:      formatTime(o.UpdatedAt),
	}
}

func toWalletResponse(w types.Wallet) walletResponse {
	return walletResponse{
		UserID:    w.UserID,
		Available: w.Available.String(),
		Locked:    w.Locked.String(),
		Total:     w.Total().String(),
		UpdatedAt: formatTime(w.UpdatedAt),
	}
}

func toPositionResponse(p types.Position) positionResponse {
	return positionResponse{
		UserID:     p.UserID,
		MarketID:   p.MarketID,
		YesShares:  p.YesShares,
		NoShares:   p.NoShares,
		AvgYesCost: decOrNull(p.AvgYesCost, p.YesShares > 0),
		AvgNoCost:  decOrNull(p.AvgNoCost, p.NoShares > 0),
		UpdatedAt:  formatTime(p.UpdatedAt),
	}
}

func toTransactionResponse(t types.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		Type:        string(t.Type),
		Amount:      t.Amount.String(),
		OrderID:     t.OrderID,
		Description: t.Description,
		CreatedAt:   formatTime(t.CreatedAt),
	}
}
