// Package client is the Go SDK for the exchange HTTP API.
//
// It wraps a resty HTTP client with retry and bearer-token handling, and
// exposes one method per API operation. All monetary values travel as
// decimal strings; the SDK parses them back into decimal.Decimal.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Client talks to one exchange server on behalf of one user session.
type Client struct {
	http  *resty.Client
	token string
}

// New creates a client for the exchange at baseURL (e.g.
// "http://localhost:8080/api/v1").
func New(baseURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient}
}

// APIError is a non-2xx response from the exchange.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: status %d: %s", e.Status, e.Message)
}

// User mirrors the API's user representation.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IsAdmin     bool   `json:"isAdmin"`
}

// Order mirrors the API's order representation.
type Order struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	MarketID       string  `json:"marketId"`
	Side           string  `json:"side"`
	Price          string  `json:"price"`
	Quantity       int64   `json:"quantity"`
	FilledQuantity int64   `json:"filledQuantity"`
	State          string  `json:"state"`
	ExecutionPrice *string `json:"executionPrice"`
}

// Book is a snapshot of a market's live orders.
type Book struct {
	MarketID string  `json:"marketId"`
	Bids     []Order `json:"bids"`
	Asks     []Order `json:"asks"`
}

// Event mirrors the API's event representation.
type Event struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
}

// Market mirrors the API's market representation.
type Market struct {
	ID           string  `json:"id"`
	EventID      string  `json:"eventId"`
	OutcomeLabel string  `json:"outcomeLabel"`
	State        string  `json:"state"`
	LastPrice    *string `json:"lastPrice"`
	Volume       string  `json:"volume"`
}

// Wallet mirrors the API's wallet representation.
type Wallet struct {
	UserID    string `json:"userId"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
}

type errorBody struct {
	Error string `json:"error"`
}

type tokenBody struct {
	AccessToken string `json:"accessToken"`
}

// do runs a prepared request and maps non-2xx responses to *APIError.
func (c *Client) do(req *resty.Request, method, path string, wantStatus int) error {
	var apiErr errorBody
	req.SetError(&apiErr)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() != wantStatus {
		return &APIError{Status: resp.StatusCode(), Message: apiErr.Error}
	}
	return nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (User, error) {
	var u User
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password, "displayName": displayName}).
		SetResult(&u)
	if err := c.do(req, http.MethodPost, "/auth/register", http.StatusCreated); err != nil {
		return User{}, err
	}
	return u, nil
}

// Login authenticates and stores the access token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var tok tokenBody
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&tok)
	if err := c.do(req, http.MethodPost, "/auth/login", http.StatusOK); err != nil {
		return err
	}
	c.token = tok.AccessToken
	return nil
}

// CreateEvent registers a new event (admin).
func (c *Client) CreateEvent(ctx context.Context, title, description string) (Event, error) {
	var ev Event
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"title": title, "description": description}).
		SetResult(&ev)
	if err := c.do(req, http.MethodPost, "/events", http.StatusCreated); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// CreateMarket opens a new market under an event (admin).
func (c *Client) CreateMarket(ctx context.Context, eventID, outcomeLabel string) (Market, error) {
	var m Market
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"eventId": eventID, "outcomeLabel": outcomeLabel}).
		SetResult(&m)
	if err := c.do(req, http.MethodPost, "/markets", http.StatusCreated); err != nil {
		return Market{}, err
	}
	return m, nil
}

// Markets lists all markets.
func (c *Client) Markets(ctx context.Context) ([]Market, error) {
	var out []Market
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if err := c.do(req, http.MethodGet, "/markets", http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

// Deposit funds a wallet.
func (c *Client) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (Wallet, error) {
	var w Wallet
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"userId": userID, "amount": amount.String()}).
		SetResult(&w)
	if err := c.do(req, http.MethodPost, "/wallets/deposit", http.StatusOK); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// Withdraw removes available funds from a wallet.
func (c *Client) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (Wallet, error) {
	var w Wallet
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"userId": userID, "amount": amount.String()}).
		SetResult(&w)
	if err := c.do(req, http.MethodPost, "/wallets/withdraw", http.StatusOK); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// Balance reads a wallet.
func (c *Client) Balance(ctx context.Context, userID string) (Wallet, error) {
	var w Wallet
	req := c.http.R().SetContext(ctx).SetResult(&w)
	if err := c.do(req, http.MethodGet, "/wallets/user/"+userID+"/balance", http.StatusOK); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// PlaceOrder submits a limit order.
func (c *Client) PlaceOrder(ctx context.Context, marketID, side string, price decimal.Decimal, quantity int64) (Order, error) {
	var o Order
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"marketId": marketID,
			"side":     side,
			"price":    price.String(),
			"quantity": quantity,
		}).
		SetResult(&o)
	if err := c.do(req, http.MethodPost, "/orders", http.StatusCreated); err != nil {
		return Order{}, err
	}
	return o, nil
}

// CancelOrder cancels a live order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	req := c.http.R().SetContext(ctx).SetResult(&o)
	if err := c.do(req, http.MethodPost, "/orders/"+orderID+"/cancel", http.StatusOK); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetOrder reads one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	req := c.http.R().SetContext(ctx).SetResult(&o)
	if err := c.do(req, http.MethodGet, "/orders/"+orderID, http.StatusOK); err != nil {
		return Order{}, err
	}
	return o, nil
}

// BookSnapshot reads a market's order book.
func (c *Client) BookSnapshot(ctx context.Context, marketID string) (Book, error) {
	var b Book
	req := c.http.R().SetContext(ctx).SetResult(&b)
	if err := c.do(req, http.MethodGet, "/orders/market/"+marketID+"/book", http.StatusOK); err != nil {
		return Book{}, err
	}
	return b, nil
}

// Settle resolves a market to an outcome (admin).
func (c *Client) Settle(ctx context.Context, marketID, winningOutcome string) (Market, error) {
	var m Market
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"winningOutcome": winningOutcome}).
		SetResult(&m)
	if err := c.do(req, http.MethodPost, "/markets/"+marketID+"/settle", http.StatusOK); err != nil {
		return Market{}, err
	}
	return m, nil
}
