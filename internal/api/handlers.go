package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"predx/internal/auth"
	"predx/internal/engine"
	"predx/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// refreshCookie is the HttpOnly cookie that carries the refresh token,
// scoped to the refresh endpoint only.
const (
	refreshCookieName = "RefreshToken"
	refreshCookiePath = "/api/v1/auth/refresh"
)

// decode reads and validates a JSON request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

// engineError translates engine sentinel errors into HTTP responses.
// insufficientStatus picks the status for ErrInsufficientFunds: 402 on the
// order path, 400 on withdrawals.
func (s *Server) engineError(w http.ResponseWriter, err error, insufficientStatus int) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidOrder), errors.Is(err, engine.ErrInvalidAmount):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrInsufficientFunds):
		s.writeError(w, insufficientStatus, err.Error())
	case errors.Is(err, engine.ErrMarketNotTradable), errors.Is(err, engine.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ————————————————————————————————————————————————————————————————————————
// Auth
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := s.registry.Register(req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			s.writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.saveUser != nil {
		if err := s.saveUser(u); err != nil {
			s.logger.Error("failed to persist user", "user_id", u.ID, "error", err)
		}
	}

	s.writeJSON(w, http.StatusCreated, userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		IsAdmin:     u.IsAdmin,
		CreatedAt:   formatTime(u.CreatedAt),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := s.registry.Authenticate(req.Email, req.Password)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		s.logger.Error("failed to issue access token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	refresh, err := s.tokens.IssueRefresh(u.ID)
	if err != nil {
		s.logger.Error("failed to issue refresh token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setRefreshCookie(w, refresh)
	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		s.writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	uid, rotated, err := s.tokens.Rotate(cookie.Value)
	if err != nil {
		s.clearRefreshCookie(w)
		s.writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	u, err := s.registry.Get(uid)
	if err != nil {
		s.clearRefreshCookie(w)
		s.writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		s.logger.Error("failed to issue access token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setRefreshCookie(w, rotated)
	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.RevokeAll(userID(r)); err != nil {
		s.logger.Error("failed to revoke tokens", "user_id", userID(r), "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(s.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if !s.limiter.Allow(uid) {
		s.writeError(w, http.StatusTooManyRequests, "order rate limit exceeded")
		return
	}

	var req placeOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, err := s.engine.PlaceOrder(uid, req.MarketID, types.Side(req.Side), req.Price, req.Quantity)
	if err != nil {
		s.engineError(w, err, http.StatusPaymentRequired)
		return
	}
	s.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	if order.UserID != userID(r) && !isAdmin(r) {
		s.writeError(w, http.StatusForbidden, "not your order")
		return
	}

	cancelled, err := s.engine.CancelOrder(orderID)
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(cancelled))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["mid"]
	bids, asks, err := s.engine.BookSnapshot(marketID)
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}

	resp := bookResponse{MarketID: marketID, Bids: []orderResponse{}, Asks: []orderResponse{}}
	for _, o := range bids {
		resp.Bids = append(resp.Bids, toOrderResponse(o))
	}
	for _, o := range asks {
		resp.Asks = append(resp.Asks, toOrderResponse(o))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ————————————————————————————————————————————————————————————————————————
// Events and markets
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev := s.engine.CreateEvent(req.Title, req.Description)
	s.writeJSON(w, http.StatusCreated, toEventResponse(ev))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events := s.engine.ListEvents()
	resp := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toEventResponse(ev))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.engine.GetEvent(mux.Vars(r)["id"])
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, toEventResponse(ev))
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.engine.CreateMarket(req.EventID, req.OutcomeLabel)
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusCreated, toMarketResponse(m, decimal.Zero))
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.ListMarkets()
	resp := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		vol, _ := s.engine.Volume(m.ID)
		resp = append(resp, toMarketResponse(m, vol))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMarket(mux.Vars(r)["id"])
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	vol, _ := s.engine.Volume(m.ID)
	s.writeJSON(w, http.StatusOK, toMarketResponse(m, vol))
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.MatchMarket(mux.Vars(r)["id"])
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, matchResponse{MatchesExecuted: n})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.engine.Settle(mux.Vars(r)["id"], types.Outcome(req.WinningOutcome))
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	vol, _ := s.engine.Volume(m.ID)
	s.writeJSON(w, http.StatusOK, toMarketResponse(m, vol))
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.SuspendMarket(mux.Vars(r)["id"])
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	vol, _ := s.engine.Volume(m.ID)
	s.writeJSON(w, http.StatusOK, toMarketResponse(m, vol))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.ResumeMarket(mux.Vars(r)["id"])
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	vol, _ := s.engine.Volume(m.ID)
	s.writeJSON(w, http.StatusOK, toMarketResponse(m, vol))
}

// ————————————————————————————————————————————————————————————————————————
// Wallets and positions
// ————————————————————————————————————————————————————————————————————————

// authorizeSelf allows a user to act on their own resources; admins may act
// on anyone's.
func (s *Server) authorizeSelf(w http.ResponseWriter, r *http.Request, targetUserID string) bool {
	if targetUserID == userID(r) || isAdmin(r) {
		return true
	}
	s.writeError(w, http.StatusForbidden, "not your wallet")
	return false
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req walletAmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.authorizeSelf(w, r, req.UserID) {
		return
	}

	wallet, err := s.engine.Deposit(req.UserID, req.Amount)
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req walletAmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.authorizeSelf(w, r, req.UserID) {
		return
	}

	wallet, err := s.engine.Withdraw(req.UserID, req.Amount)
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if !s.authorizeSelf(w, r, uid) {
		return
	}

	wallet, err := s.engine.Balance(uid)
	if err != nil {
		s.engineError(w, err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if !s.authorizeSelf(w, r, uid) {
		return
	}

	txns := s.engine.Transactions(uid)
	resp := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		resp = append(resp, toTransactionResponse(txn))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if !s.authorizeSelf(w, r, uid) {
		return
	}

	positions := s.engine.PositionsByUser(uid)
	resp := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		resp = append(resp, toPositionResponse(p))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(s.hub, conn)
}
