// Package api exposes the exchange operations over REST and streams trades
// and settlement events over WebSocket.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/app/core/escrow"
	"github.com/azank1/zk2p/pkg/app/core/market"
	"github.com/azank1/zk2p/pkg/app/core/settlement"
	"github.com/azank1/zk2p/pkg/app/exchange"
	"github.com/azank1/zk2p/pkg/crypto"
	"github.com/azank1/zk2p/pkg/storage"
)

type Server struct {
	app      *exchange.App
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger
	decimals int32
}

func NewServer(app *exchange.App, log *zap.SugaredLogger, decimals int32) *Server {
	s := &Server{
		app:      app,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
		decimals: decimals,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Initialization
	api.HandleFunc("/market/init", s.handleInitMarket).Methods("POST")
	api.HandleFunc("/orderbook/init", s.handleInitOrderBook).Methods("POST")
	api.HandleFunc("/escrow/init", s.handleInitEscrow).Methods("POST")

	// Market data
	api.HandleFunc("/market", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/settlements/{id}", s.handleGetSettlement).Methods("GET")
	api.HandleFunc("/balances/{account}", s.handleGetBalance).Methods("GET")

	// Order submission
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Settlement
	api.HandleFunc("/settlements/mark", s.handleMarkPayment).Methods("POST")
	api.HandleFunc("/settlements/verify", s.handleVerifySettlement).Methods("POST")

	// Devnet faucet
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	// WebSocket + ops
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(
		s.app.Metrics().Registry, promhttp.HandlerOpts{}))
}

// Start runs the hub and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// BroadcastTrade pushes a trade to subscribed WebSocket clients.
func (s *Server) BroadcastTrade(t storage.Trade) {
	s.hub.BroadcastToChannel("trades", tradeInfo(t, s.decimals))
}

// BroadcastSettlement pushes a settlement event to subscribed clients.
func (s *Server) BroadcastSettlement(ev exchange.SettlementEvent) {
	s.hub.BroadcastToChannel("settlements", ev)
}

// ==============================
// Handlers
// ==============================

func (s *Server) handleInitMarket(w http.ResponseWriter, r *http.Request) {
	var req InitMarketRequest
	if !s.decode(w, r, &req) {
		return
	}
	authority, err := crypto.IdentityFromHex(req.Authority)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	mint, err := crypto.IdentityFromHex(req.TokenMint)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if err := s.app.InitializeMarket(authority, mint); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInitOrderBook(w http.ResponseWriter, r *http.Request) {
	s.handleInitWith(w, r, s.app.InitializeOrderBook)
}

func (s *Server) handleInitEscrow(w http.ResponseWriter, r *http.Request) {
	s.handleInitWith(w, r, s.app.InitializeEscrow)
}

func (s *Server) handleInitWith(w http.ResponseWriter, r *http.Request, init func(crypto.Identity) error) {
	var req InitRequest
	if !s.decode(w, r, &req) {
		return
	}
	mint, err := crypto.IdentityFromHex(req.TokenMint)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if err := init(mint); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := crypto.IdentityFromHex(req.Owner)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	side, err := book.ParseSide(req.Side)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	orderType, err := book.ParseOrderType(req.Type)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	digest := PlaceDigest(owner, side.String(), orderType.String(),
		req.Price, req.Quantity, req.ClientOrderID, req.PaymentMethod)
	if !s.authorize(w, owner, digest, req.Signature) {
		return
	}

	id, res, err := s.app.PlaceOrder(exchange.PlaceParams{
		Owner:         owner,
		Side:          side,
		Type:          orderType,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	fills := make([]TradeInfo, len(res.Fills))
	for i, f := range res.Fills {
		fills[i] = TradeInfo{
			MakerID:    f.MakerID.String(),
			TakerID:    f.TakerID.String(),
			Buyer:      f.Buyer().Hex(),
			TakerSide:  f.TakerSide.String(),
			Price:      f.Price,
			Qty:        f.Qty,
			QtyDecimal: baseDecimal(f.Qty, s.decimals),
			Timestamp:  f.Timestamp,
		}
	}
	s.writeJSON(w, http.StatusOK, PlaceOrderResponse{
		OrderID:     id.String(),
		FilledQty:   res.FilledQty,
		Rested:      res.Rested,
		RestedQty:   res.RestedQty,
		Discarded:   res.DiscardedQty,
		Fills:       fills,
		SelfCancels: len(res.SelfCancels),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := crypto.IdentityFromHex(req.Owner)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	id, err := book.ParseOrderID(req.OrderID)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if !s.authorize(w, owner, CancelDigest(owner, id.String()), req.Signature) {
		return
	}
	refunded, err := s.app.CancelOrder(id, owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CancelOrderResponse{OrderID: id.String(), Refunded: refunded})
}

func (s *Server) handleMarkPayment(w http.ResponseWriter, r *http.Request) {
	var req MarkPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	buyer, err := crypto.IdentityFromHex(req.Buyer)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	id, err := book.ParseOrderID(req.OrderID)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if !s.authorize(w, buyer, MarkPaymentDigest(buyer, id.String()), req.Signature) {
		return
	}
	if err := s.app.MarkPaymentMade(id, buyer); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVerifySettlement(w http.ResponseWriter, r *http.Request) {
	var req VerifySettlementRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := book.ParseOrderID(req.OrderID)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	proof, err := hex.DecodeString(strings.TrimPrefix(req.Proof, "0x"))
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	released, err := s.app.VerifySettlement(id, proof)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, VerifyResponse{OrderID: id.String(), Released: released})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if !s.decode(w, r, &req) {
		return
	}
	authority, err := crypto.IdentityFromHex(req.Authority)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	to, err := crypto.IdentityFromHex(req.To)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if err := s.app.Faucet(authority, to, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.app.Market()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorBody("NotInitialized", "market not initialized"))
		return
	}
	s.writeJSON(w, http.StatusOK, MarketInfo{
		Address:   m.Address.Hex(),
		Authority: m.Authority.Hex(),
		TokenMint: m.TokenMint.Hex(),
		Sequence:  m.NextOrderSequence,
		Status:    m.Status.String(),
	})
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	info := OrderBookInfo{
		Bids:   levelInfos(s.app.Depth(book.Bid), s.decimals),
		Asks:   levelInfos(s.app.Depth(book.Ask), s.decimals),
		Orders: s.app.TotalOrders(),
	}
	if bb, ok := s.app.BestBid(); ok {
		info.BestBid = bb
	}
	if ba, ok := s.app.BestAsk(); ok {
		info.BestAsk = ba
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	trades, err := s.app.RecentTrades(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t, s.decimals)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := book.ParseOrderID(mux.Vars(r)["id"])
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	o, ok := s.app.Order(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorBody("UnknownOrder", "order not resting"))
		return
	}
	s.writeJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := book.ParseOrderID(mux.Vars(r)["id"])
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	rec, ok := s.app.Settlement(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorBody("UnknownOrder", "no settlement record"))
		return
	}
	s.writeJSON(w, http.StatusOK, settlementInfo(rec))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.IdentityFromHex(mux.Vars(r)["account"])
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amount := s.app.BalanceOf(account)
	s.writeJSON(w, http.StatusOK, BalanceInfo{
		Account:       account.Hex(),
		Amount:        amount,
		AmountDecimal: baseDecimal(amount, s.decimals),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// ==============================
// Helpers
// ==============================

// authorize recovers the signing wallet and requires it to back the claimed
// identity.
func (s *Server) authorize(w http.ResponseWriter, claimed crypto.Identity, digest []byte, signature string) bool {
	sig, err := crypto.DecodeSignature(signature)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("InvalidSignature", err.Error()))
		return false
	}
	addr, err := crypto.RecoverAddress(digest, sig)
	if err != nil || crypto.IdentityFromAddress(addr) != claimed {
		s.writeJSON(w, http.StatusForbidden, errorBody("Unauthorized", "signature does not match owner"))
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeBadRequest(w, err)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("write_response_failed", "err", err)
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, errorBody("BadRequest", err.Error()))
}

func errorBody(code, msg string) map[string]string {
	return map[string]string{"error": code, "message": msg}
}

// writeError maps core sentinel errors onto stable API codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "Internal"
	switch {
	case errors.Is(err, book.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "InvalidAmount"
	case errors.Is(err, book.ErrInvalidPrice):
		status, code = http.StatusBadRequest, "InvalidPrice"
	case errors.Is(err, market.ErrPaymentMethodTooLong):
		status, code = http.StatusBadRequest, "PaymentMethodTooLong"
	case errors.Is(err, book.ErrOrderBookFull):
		status, code = http.StatusConflict, "OrderBookFull"
	case errors.Is(err, book.ErrTreeFull):
		status, code = http.StatusConflict, "TreeFull"
	case errors.Is(err, book.ErrPostOnlyWouldMatch):
		status, code = http.StatusConflict, "PostOnlyWouldMatch"
	case errors.Is(err, book.ErrFillOrKillNotFilled):
		status, code = http.StatusConflict, "FillOrKillNotFilled"
	case errors.Is(err, book.ErrUnknownOrder), errors.Is(err, settlement.ErrUnknown):
		status, code = http.StatusNotFound, "UnknownOrder"
	case errors.Is(err, book.ErrUnauthorized), errors.Is(err, settlement.ErrNotBuyer):
		status, code = http.StatusForbidden, "Unauthorized"
	case errors.Is(err, settlement.ErrIllegalTransition):
		status, code = http.StatusConflict, "IllegalStateTransition"
	case errors.Is(err, settlement.ErrDelayNotExpired):
		status, code = http.StatusConflict, "SettlementDelayNotExpired"
	case errors.Is(err, settlement.ErrInvalidProof):
		status, code = http.StatusBadRequest, "InvalidProof"
	case errors.Is(err, exchange.ErrAlreadyInitialized):
		status, code = http.StatusConflict, "AlreadyInitialized"
	case errors.Is(err, exchange.ErrNotInitialized):
		status, code = http.StatusConflict, "NotInitialized"
	case errors.Is(err, market.ErrMintMismatch):
		status, code = http.StatusBadRequest, "MintMismatch"
	case errors.Is(err, market.ErrPaused):
		status, code = http.StatusConflict, "MarketPaused"
	case errors.Is(err, escrow.ErrInsufficient):
		status, code = http.StatusBadRequest, "InsufficientBalance"
	case errors.Is(err, escrow.ErrVaultInsufficient):
		status, code = http.StatusInternalServerError, "EscrowInsufficient"
	}
	s.writeJSON(w, status, errorBody(code, err.Error()))
}
