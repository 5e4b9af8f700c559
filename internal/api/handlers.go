package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/history"
)

type assetsResponse struct {
	AssetA         domain.Asset    `json:"asset_a"`
	AssetB         domain.Asset    `json:"asset_b"`
	Admin          domain.Identity `json:"admin"`
	MatchingEngine domain.Identity `json:"matching_engine,omitempty"`
}

type matchingEngineRequest struct {
	MatchingEngine string `json:"matching_engine" binding:"required"`
}

// transferRequest is the body of deposits and withdrawals. User defaults to the caller.
type transferRequest struct {
	User   string          `json:"user"`
	Asset  string          `json:"asset" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	User    domain.Identity `json:"user"`
	Asset   domain.Asset    `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// settlementRequest accepts the trade id in any form ParseTradeID understands.
type settlementRequest struct {
	TradeID     string          `json:"trade_id" binding:"required"`
	Buyer       string          `json:"buy_user" binding:"required"`
	Seller      string          `json:"sell_user" binding:"required"`
	BaseAsset   string          `json:"base_asset" binding:"required"`
	QuoteAsset  string          `json:"quote_asset" binding:"required"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	FeeBase     decimal.Decimal `json:"fee_base"`
	FeeQuote    decimal.Decimal `json:"fee_quote"`
	Timestamp   uint64          `json:"timestamp"`
}

type settlementResponse struct {
	TradeID domain.TradeID          `json:"trade_id"`
	Result  domain.SettlementResult `json:"result"`
}

type historyResponse struct {
	User   domain.Identity           `json:"user"`
	Trades []domain.SettlementRecord `json:"trades"`
}

type transferFunc func(ctx context.Context, caller, user domain.Identity, asset domain.Asset, amount decimal.Decimal) error

func (s *Server) handleAssets(c *gin.Context) {
	c.JSON(http.StatusOK, assetsResponse{
		AssetA:         s.vault.AssetA(),
		AssetB:         s.vault.AssetB(),
		Admin:          s.vault.Admin(),
		MatchingEngine: s.vault.MatchingEngine(),
	})
}

func (s *Server) handleSetMatchingEngine(c *gin.Context) {
	var req matchingEngineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}

	engine := domain.NewIdentity(req.MatchingEngine)
	if err := s.vault.SetMatchingEngine(c.Request.Context(), callerOf(c), engine); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matching_engine": engine})
}

func (s *Server) handleDeposit(c *gin.Context) {
	s.handleTransfer(c, s.vault.Deposit)
}

func (s *Server) handleWithdraw(c *gin.Context) {
	s.handleTransfer(c, s.vault.Withdraw)
}

func (s *Server) handleTransfer(c *gin.Context, fn transferFunc) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}

	caller := callerOf(c)
	user := caller
	if req.User != "" {
		user = domain.NewIdentity(req.User)
	}
	asset := domain.Asset(req.Asset)

	if err := fn(c.Request.Context(), caller, user, asset, req.Amount); err != nil {
		writeError(c, err)
		return
	}

	balance, err := s.vault.GetBalance(user, asset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{User: user, Asset: asset, Balance: balance})
}

func (s *Server) handleBalance(c *gin.Context) {
	user := domain.NewIdentity(c.Param("user"))
	asset := domain.Asset(c.Param("asset"))

	balance, err := s.vault.GetBalance(user, asset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{User: user, Asset: asset, Balance: balance})
}

func (s *Server) handleSettle(c *gin.Context) {
	var req settlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}

	id, err := domain.ParseTradeID(req.TradeID)
	if err != nil {
		writeError(c, err)
		return
	}

	in := domain.SettlementInstruction{
		TradeID:     id,
		Buyer:       domain.NewIdentity(req.Buyer),
		Seller:      domain.NewIdentity(req.Seller),
		BaseAsset:   domain.Asset(req.BaseAsset),
		QuoteAsset:  domain.Asset(req.QuoteAsset),
		BaseAmount:  req.BaseAmount,
		QuoteAmount: req.QuoteAmount,
		FeeBase:     req.FeeBase,
		FeeQuote:    req.FeeQuote,
		Timestamp:   req.Timestamp,
	}

	res, err := s.vault.SettleTrade(c.Request.Context(), callerOf(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settlementResponse{TradeID: id, Result: res})
}

func (s *Server) handleGetSettlement(c *gin.Context) {
	id, err := domain.ParseTradeID(c.Param("trade_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	rec, ok, err := s.vault.GetSettlement(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no settlement for " + id.String()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	limit := history.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > history.MaxLimit {
			writeError(c, badRequest(errors.Errorf("limit must be between 1 and %d", history.MaxLimit)))
			return
		}
		limit = n
	}

	user := domain.NewIdentity(c.Param("user"))
	trades, err := s.vault.GetTradeHistory(user, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponse{User: user, Trades: trades})
}
