package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/domain"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrAmountOverflow, http.StatusBadRequest, "amount_out_of_range"},
	{domain.ErrUnsupportedAsset, http.StatusBadRequest, "unsupported_asset"},
	{domain.ErrInvalidTradeID, http.StatusBadRequest, "invalid_trade_id"},
	{domain.ErrInvalidIdentity, http.StatusBadRequest, "invalid_identity"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrMatchingEngineNotSet, http.StatusConflict, "matching_engine_not_set"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{domain.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
}

// errBadRequest marks malformed requests that never reached the vault.
var errBadRequest = errors.New("bad request")

func badRequest(err error) error {
	return errors.Wrapf(errBadRequest, "%v", err)
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	if errors.Is(err, errBadRequest) {
		status, code = http.StatusBadRequest, "invalid_request"
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.target) {
			status, code = e.status, e.code
			break
		}
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Error: code, Message: msg})
}
